// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "You summarize public deliberation. Group the statements into a short list of " +
	"recurring themes and note where participants disagree. Do not take sides and do not " +
	"recommend an outcome."

// OpenAIConfig configures the chat-completions backed synthesizer
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// OpenAISynthesizer summarizes statements with an OpenAI-compatible API
type OpenAISynthesizer struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAISynthesizer(cfg OpenAIConfig) (*OpenAISynthesizer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAISynthesizer{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}, nil
}

func (s *OpenAISynthesizer) Summarize(ctx context.Context, texts []string) (Summary, error) {
	if len(texts) == 0 {
		return Summary{}, ErrEmptyBatch
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(texts)},
		},
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Summary{}, errors.New("no response from OpenAI")
	}

	return Summary{
		Themes: strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:  resp.Model,
	}, nil
}

func buildPrompt(texts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Statements (%d):\n", len(texts))
	for i, t := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(t))
	}
	return b.String()
}
