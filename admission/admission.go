// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package admission

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/danielhkuo/agora/gate"
	"github.com/danielhkuo/agora/models"
	"github.com/danielhkuo/agora/observability"
	"github.com/danielhkuo/agora/quadratic"
	"github.com/danielhkuo/agora/quality"
	"github.com/danielhkuo/agora/tally"
)

// DefaultMaxReasoningBytes fits well inside a single WebSocket frame
const DefaultMaxReasoningBytes = 16 << 10

type Config struct {
	// Budget is the per-voter credit budget; <= 0 means quadratic.DefaultBudget
	Budget int

	// MinReasoningWords rejects shorter statements before scoring
	MinReasoningWords int

	// MaxReasoningBytes caps the trimmed statement; <= 0 means
	// DefaultMaxReasoningBytes
	MaxReasoningBytes int

	// RequireReasoning rejects votes without a statement
	RequireReasoning bool

	Clock func() time.Time
}

// Pipeline turns client submissions into committed votes. Prepare does all
// the per-request work; Commit hands the result to the topic's coordinator.
type Pipeline struct {
	gate       *gate.Gate
	scorer     quality.Scorer
	registry   *tally.Registry
	validators map[string]*quadratic.Validator
	cfg        Config
}

func New(g *gate.Gate, scorer quality.Scorer, registry *tally.Registry, cfg Config) *Pipeline {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxReasoningBytes <= 0 {
		cfg.MaxReasoningBytes = DefaultMaxReasoningBytes
	}
	validators := make(map[string]*quadratic.Validator)
	for _, t := range registry.Topics() {
		validators[t.ID] = quadratic.NewValidator(t.OptionIDs(), cfg.Budget)
	}
	return &Pipeline{
		gate:       g,
		scorer:     scorer,
		registry:   registry,
		validators: validators,
		cfg:        cfg,
	}
}

// Budget returns the credit budget shown to clients
func (p *Pipeline) Budget() int {
	if p.cfg.Budget <= 0 {
		return quadratic.DefaultBudget
	}
	return p.cfg.Budget
}

// RequestCredential issues a session for a topic
func (p *Pipeline) RequestCredential(ctx context.Context, topicID, ip string) (models.CredentialIssued, error) {
	if _, ok := p.registry.Get(topicID); !ok {
		return models.CredentialIssued{}, p.rejected(topicID, "credential", models.Reject(models.ReasonTopicNotFound, "topic %q", topicID))
	}

	session, err := p.gate.RequestCredential(ctx, topicID, ip)
	if err != nil {
		return models.CredentialIssued{}, p.rejected(topicID, "credential", err)
	}
	observability.CredentialsIssued.WithLabelValues(topicID).Inc()

	return models.CredentialIssued{
		Token:     session.Token,
		Challenge: session.CaptchaChallenge,
		ExpiresIn: int(p.gate.SessionTTL().Seconds()),
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Submit runs Prepare and Commit for one vote
func (p *Pipeline) Submit(ctx context.Context, topicID, ip string, req models.SubmitVoteRequest) (models.VoteCommitted, error) {
	ballot, err := p.Prepare(ctx, topicID, ip, req)
	if err != nil {
		return models.VoteCommitted{}, p.rejected(topicID, "vote", err)
	}
	receipt, err := p.Commit(ctx, ballot)
	if err != nil {
		return models.VoteCommitted{}, p.rejected(topicID, "vote", err)
	}
	return receipt, nil
}

// Prepare checks the credential, validates the allocation and scores the
// reasoning. Nothing is reserved, so a rejected allocation or statement
// leaves the credential usable.
func (p *Pipeline) Prepare(ctx context.Context, topicID, ip string, req models.SubmitVoteRequest) (models.Ballot, error) {
	validator, ok := p.validators[topicID]
	if !ok {
		return models.Ballot{}, models.Reject(models.ReasonTopicNotFound, "topic %q", topicID)
	}

	adm, err := p.gate.Admit(ctx, gate.Attempt{
		TopicID:       topicID,
		Token:         req.Token,
		IP:            ip,
		Fingerprint:   req.Fingerprint,
		Signals:       req.ExtendedSignals,
		CaptchaAnswer: req.CaptchaAnswer,
	})
	if err != nil {
		return models.Ballot{}, err
	}

	result, err := validator.Validate(req.Allocation)
	if err != nil {
		return models.Ballot{}, err
	}
	if result.Cost == 0 {
		return models.Ballot{}, models.Reject(models.ReasonInvalidPayload, "allocation casts no votes")
	}

	reasoning := strings.TrimSpace(req.Reasoning)
	if len(reasoning) > p.cfg.MaxReasoningBytes {
		return models.Ballot{}, models.Reject(models.ReasonInvalidPayload,
			"reasoning is %d bytes, limit is %d", len(reasoning), p.cfg.MaxReasoningBytes)
	}
	words := quality.WordCount(reasoning)
	switch {
	case words == 0 && p.cfg.RequireReasoning:
		return models.Ballot{}, models.Reject(models.ReasonInvalidPayload, "reasoning is required")
	case words > 0 && words < p.cfg.MinReasoningWords:
		return models.Ballot{}, models.Reject(models.ReasonInvalidPayload,
			"reasoning has %d words, need at least %d", words, p.cfg.MinReasoningWords)
	}

	return models.Ballot{
		Admission:  adm,
		Allocation: req.Allocation,
		Cost:       result.Cost,
		Weights:    result.Weights,
		Reasoning:  reasoning,
		Reasoned:   words > 0,
		Quality:    p.scorer.Score(reasoning),
		ReceivedAt: p.cfg.Clock(),
	}, nil
}

// Commit applies a prepared ballot through the topic's coordinator
func (p *Pipeline) Commit(ctx context.Context, b models.Ballot) (models.VoteCommitted, error) {
	coord, ok := p.registry.Get(b.Admission.TopicID)
	if !ok {
		return models.VoteCommitted{}, models.Reject(models.ReasonTopicNotFound, "topic %q", b.Admission.TopicID)
	}
	return coord.Commit(ctx, b)
}

func (p *Pipeline) rejected(topicID, what string, err error) error {
	reason := models.ReasonOf(err)
	observability.RejectionReason(topicID, string(reason))

	if reason == models.ReasonStorageUnavailable {
		slog.Error(what+" failed", "topic", topicID, "reason", reason, "error", err)
	} else {
		slog.Info(what+" rejected", "topic", topicID, "reason", reason, "error", err)
	}
	return err
}

