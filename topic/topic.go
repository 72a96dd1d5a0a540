// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package topic

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/danielhkuo/agora/models"
)

var (
	ErrNoTopics     = errors.New("no topics defined")
	ErrInvalidTopic = errors.New("invalid topic")
)

// ids appear in URL paths and storage keys
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

type file struct {
	Topics []models.Topic `yaml:"topics"`
}

// LoadFile reads topics from a YAML file:
//
//	topics:
//	  - id: transit
//	    title: Transit budget
//	    question: Where should the extra funding go?
//	    options:
//	      - {id: buses, label: Buses}
//	      - {id: rail, label: Light rail}
func LoadFile(path string) ([]models.Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topics file: %w", err)
	}
	topics, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return topics, nil
}

// Parse decodes and validates a topics document. Unknown fields are errors.
func Parse(data []byte) ([]models.Topic, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse topics: %w", err)
	}
	if len(f.Topics) == 0 {
		return nil, ErrNoTopics
	}

	seen := make(map[string]bool, len(f.Topics))
	for i := range f.Topics {
		t := &f.Topics[i]
		if err := normalize(t); err != nil {
			return nil, err
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: duplicate topic id %q", ErrInvalidTopic, t.ID)
		}
		seen[t.ID] = true
	}
	return f.Topics, nil
}

func normalize(t *models.Topic) error {
	if !idPattern.MatchString(t.ID) {
		return fmt.Errorf("%w: bad topic id %q", ErrInvalidTopic, t.ID)
	}
	if t.Title == "" {
		t.Title = t.ID
	}
	if len(t.Options) < 2 {
		return fmt.Errorf("%w: topic %q needs at least 2 options", ErrInvalidTopic, t.ID)
	}

	seen := make(map[string]bool, len(t.Options))
	for i := range t.Options {
		opt := &t.Options[i]
		if !idPattern.MatchString(opt.ID) {
			return fmt.Errorf("%w: topic %q has bad option id %q", ErrInvalidTopic, t.ID, opt.ID)
		}
		if seen[opt.ID] {
			return fmt.Errorf("%w: topic %q repeats option %q", ErrInvalidTopic, t.ID, opt.ID)
		}
		seen[opt.ID] = true
		if opt.Label == "" {
			opt.Label = opt.ID
		}
	}
	return nil
}
