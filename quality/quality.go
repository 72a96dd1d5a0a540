// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package quality

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/danielhkuo/agora/models"
)

var ErrInvalidWeights = errors.New("quality weights must be non-negative and sum to 1")

// Scorer measures a reasoning statement. Implementations must be pure:
// the same text always yields the same score.
type Scorer interface {
	Score(text string) models.QualityScore
}

// Config is a versioned weighting configuration. Bump Version whenever a
// weight or lexicon changes so that stored scores remain comparable.
type Config struct {
	Version           string
	DepthWeight       float64
	PerspectiveWeight float64
	ReasoningWeight   float64

	// DepthSaturation is the word count at which depth reaches 1
	DepthSaturation int
	// MarkerScale converts markers-per-word into a [0,1] signal. With the
	// default of 50, one marker every 50 words saturates the axis.
	MarkerScale float64

	Contrastive []string
	Causal      []string
}

// DefaultContrastive are concessive/contrastive markers signalling that
// the author engaged with another perspective
var DefaultContrastive = []string{
	"however", "although", "on the other hand", "alternatively", "counter",
	"disagree", "whereas", "nevertheless", "conversely", "though", "but", "despite",
}

// DefaultCausal are connectives signalling an argued position
var DefaultCausal = []string{
	"because", "therefore", "since", "thus", "hence", "consequently", "as a result",
}

// DefaultConfig returns the v1 weighting: 40% depth, 30% perspective,
// 30% reasoning
func DefaultConfig() Config {
	return Config{
		Version:           "v1",
		DepthWeight:       0.4,
		PerspectiveWeight: 0.3,
		ReasoningWeight:   0.3,
		DepthSaturation:   200,
		MarkerScale:       50,
		Contrastive:       DefaultContrastive,
		Causal:            DefaultCausal,
	}
}

// Validate checks that the weights form a convex combination
func (c Config) Validate() error {
	if c.DepthWeight < 0 || c.PerspectiveWeight < 0 || c.ReasoningWeight < 0 {
		return ErrInvalidWeights
	}
	sum := c.DepthWeight + c.PerspectiveWeight + c.ReasoningWeight
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("%w: got %.4f", ErrInvalidWeights, sum)
	}
	if c.DepthSaturation <= 0 {
		return fmt.Errorf("depth saturation must be positive, got %d", c.DepthSaturation)
	}
	if c.MarkerScale <= 0 {
		return fmt.Errorf("marker scale must be positive, got %v", c.MarkerScale)
	}
	return nil
}

// HeuristicScorer scores text with word counts and marker lexicons
type HeuristicScorer struct {
	cfg         Config
	contrastive [][]string
	causal      [][]string
}

// NewHeuristicScorer creates a scorer from a validated config
func NewHeuristicScorer(cfg Config) (*HeuristicScorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &HeuristicScorer{
		cfg:         cfg,
		contrastive: compileLexicon(cfg.Contrastive),
		causal:      compileLexicon(cfg.Causal),
	}, nil
}

// Score never rejects; minimum length policy belongs to the caller
func (s *HeuristicScorer) Score(text string) models.QualityScore {
	words := Tokenize(text)
	wc := len(words)

	score := models.QualityScore{
		WordCount: wc,
		Version:   s.cfg.Version,
	}
	if wc == 0 {
		return score
	}

	score.Depth = math.Min(1, float64(wc)/float64(s.cfg.DepthSaturation))
	score.Perspective = s.density(countMarkers(words, s.contrastive), wc)
	score.Reasoning = s.density(countMarkers(words, s.causal), wc)
	score.Diversity = typeTokenRatio(words)

	score.Overall = clamp(s.cfg.DepthWeight*score.Depth +
		s.cfg.PerspectiveWeight*score.Perspective +
		s.cfg.ReasoningWeight*score.Reasoning)
	return score
}

func (s *HeuristicScorer) density(markers, wc int) float64 {
	return clamp(float64(markers) * s.cfg.MarkerScale / float64(wc))
}

// Tokenize lowercases text and splits it into words. Apostrophes stay
// inside words so "don't" counts once.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// WordCount is the word count used by the minimum length policy
func WordCount(text string) int {
	return len(Tokenize(text))
}

func compileLexicon(phrases []string) [][]string {
	out := make([][]string, 0, len(phrases))
	for _, p := range phrases {
		if toks := Tokenize(p); len(toks) > 0 {
			out = append(out, toks)
		}
	}
	return out
}

// countMarkers counts occurrences of any lexicon phrase as a whole word
// sequence
func countMarkers(words []string, lexicon [][]string) int {
	count := 0
	for i := range words {
		for _, phrase := range lexicon {
			if hasPhraseAt(words, i, phrase) {
				count++
				break
			}
		}
	}
	return count
}

func hasPhraseAt(words []string, i int, phrase []string) bool {
	if i+len(phrase) > len(words) {
		return false
	}
	for j, w := range phrase {
		if words[i+j] != w {
			return false
		}
	}
	return true
}

func typeTokenRatio(words []string) float64 {
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	return float64(len(seen)) / float64(len(words))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
