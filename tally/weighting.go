// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package tally

import "fmt"

// Weighting decides how much mass a vote adds to each option
type Weighting string

const (
	// WeightQuality credits votes × overall quality score
	WeightQuality Weighting = "quality"
	// WeightLinear credits the raw vote count
	WeightLinear Weighting = "linear"
	// WeightUnit credits 1 to every option that received any votes
	WeightUnit Weighting = "unit"
)

func ParseWeighting(s string) (Weighting, error) {
	switch w := Weighting(s); w {
	case WeightQuality, WeightLinear, WeightUnit:
		return w, nil
	case "":
		return WeightQuality, nil
	}
	return "", fmt.Errorf("unknown tally weighting %q (want quality, linear or unit)", s)
}

// Increments maps per-option vote counts to tally mass. Options with no
// votes get no entry, and no entry is ever negative.
func (w Weighting) Increments(weights map[string]int, overall float64) map[string]float64 {
	if overall < 0 {
		overall = 0
	}
	out := make(map[string]float64, len(weights))
	for id, votes := range weights {
		if votes <= 0 {
			continue
		}
		switch w {
		case WeightLinear:
			out[id] = float64(votes)
		case WeightUnit:
			out[id] = 1
		default:
			out[id] = float64(votes) * overall
		}
	}
	return out
}
