// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package metrics

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/danielhkuo/agora/models"
)

// Gini returns the discrete Gini coefficient of the masses. Zero means the
// mass is spread evenly; the maximum for n buckets is (n-1)/n.
func Gini(masses []float64) float64 {
	n := len(masses)
	if n < 2 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, masses)
	for i, v := range sorted {
		if v < 0 {
			sorted[i] = 0
		}
	}
	sort.Float64s(sorted)

	total := floats.Sum(sorted)
	if total == 0 {
		return 0
	}

	ranks := make([]float64, n)
	for i := range ranks {
		ranks[i] = float64(i + 1)
	}
	nf := float64(n)
	g := 2*floats.Dot(ranks, sorted)/(nf*total) - (nf+1)/nf
	if g < 0 {
		// float noise on perfectly uniform input
		return 0
	}
	return g
}

// Polarization rescales Gini to [0,1] so that all mass on one option reads
// as 1 regardless of how many options the topic has
func Polarization(masses []float64) float64 {
	n := len(masses)
	if n < 2 {
		return 0
	}
	p := Gini(masses) * float64(n) / float64(n-1)
	if p > 1 {
		return 1
	}
	return p
}

// Masses flattens a tally in option order. Options with no mass count as
// zero so that unvoted options still pull the index towards polarization.
func Masses(optionIDs []string, tally map[string]float64) []float64 {
	out := make([]float64, len(optionIDs))
	for i, id := range optionIDs {
		out[i] = tally[id]
	}
	return out
}

// Aggregator accumulates participation counters. It is not safe for
// concurrent use; the tally coordinator owns one per topic.
type Aggregator struct {
	optionIDs []string
	committed int64
	reasoned  int64
	depthSum  float64
}

func NewAggregator(optionIDs []string) *Aggregator {
	return &Aggregator{optionIDs: optionIDs}
}

// Observe records one committed vote. Depth only counts towards the
// average when the vote carried a qualifying statement.
func (a *Aggregator) Observe(reasoned bool, depth float64) {
	a.committed++
	if reasoned {
		a.reasoned++
		a.depthSum += depth
	}
}

// Restore seeds the counters from persisted state
func (a *Aggregator) Restore(committed, reasoned int64, depthSum float64) {
	a.committed = committed
	a.reasoned = reasoned
	a.depthSum = depthSum
}

// Compute derives the metrics for the current tally
func (a *Aggregator) Compute(tally map[string]float64) models.Metrics {
	masses := Masses(a.optionIDs, tally)
	m := models.Metrics{
		Gini:         Gini(masses),
		Polarization: Polarization(masses),
		Committed:    a.committed,
		Reasoned:     a.reasoned,
	}
	if a.reasoned > 0 {
		m.AverageDepth = a.depthSum / float64(a.reasoned)
	}
	if a.committed > 0 {
		m.DeliberationRate = float64(a.reasoned) / float64(a.committed)
	}
	return m
}
