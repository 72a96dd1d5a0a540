// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package quadratic

import (
	"sort"

	"github.com/danielhkuo/agora/models"
)

// DefaultBudget allows 3 votes on one option, or a spread such as 2+2+1
const DefaultBudget = 9

// Result is a validated allocation. Weights carries the linear vote count
// per option, not the squared cost.
type Result struct {
	Cost    int
	Weights map[string]int
}

// Validator checks allocations against a topic's options and a credit budget
type Validator struct {
	budget  int
	options map[string]struct{}
}

// NewValidator creates a validator for the given option ids. A budget <= 0
// falls back to DefaultBudget.
func NewValidator(optionIDs []string, budget int) *Validator {
	if budget <= 0 {
		budget = DefaultBudget
	}
	opts := make(map[string]struct{}, len(optionIDs))
	for _, id := range optionIDs {
		opts[id] = struct{}{}
	}
	return &Validator{budget: budget, options: opts}
}

// Budget returns the per-voter credit budget
func (v *Validator) Budget() int {
	return v.budget
}

// Cost returns the credit cost of casting votes on a single option
func Cost(votes int) int {
	return votes * votes
}

// Validate has no side effects. Option ids are visited in sorted order so
// the reported reason never depends on map iteration.
func (v *Validator) Validate(alloc models.Allocation) (Result, error) {
	ids := make([]string, 0, len(alloc))
	for id := range alloc {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, ok := v.options[id]; !ok {
			return Result{}, models.Reject(models.ReasonUnknownOption, "option %q", id)
		}
		if alloc[id] < 0 {
			return Result{}, models.Reject(models.ReasonNegativeAllocation, "option %q has %d", id, alloc[id])
		}
	}

	total := 0
	weights := make(map[string]int, len(alloc))
	for _, id := range ids {
		votes := alloc[id]
		// Anything above the budget costs more than the budget and would
		// overflow when squared
		if votes > v.budget {
			return Result{}, models.Reject(models.ReasonBudgetExceeded, "option %q alone exceeds budget %d", id, v.budget)
		}
		total += Cost(votes)
		if total > v.budget {
			return Result{}, models.Reject(models.ReasonBudgetExceeded, "cost exceeds budget %d", v.budget)
		}
		weights[id] = votes
	}

	return Result{Cost: total, Weights: weights}, nil
}
