// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package gate

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Challenger produces a human-verification question and its expected answer
type Challenger interface {
	NewChallenge() (question, answer string, err error)
}

// ArithmeticChallenger asks for the sum of two single-digit numbers
type ArithmeticChallenger struct{}

func (ArithmeticChallenger) NewChallenge() (string, string, error) {
	a := rand.IntN(9) + 1
	b := rand.IntN(9) + 1
	return fmt.Sprintf("What is %d + %d?", a, b), strconv.Itoa(a + b), nil
}

// answerMatches compares answers ignoring surrounding whitespace and case
func answerMatches(expected, given string) bool {
	return expected != "" && strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(given))
}
