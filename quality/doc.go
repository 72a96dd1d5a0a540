// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package quality scores free-text reasoning statements.

Scores have three weighted axes, each in [0,1]:

  - Depth: word count over DepthSaturation, capped at 1
  - Perspective: density of contrastive markers ("however", "on the other hand")
  - Reasoning: density of causal connectives ("because", "therefore")

Overall is the weighted sum. Diversity (type-token ratio) is reported but
not weighted.

	scorer, err := quality.NewHeuristicScorer(quality.DefaultConfig())
	score := scorer.Score(text)

Scoring never rejects. Minimum length policy is applied by the admission
pipeline before the score is used.
*/
package quality
