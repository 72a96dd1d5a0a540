// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package admission runs a vote from submission to commit.

Prepare checks the credential with the gate, validates the quadratic
allocation and scores the reasoning. It reserves nothing, so a vote that
fails validation can be corrected and resubmitted with the same credential.
Statements longer than MaxReasoningBytes are refused before scoring.
Commit hands the ballot to the topic's coordinator, which claims the voter
identity, the session and the daily allowances atomically before touching
the tally.

	p := admission.New(gate, scorer, registry, admission.Config{
		MinReasoningWords: 100,
		RequireReasoning:  true,
	})
	receipt, err := p.Submit(ctx, "transit", clientIP, req)
	if err != nil {
		reason := models.ReasonOf(err)
		...
	}

Every failure carries a models.Reason. Rejections are counted per reason
and logged; storage failures are logged at error level.
*/
package admission
