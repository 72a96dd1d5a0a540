// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package tally owns the live state of each topic and pushes every change to
subscribers.

# Coordinator

A Coordinator runs one goroutine per topic. Commits and subscriptions are
requests sent to that goroutine, so every accepted vote gets the next
sequence number and every subscriber sees the same order:

	coord := tally.NewCoordinator(topic, store, gate, synth, tally.Config{})
	if err := coord.Restore(ctx); err != nil { ... }
	go coord.Run(ctx)

	receipt, err := coord.Commit(ctx, ballot)

A commit reserves the voter identity, adds the weighted votes to the
durable tally and appends a chained audit entry. If any of those writes
fails the earlier ones are undone and the caller gets a retryable
storage_unavailable rejection. Nothing is broadcast for a failed commit.

# Subscriptions

Subscribe returns a channel whose first event is the current state.
Broadcasting never blocks: a subscriber whose buffer is full is
disconnected and must resubscribe to get a fresh snapshot.

# Weighting

Each vote adds mass to the options it names. The default quality
weighting credits votes × overall quality score; linear and unit are
available for comparison.

# Synthesis

With SynthesisEvery > 0 the coordinator hands recent reasoning to a
background worker. Results are broadcast as non-binding synthesis_update
events and never touch the tally.
*/
package tally
