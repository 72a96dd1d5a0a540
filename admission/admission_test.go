// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package admission

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielhkuo/agora/gate"
	"github.com/danielhkuo/agora/models"
	"github.com/danielhkuo/agora/quality"
	"github.com/danielhkuo/agora/storage"
	"github.com/danielhkuo/agora/tally"
	"github.com/danielhkuo/agora/testutil"
)

type testEnv struct {
	*Pipeline
	coord *tally.Coordinator
	clock *testutil.Clock
	store *testutil.FlakyStore
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWith(t, mutate, tally.Config{})
}

func newTestEnvWith(t *testing.T, mutate func(*Config), tallyCfg tally.Config) *testEnv {
	t.Helper()
	clock := testutil.NewClock()
	store := testutil.NewFlakyStore(storage.NewMemoryStore(0))

	g := gate.New(store, testutil.FixedChallenger{}, gate.Config{
		Secret:   testutil.TestSecret,
		Location: time.UTC,
		Clock:    clock.Now,
	})
	tallyCfg.Clock = clock.Now
	coord := tally.NewCoordinator(testutil.TestTopic("t1"), store, g, nil, tallyCfg)
	registry := tally.NewRegistry(coord)

	scorer, err := quality.NewHeuristicScorer(quality.DefaultConfig())
	if err != nil {
		t.Fatalf("NewHeuristicScorer() error = %v", err)
	}

	cfg := Config{MinReasoningWords: 100, RequireReasoning: true, Clock: clock.Now}
	if mutate != nil {
		mutate(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- registry.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testEnv{
		Pipeline: New(g, scorer, registry, cfg),
		coord:    coord,
		clock:    clock,
		store:    store,
	}
}

func (e *testEnv) issue(t *testing.T, ip string) string {
	t.Helper()
	cred, err := e.RequestCredential(context.Background(), "t1", ip)
	if err != nil {
		t.Fatalf("RequestCredential() error = %v", err)
	}
	return cred.Token
}

func vote(token string, alloc models.Allocation, reasoning string) models.SubmitVoteRequest {
	return models.SubmitVoteRequest{
		Token:         token,
		CaptchaAnswer: testutil.CaptchaAnswer,
		Fingerprint:   "fp-1",
		Allocation:    alloc,
		Reasoning:     reasoning,
	}
}

func wantReason(t *testing.T, err error, want models.Reason) {
	t.Helper()
	if got := models.ReasonOf(err); got != want {
		t.Errorf("Expected reason %q, got %q (%v)", want, got, err)
	}
}

var goodReasoning = testutil.ReasoningText(150, "because", "however", "because", "however")

func TestRequestCredential(t *testing.T) {
	e := newTestEnv(t, nil)

	cred, err := e.RequestCredential(context.Background(), "t1", "1.2.3.4")
	if err != nil {
		t.Fatalf("RequestCredential() error = %v", err)
	}
	if cred.Token == "" || cred.Challenge == "" {
		t.Errorf("Incomplete credential %+v", cred)
	}
	if cred.ExpiresIn != 1800 {
		t.Errorf("Expected expires_in 1800, got %d", cred.ExpiresIn)
	}

	_, err = e.RequestCredential(context.Background(), "nope", "1.2.3.4")
	wantReason(t, err, models.ReasonTopicNotFound)
}

func TestSubmitEndToEnd(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()

	sub, err := e.coord.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()
	<-sub.C

	token := e.issue(t, "1.2.3.4")
	receipt, err := e.Submit(ctx, "t1", "1.2.3.4", vote(token, models.Allocation{"optionA": 2, "optionB": 1}, goodReasoning))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if len(receipt.Receipt) != models.ReceiptLength {
		t.Errorf("Expected %d-char receipt, got %q", models.ReceiptLength, receipt.Receipt)
	}
	q := receipt.Quality
	if q.Overall < 0.6 || q.Overall > 0.9 {
		t.Errorf("Expected overall quality in [0.6, 0.9], got %v", q.Overall)
	}
	if q.WordCount != 150 {
		t.Errorf("Expected 150 words, got %d", q.WordCount)
	}

	snap := e.coord.Snapshot()
	if math.Abs(snap.Tally["optionA"]-2*q.Overall) > 1e-9 || math.Abs(snap.Tally["optionB"]-q.Overall) > 1e-9 {
		t.Errorf("Unexpected tally %v for overall %v", snap.Tally, q.Overall)
	}
	if snap.Tally["optionC"] != 0 {
		t.Errorf("optionC should be untouched, got %v", snap.Tally["optionC"])
	}

	trail, err := e.coord.AuditTrail(ctx, 0)
	if err != nil || len(trail) != 1 {
		t.Fatalf("Expected 1 audit entry, got %d (%v)", len(trail), err)
	}
	if trail[0].Receipt() != receipt.Receipt {
		t.Errorf("Receipt %q does not match audit entry %q", receipt.Receipt, trail[0].Receipt())
	}

	select {
	case ev := <-sub.C:
		if ev.Type != models.EventStateUpdate || ev.Data.(models.Snapshot).Seq != 1 {
			t.Errorf("Unexpected broadcast %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No broadcast after commit")
	}
	select {
	case ev := <-sub.C:
		t.Errorf("Expected exactly one broadcast, also got %+v", ev)
	default:
	}

	// The credential is spent
	_, err = e.Submit(ctx, "t1", "1.2.3.4", vote(token, models.Allocation{"optionC": 1}, goodReasoning))
	wantReason(t, err, models.ReasonInvalidSession)
}

func TestSubmitConcurrentDuplicates(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()
	token := e.issue(t, "1.2.3.4")
	req := vote(token, models.Allocation{"optionA": 3}, goodReasoning)

	var wg sync.WaitGroup
	var committed, duplicate atomic.Int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Submit(ctx, "t1", "1.2.3.4", req)
			switch models.ReasonOf(err) {
			case "":
				committed.Add(1)
			case models.ReasonAlreadyVoted, models.ReasonInvalidSession:
				// lost the reservation race, or arrived after the commit
				duplicate.Add(1)
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if committed.Load() != 1 {
		t.Errorf("Expected exactly 1 commit, got %d", committed.Load())
	}
	if duplicate.Load() != 99 {
		t.Errorf("Expected 99 duplicates refused, got %d", duplicate.Load())
	}
	if snap := e.coord.Snapshot(); snap.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", snap.Seq)
	}
	if trail, _ := e.coord.AuditTrail(ctx, 0); len(trail) != 1 {
		t.Errorf("Expected 1 audit entry, got %d", len(trail))
	}
}

func TestSubmitRejectionsKeepCredential(t *testing.T) {
	short := testutil.ReasoningText(50, "because")

	tests := []struct {
		name      string
		alloc     models.Allocation
		reasoning string
		want      models.Reason
	}{
		{"over budget", models.Allocation{"optionA": 3, "optionB": 1}, goodReasoning, models.ReasonBudgetExceeded},
		{"all on one past budget", models.Allocation{"optionA": 4}, goodReasoning, models.ReasonBudgetExceeded},
		{"unknown option", models.Allocation{"optionZ": 1}, goodReasoning, models.ReasonUnknownOption},
		{"negative", models.Allocation{"optionA": -1}, goodReasoning, models.ReasonNegativeAllocation},
		{"empty allocation", models.Allocation{}, goodReasoning, models.ReasonInvalidPayload},
		{"zero votes", models.Allocation{"optionA": 0}, goodReasoning, models.ReasonInvalidPayload},
		{"short reasoning", models.Allocation{"optionA": 1}, short, models.ReasonInvalidPayload},
		{"missing reasoning", models.Allocation{"optionA": 1}, "   ", models.ReasonInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, nil)
			ctx := context.Background()
			token := e.issue(t, "1.2.3.4")

			_, err := e.Submit(ctx, "t1", "1.2.3.4", vote(token, tt.alloc, tt.reasoning))
			wantReason(t, err, tt.want)

			if snap := e.coord.Snapshot(); snap.Seq != 0 {
				t.Errorf("Rejected vote was committed: %+v", snap)
			}

			// Validation failures do not burn the credential
			if _, err := e.Submit(ctx, "t1", "1.2.3.4", vote(token, models.Allocation{"optionA": 2, "optionB": 2, "optionC": 1}, goodReasoning)); err != nil {
				t.Errorf("Resubmission with the same credential failed: %v", err)
			}
		})
	}
}

func TestSubmitExpired(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.issue(t, "1.2.3.4")

	e.clock.Advance(31 * time.Minute)

	_, err := e.Submit(context.Background(), "t1", "1.2.3.4", vote(token, models.Allocation{"optionA": 1}, goodReasoning))
	wantReason(t, err, models.ReasonExpired)
	if !models.ReasonOf(err).Retryable() {
		t.Error("Expired must be retryable with a fresh credential")
	}
}

func TestSubmitUnknownTopic(t *testing.T) {
	e := newTestEnv(t, nil)
	token := e.issue(t, "1.2.3.4")

	_, err := e.Submit(context.Background(), "nope", "1.2.3.4", vote(token, models.Allocation{"optionA": 1}, goodReasoning))
	wantReason(t, err, models.ReasonTopicNotFound)
}

func TestSubmitOptionalReasoning(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.RequireReasoning = false })
	ctx := context.Background()
	token := e.issue(t, "1.2.3.4")

	receipt, err := e.Submit(ctx, "t1", "1.2.3.4", vote(token, models.Allocation{"optionA": 2}, ""))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if receipt.Quality.Overall != 0 {
		t.Errorf("Expected empty score, got %+v", receipt.Quality)
	}

	snap := e.coord.Snapshot()
	if snap.Tally["optionA"] != 2 {
		t.Errorf("Expected face-value mass 2, got %v", snap.Tally["optionA"])
	}
	if snap.Metrics.DeliberationRate != 0 {
		t.Errorf("Expected deliberation rate 0, got %v", snap.Metrics.DeliberationRate)
	}
}

func TestSubmitStorageFailureIsRetryable(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()
	token := e.issue(t, "1.2.3.4")
	req := vote(token, models.Allocation{"optionA": 1}, goodReasoning)

	e.store.FailWhen(func(op, key string) bool {
		return op == "push" && strings.HasSuffix(key, ":audit")
	})
	_, err := e.Submit(ctx, "t1", "1.2.3.4", req)
	wantReason(t, err, models.ReasonStorageUnavailable)

	e.store.FailWhen(nil)
	if _, err := e.Submit(ctx, "t1", "1.2.3.4", req); err != nil {
		t.Errorf("Retry after storage recovered failed: %v", err)
	}
	if snap := e.coord.Snapshot(); snap.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", snap.Seq)
	}
}

func TestSubmitDistinctVoters(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()

	ips := []string{"10.0.0.1", "10.0.1.1", "10.0.2.1"}
	for _, ip := range ips {
		token := e.issue(t, ip)
		if _, err := e.Submit(ctx, "t1", ip, vote(token, models.Allocation{"optionA": 3}, goodReasoning)); err != nil {
			t.Fatalf("Submit(%s) error = %v", ip, err)
		}
	}

	snap := e.coord.Snapshot()
	if snap.Metrics.Committed != 3 {
		t.Errorf("Expected 3 commits, got %d", snap.Metrics.Committed)
	}
	if math.Abs(snap.Metrics.Polarization-1) > 1e-9 {
		t.Errorf("All mass on one option should be fully polarized, got %v", snap.Metrics.Polarization)
	}
}

// A commit that runs out of time must still be undone, so the voter can retry
func TestSubmitTimeoutRollsBack(t *testing.T) {
	e := newTestEnvWith(t, nil, tally.Config{StoreTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	token := e.issue(t, "1.2.3.4")
	req := vote(token, models.Allocation{"optionA": 2}, goodReasoning)

	e.store.StallWhen(func(op, key string) bool {
		return op == "push" && strings.HasSuffix(key, ":audit")
	})
	_, err := e.Submit(ctx, "t1", "1.2.3.4", req)
	wantReason(t, err, models.ReasonStorageUnavailable)
	e.store.StallWhen(nil)

	raw, _, err := e.store.Get(ctx, "topic:t1:tally:optionA")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if mass, _ := strconv.ParseFloat(raw, 64); math.Abs(mass) > 1e-9 {
		t.Errorf("Expected durable tally rolled back to 0, got %q", raw)
	}

	receipt, err := e.Submit(ctx, "t1", "1.2.3.4", req)
	if err != nil {
		t.Fatalf("Retry after timeout failed: %v", err)
	}
	if receipt.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", receipt.Seq)
	}
}

// Ballots prepared before any of them commits still respect the daily cap
func TestSubmitDailyCapHoldsAcrossPreparedBallots(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()

	var ballots []models.Ballot
	for i := 0; i < 8; i++ {
		token := e.issue(t, "1.2.3.4")
		e.clock.Advance(21 * time.Second)

		req := vote(token, models.Allocation{"optionA": 1}, goodReasoning)
		req.Fingerprint = fmt.Sprintf("fp-%d", i)
		b, err := e.Prepare(ctx, "t1", "1.2.3.4", req)
		if err != nil {
			t.Fatalf("Prepare() #%d error = %v", i, err)
		}
		ballots = append(ballots, b)
	}

	var committed, limited int
	for _, b := range ballots {
		_, err := e.Commit(ctx, b)
		switch models.ReasonOf(err) {
		case "":
			committed++
		case models.ReasonRateLimited:
			limited++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if committed != 5 || limited != 3 {
		t.Errorf("Expected 5 commits and 3 rate limited, got %d and %d", committed, limited)
	}
	if snap := e.coord.Snapshot(); snap.Seq != 5 {
		t.Errorf("Expected seq 5, got %d", snap.Seq)
	}
}

func TestSubmitReasoningTooLong(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.MaxReasoningBytes = 2000 })
	ctx := context.Background()
	token := e.issue(t, "1.2.3.4")

	long := testutil.ReasoningText(600, "because", "however")
	_, err := e.Submit(ctx, "t1", "1.2.3.4", vote(token, models.Allocation{"optionA": 1}, long))
	wantReason(t, err, models.ReasonInvalidPayload)

	// The credential survives
	if _, err := e.Submit(ctx, "t1", "1.2.3.4", vote(token, models.Allocation{"optionA": 1}, goodReasoning)); err != nil {
		t.Errorf("Resubmission within the limit failed: %v", err)
	}
}

func TestDefaultMaxReasoningBytes(t *testing.T) {
	e := newTestEnv(t, nil)
	if e.cfg.MaxReasoningBytes != DefaultMaxReasoningBytes {
		t.Errorf("Expected default limit %d, got %d", DefaultMaxReasoningBytes, e.cfg.MaxReasoningBytes)
	}
}
