// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielhkuo/agora/cliparse"
	"github.com/danielhkuo/agora/models"
	"github.com/danielhkuo/agora/storage"
	"github.com/danielhkuo/agora/synthesis"
)

// TestSecret is the identity secret used by test configurations
const TestSecret = "test-identity-secret"

// CaptchaAnswer is the answer to FixedChallenger's question
const CaptchaAnswer = "5"

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	cfg := cliparse.Defaults()
	cfg.IdentitySecret = TestSecret
	cfg.SynthesisEvery = 0
	cfg.RequestsPerSecond = 1000
	cfg.RequestBurst = 1000
	cfg.MetricsEnabled = false
	return cfg
}

// TestTopic returns a three-option topic
func TestTopic(id string) models.Topic {
	return models.Topic{
		ID:       id,
		Title:    "Transit budget",
		Question: "Where should the extra funding go?",
		Options: []models.Option{
			{ID: "optionA", Label: "Buses"},
			{ID: "optionB", Label: "Cycle lanes"},
			{ID: "optionC", Label: "Light rail"},
		},
	}
}

// ReasoningText builds a statement of exactly words words. Each marker
// appears once, evenly spaced; the rest is filler without any markers.
func ReasoningText(words int, markers ...string) string {
	fill := words - len(markers)
	if fill < 0 {
		fill = 0
	}
	out := make([]string, 0, words)
	gap := fill
	if len(markers) > 0 {
		gap = fill / len(markers)
	}
	for _, m := range markers {
		for i := 0; i < gap; i++ {
			out = append(out, "policy")
		}
		out = append(out, m)
	}
	for len(out) < words {
		out = append(out, "policy")
	}
	return strings.Join(out, " ")
}

// FixedChallenger always asks the same question
type FixedChallenger struct{}

func (FixedChallenger) NewChallenge() (string, string, error) {
	return "What is 2 + 3?", CaptchaAnswer, nil
}

// Clock is a manually advanced clock
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FlakyStore wraps a store and fails chosen operations with
// storage.ErrUnavailable. Like a network client it returns ctx.Err() once
// the context is done.
type FlakyStore struct {
	storage.Store

	mu    sync.Mutex
	fail  func(op, key string) bool
	stall func(op, key string) bool
}

func NewFlakyStore(inner storage.Store) *FlakyStore {
	return &FlakyStore{Store: inner}
}

// FailWhen installs a predicate; nil restores normal behaviour
func (f *FlakyStore) FailWhen(fn func(op, key string) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fn
}

// StallWhen makes matching operations block until their context is done,
// the way a slow backend runs into a deadline. nil restores normal behaviour.
func (f *FlakyStore) StallWhen(fn func(op, key string) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stall = fn
}

func (f *FlakyStore) check(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	fail, stall := f.fail, f.stall
	f.mu.Unlock()
	if stall != nil && stall(op, key) {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail != nil && fail(op, key) {
		return fmt.Errorf("%w: injected %s failure on %s", storage.ErrUnavailable, op, key)
	}
	return nil
}

func (f *FlakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := f.check(ctx, "get", key); err != nil {
		return "", false, err
	}
	return f.Store.Get(ctx, key)
}

func (f *FlakyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := f.check(ctx, "set", key); err != nil {
		return err
	}
	return f.Store.Set(ctx, key, value, ttl)
}

func (f *FlakyStore) Delete(ctx context.Context, key string) error {
	if err := f.check(ctx, "delete", key); err != nil {
		return err
	}
	return f.Store.Delete(ctx, key)
}

func (f *FlakyStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if err := f.check(ctx, "increment", key); err != nil {
		return 0, err
	}
	return f.Store.Increment(ctx, key, delta, ttl)
}

func (f *FlakyStore) IncrementFloat(ctx context.Context, key string, delta float64) (float64, error) {
	if err := f.check(ctx, "increment_float", key); err != nil {
		return 0, err
	}
	return f.Store.IncrementFloat(ctx, key, delta)
}

func (f *FlakyStore) AddToSet(ctx context.Context, set, member string) (bool, error) {
	if err := f.check(ctx, "add_to_set", set); err != nil {
		return false, err
	}
	return f.Store.AddToSet(ctx, set, member)
}

func (f *FlakyStore) RemoveFromSet(ctx context.Context, set, member string) error {
	if err := f.check(ctx, "remove_from_set", set); err != nil {
		return err
	}
	return f.Store.RemoveFromSet(ctx, set, member)
}

func (f *FlakyStore) PushCapped(ctx context.Context, list, value string, maxLen int) error {
	if err := f.check(ctx, "push", list); err != nil {
		return err
	}
	return f.Store.PushCapped(ctx, list, value, maxLen)
}

func (f *FlakyStore) Range(ctx context.Context, list string, n int) ([]string, error) {
	if err := f.check(ctx, "range", list); err != nil {
		return nil, err
	}
	return f.Store.Range(ctx, list, n)
}

func (f *FlakyStore) Ping(ctx context.Context) error {
	if err := f.check(ctx, "ping", ""); err != nil {
		return err
	}
	return f.Store.Ping(ctx)
}

// RecordingSynthesizer returns a canned summary and records every batch
type RecordingSynthesizer struct {
	mu      sync.Mutex
	batches [][]string
	Err     error
}

func (r *RecordingSynthesizer) Summarize(ctx context.Context, texts []string) (synthesis.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]string(nil), texts...))
	if r.Err != nil {
		return synthesis.Summary{}, r.Err
	}
	return synthesis.Summary{Themes: fmt.Sprintf("%d statements", len(texts)), Model: "recording"}, nil
}

// Batches returns the batches received so far
func (r *RecordingSynthesizer) Batches() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
