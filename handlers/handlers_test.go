// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danielhkuo/agora/admission"
	"github.com/danielhkuo/agora/cliparse"
	"github.com/danielhkuo/agora/gate"
	"github.com/danielhkuo/agora/middleware"
	"github.com/danielhkuo/agora/models"
	"github.com/danielhkuo/agora/quality"
	"github.com/danielhkuo/agora/storage"
	"github.com/danielhkuo/agora/tally"
	"github.com/danielhkuo/agora/testutil"
)

// httptest.NewRequest uses this as RemoteAddr
const testIP = "192.0.2.1"

var goodReasoning = testutil.ReasoningText(120, "because", "however")

type testServer struct {
	mux      *http.ServeMux
	store    *testutil.FlakyStore
	coord    *tally.Coordinator
	registry *tally.Registry
	pipeline *admission.Pipeline
	cfg      cliparse.Config
	// stop shuts the coordinators down; safe to call more than once
	stop func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testutil.GetTestConfig()
	store := testutil.NewFlakyStore(storage.NewMemoryStore(0))

	g := gate.New(store, testutil.FixedChallenger{}, gate.Config{
		Secret:               cfg.IdentitySecret,
		SessionTTL:           cfg.SessionTTL,
		CredentialsPerWindow: cfg.CredentialsPerMinute,
		DailyVoteCap:         cfg.DailyVoteCap,
		SubnetDailyCap:       cfg.SubnetDailyCap,
		Location:             time.UTC,
	})
	coord := tally.NewCoordinator(testutil.TestTopic("t1"), store, g, nil, tally.Config{})
	registry := tally.NewRegistry(coord)

	scorer, err := quality.NewHeuristicScorer(quality.DefaultConfig())
	if err != nil {
		t.Fatalf("NewHeuristicScorer() error = %v", err)
	}
	pipeline := admission.New(g, scorer, registry, admission.Config{
		Budget:            cfg.VoteBudget,
		MinReasoningWords: cfg.MinReasoningWords,
		RequireReasoning:  cfg.RequireReasoning,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- registry.Run(ctx) }()
	stop := sync.OnceFunc(func() {
		cancel()
		<-done
	})
	t.Cleanup(stop)

	topics := NewTopicHandler(registry, store, pipeline.Budget(), cfg)
	votes := NewVoteHandler(pipeline, cfg)
	stream := NewStreamHandler(registry, pipeline, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", topics.Health)
	mux.HandleFunc("GET /topics", topics.ListTopics)
	mux.HandleFunc("GET /topics/{topic}/status", topics.GetStatus)
	mux.HandleFunc("POST /topics/{topic}/credentials", votes.RequestCredential)
	mux.HandleFunc("POST /topics/{topic}/votes", votes.SubmitVote)
	mux.HandleFunc("GET /topics/{topic}/stream", stream.Stream)

	return &testServer{
		mux:      mux,
		store:    store,
		coord:    coord,
		registry: registry,
		pipeline: pipeline,
		cfg:      cfg,
		stop:     stop,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func (s *testServer) credential(t *testing.T) models.CredentialIssued {
	t.Helper()
	w := s.do(testutil.MakeRequest("POST", "/topics/t1/credentials", nil, nil))
	testutil.AssertStatus(t, w, http.StatusCreated)

	var cred models.CredentialIssued
	testutil.AssertJSON(t, w, &cred)
	return cred
}

func newVote(token string) *http.Request {
	return testutil.MakeRequest("POST", "/topics/t1/votes", voteRequest(token, models.Allocation{"optionB": 3}), nil)
}

func voteRequest(token string, alloc models.Allocation) models.SubmitVoteRequest {
	return models.SubmitVoteRequest{
		Token:         token,
		CaptchaAnswer: testutil.CaptchaAnswer,
		Fingerprint:   "fp-test",
		Allocation:    alloc,
		Reasoning:     goodReasoning,
	}
}

func assertReason(t *testing.T, w *httptest.ResponseRecorder, status int, reason models.Reason) {
	t.Helper()
	testutil.AssertStatus(t, w, status)

	var resp models.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if resp.Reason != reason {
		t.Errorf("Expected reason %q, got %q (%s)", reason, resp.Reason, resp.Message)
	}
}

func TestRequestCredential(t *testing.T) {
	s := newTestServer(t)

	cred := s.credential(t)
	if cred.Token == "" {
		t.Error("Expected a token")
	}
	if cred.Challenge != "What is 2 + 3?" {
		t.Errorf("Unexpected challenge %q", cred.Challenge)
	}
	if cred.ExpiresIn != int(s.cfg.SessionTTL.Seconds()) {
		t.Errorf("Expected expires_in %d, got %d", int(s.cfg.SessionTTL.Seconds()), cred.ExpiresIn)
	}

	w := s.do(testutil.MakeRequest("POST", "/topics/missing/credentials", nil, nil))
	assertReason(t, w, http.StatusNotFound, models.ReasonTopicNotFound)
}

func TestRequestCredential_RateLimited(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < s.cfg.CredentialsPerMinute; i++ {
		s.credential(t)
	}
	w := s.do(testutil.MakeRequest("POST", "/topics/t1/credentials", nil, nil))
	assertReason(t, w, http.StatusTooManyRequests, models.ReasonRateLimited)
}

func TestSubmitVote(t *testing.T) {
	s := newTestServer(t)
	cred := s.credential(t)

	body := voteRequest(cred.Token, models.Allocation{"optionA": 2, "optionB": 1})
	w := s.do(testutil.MakeRequest("POST", "/topics/t1/votes", body, nil))
	testutil.AssertStatus(t, w, http.StatusCreated)

	var receipt models.VoteCommitted
	testutil.AssertJSON(t, w, &receipt)
	if len(receipt.Receipt) != models.ReceiptLength || receipt.Seq != 1 {
		t.Errorf("Unexpected receipt %+v", receipt)
	}
	if receipt.Quality.WordCount != 120 {
		t.Errorf("Expected 120 scored words, got %d", receipt.Quality.WordCount)
	}

	// Replaying the spent credential is terminal
	w = s.do(testutil.MakeRequest("POST", "/topics/t1/votes", body, nil))
	assertReason(t, w, http.StatusUnauthorized, models.ReasonInvalidSession)
}

func TestSubmitVote_Rejections(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*models.SubmitVoteRequest)
		ip     string
		status int
		reason models.Reason
	}{
		{"over budget", func(r *models.SubmitVoteRequest) { r.Allocation = models.Allocation{"optionA": 3, "optionB": 1} },
			"", http.StatusUnprocessableEntity, models.ReasonBudgetExceeded},
		{"unknown option", func(r *models.SubmitVoteRequest) { r.Allocation = models.Allocation{"nope": 1} },
			"", http.StatusUnprocessableEntity, models.ReasonUnknownOption},
		{"negative", func(r *models.SubmitVoteRequest) { r.Allocation = models.Allocation{"optionA": -2} },
			"", http.StatusUnprocessableEntity, models.ReasonNegativeAllocation},
		{"short reasoning", func(r *models.SubmitVoteRequest) { r.Reasoning = "too short" },
			"", http.StatusUnprocessableEntity, models.ReasonInvalidPayload},
		{"wrong captcha", func(r *models.SubmitVoteRequest) { r.CaptchaAnswer = "7" },
			"", http.StatusForbidden, models.ReasonCaptchaFailed},
		{"malformed token", func(r *models.SubmitVoteRequest) { r.Token = "bogus" },
			"", http.StatusUnauthorized, models.ReasonInvalidSession},
		{"different address", func(r *models.SubmitVoteRequest) {},
			"198.51.100.9", http.StatusUnauthorized, models.ReasonInvalidSession},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)
			cred := s.credential(t)

			body := voteRequest(cred.Token, models.Allocation{"optionA": 1})
			tc.mutate(&body)
			req := testutil.MakeRequest("POST", "/topics/t1/votes", body, nil)
			if tc.ip != "" {
				req.RemoteAddr = tc.ip + ":5555"
			}

			assertReason(t, s.do(req), tc.status, tc.reason)
			if s.coord.Snapshot().Seq != 0 {
				t.Error("Rejected vote reached the tally")
			}
		})
	}
}

func TestSubmitVote_InvalidJSON(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/topics/t1/votes", nil)
	req.Body = http.NoBody
	assertReason(t, s.do(req), http.StatusUnprocessableEntity, models.ReasonInvalidPayload)
}

func TestSubmitVote_StorageUnavailable(t *testing.T) {
	s := newTestServer(t)
	cred := s.credential(t)

	s.store.FailWhen(func(op, key string) bool { return op == "add_to_set" })
	w := s.do(testutil.MakeRequest("POST", "/topics/t1/votes", voteRequest(cred.Token, models.Allocation{"optionA": 1}), nil))
	testutil.AssertStatus(t, w, http.StatusServiceUnavailable)

	var resp models.ErrorResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Reason != models.ReasonStorageUnavailable || !resp.Retryable {
		t.Errorf("Expected retryable storage_unavailable, got %+v", resp)
	}
}

func TestGetStatus(t *testing.T) {
	s := newTestServer(t)
	cred := s.credential(t)
	s.do(testutil.MakeRequest("POST", "/topics/t1/votes", voteRequest(cred.Token, models.Allocation{"optionC": 3}), nil))

	w := s.do(testutil.MakeRequest("GET", "/topics/t1/status", nil, nil))
	testutil.AssertStatus(t, w, http.StatusOK)

	var status models.StatusResponse
	testutil.AssertJSON(t, w, &status)

	if status.Topic.ID != "t1" || status.Seq != 1 {
		t.Errorf("Unexpected status header %+v", status)
	}
	if status.Tally["optionC"] <= 0 || status.Tally["optionA"] != 0 {
		t.Errorf("Unexpected tally %v", status.Tally)
	}
	if len(status.Audit) != 1 || status.Audit[0].Committed == "" {
		t.Errorf("Expected 1 audit entry with a relative time, got %+v", status.Audit)
	}
	if len(status.Reasoning) != 1 || status.Reasoning[0] != goodReasoning {
		t.Errorf("Expected the statement in the reasoning list, got %d entries", len(status.Reasoning))
	}
	if math.Abs(status.Metrics.Polarization-1) > 1e-9 {
		t.Errorf("Expected full polarization, got %v", status.Metrics.Polarization)
	}

	w = s.do(testutil.MakeRequest("GET", "/topics/missing/status", nil, nil))
	assertReason(t, w, http.StatusNotFound, models.ReasonTopicNotFound)
}

func TestGetStatus_Empty(t *testing.T) {
	s := newTestServer(t)

	w := s.do(testutil.MakeRequest("GET", "/topics/t1/status", nil, nil))
	testutil.AssertStatus(t, w, http.StatusOK)

	var raw map[string]json.RawMessage
	testutil.AssertJSON(t, w, &raw)
	if string(raw["reasoning"]) != "[]" || string(raw["audit"]) != "[]" {
		t.Errorf("Expected empty lists, got reasoning=%s audit=%s", raw["reasoning"], raw["audit"])
	}
}

func TestListTopics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(testutil.MakeRequest("GET", "/topics", nil, nil))
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.TopicsResponse
	testutil.AssertJSON(t, w, &resp)
	if len(resp.Topics) != 1 || len(resp.Topics[0].Options) != 3 {
		t.Errorf("Unexpected topics %+v", resp.Topics)
	}
	if resp.Budget != 9 {
		t.Errorf("Expected budget 9, got %d", resp.Budget)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(testutil.MakeRequest("GET", "/health", nil, nil))
	testutil.AssertStatus(t, w, http.StatusOK)
	if w.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", w.Body.String())
	}

	s.store.FailWhen(func(op, key string) bool { return op == "ping" })
	w = s.do(testutil.MakeRequest("GET", "/health", nil, nil))
	testutil.AssertStatus(t, w, http.StatusServiceUnavailable)
}

func TestRejectionStatusCodes(t *testing.T) {
	// Every reason the pipeline can return has a distinct, non-500 status
	for _, reason := range []models.Reason{
		models.ReasonRateLimited, models.ReasonExpired, models.ReasonInvalidSession,
		models.ReasonCaptchaFailed, models.ReasonAlreadyVoted, models.ReasonBudgetExceeded,
		models.ReasonTopicNotFound, models.ReasonStorageUnavailable,
	} {
		if status := middleware.StatusFor(reason); status == http.StatusInternalServerError {
			t.Errorf("%s maps to 500", reason)
		}
	}
}
