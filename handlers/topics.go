// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/agora/cliparse"
	"github.com/danielhkuo/agora/middleware"
	"github.com/danielhkuo/agora/models"
	"github.com/danielhkuo/agora/storage"
	"github.com/danielhkuo/agora/tally"
)

type TopicHandler struct {
	registry *tally.Registry
	store    storage.Store
	budget   int
	cfg      cliparse.Config
}

func NewTopicHandler(registry *tally.Registry, store storage.Store, budget int, cfg cliparse.Config) *TopicHandler {
	return &TopicHandler{registry: registry, store: store, budget: budget, cfg: cfg}
}

// ListTopics handles GET /topics
func (h *TopicHandler) ListTopics(w http.ResponseWriter, r *http.Request) {
	middleware.JSONResponse(w, http.StatusOK, models.TopicsResponse{
		Topics: h.registry.Topics(),
		Budget: h.budget,
	})
}

// GetStatus handles GET /topics/{topic}/status. It is read-only: the
// current tally plus the latest audit entries and reasoning statements.
func (h *TopicHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topic")
	coord, ok := h.registry.Get(topicID)
	if !ok {
		middleware.RejectionResponse(w, models.Reject(models.ReasonTopicNotFound, "topic %q", topicID))
		return
	}

	snap := coord.Snapshot()

	trail, err := coord.AuditTrail(r.Context(), h.cfg.StatusLimit)
	if err != nil {
		slog.Error("failed to read audit trail", "topic", topicID, "error", err)
		middleware.RejectionResponse(w, err)
		return
	}
	reasoning, err := coord.RecentReasoning(r.Context(), h.cfg.StatusLimit)
	if err != nil {
		slog.Error("failed to read reasoning", "topic", topicID, "error", err)
		middleware.RejectionResponse(w, err)
		return
	}

	audit := make([]models.AuditView, len(trail))
	for i, e := range trail {
		audit[i] = models.AuditView{
			Hash:      e.Hash,
			PrevHash:  e.PrevHash,
			Timestamp: e.Timestamp,
			Committed: humanize.Time(e.Timestamp),
		}
	}
	if reasoning == nil {
		reasoning = []string{}
	}

	middleware.JSONResponse(w, http.StatusOK, models.StatusResponse{
		Topic:     coord.Topic(),
		Seq:       snap.Seq,
		Tally:     snap.Tally,
		Metrics:   snap.Metrics,
		Audit:     audit,
		Reasoning: reasoning,
	})
}

// Health handles GET /health
func (h *TopicHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		slog.Error("health check failed", "error", err)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
