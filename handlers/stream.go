// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/danielhkuo/agora/admission"
	"github.com/danielhkuo/agora/cliparse"
	"github.com/danielhkuo/agora/middleware"
	"github.com/danielhkuo/agora/models"
	"github.com/danielhkuo/agora/tally"
)

const writeTimeout = 5 * time.Second

type StreamHandler struct {
	registry *tally.Registry
	pipeline *admission.Pipeline
	cfg      cliparse.Config
	// OriginPatterns lists extra hosts allowed to open a stream from a
	// browser; same-origin requests are always accepted
	OriginPatterns []string
}

func NewStreamHandler(registry *tally.Registry, pipeline *admission.Pipeline, cfg cliparse.Config) *StreamHandler {
	return &StreamHandler{registry: registry, pipeline: pipeline, cfg: cfg, OriginPatterns: cfg.AllowedOrigins}
}

// Stream handles GET /topics/{topic}/stream. The server pushes
// state_update and synthesis_update events; the client may send
// request_credential and submit_vote frames and gets a reply event for each.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topic")
	coord, ok := h.registry.Get(topicID)
	if !ok {
		middleware.RejectionResponse(w, models.Reject(models.ReasonTopicNotFound, "topic %q", topicID))
		return
	}

	ip := middleware.GetClientIP(r, h.cfg.TrustProxy)
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		slog.Warn("websocket accept failed", "topic", topicID, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := coord.Subscribe(ctx)
	if err != nil {
		conn.Close(websocket.StatusGoingAway, "topic unavailable")
		return
	}
	defer sub.Close()

	replies := make(chan models.Event, 4)
	readErr := make(chan error, 1)
	go func() {
		readErr <- h.readLoop(ctx, conn, topicID, ip, replies)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				slog.Warn("stream read failed", "topic", topicID, "error", err)
			}
			conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case ev, ok := <-sub.C:
			if !ok {
				// Fell behind or server shutting down; the client should
				// reconnect for a fresh snapshot
				conn.Close(websocket.StatusTryAgainLater, "subscription ended")
				return
			}
			if !h.write(ctx, conn, ev) {
				return
			}
		case ev := <-replies:
			if !h.write(ctx, conn, ev) {
				return
			}
		}
	}
}

func (h *StreamHandler) write(ctx context.Context, conn *websocket.Conn, ev models.Event) bool {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, ev); err != nil {
		conn.Close(websocket.StatusInternalError, "write failed")
		return false
	}
	return true
}

// readLoop serves client frames one at a time until the connection fails
func (h *StreamHandler) readLoop(ctx context.Context, conn *websocket.Conn, topicID, ip string, replies chan<- models.Event) error {
	for {
		var msg models.StreamMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}

		var reply models.Event
		switch msg.Type {
		case models.EventRequestCredential:
			cred, err := h.pipeline.RequestCredential(ctx, topicID, ip)
			if err != nil {
				reply = rejectedEvent(topicID, err)
			} else {
				reply = tally.NewEvent(models.EventCredentialIssued, topicID, cred)
			}
		case models.EventSubmitVote:
			if msg.Vote == nil {
				reply = rejectedEvent(topicID, models.Reject(models.ReasonInvalidPayload, "vote is required"))
				break
			}
			receipt, err := h.pipeline.Submit(ctx, topicID, ip, *msg.Vote)
			if err != nil {
				reply = rejectedEvent(topicID, err)
			} else {
				reply = tally.NewEvent(models.EventVoteCommitted, topicID, receipt)
			}
		default:
			reply = rejectedEvent(topicID, models.Reject(models.ReasonInvalidPayload, "unknown message type %q", msg.Type))
		}

		select {
		case replies <- reply:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func rejectedEvent(topicID string, err error) models.Event {
	reason := models.ReasonOf(err)
	message := err.Error()
	if reason == models.ReasonStorageUnavailable {
		message = "Service temporarily unavailable, try again"
	}
	return tally.NewEvent(models.EventVoteRejected, topicID, models.VoteRejected{
		Reason:    reason,
		Message:   message,
		Retryable: reason.Retryable(),
	})
}
