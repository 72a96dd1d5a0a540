// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"

	"github.com/danielhkuo/agora/admission"
	"github.com/danielhkuo/agora/cliparse"
	"github.com/danielhkuo/agora/middleware"
	"github.com/danielhkuo/agora/models"
)

type VoteHandler struct {
	pipeline *admission.Pipeline
	cfg      cliparse.Config
}

func NewVoteHandler(pipeline *admission.Pipeline, cfg cliparse.Config) *VoteHandler {
	return &VoteHandler{pipeline: pipeline, cfg: cfg}
}

// RequestCredential handles POST /topics/{topic}/credentials
func (h *VoteHandler) RequestCredential(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topic")
	if topicID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "topic is required")
		return
	}

	ip := middleware.GetClientIP(r, h.cfg.TrustProxy)
	cred, err := h.pipeline.RequestCredential(r.Context(), topicID, ip)
	if err != nil {
		middleware.RejectionResponse(w, err)
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, cred)
}

// SubmitVote handles POST /topics/{topic}/votes
func (h *VoteHandler) SubmitVote(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topic")
	if topicID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "topic is required")
		return
	}

	var req models.SubmitVoteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.RejectionResponse(w, models.Reject(models.ReasonInvalidPayload, "invalid JSON"))
		return
	}

	ip := middleware.GetClientIP(r, h.cfg.TrustProxy)
	receipt, err := h.pipeline.Submit(r.Context(), topicID, ip, req)
	if err != nil {
		middleware.RejectionResponse(w, err)
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, receipt)
}
