// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielhkuo/agora/admission"
	"github.com/danielhkuo/agora/cliparse"
	"github.com/danielhkuo/agora/handlers"
	"github.com/danielhkuo/agora/middleware"
	"github.com/danielhkuo/agora/storage"
	"github.com/danielhkuo/agora/tally"
)

// Deps are the services the routes are wired to
type Deps struct {
	Registry *tally.Registry
	Pipeline *admission.Pipeline
	Store    storage.Store
}

func NewRouter(deps Deps, cfg cliparse.Config) *http.ServeMux {
	mux := http.NewServeMux()

	// Initialize handlers
	topicHandler := handlers.NewTopicHandler(deps.Registry, deps.Store, deps.Pipeline.Budget(), cfg)
	voteHandler := handlers.NewVoteHandler(deps.Pipeline, cfg)
	streamHandler := handlers.NewStreamHandler(deps.Registry, deps.Pipeline, cfg)

	// Health check
	mux.HandleFunc("GET /health", topicHandler.Health)

	// Topics (read-only)
	mux.HandleFunc("GET /topics", middleware.WithLogging(topicHandler.ListTopics))
	mux.HandleFunc("GET /topics/{topic}/status", middleware.WithLogging(topicHandler.GetStatus))

	// Voting
	mux.HandleFunc("POST /topics/{topic}/credentials", middleware.WithLogging(voteHandler.RequestCredential))
	mux.HandleFunc("POST /topics/{topic}/votes", middleware.WithLogging(voteHandler.SubmitVote))

	// Push channel
	mux.HandleFunc("GET /topics/{topic}/stream", middleware.WithLogging(streamHandler.Stream))

	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("agora API v1"))
	})

	return mux
}
