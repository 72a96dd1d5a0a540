// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the Agora API.

# Route Registration

NewRouter creates a configured http.ServeMux with all endpoints:

	mux := router.NewRouter(router.Deps{
		Registry: registry,
		Pipeline: pipeline,
		Store:    store,
	}, cfg)

# Endpoints

Health:

	GET /health - Pings storage

Topics (read-only):

	GET /topics                - Topics, options and the credit budget
	GET /topics/{topic}/status - Tally, metrics, latest audit entries and reasoning

Voting:

	POST /topics/{topic}/credentials - Issue a session and CAPTCHA
	POST /topics/{topic}/votes       - Submit a vote

Push channel (WebSocket):

	GET /topics/{topic}/stream

Metrics (when METRICS_ENABLED):

	GET /metrics
*/
package router
