// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

Wrap handlers with request logging:

	mux.HandleFunc("GET /health", middleware.WithLogging(handler))

Logs request start (method, path, remote) and completion (duration_ms).

# CORS Middleware

Enable cross-origin requests for browser clients on allowed hosts:

	server := http.Server{
		Handler: middleware.CORS(mux, "app.example.com", "*.example.org"),
	}

# Request Throttling

IPLimiter keeps a token bucket per client IP:

	limiter := middleware.NewIPLimiter(5, 10, cfg.TrustProxy)
	handler := limiter.Middleware(mux)
	go limiter.Run(ctx, time.Minute) // forget idle clients

Throttled requests get 429 with reason rate_limited.

# JSON Helpers

Write JSON responses:

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "message")
	middleware.RejectionResponse(w, err) // status and body from models.ReasonOf(err)

Parse JSON request bodies (capped at MaxBodyBytes):

	var req models.SubmitVoteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

# Client IP Extraction

	ip := middleware.GetClientIP(r, cfg.TrustProxy)

Proxy headers (X-Forwarded-For, X-Real-IP) are only read when the server
runs behind a trusted proxy. The address feeds the gate's per-IP and
per-subnet limits.
*/
package middleware
