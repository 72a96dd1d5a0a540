// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/danielhkuo/agora/models"
)

// MaxBodyBytes bounds JSON request bodies
const MaxBodyBytes = 64 << 10

// WithLogging wraps a handler with request logging
func WithLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Log request
		slog.Info("request started",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
		)

		// Call the next handler
		next(w, r)

		// Log completion
		duration := time.Since(start)
		slog.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// JSONResponse writes a JSON response
func JSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse writes a JSON error response
func ErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	JSONResponse(w, statusCode, models.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

// StatusFor maps a rejection reason to an HTTP status
func StatusFor(reason models.Reason) int {
	switch reason {
	case models.ReasonRateLimited:
		return http.StatusTooManyRequests
	case models.ReasonExpired:
		return http.StatusGone
	case models.ReasonInvalidSession:
		return http.StatusUnauthorized
	case models.ReasonCaptchaFailed:
		return http.StatusForbidden
	case models.ReasonAlreadyVoted:
		return http.StatusConflict
	case models.ReasonBudgetExceeded, models.ReasonUnknownOption,
		models.ReasonNegativeAllocation, models.ReasonInvalidPayload:
		return http.StatusUnprocessableEntity
	case models.ReasonTopicNotFound:
		return http.StatusNotFound
	}
	return http.StatusServiceUnavailable
}

// RejectionResponse writes err as a JSON error carrying its reason code.
// Storage details are not exposed to clients.
func RejectionResponse(w http.ResponseWriter, err error) {
	reason := models.ReasonOf(err)
	status := StatusFor(reason)

	message := err.Error()
	if reason == models.ReasonStorageUnavailable {
		message = "Service temporarily unavailable, try again"
	}
	JSONResponse(w, status, models.ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Reason:    reason,
		Retryable: reason.Retryable(),
	})
}

// ParseJSONBody parses the request body into the given struct
func ParseJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBodyBytes)).Decode(v); err != nil {
		return err
	}
	return nil
}

// CORS middleware allows cross-origin requests from browser clients whose
// Origin host matches one of originPatterns. Requests from other origins get
// no CORS headers, and their preflights are refused.
func CORS(next http.Handler, originPatterns ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Origin")
		if !OriginAllowed(origin, originPatterns) {
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// OriginAllowed matches the host of origin against path.Match patterns,
// case-insensitively
func OriginAllowed(origin string, patterns []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, p := range patterns {
		if ok, _ := path.Match(strings.ToLower(p), host); ok {
			return true
		}
	}
	return false
}

// GetClientIP extracts the client IP address. Proxy headers
// (X-Forwarded-For, then X-Real-IP) are only honoured when trustProxy is
// set, since anyone can send them.
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// Take first IP in chain
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
