// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package observability exposes Prometheus metrics for the vote pipeline.
// Metrics register on the default registry and are served by promhttp at
// /metrics when enabled.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agora"

// CredentialsIssued counts sessions handed out, per topic
var CredentialsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "gate",
	Name:      "credentials_issued_total",
	Help:      "Total voting credentials issued.",
}, []string{"topic"})

// Rejections counts refused credential requests and votes by reason code
var Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "pipeline",
	Name:      "rejections_total",
	Help:      "Total rejected requests by reason.",
}, []string{"topic", "reason"})

// VotesCommitted counts votes applied to the tally
var VotesCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "tally",
	Name:      "votes_committed_total",
	Help:      "Total votes committed.",
}, []string{"topic"})

// CommitDuration measures time spent inside the serialized commit
var CommitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "tally",
	Name:      "commit_duration_seconds",
	Help:      "Time spent committing one vote, including storage writes.",
	Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
}, []string{"topic"})

// Subscribers tracks live push-channel observers
var Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "broadcast",
	Name:      "subscribers",
	Help:      "Current number of state subscribers.",
}, []string{"topic"})

// SlowSubscribersDropped counts observers disconnected for falling behind
var SlowSubscribersDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "broadcast",
	Name:      "slow_subscribers_dropped_total",
	Help:      "Subscribers disconnected because their buffer was full.",
}, []string{"topic"})

// SynthesisRuns counts synthesis calls by outcome (ok, error, skipped)
var SynthesisRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "synthesis",
	Name:      "runs_total",
	Help:      "Synthesis collaborator invocations by outcome.",
}, []string{"outcome"})

// RejectionReason records one rejection
func RejectionReason(topic, reason string) {
	Rejections.WithLabelValues(topic, reason).Inc()
}
