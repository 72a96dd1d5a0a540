// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package synthesis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/agora/models"
	"github.com/danielhkuo/agora/observability"
)

var ErrEmptyBatch = errors.New("no statements to summarize")

// Summary is the collaborator's themed digest of a batch of statements
type Summary struct {
	Themes string
	Model  string
}

// Synthesizer turns reasoning statements into a themes summary. It is an
// external, best-effort collaborator: callers never block votes on it.
type Synthesizer interface {
	Summarize(ctx context.Context, texts []string) (Summary, error)
}

// Job is one batch waiting to be summarized
type Job struct {
	TopicID string
	Texts   []string
}

// Worker runs synthesis off the commit path. At most one job waits while
// another runs; further submissions are skipped.
type Worker struct {
	synth   Synthesizer
	timeout time.Duration
	publish func(models.Synthesis)
	jobs    chan Job
	now     func() time.Time
}

// NewWorker creates a worker that hands each result to publish
func NewWorker(synth Synthesizer, timeout time.Duration, publish func(models.Synthesis)) *Worker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Worker{
		synth:   synth,
		timeout: timeout,
		publish: publish,
		jobs:    make(chan Job, 1),
		now:     time.Now,
	}
}

// TrySubmit queues a job without blocking. It reports false when the
// worker is saturated.
func (w *Worker) TrySubmit(job Job) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		observability.SynthesisRuns.WithLabelValues("skipped").Inc()
		return false
	}
}

// Run processes jobs until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			w.process(ctx, job)
		}
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	if len(job.Texts) == 0 {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	summary, err := w.synth.Summarize(callCtx, job.Texts)
	if err != nil {
		observability.SynthesisRuns.WithLabelValues("error").Inc()
		slog.Warn("synthesis failed", "topic", job.TopicID, "statements", len(job.Texts), "error", err)
		return
	}
	observability.SynthesisRuns.WithLabelValues("ok").Inc()

	w.publish(models.Synthesis{
		BatchID:     uuid.NewString(),
		TopicID:     job.TopicID,
		Themes:      summary.Themes,
		Model:       summary.Model,
		Statements:  len(job.Texts),
		Source:      models.SourceExternal,
		NonBinding:  true,
		GeneratedAt: w.now(),
	})
}
