// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package tally

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/agora/auth"
	"github.com/danielhkuo/agora/metrics"
	"github.com/danielhkuo/agora/models"
	"github.com/danielhkuo/agora/observability"
	"github.com/danielhkuo/agora/storage"
	"github.com/danielhkuo/agora/synthesis"
)

// ErrStopped is returned once the coordinator's run loop has exited
var ErrStopped = errors.New("coordinator stopped")

// Reserver claims and releases the single-use markers of a vote
type Reserver interface {
	Reserve(ctx context.Context, adm models.Admission) error
	Release(ctx context.Context, adm models.Admission)
	Complete(ctx context.Context, adm models.Admission)
}

type Config struct {
	Weighting        Weighting
	AuditLogSize     int
	ReasoningLogSize int
	// SynthesisEvery triggers synthesis after every N commits; 0 disables
	SynthesisEvery   int
	SynthesisTimeout time.Duration
	SubscriberBuffer int
	// StoreTimeout bounds the storage writes of a single commit
	StoreTimeout time.Duration
	Clock        func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Weighting == "" {
		c.Weighting = WeightQuality
	}
	if c.AuditLogSize <= 0 {
		c.AuditLogSize = 1000
	}
	if c.ReasoningLogSize <= 0 {
		c.ReasoningLogSize = 1000
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

type commitRequest struct {
	ctx    context.Context
	ballot models.Ballot
	reply  chan commitResult
}

type commitResult struct {
	receipt models.VoteCommitted
	err     error
}

type subscribeRequest struct {
	reply chan subscribeResult
}

type subscribeResult struct {
	sub *Subscription
	err error
}

// Coordinator owns one topic's tally. Every mutation runs on the Run
// goroutine, one vote at a time, so commit order is a single total order
// that all subscribers observe identically.
type Coordinator struct {
	topic    models.Topic
	cfg      Config
	store    storage.Store
	reserver Reserver
	hub      *Hub
	worker   *synthesis.Worker

	requests chan any
	done     chan struct{}
	current  atomic.Pointer[models.Snapshot]

	// owned by the run loop
	tally    map[string]float64
	agg      *metrics.Aggregator
	seq      uint64
	prevHash string
	recent   []string
}

// NewCoordinator creates a coordinator. synth may be nil to disable
// synthesis.
func NewCoordinator(topic models.Topic, store storage.Store, reserver Reserver, synth synthesis.Synthesizer, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		topic:    topic,
		cfg:      cfg,
		store:    store,
		reserver: reserver,
		hub:      NewHub(topic.ID, cfg.SubscriberBuffer),
		requests: make(chan any),
		done:     make(chan struct{}),
		tally:    make(map[string]float64, len(topic.Options)),
		agg:      metrics.NewAggregator(topic.OptionIDs()),
		prevHash: auth.ZeroHash,
	}
	if synth != nil && cfg.SynthesisEvery > 0 {
		c.worker = synthesis.NewWorker(synth, cfg.SynthesisTimeout, c.publishSynthesis)
	}
	c.publish(time.Time{})
	return c
}

func (c *Coordinator) key(parts ...string) string {
	return storage.Key(append([]string{"topic", c.topic.ID}, parts...)...)
}

func (c *Coordinator) Topic() models.Topic {
	return c.topic
}

// Restore rebuilds state from storage. Call it before Run.
func (c *Coordinator) Restore(ctx context.Context) error {
	for _, id := range c.topic.OptionIDs() {
		mass, err := c.readFloat(ctx, c.key("tally", id))
		if err != nil {
			return err
		}
		c.tally[id] = mass
	}

	committed, err := c.readFloat(ctx, c.key("committed"))
	if err != nil {
		return err
	}
	reasoned, err := c.readFloat(ctx, c.key("reasoned"))
	if err != nil {
		return err
	}
	depthSum, err := c.readFloat(ctx, c.key("depth_sum"))
	if err != nil {
		return err
	}
	c.agg.Restore(int64(committed), int64(reasoned), depthSum)
	c.seq = uint64(committed)

	latest, err := c.AuditTrail(ctx, 1)
	if err != nil {
		return err
	}
	if len(latest) == 1 {
		c.prevHash = latest[0].Hash
	}

	c.publish(time.Time{})
	slog.Info("tally restored", "topic", c.topic.ID, "seq", c.seq)
	return nil
}

func (c *Coordinator) readFloat(ctx context.Context, key string) (float64, error) {
	v, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return 0, models.StorageFailure("restore "+key, err)
	}
	if !ok {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, models.StorageFailure("restore "+key, err)
	}
	return f, nil
}

// Run serves commits and subscriptions until ctx is cancelled
func (c *Coordinator) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer close(c.done)
	defer c.hub.Close()
	defer wg.Wait()

	if c.worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker.Run(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-c.requests:
			switch r := req.(type) {
			case commitRequest:
				receipt, err := c.commit(r)
				r.reply <- commitResult{receipt: receipt, err: err}
			case subscribeRequest:
				sub, err := c.hub.subscribe(c.stateEvent(c.Snapshot()))
				r.reply <- subscribeResult{sub: sub, err: err}
			}
		}
	}
}

func (c *Coordinator) stopped() error {
	return models.StorageFailure("commit", ErrStopped)
}

// Commit applies a validated ballot. Once the coordinator has accepted the
// ballot the commit runs to completion even if ctx is cancelled.
func (c *Coordinator) Commit(ctx context.Context, b models.Ballot) (models.VoteCommitted, error) {
	req := commitRequest{ctx: ctx, ballot: b, reply: make(chan commitResult, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return models.VoteCommitted{}, ctx.Err()
	case <-c.done:
		return models.VoteCommitted{}, c.stopped()
	}

	res := <-req.reply
	return res.receipt, res.err
}

// Subscribe returns a subscription whose first event is the current state
func (c *Coordinator) Subscribe(ctx context.Context) (*Subscription, error) {
	req := subscribeRequest{reply: make(chan subscribeResult, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrStopped
	}

	res := <-req.reply
	return res.sub, res.err
}

// Snapshot returns the latest committed state without blocking the run loop
func (c *Coordinator) Snapshot() models.Snapshot {
	return *c.current.Load()
}

// Subscribers returns the number of live subscribers
func (c *Coordinator) Subscribers() int {
	return c.hub.Len()
}

func (c *Coordinator) commit(r commitRequest) (models.VoteCommitted, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), c.cfg.StoreTimeout)
	defer cancel()

	b := r.ballot
	adm := b.Admission
	if adm.TopicID != c.topic.ID {
		return models.VoteCommitted{}, models.Reject(models.ReasonInvalidSession, "ballot for topic %q", adm.TopicID)
	}

	if err := c.reserver.Reserve(ctx, adm); err != nil {
		return models.VoteCommitted{}, err
	}

	// Votes without a statement are only admitted when reasoning is
	// optional, and then count at face value
	overall := b.Quality.Overall
	if !b.Reasoned {
		overall = 1
	}
	increments := c.cfg.Weighting.Increments(b.Weights, overall)
	applied := make(map[string]float64, len(increments))
	for _, id := range c.topic.OptionIDs() {
		delta, ok := increments[id]
		if !ok || delta <= 0 {
			continue
		}
		if _, err := c.store.IncrementFloat(ctx, c.key("tally", id), delta); err != nil {
			c.abort(r.ctx, adm, applied)
			return models.VoteCommitted{}, models.StorageFailure("apply tally", err)
		}
		applied[id] = delta
	}

	ts := c.cfg.Clock().UTC()
	entry := models.AuditEntry{
		Hash:      auth.AuditHash(c.prevHash, adm.Identity, b.Allocation, ts),
		PrevHash:  c.prevHash,
		Timestamp: ts,
	}
	raw, err := json.Marshal(entry)
	if err == nil {
		err = c.store.PushCapped(ctx, c.key("audit"), string(raw), c.cfg.AuditLogSize)
	}
	if err != nil {
		c.abort(r.ctx, adm, applied)
		return models.VoteCommitted{}, models.StorageFailure("append audit", err)
	}

	// The vote is durable from here on
	c.persistCounters(ctx, b)
	c.reserver.Complete(ctx, adm)

	next := make(map[string]float64, len(c.tally))
	for id, mass := range c.tally {
		next[id] = mass
	}
	for id, delta := range applied {
		next[id] += delta
	}
	c.tally = next
	c.agg.Observe(b.Reasoned, b.Quality.Depth)
	c.prevHash = entry.Hash
	c.seq++

	snap := c.publish(ts)
	c.hub.Broadcast(c.stateEvent(snap))
	c.maybeSynthesize(b)

	observability.VotesCommitted.WithLabelValues(c.topic.ID).Inc()
	observability.CommitDuration.WithLabelValues(c.topic.ID).Observe(time.Since(start).Seconds())
	slog.Info("vote committed", "topic", c.topic.ID, "seq", c.seq, "receipt", entry.Receipt())

	return models.VoteCommitted{Receipt: entry.Receipt(), Seq: c.seq, Quality: b.Quality}, nil
}

// abort rolls back partial tally writes and the reservation. It gets its
// own deadline since the commit's has usually run out by now.
func (c *Coordinator) abort(parent context.Context, adm models.Admission, applied map[string]float64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.cfg.StoreTimeout)
	defer cancel()

	for id, delta := range applied {
		if _, err := c.store.IncrementFloat(ctx, c.key("tally", id), -delta); err != nil {
			slog.Error("failed to roll back tally", "topic", c.topic.ID, "option", id, "error", err)
		}
	}
	c.reserver.Release(ctx, adm)
}

// persistCounters stores what Restore needs beyond the tally. Failures
// degrade restarts, not the vote, so they are only logged.
func (c *Coordinator) persistCounters(ctx context.Context, b models.Ballot) {
	if _, err := c.store.Increment(ctx, c.key("committed"), 1, 0); err != nil {
		slog.Warn("failed to persist commit count", "topic", c.topic.ID, "error", err)
	}
	if !b.Reasoned {
		return
	}
	if _, err := c.store.Increment(ctx, c.key("reasoned"), 1, 0); err != nil {
		slog.Warn("failed to persist reasoned count", "topic", c.topic.ID, "error", err)
	}
	if _, err := c.store.IncrementFloat(ctx, c.key("depth_sum"), b.Quality.Depth); err != nil {
		slog.Warn("failed to persist depth", "topic", c.topic.ID, "error", err)
	}
	if err := c.store.PushCapped(ctx, c.key("reasoning"), b.Reasoning, c.cfg.ReasoningLogSize); err != nil {
		slog.Warn("failed to archive reasoning", "topic", c.topic.ID, "error", err)
	}
}

// publish stores a fresh immutable snapshot for lock-free readers
func (c *Coordinator) publish(at time.Time) models.Snapshot {
	tally := make(map[string]float64, len(c.topic.Options))
	for _, id := range c.topic.OptionIDs() {
		tally[id] = c.tally[id]
	}
	snap := models.Snapshot{
		TopicID:   c.topic.ID,
		Seq:       c.seq,
		Tally:     tally,
		Metrics:   c.agg.Compute(tally),
		UpdatedAt: at,
	}
	c.current.Store(&snap)
	return snap
}

func (c *Coordinator) maybeSynthesize(b models.Ballot) {
	if c.worker == nil {
		return
	}
	if b.Reasoned {
		c.recent = append(c.recent, b.Reasoning)
		if len(c.recent) > c.cfg.SynthesisEvery {
			c.recent = c.recent[len(c.recent)-c.cfg.SynthesisEvery:]
		}
	}
	if c.seq%uint64(c.cfg.SynthesisEvery) != 0 || len(c.recent) == 0 {
		return
	}

	batch := make([]string, len(c.recent))
	copy(batch, c.recent)
	c.recent = c.recent[:0]
	if !c.worker.TrySubmit(synthesis.Job{TopicID: c.topic.ID, Texts: batch}) {
		slog.Warn("synthesis busy, batch skipped", "topic", c.topic.ID, "statements", len(batch))
	}
}

func (c *Coordinator) publishSynthesis(s models.Synthesis) {
	c.hub.Broadcast(NewEvent(models.EventSynthesisUpdate, c.topic.ID, s))
}

func (c *Coordinator) stateEvent(snap models.Snapshot) models.Event {
	return NewEvent(models.EventStateUpdate, c.topic.ID, snap)
}

// NewEvent stamps an event with a fresh id and the current time
func NewEvent(eventType, topicID string, data any) models.Event {
	return models.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TopicID:   topicID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// AuditTrail returns up to n audit entries, newest first
func (c *Coordinator) AuditTrail(ctx context.Context, n int) ([]models.AuditEntry, error) {
	raw, err := c.store.Range(ctx, c.key("audit"), n)
	if err != nil {
		return nil, models.StorageFailure("read audit", err)
	}
	entries := make([]models.AuditEntry, 0, len(raw))
	for _, r := range raw {
		var e models.AuditEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			slog.Warn("skipping corrupt audit entry", "topic", c.topic.ID, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// RecentReasoning returns up to n archived statements, newest first
func (c *Coordinator) RecentReasoning(ctx context.Context, n int) ([]string, error) {
	items, err := c.store.Range(ctx, c.key("reasoning"), n)
	if err != nil {
		return nil, models.StorageFailure("read reasoning", err)
	}
	return items, nil
}
