// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/danielhkuo/agora/auth"
	"github.com/danielhkuo/agora/models"
	"github.com/danielhkuo/agora/storage"
)

// Config holds the abuse limits. Zero values fall back to DefaultConfig.
type Config struct {
	// Secret keys the identity and IP hashes
	Secret string
	// SessionTTL is how long a credential stays valid
	SessionTTL time.Duration
	// CredentialsPerWindow caps credential requests per IP within Window
	CredentialsPerWindow int
	Window               time.Duration
	// DailyVoteCap caps completed votes per IP per calendar day
	DailyVoteCap int
	// SubnetDailyCap caps completed votes per /24 per calendar day
	SubnetDailyCap int
	// Location defines the calendar day. Defaults to time.Local.
	Location *time.Location
	// Clock is injectable for tests
	Clock func() time.Time
}

func DefaultConfig() Config {
	return Config{
		SessionTTL:           30 * time.Minute,
		CredentialsPerWindow: 3,
		Window:               time.Minute,
		DailyVoteCap:         5,
		SubnetDailyCap:       50,
		Location:             time.Local,
		Clock:                time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SessionTTL <= 0 {
		c.SessionTTL = d.SessionTTL
	}
	if c.CredentialsPerWindow <= 0 {
		c.CredentialsPerWindow = d.CredentialsPerWindow
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.DailyVoteCap <= 0 {
		c.DailyVoteCap = d.DailyVoteCap
	}
	if c.SubnetDailyCap <= 0 {
		c.SubnetDailyCap = d.SubnetDailyCap
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	return c
}

// counterTTL outlives the calendar day a counter belongs to
const counterTTL = 48 * time.Hour

// undoTimeout bounds compensating writes, which run on a fresh deadline
const undoTimeout = 5 * time.Second

// Gate issues credentials and decides whether a vote attempt is admitted
type Gate struct {
	store      storage.Store
	challenger Challenger
	cfg        Config

	// mu serializes the window check-and-record so concurrent requests
	// from one address cannot all slip under the limit
	mu sync.Mutex
}

func New(store storage.Store, challenger Challenger, cfg Config) *Gate {
	if challenger == nil {
		challenger = ArithmeticChallenger{}
	}
	return &Gate{store: store, challenger: challenger, cfg: cfg.withDefaults()}
}

// SessionTTL returns the configured credential lifetime
func (g *Gate) SessionTTL() time.Duration {
	return g.cfg.SessionTTL
}

func (g *Gate) now() time.Time {
	return g.cfg.Clock()
}

func (g *Gate) day(t time.Time) string {
	return t.In(g.cfg.Location).Format("2006-01-02")
}

func sessionKey(token string) string {
	return storage.Key("session", token)
}

func (g *Gate) ipKey(ip string, parts ...string) string {
	return storage.Key(append([]string{"ratelimit", "ip", auth.HashIP(ip, g.cfg.Secret)}, parts...)...)
}

func (g *Gate) subnetKey(subnet string, parts ...string) string {
	return storage.Key(append([]string{"ratelimit", "subnet", auth.HashIP(subnet, g.cfg.Secret)}, parts...)...)
}

// VotersKey is the set of identities that have voted on a topic
func VotersKey(topicID string) string {
	return storage.Key("topic", topicID, "voters")
}

// ConsumedKey is the set of session tokens that produced a vote on a topic
func ConsumedKey(topicID string) string {
	return storage.Key("topic", topicID, "consumed")
}

// RequestCredential issues a new session for ip on a topic
func (g *Gate) RequestCredential(ctx context.Context, topicID, ip string) (models.VotingSession, error) {
	if _, err := auth.SubnetKey(ip); err != nil {
		return models.VotingSession{}, models.Reject(models.ReasonInvalidPayload, "client address %q", ip)
	}
	now := g.now()

	if err := g.checkDailyCap(ctx, ip, now); err != nil {
		return models.VotingSession{}, err
	}
	if err := g.recordRequest(ctx, ip, now); err != nil {
		return models.VotingSession{}, err
	}

	token, err := auth.GenerateSessionToken()
	if err != nil {
		return models.VotingSession{}, err
	}
	question, answer, err := g.challenger.NewChallenge()
	if err != nil {
		return models.VotingSession{}, fmt.Errorf("failed to create challenge: %w", err)
	}

	session := models.VotingSession{
		Token:            token,
		TopicID:          topicID,
		BoundIP:          ip,
		IssuedAt:         now,
		ExpiresAt:        now.Add(g.cfg.SessionTTL),
		CaptchaChallenge: question,
		CaptchaAnswer:    answer,
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return models.VotingSession{}, fmt.Errorf("failed to encode session: %w", err)
	}
	// Kept past expiry so a late attempt is told Expired rather than
	// InvalidSession
	if err := g.store.Set(ctx, sessionKey(token), string(raw), 2*g.cfg.SessionTTL); err != nil {
		return models.VotingSession{}, models.StorageFailure("store session", err)
	}

	slog.Info("credential issued", "topic", topicID, "ip_hash", auth.HashIP(ip, g.cfg.Secret))
	return session, nil
}

func (g *Gate) checkDailyCap(ctx context.Context, ip string, now time.Time) error {
	used, err := g.counter(ctx, g.ipKey(ip, "daily", g.day(now)))
	if err != nil {
		return err
	}
	if used >= int64(g.cfg.DailyVoteCap) {
		return models.Reject(models.ReasonRateLimited, "daily vote limit of %d reached", g.cfg.DailyVoteCap)
	}
	return nil
}

func (g *Gate) checkSubnetCap(ctx context.Context, subnet string, now time.Time) error {
	used, err := g.counter(ctx, g.subnetKey(subnet, "daily", g.day(now)))
	if err != nil {
		return err
	}
	if used >= int64(g.cfg.SubnetDailyCap) {
		return models.Reject(models.ReasonRateLimited, "network vote limit reached")
	}
	return nil
}

func (g *Gate) counter(ctx context.Context, key string) (int64, error) {
	v, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return 0, models.StorageFailure("read counter", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, models.StorageFailure("read counter", err)
	}
	return n, nil
}

// recordRequest enforces the sliding window. The list keeps the last K
// request times; if the oldest of them is still inside the window, K
// requests have already been made.
func (g *Gate) recordRequest(ctx context.Context, ip string, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := g.ipKey(ip, "window")
	limit := g.cfg.CredentialsPerWindow

	recent, err := g.store.Range(ctx, key, limit)
	if err != nil {
		return models.StorageFailure("read rate window", err)
	}
	if len(recent) >= limit {
		oldest, err := strconv.ParseInt(recent[limit-1], 10, 64)
		if err == nil && now.Sub(time.UnixMilli(oldest)) < g.cfg.Window {
			return models.Reject(models.ReasonRateLimited, "too many credential requests, try again shortly")
		}
	}

	if err := g.store.PushCapped(ctx, key, strconv.FormatInt(now.UnixMilli(), 10), limit); err != nil {
		return models.StorageFailure("record rate window", err)
	}
	return nil
}

// Attempt is what a client presents when casting a vote
type Attempt struct {
	TopicID       string
	Token         string
	IP            string
	Fingerprint   string
	Signals       map[string]string
	CaptchaAnswer string
}

// Admit inspects an attempt without reserving anything. The only side
// effects are evicting a session that has expired or failed its CAPTCHA.
func (g *Gate) Admit(ctx context.Context, a Attempt) (models.Admission, error) {
	if err := auth.ValidateTokenFormat(a.Token); err != nil {
		return models.Admission{}, models.Reject(models.ReasonInvalidSession, "malformed token")
	}

	raw, ok, err := g.store.Get(ctx, sessionKey(a.Token))
	if err != nil {
		return models.Admission{}, models.StorageFailure("load session", err)
	}
	if !ok {
		return models.Admission{}, models.Reject(models.ReasonInvalidSession, "unknown or used session")
	}

	var session models.VotingSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return models.Admission{}, models.Reject(models.ReasonInvalidSession, "corrupt session")
	}
	if session.Used {
		return models.Admission{}, models.Reject(models.ReasonInvalidSession, "session already used")
	}
	if session.TopicID != a.TopicID {
		return models.Admission{}, models.Reject(models.ReasonInvalidSession, "session belongs to another topic")
	}

	now := g.now()
	if session.Expired(now) {
		g.evict(ctx, a.Token, "expired")
		return models.Admission{}, models.Reject(models.ReasonExpired, "session expired")
	}
	if a.IP != session.BoundIP {
		return models.Admission{}, models.Reject(models.ReasonInvalidSession, "session bound to another address")
	}

	subnet, err := auth.SubnetKey(session.BoundIP)
	if err != nil {
		return models.Admission{}, models.Reject(models.ReasonInvalidSession, "session address invalid")
	}
	if err := g.checkSubnetCap(ctx, subnet, now); err != nil {
		return models.Admission{}, err
	}
	if err := g.checkDailyCap(ctx, session.BoundIP, now); err != nil {
		return models.Admission{}, err
	}

	if !answerMatches(session.CaptchaAnswer, a.CaptchaAnswer) {
		g.evict(ctx, a.Token, "captcha failed")
		return models.Admission{}, models.Reject(models.ReasonCaptchaFailed, "")
	}

	return models.Admission{
		TopicID:  a.TopicID,
		Token:    a.Token,
		Identity: auth.IdentityHash(g.cfg.Secret, a.Fingerprint, a.Signals, session.BoundIP, a.Token),
		IP:       session.BoundIP,
		Subnet:   subnet,
		Day:      g.day(now),
		Session:  session,
	}, nil
}

func (g *Gate) evict(ctx context.Context, token, why string) {
	if err := g.store.Delete(ctx, sessionKey(token)); err != nil {
		slog.Warn("failed to evict session", "reason", why, "error", err)
	}
}

// Reserve atomically claims the voter identity and the session, then
// charges the daily caps. Every step is an atomic store operation, so
// concurrent commits cannot overshoot a cap; anything already claimed is
// undone when a later step fails.
func (g *Gate) Reserve(ctx context.Context, adm models.Admission) error {
	added, err := g.store.AddToSet(ctx, VotersKey(adm.TopicID), adm.Identity)
	if err != nil {
		return models.StorageFailure("reserve identity", err)
	}
	if !added {
		return models.Reject(models.ReasonAlreadyVoted, "")
	}

	added, err = g.store.AddToSet(ctx, ConsumedKey(adm.TopicID), adm.Token)
	if err != nil || !added {
		undo, cancel := detached(ctx)
		defer cancel()
		g.removeIdentity(undo, adm)
		if err != nil {
			return models.StorageFailure("claim session", err)
		}
		return models.Reject(models.ReasonAlreadyVoted, "session already used")
	}

	if err := g.chargeDailyCaps(ctx, adm); err != nil {
		undo, cancel := detached(ctx)
		defer cancel()
		g.removeIdentity(undo, adm)
		g.removeToken(undo, adm)
		return err
	}
	return nil
}

// chargeDailyCaps counts the vote against the address and /24 caps and
// refunds whatever it charged if either cap is exceeded
func (g *Gate) chargeDailyCaps(ctx context.Context, adm models.Admission) error {
	ipKey := g.ipKey(adm.IP, "daily", adm.Day)
	n, err := g.store.Increment(ctx, ipKey, 1, counterTTL)
	if err != nil {
		return models.StorageFailure("count daily vote", err)
	}
	if n > int64(g.cfg.DailyVoteCap) {
		g.refund(ctx, ipKey)
		return models.Reject(models.ReasonRateLimited, "daily vote limit of %d reached", g.cfg.DailyVoteCap)
	}

	subnetKey := g.subnetKey(adm.Subnet, "daily", adm.Day)
	n, err = g.store.Increment(ctx, subnetKey, 1, counterTTL)
	if err != nil {
		g.refund(ctx, ipKey)
		return models.StorageFailure("count subnet vote", err)
	}
	if n > int64(g.cfg.SubnetDailyCap) {
		g.refund(ctx, subnetKey)
		g.refund(ctx, ipKey)
		return models.Reject(models.ReasonRateLimited, "network vote limit reached")
	}
	return nil
}

func (g *Gate) refund(ctx context.Context, key string) {
	undo, cancel := detached(ctx)
	defer cancel()
	if _, err := g.store.Increment(undo, key, -1, counterTTL); err != nil {
		slog.Error("failed to refund daily vote", "error", err)
	}
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), undoTimeout)
}

// Release undoes Reserve after a later commit step failed
func (g *Gate) Release(ctx context.Context, adm models.Admission) {
	g.removeIdentity(ctx, adm)
	g.removeToken(ctx, adm)
	g.refund(ctx, g.ipKey(adm.IP, "daily", adm.Day))
	g.refund(ctx, g.subnetKey(adm.Subnet, "daily", adm.Day))
}

func (g *Gate) removeIdentity(ctx context.Context, adm models.Admission) {
	if err := g.store.RemoveFromSet(ctx, VotersKey(adm.TopicID), adm.Identity); err != nil {
		slog.Error("failed to release identity", "topic", adm.TopicID, "error", err)
	}
}

func (g *Gate) removeToken(ctx context.Context, adm models.Admission) {
	if err := g.store.RemoveFromSet(ctx, ConsumedKey(adm.TopicID), adm.Token); err != nil {
		slog.Error("failed to release session", "topic", adm.TopicID, "error", err)
	}
}

// Complete marks the session used once the vote is durable. The daily caps
// were already charged by Reserve.
func (g *Gate) Complete(ctx context.Context, adm models.Admission) {
	g.markUsed(ctx, adm.Session)
}

// markUsed keeps the session around until its storage TTL so replays are
// told the credential was already used
func (g *Gate) markUsed(ctx context.Context, session models.VotingSession) {
	remaining := session.IssuedAt.Add(2 * g.cfg.SessionTTL).Sub(g.now())
	if remaining <= 0 {
		g.evict(ctx, session.Token, "consumed")
		return
	}

	session.Used = true
	raw, err := json.Marshal(session)
	if err == nil {
		err = g.store.Set(ctx, sessionKey(session.Token), string(raw), remaining)
	}
	if err != nil {
		slog.Warn("failed to mark session used", "topic", session.TopicID, "error", err)
		g.evict(ctx, session.Token, "consumed")
	}
}
