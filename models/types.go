package models

import "time"

// Event type constants for the push channel
const (
	EventRequestCredential = "request_credential"
	EventSubmitVote        = "submit_vote"
	EventCredentialIssued  = "credential_issued"
	EventVoteRejected      = "vote_rejected"
	EventVoteCommitted     = "vote_committed"
	EventStateUpdate       = "state_update"
	EventSynthesisUpdate   = "synthesis_update"
)

// SourceExternal tags content produced outside the vote pipeline
const SourceExternal = "external"

// Domain types

type Option struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

type Topic struct {
	ID       string   `json:"id" yaml:"id"`
	Title    string   `json:"title" yaml:"title"`
	Question string   `json:"question,omitempty" yaml:"question"`
	Options  []Option `json:"options" yaml:"options"`
}

// HasOption reports whether id names one of the topic's options
func (t Topic) HasOption(id string) bool {
	for _, opt := range t.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}

// OptionIDs returns the option ids in declaration order
func (t Topic) OptionIDs() []string {
	ids := make([]string, len(t.Options))
	for i, opt := range t.Options {
		ids[i] = opt.ID
	}
	return ids
}

// VotingSession is a single-use credential. It is only ever serialized to
// storage; clients receive a CredentialIssued instead.
type VotingSession struct {
	Token            string    `json:"token"`
	TopicID          string    `json:"topic_id"`
	BoundIP          string    `json:"bound_ip"`
	IssuedAt         time.Time `json:"issued_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	CaptchaChallenge string    `json:"captcha_challenge"`
	CaptchaAnswer    string    `json:"captcha_answer"`
	Used             bool      `json:"used"`
}

// Expired reports whether the session is past its expiry at now
func (s VotingSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Allocation maps option id -> credit-vote count
type Allocation map[string]int

type QualityScore struct {
	Depth       float64 `json:"depth"`
	Perspective float64 `json:"perspective"`
	Reasoning   float64 `json:"reasoning"`
	Diversity   float64 `json:"diversity"`
	Overall     float64 `json:"overall"`
	WordCount   int     `json:"word_count"`
	Version     string  `json:"version"`
}

// Admission is the outcome of a successful gate inspection. Nothing has been
// reserved yet when it is produced. Day is the calendar day its daily caps
// are charged against.
type Admission struct {
	TopicID  string
	Token    string
	Identity string
	IP       string
	Subnet   string
	Day      string
	Session  VotingSession
}

// Ballot is a fully validated and scored vote waiting to be committed
type Ballot struct {
	Admission  Admission
	Allocation Allocation
	Cost       int
	Weights    map[string]int
	Reasoning  string
	Reasoned   bool
	Quality    QualityScore
	ReceivedAt time.Time
}

type AuditEntry struct {
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash"`
	Timestamp time.Time `json:"timestamp"`
}

// Receipt returns the short prefix handed back to the voter
func (e AuditEntry) Receipt() string {
	if len(e.Hash) < ReceiptLength {
		return e.Hash
	}
	return e.Hash[:ReceiptLength]
}

// ReceiptLength is the number of hex characters in a vote receipt
const ReceiptLength = 12

type Metrics struct {
	Polarization     float64 `json:"polarization"`
	Gini             float64 `json:"gini"`
	AverageDepth     float64 `json:"average_depth"`
	DeliberationRate float64 `json:"deliberation_rate"`
	Committed        int64   `json:"committed"`
	Reasoned         int64   `json:"reasoned"`
}

type Snapshot struct {
	TopicID   string             `json:"topic_id"`
	Seq       uint64             `json:"seq"`
	Tally     map[string]float64 `json:"tally"`
	Metrics   Metrics            `json:"metrics"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type Synthesis struct {
	BatchID     string    `json:"batch_id"`
	TopicID     string    `json:"topic_id"`
	Themes      string    `json:"themes"`
	Model       string    `json:"model,omitempty"`
	Statements  int       `json:"statements"`
	Source      string    `json:"source"`
	NonBinding  bool      `json:"non_binding"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Event is a single server -> client push message
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	TopicID   string    `json:"topic_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Request types

type SubmitVoteRequest struct {
	Token           string            `json:"token"`
	CaptchaAnswer   string            `json:"captcha_answer"`
	Fingerprint     string            `json:"fingerprint"`
	ExtendedSignals map[string]string `json:"extended_signals,omitempty"`
	Allocation      Allocation        `json:"allocation"`
	Reasoning       string            `json:"reasoning"`
}

// StreamMessage is a client -> server frame on the push channel
type StreamMessage struct {
	Type string             `json:"type"`
	Vote *SubmitVoteRequest `json:"vote,omitempty"`
}

// Response types

type CredentialIssued struct {
	Token     string    `json:"token"`
	Challenge string    `json:"challenge"`
	ExpiresIn int       `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}

type VoteCommitted struct {
	Receipt string       `json:"receipt"`
	Seq     uint64       `json:"seq"`
	Quality QualityScore `json:"quality"`
}

type VoteRejected struct {
	Reason    Reason `json:"reason"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable"`
}

type TopicsResponse struct {
	Topics []Topic `json:"topics"`
	Budget int     `json:"budget"`
}

type AuditView struct {
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash"`
	Timestamp time.Time `json:"timestamp"`
	Committed string    `json:"committed"`
}

type StatusResponse struct {
	Topic     Topic              `json:"topic"`
	Seq       uint64             `json:"seq"`
	Tally     map[string]float64 `json:"tally"`
	Metrics   Metrics            `json:"metrics"`
	Audit     []AuditView        `json:"audit"`
	Reasoning []string           `json:"reasoning"`
}

// Error response

type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Reason    Reason `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
