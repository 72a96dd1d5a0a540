// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines domain, request, response, and event types shared by
the engine and its transports.

# Domain Types

  - Topic, Option: what voters allocate credits across
  - VotingSession: a single-use credential bound to an address and topic
  - Allocation: option id to vote count
  - QualityScore: depth, evidence, counterargument and overall scores
  - Admission: a gate-approved attempt with its voter identity
  - Ballot: an admitted, scored vote ready to commit
  - AuditEntry: one link of the hash-chained audit log
  - Metrics, Snapshot: published tally state
  - Synthesis: a summary of recent reasoning

# Wire Types

  - SubmitVoteRequest: token, captcha answer, weights, reasoning
  - StreamMessage: client frames on the WebSocket
  - Event: server frames, tagged with one of the Event* constants
  - CredentialIssued, VoteCommitted, VoteRejected: event payloads
  - TopicsResponse, StatusResponse, AuditView, ErrorResponse

# Rejections

Every refused vote is a *Rejection carrying a Reason. Only
ReasonStorageUnavailable is retryable; the credential survives it.
*/
package models
