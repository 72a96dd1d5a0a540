// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"errors"
	"fmt"
)

// Reason is a machine-readable rejection code sent to clients
type Reason string

const (
	ReasonRateLimited        Reason = "rate_limited"
	ReasonExpired            Reason = "expired"
	ReasonInvalidSession     Reason = "invalid_session"
	ReasonCaptchaFailed      Reason = "captcha_failed"
	ReasonAlreadyVoted       Reason = "already_voted"
	ReasonBudgetExceeded     Reason = "budget_exceeded"
	ReasonUnknownOption      Reason = "unknown_option"
	ReasonNegativeAllocation Reason = "negative_allocation"
	ReasonInvalidPayload     Reason = "invalid_payload"
	ReasonStorageUnavailable Reason = "storage_unavailable"
	ReasonTopicNotFound      Reason = "topic_not_found"
)

// Retryable reports whether the client may try again. Everything else
// requires a fresh credential or is final.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonRateLimited, ReasonExpired, ReasonInvalidPayload, ReasonStorageUnavailable:
		return true
	}
	return false
}

// Rejection is the error type for every refused credential request or vote
type Rejection struct {
	Reason Reason
	Detail string
	Err    error
}

func (r *Rejection) Error() string {
	msg := string(r.Reason)
	if r.Detail != "" {
		msg += ": " + r.Detail
	}
	if r.Err != nil {
		msg += ": " + r.Err.Error()
	}
	return msg
}

func (r *Rejection) Unwrap() error { return r.Err }

// Is matches any *Rejection carrying the same reason, so callers can write
// errors.Is(err, models.Reject(models.ReasonAlreadyVoted, "")).
func (r *Rejection) Is(target error) bool {
	var other *Rejection
	if errors.As(target, &other) {
		return other.Reason == r.Reason
	}
	return false
}

// Reject builds a rejection with an optional formatted detail
func Reject(reason Reason, format string, args ...any) *Rejection {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &Rejection{Reason: reason, Detail: detail}
}

// StorageFailure wraps a storage error as a retryable rejection
func StorageFailure(op string, err error) *Rejection {
	return &Rejection{Reason: ReasonStorageUnavailable, Detail: op, Err: err}
}

// ReasonOf extracts the rejection reason from err. Errors that are not
// rejections report ReasonStorageUnavailable so that nothing unexpected is
// ever mistaken for a terminal verdict.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ReasonStorageUnavailable
}
