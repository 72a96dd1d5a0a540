// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable is returned by every operation once a store is closed
	// or its backend cannot be reached
	ErrUnavailable = errors.New("storage unavailable")
	// ErrNotNumeric is returned when incrementing a key that holds text
	ErrNotNumeric = errors.New("value is not numeric")
)

// Store is the key/value, set, and list contract the engine persists
// through. Implementations must make AddToSet an atomic insert-if-absent
// and must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key. A ttl <= 0 never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Increment adds delta to an integer counter, creating it at zero.
	// A positive ttl is refreshed on every increment.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	IncrementFloat(ctx context.Context, key string, delta float64) (float64, error)

	// AddToSet reports true only for the caller that inserted member
	AddToSet(ctx context.Context, set, member string) (bool, error)
	RemoveFromSet(ctx context.Context, set, member string) error
	SetSize(ctx context.Context, set string) (int64, error)

	// PushCapped prepends value and trims the list to maxLen entries
	PushCapped(ctx context.Context, list, value string, maxLen int) error
	// Range returns up to n entries, newest first. n <= 0 returns all.
	Range(ctx context.Context, list string, n int) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Key joins key segments with ':'
func Key(parts ...string) string {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, ':')
		}
		b = append(b, p...)
	}
	return string(b)
}
