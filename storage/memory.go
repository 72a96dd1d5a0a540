// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps everything in process. Data is lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	kv     *gocache.Cache
	sets   map[string]map[string]struct{}
	lists  map[string][]string
	closed bool
}

// NewMemoryStore creates an in-process store. Expired keys are evicted
// lazily on read; a positive cleanupInterval also starts go-cache's
// background janitor, which runs until the store is garbage collected.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		kv:    gocache.New(gocache.NoExpiration, cleanupInterval),
		sets:  make(map[string]map[string]struct{}),
		lists: make(map[string][]string),
	}
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrUnavailable
	}
	v, ok := m.kv.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	m.kv.Set(key, value, expiration(ttl))
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	m.kv.Delete(key)
	return nil
}

func (m *MemoryStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrUnavailable
	}

	var cur int64
	if v, ok := m.kv.Get(key); ok {
		n, err := strconv.ParseInt(v.(string), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrNotNumeric, key)
		}
		cur = n
	}
	cur += delta
	m.kv.Set(key, strconv.FormatInt(cur, 10), expiration(ttl))
	return cur, nil
}

func (m *MemoryStore) IncrementFloat(ctx context.Context, key string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrUnavailable
	}

	var cur float64
	if v, ok := m.kv.Get(key); ok {
		f, err := strconv.ParseFloat(v.(string), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrNotNumeric, key)
		}
		cur = f
	}
	cur += delta
	m.kv.Set(key, strconv.FormatFloat(cur, 'f', -1, 64), gocache.NoExpiration)
	return cur, nil
}

func (m *MemoryStore) AddToSet(ctx context.Context, set, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrUnavailable
	}

	members, ok := m.sets[set]
	if !ok {
		members = make(map[string]struct{})
		m.sets[set] = members
	}
	if _, exists := members[member]; exists {
		return false, nil
	}
	members[member] = struct{}{}
	return true, nil
}

func (m *MemoryStore) RemoveFromSet(ctx context.Context, set, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	delete(m.sets[set], member)
	return nil
}

func (m *MemoryStore) SetSize(ctx context.Context, set string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrUnavailable
	}
	return int64(len(m.sets[set])), nil
}

func (m *MemoryStore) PushCapped(ctx context.Context, list, value string, maxLen int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}

	items := append([]string{value}, m.lists[list]...)
	if maxLen > 0 && len(items) > maxLen {
		items = items[:maxLen]
	}
	m.lists[list] = items
	return nil
}

func (m *MemoryStore) Range(ctx context.Context, list string, n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrUnavailable
	}

	items := m.lists[list]
	if n > 0 && len(items) > n {
		items = items[:n]
	}
	out := make([]string, len(items))
	copy(out, items)
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	return nil
}

// Close discards all data. Every later call returns ErrUnavailable.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.kv.Flush()
	m.sets = nil
	m.lists = nil
	return nil
}
