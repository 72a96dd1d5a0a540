// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package storagetest holds the behavioural contract every storage.Store
// implementation must satisfy.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielhkuo/agora/storage"
)

// Factory returns an empty store. Run closes it when each subtest ends.
type Factory func(t *testing.T) storage.Store

// Run exercises the full Store contract against stores from newStore
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"GetMissing", testGetMissing},
		{"SetGetDelete", testSetGetDelete},
		{"SetExpires", testSetExpires},
		{"Increment", testIncrement},
		{"IncrementNotNumeric", testIncrementNotNumeric},
		{"IncrementFloat", testIncrementFloat},
		{"Sets", testSets},
		{"AddToSetConcurrent", testAddToSetConcurrent},
		{"PushCapped", testPushCapped},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func testGetMissing(t *testing.T, s storage.Store) {
	ctx := context.Background()
	v, ok, err := s.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok || v != "" {
		t.Errorf("Expected missing key, got %q (found=%v)", v, ok)
	}
}

func testSetGetDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.Set(ctx, "k", "hello", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "k", "world", 0); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}

	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get() = %q, %v, %v", v, ok, err)
	}
	if v != "world" {
		t.Errorf("Expected 'world', got %q", v)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("Expected key to be gone after Delete")
	}
	if err := s.Delete(ctx, "never-set"); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}
}

func testSetExpires(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.Set(ctx, "short", "v", 50*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "short"); !ok {
		t.Fatal("Expected key before expiry")
	}

	time.Sleep(150 * time.Millisecond)

	if _, ok, err := s.Get(ctx, "short"); err != nil || ok {
		t.Errorf("Expected key to expire, found=%v err=%v", ok, err)
	}
}

func testIncrement(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		n, err := s.Increment(ctx, "counter", 1, time.Hour)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if n != i {
			t.Errorf("Expected %d, got %d", i, n)
		}
	}

	n, err := s.Increment(ctx, "counter", -2, time.Hour)
	if err != nil || n != 1 {
		t.Errorf("Increment(-2) = %d, %v, want 1", n, err)
	}

	v, ok, err := s.Get(ctx, "counter")
	if err != nil || !ok || v != "1" {
		t.Errorf("Get(counter) = %q, %v, %v, want \"1\"", v, ok, err)
	}
}

func testIncrementNotNumeric(t *testing.T, s storage.Store) {
	ctx := context.Background()
	s.Set(ctx, "text", "abc", 0)
	if _, err := s.Increment(ctx, "text", 1, 0); !errors.Is(err, storage.ErrNotNumeric) {
		t.Errorf("Increment() on text error = %v, want ErrNotNumeric", err)
	}
}

func testIncrementFloat(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if _, err := s.IncrementFloat(ctx, "mass", 0.5); err != nil {
		t.Fatalf("IncrementFloat() error = %v", err)
	}
	got, err := s.IncrementFloat(ctx, "mass", 0.25)
	if err != nil {
		t.Fatalf("IncrementFloat() error = %v", err)
	}
	if math.Abs(got-0.75) > 1e-9 {
		t.Errorf("Expected 0.75, got %v", got)
	}
}

func testSets(t *testing.T, s storage.Store) {
	ctx := context.Background()

	added, err := s.AddToSet(ctx, "voters", "alice")
	if err != nil || !added {
		t.Fatalf("AddToSet() = %v, %v, want true", added, err)
	}
	added, err = s.AddToSet(ctx, "voters", "alice")
	if err != nil || added {
		t.Errorf("Second AddToSet() = %v, %v, want false", added, err)
	}
	s.AddToSet(ctx, "voters", "bob")
	s.AddToSet(ctx, "other", "alice")

	if n, err := s.SetSize(ctx, "voters"); err != nil || n != 2 {
		t.Errorf("SetSize() = %d, %v, want 2", n, err)
	}

	if err := s.RemoveFromSet(ctx, "voters", "alice"); err != nil {
		t.Fatalf("RemoveFromSet() error = %v", err)
	}
	if n, _ := s.SetSize(ctx, "voters"); n != 1 {
		t.Errorf("Expected 1 member after remove, got %d", n)
	}
	added, _ = s.AddToSet(ctx, "voters", "alice")
	if !added {
		t.Error("Expected re-add after remove to succeed")
	}

	if n, _ := s.SetSize(ctx, "empty"); n != 0 {
		t.Errorf("Expected empty set size 0, got %d", n)
	}
}

func testAddToSetConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	var winners atomic.Int32

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := s.AddToSet(ctx, "race", "same-member")
			if err != nil {
				t.Errorf("AddToSet() error = %v", err)
				return
			}
			if added {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("Expected exactly 1 insert to win, got %d", winners.Load())
	}
}

func testPushCapped(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if err := s.PushCapped(ctx, "log", fmt.Sprint(i), 3); err != nil {
			t.Fatalf("PushCapped() error = %v", err)
		}
	}

	all, err := s.Range(ctx, "log", 0)
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	want := []string{"5", "4", "3"}
	if len(all) != len(want) {
		t.Fatalf("Expected %v, got %v", want, all)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("Range()[%d] = %q, want %q", i, all[i], want[i])
		}
	}

	two, _ := s.Range(ctx, "log", 2)
	if len(two) != 2 || two[0] != "5" {
		t.Errorf("Range(2) = %v, want [5 4]", two)
	}

	none, err := s.Range(ctx, "no-such-list", 10)
	if err != nil || len(none) != 0 {
		t.Errorf("Range() on missing list = %v, %v", none, err)
	}
}

func testPing(t *testing.T, s storage.Store) {
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
