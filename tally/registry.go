// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package tally

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/danielhkuo/agora/models"
)

// Registry holds one coordinator per topic
type Registry struct {
	coords map[string]*Coordinator
}

func NewRegistry(coords ...*Coordinator) *Registry {
	r := &Registry{coords: make(map[string]*Coordinator, len(coords))}
	for _, c := range coords {
		r.coords[c.Topic().ID] = c
	}
	return r
}

// Get returns the coordinator for a topic id
func (r *Registry) Get(topicID string) (*Coordinator, bool) {
	c, ok := r.coords[topicID]
	return c, ok
}

// Topics lists the configured topics sorted by id
func (r *Registry) Topics() []models.Topic {
	topics := make([]models.Topic, 0, len(r.coords))
	for _, c := range r.coords {
		topics = append(topics, c.Topic())
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].ID < topics[j].ID })
	return topics
}

// Restore rebuilds every coordinator from storage
func (r *Registry) Restore(ctx context.Context) error {
	for _, c := range r.coords {
		if err := c.Restore(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run runs all coordinators until ctx is cancelled
func (r *Registry) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range r.coords {
		g.Go(func() error { return c.Run(ctx) })
	}
	return g.Wait()
}
