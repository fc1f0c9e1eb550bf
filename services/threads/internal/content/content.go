// Package content answers whether a content item exists and accepts comments.
// Content storage itself belongs to another service; this package only adapts
// its lookups.
package content

import (
	"context"
	"sync"
)

// Checker reports whether a content item exists.
type Checker interface {
	Exists(ctx context.Context, contentItemID string) (bool, error)
}

// AllowAll accepts every non-empty id. Development only.
type AllowAll struct{}

func (AllowAll) Exists(_ context.Context, id string) (bool, error) {
	return id != "", nil
}

// StaticSet is a fixed in-memory set of content items, used by tests and local
// runs seeded through THREADS_CONTENT_ITEMS.
type StaticSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewStaticSet(ids ...string) *StaticSet {
	s := &StaticSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *StaticSet) Add(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *StaticSet) Remove(id string) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

func (s *StaticSet) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok, nil
}
