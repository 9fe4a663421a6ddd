package memory

import (
	"context"
	"sync"

	"github.com/stevenmcsorley/sec-filing-intelligence/internal/core/ports/driven"
)

// Ensure SeenSet implements the interface.
var _ driven.SeenSet = (*SeenSet)(nil)

// SeenSet is an in-memory implementation of driven.SeenSet for testing.
type SeenSet struct {
	mu   sync.Mutex
	keys map[string]bool
}

// NewSeenSet creates a new in-memory seen set.
func NewSeenSet() *SeenSet {
	return &SeenSet{keys: make(map[string]bool)}
}

// MarkSeen records the key and reports whether it was newly added.
func (s *SeenSet) MarkSeen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	return true, nil
}

// Contains reports whether the key has been seen.
func (s *SeenSet) Contains(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], nil
}
