// Package sink defines the storage collaborator the server pipeline
// hands decoded fixes to.  The interface is the only contract this
// system specifies; the persistent geospatial store behind it is
// supplied by the deployment, so no database driver is wired here.
package sink

import (
	"context"
	"sync"

	"github.com/goblimey/outpost/internal/fix"
)

// Sink persists an ordered batch of reconstructed fixes, signalling
// success or failure synchronously with the caller (the server
// handler).
type Sink interface {
	Append(ctx context.Context, fixes fix.Batch) error
}

// MemorySink is an in-process Sink used by tests and by the reference
// server binary when no external store is configured. It retains a
// bounded in-memory history in arrival order rather than an unbounded
// slice, so a long test harness or demo run can't grow memory without
// limit.
type MemorySink struct {
	mu      sync.Mutex
	entries []fix.Batch
	next    int
	filled  int
}

// NewMemorySink returns a MemorySink retaining up to capacity batches.
func NewMemorySink(capacity int) *MemorySink {
	return &MemorySink{entries: make([]fix.Batch, capacity)}
}

// Append stores batch, overwriting the oldest retained batch once
// capacity is reached.
func (s *MemorySink) Append(ctx context.Context, batch fix.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[s.next] = batch
	s.next = (s.next + 1) % len(s.entries)
	if s.filled < len(s.entries) {
		s.filled++
	}
	return nil
}

// All returns every retained batch, oldest first.
func (s *MemorySink) All() []fix.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]fix.Batch, 0, s.filled)
	start := (s.next - s.filled + len(s.entries)) % len(s.entries)
	for i := 0; i < s.filled; i++ {
		out = append(out, s.entries[(start+i)%len(s.entries)])
	}
	return out
}
