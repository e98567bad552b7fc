package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultKeep bounds the in-memory ledger when no explicit cap is given.
const DefaultKeep = 512

// InMemoryStore keeps the most recent entries in process memory for
// local/dev use. Oldest entries are dropped once the cap is reached.
type InMemoryStore struct {
	mu      sync.RWMutex
	keep    int
	entries []Entry
}

func NewInMemoryStore(keep int) *InMemoryStore {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &InMemoryStore{keep: keep}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, entry)
	if len(s.entries) > s.keep {
		s.entries = s.entries[len(s.entries)-s.keep:]
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *InMemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(s.entries) - 1; i >= len(s.entries)-limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
