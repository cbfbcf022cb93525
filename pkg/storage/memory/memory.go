// Package memory provides an in-memory storage.HistoryStore for tests and
// single-process deployments. Entries are lost on restart; once maxSize is
// reached the oldest entry is evicted.
package memory

import (
	"context"
	"container/list"
	"sync"

	"github.com/rhuss/toolbridge/pkg/api"
	"github.com/rhuss/toolbridge/pkg/executor"
	"github.com/rhuss/toolbridge/pkg/storage"
)

type record struct {
	entry    api.ExecutionHistoryEntry
	tenantID string
}

// Store is an in-memory HistoryStore.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*list.Element
	order   *list.List // front = newest
	maxSize int        // 0 = unlimited
}

var (
	_ storage.HistoryStore     = (*Store)(nil)
	_ executor.HistoryRecorder = (*Store)(nil)
)

// New creates a store holding at most maxSize entries. Zero means no
// limit.
func New(maxSize int) *Store {
	return &Store{
		byID:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// RecordExecution stores a finalized entry.
func (s *Store) RecordExecution(ctx context.Context, entry api.ExecutionHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[entry.RequestID]; exists {
		return storage.ErrConflict
	}
	if s.maxSize > 0 && s.order.Len() >= s.maxSize {
		s.evictOldest()
	}
	s.byID[entry.RequestID] = s.order.PushFront(&record{
		entry:    entry,
		tenantID: storage.GetTenant(ctx),
	})
	return nil
}

// GetExecution returns one entry by request ID.
func (s *Store) GetExecution(ctx context.Context, requestID string) (api.ExecutionHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	elem, ok := s.byID[requestID]
	if !ok {
		return api.ExecutionHistoryEntry{}, storage.ErrNotFound
	}
	rec := elem.Value.(*record)
	if tenant := storage.GetTenant(ctx); tenant != "" && rec.tenantID != tenant {
		return api.ExecutionHistoryEntry{}, storage.ErrNotFound
	}
	return rec.entry, nil
}

// ListExecutions returns matching entries, newest first.
func (s *Store) ListExecutions(ctx context.Context, filter storage.Filter) ([]api.ExecutionHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant := storage.GetTenant(ctx)
	limit := filter.MaxResults()
	var out []api.ExecutionHistoryEntry
	for elem := s.order.Front(); elem != nil && len(out) < limit; elem = elem.Next() {
		rec := elem.Value.(*record)
		if tenant != "" && rec.tenantID != tenant {
			continue
		}
		if filter.Matches(rec.entry) {
			out = append(out, rec.entry)
		}
	}
	return out, nil
}

// HealthCheck always succeeds.
func (s *Store) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order.Len()
}

func (s *Store) evictOldest() {
	back := s.order.Back()
	if back == nil {
		return
	}
	s.order.Remove(back)
	delete(s.byID, back.Value.(*record).entry.RequestID)
}
