package inmemorystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/cellstore"
)

// Store implements cellstore.Store with a map guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	records map[cellid.ID]*cellstore.Record
}

// New creates a new, empty in-memory cell store.
func New() cellstore.Store {
	return &Store{records: make(map[cellid.ID]*cellstore.Record)}
}

func (s *Store) Create(ctx context.Context, id cellid.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; exists {
		return false
	}
	s.records[id] = &cellstore.Record{ID: id, Stale: true}
	return true
}

func (s *Store) Lookup(ctx context.Context, id cellid.ID) (cellstore.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return cellstore.Record{}, false
	}
	return *rec, true
}

func (s *Store) SetCode(ctx context.Context, id cellid.ID, code string) error {
	return s.update(id, func(rec *cellstore.Record) { rec.Code = code })
}

func (s *Store) SetStale(ctx context.Context, id cellid.ID, stale bool) error {
	return s.update(id, func(rec *cellstore.Record) { rec.Stale = stale })
}

func (s *Store) SetOutput(ctx context.Context, id cellid.ID, value any, seq uint64) error {
	return s.update(id, func(rec *cellstore.Record) {
		rec.Value = value
		rec.HasValue = true
		rec.Seq = seq
	})
}

func (s *Store) SetFlags(ctx context.Context, id cellid.ID, flags cellstore.Flags) error {
	return s.update(id, func(rec *cellstore.Record) { rec.Flags = flags })
}

func (s *Store) Delete(ctx context.Context, id cellid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return fmt.Errorf("delete %q: %w", id, cellstore.ErrNotFound)
	}
	delete(s.records, id)
	return nil
}

func (s *Store) IDs(ctx context.Context) []cellid.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]cellid.ID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return cellid.Sort(ids)
}

func (s *Store) update(id cellid.ID, fn func(rec *cellstore.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("cell %q: %w", id, cellstore.ErrNotFound)
	}
	fn(rec)
	return nil
}
