// Package inmemorytopology provides a simple, thread-safe, in-memory
// implementation of the topologystore.Store interface.
package inmemorytopology

import (
	"context"
	"sort"
	"sync"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/topologystore"
)

type idSet map[cellid.ID]struct{}

// semantic is the mutable form of topologystore.Semantic.
type semantic struct {
	whole bool
	items map[string]struct{}
}

func (s *semantic) export() topologystore.Semantic {
	out := topologystore.Semantic{Whole: s.whole}
	for item := range s.items {
		out.Items = append(out.Items, item)
	}
	sort.Strings(out.Items)
	return out
}

// Store implements topologystore.Store using adjacency maps in both
// directions and a mutex for thread-safe concurrent access.
type Store struct {
	mu       sync.RWMutex
	parents  map[cellid.ID]idSet // Key: child, Value: set of parents
	children map[cellid.ID]idSet // Key: parent, Value: set of children

	// Both maps share *semantic values, keyed from either end.
	semParents  map[cellid.ID]map[cellid.ID]*semantic
	semChildren map[cellid.ID]map[cellid.ID]*semantic
}

// New creates a new, empty in-memory topology store.
func New() topologystore.Store {
	return &Store{
		parents:     make(map[cellid.ID]idSet),
		children:    make(map[cellid.ID]idSet),
		semParents:  make(map[cellid.ID]map[cellid.ID]*semantic),
		semChildren: make(map[cellid.ID]map[cellid.ID]*semantic),
	}
}

func (s *Store) AddEdge(ctx context.Context, parent, child cellid.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.parents[child][parent]; exists {
		return false
	}
	addTo(s.parents, child, parent)
	addTo(s.children, parent, child)
	return true
}

func (s *Store) RemoveEdge(ctx context.Context, parent, child cellid.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropSemantic(parent, child)
	if _, exists := s.parents[child][parent]; !exists {
		return false
	}
	removeFrom(s.parents, child, parent)
	removeFrom(s.children, parent, child)
	return true
}

func (s *Store) HasEdge(ctx context.Context, parent, child cellid.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.parents[child][parent]
	return exists
}

func (s *Store) Parents(ctx context.Context, id cellid.ID) []cellid.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cellid.SetToSlice(s.parents[id])
}

func (s *Store) Children(ctx context.Context, id cellid.ID) []cellid.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cellid.SetToSlice(s.children[id])
}

func (s *Store) MarkWhole(ctx context.Context, parent, child cellid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.semanticFor(parent, child).whole = true
}

func (s *Store) Narrow(ctx context.Context, parent, child cellid.ID, item string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sem := s.semanticFor(parent, child)
	sem.whole = false
	sem.items[item] = struct{}{}
}

func (s *Store) SetSemantic(ctx context.Context, parent, child cellid.ID, in topologystore.Semantic) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !in.Whole && len(in.Items) == 0 {
		s.dropSemantic(parent, child)
		return
	}
	sem := s.semanticFor(parent, child)
	sem.whole = in.Whole
	sem.items = make(map[string]struct{}, len(in.Items))
	for _, item := range in.Items {
		sem.items[item] = struct{}{}
	}
}

func (s *Store) SemanticParents(ctx context.Context, child cellid.ID) map[cellid.ID]topologystore.Semantic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return exportAll(s.semParents[child])
}

func (s *Store) SemanticChildren(ctx context.Context, parent cellid.ID) map[cellid.ID]topologystore.Semantic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return exportAll(s.semChildren[parent])
}

func (s *Store) RemoveCell(ctx context.Context, id cellid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for parent := range s.parents[id] {
		removeFrom(s.children, parent, id)
		s.dropSemantic(parent, id)
	}
	for child := range s.children[id] {
		removeFrom(s.parents, child, id)
		s.dropSemantic(id, child)
	}
	delete(s.parents, id)
	delete(s.children, id)
	for parent := range s.semParents[id] {
		s.dropSemantic(parent, id)
	}
	for child := range s.semChildren[id] {
		s.dropSemantic(id, child)
	}
}

// semanticFor returns the record for the pair, creating it if needed.
// Callers must hold the write lock.
func (s *Store) semanticFor(parent, child cellid.ID) *semantic {
	if sem, ok := s.semParents[child][parent]; ok {
		return sem
	}
	sem := &semantic{items: make(map[string]struct{})}
	if s.semParents[child] == nil {
		s.semParents[child] = make(map[cellid.ID]*semantic)
	}
	if s.semChildren[parent] == nil {
		s.semChildren[parent] = make(map[cellid.ID]*semantic)
	}
	s.semParents[child][parent] = sem
	s.semChildren[parent][child] = sem
	return sem
}

// dropSemantic removes the record for the pair. Callers must hold the write lock.
func (s *Store) dropSemantic(parent, child cellid.ID) {
	if m := s.semParents[child]; m != nil {
		delete(m, parent)
		if len(m) == 0 {
			delete(s.semParents, child)
		}
	}
	if m := s.semChildren[parent]; m != nil {
		delete(m, child)
		if len(m) == 0 {
			delete(s.semChildren, parent)
		}
	}
}

func exportAll(in map[cellid.ID]*semantic) map[cellid.ID]topologystore.Semantic {
	out := make(map[cellid.ID]topologystore.Semantic, len(in))
	for id, sem := range in {
		out[id] = sem.export()
	}
	return out
}

func addTo(m map[cellid.ID]idSet, key, value cellid.ID) {
	if m[key] == nil {
		m[key] = make(idSet)
	}
	m[key][value] = struct{}{}
}

func removeFrom(m map[cellid.ID]idSet, key, value cellid.ID) {
	set := m[key]
	if set == nil {
		return
	}
	delete(set, value)
	if len(set) == 0 {
		delete(m, key)
	}
}
