package graph

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/cellstore"
	"github.com/vk/dfkernel/internal/ctxlog"
	"github.com/vk/dfkernel/internal/topologystore"
)

// Manager composes a topology store and a cell store.
type Manager struct {
	topology topologystore.Store
	cells    cellstore.Store
	seq      atomic.Uint64
}

// New creates a new graph manager over the given stores.
func New(ts topologystore.Store, cs cellstore.Store) Graph {
	return &Manager{topology: ts, cells: cs}
}

func (m *Manager) Create(ctx context.Context, id cellid.ID) bool {
	created := m.cells.Create(ctx, id)
	if created {
		ctxlog.FromContext(ctx).Debug("Cell record created.", "cell_id", id.String())
	}
	return created
}

func (m *Manager) Record(ctx context.Context, id cellid.ID) (cellstore.Record, bool) {
	return m.cells.Lookup(ctx, id)
}

func (m *Manager) IDs(ctx context.Context) []cellid.ID {
	return m.cells.IDs(ctx)
}

func (m *Manager) SetCode(ctx context.Context, id cellid.ID, code string) error {
	return m.cells.SetCode(ctx, id, code)
}

func (m *Manager) SetFlags(ctx context.Context, id cellid.ID, flags cellstore.Flags) error {
	return m.cells.SetFlags(ctx, id, flags)
}

func (m *Manager) StoreOutput(ctx context.Context, id cellid.ID, value any) (uint64, error) {
	seq := m.seq.Add(1)
	if err := m.cells.SetOutput(ctx, id, value, seq); err != nil {
		return 0, err
	}
	if err := m.cells.SetStale(ctx, id, false); err != nil {
		return 0, err
	}
	ctxlog.FromContext(ctx).Debug("Cell output cached.", "cell_id", id.String(), "seq", seq)
	return seq, nil
}

func (m *Manager) Delete(ctx context.Context, id cellid.ID) error {
	if err := m.cells.Delete(ctx, id); err != nil {
		return err
	}
	m.topology.RemoveCell(ctx, id)
	ctxlog.FromContext(ctx).Debug("Cell record deleted.", "cell_id", id.String())
	return nil
}

func (m *Manager) IsStale(ctx context.Context, id cellid.ID) (bool, error) {
	rec, ok := m.cells.Lookup(ctx, id)
	if !ok {
		return false, fmt.Errorf("cell %q: %w", id, cellstore.ErrNotFound)
	}
	return rec.IsStale(), nil
}

func (m *Manager) MarkStale(ctx context.Context, id cellid.ID) ([]cellid.ID, error) {
	if _, ok := m.cells.Lookup(ctx, id); !ok {
		return nil, fmt.Errorf("cell %q: %w", id, cellstore.ErrNotFound)
	}
	marked := append([]cellid.ID{id}, m.AllDownstream(ctx, id)...)
	for _, cell := range marked {
		// Downstream edges may point at cells deleted since they were recorded.
		if _, ok := m.cells.Lookup(ctx, cell); !ok {
			continue
		}
		if err := m.cells.SetStale(ctx, cell, true); err != nil {
			return nil, err
		}
	}
	ctxlog.FromContext(ctx).Debug("Cells marked stale.", "cell_id", id.String(), "count", len(marked))
	return cellid.Sort(marked), nil
}

func (m *Manager) MarkFresh(ctx context.Context, id cellid.ID) error {
	return m.cells.SetStale(ctx, id, false)
}

func (m *Manager) AddEdge(ctx context.Context, parent, child cellid.ID) bool {
	added := m.topology.AddEdge(ctx, parent, child)
	if added {
		ctxlog.FromContext(ctx).Debug("Dependency edge added.", "parent", parent.String(), "child", child.String())
	}
	return added
}

func (m *Manager) RemoveEdge(ctx context.Context, parent, child cellid.ID) bool {
	return m.topology.RemoveEdge(ctx, parent, child)
}

func (m *Manager) Parents(ctx context.Context, id cellid.ID) []cellid.ID {
	return m.topology.Parents(ctx, id)
}

func (m *Manager) Children(ctx context.Context, id cellid.ID) []cellid.ID {
	return m.topology.Children(ctx, id)
}

func (m *Manager) MarkWhole(ctx context.Context, parent, child cellid.ID) {
	m.topology.MarkWhole(ctx, parent, child)
}

func (m *Manager) Narrow(ctx context.Context, parent, child cellid.ID, item string) {
	m.topology.Narrow(ctx, parent, child, item)
}

func (m *Manager) DetachIncoming(ctx context.Context, id cellid.ID) Incoming {
	in := Incoming{
		Parents:  m.topology.Parents(ctx, id),
		Semantic: m.topology.SemanticParents(ctx, id),
	}
	for _, parent := range in.Parents {
		m.topology.RemoveEdge(ctx, parent, id)
	}
	for parent := range in.Semantic {
		m.topology.SetSemantic(ctx, parent, id, topologystore.Semantic{})
	}
	return in
}

func (m *Manager) RestoreIncoming(ctx context.Context, id cellid.ID, in Incoming) {
	for _, parent := range in.Parents {
		m.topology.AddEdge(ctx, parent, id)
	}
	for parent, sem := range in.Semantic {
		m.topology.SetSemantic(ctx, parent, id, sem)
	}
}

func (m *Manager) SortedBySequence(ctx context.Context) []cellid.ID {
	type entry struct {
		id  cellid.ID
		seq uint64
	}
	var entries []entry
	for _, id := range m.cells.IDs(ctx) {
		rec, ok := m.cells.Lookup(ctx, id)
		if !ok || rec.Seq == 0 {
			continue
		}
		entries = append(entries, entry{id: id, seq: rec.Seq})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]cellid.ID, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out
}
