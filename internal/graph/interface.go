package graph

import (
	"context"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/cellstore"
	"github.com/vk/dfkernel/internal/topologystore"
)

// Incoming is a snapshot of a cell's parent edges and their semantic records,
// taken before the cell re-runs so the edges can be restored if it fails.
type Incoming struct {
	Parents  []cellid.ID
	Semantic map[cellid.ID]topologystore.Semantic
}

// Graph is the kernel's view of cells, their cached values and the edges
// between them.
type Graph interface {
	// Create registers a cell record, reporting whether it was new.
	Create(ctx context.Context, id cellid.ID) bool
	// Record returns a snapshot of a cell.
	Record(ctx context.Context, id cellid.ID) (cellstore.Record, bool)
	// IDs returns every known cell.
	IDs(ctx context.Context) []cellid.ID
	SetCode(ctx context.Context, id cellid.ID, code string) error
	SetFlags(ctx context.Context, id cellid.ID, flags cellstore.Flags) error
	// StoreOutput caches a computed value, stamps the next sequence number
	// and marks the cell fresh. It returns the stamped sequence number.
	StoreOutput(ctx context.Context, id cellid.ID, value any) (uint64, error)
	// Delete removes the record and every edge the cell participates in.
	Delete(ctx context.Context, id cellid.ID) error

	IsStale(ctx context.Context, id cellid.ID) (bool, error)
	// MarkStale flags id and every cell downstream of it, returning the
	// flagged cells in lexical order.
	MarkStale(ctx context.Context, id cellid.ID) ([]cellid.ID, error)
	MarkFresh(ctx context.Context, id cellid.ID) error

	AddEdge(ctx context.Context, parent, child cellid.ID) bool
	RemoveEdge(ctx context.Context, parent, child cellid.ID) bool
	Parents(ctx context.Context, id cellid.ID) []cellid.ID
	Children(ctx context.Context, id cellid.ID) []cellid.ID
	MarkWhole(ctx context.Context, parent, child cellid.ID)
	Narrow(ctx context.Context, parent, child cellid.ID, item string)

	// DetachIncoming removes every parent edge of id and returns what was removed.
	DetachIncoming(ctx context.Context, id cellid.ID) Incoming
	// RestoreIncoming re-adds edges captured by DetachIncoming.
	RestoreIncoming(ctx context.Context, id cellid.ID, in Incoming)

	AllUpstream(ctx context.Context, id cellid.ID) []cellid.ID
	AllDownstream(ctx context.Context, id cellid.ID) []cellid.ID
	// SemanticUpstream maps each direct parent to the items id consumed from
	// it. A nil slice means the whole output was consumed.
	SemanticUpstream(ctx context.Context, id cellid.ID) map[cellid.ID][]string
	// AllSemanticUpstream is the transitive closure of SemanticUpstream.
	AllSemanticUpstream(ctx context.Context, id cellid.ID) map[cellid.ID][]string
	// AllSemanticDownstream maps every transitive consumer of id to the items
	// it consumed from its own parent on the path.
	AllSemanticDownstream(ctx context.Context, id cellid.ID) map[cellid.ID][]string

	// SortedBySequence lists computed cells by ascending sequence number.
	SortedBySequence(ctx context.Context) []cellid.ID
}
