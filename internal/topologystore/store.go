// Package topologystore defines the interface for storing the dependency
// edges between notebook cells.
//
// # Why Topology Store Exists
//
// The topology store keeps the **dependency structure** (who reads whom)
// apart from the **per-cell state** (code, cached values, staleness) held by
// cellstore. Unlike a build graph, this topology is live: an edge is added
// every time one cell reads another's output, and a cell's incoming edges are
// cleared and re-learned whenever it is re-run.
//
// # Edge Kinds
//
//   - **Dependency edge** parent→child: child's code read parent's output.
//     Stored in both directions so Parents and Children are O(1) lookups.
//   - **Semantic edge** parent→child: the same pair annotated with which
//     items of parent's multi-output result child consumed. It starts as a
//     coarse whole-cell record and narrows as specific items are read.
//
// # Cycles
//
// The store does not reject cycles or self-edges. A structural cycle can
// exist transiently while a cell executes; the kernel detects it before
// re-entering a cell and rolls the offending edges back.
package topologystore

import (
	"context"

	"github.com/vk/dfkernel/internal/cellid"
)

// Edge is a directed parent→child dependency.
type Edge struct {
	Parent cellid.ID
	Child  cellid.ID
}

// Semantic records what a child consumed from a parent.
type Semantic struct {
	// Whole is set while the child depends on the parent's entire output.
	Whole bool
	// Items lists the specific result items read, in lexical order.
	Items []string
}

// Store is the interface for managing dependency edges.
//
// # Thread-Safety Requirements
//
// Implementations MUST be safe for concurrent use.
//
// # Typical Implementation
//
// See internal/inmemorytopology for the reference in-memory implementation
// using maps and sync.RWMutex.
type Store interface {
	// AddEdge records parent→child. It reports whether the edge is new, so
	// callers can roll back exactly the edges they introduced.
	AddEdge(ctx context.Context, parent, child cellid.ID) bool

	// RemoveEdge deletes parent→child and its semantic record, reporting
	// whether the edge existed.
	RemoveEdge(ctx context.Context, parent, child cellid.ID) bool

	// HasEdge reports whether parent→child exists.
	HasEdge(ctx context.Context, parent, child cellid.ID) bool

	// Parents returns the direct upstream cells of id in lexical order.
	Parents(ctx context.Context, id cellid.ID) []cellid.ID

	// Children returns the direct downstream cells of id in lexical order.
	Children(ctx context.Context, id cellid.ID) []cellid.ID

	// MarkWhole records that child consumed parent's whole output.
	MarkWhole(ctx context.Context, parent, child cellid.ID)

	// Narrow records that child consumed item from parent's output and
	// retracts the whole-cell record for the pair.
	Narrow(ctx context.Context, parent, child cellid.ID, item string)

	// SetSemantic replaces the semantic record for the pair. A zero Semantic
	// removes it.
	SetSemantic(ctx context.Context, parent, child cellid.ID, sem Semantic)

	// SemanticParents returns child's semantic records keyed by parent.
	SemanticParents(ctx context.Context, child cellid.ID) map[cellid.ID]Semantic

	// SemanticChildren returns parent's semantic records keyed by child.
	SemanticChildren(ctx context.Context, parent cellid.ID) map[cellid.ID]Semantic

	// RemoveCell deletes every edge and semantic record id participates in,
	// in both directions.
	RemoveCell(ctx context.Context, id cellid.ID)
}
