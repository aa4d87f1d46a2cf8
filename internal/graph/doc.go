// Package graph provides a unified facade over the kernel's dependency graph
// and value cache, combining edge structure and per-cell state.
//
// # Why Graph Package Exists
//
// The kernel reasons in terms of "mark everything downstream of this cell
// stale" or "which cells can reach this one", both of which need edges from
// topologystore and flags from cellstore. The Graph interface performs those
// combined operations in one place so the kernel never coordinates the two
// stores itself.
//
// # Architecture: The Facade Pattern
//
//	┌─────────────────────────────────────┐
//	│           Graph Facade              │
//	│  (staleness, traversal, ordering)   │
//	└──────────┬────────────┬─────────────┘
//	           │            │
//	           ▼            ▼
//	  ┌────────────┐  ┌────────────┐
//	  │  Topology  │  │    Cell    │
//	  │   Store    │  │   Store    │
//	  │  (Edges)   │  │  (Records) │
//	  └────────────┘  └────────────┘
//
// # Staleness
//
// MarkStale flags a cell and everything reachable through downstream edges.
// MarkFresh clears a single cell only: recomputing a cell does not validate
// descendants that were computed against its previous value. A cell without a
// cached value is always stale.
//
// # Traversal
//
// AllUpstream and AllDownstream are visited-set guarded breadth-first walks
// that exclude the starting cell. They terminate on cyclic edge sets, which
// can exist transiently while a cell executes.
package graph
