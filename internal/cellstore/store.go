// Package cellstore defines the interface for storing the mutable per-cell
// state of a notebook kernel: source text, cached output, staleness and the
// execution flags the front end toggles.
//
// # Why Cell Store Exists
//
// The cell store isolates **per-cell state** (code, value cache, staleness)
// from the **dependency structure** (parent/child and semantic edges) managed
// by topologystore. The graph package composes both:
//   - **Clarity:** Staleness propagation walks edges but only writes flags
//   - **Testability:** Record bookkeeping can be validated without a graph
//   - **Flexibility:** The in-memory backend can be swapped without touching the kernel
//
// # Lifecycle and Usage
//
// A record is:
//  1. **Created** on the first code submission for a cell identifier
//  2. **Mutated** on every re-submission (code, staleness) and every successful run (value, sequence)
//  3. **Deleted** when the cell's code becomes empty after it has produced output
//
// A record without a cached output is always stale, whatever its flag says.
// Record.IsStale encodes that rule so every caller observes it.
package cellstore

import (
	"context"
	"errors"

	"github.com/vk/dfkernel/internal/cellid"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("cell record not found")

// Flags are the per-cell execution switches.
type Flags struct {
	// AutoUpdate re-executes the cell when a direct parent completes.
	AutoUpdate bool
	// ForceCached never recomputes the cell: reads return the cache or fail.
	ForceCached bool
	// FunctionOnly marks a cell whose body only runs when invoked as a callable.
	FunctionOnly bool
}

// Record is a snapshot of a single cell.
type Record struct {
	ID       cellid.ID
	Code     string
	Stale    bool
	Value    any
	HasValue bool
	// Seq is the "last computed" counter stamped on each successful run.
	// Zero means the cell never completed.
	Seq   uint64
	Flags Flags
}

// IsStale reports whether the record must be recomputed before its value can
// be trusted.
func (r Record) IsStale() bool {
	return r.Stale || !r.HasValue
}

// Store is the interface for managing cell records.
//
// # Thread-Safety Requirements
//
// The kernel drives a single logical thread of control, but sandboxes may
// service cross-cell reads from transport goroutines. Implementations MUST be
// safe for concurrent use.
//
// # Typical Implementation
//
// See internal/inmemorystore for the reference implementation.
type Store interface {
	// Create registers an empty, stale record. It reports false and leaves the
	// record untouched if the identifier already exists.
	Create(ctx context.Context, id cellid.ID) bool

	// Lookup returns a snapshot of the record.
	Lookup(ctx context.Context, id cellid.ID) (Record, bool)

	// SetCode replaces the stored source text.
	SetCode(ctx context.Context, id cellid.ID, code string) error

	// SetStale sets or clears the staleness flag.
	SetStale(ctx context.Context, id cellid.ID, stale bool) error

	// SetOutput caches a successfully computed value and stamps its sequence
	// number. It does not touch the staleness flag.
	SetOutput(ctx context.Context, id cellid.ID, value any, seq uint64) error

	// SetFlags replaces the execution flags.
	SetFlags(ctx context.Context, id cellid.ID, flags Flags) error

	// Delete removes the record. Deleting a missing record returns ErrNotFound.
	Delete(ctx context.Context, id cellid.ID) error

	// IDs returns every known identifier in lexical order.
	IDs(ctx context.Context) []cellid.ID
}
