// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the cellstore.Store interface.
//
// # Characteristics
//
//   - **Ephemeral:** The graph and cache live only as long as the kernel process
//   - **Thread-Safe:** A single RWMutex guards the record map
//   - **Snapshot Reads:** Lookup copies the record so callers never alias store state
//
// # Concurrency Model
//
// Unlike a sync.Map keyed store, updates here are read-modify-write on a
// single record (flip the stale flag, keep the value), so a plain mutex is
// the simpler correct choice. Contention is negligible: only one cell
// executes at a time.
package inmemorystore
