// Package result implements the multi-output value a cell produces when its
// trailing statement exports several bindings.
//
// A Result is an ordered name→value mapping. Library re-exports (top-level
// imports) lead the ordering and are skipped by positional access and by
// Project. Every successful Get or Index reports the item to the attached
// Tracker, which is how the kernel narrows a consumer's dependency from the
// whole cell to the items it actually used.
package result

import (
	"fmt"

	"github.com/vk/dfkernel/internal/cellid"
)

// Tracker receives item-level reads.
type Tracker interface {
	RecordItemRead(producer cellid.ID, item string)
}

// Entry is one exported binding.
type Entry struct {
	Key   string
	Value any
}

// Tuple is the projection of a result with several non-library values.
type Tuple []any

// Result is a cell's multi-output value.
type Result struct {
	cell    cellid.ID
	keys    []string
	values  map[string]any
	libs    int
	tracker Tracker
}

// New builds a result owned by cell. libs lead the key order. Entries with a
// nil value are dropped unless keepNone is set; library entries are always
// kept.
func New(cell cellid.ID, libs []Entry, entries []Entry, keepNone bool) *Result {
	r := &Result{cell: cell, values: make(map[string]any, len(libs)+len(entries))}
	for _, e := range libs {
		if r.add(e) {
			r.libs++
		}
	}
	for _, e := range entries {
		if e.Value == nil && !keepNone {
			continue
		}
		r.add(e)
	}
	return r
}

func (r *Result) add(e Entry) bool {
	if _, dup := r.values[e.Key]; dup {
		return false
	}
	r.keys = append(r.keys, e.Key)
	r.values[e.Key] = e.Value
	return true
}

// Cell returns the owning cell.
func (r *Result) Cell() cellid.ID { return r.cell }

// Attach sets the tracker notified on item reads.
func (r *Result) Attach(t Tracker) { r.tracker = t }

// Keys returns every key, libraries first.
func (r *Result) Keys() []string { return append([]string(nil), r.keys...) }

// Libs returns the library keys.
func (r *Result) Libs() []string { return append([]string(nil), r.keys[:r.libs]...) }

// Names returns the non-library keys.
func (r *Result) Names() []string { return append([]string(nil), r.keys[r.libs:]...) }

// Len returns the number of entries, libraries included.
func (r *Result) Len() int { return len(r.keys) }

// Get returns the value stored under key and records the read.
func (r *Result) Get(key string) (any, bool) {
	v, ok := r.values[key]
	if ok {
		r.record(key)
	}
	return v, ok
}

// Index returns the i-th non-library value and records the read.
func (r *Result) Index(i int) (any, bool) {
	if i < 0 || r.libs+i >= len(r.keys) {
		return nil, false
	}
	key := r.keys[r.libs+i]
	r.record(key)
	return r.values[key], true
}

// Peek returns a value without recording a read.
func (r *Result) Peek(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Project collapses the result: the sole non-library value, a Tuple of all
// of them, or false when there are none.
func (r *Result) Project() (any, bool) {
	names := r.keys[r.libs:]
	switch len(names) {
	case 0:
		return nil, false
	case 1:
		return r.values[names[0]], true
	}
	out := make(Tuple, len(names))
	for i, k := range names {
		out[i] = r.values[k]
	}
	return out, true
}

func (r *Result) String() string {
	return fmt.Sprintf("Result(%s, %v)", r.cell, r.keys)
}

func (r *Result) record(key string) {
	if r.tracker != nil {
		r.tracker.RecordItemRead(r.cell, key)
	}
}
