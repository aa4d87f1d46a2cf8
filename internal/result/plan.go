package result

import (
	"fmt"

	"github.com/vk/dfkernel/internal/cellid"
)

// Plan describes what a cell exports, as decided from its trailing
// statement and its top-level imports:
//
//   - a bare tuple exports its names and numbers its other elements
//   - a single name exports that name
//   - any other single expression is unnamed
//   - an assignment exports its target names
//
// Libs lists top-level import bindings not shadowed by an exported name.
type Plan struct {
	Cell    cellid.ID
	Names   []string
	Unnamed []int
	Libs    []string
}

// Values carries what the sandbox computed for a Plan.
type Values struct {
	Named   map[string]any
	Libs    map[string]any
	Unnamed map[int]any
	// Value is the cell's plain value, used when no Result is built.
	Value any
}

// NeedsResult reports whether the cell's output is a Result rather than a
// plain value. A lone unnamed expression stays plain.
func (p Plan) NeedsResult() bool {
	return len(p.Unnamed) > 1 || len(p.Names)+len(p.Libs) > 0
}

// UnnamedKey names the unnamed element at tuple position pos.
func (p Plan) UnnamedKey(pos int) string {
	if len(p.Unnamed) == 1 && len(p.Names) == 0 {
		return p.Cell.String()
	}
	return fmt.Sprintf("%s%d", p.Cell, pos)
}

// Build produces the cell's output. Named entries with a nil value are kept
// only when the cell exports explicit names.
func (p Plan) Build(v Values) any {
	if !p.NeedsResult() {
		return v.Value
	}
	libs := make([]Entry, 0, len(p.Libs))
	for _, name := range p.Libs {
		libs = append(libs, Entry{Key: name, Value: v.Libs[name]})
	}
	entries := make([]Entry, 0, len(p.Names)+len(p.Unnamed))
	for _, name := range p.Names {
		entries = append(entries, Entry{Key: name, Value: v.Named[name]})
	}
	for _, pos := range p.Unnamed {
		entries = append(entries, Entry{Key: p.UnnamedKey(pos), Value: v.Unnamed[pos]})
	}
	return New(p.Cell, libs, entries, len(p.Names) > 0)
}
