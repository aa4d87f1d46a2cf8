package kernel

import (
	"context"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/graph"
	"github.com/vk/dfkernel/internal/topologystore"
)

// frame is one in-progress cell execution.
type frame struct {
	ctx     context.Context
	cell    cellid.ID
	written any
	wrote   bool
}

// frames is the explicit call stack of nested executions. The top frame is
// the consumer every read is attributed to.
type frames struct {
	stack []*frame
}

func (f *frames) push(ctx context.Context, cell cellid.ID) *frame {
	fr := &frame{ctx: ctx, cell: cell}
	f.stack = append(f.stack, fr)
	return fr
}

func (f *frames) pop() *frame {
	n := len(f.stack)
	fr := f.stack[n-1]
	f.stack = f.stack[:n-1]
	return fr
}

func (f *frames) top() (*frame, bool) {
	if len(f.stack) == 0 {
		return nil, false
	}
	return f.stack[len(f.stack)-1], true
}

func (f *frames) active(cell cellid.ID) bool {
	for _, fr := range f.stack {
		if fr.cell == cell {
			return true
		}
	}
	return false
}

func (f *frames) depth() int { return len(f.stack) }

// ledger holds what the current top-level execution changed in the graph:
// edges it created and the incoming edges it detached from cells it re-ran.
// A failure undoes both.
type ledger struct {
	edges    []topologystore.Edge
	detached []detachment
}

type detachment struct {
	cell cellid.ID
	in   graph.Incoming
}

func (l *ledger) record(parent, child cellid.ID) {
	l.edges = append(l.edges, topologystore.Edge{Parent: parent, Child: child})
}

func (l *ledger) detach(cell cellid.ID, in graph.Incoming) {
	l.detached = append(l.detached, detachment{cell: cell, in: in})
}

func (l *ledger) reset() {
	l.edges = nil
	l.detached = nil
}
