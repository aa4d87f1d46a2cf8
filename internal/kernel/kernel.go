// Package kernel is the dataflow engine: it owns cell code, cached outputs
// and the dependency edges learned as cells read each other, and decides
// when a cell must be re-run.
//
// Execution is cooperative and recursive. Reading a stale cell from inside
// another cell's execution runs the stale cell to completion first. The
// kernel keeps an explicit stack of executing cells so each read is
// attributed to the innermost one. A Kernel is not safe for concurrent use.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/cellstore"
	"github.com/vk/dfkernel/internal/ctxlog"
	"github.com/vk/dfkernel/internal/graph"
	"github.com/vk/dfkernel/internal/linktable"
	"github.com/vk/dfkernel/internal/resolver"
	"github.com/vk/dfkernel/internal/result"
	"github.com/vk/dfkernel/internal/sandbox"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options tune kernel behaviour.
type Options struct {
	// CascadeAutoUpdates lets an auto-updated cell trigger auto-updates of
	// its own children.
	CascadeAutoUpdates bool
}

// Kernel runs notebook cells against a dependency graph.
type Kernel struct {
	graph    graph.Graph
	links    *linktable.Table
	resolver *resolver.Resolver
	sandbox  sandbox.Sandbox
	opts     Options

	frames    frames
	pending   ledger
	deleted   []cellid.ID
	functions map[cellid.ID]functionSpec
	inputTags map[string]cellid.ID
	stdout    map[cellid.ID]string
}

var (
	_ sandbox.Outputs = (*Kernel)(nil)
	_ result.Tracker  = (*Kernel)(nil)
)

// New creates a kernel over g and links that runs code in sb.
func New(g graph.Graph, links *linktable.Table, sb sandbox.Sandbox, opts Options) *Kernel {
	return &Kernel{
		graph:     g,
		links:     links,
		resolver:  resolver.New(links),
		sandbox:   sb,
		opts:      opts,
		functions: make(map[cellid.ID]functionSpec),
		inputTags: make(map[string]cellid.ID),
		stdout:    make(map[cellid.ID]string),
	}
}

// Graph exposes the kernel's dependency graph.
func (k *Kernel) Graph() graph.Graph { return k.graph }

// Links exposes the kernel's tag linking table.
func (k *Kernel) Links() *linktable.Table { return k.links }

// Submit stores code for id. Empty code deletes a cell that has a cached
// value. Changed code clears the function-only flag and marks the cell and
// everything downstream of it stale. Unchanged code is a no-op.
func (k *Kernel) Submit(ctx context.Context, id cellid.ID, code string) error {
	logger := ctxlog.FromContext(ctx).With("cell_id", id.String())
	rec, exists := k.graph.Record(ctx, id)

	if strings.TrimSpace(code) == "" && exists && rec.HasValue {
		return k.deleteCell(ctx, id)
	}
	if exists && rec.Code == code {
		return nil
	}
	if !exists {
		k.graph.Create(ctx, id)
	}
	flags := rec.Flags
	flags.FunctionOnly = false
	if err := k.graph.SetFlags(ctx, id, flags); err != nil {
		return err
	}
	if err := k.graph.SetCode(ctx, id, code); err != nil {
		return err
	}
	if exists {
		k.links.UnbindCell(ctx, id)
	}
	marked, err := k.graph.MarkStale(ctx, id)
	if err != nil {
		return err
	}
	logger.Debug("Cell code updated.", "stale", fmt.Sprint(marked))
	return nil
}

// SubmitBatch submits every entry of codes. Known cells missing from codes
// are submitted with empty code, which deletes those with a cached value.
func (k *Kernel) SubmitBatch(ctx context.Context, codes map[cellid.ID]string) error {
	ids := make([]cellid.ID, 0, len(codes))
	for id := range codes {
		ids = append(ids, id)
	}
	for _, id := range cellid.Sort(ids) {
		if err := k.Submit(ctx, id, codes[id]); err != nil {
			return err
		}
	}
	for _, id := range k.graph.IDs(ctx) {
		if _, ok := codes[id]; ok {
			continue
		}
		if err := k.Submit(ctx, id, ""); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) deleteCell(ctx context.Context, id cellid.ID) error {
	if _, err := k.graph.MarkStale(ctx, id); err != nil {
		return err
	}
	if err := k.graph.Delete(ctx, id); err != nil {
		return err
	}
	k.links.UnbindCell(ctx, id)
	delete(k.functions, id)
	delete(k.stdout, id)
	k.deleted = append(k.deleted, id)
	ctxlog.FromContext(ctx).Info("Cell deleted.", "cell_id", id.String())
	return nil
}

// takeDeleted returns and clears the cells deleted since the last report.
func (k *Kernel) takeDeleted() []cellid.ID {
	out := k.deleted
	k.deleted = nil
	return out
}

// Read returns id's output on behalf of the executing cell, recording the
// dependency edge even on a cache hit. Stale cells are run first;
// force-cached cells never are.
func (k *Kernel) Read(ctx context.Context, id cellid.ID) (any, error) {
	rec, ok := k.graph.Record(ctx, id)
	if !ok {
		return nil, &UnknownCellError{ID: id}
	}
	if fr, ok := k.frames.top(); ok {
		if k.graph.AddEdge(ctx, id, fr.cell) {
			k.pending.record(id, fr.cell)
		}
		k.graph.MarkWhole(ctx, id, fr.cell)
	}

	switch {
	case rec.Flags.FunctionOnly:
		return &Function{kernel: k, cell: id}, nil
	case rec.Flags.ForceCached:
		if !rec.HasValue {
			return nil, &NotYetComputedError{ID: id}
		}
		return rec.Value, nil
	case !rec.IsStale():
		return rec.Value, nil
	}
	return k.Execute(ctx, id)
}

// Write replaces the output of the executing cell. Only the cell currently
// executing may write, and only its own slot.
func (k *Kernel) Write(ctx context.Context, id cellid.ID, value any) error {
	fr, ok := k.frames.top()
	if !ok || fr.cell != id {
		writer := cellid.ID("")
		if ok {
			writer = fr.cell
		}
		return &IllegalWriteError{Target: id, Writer: writer}
	}
	fr.written = value
	fr.wrote = true
	return nil
}

// RecordItemRead narrows the executing cell's dependency on producer to
// the items it actually consumed.
func (k *Kernel) RecordItemRead(producer cellid.ID, item string) {
	fr, ok := k.frames.top()
	if !ok {
		return
	}
	k.graph.Narrow(fr.ctx, producer, fr.cell, item)
}

// IsStale reports whether id needs to run before its output can be used.
func (k *Kernel) IsStale(ctx context.Context, id cellid.ID) (bool, error) {
	stale, err := k.graph.IsStale(ctx, id)
	if errors.Is(err, cellstore.ErrNotFound) {
		return false, &UnknownCellError{ID: id}
	}
	return stale, err
}

// MarkStale flags id and everything downstream of it.
func (k *Kernel) MarkStale(ctx context.Context, id cellid.ID) ([]cellid.ID, error) {
	marked, err := k.graph.MarkStale(ctx, id)
	if errors.Is(err, cellstore.ErrNotFound) {
		return nil, &UnknownCellError{ID: id}
	}
	return marked, err
}

// Execute runs id's stored code and caches the output. Called outside any
// execution it is a top-level boundary: a failure rolls back every graph
// change made on the way.
func (k *Kernel) Execute(ctx context.Context, id cellid.ID) (any, error) {
	if k.frames.depth() > 0 {
		return k.execute(ctx, id, nil, true)
	}
	return k.runTop(ctx, id)
}

func (k *Kernel) runTop(ctx context.Context, id cellid.ID) (any, error) {
	k.pending.reset()
	value, err := k.execute(ctx, id, nil, true)
	if err != nil {
		k.rollback(ctx)
		return nil, err
	}
	k.pending.reset()
	return value, nil
}

func (k *Kernel) execute(ctx context.Context, id cellid.ID, bindings map[string]any, store bool) (any, error) {
	logger := ctxlog.FromContext(ctx).With("cell_id", id.String(), "depth", k.frames.depth())

	rec, ok := k.graph.Record(ctx, id)
	if !ok {
		return nil, &UnknownCellError{ID: id}
	}
	if k.cyclical(ctx, id) {
		logger.Debug("Cycle detected before execution.")
		return nil, &CyclicalCallError{ID: id}
	}

	res, err := k.resolver.Resolve(ctx, resolver.Request{
		Cell:        id,
		Code:        rec.Code,
		InputTags:   k.inputTags,
		Predeclared: sortedKeys(bindings),
	})
	if err != nil {
		return nil, &CellRaisedError{ID: id, Err: err}
	}

	if store {
		k.pending.detach(id, k.graph.DetachIncoming(ctx, id))
	}
	fr := k.frames.push(ctx, id)
	logger.Debug("Executing cell.")
	resp, err := k.sandbox.Run(ctx, sandbox.Request{
		CellID:   id,
		Code:     res.Exec,
		Flags:    rec.Flags,
		Bindings: bindings,
		Outputs:  k,
	})
	k.frames.pop()
	if err != nil {
		return nil, fmt.Errorf("running cell %s: %w", id, err)
	}
	k.stdout[id] = resp.Stdout
	if !resp.Success {
		logger.Debug("Cell raised.", "error", resp.Err)
		return nil, &CellRaisedError{ID: id, Err: resp.Err}
	}

	value := resp.Value
	if fr.wrote {
		value = fr.written
	}
	if r, ok := value.(*result.Result); ok {
		r.Attach(k)
	}
	if !store {
		return value, nil
	}
	if _, err := k.graph.StoreOutput(ctx, id, value); err != nil {
		return nil, err
	}
	k.publish(ctx, id, value)
	return value, nil
}

// cyclical reports whether id is already executing or has a direct parent
// that is also a direct child.
func (k *Kernel) cyclical(ctx context.Context, id cellid.ID) bool {
	if k.frames.active(id) {
		return true
	}
	children := make(map[cellid.ID]struct{})
	for _, c := range k.graph.Children(ctx, id) {
		children[c] = struct{}{}
	}
	for _, p := range k.graph.Parents(ctx, id) {
		if _, ok := children[p]; ok {
			return true
		}
	}
	return false
}

// rollback undoes the failed top-level execution's graph changes: created
// edges are removed, then detached edges are restored newest first.
func (k *Kernel) rollback(ctx context.Context) {
	for _, e := range k.pending.edges {
		k.graph.RemoveEdge(ctx, e.Parent, e.Child)
	}
	for i := len(k.pending.detached) - 1; i >= 0; i-- {
		d := k.pending.detached[i]
		k.graph.RestoreIncoming(ctx, d.cell, d.in)
	}
	ctxlog.FromContext(ctx).Debug("Execution rolled back.",
		"edges", len(k.pending.edges), "detached", len(k.pending.detached))
	k.pending.reset()
}

// Complete returns completions for "name" or "name$suffix".
func (k *Kernel) Complete(prefix string) []string {
	return k.links.Complete(prefix, k.inputTags)
}

// Stdout returns what id printed during its last execution.
func (k *Kernel) Stdout(id cellid.ID) string { return k.stdout[id] }

func sortedKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
