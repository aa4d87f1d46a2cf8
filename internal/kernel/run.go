package kernel

import (
	"context"
	"time"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/cellstore"
	"github.com/vk/dfkernel/internal/ctxlog"
	"github.com/vk/dfkernel/internal/resolver"
	"github.com/vk/dfkernel/internal/result"
)

// ExecuteRequest is one front-end request to run a cell.
type ExecuteRequest struct {
	CellID cellid.ID
	Code   string
	// Codes is the whole notebook's code. When set, cells missing from it
	// are treated as removed.
	Codes map[cellid.ID]string
	// InputTags maps user-assigned tags to the cell carrying them.
	InputTags map[string]cellid.ID
	// OutputTags lists the names each cell is known to export.
	OutputTags  map[cellid.ID][]string
	AutoUpdate  []cellid.ID
	ForceCached []cellid.ID
}

// Status is the outcome of a request.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusDeleted Status = "deleted"
)

// DownstreamUpdate pairs a cell with its current direct children.
type DownstreamUpdate struct {
	Cell       cellid.ID   `json:"key"`
	Downstream []cellid.ID `json:"data"`
}

// Report describes the outcome of a request for the front end.
type Report struct {
	CellID      cellid.ID `json:"cell_id"`
	Status      Status    `json:"status"`
	Err         error     `json:"-"`
	Error       string    `json:"error,omitempty"`
	DisplayCode string    `json:"display_code,omitempty"`
	Value       any       `json:"-"`
	Stdout      string    `json:"stdout,omitempty"`
	// Nodes are the output names: the result keys, or Out_<id> for a single
	// value.
	Nodes []string `json:"nodes,omitempty"`
	// Cells lists computed cells by ascending sequence number.
	Cells             []cellid.ID            `json:"cells,omitempty"`
	ImmUpstream       map[cellid.ID][]string `json:"imm_upstream_deps,omitempty"`
	AllUpstream       []cellid.ID            `json:"upstream_deps,omitempty"`
	ImmDownstream     []cellid.ID            `json:"imm_downstream_deps,omitempty"`
	AllDownstream     []cellid.ID            `json:"downstream_deps,omitempty"`
	UpdateDownstreams []DownstreamUpdate     `json:"update_downstreams,omitempty"`
	DeletedCells      []cellid.ID            `json:"deleted_cells,omitempty"`
	Elapsed           time.Duration          `json:"-"`
}

// Run handles an execute request: it applies the submitted code and flags,
// resolves the cell's references, runs it as a top-level execution and
// reports the resulting graph. A failed run returns both a report and the
// error. Auto-update failures are logged, never returned.
func (k *Kernel) Run(ctx context.Context, req ExecuteRequest) (*Report, error) {
	start := time.Now()
	id := req.CellID
	logger := ctxlog.FromContext(ctx).With("cell_id", id.String())
	logger.Info("Execute request received.")

	fail := func(err error) (*Report, error) {
		logger.Info("Execute request failed.", "error", err)
		return &Report{
			CellID:       id,
			Status:       StatusError,
			Err:          err,
			Error:        err.Error(),
			Stdout:       k.stdout[id],
			DeletedCells: k.takeDeleted(),
			Elapsed:      time.Since(start),
		}, err
	}

	if req.Codes != nil {
		codes := make(map[cellid.ID]string, len(req.Codes)+1)
		for c, code := range req.Codes {
			codes[c] = code
		}
		codes[id] = req.Code
		if err := k.SubmitBatch(ctx, codes); err != nil {
			return fail(err)
		}
	} else if err := k.Submit(ctx, id, req.Code); err != nil {
		return fail(err)
	}
	if _, ok := k.graph.Record(ctx, id); !ok {
		return &Report{
			CellID:       id,
			Status:       StatusDeleted,
			DeletedCells: k.takeDeleted(),
			Elapsed:      time.Since(start),
		}, nil
	}

	k.inputTags = make(map[string]cellid.ID, len(req.InputTags))
	for tag, c := range req.InputTags {
		k.inputTags[tag] = c
	}
	k.links.BindBatch(ctx, producersByName(req.OutputTags))
	if err := k.applyFlags(ctx, req.AutoUpdate, req.ForceCached); err != nil {
		return fail(err)
	}

	rec, _ := k.graph.Record(ctx, id)
	res, err := k.resolver.Resolve(ctx, resolver.Request{Cell: id, Code: rec.Code, InputTags: k.inputTags})
	if err != nil {
		return fail(err)
	}
	if res.Display != rec.Code {
		if err := k.graph.SetCode(ctx, id, res.Display); err != nil {
			return fail(err)
		}
	}

	oldUpstream := k.graph.AllUpstream(ctx, id)
	value, err := k.runTop(ctx, id)
	if err != nil {
		return fail(err)
	}
	report := k.report(ctx, id, value, oldUpstream)
	report.DisplayCode = res.Display
	report.Elapsed = time.Since(start)
	logger.Info("Execute request finished.", "elapsed", report.Elapsed)

	k.runAutoUpdates(ctx, id, map[cellid.ID]bool{id: true})
	return report, nil
}

// publish makes the names a cell exports current in the link table. Every
// stored execution calls it, so a producer recomputed by a read is linked
// again.
func (k *Kernel) publish(ctx context.Context, id cellid.ID, value any) {
	k.links.UnbindCell(ctx, id)
	r, ok := value.(*result.Result)
	if !ok {
		return
	}
	for _, name := range r.Keys() {
		if identifier.MatchString(name) {
			k.links.Bind(ctx, name, id, true)
		}
	}
}

func (k *Kernel) report(ctx context.Context, id cellid.ID, value any, oldUpstream []cellid.ID) *Report {
	r := &Report{
		CellID:        id,
		Status:        StatusOK,
		Value:         value,
		Stdout:        k.stdout[id],
		Cells:         k.graph.SortedBySequence(ctx),
		ImmUpstream:   k.graph.SemanticUpstream(ctx, id),
		AllUpstream:   k.graph.AllUpstream(ctx, id),
		ImmDownstream: k.graph.Children(ctx, id),
		AllDownstream: k.graph.AllDownstream(ctx, id),
		DeletedCells:  k.takeDeleted(),
	}
	switch v := value.(type) {
	case *result.Result:
		r.Nodes = v.Keys()
	case nil:
	default:
		r.Nodes = []string{"Out_" + id.String()}
	}

	changed := make(map[cellid.ID]struct{})
	for _, c := range r.AllUpstream {
		changed[c] = struct{}{}
	}
	for _, c := range oldUpstream {
		changed[c] = struct{}{}
	}
	for _, c := range cellid.SetToSlice(changed) {
		r.UpdateDownstreams = append(r.UpdateDownstreams, DownstreamUpdate{
			Cell:       c,
			Downstream: k.graph.Children(ctx, c),
		})
	}
	return r
}

// applyFlags replaces the auto-update and force-cached sets.
func (k *Kernel) applyFlags(ctx context.Context, autoUpdate, forceCached []cellid.ID) error {
	auto := toSet(autoUpdate)
	forced := toSet(forceCached)
	for _, c := range k.graph.IDs(ctx) {
		rec, ok := k.graph.Record(ctx, c)
		if !ok {
			continue
		}
		_, a := auto[c]
		_, f := forced[c]
		if rec.Flags.AutoUpdate == a && rec.Flags.ForceCached == f {
			continue
		}
		flags := cellstore.Flags{AutoUpdate: a, ForceCached: f, FunctionOnly: rec.Flags.FunctionOnly}
		if err := k.graph.SetFlags(ctx, c, flags); err != nil {
			return err
		}
	}
	return nil
}

// runAutoUpdates re-runs the auto-update children of id whose upstream
// cells are all fresh or themselves auto-updating. With cascading enabled
// each successful child does the same for its own children.
func (k *Kernel) runAutoUpdates(ctx context.Context, id cellid.ID, visited map[cellid.ID]bool) {
	logger := ctxlog.FromContext(ctx)
	for _, child := range k.graph.Children(ctx, id) {
		rec, ok := k.graph.Record(ctx, child)
		if !ok || !rec.Flags.AutoUpdate || visited[child] {
			continue
		}
		if !k.upstreamReady(ctx, child) {
			logger.Debug("Auto-update skipped, upstream is stale.", "cell_id", child.String())
			continue
		}
		visited[child] = true
		_, err := k.runTop(ctx, child)
		if err != nil {
			logger.Warn("Auto-update failed.", "cell_id", child.String(), "error", err)
			continue
		}
		logger.Debug("Auto-update finished.", "cell_id", child.String())
		if k.opts.CascadeAutoUpdates {
			k.runAutoUpdates(ctx, child, visited)
		}
	}
}

func (k *Kernel) upstreamReady(ctx context.Context, id cellid.ID) bool {
	for _, up := range k.graph.AllUpstream(ctx, id) {
		rec, ok := k.graph.Record(ctx, up)
		if !ok {
			return false
		}
		if rec.IsStale() && !rec.Flags.AutoUpdate {
			return false
		}
	}
	return true
}

// Seed loads a notebook's code and known exports, as on reload.
func (k *Kernel) Seed(ctx context.Context, codes map[cellid.ID]string, outputTags map[cellid.ID][]string) error {
	if err := k.SubmitBatch(ctx, codes); err != nil {
		return err
	}
	k.links.BindBatch(ctx, producersByName(outputTags))
	return nil
}

func producersByName(outputTags map[cellid.ID][]string) map[string][]cellid.ID {
	out := make(map[string][]cellid.ID)
	for c, names := range outputTags {
		for _, name := range names {
			out[name] = append(out[name], c)
		}
	}
	for name := range out {
		out[name] = cellid.Sort(out[name])
	}
	return out
}

func toSet(ids []cellid.ID) map[cellid.ID]struct{} {
	out := make(map[cellid.ID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
