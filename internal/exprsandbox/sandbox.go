// Package exprsandbox runs cells made of expression statements and
// assignments, evaluating each expression with HCL against the cell's local
// names and the outputs of other cells.
//
// Cell source uses Python surface syntax and is parsed with tree-sitter;
// each expression is then translated to HCL expression syntax. Imports,
// control flow and definitions are rejected with ErrUnsupported.
package exprsandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/ctxlog"
	"github.com/vk/dfkernel/internal/ctyconv"
	"github.com/vk/dfkernel/internal/resolver"
	"github.com/vk/dfkernel/internal/result"
	"github.com/vk/dfkernel/internal/sandbox"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// Sandbox evaluates cells in-process.
type Sandbox struct{}

// New creates an expression sandbox.
func New() *Sandbox {
	return &Sandbox{}
}

var _ sandbox.Sandbox = (*Sandbox)(nil)

// Run executes req. Cell errors, including syntax errors and failed reads of
// other cells, are reported through a failed Response.
func (s *Sandbox) Run(ctx context.Context, req sandbox.Request) (*sandbox.Response, error) {
	logger := ctxlog.FromContext(ctx).With("cell_id", req.CellID.String())
	logger.Debug("Evaluating cell.")

	prog, err := compile(ctx, req.CellID, req.Code)
	if err != nil {
		return failed(err), nil
	}

	env := make(map[string]cty.Value, len(req.Bindings))
	for name, v := range req.Bindings {
		cv, err := ctyconv.ToCty(v)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", name, err)
		}
		env[name] = cv
	}

	var stdout strings.Builder
	funcs := builtins(&stdout)
	var last []cty.Value
	for _, st := range prog.stmts {
		vals := make([]cty.Value, 0, len(st.exprs))
		for _, expr := range st.exprs {
			v, err := evaluate(ctx, req, expr, env, funcs)
			if err != nil {
				return failedWith(fmt.Errorf("line %d: %w", st.line, err), stdout.String()), nil
			}
			vals = append(vals, v)
		}
		if st.kind == stmtAssign {
			if err := assign(env, st.targets, vals); err != nil {
				return failedWith(fmt.Errorf("line %d: %w", st.line, err), stdout.String()), nil
			}
		}
		last = vals
	}

	value, err := output(prog, env, last)
	if err != nil {
		return failedWith(err, stdout.String()), nil
	}
	logger.Debug("Cell evaluated.", "statements", len(prog.stmts))
	return &sandbox.Response{Success: true, Value: value, Stdout: stdout.String()}, nil
}

func failed(err error) *sandbox.Response {
	return &sandbox.Response{Success: false, Err: err}
}

func failedWith(err error, stdout string) *sandbox.Response {
	return &sandbox.Response{Success: false, Err: err, Stdout: stdout}
}

// evaluate fetches the outputs expr looks up, then evaluates it.
func evaluate(ctx context.Context, req sandbox.Request, expr hclsyntax.Expression, env map[string]cty.Value, funcs map[string]function.Function) (cty.Value, error) {
	vars := make(map[string]cty.Value, len(env)+1)
	for k, v := range env {
		vars[k] = v
	}
	out, used, err := lookups(ctx, req, expr)
	if err != nil {
		return cty.NilVal, err
	}
	if used {
		vars[resolver.LookupRoot] = out
	}
	val, diags := expr.Value(&hcl.EvalContext{Variables: vars, Functions: funcs})
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	return val, nil
}

// lookups reads every Out[id][item] traversal in expr, in source order,
// and assembles the Out object they evaluate against.
func lookups(ctx context.Context, req sandbox.Request, expr hclsyntax.Expression) (cty.Value, bool, error) {
	items := make(map[string]map[string]cty.Value)
	whole := make(map[string]cty.Value)
	used := false
	for _, tr := range expr.Variables() {
		if tr.RootName() != resolver.LookupRoot {
			continue
		}
		used = true
		id, item, ok := lookupKeys(tr)
		if !ok {
			return cty.NilVal, false, fmt.Errorf("malformed output lookup %s", tr.SourceRange())
		}
		if req.Outputs == nil {
			return cty.NilVal, false, fmt.Errorf("no outputs available to read cell %s", id)
		}
		v, err := sandbox.Lookup(ctx, req.Outputs, cellid.ID(id), item)
		if err != nil {
			return cty.NilVal, false, err
		}
		cv, err := ctyconv.ToCty(v)
		if err != nil {
			return cty.NilVal, false, fmt.Errorf("cell %s: %w", id, err)
		}
		if item == "" {
			whole[id] = cv
			continue
		}
		if items[id] == nil {
			items[id] = make(map[string]cty.Value)
		}
		items[id][item] = cv
	}
	if !used {
		return cty.NilVal, false, nil
	}
	cells := make(map[string]cty.Value, len(items)+len(whole))
	for id, attrs := range items {
		cells[id] = cty.ObjectVal(attrs)
	}
	for id, v := range whole {
		cells[id] = v
	}
	return cty.ObjectVal(cells), true, nil
}

// lookupKeys extracts the cell id and optional item from a traversal
// rooted at the lookup root.
func lookupKeys(tr hcl.Traversal) (string, string, bool) {
	keys := make([]string, 0, 2)
	for _, step := range tr[1:] {
		switch t := step.(type) {
		case hcl.TraverseIndex:
			if !t.Key.Type().Equals(cty.String) || !t.Key.IsKnown() || t.Key.IsNull() {
				return "", "", false
			}
			keys = append(keys, t.Key.AsString())
		case hcl.TraverseAttr:
			keys = append(keys, t.Name)
		default:
			return "", "", false
		}
		if len(keys) == 2 {
			break
		}
	}
	switch len(keys) {
	case 1:
		return keys[0], "", true
	case 2:
		return keys[0], keys[1], true
	}
	return "", "", false
}

func assign(env map[string]cty.Value, targets []string, vals []cty.Value) error {
	if len(targets) == 1 && len(vals) == 1 {
		env[targets[0]] = vals[0]
		return nil
	}
	if len(vals) == 1 {
		v := vals[0]
		if !(v.Type().IsTupleType() || v.Type().IsListType()) || v.IsNull() {
			return fmt.Errorf("cannot unpack %s into %d names", v.Type().FriendlyName(), len(targets))
		}
		vals = v.AsValueSlice()
	}
	if len(vals) != len(targets) {
		return fmt.Errorf("cannot unpack %d values into %d names", len(vals), len(targets))
	}
	for i, name := range targets {
		env[name] = vals[i]
	}
	return nil
}

// output builds the cell's value from its trailing statement.
func output(prog *program, env map[string]cty.Value, last []cty.Value) (any, error) {
	plan := prog.plan
	if len(prog.stmts) == 0 {
		return nil, nil
	}
	st := prog.stmts[len(prog.stmts)-1]
	values := result.Values{
		Named:   make(map[string]any),
		Unnamed: make(map[int]any),
	}
	if st.kind == stmtAssign {
		for _, name := range st.targets {
			v, err := ctyconv.FromCty(env[name])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			values.Named[name] = v
		}
		return plan.Build(values), nil
	}
	for i, cv := range last {
		v, err := ctyconv.FromCty(cv)
		if err != nil {
			return nil, err
		}
		if st.names[i] != "" {
			values.Named[st.names[i]] = v
		} else {
			values.Unnamed[i] = v
		}
		if i == 0 {
			values.Value = v
		}
	}
	return plan.Build(values), nil
}

// Names lists the builtin function names, sorted.
func Names() []string {
	names := make([]string, 0)
	for name := range builtins(nil) {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
