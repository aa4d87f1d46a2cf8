package kernel

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/ctxlog"
	"github.com/vk/dfkernel/internal/result"
)

type functionSpec struct {
	inputs  []string
	outputs []string
}

// Function is the handle returned when a function-only cell is read.
type Function struct {
	kernel *Kernel
	cell   cellid.ID
}

// Cell returns the function's cell.
func (f *Function) Cell() cellid.ID { return f.cell }

// Call invokes the function cell.
func (f *Function) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return f.kernel.Call(ctx, f.cell, args, kwargs)
}

func (f *Function) String() string { return fmt.Sprintf("Function(%s)", f.cell) }

// DefineFunction stores code for id and marks it function-only: reading it
// yields a *Function, and Call runs the body with inputs bound.
func (k *Kernel) DefineFunction(ctx context.Context, id cellid.ID, inputs, outputs []string, code string) error {
	if err := k.Submit(ctx, id, code); err != nil {
		return err
	}
	rec, ok := k.graph.Record(ctx, id)
	if !ok {
		return &UnknownCellError{ID: id}
	}
	flags := rec.Flags
	flags.FunctionOnly = true
	if err := k.graph.SetFlags(ctx, id, flags); err != nil {
		return err
	}
	k.functions[id] = functionSpec{
		inputs:  append([]string(nil), inputs...),
		outputs: append([]string(nil), outputs...),
	}
	ctxlog.FromContext(ctx).Debug("Function cell defined.", "cell_id", id.String(), "inputs", fmt.Sprint(inputs))
	return nil
}

// Call runs function cell id. Positional args bind to the declared inputs in
// order, kwargs by name. It returns the single declared output, a result over
// several outputs, or the body's own value when none are declared. Calls
// never update the cell's cached output.
func (k *Kernel) Call(ctx context.Context, id cellid.ID, args []any, kwargs map[string]any) (any, error) {
	rec, ok := k.graph.Record(ctx, id)
	if !ok {
		return nil, &UnknownCellError{ID: id}
	}
	spec, ok := k.functions[id]
	if !ok || !rec.Flags.FunctionOnly {
		return nil, fmt.Errorf("cell %s: %w", id, ErrNotFunction)
	}
	if len(args) > len(spec.inputs) {
		return nil, fmt.Errorf("cell %s takes %d arguments, got %d", id, len(spec.inputs), len(args))
	}

	bindings := make(map[string]any, len(spec.inputs))
	for i, arg := range args {
		bindings[spec.inputs[i]] = arg
	}
	for name, v := range kwargs {
		if !slices.Contains(spec.inputs, name) {
			return nil, fmt.Errorf("cell %s has no input %q", id, name)
		}
		if _, dup := bindings[name]; dup {
			return nil, fmt.Errorf("cell %s got multiple values for input %q", id, name)
		}
		bindings[name] = v
	}
	for _, name := range spec.inputs {
		if _, ok := bindings[name]; !ok {
			return nil, fmt.Errorf("cell %s is missing input %q", id, name)
		}
	}

	top := k.frames.depth() == 0
	if top {
		k.pending.reset()
	}
	value, err := k.execute(ctx, id, bindings, false)
	if err != nil {
		if top {
			k.rollback(ctx)
		}
		return nil, err
	}
	if top {
		k.pending.reset()
	}
	return selectOutputs(id, spec.outputs, value)
}

func selectOutputs(id cellid.ID, outputs []string, value any) (any, error) {
	if len(outputs) == 0 {
		return value, nil
	}
	r, ok := value.(*result.Result)
	if !ok {
		if len(outputs) == 1 {
			return value, nil
		}
		return nil, fmt.Errorf("cell %s produced a single value, want outputs %v", id, outputs)
	}
	entries := make([]result.Entry, 0, len(outputs))
	for _, name := range outputs {
		v, ok := r.Peek(name)
		if !ok {
			return nil, fmt.Errorf("cell %s did not produce output %q", id, name)
		}
		entries = append(entries, result.Entry{Key: name, Value: v})
	}
	if len(entries) == 1 {
		return entries[0].Value, nil
	}
	return result.New(id, nil, entries, true), nil
}
