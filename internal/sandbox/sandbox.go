// Package sandbox defines the contract between the kernel and whatever
// actually runs a cell's code.
//
// The kernel hands a sandbox already-resolved source in which every
// cross-cell reference is a lookup of the form Out['cellId']['name']. The
// sandbox evaluates it, calling back into Outputs for each lookup, and
// reports success or failure plus the produced value. The kernel never
// inspects how code runs.
package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/cellstore"
	"github.com/vk/dfkernel/internal/result"
)

// ErrNoSuchItem is returned when a lookup names an item the producer did
// not export.
var ErrNoSuchItem = errors.New("no such output item")

// Outputs is the kernel handle sandboxes reach cell outputs through. Reads
// may recursively execute stale producers. Only the running cell may write
// its own output.
type Outputs interface {
	Read(ctx context.Context, id cellid.ID) (any, error)
	Write(ctx context.Context, id cellid.ID, value any) error
}

// Request asks a sandbox to run one cell.
type Request struct {
	CellID cellid.ID
	Code   string
	Flags  cellstore.Flags
	// Bindings pre-populate names when a function-only cell is invoked.
	Bindings map[string]any
	Outputs  Outputs
}

// Response is the outcome of running a cell. A cell that raised is a
// Response with Success false, not a Go error; Run returns an error only
// when the sandbox itself could not run the cell.
type Response struct {
	Success bool
	Value   any
	// Err describes what the cell raised.
	Err    error
	Stdout string
}

// Sandbox runs cells.
type Sandbox interface {
	Run(ctx context.Context, req Request) (*Response, error)
}

// Func adapts a function to the Sandbox interface.
type Func func(ctx context.Context, req Request) (*Response, error)

func (f Func) Run(ctx context.Context, req Request) (*Response, error) { return f(ctx, req) }

// Lookup evaluates Out[id][item]: it reads id's output and, when item is
// set, selects that item of a multi-output result.
func Lookup(ctx context.Context, outputs Outputs, id cellid.ID, item string) (any, error) {
	v, err := outputs.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == "" {
		return v, nil
	}
	res, ok := v.(*result.Result)
	if !ok {
		return nil, fmt.Errorf("cell %s: %w: %q (output is a single value)", id, ErrNoSuchItem, item)
	}
	got, ok := res.Get(item)
	if !ok {
		return nil, fmt.Errorf("cell %s: %w: %q", id, ErrNoSuchItem, item)
	}
	return got, nil
}
