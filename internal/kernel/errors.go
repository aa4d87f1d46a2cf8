package kernel

import (
	"errors"
	"fmt"

	"github.com/vk/dfkernel/internal/cellid"
)

var (
	ErrUnknownCell    = errors.New("unknown cell")
	ErrNotYetComputed = errors.New("cell not yet computed")
	ErrCellRaised     = errors.New("cell raised an error")
	ErrCyclicalCall   = errors.New("cyclical call")
	ErrIllegalWrite   = errors.New("illegal write")
	ErrNotFunction    = errors.New("cell is not a function")
)

// UnknownCellError reports a reference to a cell that was never submitted
// or has been deleted.
type UnknownCellError struct {
	ID cellid.ID
}

func (e *UnknownCellError) Error() string {
	return fmt.Sprintf("Out['%s'] is not a valid cell reference", e.ID.String())
}

func (e *UnknownCellError) Is(target error) bool { return target == ErrUnknownCell }

// NotYetComputedError reports a read of a force-cached cell with no value.
type NotYetComputedError struct {
	ID cellid.ID
}

func (e *NotYetComputedError) Error() string {
	return fmt.Sprintf("cell %s is force-cached but has not been computed", e.ID)
}

func (e *NotYetComputedError) Is(target error) bool { return target == ErrNotYetComputed }

// CellRaisedError wraps the failure of a cell's own code.
type CellRaisedError struct {
	ID  cellid.ID
	Err error
}

func (e *CellRaisedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cell %s failed", e.ID)
	}
	return fmt.Sprintf("cell %s failed: %v", e.ID, e.Err)
}

func (e *CellRaisedError) Is(target error) bool { return target == ErrCellRaised }

func (e *CellRaisedError) Unwrap() error { return e.Err }

// CyclicalCallError reports a cell that depends on itself.
type CyclicalCallError struct {
	ID cellid.ID
}

func (e *CyclicalCallError) Error() string {
	return fmt.Sprintf("cyclical call detected at cell %s", e.ID)
}

func (e *CyclicalCallError) Is(target error) bool { return target == ErrCyclicalCall }

// IllegalWriteError reports a write to an output slot other than the
// running cell's own.
type IllegalWriteError struct {
	Target cellid.ID
	// Writer is the running cell, empty outside any execution.
	Writer cellid.ID
}

func (e *IllegalWriteError) Error() string {
	if e.Writer.IsZero() {
		return fmt.Sprintf("cannot write output of cell %s outside its execution", e.Target)
	}
	return fmt.Sprintf("cell %s cannot write output of cell %s", e.Writer, e.Target)
}

func (e *IllegalWriteError) Is(target error) bool { return target == ErrIllegalWrite }
