package resolver

import (
	"errors"
	"fmt"

	"github.com/vk/dfkernel/internal/cellid"
)

var (
	ErrUnknownTag        = errors.New("unknown tag")
	ErrStalePin          = errors.New("stale pinned reference")
	ErrDuplicateBinding  = errors.New("duplicate binding")
	ErrUnresolved        = errors.New("unresolved reference")
	ErrAssignToReference = errors.New("cannot assign to a cross-cell reference")
)

// UnknownTagError reports a reference to a tag no cell carries.
type UnknownTagError struct {
	Ref Ref
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("cell with tag %q does not exist (in reference %s)", e.Ref.Tag, e.Ref.Display())
}

func (e *UnknownTagError) Is(target error) bool { return target == ErrUnknownTag }

// StalePinError reports an "=" reference whose tag now points elsewhere.
type StalePinError struct {
	Ref     Ref
	Current cellid.ID
}

func (e *StalePinError) Error() string {
	return fmt.Sprintf("pinned reference %s is stale: tag %q now refers to cell %s", e.Ref.Display(), e.Ref.Tag, e.Current)
}

func (e *StalePinError) Is(target error) bool { return target == ErrStalePin }

// DuplicateBindingError reports a name that a scope both links to another
// cell and binds locally in a later statement.
type DuplicateBindingError struct {
	Name     string
	Producer cellid.ID
}

func (e *DuplicateBindingError) Error() string {
	return fmt.Sprintf("name %q is read from cell %s and rebound locally in the same scope", e.Name, e.Producer)
}

func (e *DuplicateBindingError) Is(target error) bool { return target == ErrDuplicateBinding }

// UnresolvedRefError reports a "$" reference that names no producer.
type UnresolvedRefError struct {
	Ref Ref
}

func (e *UnresolvedRefError) Error() string {
	return fmt.Sprintf("cannot resolve reference %s$%s: no cell currently exports %q", e.Ref.Name, e.Ref.Qualifier.String(), e.Ref.Name)
}

func (e *UnresolvedRefError) Is(target error) bool { return target == ErrUnresolved }

// AssignToReferenceError reports a cross-cell reference used as an
// assignment target.
type AssignToReferenceError struct {
	Ref Ref
}

func (e *AssignToReferenceError) Error() string {
	return fmt.Sprintf("cannot assign to %s: outputs of other cells are read-only", e.Ref.Display())
}

func (e *AssignToReferenceError) Is(target error) bool { return target == ErrAssignToReference }
