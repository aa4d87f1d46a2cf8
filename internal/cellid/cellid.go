// Package cellid defines the stable identifier notebook cells are keyed by.
//
// Identifiers are short hex-like tokens, e.g. "a1b2c3d4". The front end mints
// them from the first segment of a UUID; the kernel accepts any token made of
// letters, digits and underscores so that hand-written test notebooks can use
// readable ids such as "A" or "load_data".
package cellid

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ID identifies a cell for the lifetime of a notebook.
type ID string

var idRegex = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// New mints a fresh identifier from the first eight hex digits of a random UUID.
func New() ID {
	return ID(strings.Split(uuid.New().String(), "-")[0])
}

// Parse validates a raw identifier.
func Parse(raw string) (ID, error) {
	if raw == "" {
		return "", fmt.Errorf("cell identifier cannot be empty")
	}
	if !idRegex.MatchString(raw) {
		return "", fmt.Errorf("invalid cell identifier: %q", raw)
	}
	return ID(raw), nil
}

// FromNotebook normalizes a notebook cell id such as
// "a1b2c3d4-5e6f-..." to its leading segment.
func FromNotebook(raw string) (ID, error) {
	return Parse(strings.Split(raw, "-")[0])
}

func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is empty.
func (id ID) IsZero() bool { return id == "" }

// SplitSuffix splits a reference suffix of the form "tag:id" into its parts.
// A suffix without a colon is returned as the raw reference with ok false,
// since it may name either a tag or an identifier.
func SplitSuffix(suffix string) (tag string, id ID, ok bool) {
	before, after, found := strings.Cut(suffix, ":")
	if !found {
		return suffix, "", false
	}
	return before, ID(after), true
}

// Sort orders identifiers lexically in place and returns them.
func Sort(ids []ID) []ID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetToSlice materializes a set of identifiers in lexical order.
func SetToSlice(set map[ID]struct{}) []ID {
	out := make([]ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return Sort(out)
}
