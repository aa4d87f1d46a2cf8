package resolver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vk/dfkernel/internal/cellid"
)

// LookupRoot is the identifier the lookup form indexes, e.g. Out['a1']['x'].
// Sandboxes must expose the kernel's outputs under this name.
const LookupRoot = "Out"

// placeholderRoot is the identifier pass 1 substitutes references with.
const placeholderRoot = "__dfvar__"

// Qualifier is the optional character after "$".
type Qualifier byte

const (
	Unqualified Qualifier = 0
	// Follow re-targets the tag's current producer ("^").
	Follow Qualifier = '^'
	// Pinned fails resolution once the tag has moved ("=").
	Pinned Qualifier = '='
	// Loose is accepted for compatibility and resolved like Unqualified ("~").
	Loose Qualifier = '~'
)

func (q Qualifier) String() string {
	if q == Unqualified {
		return ""
	}
	return string(rune(q))
}

func parseQualifier(s string) (Qualifier, bool) {
	switch s {
	case "^":
		return Follow, true
	case "=":
		return Pinned, true
	case "~":
		return Loose, true
	}
	return Unqualified, false
}

// Ref is one cross-cell reference found in a cell's source.
type Ref struct {
	// Start and End are byte offsets of the span in the source the
	// reference was found in.
	Start, End int
	Name       string
	Tag        string
	CellID     cellid.ID
	Qualifier  Qualifier
	// Bare marks a plain name linked through the link table rather than
	// written with a "$" suffix.
	Bare bool

	// quote is the delimiter of the f-string the reference sits in, if any.
	quote byte
}

// Display renders the user-facing form name$[qualifier][tag:]cellId.
func (r Ref) Display() string {
	var b strings.Builder
	b.WriteString(r.Name)
	b.WriteByte('$')
	b.WriteString(r.Qualifier.String())
	if r.Tag != "" {
		b.WriteString(r.Tag)
		if r.CellID != "" {
			b.WriteByte(':')
		}
	}
	b.WriteString(r.CellID.String())
	return b.String()
}

// Lookup renders the execution form that reads item Name from CellID's
// output. Keys are single-quoted unless that would close the enclosing
// f-string.
func (r Ref) Lookup() string {
	q := "'"
	if r.quote == '\'' {
		q = `"`
	}
	return fmt.Sprintf("%s[%s%s%s][%s%s%s]", LookupRoot, q, r.CellID.String(), q, q, r.Name, q)
}

// placeholder renders the i-th pass-1 reference as a subscript expression.
// It carries no quotes or braces, so it parses inside f-string fields.
func placeholder(i int) string {
	return fmt.Sprintf("%s[%d]", placeholderRoot, i)
}

// placeholderIndex parses the subscript of a placeholder.
func placeholderIndex(subscript string, count int) (int, error) {
	i, err := strconv.Atoi(subscript)
	if err != nil || i < 0 || i >= count {
		return 0, fmt.Errorf("malformed placeholder %s[%s]", placeholderRoot, subscript)
	}
	return i, nil
}

// span is a replacement of src[start:end].
type span struct {
	start, end int
	text       string
}

// rewrite applies non-overlapping replacements back to front so earlier
// offsets stay valid.
func rewrite(src string, spans []span) string {
	sorted := append([]span(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].end > sorted[j].end })
	out := src
	for _, s := range sorted {
		out = out[:s.start] + s.text + out[s.end:]
	}
	return out
}
