package resolver

import (
	"context"
	"fmt"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/ctxlog"
	"github.com/vk/dfkernel/internal/pysyntax"
)

// Links is the variable-resolution service consulted at rewrite time. It
// answers which cell, other than the one being resolved, currently exports
// a name.
type Links interface {
	ResolveExternalCurrent(name string, currentCell cellid.ID) (cellid.ID, bool)
}

// Request describes one cell to resolve.
type Request struct {
	Cell cellid.ID
	Code string
	// InputTags maps user-assigned cell tags to the cell carrying them.
	InputTags map[string]cellid.ID
	// Predeclared names are bound before the cell runs, such as the input
	// variables of a function cell, and are never linked.
	Predeclared []string
}

// Resolution is the outcome of resolving one cell.
type Resolution struct {
	// Display is the source with every reference in name$[qual][tag:]id form.
	Display string
	// Exec is the source with every reference in lookup form.
	Exec string
	// Refs are the resolved references, offsets relative to the placeholder source.
	Refs []Ref
}

// Parents returns the distinct producer cells referenced, in lexical order.
func (r *Resolution) Parents() []cellid.ID {
	set := make(map[cellid.ID]struct{}, len(r.Refs))
	for _, ref := range r.Refs {
		set[ref.CellID] = struct{}{}
	}
	return cellid.SetToSlice(set)
}

// Resolver runs the three resolution passes against a link table.
type Resolver struct {
	links Links
}

// New creates a resolver backed by links.
func New(links Links) *Resolver {
	return &Resolver{links: links}
}

// Resolve rewrites req.Code. Errors are one of the resolver error types or a
// *pysyntax.SyntaxError.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	logger := ctxlog.FromContext(ctx).With("cell_id", req.Cell.String())

	// Pass 1: lexical scan and placeholder substitution.
	found := scanRefs(req.Code, req.InputTags)
	spans := make([]span, len(found))
	for i, ref := range found {
		spans[i] = span{start: ref.Start, end: ref.End, text: placeholder(i)}
	}
	masked := rewrite(req.Code, spans)
	logger.Debug("Lexical references found.", "count", len(found))

	// Pass 2: scope-aware resolution.
	tree, err := pysyntax.Parse(ctx, []byte(masked))
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	v := newVisitor([]byte(masked), req.Cell, r.links, found)
	for _, name := range req.Predeclared {
		v.top().bound[name] = struct{}{}
	}
	v.visit(tree.RootNode())
	if v.err != nil {
		return nil, v.err
	}

	resolved := make([]Ref, 0, len(v.refs))
	for _, ref := range v.refs {
		if !ref.Bare {
			q, err := qualify(ref, req.Cell, r.links, req.InputTags)
			if err != nil {
				return nil, err
			}
			ref = q
		}
		resolved = append(resolved, ref)
	}

	// Pass 3: render.
	display := make([]span, len(resolved))
	exec := make([]span, len(resolved))
	for i, ref := range resolved {
		display[i] = span{start: ref.Start, end: ref.End, text: ref.Display()}
		exec[i] = span{start: ref.Start, end: ref.End, text: ref.Lookup()}
	}
	res := &Resolution{
		Display: rewrite(masked, display),
		Exec:    rewrite(masked, exec),
		Refs:    resolved,
	}
	logger.Debug("Cell references resolved.", "refs", len(resolved), "parents", fmt.Sprint(res.Parents()))
	return res, nil
}
