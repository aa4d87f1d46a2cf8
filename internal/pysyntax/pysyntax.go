// Package pysyntax parses notebook cell source with tree-sitter's Python
// grammar and offers the small set of node helpers the resolver and the
// expression sandbox share.
package pysyntax

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// ErrSyntax is matched by every *SyntaxError.
var ErrSyntax = errors.New("syntax error")

// SyntaxError reports the first malformed region of a cell.
type SyntaxError struct {
	Line   int
	Column int
	Text   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d, column %d near %q", e.Line, e.Column, e.Text)
}

func (e *SyntaxError) Is(target error) bool { return target == ErrSyntax }

// Parse returns the syntax tree of src. The caller must Close the tree. A
// tree containing error nodes is closed and reported as a *SyntaxError.
func Parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing cell source: %w", err)
	}
	root := tree.RootNode()
	if root.HasError() {
		bad := firstError(root)
		tree.Close()
		if bad == nil {
			bad = root
		}
		return nil, &SyntaxError{
			Line:   int(bad.StartPoint().Row) + 1,
			Column: int(bad.StartPoint().Column) + 1,
			Text:   Text(bad, src),
		}
	}
	return tree, nil
}

// Text returns the source text covered by n.
func Text(n *sitter.Node, src []byte) string {
	return string(src[n.StartByte():n.EndByte()])
}

// NamedChildren returns the named children of n in source order.
func NamedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

// Children returns every child of n, named or anonymous, in source order.
func Children(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.ChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, n.Child(i))
	}
	return out
}

// Same reports whether a and b cover the same span with the same type.
func Same(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func firstError(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for _, child := range Children(n) {
		if child.HasError() || child.IsMissing() {
			if bad := firstError(child); bad != nil {
				return bad
			}
		}
	}
	return nil
}
