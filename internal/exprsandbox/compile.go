package exprsandbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/pysyntax"
	"github.com/vk/dfkernel/internal/result"
)

// ErrUnsupported is matched by errors for source the sandbox cannot run.
var ErrUnsupported = errors.New("unsupported construct")

type stmtKind int

const (
	stmtExpr stmtKind = iota
	stmtTuple
	stmtAssign
)

type statement struct {
	kind stmtKind
	line int
	// exprs holds one expression, or one per tuple element.
	exprs []hclsyntax.Expression
	// names holds the identifier of each tuple element, or "" for an
	// element that is not a bare name.
	names   []string
	targets []string
}

type program struct {
	stmts []statement
	plan  result.Plan
}

type compiler struct {
	src []byte
	err error
}

func unsupported(n *sitter.Node, what string) error {
	return fmt.Errorf("line %d: %w: %s", n.StartPoint().Row+1, ErrUnsupported, what)
}

// compile parses cell source into evaluable statements and decides what the
// cell exports from its trailing statement.
func compile(ctx context.Context, cell cellid.ID, code string) (*program, error) {
	src := []byte(code)
	tree, err := pysyntax.Parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	c := &compiler{src: src}
	prog := &program{plan: result.Plan{Cell: cell}}
	for _, n := range pysyntax.NamedChildren(tree.RootNode()) {
		switch n.Type() {
		case "comment":
			continue
		case "import_statement", "import_from_statement", "future_import_statement":
			return nil, unsupported(n, "imports")
		case "expression_statement":
			st, err := c.statement(n)
			if err != nil {
				return nil, err
			}
			prog.stmts = append(prog.stmts, st)
		default:
			return nil, unsupported(n, n.Type())
		}
	}
	if len(prog.stmts) > 0 {
		prog.plan = planFor(cell, prog.stmts[len(prog.stmts)-1])
	}
	return prog, nil
}

func planFor(cell cellid.ID, st statement) result.Plan {
	plan := result.Plan{Cell: cell}
	switch st.kind {
	case stmtAssign:
		plan.Names = append(plan.Names, st.targets...)
	case stmtTuple:
		for i, name := range st.names {
			if name != "" {
				plan.Names = append(plan.Names, name)
			} else {
				plan.Unnamed = append(plan.Unnamed, i)
			}
		}
	default:
		if st.names[0] != "" {
			plan.Names = []string{st.names[0]}
		} else {
			plan.Unnamed = []int{0}
		}
	}
	return plan
}

func (c *compiler) statement(n *sitter.Node) (statement, error) {
	st := statement{line: int(n.StartPoint().Row) + 1}
	kids := nonComment(pysyntax.NamedChildren(n))
	if len(kids) == 1 && kids[0].Type() == "assignment" {
		return c.assignment(st, kids[0])
	}
	if len(kids) == 1 && kids[0].Type() == "augmented_assignment" {
		return st, unsupported(n, "augmented assignment")
	}
	st.kind = stmtExpr
	if len(kids) > 1 {
		st.kind = stmtTuple
	}
	for _, k := range kids {
		expr, err := c.expression(k)
		if err != nil {
			return st, err
		}
		st.exprs = append(st.exprs, expr)
		name := ""
		if k.Type() == "identifier" {
			name = pysyntax.Text(k, c.src)
		}
		st.names = append(st.names, name)
	}
	return st, nil
}

func (c *compiler) assignment(st statement, n *sitter.Node) (statement, error) {
	st.kind = stmtAssign
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil {
		return st, unsupported(n, "annotation without value")
	}
	switch left.Type() {
	case "identifier":
		st.targets = []string{pysyntax.Text(left, c.src)}
	case "pattern_list", "tuple_pattern":
		for _, t := range nonComment(pysyntax.NamedChildren(left)) {
			if t.Type() != "identifier" {
				return st, unsupported(t, "assignment target "+t.Type())
			}
			st.targets = append(st.targets, pysyntax.Text(t, c.src))
		}
	default:
		return st, unsupported(left, "assignment target "+left.Type())
	}

	values := []*sitter.Node{right}
	if right.Type() == "expression_list" {
		values = nonComment(pysyntax.NamedChildren(right))
	}
	if right.Type() == "assignment" {
		return st, unsupported(right, "chained assignment")
	}
	for _, v := range values {
		expr, err := c.expression(v)
		if err != nil {
			return st, err
		}
		st.exprs = append(st.exprs, expr)
	}
	return st, nil
}

func (c *compiler) expression(n *sitter.Node) (hclsyntax.Expression, error) {
	c.err = nil
	text := c.translate(n)
	if c.err != nil {
		return nil, c.err
	}
	start := hcl.Pos{Line: int(n.StartPoint().Row) + 1, Column: int(n.StartPoint().Column) + 1}
	expr, diags := hclsyntax.ParseExpression([]byte(text), "cell", start)
	if diags.HasErrors() {
		return nil, fmt.Errorf("line %d: %w", start.Line, diags)
	}
	return expr, nil
}

// translate renders a Python expression in HCL expression syntax.
func (c *compiler) translate(n *sitter.Node) string {
	switch n.Type() {
	case "true":
		return "true"
	case "false":
		return "false"
	case "none":
		return "null"
	case "string":
		return c.str(n)
	case "conditional_expression":
		kids := nonComment(pysyntax.NamedChildren(n))
		if len(kids) != 3 {
			c.fail(unsupported(n, "conditional expression"))
			return ""
		}
		return fmt.Sprintf("(%s ? %s : %s)", c.translate(kids[1]), c.translate(kids[0]), c.translate(kids[2]))
	case "not_operator":
		arg := n.ChildByFieldName("argument")
		if arg == nil {
			c.fail(unsupported(n, "not"))
			return ""
		}
		return "!" + c.translate(arg)
	case "and":
		return "&&"
	case "or":
		return "||"
	case "//", "**", "lambda", "await", "list_comprehension", "dictionary_comprehension",
		"set_comprehension", "generator_expression", "keyword_argument", "set":
		c.fail(unsupported(n, n.Type()))
		return ""
	}
	if n.ChildCount() == 0 {
		return pysyntax.Text(n, c.src)
	}
	var b strings.Builder
	pos := n.StartByte()
	for _, child := range pysyntax.Children(n) {
		b.Write(c.src[pos:child.StartByte()])
		b.WriteString(c.translate(child))
		pos = child.EndByte()
	}
	b.Write(c.src[pos:n.EndByte()])
	return b.String()
}

// str renders a plain single-line Python string literal as an HCL string
// without template sequences.
func (c *compiler) str(n *sitter.Node) string {
	text := pysyntax.Text(n, c.src)
	if len(text) < 2 || (text[0] != '\'' && text[0] != '"') ||
		strings.HasPrefix(text, `'''`) || strings.HasPrefix(text, `"""`) {
		c.fail(unsupported(n, "string literal "+text))
		return ""
	}
	body := text[1 : len(text)-1]
	if text[0] == '\'' {
		body = strings.ReplaceAll(body, `\'`, `'`)
		body = strings.ReplaceAll(body, `"`, `\"`)
	}
	inner, err := strconv.Unquote(`"` + body + `"`)
	if err != nil {
		c.fail(unsupported(n, "string literal "+text))
		return ""
	}
	quoted := strconv.Quote(inner)
	quoted = strings.ReplaceAll(quoted, "${", "$${")
	return strings.ReplaceAll(quoted, "%{", "%%{")
}

func (c *compiler) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func nonComment(nodes []*sitter.Node) []*sitter.Node {
	out := nodes[:0:0]
	for _, n := range nodes {
		if n.Type() != "comment" {
			out = append(out, n)
		}
	}
	return out
}
