package resolver

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/pysyntax"
)

// scope is one level of the bound-name stack.
type scope struct {
	bound map[string]struct{}
	// linked maps names read from another cell to the statement that read them.
	linked map[string]linkSite
}

type linkSite struct {
	stmt     int
	producer cellid.ID
}

func newScope() *scope {
	return &scope{bound: make(map[string]struct{}), linked: make(map[string]linkSite)}
}

// visitor is pass 2: it walks the placeholder source, collecting
// placeholder references and linking free bare names.
type visitor struct {
	src    []byte
	cell   cellid.ID
	links  Links
	found  []Ref
	scopes []*scope
	// quotes holds the delimiters of the f-strings being visited, innermost last.
	quotes []byte
	stmt   int
	refs   []Ref
	err    error
}

func newVisitor(src []byte, cell cellid.ID, links Links, found []Ref) *visitor {
	return &visitor{src: src, cell: cell, links: links, found: found, scopes: []*scope{newScope()}}
}

func (v *visitor) quote() byte {
	if len(v.quotes) == 0 {
		return 0
	}
	return v.quotes[len(v.quotes)-1]
}

func (v *visitor) push() { v.scopes = append(v.scopes, newScope()) }
func (v *visitor) pop()  { v.scopes = v.scopes[:len(v.scopes)-1] }

func (v *visitor) top() *scope { return v.scopes[len(v.scopes)-1] }

func (v *visitor) isBound(name string) bool {
	for i := len(v.scopes) - 1; i >= 0; i-- {
		if _, ok := v.scopes[i].bound[name]; ok {
			return true
		}
	}
	return false
}

func (v *visitor) fail(err error) {
	if v.err == nil {
		v.err = err
	}
}

func (v *visitor) text(n *sitter.Node) string { return pysyntax.Text(n, v.src) }

// bind records name as local to the innermost scope.
func (v *visitor) bind(name string) {
	s := v.top()
	if site, ok := s.linked[name]; ok && site.stmt != v.stmt {
		v.fail(&DuplicateBindingError{Name: name, Producer: site.producer})
		return
	}
	s.bound[name] = struct{}{}
}

// read handles a name in load position.
func (v *visitor) read(n *sitter.Node) {
	name := v.text(n)
	if name == placeholderRoot || v.isBound(name) {
		return
	}
	producer, ok := v.links.ResolveExternalCurrent(name, v.cell)
	if !ok {
		return
	}
	v.refs = append(v.refs, Ref{
		Start:  int(n.StartByte()),
		End:    int(n.EndByte()),
		Name:   name,
		CellID: producer,
		Bare:   true,
		quote:  v.quote(),
	})
	v.top().linked[name] = linkSite{stmt: v.stmt, producer: producer}
}

// placeholder returns the pass-1 reference n stands for, if n is a
// placeholder subscript.
func (v *visitor) placeholder(n *sitter.Node) (Ref, bool) {
	value := n.ChildByFieldName("value")
	index := n.ChildByFieldName("subscript")
	if value == nil || index == nil || value.Type() != "identifier" || v.text(value) != placeholderRoot {
		return Ref{}, false
	}
	i, err := placeholderIndex(v.text(index), len(v.found))
	if err != nil {
		v.fail(err)
		return Ref{}, false
	}
	ref := v.found[i]
	ref.Start, ref.End = int(n.StartByte()), int(n.EndByte())
	ref.quote = v.quote()
	return ref, true
}

func (v *visitor) visit(n *sitter.Node) {
	if n == nil || v.err != nil {
		return
	}
	switch n.Type() {
	case "module", "block":
		for _, stmt := range pysyntax.NamedChildren(n) {
			v.stmt++
			v.visit(stmt)
		}
	case "identifier":
		v.read(n)
	case "string":
		v.visitString(n)
	case "subscript":
		if ref, ok := v.placeholder(n); ok {
			v.refs = append(v.refs, ref)
			return
		}
		v.visitChildren(n)
	case "attribute":
		v.visit(n.ChildByFieldName("object"))
	case "keyword_argument":
		v.visit(n.ChildByFieldName("value"))
	case "assignment":
		v.visit(n.ChildByFieldName("right"))
		v.visit(n.ChildByFieldName("type"))
		v.bindTarget(n.ChildByFieldName("left"))
	case "augmented_assignment":
		v.visit(n.ChildByFieldName("right"))
		v.bindTarget(n.ChildByFieldName("left"))
	case "named_expression":
		v.visit(n.ChildByFieldName("value"))
		v.bindTarget(n.ChildByFieldName("name"))
	case "for_statement":
		v.visit(n.ChildByFieldName("right"))
		v.bindTarget(n.ChildByFieldName("left"))
		v.visit(n.ChildByFieldName("body"))
		v.visit(n.ChildByFieldName("alternative"))
	case "as_pattern":
		v.visitAsPattern(n)
	case "function_definition":
		v.visitFunction(n)
	case "lambda":
		v.visitLambda(n)
	case "class_definition":
		v.visitClass(n)
	case "except_clause", "except_group_clause":
		v.visitExcept(n)
	case "list_comprehension", "set_comprehension", "dictionary_comprehension", "generator_expression":
		v.visitComprehension(n)
	case "import_statement", "import_from_statement":
		v.visitImport(n)
	case "delete_statement":
		for _, child := range pysyntax.NamedChildren(n) {
			v.visitDeleteTarget(child)
		}
	case "future_import_statement", "global_statement", "nonlocal_statement":
		// Declarations only; no loads.
	default:
		v.visitChildren(n)
	}
}

// visitString visits the replacement fields of an f-string with its
// delimiter recorded.
func (v *visitor) visitString(n *sitter.Node) {
	text := strings.TrimLeft(v.text(n), "rRuUbBfF")
	if text == "" {
		return
	}
	v.quotes = append(v.quotes, text[0])
	defer func() { v.quotes = v.quotes[:len(v.quotes)-1] }()
	v.visitChildren(n)
}

func (v *visitor) visitChildren(n *sitter.Node) {
	for _, child := range pysyntax.NamedChildren(n) {
		v.visit(child)
	}
}

// bindTarget binds every name an assignment target introduces. Attribute
// and subscript targets only read their object.
func (v *visitor) bindTarget(n *sitter.Node) {
	if n == nil || v.err != nil {
		return
	}
	switch n.Type() {
	case "identifier":
		v.bind(v.text(n))
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list",
		"parenthesized_expression", "list_splat_pattern", "list_splat", "expression_list":
		for _, child := range pysyntax.NamedChildren(n) {
			v.bindTarget(child)
		}
	case "as_pattern_target":
		if n.NamedChildCount() == 0 {
			v.bind(v.text(n))
			return
		}
		for _, child := range pysyntax.NamedChildren(n) {
			v.bindTarget(child)
		}
	case "attribute":
		v.visit(n.ChildByFieldName("object"))
	case "subscript":
		if ref, ok := v.placeholder(n); ok {
			v.fail(&AssignToReferenceError{Ref: ref})
			return
		}
		v.visitChildren(n)
	default:
		v.visit(n)
	}
}

// visitDeleteTarget walks a del target. Deleted names are never linked;
// attribute and subscript targets still read their object.
func (v *visitor) visitDeleteTarget(n *sitter.Node) {
	if n == nil || v.err != nil {
		return
	}
	switch n.Type() {
	case "identifier":
	case "expression_list", "tuple", "list", "parenthesized_expression":
		for _, child := range pysyntax.NamedChildren(n) {
			v.visitDeleteTarget(child)
		}
	default:
		v.bindTarget(n)
	}
}

func (v *visitor) visitAsPattern(n *sitter.Node) {
	children := pysyntax.NamedChildren(n)
	if len(children) == 0 {
		return
	}
	v.visit(children[0])
	v.bindTarget(n.ChildByFieldName("alias"))
}

// walkParams visits default values and annotations in the enclosing scope,
// or binds parameter names when bind is set.
func (v *visitor) walkParams(params *sitter.Node, bind bool) {
	for _, p := range pysyntax.NamedChildren(params) {
		switch p.Type() {
		case "identifier":
			if bind {
				v.bind(v.text(p))
			}
		case "default_parameter", "typed_default_parameter":
			if bind {
				v.bindTarget(p.ChildByFieldName("name"))
			} else {
				v.visit(p.ChildByFieldName("type"))
				v.visit(p.ChildByFieldName("value"))
			}
		case "typed_parameter":
			if !bind {
				v.visit(p.ChildByFieldName("type"))
				continue
			}
			for _, c := range pysyntax.NamedChildren(p) {
				if !pysyntax.Same(c, p.ChildByFieldName("type")) {
					v.bindTarget(c)
				}
			}
		case "list_splat_pattern", "dictionary_splat_pattern", "tuple_pattern":
			if bind {
				for _, c := range pysyntax.NamedChildren(p) {
					v.bindTarget(c)
				}
			}
		}
	}
}

func (v *visitor) visitFunction(n *sitter.Node) {
	params := n.ChildByFieldName("parameters")
	v.walkParams(params, false)
	v.visit(n.ChildByFieldName("return_type"))
	v.bindTarget(n.ChildByFieldName("name"))

	v.push()
	defer v.pop()
	v.walkParams(params, true)
	v.visit(n.ChildByFieldName("body"))
}

func (v *visitor) visitLambda(n *sitter.Node) {
	params := n.ChildByFieldName("parameters")
	v.walkParams(params, false)

	v.push()
	defer v.pop()
	v.walkParams(params, true)
	v.visit(n.ChildByFieldName("body"))
}

func (v *visitor) visitClass(n *sitter.Node) {
	v.visit(n.ChildByFieldName("superclasses"))
	v.bindTarget(n.ChildByFieldName("name"))

	v.push()
	defer v.pop()
	v.visit(n.ChildByFieldName("body"))
}

// visitExcept evaluates the exception type in the enclosing scope and the
// handler body in a new scope where the "as" name is bound.
func (v *visitor) visitExcept(n *sitter.Node) {
	var body *sitter.Node
	var alias *sitter.Node
	afterAs := false
	for _, child := range pysyntax.Children(n) {
		switch {
		case child.Type() == "block":
			body = child
		case !child.IsNamed():
			afterAs = child.Type() == "as"
		case child.Type() == "as_pattern":
			children := pysyntax.NamedChildren(child)
			if len(children) > 0 {
				v.visit(children[0])
			}
			alias = child.ChildByFieldName("alias")
		case afterAs:
			alias = child
			afterAs = false
		default:
			v.visit(child)
		}
	}

	v.push()
	defer v.pop()
	v.bindTarget(alias)
	v.visit(body)
}

// visitComprehension evaluates the first iterable in the enclosing scope and
// everything else with the loop variables bound.
func (v *visitor) visitComprehension(n *sitter.Node) {
	var clauses []*sitter.Node
	for _, child := range pysyntax.NamedChildren(n) {
		if child.Type() == "for_in_clause" || child.Type() == "if_clause" {
			clauses = append(clauses, child)
		}
	}

	first := true
	for _, c := range clauses {
		if c.Type() == "for_in_clause" {
			v.visitIterables(c)
			break
		}
	}

	v.push()
	defer v.pop()
	for _, c := range clauses {
		switch c.Type() {
		case "for_in_clause":
			if !first {
				v.visitIterables(c)
			}
			first = false
			v.bindTarget(c.ChildByFieldName("left"))
		case "if_clause":
			v.visitChildren(c)
		}
	}
	v.visit(n.ChildByFieldName("body"))
}

// visitIterables visits every expression after the "in" of a for_in_clause.
func (v *visitor) visitIterables(clause *sitter.Node) {
	afterIn := false
	for _, child := range pysyntax.Children(clause) {
		if !child.IsNamed() {
			if child.Type() == "in" {
				afterIn = true
			}
			continue
		}
		if afterIn {
			v.visit(child)
		}
	}
}

func (v *visitor) visitImport(n *sitter.Node) {
	module := n.ChildByFieldName("module_name")
	for _, child := range pysyntax.NamedChildren(n) {
		if pysyntax.Same(child, module) {
			continue
		}
		switch child.Type() {
		case "aliased_import":
			v.bindTarget(child.ChildByFieldName("alias"))
		case "dotted_name":
			parts := pysyntax.NamedChildren(child)
			if len(parts) == 0 {
				continue
			}
			if n.Type() == "import_statement" {
				// import a.b.c binds a.
				v.bind(v.text(parts[0]))
			} else {
				v.bind(v.text(parts[len(parts)-1]))
			}
		}
	}
}
