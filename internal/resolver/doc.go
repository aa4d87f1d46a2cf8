// Package resolver rewrites a cell's source so that symbolic cross-cell
// references become concrete lookups against the right producer.
//
// # Reference Syntax
//
//	name              bare name, linked if another cell currently exports it
//	name$cellId       item name of cell cellId
//	name$tag          item name of the cell tagged tag
//	name$tag:cellId   both, the tag kept for display
//	name$^...         follow whichever cell currently owns name
//	name$=...         pinned: fail if the tag has moved
//
// The "$" suffix is not valid Python, so resolution runs in three passes:
//
//  1. Lexical: a token scan finds every name$suffix span, including those
//     inside f-string replacement fields, and replaces it back to front
//     with a placeholder subscript indexing the scanned references. The
//     result is parseable.
//  2. Scope-aware resolution: a tree-sitter visitor walks the placeholder
//     source with a stack of bound-name sets (function and lambda
//     parameters, class bodies, exception names, comprehension variables,
//     imports). Placeholders and free bare names are resolved against the
//     link table and the input tags with the qualifier rules.
//  3. Rewrite: each resolved span is rendered twice, once in display form
//     for the user and once in lookup form for execution.
//
// Resolution errors (unknown tag, stale pin, duplicate binding) abort before
// any code runs.
package resolver
