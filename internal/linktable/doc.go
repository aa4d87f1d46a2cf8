// Package linktable maps exported names ("tags") to the cells that produce
// them.
//
// Every tag has two views:
//
//   - a current-producer stack, most recent last. The top entry that is not
//     the cell asking is the producer a bare name resolves to.
//   - an all-time set of every cell that ever produced the tag, used for
//     completion and for reloading saved notebooks.
//
// A tag whose stack is empty resolves as undefined. UnbindCell removes a cell
// from every tag in both views and leaves other producers untouched.
//
// The Table satisfies resolver.Links, which is how the reference resolver
// turns a free name into a concrete producer at rewrite time.
package linktable
