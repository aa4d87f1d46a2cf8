package linktable

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/ctxlog"
)

// Table is the tag linking table of a single kernel.
type Table struct {
	mu      sync.RWMutex
	current map[string]*ProducerStack
	allTime map[string]map[cellid.ID]struct{}
}

// New creates an empty table.
func New() *Table {
	return &Table{
		current: make(map[string]*ProducerStack),
		allTime: make(map[string]map[cellid.ID]struct{}),
	}
}

// Bind records id as a producer of tag. With makeCurrent the cell also
// becomes the tag's most recent current producer.
func (t *Table) Bind(ctx context.Context, tag string, id cellid.ID, makeCurrent bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindLocked(tag, id, makeCurrent)
	ctxlog.FromContext(ctx).Debug("Tag bound.", "tag", tag, "cell_id", id.String(), "current", makeCurrent)
}

// BindBatch seeds the table from saved notebook metadata. A tag is promoted
// to current only when it has exactly one historical producer and no current
// producer yet; ambiguous tags stay unresolved until a cell re-exports them.
func (t *Table) BindBatch(ctx context.Context, producers map[string][]cellid.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tags := make([]string, 0, len(producers))
	for tag := range producers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		for _, id := range producers[tag] {
			t.bindLocked(tag, id, false)
		}
		stack := t.current[tag]
		if len(t.allTime[tag]) == 1 && (stack == nil || stack.Len() == 0) {
			for id := range t.allTime[tag] {
				t.bindLocked(tag, id, true)
			}
			continue
		}
		if len(t.allTime[tag]) > 1 {
			ctxlog.FromContext(ctx).Debug("Ambiguous tag left unresolved.", "tag", tag, "producers", len(t.allTime[tag]))
		}
	}
}

// UnbindCell removes id from every tag's current stack and all-time set.
func (t *Table) UnbindCell(ctx context.Context, id cellid.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for tag, stack := range t.current {
		stack.Remove(id)
		if stack.Len() == 0 {
			delete(t.current, tag)
		}
	}
	for tag, set := range t.allTime {
		delete(set, id)
		if len(set) == 0 {
			delete(t.allTime, tag)
		}
	}
	ctxlog.FromContext(ctx).Debug("Cell unbound from all tags.", "cell_id", id.String())
}

// HasExternalCurrent reports whether name has a current producer other than
// the cell asking.
func (t *Table) HasExternalCurrent(name string, currentCell cellid.ID) bool {
	_, ok := t.ResolveExternalCurrent(name, currentCell)
	return ok
}

// ResolveExternalCurrent returns the most recent current producer of name
// that is not currentCell.
func (t *Table) ResolveExternalCurrent(name string, currentCell cellid.ID) (cellid.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stack, ok := t.current[name]
	if !ok {
		return "", false
	}
	return stack.TopExcept(currentCell)
}

// Current returns the most recent current producer of tag.
func (t *Table) Current(tag string) (cellid.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stack, ok := t.current[tag]
	if !ok {
		return "", false
	}
	return stack.Top()
}

// Producers returns every cell that ever produced tag.
func (t *Table) Producers(tag string) []cellid.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cellid.SetToSlice(t.allTime[tag])
}

// Tags returns every tag with at least one all-time producer.
func (t *Table) Tags() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.allTime))
	for tag := range t.allTime {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// TagsOf returns the tags id currently produces.
func (t *Table) TagsOf(id cellid.ID) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for tag, set := range t.allTime {
		if _, ok := set[id]; ok {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

// Complete returns completions for "name" or "name$suffix". Names match known
// tags by prefix. After a "$", suffixes match both input-tag aliases and raw
// producer identifiers of the named tag by prefix.
func (t *Table) Complete(prefix string, inputAliases map[string]cellid.ID) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	name, suffix, hasDollar := strings.Cut(prefix, "$")
	var out []string
	if !hasDollar {
		for tag := range t.allTime {
			if strings.HasPrefix(tag, name) {
				out = append(out, tag)
			}
		}
		sort.Strings(out)
		return out
	}

	producers, ok := t.allTime[name]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	for alias, id := range inputAliases {
		if _, produces := producers[id]; produces && strings.HasPrefix(alias, suffix) {
			seen[name+"$"+alias] = struct{}{}
		}
	}
	for id := range producers {
		if strings.HasPrefix(id.String(), suffix) {
			seen[name+"$"+id.String()] = struct{}{}
		}
	}
	for candidate := range seen {
		out = append(out, candidate)
	}
	sort.Strings(out)
	return out
}

func (t *Table) bindLocked(tag string, id cellid.ID, makeCurrent bool) {
	if t.allTime[tag] == nil {
		t.allTime[tag] = make(map[cellid.ID]struct{})
	}
	t.allTime[tag][id] = struct{}{}
	if !makeCurrent {
		return
	}
	stack, ok := t.current[tag]
	if !ok {
		stack = &ProducerStack{}
		t.current[tag] = stack
	}
	stack.Push(id)
}
