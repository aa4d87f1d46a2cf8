// Package linearize exports a dataflow notebook as a plain notebook that runs
// correctly from top to bottom.
package linearize

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/ctxlog"
	"github.com/vk/dfkernel/internal/linktable"
	"github.com/vk/dfkernel/internal/notebook"
	"github.com/vk/dfkernel/internal/resolver"
)

// Preamble is the text of the markdown cell placed first in every export.
const Preamble = "This notebook was exported from a dataflow notebook.\n\n" +
	"Cells are ordered so that every cell runs after the cells it reads from, " +
	"and cross-cell references such as `x$a1b2c3d4` are written as plain names."

// Graph is the producer-to-consumer edge set of a notebook's code cells.
type Graph struct {
	// Order is the notebook order of the code cells.
	Order []cellid.ID
	// Children maps each producer to the cells reading from it.
	Children map[cellid.ID][]cellid.ID
	// Display holds each cell's source with every reference made explicit.
	Display map[cellid.ID]string
	// InputTags maps the notebook's cell tags to their cells.
	InputTags map[string]cellid.ID
}

// Discover resolves every code cell against the exports recorded in nb and
// collects the edges between them. A cell that fails to resolve contributes
// the references it spells out with "$" only.
func Discover(ctx context.Context, nb *notebook.Notebook) *Graph {
	logger := ctxlog.FromContext(ctx)

	links := linktable.New()
	producers := make(map[string][]cellid.ID)
	for id, names := range nb.OutputTags() {
		for _, name := range names {
			producers[name] = append(producers[name], id)
		}
	}
	links.BindBatch(ctx, producers)
	res := resolver.New(links)
	inputTags := nb.InputTags()

	cells := nb.CodeCells()
	g := &Graph{
		Order:     make([]cellid.ID, 0, len(cells)),
		Children:  make(map[cellid.ID][]cellid.ID),
		Display:   make(map[cellid.ID]string, len(cells)),
		InputTags: inputTags,
	}
	known := make(map[cellid.ID]bool, len(cells))
	for _, c := range cells {
		g.Order = append(g.Order, c.ID)
		known[c.ID] = true
	}

	for _, c := range cells {
		var parents []cellid.ID
		resolution, err := res.Resolve(ctx, resolver.Request{Cell: c.ID, Code: c.Source, InputTags: inputTags})
		if err != nil {
			logger.Warn("Cell could not be resolved, using its explicit references.", "cell_id", c.ID.String(), "error", err)
			g.Display[c.ID] = c.Source
			for _, ref := range resolver.References(c.Source, inputTags) {
				parents = append(parents, ref.CellID)
			}
		} else {
			g.Display[c.ID] = resolution.Display
			parents = resolution.Parents()
		}

		seen := make(map[cellid.ID]bool, len(parents))
		for _, p := range parents {
			if p == c.ID || !known[p] || seen[p] {
				continue
			}
			seen[p] = true
			g.Children[p] = append(g.Children[p], c.ID)
		}
	}
	for p, children := range g.Children {
		g.Children[p] = g.sortByPosition(children)
	}
	logger.Debug("Notebook edges discovered.", "cells", len(cells), "producers", len(g.Children))
	return g
}

func (g *Graph) sortByPosition(ids []cellid.ID) []cellid.ID {
	pos := make(map[cellid.ID]int, len(g.Order))
	for i, id := range g.Order {
		pos[id] = i
	}
	slices.SortFunc(ids, func(a, b cellid.ID) int { return pos[a] - pos[b] })
	return ids
}

// Sort returns the code cells in an order where every producer precedes its
// consumers. Cells with no dependency between them keep their notebook order.
// Cycles are not detected; a cycle's members come out in visiting order.
func (g *Graph) Sort() []cellid.ID {
	visited := make(map[cellid.ID]bool, len(g.Order))
	post := make([]cellid.ID, 0, len(g.Order))

	var visit func(id cellid.ID)
	visit = func(id cellid.ID) {
		visited[id] = true
		children := g.Children[id]
		for i := len(children) - 1; i >= 0; i-- {
			if !visited[children[i]] {
				visit(children[i])
			}
		}
		post = append(post, id)
	}
	for i := len(g.Order) - 1; i >= 0; i-- {
		if !visited[g.Order[i]] {
			visit(g.Order[i])
		}
	}

	slices.Reverse(post)
	return post
}

// Plain rewrites every name$suffix reference in src to its bare name.
// inputTags tells tag:id suffixes from format specs inside f-strings.
func Plain(src string, inputTags map[string]cellid.ID) string {
	refs := resolver.References(src, inputTags)
	if len(refs) == 0 {
		return src
	}
	var b strings.Builder
	last := 0
	for _, ref := range refs {
		b.WriteString(src[last:ref.Start])
		b.WriteString(ref.Name)
		last = ref.End
	}
	b.WriteString(src[last:])
	return b.String()
}

// Notebook builds the exported notebook: the preamble, then each code cell
// in dependency order preceded by the non-code cells that preceded it in nb.
// Non-code cells after the last code cell close the export.
func Notebook(ctx context.Context, nb *notebook.Notebook) *notebook.Notebook {
	logger := ctxlog.FromContext(ctx)
	g := Discover(ctx, nb)
	order := g.Sort()

	leading := make(map[cellid.ID][]*notebook.Cell)
	var pending []*notebook.Cell
	byID := make(map[cellid.ID]*notebook.Cell)
	for _, c := range nb.Cells {
		if !c.IsCode() {
			pending = append(pending, c)
			continue
		}
		leading[c.ID] = pending
		pending = nil
		byID[c.ID] = c
	}

	if err := checkCollisions(g, order); err != nil {
		logger.Warn("Exported names may shadow each other.", "error", err)
	}

	cells := make([]*notebook.Cell, 0, len(nb.Cells)+1)
	cells = append(cells, notebook.NewCell(notebook.TypeMarkdown, Preamble))
	for _, id := range order {
		for _, c := range leading[id] {
			cells = append(cells, c.Clone())
		}
		out := byID[id].Clone()
		out.Source = Plain(g.Display[id], g.InputTags)
		out.ClearDataflow()
		out.ResetExecution()
		cells = append(cells, out)
	}
	for _, c := range pending {
		cells = append(cells, c.Clone())
	}

	logger.Info("Notebook linearized.", "cells", len(cells), "code_cells", len(order))
	return nb.WithCells(cells)
}

// checkCollisions reports names that more than one exported cell reads from
// different producers, since plain names can only refer to the latest one.
func checkCollisions(g *Graph, order []cellid.ID) error {
	producers := make(map[string]map[cellid.ID]struct{})
	for _, id := range order {
		for _, ref := range resolver.References(g.Display[id], g.InputTags) {
			if ref.CellID == "" {
				continue
			}
			if producers[ref.Name] == nil {
				producers[ref.Name] = make(map[cellid.ID]struct{})
			}
			producers[ref.Name][ref.CellID] = struct{}{}
		}
	}

	var errs []error
	names := make([]string, 0, len(producers))
	for name := range producers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if len(producers[name]) > 1 {
			errs = append(errs, fmt.Errorf("%s is read from cells %v", name, cellid.SetToSlice(producers[name])))
		}
	}
	return errors.Join(errs...)
}
