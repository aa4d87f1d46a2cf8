package graph

import (
	"context"
	"sort"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/topologystore"
)

func (m *Manager) AllUpstream(ctx context.Context, id cellid.ID) []cellid.ID {
	return cellid.SetToSlice(reach(id, func(n cellid.ID) []cellid.ID { return m.topology.Parents(ctx, n) }))
}

func (m *Manager) AllDownstream(ctx context.Context, id cellid.ID) []cellid.ID {
	return cellid.SetToSlice(reach(id, func(n cellid.ID) []cellid.ID { return m.topology.Children(ctx, n) }))
}

func (m *Manager) SemanticUpstream(ctx context.Context, id cellid.ID) map[cellid.ID][]string {
	out := make(map[cellid.ID][]string)
	for parent, sem := range m.topology.SemanticParents(ctx, id) {
		out[parent] = items(sem)
	}
	return out
}

func (m *Manager) AllSemanticUpstream(ctx context.Context, id cellid.ID) map[cellid.ID][]string {
	return m.semanticClosure(id, func(n cellid.ID) map[cellid.ID]topologystore.Semantic {
		return m.topology.SemanticParents(ctx, n)
	})
}

func (m *Manager) AllSemanticDownstream(ctx context.Context, id cellid.ID) map[cellid.ID][]string {
	return m.semanticClosure(id, func(n cellid.ID) map[cellid.ID]topologystore.Semantic {
		return m.topology.SemanticChildren(ctx, n)
	})
}

// semanticClosure walks semantic records breadth-first, merging the items
// recorded on every edge that reaches a cell.
func (m *Manager) semanticClosure(start cellid.ID, next func(cellid.ID) map[cellid.ID]topologystore.Semantic) map[cellid.ID][]string {
	whole := make(map[cellid.ID]bool)
	merged := make(map[cellid.ID]map[string]struct{})
	visited := map[cellid.ID]struct{}{start: {}}
	queue := []cellid.ID{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for neighbor, sem := range next(current) {
			if sem.Whole {
				whole[neighbor] = true
			}
			if merged[neighbor] == nil {
				merged[neighbor] = make(map[string]struct{})
			}
			for _, item := range sem.Items {
				merged[neighbor][item] = struct{}{}
			}
			if _, seen := visited[neighbor]; !seen {
				visited[neighbor] = struct{}{}
				queue = append(queue, neighbor)
			}
		}
	}
	delete(merged, start)

	out := make(map[cellid.ID][]string, len(merged))
	for id, set := range merged {
		if whole[id] || len(set) == 0 {
			out[id] = nil
			continue
		}
		out[id] = items(topologystore.Semantic{Items: keys(set)})
	}
	return out
}

// reach returns every cell reachable from start, excluding start itself.
func reach(start cellid.ID, next func(cellid.ID) []cellid.ID) map[cellid.ID]struct{} {
	found := make(map[cellid.ID]struct{})
	queue := []cellid.ID{start}
	visited := map[cellid.ID]struct{}{start: {}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, neighbor := range next(current) {
			found[neighbor] = struct{}{}
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}
			queue = append(queue, neighbor)
		}
	}
	delete(found, start)
	return found
}

func items(sem topologystore.Semantic) []string {
	if sem.Whole || len(sem.Items) == 0 {
		return nil
	}
	return append([]string(nil), sem.Items...)
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
