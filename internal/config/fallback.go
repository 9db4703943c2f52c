package config

import (
	"slices"
	"sort"
)

// validateFallbackGraph proves the fallback-model relation over the table is
// fully resolvable and acyclic, or returns a diagnostic precise enough to
// fix the config without guessing.
//
// Two passes. The existence pass checks every listed fallback target against
// the same resolution the request path uses, so shorthand references are
// accepted. The cycle pass then runs a depth-first traversal over the
// adjacency relation; because existence has been confirmed for every edge, a
// DFS branch can only terminate at a node with no outgoing edges, never
// silently at a dangling reference.
func validateFallbackGraph(t *ModelTable) error {
	adj := t.fallbackEdges()

	froms := make([]string, 0, len(adj))
	for from := range adj {
		froms = append(froms, from)
	}
	sort.Strings(froms)

	for _, from := range froms {
		for _, target := range adj[from] {
			if !t.Resolvable(target) {
				return newError("models."+from+".fallback_models",
					"fallback model not found: %s -> %s", from, target)
			}
		}
	}

	if cycle := findFallbackCycle(adj); cycle != nil {
		return wrapError("models", cycle)
	}
	return nil
}

// findFallbackCycle runs DFS over the adjacency map and returns the first
// cycle found, or nil. Nodes proven cycle-free are memoized in visited, so
// each node's outgoing edges are explored at most once across the whole
// pass: O(V+E) despite re-entering the traversal once per table entry.
// Traversal order is deterministic (sorted roots, declared edge order) so
// repeated validation of the same table reports the same cycle.
func findFallbackCycle(adj map[string][]string) *FallbackCycleError {
	visited := make(map[string]struct{}, len(adj))
	pathSet := make(map[string]struct{})
	var path []string
	var cycle []string

	var visit func(node string) bool
	visit = func(node string) bool {
		if _, onPath := pathSet[node]; onPath {
			// The cycle is the suffix of the active path starting at the
			// first occurrence of node, closed by repeating node.
			start := slices.Index(path, node)
			cycle = append(append([]string(nil), path[start:]...), node)
			return true
		}
		if _, done := visited[node]; done {
			return false
		}
		path = append(path, node)
		pathSet[node] = struct{}{}
		for _, next := range adj[node] {
			if visit(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		delete(pathSet, node)
		visited[node] = struct{}{}
		return false
	}

	roots := make([]string, 0, len(adj))
	for node := range adj {
		roots = append(roots, node)
	}
	sort.Strings(roots)

	for _, root := range roots {
		if visit(root) {
			return &FallbackCycleError{Cycle: cycle}
		}
	}
	return nil
}
