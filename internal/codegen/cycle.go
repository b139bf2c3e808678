package codegen

import (
	"slices"

	"github.com/roach88/ethos/internal/ir"
)

// embedGraph maps an object type to the object types it holds by value:
// required fields that reference a struct directly. Slices, maps, unions
// and optional fields already break the containment.
type embedGraph map[string][]string

func buildEmbedGraph(snap *ir.VersionSnapshot) embedGraph {
	structs := make(map[string]bool)
	for _, t := range snap.Types {
		if t.Kind == ir.KindObject && len(t.Fields) > 0 {
			structs[t.Name] = true
		}
	}

	graph := make(embedGraph)
	for _, t := range snap.Types {
		if !structs[t.Name] {
			continue
		}
		graph[t.Name] = []string{}
		for _, f := range t.Fields {
			if f.Required && structs[f.Type.Ref] {
				graph[t.Name] = append(graph[t.Name], f.Type.Ref)
			}
		}
	}
	return graph
}

// recursiveEdges returns the embeddings that close a containment cycle,
// keyed "from\x00to". Generating those fields by value would give Go an
// infinitely sized type, so they are emitted as pointers.
func recursiveEdges(snap *ir.VersionSnapshot) map[string]bool {
	graph := buildEmbedGraph(snap)
	edges := make(map[string]bool)
	for _, scc := range tarjanSCC(graph) {
		members := make(map[string]bool, len(scc))
		for _, n := range scc {
			members[n] = true
		}
		for _, from := range scc {
			for _, to := range graph[from] {
				if members[to] && (len(scc) > 1 || to == from) {
					edges[from+"\x00"+to] = true
				}
			}
		}
	}
	return edges
}

// tarjanSCC returns the strongly connected components of graph. Nodes are
// visited in name order so the result does not depend on map iteration.
func tarjanSCC(graph embedGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}
