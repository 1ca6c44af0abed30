package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/tagflow/internal/ir"
)

// Cycle is a causality loop in the reaction precedence graph: reactions
// that would each have to run before the other at the same tag.
type Cycle struct {
	Path    []string `json:"path"`    // ["A.r1", "B.r2", "A.r1"]
	Message string   `json:"message"` // Human-readable description
}

// FindCycles performs static cycle analysis on a program's reactions.
//
// The algorithm:
//  1. Build the precedence graph: effect ports to the reactions they
//     trigger (through connections), and each reaction to the next
//     reaction of the same reactor
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop as a cycle
//
// Nodes are visited in reaction index order, so the result is
// deterministic. A DAG returns an empty list.
func FindCycles(p *ir.Program) []Cycle {
	graph := buildPrecedenceGraph(p)

	var cycles []Cycle
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			cycles = append(cycles, sccToCycle(p, scc, graph))
		}
	}
	return cycles
}

// precedenceGraph maps reaction index → indices of reactions that must
// run after it. Duplicate edges are removed.
type precedenceGraph [][]int

func buildPrecedenceGraph(p *ir.Program) precedenceGraph {
	graph := make(precedenceGraph, len(p.Reactions))
	for _, r := range p.Reactions {
		seen := make(map[int]bool)
		for _, s := range p.Successors(r) {
			if !seen[s.Index] {
				seen[s.Index] = true
				graph[r.Index] = append(graph[r.Index], s.Index)
			}
		}
	}
	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node int, graph precedenceGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of node indices.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph precedenceGraph) [][]int {
	var (
		index   = 0
		stack   []int
		indices = make([]int, len(graph))
		lowlink = make([]int, len(graph))
		onStack = make([]bool, len(graph))
		sccs    [][]int
	)
	for i := range indices {
		indices[i] = -1
	}

	var strongConnect func(int)
	strongConnect = func(v int) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, w := range graph[v] {
			if indices[w] < 0 {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for node := range graph {
		if indices[node] < 0 {
			strongConnect(node)
		}
	}

	return sccs
}

// sccToCycle converts an SCC to a Cycle, starting from its lowest index.
func sccToCycle(p *ir.Program, scc []int, graph precedenceGraph) Cycle {
	start := scc[0]
	for _, n := range scc {
		start = min(start, n)
	}

	var path []string
	if len(scc) == 1 {
		name := p.Reactions[start].Name
		path = []string{name, name}
	} else {
		for _, n := range reconstructCyclePath(start, scc, graph) {
			path = append(path, p.Reactions[n].Name)
		}
	}
	return Cycle{
		Path:    path,
		Message: fmt.Sprintf("causality cycle: %s", strings.Join(path, " -> ")),
	}
}

// reconstructCyclePath builds a cycle path through an SCC.
//
// Strategy: Start at start, follow edges to other SCC members, continue
// until we return to start node.
func reconstructCyclePath(start int, scc []int, graph precedenceGraph) []int {
	sccSet := make(map[int]bool, len(scc))
	for _, node := range scc {
		sccSet[node] = true
	}

	current := start
	path := []int{current}
	visited := make(map[int]bool)

	// Follow edges within SCC until we return to start
	for {
		visited[current] = true

		// Prefer closing the cycle, then any unvisited member.
		next := -1
		for _, neighbor := range graph[current] {
			if neighbor == start && len(path) > 1 {
				next = neighbor
				break
			}
			if next < 0 && sccSet[neighbor] && !visited[neighbor] {
				next = neighbor
			}
		}

		if next < 0 {
			// Dead end inside the SCC; close the path anyway.
			return append(path, start)
		}

		path = append(path, next)
		if next == start {
			return path
		}
		current = next
	}
}

// CycleError wraps the cycles of a program as a CAUSALITY_CYCLE runtime
// error.
func CycleError(name string, cycles []Cycle) error {
	details := make(map[string]string, len(cycles))
	msgs := make([]string, len(cycles))
	for i, c := range cycles {
		details[fmt.Sprintf("cycle_%d", i)] = strings.Join(c.Path, " -> ")
		msgs[i] = c.Message
	}
	return &ir.RuntimeError{
		Code:    ir.ErrCodeCausalityCycle,
		Message: fmt.Sprintf("program %s: %s", name, strings.Join(msgs, "; ")),
		Details: details,
	}
}
