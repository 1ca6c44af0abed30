package compiler

import (
	"math"

	"github.com/roach88/tagflow/internal/ir"
)

// AssignLevels sets each reaction's level to the length of the longest
// precedence chain ending at it. Reactions are visited in Kahn order with
// ties broken by index.
func AssignLevels(p *ir.Program) error {
	if cycles := FindCycles(p); len(cycles) > 0 {
		return CycleError(p.Name, cycles)
	}

	graph := buildPrecedenceGraph(p)
	indegree := make([]int, len(graph))
	for _, succ := range graph {
		for _, s := range succ {
			indegree[s]++
		}
	}

	levels := make([]int, len(graph))
	ready := make([]int, 0, len(graph))
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		for _, s := range graph[n] {
			levels[s] = max(levels[s], levels[n]+1)
			indegree[s]--
			if indegree[s] == 0 {
				ready = append(ready, s)
			}
		}
	}

	for i, l := range levels {
		if l > math.MaxUint16 {
			return &ir.RuntimeError{
				Code:     ir.ErrCodeLevelOverflow,
				Message:  "precedence chain too long",
				Reaction: p.Reactions[i].Name,
			}
		}
		p.Reactions[i].Level = uint16(l)
	}
	return nil
}

// AssignChainMasks gives every reaction without successors its own bit,
// wrapping after 64, and every other reaction the union of its
// successors' masks. Two reactions with a precedence path between them
// therefore always share a bit. Levels must be assigned first.
func AssignChainMasks(p *ir.Program) {
	graph := buildPrecedenceGraph(p)
	order := p.ReactionsByLevel()

	leaf := 0
	for _, r := range order {
		if len(graph[r.Index]) == 0 {
			r.ChainMask = 1 << (leaf % 64)
			leaf++
		}
	}
	// Successors sit at strictly higher levels, so walking down the levels
	// sees each successor's final mask.
	for i := len(order) - 1; i >= 0; i-- {
		r := order[i]
		if len(graph[r.Index]) == 0 {
			continue
		}
		var mask uint64
		for _, s := range graph[r.Index] {
			mask |= p.Reactions[s].ChainMask
		}
		r.ChainMask = mask
	}
}
