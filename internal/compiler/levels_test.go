package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tagflow/internal/ir"
)

// chains builds A -> B plus an unrelated C.
func chains(t *testing.T) *ir.Program {
	t.Helper()
	prog, err := Build(&ir.ProgramSpec{
		Name: "chains",
		Reactors: []ir.ReactorSpec{
			{
				Name:      "A",
				Outputs:   []string{"out"},
				Timers:    []ir.TimerSpec{{Name: "t", Period: 10}},
				Reactions: []ir.ReactionSpec{{Name: "r", Triggers: []string{"t"}, Effects: []string{"out"}}},
			},
			{
				Name:      "B",
				Inputs:    []string{"in"},
				Reactions: []ir.ReactionSpec{{Name: "r", Triggers: []string{"in"}}},
			},
			{
				Name:      "C",
				Timers:    []ir.TimerSpec{{Name: "t", Period: 10}},
				Reactions: []ir.ReactionSpec{{Name: "r", Triggers: []string{"t"}}},
			},
		},
		Connections: []ir.ConnectionSpec{{From: "A.out", To: "B.in"}},
	})
	require.NoError(t, err)
	return prog
}

func TestAssignLevels(t *testing.T) {
	prog := chains(t)
	a, b, c := prog.Reactions[0], prog.Reactions[1], prog.Reactions[2]
	assert.Equal(t, uint16(0), a.Level)
	assert.Equal(t, uint16(1), b.Level)
	assert.Equal(t, uint16(0), c.Level)
	assert.Equal(t, []int{2, 1}, prog.ReactionsPerLevel())
}

func TestAssignLevelsLongestPath(t *testing.T) {
	// A.second follows A.first directly and through B.r.
	prog, err := Build(&ir.ProgramSpec{
		Name: "diamond",
		Reactors: []ir.ReactorSpec{
			{
				Name:    "A",
				Inputs:  []string{"in"},
				Outputs: []string{"out"},
				Reactions: []ir.ReactionSpec{
					{Name: "first", Triggers: []string{"startup"}, Effects: []string{"out"}},
					{Name: "second", Triggers: []string{"in"}},
				},
			},
			{
				Name:      "B",
				Inputs:    []string{"in"},
				Outputs:   []string{"out"},
				Reactions: []ir.ReactionSpec{{Name: "r", Triggers: []string{"in"}, Effects: []string{"out"}}},
			},
		},
		Connections: []ir.ConnectionSpec{
			{From: "A.out", To: "B.in"},
			{From: "B.out", To: "A.in"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(0), prog.Reaction("A.first").Level)
	assert.Equal(t, uint16(1), prog.Reaction("B.r").Level)
	assert.Equal(t, uint16(2), prog.Reaction("A.second").Level)
}

func TestAssignChainMasks(t *testing.T) {
	prog := chains(t)
	a, b, c := prog.Reactions[0], prog.Reactions[1], prog.Reactions[2]

	// Leaves in level order: C.r, then B.r.
	assert.Equal(t, uint64(1), c.ChainMask)
	assert.Equal(t, uint64(2), b.ChainMask)
	assert.Equal(t, uint64(2), a.ChainMask)
	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c), "unrelated chains get disjoint masks")
}

func TestAssignChainMasksWrap(t *testing.T) {
	spec := &ir.ProgramSpec{Name: "wide"}
	for i := 0; i < 65; i++ {
		spec.Reactors = append(spec.Reactors, ir.ReactorSpec{
			Name:      "R" + string(rune('A'+i/26)) + string(rune('a'+i%26)),
			Reactions: []ir.ReactionSpec{{Name: "r", Triggers: []string{"startup"}}},
		})
	}
	prog, err := Build(spec)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), prog.Reactions[0].ChainMask)
	assert.Equal(t, uint64(1)<<63, prog.Reactions[63].ChainMask)
	assert.Equal(t, uint64(1), prog.Reactions[64].ChainMask)
}

func TestFindCyclesDAG(t *testing.T) {
	assert.Empty(t, FindCycles(chains(t)))
}
