package compiler

import (
	"testing"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tagflow/internal/ir"
)

func compileCUE(t *testing.T, src, path string) (*ir.ProgramSpec, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return CompileProgram(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileProgramBasic(t *testing.T) {
	spec, err := compileCUE(t, `
		program: Pipeline: {
			reactors: {
				Source: {
					outputs: ["out"]
					timers: tick: { offset: 0, period: "100ms" }
					reactions: [{
						name: "emit"
						triggers: ["tick"]
						effects: ["out"]
						work: "2ms"
						deadline: 5000000
					}]
				}
				Sink: {
					inputs: ["in"]
					actions: retry: { min_delay: "1ms", min_spacing: "10ms", policy: "drop" }
					reactions: [
						{ name: "log", triggers: ["in"], effects: ["retry"], delay: "3ms" },
						{ name: "done", triggers: ["shutdown"], stop: true },
					]
				}
			}
			connections: ["Source.out -> Sink.in"]
		}
	`, "program.Pipeline")
	require.NoError(t, err)

	assert.Equal(t, "Pipeline", spec.Name)
	require.Len(t, spec.Reactors, 2)

	src := spec.Reactors[0]
	assert.Equal(t, "Source", src.Name)
	assert.Equal(t, []string{"out"}, src.Outputs)
	require.Len(t, src.Timers, 1)
	assert.Equal(t, ir.TimerSpec{Name: "tick", Period: ir.Duration(100 * time.Millisecond)}, src.Timers[0])
	require.Len(t, src.Reactions, 1)
	assert.Equal(t, ir.Duration(2*time.Millisecond), src.Reactions[0].Work)
	assert.Equal(t, ir.Duration(5*time.Millisecond), src.Reactions[0].Deadline)

	sink := spec.Reactors[1]
	require.Len(t, sink.Actions, 1)
	assert.Equal(t, ir.ActionSpec{
		Name:       "retry",
		MinDelay:   ir.Duration(time.Millisecond),
		MinSpacing: ir.Duration(10 * time.Millisecond),
		Policy:     "drop",
	}, sink.Actions[0])
	require.Len(t, sink.Reactions, 2)
	assert.Equal(t, "log", sink.Reactions[0].Name, "reaction order is preserved")
	assert.Equal(t, ir.Duration(3*time.Millisecond), sink.Reactions[0].Delay)
	assert.True(t, sink.Reactions[1].Stop)

	assert.Equal(t, []ir.ConnectionSpec{{From: "Source.out", To: "Sink.in"}}, spec.Connections)
}

func TestCompileProgramExplicitName(t *testing.T) {
	spec, err := compileCUE(t, `
		p: {
			name: "renamed"
			reactors: A: reactions: [{ name: "r", triggers: ["startup"] }]
		}
	`, "p")
	require.NoError(t, err)
	assert.Equal(t, "renamed", spec.Name)
}

func TestCompileProgramConnectionStruct(t *testing.T) {
	spec, err := compileCUE(t, `
		p: {
			reactors: {
				A: { outputs: ["o"], reactions: [{ name: "r", triggers: ["startup"], effects: ["o"] }] }
				B: { inputs: ["i"], reactions: [{ name: "r", triggers: ["i"] }] }
			}
			connections: [{ from: "A.o", to: "B.i" }]
		}
	`, "p")
	require.NoError(t, err)
	assert.Equal(t, []ir.ConnectionSpec{{From: "A.o", To: "B.i"}}, spec.Connections)
}

func TestCompileProgramErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing reactors",
			src:  `p: { name: "x" }`,
			want: "reactors are required",
		},
		{
			name: "missing reactions",
			src:  `p: reactors: A: { inputs: ["i"] }`,
			want: "reactions are required",
		},
		{
			name: "reaction without name",
			src:  `p: reactors: A: reactions: [{ triggers: ["startup"] }]`,
			want: "reaction name is required",
		},
		{
			name: "fractional duration",
			src:  `p: reactors: A: { timers: t: { period: 1.5 }, reactions: [{ name: "r", triggers: ["t"] }] }`,
			want: "fractional durations",
		},
		{
			name: "bad duration string",
			src:  `p: reactors: A: { timers: t: { period: "soon" }, reactions: [{ name: "r", triggers: ["t"] }] }`,
			want: "invalid duration",
		},
		{
			name: "bad arrow",
			src: `p: {
				reactors: A: reactions: [{ name: "r", triggers: ["startup"] }]
				connections: ["A.o => B.i"]
			}`,
			want: "Reactor.out -> Reactor.in",
		},
		{
			name: "bad port reference",
			src: `p: {
				reactors: A: reactions: [{ name: "r", triggers: ["startup"] }]
				connections: [{ from: "A", to: "B.i" }]
			}`,
			want: "port reference",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileCUE(t, tt.src, "p")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
