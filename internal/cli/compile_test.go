package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tagflow/internal/compiler"
)

var (
	programsDir  = filepath.Join("testdata", "programs")
	invalidDir   = filepath.Join("testdata", "invalid")
	brokenDir    = filepath.Join("testdata", "broken")
	emptyDir     = filepath.Join("testdata", "empty")
	pipelineYAML = filepath.Join("testdata", "pipeline.yaml")
	cycleYAML    = filepath.Join("testdata", "cycle.yaml")
)

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCompileValidPrograms(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, programsDir)
	require.NoError(t, err)

	assert.Contains(t, output, "✓ Compiled 2 program(s)")
	assert.Contains(t, output, "Pipeline (")
	assert.Contains(t, output, "Source.emit")
	assert.Contains(t, output, "Sink.recv")
	assert.Contains(t, output, "deadline 50ms")
	assert.Contains(t, output, "Once (")
}

func TestCompileValidProgramsJSON(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "json"})
	output, err := execute(t, cmd, programsDir)
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   []CompiledProgram `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)

	var pipeline CompiledProgram
	for _, p := range resp.Data {
		if p.Name == "Pipeline" {
			pipeline = p
		}
	}
	require.Len(t, pipeline.Reactions, 2)
	assert.Len(t, pipeline.Hash, 64)
	assert.Equal(t, "Source.emit", pipeline.Reactions[0].Name)
	assert.Equal(t, uint16(0), pipeline.Reactions[0].Level)
	assert.Equal(t, "Sink.recv", pipeline.Reactions[1].Name)
	assert.Equal(t, uint16(1), pipeline.Reactions[1].Level)
	assert.Equal(t, int64(50_000_000), pipeline.Reactions[1].Deadline)
	assert.Nil(t, pipeline.Static)
}

func TestCompileHashIsStable(t *testing.T) {
	hashOf := func() string {
		cmd := NewCompileCommand(&RootOptions{Format: "json"})
		output, err := execute(t, cmd, pipelineYAML)
		require.NoError(t, err)
		var resp struct {
			Data []CompiledProgram `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(output), &resp))
		require.Len(t, resp.Data, 1)
		return resp.Data[0].Hash
	}
	assert.Equal(t, hashOf(), hashOf())
}

func TestCompileSelectProgram(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, programsDir, "--program", "Once")
	require.NoError(t, err)
	assert.Contains(t, output, "✓ Compiled 1 program(s)")
	assert.Contains(t, output, "Main.boot")
	assert.NotContains(t, output, "Pipeline")
}

func TestCompileUnknownProgram(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, programsDir, "--program", "Nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, ErrCodeProgramNotFound)
	assert.Contains(t, output, `program "Nope" not found`)
}

func TestCompileStatic(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "json"})
	output, err := execute(t, cmd, pipelineYAML, "--static", "--workers", "2")
	require.NoError(t, err)

	var resp struct {
		Data []CompiledProgram `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Len(t, resp.Data, 1)
	static := resp.Data[0].Static
	require.NotNil(t, static)
	assert.Equal(t, int64(100_000_000), static.Hyperperiod)
	assert.Len(t, static.Workers, 2)
	for _, seq := range static.Workers {
		assert.NotEmpty(t, seq)
	}
}

func TestCompileStaticText(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, pipelineYAML, "--static")
	require.NoError(t, err)
	assert.Contains(t, output, "static schedule, hyperperiod 100ms")
	assert.Contains(t, output, "worker 0:")
	assert.NotContains(t, output, "worker 1:")
}

func TestCompileOutputToFile(t *testing.T) {
	outputFile := filepath.Join(t.TempDir(), "compiled.json")

	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, programsDir, "--output", outputFile)
	require.NoError(t, err)
	assert.Contains(t, output, "Wrote canonical programs to")

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)

	var programs []map[string]any
	require.NoError(t, json.Unmarshal(data, &programs))
	require.Len(t, programs, 2)
	for _, p := range programs {
		assert.Contains(t, p, "name")
		assert.Contains(t, p, "reactions")
		assert.Contains(t, p, "triggers")
	}
}

func TestCompileNonExistentDirectory(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, "/nonexistent/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, ErrCodeNotFound)
}

func TestCompileEmptyDirectory(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, emptyDir)
	require.Error(t, err)
	assert.Contains(t, output, ErrCodeNoFiles)
}

func TestCompileBrokenCUE(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, brokenDir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "✗ Compilation failed")
	// Syntax errors surface while loading or while building the instance.
	assert.Regexp(t, ErrCodeLoadFailed+"|"+ErrCodeBuildFailed, output)
}

func TestCompileInvalidProgram(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, invalidDir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "✗ Compilation failed")
	assert.Contains(t, output, compiler.ErrUnknownReference)
	assert.Contains(t, output, compiler.ErrInvalidConnection)
}

func TestCompileInvalidProgramJSON(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "json"})
	output, err := execute(t, cmd, invalidDir)
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Error  *CLIError  `json:"error"`
		Data   []CLIError `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	require.Len(t, resp.Data, 3)
	assert.Equal(t, compiler.ErrUnknownReference, resp.Data[0].Code)
	assert.Equal(t, compiler.ErrUnknownReference, resp.Data[1].Code)
	assert.Equal(t, compiler.ErrInvalidConnection, resp.Data[2].Code)
}

func TestCompileCycle(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "json"})
	output, err := execute(t, cmd, cycleYAML)
	require.Error(t, err)

	var resp struct {
		Data []CLIError `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "CAUSALITY_CYCLE", resp.Data[0].Code)
	assert.Equal(t, map[string]any{"cycle_0": "A.r -> B.r -> A.r"}, resp.Data[0].Details)
}

func TestCompileVerboseOutput(t *testing.T) {
	errBuf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{programsDir})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, errBuf.String(), "Found 1 source file(s)")
	assert.Contains(t, errBuf.String(), "Compiling program: Pipeline")
}

func TestCompileFloatRejection(t *testing.T) {
	dir := t.TempDir()
	src := `package p

program: P: reactors: A: {
	timers: t: period: 1.5
	reactions: [{name: "r", triggers: ["t"]}]
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p.cue"), []byte(src), 0o644))

	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, dir)
	require.Error(t, err)
	assert.Contains(t, output, "fractional durations are not allowed")
}

func TestLoadYAMLUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: P\npriority: 3\nreactors: []\n"), 0o644))

	result, errs := LoadPrograms(path, LoadModeCollectAll)
	assert.Nil(t, result)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeBuildFailed)
	assert.Contains(t, errs[0].Error(), "priority")
}

func TestLoadRejectsOtherFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	_, errs := LoadPrograms(path, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "neither a directory nor a YAML file")
}

func TestSelectProgram(t *testing.T) {
	result, errs := LoadPrograms(programsDir, LoadModeFailFast)
	require.Empty(t, errs)
	require.Len(t, result.Programs, 2)

	spec, err := result.SelectProgram("Pipeline")
	require.NoError(t, err)
	assert.Equal(t, "Pipeline", spec.Name)

	_, err = result.SelectProgram("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "select one with --program")

	single, errs := LoadPrograms(pipelineYAML, LoadModeFailFast)
	require.Empty(t, errs)
	spec, err = single.SelectProgram("")
	require.NoError(t, err)
	assert.Equal(t, "Pipeline", spec.Name)
}

func TestFindCUEFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cue"), []byte("package a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("text"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.cue"), []byte("package a"), 0o644))

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"cue", ErrCodeBuildFailed},
		{"reactors", compiler.ErrProgramNoReactors},
		{"reactors.Main.reactions", compiler.ErrReactorNoReactions},
		{"connections", compiler.ErrInvalidConnection},
		{"connections[0]", compiler.ErrInvalidConnection},
		{"period", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, MapFieldToErrorCode(tt.field))
		})
	}
}
