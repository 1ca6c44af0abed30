package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenariosDir = filepath.Join("testdata", "scenarios")

// copyScenario copies a scenario from testdata into a fresh directory so
// golden files can be written next to it.
func copyScenario(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(scenariosDir, name+".yaml"))
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0o644))
	return dir
}

func TestTestCommandMissingArgs(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestTestCommandNonExistentPath(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios not found")
}

func TestTestCommandInvalidFilter(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestTestCommandEmptyDir(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, output, "No scenarios found.")
}

func TestTestCommandEmptyDirJSON(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "json"})
	output, err := execute(t, cmd, t.TempDir())
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Total)
	assert.NotNil(t, resp.Data.Scenarios)
}

func TestTestCommandPasses(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, scenariosDir)
	require.NoError(t, err)

	assert.Contains(t, output, "✓ once (golden)")
	assert.Contains(t, output, "✓ ticks\n")
	assert.Contains(t, output, "Test Summary: 2 passed, 0 failed, 2 total")
	assert.Contains(t, output, "✓ All scenarios passed")
}

func TestTestCommandJSON(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "json"})
	output, err := execute(t, cmd, scenariosDir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 2)

	once := resp.Data.Scenarios[0]
	assert.Equal(t, "once", once.Name)
	assert.Equal(t, "match", once.Golden)
	assert.Equal(t, "0s+1", once.StopTag)
	ticks := resp.Data.Scenarios[1]
	assert.Equal(t, "ticks", ticks.Name)
	assert.Empty(t, ticks.Golden)
	assert.Equal(t, "150ms", ticks.StopTag)
}

func TestTestCommandFilter(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, scenariosDir, "--filter", "tick*")
	require.NoError(t, err)
	assert.Contains(t, output, "✓ ticks")
	assert.NotContains(t, output, "once")
	assert.Contains(t, output, "1 total")
}

func TestTestCommandSingleFile(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, filepath.Join(scenariosDir, "once.yaml"))
	require.NoError(t, err)
	assert.Contains(t, output, "✓ once (golden)")
}

func TestTestCommandUpdateGolden(t *testing.T) {
	dir := copyScenario(t, "once")

	cmd := NewTestCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, output, "✓ once (golden updated)")

	written, err := os.ReadFile(filepath.Join(dir, "golden", "once.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(scenariosDir, "golden", "once.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	cmd = NewTestCommand(&RootOptions{Format: "text"})
	output, err = execute(t, cmd, dir)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ once (golden)")
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := copyScenario(t, "once")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "once.golden"), []byte(`{"stale":true}`), 0o644))

	cmd := NewTestCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "✗ once")
	assert.Contains(t, output, "trace does not match golden file")
}

func TestTestCommandFailingAssertion(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: wrong-count
description: "Expects one tick too many"
program:
  name: Ticks
  reactors:
    - name: Clock
      timers:
        - {name: t, period: 100ms}
      reactions:
        - {name: tick, triggers: [t]}
run:
  timeout: 100ms
assertions:
  - type: count
    reaction: Clock.tick
    count: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(scenario), 0o644))

	cmd := NewTestCommand(&RootOptions{Format: "json"})
	output, err := execute(t, cmd, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Error  *CLIError  `json:"error"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "wrong-count", resp.Data.Scenarios[0].Name)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: bad\nsteps: []\n"), 0o644))

	cmd := NewTestCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "✗ bad.yaml")
	assert.Contains(t, output, "failed to load scenario")
}

func TestTestHelpText(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{})
	assert.Contains(t, cmd.Use, "test")
	assert.Contains(t, cmd.Long, "golden")
	assert.Contains(t, cmd.Long, "Exit codes")
}
