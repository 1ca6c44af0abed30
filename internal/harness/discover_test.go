package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_timer.yaml", "a_timer.yml", "stop.yaml", "notes.txt", "sub/c_timer.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("name: x\n"), 0o644))
	}

	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a_timer.yml"),
		filepath.Join(dir, "b_timer.yaml"),
		filepath.Join(dir, "stop.yaml"),
		filepath.Join(dir, "sub/c_timer.yaml"),
	}, files)

	files, err = FindScenarios(dir, "*_timer")
	require.NoError(t, err)
	assert.Len(t, files, 3)

	files, err = FindScenarios(filepath.Join(dir, "stop.yaml"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "stop.yaml")}, files)
}

func TestFindScenarios_Errors(t *testing.T) {
	_, err := FindScenarios(filepath.Join(t.TempDir(), "missing"), "")
	var nf *ScenarioNotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = FindScenarios(t.TempDir(), "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestFindScenarios_EmptyDir(t *testing.T) {
	files, err := FindScenarios(t.TempDir(), "")
	require.NoError(t, err)
	assert.NotNil(t, files)
	assert.Empty(t, files)
}

func TestGoldenPath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "pipeline.golden"),
		GoldenPath(filepath.Join("scenarios", "pipeline.yaml"), "pipeline"))
}
