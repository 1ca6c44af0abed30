package cli

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tagflow/internal/store"
	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// seedTraceDB writes two runs: a completed one with a short trace and a
// failed one without records.
func seedTraceDB(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "trace.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	for _, id := range []string{"run-a", "run-b"} {
		require.NoError(t, st.BeginRun(ctx, store.Run{
			ID:             id,
			Program:        "Pipeline",
			ProgramHash:    "abc123",
			Scheduler:      "np",
			Workers:        2,
			Status:         store.RunRunning,
			RuntimeVersion: "test",
			TraceVersion:   "test",
		}))
	}

	t100 := tag.Tag{Time: 100_000_000}
	records := []trace.Record{
		{Kind: trace.ReactionStarts, Worker: 0, Subject: "A.emit", Tag: tag.Tag{}},
		{Kind: trace.ReactionEnds, Worker: 0, Subject: "A.emit", Tag: tag.Tag{}},
		{Kind: trace.ReactionStarts, Worker: 1, Subject: "B.recv", Tag: tag.Tag{}},
		{Kind: trace.ReactionEnds, Worker: 1, Subject: "B.recv", Tag: tag.Tag{}},
		{Kind: trace.SchedulerAdvancingTimeStarts, Worker: -1, Tag: tag.Tag{}},
		{Kind: trace.SchedulerAdvancingTimeEnds, Worker: -1, Tag: t100},
		{Kind: trace.DeadlineMissed, Worker: 0, Subject: "A.emit", Tag: t100, Physical: 130_000_000},
		{Kind: trace.ReactionStarts, Worker: 0, Subject: "A.emit", Tag: t100, Physical: 130_000_000},
		{Kind: trace.ReactionEnds, Worker: 0, Subject: "A.emit", Tag: t100, Physical: 131_000_000},
	}
	require.NoError(t, st.WriteRecords(ctx, "run-a", 0, records))
	require.NoError(t, st.FinishRun(ctx, "run-a", t100, nil))
	require.NoError(t, st.FinishRun(ctx, "run-b", tag.Tag{}, errors.New("boom")))
	return dbPath
}

func TestTraceMissingDatabaseFlag(t *testing.T) {
	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "--run", "run-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceNonExistentDatabase(t *testing.T) {
	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "--db", "/nonexistent/path/test.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open database")
}

func TestTraceListRuns(t *testing.T) {
	dbPath := seedTraceDB(t)

	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, output, "run-a")
	assert.Contains(t, output, "run-b")
	assert.Contains(t, output, "completed")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "(100ms, 0)")
}

func TestTraceListRunsJSON(t *testing.T) {
	dbPath := seedTraceDB(t)

	cmd := NewTraceCommand(&RootOptions{Format: "json"})
	output, err := execute(t, cmd, "--db", dbPath, "--limit", "1")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   []RunInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	// Most recent first.
	assert.Equal(t, "run-b", resp.Data[0].ID)
	assert.Equal(t, "failed", resp.Data[0].Status)
	assert.Equal(t, "boom", resp.Data[0].Error)
}

func TestTraceListRunsEmpty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, output, "No runs recorded")
}

func TestTraceRun(t *testing.T) {
	dbPath := seedTraceDB(t)

	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, "--db", dbPath, "--run", "run-a")
	require.NoError(t, err)

	assert.Contains(t, output, "Trace for run: run-a")
	assert.Contains(t, output, "Program: Pipeline (abc123)")
	assert.Contains(t, output, "Status: completed at (100ms, 0)")
	assert.Contains(t, output, "=== Timeline ===")
	assert.Contains(t, output, "[0] (0s, 0)")
	assert.Contains(t, output, "reaction_starts")
	assert.Contains(t, output, "Records:   9 of 9")
	assert.Contains(t, output, "Tags:      2")
	assert.Contains(t, output, "Reactions: 3")
	assert.Contains(t, output, "Deadlines: 1 missed")
	assert.NotContains(t, output, "worker=")
}

func TestTraceRunVerbose(t *testing.T) {
	dbPath := seedTraceDB(t)

	cmd := NewTraceCommand(&RootOptions{Format: "text", Verbose: true})
	output, err := execute(t, cmd, "--db", dbPath, "--run", "run-a")
	require.NoError(t, err)
	assert.Contains(t, output, "worker=0 physical=130ms")
	assert.Contains(t, output, "scheduler_advancing_time_ends")
}

func TestTraceRunJSON(t *testing.T) {
	dbPath := seedTraceDB(t)

	cmd := NewTraceCommand(&RootOptions{Format: "json"})
	output, err := execute(t, cmd, "--db", dbPath, "--run", "run-a")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)

	result := resp.Data
	assert.Equal(t, "run-a", result.Run.ID)
	assert.Equal(t, "completed", result.Run.Status)
	require.Len(t, result.Timeline, 9)
	for i, e := range result.Timeline {
		assert.Equal(t, int64(i), e.Seq)
	}
	assert.Equal(t, TraceEvent{
		Seq:      6,
		Kind:     "deadline_missed",
		Worker:   0,
		Subject:  "A.emit",
		Tag:      "(100ms, 0)",
		Physical: 130_000_000,
	}, result.Timeline[6])
	assert.Equal(t, 3, result.Stats.ByKind["reaction_starts"])
	assert.Equal(t, 1, result.Stats.ByKind["deadline_missed"])
}

func TestTraceKindFilter(t *testing.T) {
	dbPath := seedTraceDB(t)

	cmd := NewTraceCommand(&RootOptions{Format: "json"})
	output, err := execute(t, cmd, "--db", dbPath, "--run", "run-a", "--kind", "reaction_starts", "--subject", "A.emit")
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Len(t, resp.Data.Timeline, 2)
	assert.Equal(t, int64(0), resp.Data.Timeline[0].Seq)
	assert.Equal(t, int64(7), resp.Data.Timeline[1].Seq)
	assert.Equal(t, int64(9), resp.Data.Stats.TotalRecords)
	assert.Equal(t, 2, resp.Data.Stats.Shown)
}

func TestTraceInvalidKind(t *testing.T) {
	dbPath := seedTraceDB(t)

	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "--db", dbPath, "--run", "run-a", "--kind", "message_sent")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown trace kind "message_sent"`)
}

func TestTraceUnknownRun(t *testing.T) {
	dbPath := seedTraceDB(t)

	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	output, err := execute(t, cmd, "--db", dbPath, "--run", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, `run "missing" not found`)
}

func TestTraceAfterRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	runJSON(t, pipelineYAML, "--fast", "--timeout", "100ms", "--run-id", "live", "--db", dbPath)

	cmd := NewTraceCommand(&RootOptions{Format: "json"})
	output, err := execute(t, cmd, "--db", dbPath, "--run", "live", "--kind", "reaction_ends")
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "completed", resp.Data.Run.Status)
	assert.Equal(t, "(100ms, 0)", resp.Data.Run.FinalTag)
	assert.Len(t, resp.Data.Timeline, 4)
}

func TestTraceHelpText(t *testing.T) {
	cmd := NewTraceCommand(&RootOptions{})
	assert.Equal(t, "trace", cmd.Use)
	assert.Contains(t, cmd.Long, "--run")
}
