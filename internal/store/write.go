package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// RunStatus is the lifecycle state of a stored run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run describes one execution of a program.
type Run struct {
	ID          string
	Program     string
	ProgramHash string
	Scheduler   string
	Workers     int
	// StartTime is the physical start time in nanoseconds.
	StartTime int64
	Status    RunStatus
	// FinalTag is the last committed tag relative to the start time, or
	// tag.NeverTag while running.
	FinalTag       tag.Tag
	Error          string
	RuntimeVersion string
	TraceVersion   string
}

// BeginRun inserts a run in the running state.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - a run that is begun
// twice keeps its first record.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	return retryOp(ctx, defaultRetryConfig, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO runs
			(id, program, program_hash, scheduler, workers, start_time, status, runtime_version, trace_version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			run.ID,
			run.Program,
			run.ProgramHash,
			run.Scheduler,
			run.Workers,
			run.StartTime,
			string(RunRunning),
			run.RuntimeVersion,
			run.TraceVersion,
		)
		if err != nil {
			return fmt.Errorf("begin run: %w", err)
		}
		return nil
	})
}

// FinishRun records the final tag and outcome of a run. A nil runErr marks
// it completed, anything else failed.
func (s *Store) FinishRun(ctx context.Context, id string, final tag.Tag, runErr error) error {
	status, msg := RunCompleted, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}
	return retryOp(ctx, defaultRetryConfig, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE runs
			SET status = ?, final_time = ?, final_microstep = ?, error = ?
			WHERE id = ?
		`, string(status), final.Time, int64(final.Microstep), msg, id)
		if err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("finish run %s: %w", id, sql.ErrNoRows)
		}
		return nil
	})
}

// WriteRecords appends trace records to a run in one transaction,
// numbering them from firstSeq. Duplicate sequence numbers are ignored so
// a retried batch is idempotent.
func (s *Store) WriteRecords(ctx context.Context, runID string, firstSeq int64, records []trace.Record) error {
	if len(records) == 0 {
		return nil
	}
	return retryOp(ctx, defaultRetryConfig, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("write records: begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO trace_records
			(run_id, seq, kind, worker, subject, tag_time, tag_microstep, physical)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, seq) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("write records: prepare: %w", err)
		}
		defer stmt.Close()

		for i, rec := range records {
			if _, err := stmt.ExecContext(ctx,
				runID,
				firstSeq+int64(i),
				rec.Kind.String(),
				rec.Worker,
				rec.Subject,
				rec.Tag.Time,
				int64(rec.Tag.Microstep),
				rec.Physical,
			); err != nil {
				return fmt.Errorf("write records: seq %d: %w", firstSeq+int64(i), err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("write records: commit: %w", err)
		}
		return nil
	})
}
