package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/tagflow/internal/tag"
	"github.com/roach88/tagflow/internal/trace"
)

// ErrRunNotFound is returned by ReadRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// StoredRecord is a trace record with its position in the run.
type StoredRecord struct {
	Seq int64
	trace.Record
}

// RecordFilter narrows ReadRecords. Zero fields match everything.
type RecordFilter struct {
	Kind    trace.Kind
	Subject string
	// Limit caps the number of records returned; 0 means no limit.
	Limit int
}

// ReadRun returns a run by id.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, program, program_hash, scheduler, workers, start_time, status,
		       final_time, final_microstep, error, runtime_version, trace_version
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns the most recent runs first. Run ids are UUIDv7, so
// byte order is creation order. A limit of 0 returns every run.
//
// Returns an empty slice (not nil) if there are no runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, program, program_hash, scheduler, workers, start_time, status,
		       final_time, final_microstep, error, runtime_version, trace_version
		FROM runs
		ORDER BY id COLLATE BINARY DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRecords returns the trace records of a run ordered by seq.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadRecords(ctx context.Context, runID string, f RecordFilter) ([]StoredRecord, error) {
	var (
		where = []string{"run_id = ?"}
		args  = []any{runID}
	)
	if f.Kind != 0 {
		where = append(where, "kind = ?")
		args = append(args, f.Kind.String())
	}
	if f.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, f.Subject)
	}
	query := `
		SELECT seq, kind, worker, subject, tag_time, tag_microstep, physical
		FROM trace_records
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY seq ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trace records: %w", err)
	}
	defer rows.Close()

	records := []StoredRecord{}
	for rows.Next() {
		var (
			rec       StoredRecord
			kind      string
			microstep int64
		)
		if err := rows.Scan(&rec.Seq, &kind, &rec.Worker, &rec.Subject, &rec.Tag.Time, &microstep, &rec.Physical); err != nil {
			return nil, fmt.Errorf("scan trace record: %w", err)
		}
		if rec.Kind, err = trace.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("trace record %d: %w", rec.Seq, err)
		}
		rec.Tag.Microstep = uint32(microstep)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace records: %w", err)
	}
	return records, nil
}

// CountRecords returns the number of trace records stored for a run.
func (s *Store) CountRecords(ctx context.Context, runID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trace_records WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trace records: %w", err)
	}
	return n, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run       Run
		status    string
		finalTime sql.NullInt64
		finalStep sql.NullInt64
	)
	err := row.Scan(
		&run.ID,
		&run.Program,
		&run.ProgramHash,
		&run.Scheduler,
		&run.Workers,
		&run.StartTime,
		&status,
		&finalTime,
		&finalStep,
		&run.Error,
		&run.RuntimeVersion,
		&run.TraceVersion,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Status = RunStatus(status)
	run.FinalTag = tag.NeverTag
	if finalTime.Valid {
		run.FinalTag = tag.New(finalTime.Int64, uint32(finalStep.Int64))
	}
	return run, nil
}
