package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tagflow/internal/trace"
)

// Sink is a trace.Tracer that persists records of one run.
//
// Record only enqueues; a background goroutine writes batches of up to
// batchSize records, or whatever has accumulated every flush interval.
// Records are numbered in arrival order. A full queue blocks the caller
// rather than dropping records.
type Sink struct {
	store    *Store
	runID    string
	log      *slog.Logger
	batch    int
	interval time.Duration

	records chan trace.Record
	closing chan struct{}
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	err     error
	written int64
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithBatchSize sets the maximum number of records per transaction.
func WithBatchSize(n int) SinkOption {
	return func(s *Sink) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithFlushInterval sets how often a partial batch is written.
func WithFlushInterval(d time.Duration) SinkOption {
	return func(s *Sink) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSinkLogger sets the logger used for write failures.
func WithSinkLogger(l *slog.Logger) SinkOption {
	return func(s *Sink) {
		s.log = l
	}
}

// NewSink starts a sink writing to run runID, which must have been begun.
func NewSink(store *Store, runID string, opts ...SinkOption) *Sink {
	s := &Sink{
		store:    store,
		runID:    runID,
		log:      slog.Default(),
		batch:    256,
		interval: 100 * time.Millisecond,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.records = make(chan trace.Record, 4*s.batch)
	go s.loop()
	return s
}

// Record implements trace.Tracer. Records arriving after Close are
// discarded.
func (s *Sink) Record(rec trace.Record) {
	select {
	case s.records <- rec:
	case <-s.closing:
	}
}

// Close flushes every queued record and stops the sink. It returns the
// first write error, if any. Close is idempotent.
func (s *Sink) Close() error {
	s.once.Do(func() { close(s.closing) })
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Written returns the number of records persisted so far.
func (s *Sink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *Sink) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var (
		pending = make([]trace.Record, 0, s.batch)
		seq     int64
	)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		err := s.store.WriteRecords(context.Background(), s.runID, seq, pending)
		s.mu.Lock()
		if err != nil {
			if s.err == nil {
				s.err = err
			}
			s.log.Error("trace batch write failed",
				"run_id", s.runID,
				"first_seq", seq,
				"records", len(pending),
				"error", err,
			)
		} else {
			s.written += int64(len(pending))
		}
		s.mu.Unlock()
		seq += int64(len(pending))
		pending = pending[:0]
	}

	for {
		select {
		case rec := <-s.records:
			pending = append(pending, rec)
			if len(pending) >= s.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.closing:
			for {
				select {
				case rec := <-s.records:
					pending = append(pending, rec)
					if len(pending) >= s.batch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
