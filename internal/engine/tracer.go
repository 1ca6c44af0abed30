package engine

import "github.com/roach88/tagflow/internal/trace"

// relativeTracer rewrites absolute tags and physical times relative to
// the start time before forwarding records.
type relativeTracer struct {
	inner trace.Tracer
	start int64
}

func (t relativeTracer) Record(r trace.Record) {
	r.Tag = r.Tag.Elapsed(t.start)
	r.Physical -= t.start
	t.inner.Record(r)
}
