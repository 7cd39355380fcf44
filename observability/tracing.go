package observability

import (
	"context"
	"sync"
	"time"
)

// SpanRecord is a finished span captured by RecordingTracer.
type SpanRecord struct {
	Name     string
	Tags     map[string]interface{}
	Err      error
	Duration time.Duration
}

// RecordingTracer keeps finished spans in memory.
type RecordingTracer struct {
	mu    sync.Mutex
	spans []SpanRecord
}

func (t *RecordingTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &recordingSpan{tracer: t, rec: SpanRecord{Name: name, Tags: map[string]interface{}{}}, start: time.Now()}
}

// Spans returns the finished spans, optionally filtered by name.
func (t *RecordingTracer) Spans(name string) []SpanRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []SpanRecord
	for _, s := range t.spans {
		if name == "" || s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

type recordingSpan struct {
	mu     sync.Mutex
	tracer *RecordingTracer
	rec    SpanRecord
	start  time.Time
	done   bool
}

func (s *recordingSpan) SetTag(key string, value interface{}) {
	s.mu.Lock()
	s.rec.Tags[key] = value
	s.mu.Unlock()
}

func (s *recordingSpan) SetError(err error) {
	s.mu.Lock()
	s.rec.Err = err
	s.mu.Unlock()
}

func (s *recordingSpan) Finish() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.rec.Duration = time.Since(s.start)
	rec := s.rec
	s.mu.Unlock()

	s.tracer.mu.Lock()
	s.tracer.spans = append(s.tracer.spans, rec)
	s.tracer.mu.Unlock()
}

// LogTracer turns spans into debug log lines carrying their tags and duration.
func LogTracer(log Logger) Tracer {
	if log == nil {
		return NopTracer()
	}
	return logTracer{log: log}
}

type logTracer struct{ log Logger }

func (t logTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &logSpan{log: t.log, name: name, start: time.Now()}
}

type logSpan struct {
	mu     sync.Mutex
	log    Logger
	name   string
	start  time.Time
	fields []Field
	err    error
}

func (s *logSpan) SetTag(key string, value interface{}) {
	s.mu.Lock()
	s.fields = append(s.fields, field{key, value})
	s.mu.Unlock()
}

func (s *logSpan) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *logSpan) Finish() {
	s.mu.Lock()
	fields := append([]Field{String("span", s.name), Duration("duration", time.Since(s.start))}, s.fields...)
	if s.err != nil {
		fields = append(fields, Error("error", s.err))
	}
	s.mu.Unlock()
	s.log.Debug("span finished", fields...)
}
