package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNopTracer(t *testing.T) {
	tracer := NopTracer()
	ctx := context.Background()
	ctx2, span := tracer.StartSpan(ctx, "test")
	if ctx2 != ctx {
		t.Fatalf("nop tracer should return same context")
	}
	span.SetTag("key", "value")
	span.SetError(nil)
	span.Finish()
}

func TestRecorder_WithSharesEntries(t *testing.T) {
	rec := NewRecorder()
	child := rec.With(String("job", "j1"))
	child.Warn("image degraded", Int("page", 2))
	rec.Info("done")

	entries := rec.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Fields["job"] != "j1" || entries[0].Fields["page"] != 2 {
		t.Fatalf("child fields not recorded: %+v", entries[0].Fields)
	}
	if rec.Count("warn") != 1 {
		t.Fatalf("expected one warning, got %d", rec.Count("warn"))
	}
}

func TestRecordingTracer_FinishOnce(t *testing.T) {
	tr := &RecordingTracer{}
	_, span := tr.StartSpan(context.Background(), SpanPage)
	span.SetTag("page", 0)
	span.SetError(errors.New("boom"))
	span.Finish()
	span.Finish()

	spans := tr.Spans(SpanPage)
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Err == nil || spans[0].Tags["page"] != 0 {
		t.Fatalf("unexpected span record %+v", spans[0])
	}
	if len(tr.Spans(SpanPage+"x")) != 0 {
		t.Fatalf("filter by name failed")
	}
}

func TestLogTracer_EmitsDebugLine(t *testing.T) {
	rec := NewRecorder()
	_, span := LogTracer(rec).StartSpan(context.Background(), SpanSerialize)
	span.SetTag("bytes", 10)
	span.Finish()
	entries := rec.Entries()
	if len(entries) != 1 || entries[0].Level != "debug" || entries[0].Fields["span"] != SpanSerialize {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
