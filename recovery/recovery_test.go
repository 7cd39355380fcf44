package recovery_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wudi/pdfstamp/ir/raw"
	"github.com/wudi/pdfstamp/observability"
	"github.com/wudi/pdfstamp/parser"
	"github.com/wudi/pdfstamp/recovery"
)

// brokenLengthPDF declares a content stream length that stops short of the
// endstream marker. The xref offsets are correct.
func brokenLengthPDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /MediaBox [0 0 612 792] /Parent 2 0 R /Resources << >> /Contents 4 0 R >>",
		"<< /Length 5 >>\nstream\nBT /F1 12 Tf (Hello) Tj ET\nendstream",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xrefOff := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOff)
	return buf.Bytes()
}

func TestRecoveryStrategies(t *testing.T) {
	data := brokenLengthPDF()
	ctx := context.Background()

	t.Run("StrictStrategy", func(t *testing.T) {
		f, err := parser.NewDocumentParser(parser.Config{Recovery: recovery.NewStrictStrategy()}).Parse(ctx, data)
		if err != nil {
			t.Fatalf("the xref is intact, parse should succeed: %v", err)
		}
		if _, err := f.Load(ctx, raw.ObjectRef{Num: 4}); err == nil {
			t.Fatal("expected an error loading the mis-sized stream")
		}
	})

	t.Run("LenientStrategy", func(t *testing.T) {
		log := observability.NewRecorder()
		rec := recovery.NewLenientStrategy().WithLogger(log)
		f, err := parser.NewDocumentParser(parser.Config{Recovery: rec}).Parse(ctx, data)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		obj, err := f.Load(ctx, raw.ObjectRef{Num: 4})
		if err != nil {
			t.Fatalf("lenient load should recover: %v", err)
		}
		stream, ok := obj.(*raw.StreamObj)
		if !ok {
			t.Fatalf("expected a stream, got %T", obj)
		}
		if string(stream.Data) != "BT /F1 12 Tf (Hello) Tj ET" {
			t.Fatalf("unexpected recovered data %q", stream.Data)
		}
		if len(rec.Problems()) != 1 {
			t.Fatalf("expected one recorded problem, got %v", rec.Problems())
		}
		if log.Count("warn") != 1 {
			t.Fatalf("expected one warning, got %d", log.Count("warn"))
		}
	})
}

func TestDecide(t *testing.T) {
	err := errors.New("boom")
	if got := recovery.Decide(context.Background(), nil, err, recovery.Location{}); got != recovery.ActionFail {
		t.Fatalf("nil strategy should fail, got %s", got)
	}
	if got := recovery.Decide(context.Background(), recovery.NewLenientStrategy(), err, recovery.Location{}); got != recovery.ActionFix {
		t.Fatalf("lenient strategy should fix, got %s", got)
	}
}

func TestLenientProblemsIsACopy(t *testing.T) {
	s := recovery.NewLenientStrategy()
	s.OnError(context.Background(), errors.New("bad"), recovery.Location{Component: "xref", ByteOffset: 12})
	got := s.Problems()
	got[0] = nil
	if s.Problems()[0] == nil {
		t.Fatal("Problems must not expose internal storage")
	}
	if !errors.Is(s.Problems()[0], s.Errors[0]) {
		t.Fatal("recorded error should be stable")
	}
}
