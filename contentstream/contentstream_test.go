package contentstream

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wudi/pdfstamp/coords"
	"github.com/wudi/pdfstamp/ir/raw"
)

func operators(ops []Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Operator
	}
	return out
}

func TestBuilderSerialize(t *testing.T) {
	var b Builder
	b.Save().
		SetExtGState("GS0").
		SetFillRGB(1, 1, 1).
		Rectangle(0, 150, 100, 50.5).
		Fill().
		Restore()
	got := string(b.Bytes())
	want := "q\n/GS0 gs\n1 1 1 rg\n0 150 100 50.5 re\nf\nQ\n"
	if got != want {
		t.Fatalf("unexpected content\n got %q\nwant %q", got, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	src := []byte("q 1 0 0 1 10 20 cm /Im0 Do Q\nBT /F1 12 Tf [(A) -20 (B)] TJ ET\n/P <</MCID 0>> BDC EMC")
	ops, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"q", "cm", "Do", "Q", "BT", "Tf", "TJ", "ET", "BDC", "EMC"}
	if diff := cmp.Diff(want, operators(ops)); diff != "" {
		t.Fatalf("operators mismatch (-want +got):\n%s", diff)
	}
	if arr, ok := ops[6].Operands[0].(*raw.ArrayObj); !ok || arr.Len() != 3 {
		t.Fatalf("TJ operand should be a three item array, got %#v", ops[6].Operands)
	}
	again, err := Parse(Serialize(ops))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if diff := cmp.Diff(operators(ops), operators(again)); diff != "" {
		t.Fatalf("round trip changed operators:\n%s", diff)
	}
}

func TestParseInlineImage(t *testing.T) {
	src := []byte("q BI /W 2 /H 1 /CS /G /BPC 8 ID \x00\xff\nEI Q")
	ops, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff([]string{"q", "BI", "Q"}, operators(ops)); diff != "" {
		t.Fatalf("operators mismatch:\n%s", diff)
	}
	data := ops[1].Operands[1].(raw.StringObj).Bytes
	if string(data) != "\x00\xff" {
		t.Fatalf("unexpected image data %q", data)
	}
}

func TestParseDanglingOperands(t *testing.T) {
	if _, err := Parse([]byte("1 0 0 RG 5")); err == nil {
		t.Fatalf("expected an error for trailing operands")
	}
}

func TestCheckBalance(t *testing.T) {
	tests := []struct {
		src string
		ok  bool
	}{
		{"q Q", true},
		{"q q Q Q", true},
		{"q", false},
		{"Q q", false},
		{"", true},
	}
	for _, tt := range tests {
		ops, err := Parse([]byte(tt.src))
		if err != nil {
			t.Fatalf("%q: %v", tt.src, err)
		}
		if err := CheckBalance(ops); (err == nil) != tt.ok {
			t.Fatalf("%q: balance error %v, want ok=%v", tt.src, err, tt.ok)
		}
	}
}

func TestTraceRectanglesUnderCTM(t *testing.T) {
	var b Builder
	b.Save().SetExtGState("GS1").SetFillRGB(0.9, 0.9, 0.9).Rectangle(5, 5, 10, 10).Fill().Restore()
	b.Save().Concat(coords.Matrix{2, 0, 0, 2, 100, 100}).XObject("Im0").Restore()
	marks, err := Trace(b.Operations())
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if len(marks) != 2 {
		t.Fatalf("expected 2 marks, got %d", len(marks))
	}
	if marks[0].Box != (Box{LLX: 5, LLY: 5, URX: 15, URY: 15}) || marks[0].ExtGState != "GS1" || marks[0].Fill != [3]float64{0.9, 0.9, 0.9} {
		t.Fatalf("unexpected rectangle mark %+v", marks[0])
	}
	if marks[1].Box != (Box{LLX: 100, LLY: 100, URX: 102, URY: 102}) || marks[1].XObject != "Im0" || marks[1].ExtGState != "" {
		t.Fatalf("unexpected image mark %+v", marks[1])
	}
}

func TestTraceUnbalanced(t *testing.T) {
	if _, err := Trace([]Operation{{Operator: "Q"}}); err == nil {
		t.Fatalf("expected an error restoring an empty stack")
	}
}

func TestParseSVGPathCommands(t *testing.T) {
	p, err := ParseSVGPath("M10,20 L30 40 h5 v-5 H0 V0 z m5 5 l1-1 1.5.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(p.Subpaths) != 2 {
		t.Fatalf("expected 2 subpaths, got %d", len(p.Subpaths))
	}
	first := p.Subpaths[0]
	if !first.Closed {
		t.Fatalf("first subpath should be closed")
	}
	type xy struct{ X, Y float64 }
	var got []xy
	for _, pt := range first.Points {
		got = append(got, xy{pt.X, pt.Y})
	}
	want := []xy{{10, 20}, {30, 40}, {35, 40}, {35, 35}, {0, 35}, {0, 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("first subpath mismatch (-want +got):\n%s", diff)
	}
	// relative moveto after z starts from the subpath start
	second := p.Subpaths[1]
	got = got[:0]
	for _, pt := range second.Points {
		got = append(got, xy{pt.X, pt.Y})
	}
	want = []xy{{15, 25}, {16, 24}, {17.5, 24.5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("second subpath mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSVGPathCurves(t *testing.T) {
	p, err := ParseSVGPath("M0 0 Q 30 30 60 0 T 120 0 C 120 10 130 10 130 0 S 140 -10 140 0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pts := p.Subpaths[0].Points
	if len(pts) != 5 {
		t.Fatalf("expected moveto plus 4 curves, got %d points", len(pts))
	}
	q := pts[1]
	if q.Type != PathCurveTo || !near(q.Control1X, 20) || !near(q.Control1Y, 20) || !near(q.Control2X, 40) || !near(q.Control2Y, 20) {
		t.Fatalf("quadratic not raised correctly: %+v", q)
	}
	// T reflects the previous quadratic control point (30,30) around (60,0)
	tq := pts[2]
	if !near(tq.Control1X, 80) || !near(tq.Control1Y, -20) {
		t.Fatalf("smooth quadratic control point wrong: %+v", tq)
	}
	s := pts[4]
	if s.Control1X != 130 || s.Control1Y != -10 {
		t.Fatalf("smooth cubic should reflect (130,10) around (130,0): %+v", s)
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestParseSVGPathArc(t *testing.T) {
	// half circle of radius 50 from (0,0) to (100,0)
	p, err := ParseSVGPath("M0 0 A50 50 0 0 1 100 0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pts := p.Subpaths[0].Points
	if len(pts) != 3 {
		t.Fatalf("a half turn needs two cubics, got %d points", len(pts)-1)
	}
	mid := pts[1]
	if math.Abs(math.Hypot(mid.X-50, mid.Y)-50) > 1e-9 {
		t.Fatalf("arc midpoint %v,%v is off the circle", mid.X, mid.Y)
	}
	end := pts[2]
	if end.X != 100 || end.Y != 0 {
		t.Fatalf("arc must end exactly at the endpoint, got %v,%v", end.X, end.Y)
	}

	flags, err := ParseSVGPath("M0 0a25 25 0 1050 0")
	if err != nil {
		t.Fatalf("compact arc flags: %v", err)
	}
	if last := flags.Subpaths[0].Points[len(flags.Subpaths[0].Points)-1]; last.X != 50 || last.Y != 0 {
		t.Fatalf("unexpected compact arc end %+v", last)
	}
}

func TestParseSVGPathErrors(t *testing.T) {
	for _, d := range []string{"10 10", "M10", "M0 0 L", "M0 0 X 1 1", "M0 0 z 5"} {
		if _, err := ParseSVGPath(d); err == nil {
			t.Fatalf("%q: expected an error", d)
		}
	}
	p, err := ParseSVGPath("")
	if err != nil || !p.Empty() {
		t.Fatalf("empty data gives an empty path, got %+v %v", p, err)
	}
}

func TestAppendPath(t *testing.T) {
	p, err := ParseSVGPath("M0 0 L10 0 C 10 5 5 10 0 10 Z")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var b Builder
	b.AppendPath(p).Stroke()
	want := "0 0 m\n10 0 l\n10 5 5 10 0 10 c\nh\nS\n"
	if got := string(b.Bytes()); got != want {
		t.Fatalf("unexpected path ops\n got %q\nwant %q", got, want)
	}
}
