package compose

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"iter"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/wudi/pdfstamp/annotation"
	"github.com/wudi/pdfstamp/contentstream"
	"github.com/wudi/pdfstamp/delivery"
	"github.com/wudi/pdfstamp/document"
	"github.com/wudi/pdfstamp/fonts"
	"github.com/wudi/pdfstamp/ir/raw"
	"github.com/wudi/pdfstamp/observability"
	"github.com/wudi/pdfstamp/source"
)

// blankPDF builds a document with one empty 300pt wide page per height.
func blankPDF(t *testing.T, heights ...float64) []byte {
	t.Helper()
	doc := document.New()
	for _, h := range heights {
		if _, err := doc.AddPage(300, h); err != nil {
			t.Fatalf("add page: %v", err)
		}
	}
	out, err := doc.Serialize(context.Background())
	if err != nil {
		t.Fatalf("serialize fixture: %v", err)
	}
	return out
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func pngFile(t *testing.T, name string) annotation.File {
	return annotation.File{Name: name, MIME: "image/png", Data: pngBytes(t)}
}

// inspected is one composed page read back from the saved document.
type inspected struct {
	page  *document.Page
	ops   []contentstream.Operation
	marks []contentstream.Mark
}

func inspect(t *testing.T, data []byte) []inspected {
	t.Helper()
	doc, err := document.Load(context.Background(), data)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	var out []inspected
	for i, p := range doc.Pages() {
		ops, err := p.Content(context.Background())
		if err != nil {
			t.Fatalf("page %d content: %v", i, err)
		}
		if err := contentstream.CheckBalance(ops); err != nil {
			t.Fatalf("page %d is unbalanced: %v", i, err)
		}
		marks, err := contentstream.Trace(ops)
		if err != nil {
			t.Fatalf("page %d trace: %v", i, err)
		}
		out = append(out, inspected{page: p, ops: ops, marks: marks})
	}
	return out
}

// alpha returns the fill opacity selected by a mark, 1 when none is.
func alpha(t *testing.T, p *document.Page, m contentstream.Mark) float64 {
	t.Helper()
	if m.ExtGState == "" {
		return 1
	}
	res, err := p.Resources()
	if err != nil {
		t.Fatalf("resources: %v", err)
	}
	doc := p.Document()
	states, ok := raw.ResolveDict(doc, res.KV["ExtGState"])
	if !ok {
		t.Fatalf("no ExtGState resources for %s", m.ExtGState)
	}
	gs, ok := raw.ResolveDict(doc, states.KV[m.ExtGState])
	if !ok {
		t.Fatalf("missing graphics state %s", m.ExtGState)
	}
	ca, _ := raw.ResolveNumber(doc, gs.KV["ca"])
	return ca
}

func save(t *testing.T, c *Compositor, data []byte, set annotation.PageSet) ([]byte, *Report) {
	t.Helper()
	var sink delivery.Memory
	rep, err := c.Save(context.Background(), data, set, "out.pdf", &sink)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	got := sink.Deliveries()
	if len(got) != 1 || got[0].Name != "out.pdf" || got[0].MIMEType != delivery.ContentTypePDF {
		t.Fatalf("unexpected deliveries %+v", got)
	}
	return got[0].Data, rep
}

// delayed serves inline data after a per-file delay.
func delayed(delays map[string]time.Duration) source.Reader {
	return source.ReaderFunc(func(ctx context.Context, f annotation.File) ([]byte, error) {
		select {
		case <-time.After(delays[f.Name]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return f.Data, nil
	})
}

type box struct{ X, Y float64 }

func origins(marks []contentstream.Mark) []box {
	out := make([]box, len(marks))
	for i, m := range marks {
		out[i] = box{m.Box.LLX, m.Box.LLY}
	}
	return out
}

func TestDrawOrderFollowsDescriptors(t *testing.T) {
	data := blankPDF(t, 200)
	set := annotation.PageSet{{
		annotation.Image{File: pngFile(t, "a"), X: 0, Y: 0, Width: 10, Height: 10},
		annotation.Overlay{Mode: annotation.Erase, X: 5, Y: 5, Width: 10, Height: 10},
		annotation.Image{File: pngFile(t, "b"), X: 20, Y: 0, Width: 10, Height: 10},
		annotation.Image{File: pngFile(t, "c"), X: 40, Y: 0, Width: 10, Height: 10},
	}}
	want := []box{{0, 190}, {5, 185}, {20, 190}, {40, 190}}

	latencies := []map[string]time.Duration{
		{"a": 40 * time.Millisecond, "b": 20 * time.Millisecond, "c": 0},
		{"a": 0, "b": 20 * time.Millisecond, "c": 40 * time.Millisecond},
	}
	for _, lat := range latencies {
		c := New(delayed(lat), nil)
		out, rep := save(t, c, data, set)
		if rep.Applied() != 4 || rep.Degraded() != 0 {
			t.Fatalf("applied %d degraded %d", rep.Applied(), rep.Degraded())
		}
		pages := inspect(t, out)
		if diff := cmp.Diff(want, origins(pages[0].marks)); diff != "" {
			t.Fatalf("draw order (-want +got):\n%s", diff)
		}
	}
}

func TestCoordinatesFlipAgainstPageHeight(t *testing.T) {
	data := blankPDF(t, 200)
	set := annotation.PageSet{{
		annotation.Image{File: pngFile(t, "img"), X: 10, Y: 20, Width: 30, Height: 40},
		annotation.Text{X: 15, Y: 20, Lines: []string{"one", "two"}, LineHeight: 1.5, Size: 10, FontFamily: "Helvetica", Width: 80},
		annotation.Drawing{X: 5, Y: 20, Path: "M0 0 L10 10", Scale: 2},
	}}
	out, _ := save(t, New(nil, nil), data, set)
	pages := inspect(t, out)
	marks := pages[0].marks
	if len(marks) != 3 {
		t.Fatalf("expected 3 marks, got %d", len(marks))
	}
	if marks[0].Box != (contentstream.Box{LLX: 10, LLY: 140, URX: 40, URY: 180}) {
		t.Fatalf("image placed at %+v", marks[0].Box)
	}
	// text height is 10 * 1.5 * 2
	if marks[1].Box.LLX != 15 || marks[1].Box.LLY != 150 {
		t.Fatalf("text placed at %+v", marks[1].Box)
	}

	// the stroke has no height, so its origin sits at pageHeight - y
	var cm *contentstream.Operation
	for i, op := range pages[0].ops {
		if op.Operator == "cm" && len(op.Operands) == 6 && op.Operands[0].(raw.NumberObj).Float() == 2 {
			cm = &pages[0].ops[i]
		}
	}
	if cm == nil {
		t.Fatalf("no path transform in %v", pages[0].ops)
	}
	got := make([]float64, 6)
	for i, o := range cm.Operands {
		got[i] = o.(raw.NumberObj).Float()
	}
	if diff := cmp.Diff([]float64{2, 0, 0, -2, 5, 180}, got); diff != "" {
		t.Fatalf("path transform (-want +got):\n%s", diff)
	}
	if marks[2].Operator != "S" || marks[2].Stroke != [3]float64{0, 0, 0} {
		t.Fatalf("drawing should be stroked black, got %+v", marks[2])
	}
}

func TestTextFormMatchesBlock(t *testing.T) {
	data := blankPDF(t, 200)
	set := annotation.PageSet{{
		annotation.Text{X: 20, Y: 30, Lines: []string{"hello"}, LineHeight: 1.2, Size: 12, FontFamily: "Helvetica", Width: 100},
	}}
	out, _ := save(t, New(nil, nil), data, set)
	page := inspect(t, out)[0]

	res, err := page.page.Resources()
	if err != nil {
		t.Fatalf("resources: %v", err)
	}
	doc := page.page.Document()
	xobjects, ok := raw.ResolveDict(doc, res.KV["XObject"])
	if !ok || xobjects.Len() != 1 {
		t.Fatalf("expected one XObject, got %v", res.KV["XObject"])
	}
	obj, err := doc.Resolve(xobjects.KV[xobjects.Keys()[0]])
	if err != nil {
		t.Fatalf("resolve form: %v", err)
	}
	form, ok := obj.(*raw.StreamObj)
	if !ok {
		t.Fatalf("XObject is %T", obj)
	}
	bbox, ok := raw.Rect(doc, form.Dict.KV["BBox"])
	if !ok {
		t.Fatalf("form has no BBox")
	}
	// 12 * 1.2 * 1 line
	if diff := cmp.Diff([4]float64{0, 0, 100, 14.4}, bbox, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("form BBox (-want +got):\n%s", diff)
	}

	var cm []float64
	for i, op := range page.ops {
		if op.Operator == "Do" && i > 0 && page.ops[i-1].Operator == "cm" {
			for _, o := range page.ops[i-1].Operands {
				cm = append(cm, o.(raw.NumberObj).Float())
			}
		}
	}
	want := []float64{1, 0, 0, 1, 20, 200 - 30 - 14.4}
	if diff := cmp.Diff(want, cm, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("form placement (-want +got):\n%s", diff)
	}
}

func TestDrawingBracketsState(t *testing.T) {
	data := blankPDF(t, 100)
	set := annotation.PageSet{{annotation.Drawing{X: 0, Y: 0, Path: "M0 0 L1 1", Scale: 1}}}
	out, _ := save(t, New(nil, nil), data, set)
	var ops []string
	for _, op := range inspect(t, out)[0].ops {
		ops = append(ops, op.Operator)
	}
	want := []string{"q", "J", "j", "q", "cm", "RG", "w", "m", "l", "S", "Q", "Q"}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Fatalf("operators (-want +got):\n%s", diff)
	}
}

func TestCorruptImageDoesNotBlockSiblings(t *testing.T) {
	data := blankPDF(t, 200)
	log := observability.NewRecorder()
	set := annotation.PageSet{{
		annotation.Image{File: annotation.File{Name: "bad", MIME: "image/png", Data: []byte("not an image")}, Width: 10, Height: 10},
		annotation.Image{File: annotation.File{Name: "bad.jpg", MIME: "image/jpeg", Data: []byte("nope")}, Width: 10, Height: 10},
		annotation.Overlay{Mode: annotation.Erase, X: 0, Y: 0, Width: 20, Height: 20},
		annotation.Image{File: pngFile(t, "good"), X: 50, Y: 50, Width: 10, Height: 10},
	}}
	out, rep := save(t, New(nil, nil, WithLogger(log)), data, set)
	if rep.Applied() != 2 || rep.Degraded() != 2 {
		t.Fatalf("applied %d degraded %d", rep.Applied(), rep.Degraded())
	}
	failures := rep.Failures()
	for _, f := range failures {
		if !errors.Is(f, ErrResourceResolution) || f.Page != 0 || f.Kind != annotation.KindImage {
			t.Fatalf("unexpected failure %v", f)
		}
	}
	if failures[0].Index != 0 || failures[1].Index != 1 {
		t.Fatalf("failures out of order: %v", failures)
	}
	if n := log.Count("warn"); n != 2 {
		t.Fatalf("expected 2 warnings, got %d", n)
	}
	if marks := inspect(t, out)[0].marks; len(marks) != 2 || marks[0].Operator != "f" || marks[1].Operator != "Do" {
		t.Fatalf("siblings should render, got %+v", marks)
	}
}

func TestEraseEachPage(t *testing.T) {
	data := blankPDF(t, 200, 200)
	erase := annotation.Overlay{Mode: annotation.Erase, X: 0, Y: 0, Width: 100, Height: 50}
	out, _ := save(t, New(nil, nil), data, annotation.PageSet{{erase}, {erase}})
	pages := inspect(t, out)
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	for i, p := range pages {
		if len(p.marks) != 1 {
			t.Fatalf("page %d: expected one rectangle, got %d", i, len(p.marks))
		}
		m := p.marks[0]
		if m.Box != (contentstream.Box{LLX: 0, LLY: 150, URX: 100, URY: 200}) {
			t.Fatalf("page %d: rectangle at %+v", i, m.Box)
		}
		if m.Fill != [3]float64{1, 1, 1} || m.Operator != "f" {
			t.Fatalf("page %d: expected a white fill, got %+v", i, m)
		}
		if a := alpha(t, p.page, m); a != 1 {
			t.Fatalf("page %d: opacity %v", i, a)
		}
	}
}

func TestBlurTiles(t *testing.T) {
	tests := []struct {
		w, h  float64
		tiles int
	}{
		{40, 40, 16},
		{45, 35, 20},
	}
	for _, tt := range tests {
		data := blankPDF(t, 200)
		const x, y = 10.0, 10.0
		blur := annotation.Overlay{Mode: annotation.Blur, X: x, Y: y, Width: tt.w, Height: tt.h}
		out, _ := save(t, New(nil, nil), data, annotation.PageSet{{blur}})
		page := inspect(t, out)[0]
		if len(page.marks) != tt.tiles+1 {
			t.Fatalf("%vx%v: expected %d tiles and a veil, got %d marks", tt.w, tt.h, tt.tiles, len(page.marks))
		}
		for i, m := range page.marks[:tt.tiles] {
			if m.Fill != [3]float64{0.9, 0.9, 0.9} || alpha(t, page.page, m) != 0.7 {
				t.Fatalf("tile %d: %+v", i, m)
			}
			if m.Box.URX-m.Box.LLX != pixelSize || m.Box.URY-m.Box.LLY != pixelSize {
				t.Fatalf("tile %d is not full size: %+v", i, m.Box)
			}
			// editor space bounds, allowing one tile of overdraw
			top, bottom := 200-m.Box.URY, 200-m.Box.LLY
			if m.Box.LLX < x || m.Box.URX > x+tt.w+pixelSize || top < y || bottom > y+tt.h+pixelSize {
				t.Fatalf("tile %d outside the box: %+v", i, m.Box)
			}
		}
		veil := page.marks[tt.tiles]
		if veil.Fill != [3]float64{0.95, 0.95, 0.95} || alpha(t, page.page, veil) != 0.3 {
			t.Fatalf("veil: %+v", veil)
		}
		if veil.Box != (contentstream.Box{LLX: x, LLY: 200 - y - tt.h, URX: x + tt.w, URY: 200 - y}) {
			t.Fatalf("veil at %+v", veil.Box)
		}
	}
}

func TestOversizedBlurStopsAtPageEdge(t *testing.T) {
	data := blankPDF(t, 200)
	blur := annotation.Overlay{Mode: annotation.Blur, Width: 1e6, Height: 1e6}
	out, rep := save(t, New(nil, nil), data, annotation.PageSet{{blur}})
	if rep.Applied() != 1 {
		t.Fatalf("blur not applied: %+v", rep)
	}
	page := inspect(t, out)[0]
	// 300x200 page in 10pt tiles, starting at the page origin
	const tiles = 30 * 20
	if len(page.marks) != tiles+1 {
		t.Fatalf("expected %d tiles and a veil, got %d marks", tiles, len(page.marks))
	}
	for i, m := range page.marks[:tiles] {
		if m.Box.LLX < -pixelSize || m.Box.URX > 300+pixelSize || m.Box.LLY < -pixelSize || m.Box.URY > 200+pixelSize {
			t.Fatalf("tile %d off the page: %+v", i, m.Box)
		}
	}
}

func TestZeroAnnotationsRoundTrip(t *testing.T) {
	data := blankPDF(t, 200, 350.5)
	out, rep := save(t, New(nil, nil), data, nil)
	if !bytes.Equal(out, data) {
		t.Fatalf("an untouched document should be written verbatim")
	}
	if len(rep.Pages) != 2 || rep.Applied() != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	pages := inspect(t, out)
	if len(pages) != 2 || pages[0].page.Height() != 200 || pages[1].page.Height() != 350.5 {
		t.Fatalf("pages changed")
	}
}

func TestTextFontFailureAbortsSave(t *testing.T) {
	data := blankPDF(t, 200, 200)
	boom := errors.New("font server down")
	provider := fonts.ProviderFunc(func(context.Context, string) (*fonts.Resource, error) { return nil, boom })
	set := annotation.PageSet{
		{annotation.Overlay{Mode: annotation.Erase, Width: 10, Height: 10}},
		{annotation.Text{Lines: []string{"x"}, LineHeight: 1, Size: 10, FontFamily: "Remote", Width: 50}},
	}
	var sink delivery.Memory
	_, err := New(nil, provider).Save(context.Background(), data, set, "out.pdf", &sink)
	if !errors.Is(err, ErrUnrecoverableResolution) || !errors.Is(err, boom) {
		t.Fatalf("expected an unrecoverable resolution error, got %v", err)
	}
	var aerr *AnnotationError
	if !errors.As(err, &aerr) || aerr.Page != 1 || aerr.Index != 0 || aerr.Kind != annotation.KindText {
		t.Fatalf("error should locate the annotation: %v", err)
	}
	if n := len(sink.Deliveries()); n != 0 {
		t.Fatalf("nothing may be delivered, got %d deliveries", n)
	}

	// the same failure degrades under DegradeAll
	_, rep := save(t, New(nil, provider, WithDegradePolicy(DegradeAll)), data, set)
	if rep.Degraded() != 1 || rep.Applied() != 1 {
		t.Fatalf("applied %d degraded %d", rep.Applied(), rep.Degraded())
	}
}

func TestDrawingPathFailureAborts(t *testing.T) {
	set := annotation.PageSet{{annotation.Drawing{Path: "M0 0 Q", Scale: 1}}}
	_, err := New(nil, nil).Save(context.Background(), blankPDF(t, 100), set, "x.pdf", &delivery.Memory{})
	if !errors.Is(err, ErrUnrecoverableResolution) {
		t.Fatalf("expected ErrUnrecoverableResolution, got %v", err)
	}
}

func TestEmptyTextIsSkipped(t *testing.T) {
	set := annotation.PageSet{{annotation.Text{FontFamily: "Nope"}}}
	out, rep := save(t, New(nil, nil), blankPDF(t, 100), set)
	if rep.Pages[0].Skipped != 1 || rep.Applied() != 0 {
		t.Fatalf("unexpected report %+v", rep.Pages[0])
	}
	if len(inspect(t, out)[0].marks) != 0 {
		t.Fatalf("empty text drew something")
	}
}

// failing wraps a page with drawing calls that fail.
type failing struct {
	*document.Page
	rect, path error
}

func (f failing) DrawRectangle(o document.RectangleOptions) error {
	if f.rect != nil {
		return f.rect
	}
	return f.Page.DrawRectangle(o)
}

func (f failing) DrawRectangles(rs iter.Seq[document.RectangleOptions]) error {
	if f.rect != nil {
		return f.rect
	}
	return f.Page.DrawRectangles(rs)
}

func (f failing) DrawSVGPath(d string, o document.PathOptions) error {
	if f.path != nil {
		return f.path
	}
	return f.Page.DrawSVGPath(d, o)
}

func loadPage(t *testing.T, height float64) *document.Page {
	t.Helper()
	doc, err := document.Load(context.Background(), blankPDF(t, height))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return doc.Pages()[0]
}

func TestOverlayDrawFailureDegrades(t *testing.T) {
	page := loadPage(t, 100)
	s := failing{Page: page, rect: errors.New("no ink")}
	descs := []annotation.Descriptor{
		annotation.Overlay{Mode: annotation.Blur, Width: 20, Height: 20},
		annotation.Drawing{Path: "M0 0 L5 5", Scale: 1},
	}
	rep, err := New(nil, nil).ComposePage(context.Background(), s, 0, descs)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if rep.State != Done || rep.Degraded != 1 || rep.Applied != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if !errors.Is(rep.Failures[0], ErrComposition) {
		t.Fatalf("expected ErrComposition, got %v", rep.Failures[0])
	}
}

func TestFailedPathStillBalances(t *testing.T) {
	page := loadPage(t, 100)
	s := failing{Page: page, path: errors.New("broken pen")}
	descs := []annotation.Descriptor{annotation.Drawing{Path: "M0 0 L5 5", Scale: 1}}

	rep, err := New(nil, nil).ComposePage(context.Background(), s, 0, descs)
	if !errors.Is(err, ErrUnrecoverableResolution) || rep.State != Failed {
		t.Fatalf("expected the page to fail, got %v (%v)", err, rep.State)
	}
	if err := contentstream.CheckBalance(page.Operations()); err != nil {
		t.Fatalf("bracket left open: %v", err)
	}

	page = loadPage(t, 100)
	s = failing{Page: page, path: errors.New("broken pen")}
	rep, err = New(nil, nil, WithDegradePolicy(DegradeAll)).ComposePage(context.Background(), s, 0, descs)
	if err != nil || rep.Degraded != 1 {
		t.Fatalf("expected a degraded drawing, got %v %+v", err, rep)
	}
	if err := contentstream.CheckBalance(page.Operations()); err != nil {
		t.Fatalf("bracket left open: %v", err)
	}
}

func TestSaveErrors(t *testing.T) {
	ctx := context.Background()
	c := New(nil, nil)

	if _, err := c.Save(ctx, []byte("garbage"), nil, "x.pdf", &delivery.Memory{}); !errors.Is(err, ErrLoad) {
		t.Fatalf("expected ErrLoad, got %v", err)
	}

	extra := annotation.PageSet{{}, {annotation.Overlay{Mode: annotation.Erase, Width: 1, Height: 1}}}
	if _, err := c.Save(ctx, blankPDF(t, 100), extra, "x.pdf", &delivery.Memory{}); !errors.Is(err, annotation.ErrInvalid) {
		t.Fatalf("expected annotation.ErrInvalid, got %v", err)
	}

	down := delivery.SinkFunc(func(context.Context, []byte, string, string) error { return errors.New("disk full") })
	rep, err := c.Save(ctx, blankPDF(t, 100), annotation.PageSet{{annotation.Overlay{Mode: annotation.Erase, Width: 1, Height: 1}}}, "x.pdf", down)
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	if rep == nil || rep.Bytes == 0 {
		t.Fatalf("the document is produced before delivery fails")
	}
}

func TestCancellationStopsSave(t *testing.T) {
	blocked := source.ReaderFunc(func(ctx context.Context, f annotation.File) ([]byte, error) {
		<-ctx.Done()
		return nil, errors.Join(source.ErrIO, ctx.Err())
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var sink delivery.Memory
	set := annotation.PageSet{{annotation.Image{File: annotation.File{Locator: "slow.png"}, Width: 1, Height: 1}}}
	_, err := New(blocked, nil).Save(ctx, blankPDF(t, 100), set, "x.pdf", &sink)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the deadline error, got %v", err)
	}
	if len(sink.Deliveries()) != 0 {
		t.Fatalf("nothing may be delivered after cancellation")
	}
}

func TestSpansAndConcurrencyLimit(t *testing.T) {
	tracer := &observability.RecordingTracer{}
	var sets annotation.PageSet
	for i := 0; i < 3; i++ {
		sets = append(sets, []annotation.Descriptor{
			annotation.Image{File: pngFile(t, "x"), Width: 5, Height: 5},
			annotation.Overlay{Mode: annotation.Blur, Width: 10, Height: 10},
		})
	}
	c := New(nil, nil, WithTracer(tracer), WithConcurrency(1))
	_, rep := save(t, c, blankPDF(t, 100, 100, 100), sets)
	if rep.Applied() != 6 {
		t.Fatalf("applied %d", rep.Applied())
	}
	if n := len(tracer.Spans(observability.SpanPage)); n != 3 {
		t.Fatalf("expected 3 page spans, got %d", n)
	}
	if n := len(tracer.Spans(observability.SpanAnnotation)); n != 6 {
		t.Fatalf("expected 6 annotation spans, got %d", n)
	}
	for _, name := range []string{observability.SpanStamp, observability.SpanLoad, observability.SpanSerialize, observability.SpanDeliver} {
		if len(tracer.Spans(name)) != 1 {
			t.Fatalf("missing span %s", name)
		}
	}
}
