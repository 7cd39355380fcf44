package writer

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/wudi/pdfstamp/ir/raw"
	"github.com/wudi/pdfstamp/parser"
)

func onePageRevision(xrefStream bool) Revision {
	page := raw.Dict()
	page.Set("Type", raw.NameLiteral("Page"))
	page.Set("Parent", raw.Ref(2, 0))
	page.Set("MediaBox", raw.Numbers(0, 0, 300, 200))
	pages := raw.Dict()
	pages.Set("Type", raw.NameLiteral("Pages"))
	pages.Set("Kids", raw.NewArray(raw.Ref(3, 0)))
	pages.Set("Count", raw.NumberInt(1))
	cat := raw.Dict()
	cat.Set("Type", raw.NameLiteral("Catalog"))
	cat.Set("Pages", raw.Ref(2, 0))
	return Revision{
		Objects: []Object{
			{Ref: raw.ObjectRef{Num: 3}, Value: page},
			{Ref: raw.ObjectRef{Num: 1}, Value: cat},
			{Ref: raw.ObjectRef{Num: 2}, Value: pages},
		},
		Root:       raw.Ref(1, 0),
		XRefStream: xrefStream,
	}
}

func TestAppendObject(t *testing.T) {
	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("XObject"))
	d.Set("A B", raw.NumberFloat(0.5))
	d.Set("Arr", raw.NewArray(raw.NumberInt(-3), raw.NumberFloat(1.0/3), raw.Bool(true), raw.NullObj{}))
	d.Set("S", raw.Str([]byte("a(b)\\\n")))
	d.Set("H", raw.HexStr([]byte{0xAB, 0x01}))
	d.Set("R", raw.Ref(7, 0))
	got := string(AppendObject(nil, d))
	want := `<</A#20B 0.5/Arr [-3 0.3333 true null]/H <AB01>/R 7 0 R/S (a\(b\)\\\n)/Type /XObject>>`
	if got != want {
		t.Fatalf("unexpected serialization\n got %s\nwant %s", got, want)
	}
}

func TestAppendNumber(t *testing.T) {
	tests := map[float64]string{
		0:         "0",
		-0.00001:  "0",
		1.5:       "1.5",
		-12.25:    "-12.25",
		100:       "100",
		0.1 + 0.2: "0.3",
		1e21:      "1000000000000000000000",
	}
	for in, want := range tests {
		if got := string(AppendNumber(nil, in)); got != want {
			t.Fatalf("AppendNumber(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestStreamLengthIsRewritten(t *testing.T) {
	d := raw.Dict()
	d.Set("Length", raw.NumberInt(99))
	s := raw.NewStream(d, []byte("0 0 m"))
	got := string(AppendObject(nil, s))
	if got != "<</Length 5>>\nstream\n0 0 m\nendstream" {
		t.Fatalf("unexpected stream %q", got)
	}
	if n, _ := d.Int("Length"); n != 99 {
		t.Fatalf("the caller's dictionary must not change")
	}
}

func TestWriteFileParses(t *testing.T) {
	for _, stream := range []bool{false, true} {
		var buf bytes.Buffer
		if err := WriteFile(context.Background(), &buf, "1.7", onePageRevision(stream), DefaultConfig()); err != nil {
			t.Fatalf("write: %v", err)
		}
		f, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), buf.Bytes())
		if err != nil {
			t.Fatalf("xref stream %v: parse: %v", stream, err)
		}
		if f.XRef.Stream != stream {
			t.Fatalf("expected xref stream %v", stream)
		}
		obj, err := f.Load(context.Background(), raw.ObjectRef{Num: 3})
		if err != nil {
			t.Fatalf("load page: %v", err)
		}
		box, ok := raw.Rect(f, obj.(*raw.DictObj).KV["MediaBox"])
		if !ok || box != [4]float64{0, 0, 300, 200} {
			t.Fatalf("unexpected media box %v", box)
		}
	}
}

func TestAppendUpdateChainsRevisions(t *testing.T) {
	for _, stream := range []bool{false, true} {
		var base bytes.Buffer
		if err := WriteFile(context.Background(), &base, "1.7", onePageRevision(stream), DefaultConfig()); err != nil {
			t.Fatalf("write: %v", err)
		}
		f, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), base.Bytes())
		if err != nil {
			t.Fatalf("parse base: %v", err)
		}

		content := raw.NewStream(nil, []byte("q 1 1 1 rg 0 0 10 10 re f Q"))
		page := raw.Clone(mustLoad(t, f, 3)).(*raw.DictObj)
		page.Set("Contents", raw.Ref(f.XRef.Size(), 0))
		rev := Revision{
			Objects: []Object{
				{Ref: raw.ObjectRef{Num: 3}, Value: page},
				{Ref: raw.ObjectRef{Num: f.XRef.Size()}, Value: content},
			},
			Root:       f.Trailer().KV["Root"],
			Size:       f.XRef.Size(),
			XRefStream: f.XRef.Stream,
		}
		var out bytes.Buffer
		if err := AppendUpdate(context.Background(), &out, base.Bytes(), f.XRef.StartXRef, rev, DefaultConfig()); err != nil {
			t.Fatalf("append: %v", err)
		}
		if !bytes.HasPrefix(out.Bytes(), base.Bytes()) {
			t.Fatalf("an update must keep the original bytes")
		}
		if strings.Count(out.String(), "%%EOF") != 2 {
			t.Fatalf("expected two revisions")
		}

		g, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), out.Bytes())
		if err != nil {
			t.Fatalf("xref stream %v: parse update: %v", stream, err)
		}
		if g.XRef.Sections != 2 {
			t.Fatalf("expected two xref sections, got %d", g.XRef.Sections)
		}
		updated := mustLoad(t, g, 3).(*raw.DictObj)
		ref, ok := updated.KV["Contents"].(raw.RefObj)
		if !ok {
			t.Fatalf("updated page lost its contents")
		}
		cs := mustLoad(t, g, ref.R.Num).(*raw.StreamObj)
		if string(cs.Data) != "q 1 1 1 rg 0 0 10 10 re f Q" {
			t.Fatalf("unexpected content %q", cs.Data)
		}
		if typ, _ := mustLoad(t, g, 1).(*raw.DictObj).Name("Type"); typ != "Catalog" {
			t.Fatalf("untouched objects must still load from the base revision")
		}
	}
}

func TestWriteRejectsDuplicates(t *testing.T) {
	rev := onePageRevision(false)
	rev.Objects = append(rev.Objects, rev.Objects[0])
	var buf bytes.Buffer
	if err := WriteFile(context.Background(), &buf, "", rev, DefaultConfig()); err == nil {
		t.Fatalf("expected an error for a duplicate object")
	}
}

func mustLoad(t *testing.T, f *parser.File, num int) raw.Object {
	t.Helper()
	obj, err := f.Load(context.Background(), raw.ObjectRef{Num: num})
	if err != nil {
		t.Fatalf("load %d: %v", num, err)
	}
	return obj
}
