package fonts

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/go-text/typesetting/di"
	gofont "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/pdfstamp/contentstream"
	"github.com/wudi/pdfstamp/filters"
	"github.com/wudi/pdfstamp/ir/raw"
)

// trueTypeFace embeds a TrueType program as a Type0 font with Identity-H
// encoding, so the content stream carries glyph IDs produced by the shaper.
type trueTypeFace struct {
	data       []byte
	baseName   string
	sf         *sfnt.Font
	buf        sfnt.Buffer
	unitsPerEm sfnt.Units
	ppem       fixed.Int26_6

	ascent, descent float64 // 1/1000 em
	bbox            [4]float64
	italicAngle     float64

	face   *gofont.Face
	shaper shaping.HarfbuzzShaper

	widths    map[uint16]float64
	toUnicode map[uint16][]rune
}

func newTrueTypeFace(family string, data []byte) (*trueTypeFace, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("font %q: empty program", family)
	}
	sf, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse truetype: %w", err)
	}
	upem := sf.UnitsPerEm()
	if upem == 0 {
		return nil, fmt.Errorf("font %q: invalid unitsPerEm", family)
	}
	face, err := gofont.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load shaping face: %w", err)
	}
	f := &trueTypeFace{
		data:       data,
		sf:         sf,
		unitsPerEm: upem,
		ppem:       fixed.Int26_6(upem << 6),
		face:       face,
		widths:     make(map[uint16]float64),
		toUnicode:  make(map[uint16][]rune),
	}

	f.baseName = strings.Map(func(r rune) rune {
		if r <= ' ' || r > '~' || strings.ContainsRune("()<>[]{}/%#", r) {
			return -1
		}
		return r
	}, family)
	if ps, err := sf.Name(&f.buf, sfnt.NameIDPostScript); err == nil && ps != "" {
		f.baseName = ps
	}
	if f.baseName == "" {
		f.baseName = "CustomTT"
	}

	if m, err := sf.Metrics(&f.buf, f.ppem, xfont.HintingNone); err == nil {
		f.ascent = f.scale(m.Ascent)
		f.descent = -f.scale(m.Descent)
	}
	if f.ascent == 0 {
		f.ascent = 800
	}
	if b, err := sf.Bounds(&f.buf, f.ppem, xfont.HintingNone); err == nil {
		// sfnt bounds grow downwards in y
		f.bbox = [4]float64{f.scale(b.Min.X), -f.scale(b.Max.Y), f.scale(b.Max.X), -f.scale(b.Min.Y)}
	}
	if post := sf.PostTable(); post != nil {
		f.italicAngle = post.ItalicAngle
	}
	return f, nil
}

func (f *trueTypeFace) scale(v fixed.Int26_6) float64 {
	return float64(v) * 1000.0 / (64.0 * float64(f.unitsPerEm))
}

func (f *trueTypeFace) Ascent() float64 { return f.ascent / 1000 }

// advance is the nominal advance of gid in 1/1000 em.
func (f *trueTypeFace) advance(gid uint16) float64 {
	if w, ok := f.widths[gid]; ok {
		return w
	}
	adv, err := f.sf.GlyphAdvance(&f.buf, sfnt.GlyphIndex(gid), f.ppem, xfont.HintingNone)
	w := 0.0
	if err == nil {
		w = math.Round(f.scale(adv))
	}
	f.widths[gid] = w
	return w
}

// Show shapes text and returns a TJ operation when shaping moved glyphs
// away from their nominal advances, a Tj operation otherwise.
func (f *trueTypeFace) Show(text string) (contentstream.Operation, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return contentstream.Operation{Operator: "Tj", Operands: []raw.Object{raw.HexStr(nil)}}, nil
	}
	script := detectScript(runes)
	out := f.shaper.Shape(shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: scriptDirection(script),
		Face:      f.face,
		Size:      fixed.I(1000),
		Script:    script,
		Language:  language.DefaultLanguage(),
	})

	var (
		items   []raw.Object
		cur     []byte
		kerned  bool
		cluster = -1
	)
	for _, g := range out.Glyphs {
		gid := uint16(g.GlyphID)
		nominal := f.advance(gid)
		if g.ClusterIndex != cluster {
			cluster = g.ClusterIndex
			end := g.ClusterIndex + g.RuneCount
			if _, seen := f.toUnicode[gid]; !seen && g.RuneCount > 0 && end <= len(runes) {
				f.toUnicode[gid] = append([]rune(nil), runes[g.ClusterIndex:end]...)
			}
		}
		cur = append(cur, byte(gid>>8), byte(gid))
		// TJ numbers are subtracted from the advance, in 1/1000 em
		if adj := nominal - float64(g.XAdvance)/64; math.Abs(adj) > 0.5 {
			items = append(items, raw.HexStr(cur), raw.Number(math.Round(adj*100)/100))
			cur = nil
			kerned = true
		}
	}
	if !kerned {
		return contentstream.Operation{Operator: "Tj", Operands: []raw.Object{raw.HexStr(cur)}}, nil
	}
	if len(cur) > 0 {
		items = append(items, raw.HexStr(cur))
	}
	return contentstream.Operation{Operator: "TJ", Operands: []raw.Object{raw.NewArray(items...)}}, nil
}

// Embed writes the Type0 font, its CIDFontType2 descendant, the descriptor,
// the (subset) program and a ToUnicode map.
func (f *trueTypeFace) Embed(doc Adder) (raw.ObjectRef, error) {
	used := make(map[int]bool, len(f.widths))
	for gid := range f.widths {
		used[int(gid)] = true
	}
	program := f.data
	name := f.baseName
	if sub, err := subsetTrueType(f.data, used); err == nil && len(sub) < len(f.data) {
		program = sub
		name = subsetTag(used) + "+" + f.baseName
	}

	enc, err := filters.FlateEncode(program, zlib.DefaultCompression)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	file := raw.Dict()
	file.Set("Filter", raw.NameLiteral("FlateDecode"))
	file.Set("Length1", raw.NumberInt(int64(len(program))))
	fileRef := doc.Add(raw.NewStream(file, enc))

	desc := raw.Dict()
	desc.Set("Type", raw.NameLiteral("FontDescriptor"))
	desc.Set("FontName", raw.NameLiteral(name))
	desc.Set("Flags", raw.NumberInt(4))
	desc.Set("FontBBox", raw.Numbers(f.bbox[0], f.bbox[1], f.bbox[2], f.bbox[3]))
	desc.Set("ItalicAngle", raw.Number(f.italicAngle))
	desc.Set("Ascent", raw.Number(math.Round(f.ascent)))
	desc.Set("Descent", raw.Number(math.Round(f.descent)))
	desc.Set("CapHeight", raw.Number(math.Round(f.ascent)))
	desc.Set("StemV", raw.NumberInt(80))
	desc.Set("FontFile2", raw.Ref(fileRef.Num, fileRef.Gen))
	descRef := doc.Add(desc)

	sysInfo := raw.Dict()
	sysInfo.Set("Registry", raw.Str([]byte("Adobe")))
	sysInfo.Set("Ordering", raw.Str([]byte("Identity")))
	sysInfo.Set("Supplement", raw.NumberInt(0))

	cid := raw.Dict()
	cid.Set("Type", raw.NameLiteral("Font"))
	cid.Set("Subtype", raw.NameLiteral("CIDFontType2"))
	cid.Set("BaseFont", raw.NameLiteral(name))
	cid.Set("CIDSystemInfo", sysInfo)
	cid.Set("FontDescriptor", raw.Ref(descRef.Num, descRef.Gen))
	cid.Set("DW", raw.Number(f.advance(0)))
	cid.Set("W", f.widthArray())
	cid.Set("CIDToGIDMap", raw.NameLiteral("Identity"))
	cidRef := doc.Add(cid)

	cmapRef := doc.Add(raw.NewStream(nil, f.toUnicodeCMap()))

	font := raw.Dict()
	font.Set("Type", raw.NameLiteral("Font"))
	font.Set("Subtype", raw.NameLiteral("Type0"))
	font.Set("BaseFont", raw.NameLiteral(name))
	font.Set("Encoding", raw.NameLiteral("Identity-H"))
	font.Set("DescendantFonts", raw.NewArray(raw.Ref(cidRef.Num, cidRef.Gen)))
	font.Set("ToUnicode", raw.Ref(cmapRef.Num, cmapRef.Gen))
	return doc.Add(font), nil
}

// widthArray lists the used glyph widths as runs: [first [w1 w2 ...] ...].
func (f *trueTypeFace) widthArray() *raw.ArrayObj {
	gids := make([]int, 0, len(f.widths))
	for gid := range f.widths {
		gids = append(gids, int(gid))
	}
	sort.Ints(gids)
	out := raw.NewArray()
	for i := 0; i < len(gids); {
		j := i
		run := raw.NewArray()
		for ; j < len(gids) && gids[j] == gids[i]+(j-i); j++ {
			run.Append(raw.Number(f.widths[uint16(gids[j])]))
		}
		out.Append(raw.NumberInt(int64(gids[i])), run)
		i = j
	}
	return out
}

func (f *trueTypeFace) toUnicodeCMap() []byte {
	gids := make([]int, 0, len(f.toUnicode))
	for gid := range f.toUnicode {
		gids = append(gids, int(gid))
	}
	sort.Ints(gids)

	var b bytes.Buffer
	b.WriteString("/CIDInit /ProcSet findresource begin\n12 dict begin\nbegincmap\n")
	b.WriteString("/CIDSystemInfo << /Registry (Adobe) /Ordering (UCS) /Supplement 0 >> def\n")
	b.WriteString("/CMapName /Adobe-Identity-UCS def\n/CMapType 2 def\n")
	b.WriteString("1 begincodespacerange\n<0000> <FFFF>\nendcodespacerange\n")
	for len(gids) > 0 {
		n := min(len(gids), 100)
		fmt.Fprintf(&b, "%d beginbfchar\n", n)
		for _, gid := range gids[:n] {
			fmt.Fprintf(&b, "<%04X> <", gid)
			for _, u := range utf16.Encode(f.toUnicode[uint16(gid)]) {
				fmt.Fprintf(&b, "%04X", u)
			}
			b.WriteString(">\n")
		}
		b.WriteString("endbfchar\n")
		gids = gids[n:]
	}
	b.WriteString("endcmap\nCMapName currentdict /CMap defineresource pop\nend\nend\n")
	return b.Bytes()
}

// subsetTag derives the six letter prefix marking a subset font.
func subsetTag(used map[int]bool) string {
	gids := make([]int, 0, len(used))
	for gid := range used {
		gids = append(gids, gid)
	}
	sort.Ints(gids)
	h := fnv.New32a()
	for _, gid := range gids {
		h.Write([]byte{byte(gid >> 8), byte(gid)})
	}
	sum := h.Sum32()
	tag := make([]byte, 6)
	for i := range tag {
		tag[i] = 'A' + byte(sum%26)
		sum /= 26
	}
	return string(tag)
}

func scriptDirection(script language.Script) di.Direction {
	switch script {
	case language.Arabic, language.Hebrew, language.Syriac, language.Thaana, language.Nko:
		return di.DirectionRTL
	}
	return di.DirectionLTR
}

// detectScript picks the most frequent script among runes.
func detectScript(runes []rune) language.Script {
	counts := make(map[language.Script]int)
	best, bestCount := language.Latin, 0
	for _, r := range runes {
		s := scriptFromRune(r)
		if s == language.Unknown {
			continue
		}
		counts[s]++
		if counts[s] > bestCount {
			best, bestCount = s, counts[s]
		}
	}
	return best
}

var scriptTables = []struct {
	table  *unicode.RangeTable
	script language.Script
}{
	{unicode.Latin, language.Latin},
	{unicode.Cyrillic, language.Cyrillic},
	{unicode.Greek, language.Greek},
	{unicode.Arabic, language.Arabic},
	{unicode.Hebrew, language.Hebrew},
	{unicode.Thai, language.Thai},
	{unicode.Devanagari, language.Devanagari},
	{unicode.Bengali, language.Bengali},
	{unicode.Tamil, language.Tamil},
	{unicode.Han, language.Han},
	{unicode.Hiragana, language.Hiragana},
	{unicode.Katakana, language.Katakana},
	{unicode.Hangul, language.Hangul},
}

func scriptFromRune(r rune) language.Script {
	for _, st := range scriptTables {
		if unicode.Is(st.table, r) {
			return st.script
		}
	}
	return language.Unknown
}
