package fonts

import (
	"errors"

	"golang.org/x/text/encoding/charmap"

	"github.com/wudi/pdfstamp/contentstream"
	"github.com/wudi/pdfstamp/ir/raw"
)

// Adder stores indirect objects in a document.
type Adder interface {
	Add(obj raw.Object) raw.ObjectRef
}

// Face typesets text in one font for one document. Show records the glyphs
// a line uses; Embed then writes a font sized to exactly those glyphs, so
// all Show calls must come first. A Face is not safe for concurrent use.
type Face interface {
	// Ascent is the ascender height as a fraction of the font size.
	Ascent() float64
	// Show returns the text-showing operation for one line.
	Show(text string) (contentstream.Operation, error)
	// Embed stores the font objects and returns the font dictionary.
	Embed(doc Adder) (raw.ObjectRef, error)
}

// NewFace prepares r for typesetting.
func NewFace(r *Resource) (Face, error) {
	if r == nil {
		return nil, errors.New("nil font resource")
	}
	if r.IsBuiltIn() {
		return newStandardFace(r.BuiltIn)
	}
	return newTrueTypeFace(r.Family, r.Data)
}

// standard font ascenders from the Adobe font metrics, per 1000 units
var standardAscent = map[string]float64{
	"Courier":     629,
	"Helvetica":   718,
	"Times-Roman": 683,
}

type standardFace struct {
	name string
}

func newStandardFace(name string) (*standardFace, error) {
	if _, ok := standardAscent[name]; !ok {
		return nil, errors.New("not a standard font: " + name)
	}
	return &standardFace{name: name}, nil
}

func (f *standardFace) Ascent() float64 { return standardAscent[f.name] / 1000 }

// Show encodes text as WinAnsi; runes outside it become '?'.
func (f *standardFace) Show(text string) (contentstream.Operation, error) {
	b := make([]byte, 0, len(text))
	for _, r := range text {
		switch r {
		case '\n', '\r', '\t':
			r = ' '
		}
		c, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			c = '?'
		}
		b = append(b, c)
	}
	return contentstream.Operation{Operator: "Tj", Operands: []raw.Object{raw.Str(b)}}, nil
}

func (f *standardFace) Embed(doc Adder) (raw.ObjectRef, error) {
	dict := raw.Dict()
	dict.Set("Type", raw.NameLiteral("Font"))
	dict.Set("Subtype", raw.NameLiteral("Type1"))
	dict.Set("BaseFont", raw.NameLiteral(f.name))
	dict.Set("Encoding", raw.NameLiteral("WinAnsiEncoding"))
	return doc.Add(dict), nil
}
