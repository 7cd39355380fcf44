package document

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"sync"

	"github.com/wudi/pdfstamp/contentstream"
	"github.com/wudi/pdfstamp/coords"
	"github.com/wudi/pdfstamp/ir/raw"
	"github.com/wudi/pdfstamp/resources"
)

// ErrUnbalanced is returned by PopGraphicsState without a matching push.
var ErrUnbalanced = errors.New("graphics state stack is empty")

// RGB is a device RGB color with components in [0,1].
type RGB struct{ R, G, B float64 }

var (
	Black = RGB{}
	White = RGB{1, 1, 1}
)

// Page is one page of a Document. Drawing calls append to a private operation
// list; nothing reaches the document until Serialize. A Page is safe for
// concurrent use, though drawing order is only meaningful from one goroutine.
type Page struct {
	doc  *Document
	ref  raw.ObjectRef
	dict *raw.DictObj
	box  [4]float64

	mu       sync.Mutex
	res      *raw.DictObj
	namer    *resources.Namer
	content  contentstream.Builder
	depth    int
	dirty    bool
	xobjects map[raw.ObjectRef]string
	states   map[float64]string

	// streams written by a previous Serialize, reused on the next one
	prefixRef, suffixRef raw.ObjectRef
}

func newPage(d *Document, ref raw.ObjectRef, dict *raw.DictObj, inh inherited) *Page {
	box := defaultMediaBox
	if b, ok := raw.Rect(d, inh.mediaBox); ok && b[2] > b[0] && b[3] > b[1] {
		box = b
	}
	return &Page{
		doc:      d,
		ref:      ref,
		dict:     dict,
		box:      box,
		xobjects: make(map[raw.ObjectRef]string),
		states:   make(map[float64]string),
	}
}

// Ref is the page object's reference.
func (p *Page) Ref() raw.ObjectRef { return p.ref }

// Box is the page's media box.
func (p *Page) Box() [4]float64 { return p.box }

func (p *Page) Width() float64  { return p.box[2] - p.box[0] }
func (p *Page) Height() float64 { return p.box[3] - p.box[1] }

// Document returns the document the page belongs to.
func (p *Page) Document() *Document { return p.doc }

// resourcesLocked returns the page's private resource dictionary, copying the
// inherited one on first use. p.mu must be held.
func (p *Page) resourcesLocked() (*raw.DictObj, error) {
	if p.res != nil {
		return p.res, nil
	}
	res, err := resources.Inherited(p.doc, p.dict)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", p.ref, err)
	}
	p.res = res
	p.namer = resources.NewNamer(res)
	return res, nil
}

// AddResource stores value in the page's resource category under a fresh
// name built from prefix and returns the name.
func (p *Page) AddResource(cat resources.ResourceCategory, prefix string, value raw.Object) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addResourceLocked(cat, prefix, value)
}

func (p *Page) addResourceLocked(cat resources.ResourceCategory, prefix string, value raw.Object) (string, error) {
	res, err := p.resourcesLocked()
	if err != nil {
		return "", err
	}
	p.dirty = true
	return p.namer.Add(res, cat, prefix, value), nil
}

func (p *Page) xobjectNameLocked(ref raw.ObjectRef, prefix string) (string, error) {
	if name, ok := p.xobjects[ref]; ok {
		return name, nil
	}
	name, err := p.addResourceLocked(resources.CategoryXObject, prefix, raw.Ref(ref.Num, ref.Gen))
	if err != nil {
		return "", err
	}
	p.xobjects[ref] = name
	return name, nil
}

// opacityStateLocked returns the ExtGState name setting fill and stroke
// opacity to alpha, creating it once per page.
func (p *Page) opacityStateLocked(alpha float64) (string, error) {
	if name, ok := p.states[alpha]; ok {
		return name, nil
	}
	gs := raw.Dict()
	gs.Set("Type", raw.NameLiteral("ExtGState"))
	gs.Set("ca", raw.Number(alpha))
	gs.Set("CA", raw.Number(alpha))
	name, err := p.addResourceLocked(resources.CategoryExtGState, "GS", gs)
	if err != nil {
		return "", err
	}
	p.states[alpha] = name
	return name, nil
}

func (p *Page) opLocked(op string, operands ...raw.Object) {
	p.content.Op(op, operands...)
	p.dirty = true
}

// ImageOptions places an image or embedded page. A zero Width or Height
// draws at the natural size.
type ImageOptions struct {
	X, Y          float64
	Width, Height float64
}

// DrawImage paints img scaled into the box at (X, Y).
func (p *Page) DrawImage(img *Image, o ImageOptions) error {
	if img == nil {
		return errors.New("nil image")
	}
	w, h := o.Width, o.Height
	if w == 0 {
		w = float64(img.Width)
	}
	if h == 0 {
		h = float64(img.Height)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	name, err := p.xobjectNameLocked(img.Ref, "Im")
	if err != nil {
		return err
	}
	p.content.Save().Concat(coords.Matrix{w, 0, 0, h, o.X, o.Y}).XObject(name).Restore()
	p.dirty = true
	return nil
}

// DrawSubPage paints an embedded page with its lower-left corner at (X, Y).
func (p *Page) DrawSubPage(ep *EmbeddedPage, o ImageOptions) error {
	if ep == nil {
		return errors.New("nil embedded page")
	}
	sx, sy := 1.0, 1.0
	if o.Width != 0 && ep.Width() > 0 {
		sx = o.Width / ep.Width()
	}
	if o.Height != 0 && ep.Height() > 0 {
		sy = o.Height / ep.Height()
	}
	m := coords.Matrix{sx, 0, 0, sy, o.X - ep.BBox[0]*sx, o.Y - ep.BBox[1]*sy}
	p.mu.Lock()
	defer p.mu.Unlock()
	name, err := p.xobjectNameLocked(ep.Ref, "X")
	if err != nil {
		return err
	}
	p.content.Save().Concat(m).XObject(name).Restore()
	p.dirty = true
	return nil
}

// RectangleOptions describes a filled rectangle. Opacity is in (0,1]; the
// zero value draws opaque. A positive BorderWidth also strokes the outline.
type RectangleOptions struct {
	X, Y          float64
	Width, Height float64
	Color         RGB
	Opacity       float64
	BorderWidth   float64
	BorderColor   RGB
}

func (p *Page) DrawRectangle(o RectangleOptions) error {
	if err := o.check(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var b contentstream.Builder
	if err := p.rectangleLocked(&b, o); err != nil {
		return err
	}
	p.content.Append(b.Operations()...)
	p.dirty = true
	return nil
}

// DrawRectangles draws each rectangle of rs in order. When one fails none of
// them reach the page.
func (p *Page) DrawRectangles(rs iter.Seq[RectangleOptions]) error {
	var batch []RectangleOptions
	for o := range rs {
		if err := o.check(); err != nil {
			return err
		}
		batch = append(batch, o)
	}
	if len(batch) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var b contentstream.Builder
	for _, o := range batch {
		if err := p.rectangleLocked(&b, o); err != nil {
			return err
		}
	}
	p.content.Append(b.Operations()...)
	p.dirty = true
	return nil
}

func (o RectangleOptions) check() error {
	for _, v := range []float64{o.X, o.Y, o.Width, o.Height, o.BorderWidth} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("rectangle %v,%v %vx%v is not finite", o.X, o.Y, o.Width, o.Height)
		}
	}
	return nil
}

func (p *Page) rectangleLocked(b *contentstream.Builder, o RectangleOptions) error {
	alpha := o.Opacity
	if alpha <= 0 || alpha > 1 {
		alpha = 1
	}
	var gs string
	if alpha < 1 {
		name, err := p.opacityStateLocked(alpha)
		if err != nil {
			return err
		}
		gs = name
	}
	b.Save()
	if gs != "" {
		b.SetExtGState(gs)
	}
	b.SetFillRGB(o.Color.R, o.Color.G, o.Color.B)
	if o.BorderWidth > 0 {
		b.SetStrokeRGB(o.BorderColor.R, o.BorderColor.G, o.BorderColor.B).SetLineWidth(o.BorderWidth)
	}
	b.Rectangle(o.X, o.Y, o.Width, o.Height)
	if o.BorderWidth > 0 {
		b.Op("B")
	} else {
		b.Fill()
	}
	b.Restore()
	return nil
}

// PathOptions places SVG path data. The path is drawn in a system whose
// origin is (X, Y) and whose y axis points down, scaled by Scale.
type PathOptions struct {
	X, Y        float64
	Scale       float64
	BorderWidth float64
	BorderColor RGB
	// Fill, when set, fills the path as well as stroking it.
	Fill *RGB
}

// DrawSVGPath strokes the SVG path data d. Nothing is drawn when d does
// not parse.
func (p *Page) DrawSVGPath(d string, o PathOptions) error {
	path, err := contentstream.ParseSVGPath(d)
	if err != nil {
		return err
	}
	s := o.Scale
	if s == 0 {
		s = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b := &p.content
	b.Save().
		Concat(coords.Matrix{s, 0, 0, -s, o.X, o.Y}).
		SetStrokeRGB(o.BorderColor.R, o.BorderColor.G, o.BorderColor.B).
		SetLineWidth(o.BorderWidth)
	if o.Fill != nil {
		b.SetFillRGB(o.Fill.R, o.Fill.G, o.Fill.B)
	}
	b.AppendPath(path)
	if o.Fill != nil {
		b.Op("B")
	} else {
		b.Stroke()
	}
	b.Restore()
	p.dirty = true
	return nil
}

func (p *Page) PushGraphicsState() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.depth++
	p.opLocked("q")
}

func (p *Page) PopGraphicsState() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.depth == 0 {
		return ErrUnbalanced
	}
	p.depth--
	p.opLocked("Q")
	return nil
}

func (p *Page) SetLineCap(c contentstream.LineCap) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content.SetLineCap(c)
	p.dirty = true
}

func (p *Page) SetLineJoin(j contentstream.LineJoin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content.SetLineJoin(j)
	p.dirty = true
}

// AppendOperations adds raw operations, for callers that build their own
// content such as text.
func (p *Page) AppendOperations(ops ...contentstream.Operation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, op := range ops {
		p.opLocked(op.Operator, op.Operands...)
	}
}

// Operations returns a copy of the operations drawn so far.
func (p *Page) Operations() []contentstream.Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := p.content.Operations()
	out := make([]contentstream.Operation, len(ops))
	copy(out, ops)
	return out
}

// Resources returns a copy of the page's current resource dictionary.
func (p *Page) Resources() (*raw.DictObj, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, err := p.resourcesLocked()
	if err != nil {
		return nil, err
	}
	return raw.Clone(res).(*raw.DictObj), nil
}

// EmbedRasterImage embeds an image into the page's document.
func (p *Page) EmbedRasterImage(data []byte, kind ImageKind) (*Image, error) {
	return p.doc.EmbedRasterImage(data, kind)
}

// EmbedSubDocumentPage copies src, usually a page of another document, into
// this page's document as a form XObject.
func (p *Page) EmbedSubDocumentPage(ctx context.Context, src *Page) (*EmbeddedPage, error) {
	return p.doc.EmbedPage(ctx, src)
}

// originalContents returns the /Contents entries of the loaded page.
func (p *Page) originalContents() []raw.Object {
	obj, ok := p.dict.Get("Contents")
	if !ok {
		return nil
	}
	switch v := obj.(type) {
	case raw.RefObj:
		if arr, ok := raw.ResolveArray(p.doc, v); ok {
			return append([]raw.Object(nil), arr.Items...)
		}
		return []raw.Object{v}
	case *raw.ArrayObj:
		return append([]raw.Object(nil), v.Items...)
	case *raw.StreamObj:
		return []raw.Object{v}
	}
	return nil
}

// appendedContentLocked is the content added this session, positioned for
// the media box origin.
func (p *Page) appendedContentLocked() []byte {
	var out []byte
	if p.box[0] != 0 || p.box[1] != 0 {
		var b contentstream.Builder
		b.Concat(coords.Translate(p.box[0], p.box[1]))
		out = b.Bytes()
	}
	return append(out, p.content.Bytes()...)
}

// renderedContent is the page's full decoded content including operations
// not yet saved, as it would render.
func (p *Page) renderedContent(ctx context.Context) ([]byte, error) {
	var existing []byte
	for _, item := range p.originalContents() {
		s, ok := item.(*raw.StreamObj)
		if !ok {
			obj, err := p.doc.Resolve(item)
			if err != nil {
				return nil, err
			}
			if s, ok = obj.(*raw.StreamObj); !ok {
				continue
			}
		}
		data, err := p.doc.decodeStream(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("page %s contents: %w", p.ref, err)
		}
		existing = append(existing, data...)
		existing = append(existing, '\n')
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.content.Operations()) == 0 {
		return existing, nil
	}
	if len(existing) == 0 {
		return p.appendedContentLocked(), nil
	}
	out := append([]byte("q\n"), existing...)
	out = append(out, "Q\n"...)
	return append(out, p.appendedContentLocked()...), nil
}

// Content parses the page's content as it would render, including
// operations not yet saved.
func (p *Page) Content(ctx context.Context) ([]contentstream.Operation, error) {
	data, err := p.renderedContent(ctx)
	if err != nil {
		return nil, err
	}
	return contentstream.Parse(data)
}
