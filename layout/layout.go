// Package layout typesets blocks of text onto standalone one-page
// documents, which callers then embed into other pages.
package layout

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfstamp/contentstream"
	"github.com/wudi/pdfstamp/document"
	"github.com/wudi/pdfstamp/fonts"
	"github.com/wudi/pdfstamp/ir/raw"
	"github.com/wudi/pdfstamp/observability"
	"github.com/wudi/pdfstamp/resources"
)

// ErrEmptyBlock is returned for blocks that would produce an empty page.
var ErrEmptyBlock = errors.New("text block has no area")

// Engine renders text blocks.
type Engine struct {
	color   document.RGB
	log     observability.Logger
	docOpts []document.Option
}

// Option defines a configuration option for the Engine.
type Option func(*Engine)

// WithColor sets the text fill color. The default is black.
func WithColor(c document.RGB) Option {
	return func(e *Engine) {
		e.color = c
	}
}

func WithLogger(log observability.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithDocumentOptions passes options to the documents the engine creates.
func WithDocumentOptions(opts ...document.Option) Option {
	return func(e *Engine) {
		e.docOpts = append(e.docOpts, opts...)
	}
}

// NewEngine creates a new layout engine with optional configuration.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{color: document.Black, log: observability.NopLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Block is a text block. Lines are drawn as given, without wrapping.
type Block struct {
	Lines      []string
	Size       float64
	LineHeight float64
	Width      float64
	Font       *fonts.Resource
	// DY moves every baseline down, normally the font's correction for
	// Size and LineHeight.
	DY float64
}

// Height is derived from the line count and never stored.
func (b Block) Height() float64 {
	return b.Size * b.LineHeight * float64(len(b.Lines))
}

// RenderText draws b onto a new Width x Height page. Line i's baseline sits
// at Height - DY - i*Size*LineHeight - ascent*Size.
func (e *Engine) RenderText(ctx context.Context, b Block) (*document.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.Font == nil {
		return nil, errors.New("text block has no font")
	}
	if len(b.Lines) == 0 || b.Size <= 0 || b.LineHeight <= 0 || b.Width <= 0 {
		return nil, fmt.Errorf("%w: %d lines, size %v, line height %v, width %v",
			ErrEmptyBlock, len(b.Lines), b.Size, b.LineHeight, b.Width)
	}
	face, err := fonts.NewFace(b.Font)
	if err != nil {
		return nil, err
	}

	shown := make([]contentstream.Operation, len(b.Lines))
	for i, line := range b.Lines {
		if shown[i], err = face.Show(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
	}

	doc := document.New(e.docOpts...)
	page, err := doc.AddPage(b.Width, b.Height())
	if err != nil {
		return nil, err
	}
	ref, err := face.Embed(doc)
	if err != nil {
		return nil, fmt.Errorf("embed font %q: %w", b.Font.Family, err)
	}
	name, err := page.AddResource(resources.CategoryFont, "F", raw.Ref(ref.Num, ref.Gen))
	if err != nil {
		return nil, err
	}

	var cb contentstream.Builder
	cb.Op("BT").
		Op("Tf", raw.NameLiteral(name), raw.Number(b.Size)).
		SetFillRGB(e.color.R, e.color.G, e.color.B)
	height, ascent := b.Height(), face.Ascent()*b.Size
	for i, op := range shown {
		y := height - b.DY - float64(i)*b.Size*b.LineHeight - ascent
		cb.Op("Tm", raw.NumberInt(1), raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(1), raw.NumberInt(0), raw.Number(y))
		cb.Op(op.Operator, op.Operands...)
	}
	cb.Op("ET")
	page.AppendOperations(cb.Operations()...)

	e.log.Debug("text block rendered",
		observability.Int("lines", len(b.Lines)),
		observability.Float("width", b.Width),
		observability.Float("height", height))
	return page, nil
}
