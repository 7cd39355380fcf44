package compose

import (
	"errors"

	"github.com/wudi/pdfstamp/annotation"
	"github.com/wudi/pdfstamp/contentstream"
	"github.com/wudi/pdfstamp/coords"
	"github.com/wudi/pdfstamp/document"
)

// DrawAction paints one resolved annotation. It runs once, after every
// annotation on its page has resolved.
type DrawAction func() error

func noop() error { return nil }

const (
	strokeWidth = 5
	pixelSize   = 10
)

var (
	tileColor   = document.RGB{R: 0.9, G: 0.9, B: 0.9}
	veilColor   = document.RGB{R: 0.95, G: 0.95, B: 0.95}
	tileOpacity = 0.7
	veilOpacity = 0.3
)

// compile binds d and its resource to s. pageHeight is the height the
// editor coordinates are flipped against.
func compile(s Surface, pageHeight float64, d annotation.Descriptor, r Resource) DrawAction {
	switch d := d.(type) {
	case annotation.Image:
		if r.Image == nil {
			return noop
		}
		box := coords.MapBox(pageHeight, d.X, d.Y, d.Width, d.Height)
		return func() error {
			return s.DrawImage(r.Image, document.ImageOptions{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height})
		}
	case annotation.Text:
		if r.Page == nil {
			return noop
		}
		box := coords.MapBox(pageHeight, d.X, d.Y, d.Width, d.Height())
		return func() error {
			return s.DrawSubPage(r.Page, document.ImageOptions{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height})
		}
	case annotation.Drawing:
		return drawStroke(s, pageHeight, d)
	case annotation.Overlay:
		if d.Mode == annotation.Blur {
			return drawBlur(s, s.Width(), pageHeight, d)
		}
		return drawErase(s, pageHeight, d)
	}
	return noop
}

// drawStroke brackets the path in its own graphics state. The closing Q is
// emitted even when the path fails.
func drawStroke(s Surface, pageHeight float64, d annotation.Drawing) DrawAction {
	return func() error {
		s.PushGraphicsState()
		s.SetLineCap(contentstream.LineCapRound)
		s.SetLineJoin(contentstream.LineJoinRound)
		err := s.DrawSVGPath(d.Path, document.PathOptions{
			X:           d.X,
			Y:           coords.FlipY(pageHeight, d.Y, 0),
			Scale:       d.Scale,
			BorderWidth: strokeWidth,
			BorderColor: document.Black,
		})
		return errors.Join(err, s.PopGraphicsState())
	}
}

func drawErase(s Surface, pageHeight float64, d annotation.Overlay) DrawAction {
	box := coords.MapBox(pageHeight, d.X, d.Y, d.Width, d.Height)
	return func() error {
		return s.DrawRectangle(document.RectangleOptions{
			X: box.X, Y: box.Y, Width: box.Width, Height: box.Height,
			Color:   document.White,
			Opacity: 1,
		})
	}
}

// drawBlur covers the box with full-size tiles, then softens them with one
// translucent rectangle over the whole box. Tiles are generated while drawing
// and only those overlapping the page are drawn. Tiles and veil land together
// or not at all.
func drawBlur(s Surface, pageWidth, pageHeight float64, d annotation.Overlay) DrawAction {
	area := coords.Rect{X: d.X, Y: d.Y, Width: d.Width, Height: d.Height}
	limit := coords.Rect{Width: pageWidth, Height: pageHeight}
	box := coords.MapBox(pageHeight, d.X, d.Y, d.Width, d.Height)
	return func() error {
		return s.DrawRectangles(func(yield func(document.RectangleOptions) bool) {
			for t := range coords.Tiles(pageHeight, area, limit, pixelSize) {
				if !yield(document.RectangleOptions{
					X: t.X, Y: t.Y, Width: t.Width, Height: t.Height,
					Color:   tileColor,
					Opacity: tileOpacity,
				}) {
					return
				}
			}
			yield(document.RectangleOptions{
				X: box.X, Y: box.Y, Width: box.Width, Height: box.Height,
				Color:   veilColor,
				Opacity: veilOpacity,
			})
		})
	}
}
