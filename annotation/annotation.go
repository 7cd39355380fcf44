// Package annotation defines the descriptors an editor authors on top of a
// document's pages. Coordinates are in page units with the origin at the
// page's top-left corner and y growing downwards.
package annotation

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid annotation")

type Kind string

const (
	KindImage   Kind = "image"
	KindText    Kind = "text"
	KindDrawing Kind = "drawing"
	KindErase   Kind = "erase"
	KindBlur    Kind = "blur"
)

// Descriptor is one of Image, Text, Drawing or Overlay.
type Descriptor interface {
	Kind() Kind
	Validate() error
	descriptor()
}

// File is an image payload: inline bytes, or a Locator a source.Reader
// understands (a path, s3://bucket/key or part:name).
type File struct {
	Name    string
	MIME    string
	Data    []byte
	Locator string
}

func (f File) String() string {
	switch {
	case f.Locator != "":
		return f.Locator
	case f.Name != "":
		return f.Name
	}
	return fmt.Sprintf("inline %s (%d bytes)", f.MIME, len(f.Data))
}

type Image struct {
	File          File
	X, Y          float64
	Width, Height float64
}

type Text struct {
	X, Y       float64
	Lines      []string
	LineHeight float64
	Size       float64
	FontFamily string
	Width      float64
}

// Height is Size * LineHeight * len(Lines).
func (t Text) Height() float64 {
	return t.Size * t.LineHeight * float64(len(t.Lines))
}

// Drawing is a freehand stroke. Path is SVG path data in a y-down system
// whose origin is (X, Y).
type Drawing struct {
	X, Y  float64
	Path  string
	Scale float64
}

type OverlayMode int

const (
	Erase OverlayMode = iota
	Blur
)

func (m OverlayMode) String() string {
	if m == Blur {
		return "blur"
	}
	return "erase"
}

type Overlay struct {
	Mode          OverlayMode
	X, Y          float64
	Width, Height float64
}

func (Image) Kind() Kind   { return KindImage }
func (Text) Kind() Kind    { return KindText }
func (Drawing) Kind() Kind { return KindDrawing }

func (o Overlay) Kind() Kind {
	if o.Mode == Blur {
		return KindBlur
	}
	return KindErase
}

func (Image) descriptor()   {}
func (Text) descriptor()    {}
func (Drawing) descriptor() {}
func (Overlay) descriptor() {}

func (a Image) Validate() error {
	if err := checkBox(a.X, a.Y, a.Width, a.Height); err != nil {
		return err
	}
	if len(a.File.Data) == 0 && a.File.Locator == "" {
		return fmt.Errorf("%w: image has neither data nor a locator", ErrInvalid)
	}
	return nil
}

// Validate accepts a text with no lines; it draws nothing.
func (a Text) Validate() error {
	if err := checkBox(a.X, a.Y, a.Width, 0); err != nil {
		return err
	}
	if len(a.Lines) == 0 {
		return nil
	}
	if !(a.Size > 0) || !(a.LineHeight > 0) || !(a.Width > 0) || math.IsInf(a.Size*a.LineHeight, 0) {
		return fmt.Errorf("%w: text needs a positive size, line height and width (got %v, %v, %v)",
			ErrInvalid, a.Size, a.LineHeight, a.Width)
	}
	if a.FontFamily == "" {
		return fmt.Errorf("%w: text has no font family", ErrInvalid)
	}
	return nil
}

func (a Drawing) Validate() error {
	if err := checkBox(a.X, a.Y, 0, 0); err != nil {
		return err
	}
	if !(a.Scale > 0) || math.IsInf(a.Scale, 0) {
		return fmt.Errorf("%w: drawing scale %v", ErrInvalid, a.Scale)
	}
	return nil
}

func (a Overlay) Validate() error {
	if a.Mode != Erase && a.Mode != Blur {
		return fmt.Errorf("%w: overlay mode %d", ErrInvalid, a.Mode)
	}
	return checkBox(a.X, a.Y, a.Width, a.Height)
}

func checkBox(x, y, w, h float64) error {
	for _, v := range []float64{x, y, w, h} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalid)
		}
	}
	if w < 0 || h < 0 {
		return fmt.Errorf("%w: negative size %vx%v", ErrInvalid, w, h)
	}
	return nil
}

// PageSet holds one ordered descriptor list per page. Later descriptors
// draw over earlier ones.
type PageSet [][]Descriptor

// Page returns the descriptors for page i, or nil past the end.
func (s PageSet) Page(i int) []Descriptor {
	if i < 0 || i >= len(s) {
		return nil
	}
	return s[i]
}

// Count returns the number of descriptors over all pages.
func (s PageSet) Count() int {
	n := 0
	for _, page := range s {
		n += len(page)
	}
	return n
}

// Validate checks every descriptor, reporting the first failure with its
// position.
func (s PageSet) Validate() error {
	for i, page := range s {
		for j, d := range page {
			if d == nil {
				return fmt.Errorf("page %d annotation %d: %w: missing", i, j, ErrInvalid)
			}
			if err := d.Validate(); err != nil {
				return fmt.Errorf("page %d annotation %d (%s): %w", i, j, d.Kind(), err)
			}
		}
	}
	return nil
}

// Locators lists the distinct image locators referenced by the set.
func (s PageSet) Locators() []string {
	seen := make(map[string]bool)
	var out []string
	for _, page := range s {
		for _, d := range page {
			img, ok := d.(Image)
			if !ok || img.File.Locator == "" || seen[img.File.Locator] {
				continue
			}
			seen[img.File.Locator] = true
			out = append(out, img.File.Locator)
		}
	}
	return out
}
