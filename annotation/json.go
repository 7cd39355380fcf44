package annotation

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// wireDescriptor is the editor's JSON shape. Fields a kind does not use are
// ignored.
type wireDescriptor struct {
	Type       Kind      `json:"type"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Width      float64   `json:"width"`
	Height     float64   `json:"height"`
	File       *wireFile `json:"file"`
	Lines      []string  `json:"lines"`
	LineHeight float64   `json:"lineHeight"`
	Size       float64   `json:"size"`
	FontFamily string    `json:"fontFamily"`
	Path       string    `json:"path"`
	Scale      *float64  `json:"scale"`
}

type wireFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
	// Data is base64, optionally as a data: URL.
	Data string `json:"data"`
	Src  string `json:"src"`
}

// Decode reads a JSON array of per-page descriptor arrays and validates it.
func Decode(r io.Reader) (PageSet, error) {
	var pages [][]json.RawMessage
	dec := json.NewDecoder(r)
	if err := dec.Decode(&pages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	set := make(PageSet, len(pages))
	for i, page := range pages {
		set[i] = make([]Descriptor, 0, len(page))
		for j, msg := range page {
			d, err := decodeOne(msg)
			if err != nil {
				return nil, fmt.Errorf("page %d annotation %d: %w", i, j, err)
			}
			set[i] = append(set[i], d)
		}
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Parse is Decode over a byte slice.
func Parse(data []byte) (PageSet, error) {
	return Decode(bytes.NewReader(data))
}

func decodeOne(msg json.RawMessage) (Descriptor, error) {
	var w wireDescriptor
	if err := json.Unmarshal(msg, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch w.Type {
	case KindImage:
		if w.File == nil {
			return nil, fmt.Errorf("%w: image without file", ErrInvalid)
		}
		f, err := w.File.file()
		if err != nil {
			return nil, err
		}
		return Image{File: f, X: w.X, Y: w.Y, Width: w.Width, Height: w.Height}, nil
	case KindText:
		return Text{
			X: w.X, Y: w.Y,
			Lines:      w.Lines,
			LineHeight: w.LineHeight,
			Size:       w.Size,
			FontFamily: w.FontFamily,
			Width:      w.Width,
		}, nil
	case KindDrawing:
		scale := 1.0
		if w.Scale != nil {
			scale = *w.Scale
		}
		return Drawing{X: w.X, Y: w.Y, Path: w.Path, Scale: scale}, nil
	case KindErase:
		return Overlay{Mode: Erase, X: w.X, Y: w.Y, Width: w.Width, Height: w.Height}, nil
	case KindBlur:
		return Overlay{Mode: Blur, X: w.X, Y: w.Y, Width: w.Width, Height: w.Height}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalid, w.Type)
}

func (w *wireFile) file() (File, error) {
	f := File{Name: w.Name, MIME: w.Type, Locator: w.Src}
	if w.Data == "" {
		return f, nil
	}
	payload := w.Data
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		meta, body, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return File{}, fmt.Errorf("%w: file data URL is not base64", ErrInvalid)
		}
		if f.MIME == "" {
			f.MIME = strings.TrimSuffix(meta, ";base64")
		}
		payload = body
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return File{}, fmt.Errorf("%w: file data: %v", ErrInvalid, err)
	}
	f.Data = data
	return f, nil
}
