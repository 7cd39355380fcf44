package document

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/wudi/pdfstamp/filters"
	"github.com/wudi/pdfstamp/ir/raw"
)

// maxImagePixels bounds decoded raster size.
const maxImagePixels = 64 << 20

var defaultFilters = filters.Standard(filters.Limits{})

// ImageKind selects how image bytes are embedded.
type ImageKind int

const (
	// ImageJPEG embeds the bytes unchanged behind a DCTDecode filter.
	ImageJPEG ImageKind = iota
	// ImageRaster decodes any supported raster format and stores the
	// pixels, with an alpha soft mask when the image has transparency.
	ImageRaster
)

func (k ImageKind) String() string {
	if k == ImageJPEG {
		return "jpeg"
	}
	return "raster"
}

// Image is an image XObject stored in a document.
type Image struct {
	Ref           raw.ObjectRef
	Width, Height int
}

// EmbedRasterImage stores data as an image XObject.
func (d *Document) EmbedRasterImage(data []byte, kind ImageKind) (*Image, error) {
	var (
		stream *raw.StreamObj
		w, h   int
		err    error
	)
	switch kind {
	case ImageJPEG:
		stream, w, h, err = jpegXObject(data)
	default:
		stream, w, h, err = d.rasterXObject(data)
	}
	if err != nil {
		return nil, fmt.Errorf("embed %s image: %w", kind, err)
	}
	ref := d.Add(stream)
	return &Image{Ref: ref, Width: w, Height: h}, nil
}

func imageDict(w, h int, colorSpace string) *raw.DictObj {
	dict := raw.Dict()
	dict.Set("Type", raw.NameLiteral("XObject"))
	dict.Set("Subtype", raw.NameLiteral("Image"))
	dict.Set("Width", raw.NumberInt(int64(w)))
	dict.Set("Height", raw.NumberInt(int64(h)))
	dict.Set("ColorSpace", raw.NameLiteral(colorSpace))
	dict.Set("BitsPerComponent", raw.NumberInt(8))
	return dict
}

func jpegXObject(data []byte) (*raw.StreamObj, int, int, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, 0, 0, errors.New("empty image")
	}
	cs := "DeviceRGB"
	switch cfg.ColorModel {
	case color.GrayModel:
		cs = "DeviceGray"
	case color.CMYKModel:
		cs = "DeviceCMYK"
	}
	dict := imageDict(cfg.Width, cfg.Height, cs)
	dict.Set("Filter", raw.NameLiteral("DCTDecode"))
	if cs == "DeviceCMYK" {
		// Adobe CMYK JPEGs store inverted components
		dict.Set("Decode", raw.Numbers(1, 0, 1, 0, 1, 0, 1, 0))
	}
	return raw.NewStream(dict, data), cfg.Width, cfg.Height, nil
}

func (d *Document) rasterXObject(data []byte) (*raw.StreamObj, int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, 0, 0, errors.New("empty image")
	}
	if cfg.Width*cfg.Height > maxImagePixels {
		return nil, 0, 0, fmt.Errorf("image of %dx%d pixels is too large", cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, err
	}
	b := img.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(nrgba, nrgba.Bounds(), img, b.Min, xdraw.Src)

	w, h := b.Dx(), b.Dy()
	rgb := make([]byte, 0, w*h*3)
	alpha := make([]byte, 0, w*h)
	opaque := true
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			rgb = append(rgb, px[0], px[1], px[2])
			alpha = append(alpha, px[3])
			if px[3] != 0xff {
				opaque = false
			}
		}
	}

	stream, err := d.flateStream(imageDict(w, h, "DeviceRGB"), rgb)
	if err != nil {
		return nil, 0, 0, err
	}
	if !opaque {
		mask, err := d.flateStream(imageDict(w, h, "DeviceGray"), alpha)
		if err != nil {
			return nil, 0, 0, err
		}
		maskRef := d.Add(mask)
		stream.Dict.Set("SMask", raw.Ref(maskRef.Num, maskRef.Gen))
	}
	return stream, w, h, nil
}

// flateStream builds a stream holding data, compressed unless the document
// was configured without compression.
func (d *Document) flateStream(dict *raw.DictObj, data []byte) (*raw.StreamObj, error) {
	if dict == nil {
		dict = raw.Dict()
	}
	if d.compression == zlib.NoCompression {
		return raw.NewStream(dict, data), nil
	}
	enc, err := filters.FlateEncode(data, d.compression)
	if err != nil {
		return nil, err
	}
	dict.Set("Filter", raw.NameLiteral("FlateDecode"))
	return raw.NewStream(dict, enc), nil
}
