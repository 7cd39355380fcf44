package compose

import (
	"context"
	"fmt"
	"net/http"

	"github.com/wudi/pdfstamp/annotation"
	"github.com/wudi/pdfstamp/contentstream"
	"github.com/wudi/pdfstamp/document"
	"github.com/wudi/pdfstamp/layout"
	"github.com/wudi/pdfstamp/observability"
)

// Resource is what resolution produced for one annotation. Drawings and
// overlays need none.
type Resource struct {
	Image *document.Image
	Page  *document.EmbeddedPage
}

// resolve prepares the resource for d on surface s. Errors are wrapped in
// the category for d's kind.
func (c *Compositor) resolve(ctx context.Context, s Surface, d annotation.Descriptor) (Resource, error) {
	var (
		res Resource
		err error
	)
	switch d := d.(type) {
	case annotation.Image:
		res.Image, err = c.resolveImage(ctx, s, d)
	case annotation.Text:
		res.Page, err = c.resolveText(ctx, s, d)
	case annotation.Drawing:
		_, err = contentstream.ParseSVGPath(d.Path)
	case annotation.Overlay:
	default:
		err = fmt.Errorf("unsupported descriptor %T", d)
	}
	if err != nil {
		return Resource{}, categorize(resolutionCategory(d.Kind()), err)
	}
	return res, nil
}

// ImageKind reports how f is embedded: JPEG data passes through, anything
// else is decoded. Files without a MIME type are sniffed.
func ImageKind(f annotation.File, data []byte) document.ImageKind {
	mime := f.MIME
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if mime == "image/jpeg" {
		return document.ImageJPEG
	}
	return document.ImageRaster
}

func (c *Compositor) resolveImage(ctx context.Context, s Surface, d annotation.Image) (*document.Image, error) {
	data, err := c.files.ReadBytes(ctx, d.File)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.File, err)
	}
	kind := ImageKind(d.File, data)
	img, err := s.EmbedRasterImage(data, kind)
	if err != nil {
		return nil, fmt.Errorf("embed %s as %s: %w", d.File, kind, err)
	}
	return img, nil
}

// resolveText typesets d on its own page and embeds that page. A text with
// no lines resolves to nothing.
func (c *Compositor) resolveText(ctx context.Context, s Surface, d annotation.Text) (*document.EmbeddedPage, error) {
	if len(d.Lines) == 0 {
		return nil, nil
	}
	font, err := c.fonts.Fetch(ctx, d.FontFamily)
	if err != nil {
		return nil, fmt.Errorf("font %q: %w", d.FontFamily, err)
	}
	correction := 0.0
	if font.Correction != nil {
		correction = font.Correction(d.Size, d.LineHeight)
	}
	block := layout.Block{
		Lines:      d.Lines,
		Size:       d.Size,
		LineHeight: d.LineHeight,
		Width:      d.Width,
		Font:       font,
		DY:         correction,
	}
	sub, err := c.layout.RenderText(ctx, block)
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	ep, err := s.EmbedSubDocumentPage(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("embed text page: %w", err)
	}
	c.log.Debug("text block embedded",
		observability.String("family", font.Family),
		observability.Int("lines", len(d.Lines)))
	return ep, nil
}
