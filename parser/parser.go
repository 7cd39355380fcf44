package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfstamp/filters"
	"github.com/wudi/pdfstamp/ir/raw"
	"github.com/wudi/pdfstamp/observability"
	"github.com/wudi/pdfstamp/recovery"
	"github.com/wudi/pdfstamp/xref"
)

// ErrEncrypted is returned for documents protected by an /Encrypt dictionary.
var ErrEncrypted = errors.New("encrypted documents are not supported")

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery    recovery.Strategy
	XRef        xref.Config
	MaxIndirect int
	Limits      filters.Limits
	Logger      observability.Logger
}

// DocumentParser resolves the xref chain and hands out a File for object access.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.MaxIndirect == 0 {
		cfg.MaxIndirect = 32
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	return &DocumentParser{cfg: cfg}
}

// File is a parsed PDF whose objects load lazily from the original bytes.
type File struct {
	Data    []byte
	Version string
	XRef    *xref.Table

	filters *filters.Pipeline
	loader  *objectLoader
}

func (p *DocumentParser) Parse(ctx context.Context, data []byte) (*File, error) {
	pipeline := filters.Standard(p.cfg.Limits)
	xcfg := p.cfg.XRef
	xcfg.Filters = pipeline

	version, ok := xref.ParseHeaderVersion(data)
	if !ok {
		if recovery.Decide(ctx, p.cfg.Recovery, errors.New("missing %PDF header"), recovery.Location{Component: "header"}) == recovery.ActionFail {
			return nil, errors.New("not a PDF: missing %PDF header")
		}
		version = "1.4"
	}

	table, err := xref.Resolve(ctx, data, xcfg)
	if err == nil {
		f := p.newFile(data, version, table, pipeline)
		if _, err = f.Catalog(ctx); err == nil {
			return f.checkEncryption()
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	loc := recovery.Location{Component: "xref"}
	if recovery.Decide(ctx, p.cfg.Recovery, err, loc) == recovery.ActionFail {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	p.cfg.Logger.Warn("rebuilding cross-reference table", observability.Error("cause", err))
	table, rerr := xref.Repair(ctx, data, xcfg)
	if rerr != nil {
		return nil, fmt.Errorf("resolve xref: %v; repair: %w", err, rerr)
	}
	f := p.newFile(data, version, table, pipeline)
	if _, err := f.Catalog(ctx); err != nil {
		return nil, err
	}
	return f.checkEncryption()
}

func (p *DocumentParser) newFile(data []byte, version string, table *xref.Table, pipeline *filters.Pipeline) *File {
	return &File{
		Data:    data,
		Version: version,
		XRef:    table,
		filters: pipeline,
		loader:  newObjectLoader(data, table, pipeline, p.cfg.Recovery, p.cfg.MaxIndirect),
	}
}

func (f *File) checkEncryption() (*File, error) {
	if _, ok := f.XRef.Trailer.Get("Encrypt"); ok {
		return nil, ErrEncrypted
	}
	return f, nil
}

// Trailer returns the merged trailer dictionary.
func (f *File) Trailer() *raw.DictObj { return f.XRef.Trailer }

// Load returns the indirect object for ref.
func (f *File) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	return f.loader.Load(ctx, ref)
}

// Resolve follows references until a direct object is reached.
func (f *File) Resolve(obj raw.Object) (raw.Object, error) {
	for i := 0; ; i++ {
		ref, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		if i > f.loader.maxDepth {
			return nil, fmt.Errorf("reference %s: chain too deep", ref.R)
		}
		next, err := f.loader.Load(context.Background(), ref.R)
		if err != nil {
			return nil, err
		}
		obj = next
	}
}

// Catalog loads the document catalog named by the trailer /Root.
func (f *File) Catalog(ctx context.Context) (*raw.DictObj, error) {
	rootObj, ok := f.XRef.Trailer.Get("Root")
	if !ok {
		return nil, errors.New("trailer has no /Root")
	}
	ref, ok := rootObj.(raw.RefObj)
	if !ok {
		return nil, errors.New("trailer /Root is not a reference")
	}
	obj, err := f.Load(ctx, ref.R)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	cat, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, fmt.Errorf("catalog %s is not a dictionary", ref.R)
	}
	return cat, nil
}

// DecodeStream returns the decoded payload of s.
func (f *File) DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	return f.filters.DecodeStream(ctx, f, s)
}

// Filters exposes the decoding pipeline used by this file.
func (f *File) Filters() *filters.Pipeline { return f.filters }
