// Package document is the engine the compositor draws through: it loads an
// existing PDF or starts a new one, embeds images and pages from other
// documents, appends drawing operations to pages and saves the result.
//
// Loaded documents are saved as an incremental update, so the original bytes
// are kept verbatim and only new or changed objects are appended.
package document

import (
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pdfstamp/ir/raw"
	"github.com/wudi/pdfstamp/observability"
	"github.com/wudi/pdfstamp/parser"
	"github.com/wudi/pdfstamp/recovery"
)

// ErrNoPages is returned when a document's page tree holds no pages.
var ErrNoPages = errors.New("document has no pages")

// defaultMediaBox is US Letter, used when no /MediaBox is found.
var defaultMediaBox = [4]float64{0, 0, 612, 792}

// Document is a PDF being composed. It is safe for concurrent use: object
// allocation is guarded by the document lock and each Page guards its own
// content and resources.
type Document struct {
	mu      sync.Mutex
	file    *parser.File
	version string
	objects map[int]raw.Object
	gens    map[int]int
	next    int
	root    raw.Object
	info    raw.Object
	id      *raw.ArrayObj
	pages   []*Page
	pagesRef raw.ObjectRef

	log         observability.Logger
	compression int
}

type options struct {
	log         observability.Logger
	recovery    recovery.Strategy
	compression int
}

// Option configures Load and New.
type Option func(*options)

func WithLogger(l observability.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithRecovery replaces the default lenient recovery strategy.
func WithRecovery(s recovery.Strategy) Option {
	return func(o *options) { o.recovery = s }
}

// WithCompression sets the zlib level for new streams. zlib.NoCompression
// stores them unfiltered.
func WithCompression(level int) Option {
	return func(o *options) { o.compression = level }
}

func buildOptions(opts []Option) options {
	o := options{log: observability.NopLogger{}, compression: zlib.DefaultCompression}
	for _, opt := range opts {
		opt(&o)
	}
	if o.recovery == nil {
		o.recovery = recovery.NewLenientStrategy().WithLogger(o.log)
	}
	return o
}

// Load parses data and indexes its pages.
func Load(ctx context.Context, data []byte, opts ...Option) (*Document, error) {
	o := buildOptions(opts)
	f, err := parser.NewDocumentParser(parser.Config{Recovery: o.recovery, Logger: o.log}).Parse(ctx, data)
	if err != nil {
		return nil, err
	}
	d := &Document{
		file:        f,
		version:     f.Version,
		objects:     make(map[int]raw.Object),
		gens:        make(map[int]int),
		next:        f.XRef.Size(),
		log:         o.log,
		compression: o.compression,
	}
	trailer := f.Trailer()
	d.root = trailer.KV["Root"]
	d.info = trailer.KV["Info"]
	if id, ok := trailer.KV["ID"].(*raw.ArrayObj); ok && id.Len() == 2 {
		d.id = id
	}
	if d.next < 1 {
		d.next = 1
	}
	cat, err := f.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	pagesObj, ok := cat.Get("Pages")
	if !ok {
		return nil, errors.New("catalog has no /Pages")
	}
	if err := d.collectPages(ctx, pagesObj, nil, map[raw.ObjectRef]bool{}, 0); err != nil {
		return nil, err
	}
	if len(d.pages) == 0 {
		return nil, ErrNoPages
	}
	if f.XRef.Repaired {
		d.log.Warn("document cross-reference table was rebuilt; saving a full copy")
	}
	d.log.Debug("document loaded",
		observability.Int("pages", len(d.pages)),
		observability.String("version", d.version),
		observability.Bool("xref_stream", f.XRef.Stream))
	return d, nil
}

const maxPageTreeDepth = 64

// inherited carries the inheritable page attributes down the tree.
type inherited struct {
	mediaBox  raw.Object
	cropBox   raw.Object
	resources raw.Object
	rotate    raw.Object
}

func (d *Document) collectPages(ctx context.Context, node raw.Object, inh *inherited, seen map[raw.ObjectRef]bool, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth > maxPageTreeDepth {
		return errors.New("page tree too deep")
	}
	ref, ok := node.(raw.RefObj)
	if !ok {
		return errors.New("page tree node is not an indirect object")
	}
	if seen[ref.R] {
		return fmt.Errorf("page tree cycle at %s", ref.R)
	}
	seen[ref.R] = true
	dict, ok := raw.ResolveDict(d, ref)
	if !ok {
		return fmt.Errorf("page tree node %s is not a dictionary", ref.R)
	}
	next := inherited{}
	if inh != nil {
		next = *inh
	}
	for key, dst := range map[string]*raw.Object{"MediaBox": &next.mediaBox, "CropBox": &next.cropBox, "Resources": &next.resources, "Rotate": &next.rotate} {
		if v, ok := dict.Get(key); ok {
			*dst = v
		}
	}

	typ, _ := dict.Name("Type")
	kidsObj, hasKids := dict.Get("Kids")
	if typ == "Pages" || (typ != "Page" && hasKids) {
		kids, ok := raw.ResolveArray(d, kidsObj)
		if !ok {
			return fmt.Errorf("pages node %s has no /Kids array", ref.R)
		}
		for _, kid := range kids.Items {
			if err := d.collectPages(ctx, kid, &next, seen, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	d.pages = append(d.pages, newPage(d, ref.R, dict, next))
	return nil
}

// New starts an empty document.
func New(opts ...Option) *Document {
	o := buildOptions(opts)
	d := &Document{
		version:     "1.7",
		objects:     make(map[int]raw.Object),
		gens:        make(map[int]int),
		next:        1,
		log:         o.log,
		compression: o.compression,
	}
	catRef := d.alloc()
	d.pagesRef = d.alloc()
	cat := raw.Dict()
	cat.Set("Type", raw.NameLiteral("Catalog"))
	cat.Set("Pages", raw.Ref(d.pagesRef.Num, 0))
	d.objects[catRef.Num] = cat
	pages := raw.Dict()
	pages.Set("Type", raw.NameLiteral("Pages"))
	pages.Set("Kids", raw.NewArray())
	pages.Set("Count", raw.NumberInt(0))
	d.objects[d.pagesRef.Num] = pages
	d.root = raw.Ref(catRef.Num, 0)
	return d
}

// AddPage appends a blank page of the given size. Only documents created
// with New can grow.
func (d *Document) AddPage(width, height float64) (*Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		return nil, errors.New("pages can only be added to new documents")
	}
	ref := d.allocLocked()
	dict := raw.Dict()
	dict.Set("Type", raw.NameLiteral("Page"))
	dict.Set("Parent", raw.Ref(d.pagesRef.Num, 0))
	dict.Set("MediaBox", raw.Numbers(0, 0, width, height))
	dict.Set("Resources", raw.Dict())
	d.objects[ref.Num] = dict

	pages := d.objects[d.pagesRef.Num].(*raw.DictObj)
	kids := pages.KV["Kids"].(*raw.ArrayObj)
	kids.Append(raw.Ref(ref.Num, 0))
	pages.Set("Count", raw.NumberInt(int64(kids.Len())))

	p := newPage(d, ref, dict, inherited{mediaBox: dict.KV["MediaBox"]})
	d.pages = append(d.pages, p)
	return p, nil
}

// Pages returns the pages in document order.
func (d *Document) Pages() []*Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Page, len(d.pages))
	copy(out, d.pages)
	return out
}

// Version is the PDF header version.
func (d *Document) Version() string { return d.version }

// Resolve follows references, preferring objects changed in this session.
func (d *Document) Resolve(obj raw.Object) (raw.Object, error) {
	for i := 0; ; i++ {
		ref, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		if i > 32 {
			return nil, fmt.Errorf("reference %s: chain too deep", ref.R)
		}
		d.mu.Lock()
		local, ok := d.objects[ref.R.Num]
		d.mu.Unlock()
		switch {
		case ok:
			obj = local
		case d.file != nil:
			next, err := d.file.Load(context.Background(), ref.R)
			if err != nil {
				return nil, err
			}
			obj = next
		default:
			return raw.NullObj{}, nil
		}
	}
}

// decodeStream returns the decoded payload of s.
func (d *Document) decodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	if d.file != nil {
		return d.file.DecodeStream(ctx, s)
	}
	return defaultFilters.DecodeStream(ctx, d, s)
}

// Add stores obj as a new indirect object and returns its reference.
func (d *Document) Add(obj raw.Object) raw.ObjectRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref := d.allocLocked()
	d.objects[ref.Num] = obj
	return ref
}

func (d *Document) alloc() raw.ObjectRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocLocked()
}

func (d *Document) allocLocked() raw.ObjectRef {
	ref := raw.ObjectRef{Num: d.next}
	d.next++
	return ref
}

// set stores or replaces an indirect object.
func (d *Document) set(ref raw.ObjectRef, obj raw.Object) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[ref.Num] = obj
	d.gens[ref.Num] = ref.Gen
}
