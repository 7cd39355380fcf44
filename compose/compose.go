// Package compose draws annotations onto the pages of an existing PDF.
//
// Every annotation on a page is resolved concurrently (images read and
// embedded, text typeset onto its own page and embedded) and the results are
// then drawn strictly in descriptor order. Pages are composed concurrently.
// Image and overlay failures degrade to a missing annotation by default;
// text and drawing failures abort the save.
package compose

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wudi/pdfstamp/annotation"
	"github.com/wudi/pdfstamp/delivery"
	"github.com/wudi/pdfstamp/document"
	"github.com/wudi/pdfstamp/fonts"
	"github.com/wudi/pdfstamp/layout"
	"github.com/wudi/pdfstamp/observability"
	"github.com/wudi/pdfstamp/source"
)

// Compositor composes annotation sets onto documents. It is safe for
// concurrent use.
type Compositor struct {
	files   source.Reader
	fonts   fonts.Provider
	layout  *layout.Engine
	log     observability.Logger
	tracer  observability.Tracer
	policy  DegradePolicy
	limit   int
	docOpts []document.Option
}

type Option func(*Compositor)

func WithLogger(log observability.Logger) Option {
	return func(c *Compositor) {
		if log != nil {
			c.log = log
		}
	}
}

func WithTracer(t observability.Tracer) Option {
	return func(c *Compositor) {
		if t != nil {
			c.tracer = t
		}
	}
}

func WithDegradePolicy(p DegradePolicy) Option {
	return func(c *Compositor) { c.policy = p }
}

// WithConcurrency caps the number of annotations resolved at once across
// all pages of a save. n <= 0 restores the default.
func WithConcurrency(n int) Option {
	return func(c *Compositor) { c.limit = n }
}

// WithLayout replaces the engine text blocks are typeset with.
func WithLayout(e *layout.Engine) Option {
	return func(c *Compositor) {
		if e != nil {
			c.layout = e
		}
	}
}

// WithDocumentOptions sets the options documents are loaded with.
func WithDocumentOptions(opts ...document.Option) Option {
	return func(c *Compositor) { c.docOpts = append(c.docOpts, opts...) }
}

func New(files source.Reader, provider fonts.Provider, opts ...Option) *Compositor {
	c := &Compositor{
		files:  files,
		fonts:  provider,
		log:    observability.NopLogger{},
		tracer: observability.NopTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.files == nil {
		c.files = source.Mux{}
	}
	if c.fonts == nil {
		c.fonts = fonts.NewLibrary(nil, fonts.WithLogger(c.log))
	}
	if c.layout == nil {
		c.layout = layout.NewEngine(layout.WithLogger(c.log))
	}
	return c
}

func (c *Compositor) newLimiter() *semaphore.Weighted {
	n := c.limit
	if n <= 0 {
		n = 4 * runtime.GOMAXPROCS(0)
	}
	return semaphore.NewWeighted(int64(n))
}

// Report summarizes a save.
type Report struct {
	Pages    []*PageReport
	Bytes    int
	Duration time.Duration
}

func (r *Report) Applied() int {
	n := 0
	for _, p := range r.Pages {
		if p != nil {
			n += p.Applied
		}
	}
	return n
}

func (r *Report) Degraded() int {
	n := 0
	for _, p := range r.Pages {
		if p != nil {
			n += p.Degraded
		}
	}
	return n
}

// Failures lists the degraded annotations of every page.
func (r *Report) Failures() []*AnnotationError {
	var out []*AnnotationError
	for _, p := range r.Pages {
		if p != nil {
			out = append(out, p.Failures...)
		}
	}
	return out
}

// Compose loads data and draws set onto it. Page i receives set[i]; pages
// past the end of set are left alone. Annotations for pages the document
// does not have are an error.
func (c *Compositor) Compose(ctx context.Context, data []byte, set annotation.PageSet) (*document.Document, *Report, error) {
	rep := &Report{}
	if err := set.Validate(); err != nil {
		return nil, rep, err
	}

	lctx, span := c.tracer.StartSpan(ctx, observability.SpanLoad)
	doc, err := document.Load(lctx, data, append([]document.Option{document.WithLogger(c.log)}, c.docOpts...)...)
	if err != nil {
		span.SetError(err)
		span.Finish()
		return nil, rep, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	pages := doc.Pages()
	span.SetTag(observability.MetricPageCount, len(pages))
	span.Finish()

	for i := len(pages); i < len(set); i++ {
		if len(set[i]) > 0 {
			return nil, rep, fmt.Errorf("%w: annotations for page %d, document has %d pages",
				annotation.ErrInvalid, i, len(pages))
		}
	}

	rep.Pages = make([]*PageReport, len(pages))
	limiter := c.newLimiter()
	g, gctx := errgroup.WithContext(ctx)
	for i, page := range pages {
		descs := set.Page(i)
		g.Go(func() error {
			pr, err := c.composePage(gctx, page, i, descs, limiter)
			rep.Pages[i] = pr
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, rep, err
	}
	return doc, rep, nil
}

// Save composes set onto the document in data, serializes the result and
// delivers it to sink as name. Nothing is delivered when composition or
// serialization fails.
func (c *Compositor) Save(ctx context.Context, data []byte, set annotation.PageSet, name string, sink delivery.Sink) (rep *Report, err error) {
	start := time.Now()
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanStamp)
	span.SetTag("name", name)
	defer func() {
		if rep != nil {
			rep.Duration = time.Since(start)
			span.SetTag(observability.MetricAppliedCount, rep.Applied())
			span.SetTag(observability.MetricDegradedCount, rep.Degraded())
		}
		if err != nil {
			span.SetError(err)
			c.log.Error("save failed", observability.String("name", name), observability.Error("error", err))
		}
		span.Finish()
	}()

	doc, rep, err := c.Compose(ctx, data, set)
	if err != nil {
		return rep, err
	}

	sctx, sspan := c.tracer.StartSpan(ctx, observability.SpanSerialize)
	out, err := doc.Serialize(sctx)
	if err != nil {
		sspan.SetError(err)
		sspan.Finish()
		return rep, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	sspan.SetTag("bytes", len(out))
	sspan.Finish()
	rep.Bytes = len(out)

	dctx, dspan := c.tracer.StartSpan(ctx, observability.SpanDeliver)
	defer dspan.Finish()
	if err := sink.Deliver(dctx, out, name, delivery.ContentTypePDF); err != nil {
		dspan.SetError(err)
		return rep, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	c.log.Info("document saved",
		observability.String("name", name),
		observability.Int("pages", len(rep.Pages)),
		observability.Int("applied", rep.Applied()),
		observability.Int("degraded", rep.Degraded()),
		observability.Int("bytes", len(out)))
	return rep, nil
}
