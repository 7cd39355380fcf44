package compose

import (
	"context"
	"errors"
	"iter"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wudi/pdfstamp/annotation"
	"github.com/wudi/pdfstamp/contentstream"
	"github.com/wudi/pdfstamp/document"
	"github.com/wudi/pdfstamp/observability"
)

// Surface is the page API annotations are resolved against and drawn on.
// *document.Page implements it.
type Surface interface {
	Width() float64
	Height() float64
	EmbedRasterImage(data []byte, kind document.ImageKind) (*document.Image, error)
	EmbedSubDocumentPage(ctx context.Context, src *document.Page) (*document.EmbeddedPage, error)
	DrawImage(img *document.Image, o document.ImageOptions) error
	DrawSubPage(ep *document.EmbeddedPage, o document.ImageOptions) error
	DrawRectangle(o document.RectangleOptions) error
	DrawRectangles(rs iter.Seq[document.RectangleOptions]) error
	DrawSVGPath(d string, o document.PathOptions) error
	PushGraphicsState()
	PopGraphicsState() error
	SetLineCap(c contentstream.LineCap)
	SetLineJoin(j contentstream.LineJoin)
}

var _ Surface = (*document.Page)(nil)

// PageState is the progress of one page's composition.
type PageState int

const (
	Pending PageState = iota
	Resolving
	Compiling
	Drawing
	Done
	Failed
)

func (s PageState) String() string {
	return [...]string{"pending", "resolving", "compiling", "drawing", "done", "failed"}[s]
}

// PageReport describes what happened to one page's annotations.
type PageReport struct {
	Index    int
	State    PageState
	Applied  int
	Degraded int
	// Skipped counts annotations that draw nothing, such as empty text.
	Skipped  int
	Failures []*AnnotationError
	Duration time.Duration
}

type settled struct {
	action DrawAction
	err    *AnnotationError
	empty  bool
}

// ComposePage resolves every descriptor on page index concurrently, then
// draws them in order. Degradable failures are logged and recorded in the
// report; any other failure is returned and nothing more is drawn.
func (c *Compositor) ComposePage(ctx context.Context, s Surface, index int, descs []annotation.Descriptor) (*PageReport, error) {
	return c.composePage(ctx, s, index, descs, c.newLimiter())
}

func (c *Compositor) composePage(ctx context.Context, s Surface, index int, descs []annotation.Descriptor, limiter *semaphore.Weighted) (rep *PageReport, err error) {
	start := time.Now()
	rep = &PageReport{Index: index, State: Pending}
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanPage)
	span.SetTag("page", index)
	span.SetTag("annotations", len(descs))
	defer func() {
		rep.Duration = time.Since(start)
		if err != nil {
			rep.State = Failed
			span.SetError(err)
		}
		span.SetTag(observability.MetricAppliedCount, rep.Applied)
		span.SetTag(observability.MetricDegradedCount, rep.Degraded)
		span.Finish()
	}()

	log := c.log.With(observability.Int("page", index))
	pageHeight := s.Height()

	rep.State = Resolving
	results := make([]settled, len(descs))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range descs {
		g.Go(func() error {
			if err := limiter.Acquire(gctx, 1); err != nil {
				return err
			}
			res, rerr := c.resolveTraced(gctx, s, index, d)
			limiter.Release(1)

			slot := &results[i]
			if rerr != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				aerr := &AnnotationError{Page: index, Index: i, Kind: d.Kind(), Err: rerr}
				if !c.policy.degrades(d.Kind()) {
					return aerr
				}
				log.Warn("annotation degraded", observability.Int("index", i),
					observability.String("kind", string(d.Kind())), observability.Error("error", rerr))
				slot.err = aerr
				return nil
			}
			if t, ok := d.(annotation.Text); ok && len(t.Lines) == 0 {
				slot.empty = true
			}
			slot.action = compile(s, pageHeight, d, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	rep.State = Compiling
	actions := make([]DrawAction, len(results))
	for i, r := range results {
		switch {
		case r.err != nil:
			rep.Degraded++
			rep.Failures = append(rep.Failures, r.err)
		case r.empty:
			rep.Skipped++
		default:
			actions[i] = r.action
		}
	}

	rep.State = Drawing
	for i, act := range actions {
		if act == nil {
			continue
		}
		if aerr := c.apply(act, index, i, descs[i]); aerr != nil {
			if !c.policy.degrades(descs[i].Kind()) {
				return rep, aerr
			}
			log.Warn("annotation degraded while drawing", observability.Int("index", i),
				observability.String("kind", string(descs[i].Kind())), observability.Error("error", aerr.Err))
			rep.Degraded++
			rep.Failures = append(rep.Failures, aerr)
			continue
		}
		rep.Applied++
	}
	rep.State = Done
	log.Debug("page composed",
		observability.Int("applied", rep.Applied),
		observability.Int("degraded", rep.Degraded))
	return rep, nil
}

func (c *Compositor) resolveTraced(ctx context.Context, s Surface, page int, d annotation.Descriptor) (Resource, error) {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanAnnotation)
	defer span.Finish()
	span.SetTag("page", page)
	span.SetTag("kind", string(d.Kind()))
	res, err := c.resolve(ctx, s, d)
	if err != nil {
		span.SetError(err)
	}
	return res, err
}

// apply runs act, turning a panic in the drawing code into an error.
func (c *Compositor) apply(act DrawAction, page, index int, d annotation.Descriptor) (aerr *AnnotationError) {
	defer func() {
		if r := recover(); r != nil {
			aerr = &AnnotationError{Page: page, Index: index, Kind: d.Kind(),
				Err: categorize(applyCategory(d.Kind()), errors.New(panicMessage(r)))}
		}
	}()
	if err := act(); err != nil {
		return &AnnotationError{Page: page, Index: index, Kind: d.Kind(), Err: categorize(applyCategory(d.Kind()), err)}
	}
	return nil
}

func panicMessage(r interface{}) string {
	if err, ok := r.(error); ok {
		return "panic: " + err.Error()
	}
	if s, ok := r.(string); ok {
		return "panic: " + s
	}
	return "panic while drawing"
}
