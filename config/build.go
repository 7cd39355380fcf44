package config

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/wudi/pdfstamp/compose"
	"github.com/wudi/pdfstamp/delivery"
	"github.com/wudi/pdfstamp/document"
	"github.com/wudi/pdfstamp/fonts"
	"github.com/wudi/pdfstamp/layout"
	"github.com/wudi/pdfstamp/observability"
	"github.com/wudi/pdfstamp/source"
	"github.com/wudi/pdfstamp/store"
	"github.com/wudi/pdfstamp/store/sqlite"
)

// Runtime holds the long-lived services built from a Config. Fonts and the
// layout engine are shared so font fetches are cached across saves.
type Runtime struct {
	Config *Config
	Log    *logrus.Logger
	Logger observability.Logger
	Store  store.Store
	Sink   delivery.Sink

	fonts  fonts.Provider
	layout *layout.Engine
	images source.Reader
	s3     source.Reader
	policy compose.DegradePolicy
}

// Build validates c and constructs its services.
func (c *Config) Build(ctx context.Context) (*Runtime, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log, err := c.NewLogger()
	if err != nil {
		return nil, err
	}
	policy, err := compose.ParseDegradePolicy(c.DegradePolicy)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		Config: c,
		Log:    log,
		Logger: observability.NewLogrus(log),
		images: source.Dir{Root: c.ImageRoot},
		policy: policy,
	}
	rt.fonts = fonts.NewLibrary(c.Fonts, fonts.WithLogger(rt.Logger))
	rt.layout = layout.NewEngine(layout.WithLogger(rt.Logger))

	if c.ImageS3 {
		s3, err := source.NewS3(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 image reader: %w", err)
		}
		rt.s3 = s3
	}

	switch c.Sink.Type {
	case "s3":
		sink, err := delivery.NewS3(ctx, c.Sink.Bucket, c.Sink.Prefix)
		if err != nil {
			return nil, fmt.Errorf("s3 sink: %w", err)
		}
		rt.Sink = sink
	default:
		rt.Sink = delivery.Dir{Path: c.Sink.Dir}
	}

	switch c.Store.Type {
	case "sqlite":
		st, err := sqlite.Open(ctx, c.Store.DSN)
		if err != nil {
			return nil, err
		}
		rt.Store = st
	default:
		rt.Store = store.NewMemory()
	}
	log.WithFields(logrus.Fields{
		"store":   c.Store.Type,
		"sink":    c.Sink.Type,
		"degrade": policy.String(),
	}).Debug("runtime ready")
	return rt, nil
}

// Compositor returns a compositor reading image files through the configured
// readers plus parts, which serves part: locators and may be nil.
func (rt *Runtime) Compositor(parts source.Reader) *compose.Compositor {
	files := source.Mux{Dir: rt.images, S3: rt.s3, Parts: parts}
	return compose.New(files, rt.fonts,
		compose.WithLogger(rt.Logger),
		compose.WithLayout(rt.layout),
		compose.WithDegradePolicy(rt.policy),
		compose.WithConcurrency(rt.Config.Concurrency),
		compose.WithDocumentOptions(document.WithCompression(rt.Config.Compression)),
	)
}

func (rt *Runtime) Close() error {
	if rt.Store != nil {
		return rt.Store.Close()
	}
	return nil
}
