// Package engine is the process-wide entry point: it owns the transform
// registry, decides once whether a drawing surface is available, and exposes
// registration, single-image runs and whole-document rendering.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dunamismax/manipulatr/internal/canvas"
	"github.com/dunamismax/manipulatr/internal/document"
	"github.com/dunamismax/manipulatr/internal/pipeline"
	"github.com/dunamismax/manipulatr/internal/registry"
	"github.com/dunamismax/manipulatr/internal/scanner"
	"github.com/dunamismax/manipulatr/internal/settings"
	"github.com/dunamismax/manipulatr/internal/transforms"
)

var ErrCanvasUnavailable = errors.New("canvas is unavailable")

type Config struct {
	CanvasEnabled bool
	JPEGQuality   int
	SettingsMode  settings.Mode
}

type Engine struct {
	capability canvas.Capability
	started    bool
	registry   *registry.Registry
	processor  *pipeline.Processor
	scanner    *scanner.Scanner
	loader     document.Loader
	metrics    *metrics
	logger     zerolog.Logger
}

type Option func(*options)

type options struct {
	logger  zerolog.Logger
	encoder canvas.Encoder
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEncoder bypasses the runtime's encoder. The capability probe still runs
// against it.
func WithEncoder(enc canvas.Encoder) Option {
	return func(o *options) {
		o.encoder = enc
	}
}

// New seeds the registry with the built-in transforms and resolves the
// canvas capability. loader resolves sources for RenderDocument and may be nil
// when only Run is used.
func New(cfg Config, loader document.Loader, opts ...Option) (*Engine, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	reg, err := registry.New(transforms.Builtins())
	if err != nil {
		return nil, fmt.Errorf("seed registry: %w", err)
	}

	e := &Engine{
		registry: reg,
		loader:   loader,
		metrics:  newMetrics(),
		logger:   o.logger,
	}

	enc := e.resolve(cfg, o.encoder)
	e.processor = pipeline.NewProcessor(reg, enc, pipeline.WithLogger(o.logger))
	e.scanner = scanner.New(e.processor,
		scanner.WithMode(cfg.SettingsMode),
		scanner.WithLogger(o.logger),
		scanner.WithObserver(e.metrics.observe),
	)

	e.logger.Info().
		Str("canvas", e.capability.String()).
		Str("runtime", canvas.RuntimeName()).
		Str("settings_mode", cfg.SettingsMode.String()).
		Msg("engine ready")
	return e, nil
}

func (e *Engine) resolve(cfg Config, enc canvas.Encoder) canvas.Encoder {
	if !cfg.CanvasEnabled {
		e.capability = canvas.Unavailable
		return nil
	}

	if enc == nil {
		if err := canvas.Startup(); err != nil {
			e.logger.Warn().Err(err).Msg("canvas runtime failed to start")
			e.capability = canvas.Unavailable
			return nil
		}
		e.started = true
		enc = canvas.NewEncoder(cfg.JPEGQuality)
	}

	e.capability = canvas.Detect(enc)
	if e.capability != canvas.Available {
		e.logger.Warn().Msg("canvas encode probe failed")
		return nil
	}
	return enc
}

// Close releases the canvas runtime.
func (e *Engine) Close() {
	if e.started {
		canvas.Shutdown()
		e.started = false
	}
}

func (e *Engine) Capability() canvas.Capability {
	return e.capability
}

func (e *Engine) available() bool {
	return e.capability == canvas.Available
}

// Register adds a transform. Without a canvas it does nothing and returns nil.
func (e *Engine) Register(name string, t registry.Transform) error {
	if !e.available() {
		return nil
	}
	return e.registry.Register(name, t)
}

// Transforms lists registered names in sorted order.
func (e *Engine) Transforms() []string {
	return e.registry.Names()
}

// Run processes a single image outside any document scan.
func (e *Engine) Run(ctx context.Context, img pipeline.Image, s settings.Settings) pipeline.Outcome {
	if !e.available() {
		return pipeline.Outcome{
			Transform: s.Name(),
			Source:    img.Source(),
			State:     pipeline.Skipped,
			Err:       ErrCanvasUnavailable,
		}
	}

	out := e.processor.Process(ctx, img, s)
	e.metrics.observe(out)
	return out
}

// Bootstrap scans doc and processes every annotated image. The report is
// empty without a canvas.
func (e *Engine) Bootstrap(ctx context.Context, doc *document.Document) scanner.Report {
	e.metrics.documents.WithLabelValues(e.capability.String()).Inc()
	if !e.available() {
		return scanner.Report{}
	}
	return e.scanner.Bootstrap(ctx, doc)
}

// RenderDocument parses r, processes its images with sources resolved against
// base, and writes the result to w.
func (e *Engine) RenderDocument(ctx context.Context, r io.Reader, w io.Writer, base string) (scanner.Report, error) {
	opts := []document.Option{document.WithBase(base)}
	if e.loader != nil {
		opts = append(opts, document.WithLoader(e.loader))
	}

	doc, err := document.Parse(r, opts...)
	if err != nil {
		return scanner.Report{}, err
	}

	report := e.Bootstrap(ctx, doc)
	if err := doc.Render(w); err != nil {
		return report, err
	}
	return report, nil
}

// Metrics gathers the engine's collectors.
func (e *Engine) Metrics() prometheus.Gatherer {
	return e.metrics.registry
}
