// Package pipeline applies one named transform to one image: look up the
// transform, wait for the image to load, draw into a scratch canvas, encode
// and swap the result in as the image's new source.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/manipulatr/internal/canvas"
	"github.com/dunamismax/manipulatr/internal/document"
	"github.com/dunamismax/manipulatr/internal/id"
	"github.com/dunamismax/manipulatr/internal/mimeguess"
	"github.com/dunamismax/manipulatr/internal/registry"
	"github.com/dunamismax/manipulatr/internal/settings"
)

// Image is the element a job works on. *document.Element implements it.
type Image interface {
	Source() string
	SetSource(src string)
	Loaded(ctx context.Context) <-chan document.LoadEvent
}

// Transforms resolves names to transforms. *registry.Registry implements it.
type Transforms interface {
	Lookup(name string) (registry.Transform, bool)
}

type Processor struct {
	transforms Transforms
	encoder    canvas.Encoder
	logger     zerolog.Logger
	tracer     trace.Tracer
	newID      func() string
}

type Option func(*Processor)

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithIDs replaces the job id generator.
func WithIDs(next func() string) Option {
	return func(p *Processor) {
		p.newID = next
	}
}

func NewProcessor(transforms Transforms, encoder canvas.Encoder, opts ...Option) *Processor {
	p := &Processor{
		transforms: transforms,
		encoder:    encoder,
		logger:     zerolog.Nop(),
		tracer:     otel.Tracer("manipulatr/pipeline"),
		newID:      id.New,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one job to completion. Failures never escape as errors; they
// are reported in the Outcome and the image keeps its source.
func (p *Processor) Process(ctx context.Context, img Image, s settings.Settings) Outcome {
	start := time.Now()
	out := Outcome{
		JobID:     p.newID(),
		Transform: s.Name(),
		Source:    img.Source(),
		State:     Parsed,
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.process_image", trace.WithAttributes(
		attribute.String("job.id", out.JobID),
		attribute.String("transform", out.Transform),
	))
	defer func() {
		out.Duration = time.Since(start)
		span.SetAttributes(attribute.String("job.state", out.State.String()))
		if out.State == Failed {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
		span.End()
		p.report(out)
	}()

	transform, ok := p.transforms.Lookup(out.Transform)
	if !ok {
		out.State = Skipped
		out.Err = fmt.Errorf("%w: %q", ErrUnknownTransform, out.Transform)
		return out
	}

	surface := canvas.New(p.encoder)
	format, ok := s.Format()
	if !ok {
		format = out.Source
	}
	out.MIME = mimeguess.Guess(format)

	out.State = AwaitingLoad
	ev, ok := <-img.Loaded(ctx)
	if !ok {
		out.State = Failed
		out.Err = ctx.Err()
		if out.Err == nil {
			out.Err = ErrLoadFailure
		}
		return out
	}
	if ev.Err != nil {
		out.State = Failed
		out.Err = fmt.Errorf("%w: %s: %w", ErrLoadFailure, ev.Source, ev.Err)
		return out
	}

	out.State = Transforming
	if err := apply(transform, ev.Image, surface, s.Group(out.Transform)); err != nil {
		out.State = Failed
		out.Err = fmt.Errorf("%w: %s: %w", ErrTransformFailure, out.Transform, err)
		return out
	}

	url, err := surface.ToDataURL(out.MIME)
	if err != nil {
		out.State = Failed
		out.Err = fmt.Errorf("%w: %w", ErrEncodeFailure, err)
		return out
	}

	// The subscription above is spent, so the load of the new source cannot
	// feed back into this job.
	img.SetSource(url)
	out.State = Swapped
	out.Width, out.Height = surface.Width(), surface.Height()
	out.Bytes = len(url)
	return out
}

func apply(t registry.Transform, src image.Image, surface *canvas.Canvas, group settings.Group) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Apply(src, surface, surface.Context(), group)
}

func (p *Processor) report(out Outcome) {
	if out.State == Swapped {
		p.logger.Debug().
			Str("job_id", out.JobID).
			Str("transform", out.Transform).
			Str("mime", out.MIME).
			Int("width", out.Width).
			Int("height", out.Height).
			Dur("duration", out.Duration).
			Msg("image swapped")
		return
	}
	p.logger.Debug().
		Str("job_id", out.JobID).
		Str("transform", out.Transform).
		Str("state", out.State.String()).
		Str("source", out.Source).
		Err(out.Err).
		Msg("image left unchanged")
}
