// Package scanner finds annotated images once a document is ready and runs
// each through the pipeline in its own goroutine.
package scanner

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/dunamismax/manipulatr/internal/document"
	"github.com/dunamismax/manipulatr/internal/pipeline"
	"github.com/dunamismax/manipulatr/internal/settings"
)

// Runner processes one image. *pipeline.Processor implements it.
type Runner interface {
	Process(ctx context.Context, img pipeline.Image, s settings.Settings) pipeline.Outcome
}

// Document is the part of *document.Document the scanner needs.
type Document interface {
	Ready() <-chan struct{}
	Images(attr string) []*document.Element
}

type Scanner struct {
	runner   Runner
	mode     settings.Mode
	logger   zerolog.Logger
	observer func(pipeline.Outcome)
}

type Option func(*Scanner)

func WithMode(mode settings.Mode) Option {
	return func(s *Scanner) {
		s.mode = mode
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// WithObserver is called once per finished job, from the job's goroutine.
func WithObserver(fn func(pipeline.Outcome)) Option {
	return func(s *Scanner) {
		s.observer = fn
	}
}

func New(runner Runner, opts ...Option) *Scanner {
	s := &Scanner{
		runner: runner,
		mode:   settings.CoerceNested,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report lists outcomes in document order.
type Report struct {
	Outcomes []pipeline.Outcome
	Duration time.Duration
}

func (r Report) Count(state pipeline.State) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

// Bootstrap waits for doc to be ready, then processes every image carrying
// the name attribute concurrently and waits for all of them. If ctx ends
// before the document is ready the report is empty.
func (s *Scanner) Bootstrap(ctx context.Context, doc Document) Report {
	start := time.Now()

	select {
	case <-doc.Ready():
	case <-ctx.Done():
		return Report{Duration: time.Since(start)}
	}

	images := doc.Images(settings.NameAttribute)
	outcomes := make([]pipeline.Outcome, len(images))

	var wg conc.WaitGroup
	for i, el := range images {
		s.logger.Debug().Str("src", el.Source()).Msg("image queued")
		wg.Go(func() {
			cfg := settings.Parse(el.Attributes(), settings.WithMode(s.mode))
			outcomes[i] = s.runner.Process(ctx, el, cfg)
			if s.observer != nil {
				s.observer(outcomes[i])
			}
		})
	}
	wg.Wait()

	report := Report{Outcomes: outcomes, Duration: time.Since(start)}
	s.logger.Info().
		Int("images", len(outcomes)).
		Int("swapped", report.Count(pipeline.Swapped)).
		Int("skipped", report.Count(pipeline.Skipped)).
		Int("failed", report.Count(pipeline.Failed)).
		Dur("duration", report.Duration).
		Msg("document scanned")
	return report
}
