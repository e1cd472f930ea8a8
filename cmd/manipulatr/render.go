package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dunamismax/manipulatr/internal/app"
	"github.com/dunamismax/manipulatr/internal/pipeline"
	"github.com/dunamismax/manipulatr/internal/source"
	"github.com/dunamismax/manipulatr/internal/watch"
)

const htmlContentType = "text/html; charset=utf-8"

var (
	errStorageDisabled = errors.New("s3 output requires storage.enabled")
	errWatchOwnOutput  = errors.New("--watch output must differ from the input")
)

type renderOptions struct {
	input  string
	output string
	base   string
	watch  bool
}

func newRenderCmd(open opener) *cobra.Command {
	var opts renderOptions

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a document with its tagged images transformed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.watch && opts.input == "-" {
				return errors.New("--watch needs a file input")
			}
			if opts.watch && samePath(opts.input, opts.output) {
				return errWatchOwnOutput
			}

			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := a.Close(ctx); err != nil {
					a.Logger.Warn().Err(err).Msg("close")
				}
			}()

			r := &renderer{
				app:    a,
				opts:   opts,
				stdin:  cmd.InOrStdin(),
				stdout: cmd.OutOrStdout(),
			}
			ctx := cmd.Context()
			if err := r.render(ctx); err != nil {
				if !opts.watch {
					return err
				}
				a.Logger.Error().Err(err).Msg("initial render failed")
			}
			if !opts.watch {
				return nil
			}

			w, err := watch.New(opts.input, a.Config.Watch.Debounce, a.Logger)
			if err != nil {
				return err
			}
			return w.Run(ctx, r.render)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.input, "input", "i", "", "HTML document to render, - for stdin")
	flags.StringVarP(&opts.output, "output", "o", "-", "destination file, s3://bucket/key, or - for stdout")
	flags.StringVar(&opts.base, "base", "", "directory or http(s) URL relative image sources resolve against (default: the input's directory)")
	flags.BoolVarP(&opts.watch, "watch", "w", false, "re-render whenever the input changes")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// samePath reports whether output is the file input; writing it would
// retrigger the watcher on every render.
func samePath(input, output string) bool {
	if output == "" || output == "-" || strings.HasPrefix(output, source.SchemeS3+"://") {
		return false
	}
	in, err := filepath.Abs(input)
	if err != nil {
		return false
	}
	out, err := filepath.Abs(output)
	if err != nil {
		return false
	}
	return in == out
}

type renderer struct {
	app    *app.App
	opts   renderOptions
	stdin  io.Reader
	stdout io.Writer
}

func (r *renderer) render(ctx context.Context) error {
	data, err := r.readInput()
	if err != nil {
		return err
	}

	var out bytes.Buffer
	report, err := r.app.Engine.RenderDocument(ctx, bytes.NewReader(data), &out, r.baseFor())
	if err != nil {
		return err
	}
	if err := r.writeOutput(ctx, out.Bytes()); err != nil {
		return err
	}

	r.app.Logger.Info().
		Str("input", r.opts.input).
		Str("output", r.opts.output).
		Int("images", len(report.Outcomes)).
		Int("swapped", report.Count(pipeline.Swapped)).
		Int("skipped", report.Count(pipeline.Skipped)).
		Int("failed", report.Count(pipeline.Failed)).
		Str("size", humanize.Bytes(uint64(out.Len()))).
		Dur("duration", report.Duration).
		Msg("document rendered")
	return nil
}

func (r *renderer) readInput() ([]byte, error) {
	if r.opts.input == "-" {
		data, err := io.ReadAll(r.stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(r.opts.input)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

func (r *renderer) baseFor() string {
	if r.opts.base != "" || r.opts.input == "-" {
		return r.opts.base
	}
	abs, err := filepath.Abs(r.opts.input)
	if err != nil {
		return filepath.Dir(r.opts.input)
	}
	return filepath.Dir(abs)
}

func (r *renderer) writeOutput(ctx context.Context, data []byte) error {
	switch {
	case r.opts.output == "" || r.opts.output == "-":
		_, err := r.stdout.Write(data)
		return err

	case strings.HasPrefix(r.opts.output, source.SchemeS3+"://"):
		if r.app.Storage == nil {
			return errStorageDisabled
		}
		bucket, key, err := source.ParseObjectURL(r.opts.output)
		if err != nil {
			return err
		}
		if err := r.app.Storage.EnsureBucket(ctx, bucket); err != nil {
			return err
		}
		return r.app.Storage.WriteObject(ctx, bucket, key, data, htmlContentType)

	default:
		if err := os.WriteFile(r.opts.output, data, 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		return nil
	}
}
