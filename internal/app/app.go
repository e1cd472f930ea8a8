// Package app assembles the engine and its collaborators from configuration.
// Both binaries start here.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dunamismax/manipulatr/internal/config"
	"github.com/dunamismax/manipulatr/internal/engine"
	"github.com/dunamismax/manipulatr/internal/logging"
	"github.com/dunamismax/manipulatr/internal/source"
	"github.com/dunamismax/manipulatr/internal/storage"
	"github.com/dunamismax/manipulatr/internal/telemetry"
	"github.com/dunamismax/manipulatr/internal/transforms"
)

type App struct {
	Config  config.Config
	Logger  zerolog.Logger
	Engine  *engine.Engine
	Storage *storage.Client // nil unless storage.enabled

	shutdownTracing telemetry.Shutdown
}

type Option func(*options)

type options struct {
	fileSources     bool
	privateNetworks bool
}

// WithoutFileSources refuses file paths as image sources unless source.root
// confines them.
func WithoutFileSources() Option {
	return func(o *options) {
		o.fileSources = false
	}
}

// WithoutPrivateNetworks refuses http(s) sources that resolve to loopback,
// private or link-local addresses unless source.allow_private_networks is set.
func WithoutPrivateNetworks() Option {
	return func(o *options) {
		o.privateNetworks = false
	}
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{fileSources: true, privateNetworks: true}
	for _, opt := range opts {
		opt(&o)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.SetupTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, shutdownTracing: shutdown}

	var objects source.ObjectOpener
	if cfg.Storage.Enabled {
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			_ = shutdown(ctx)
			return nil, err
		}
		a.Storage = client
		objects = client
	}

	blockPrivate := !o.privateNetworks && !cfg.Source.AllowPrivateNetworks
	loader, err := source.NewLoader(source.Config{
		Root:         cfg.Source.Root,
		MaxBytes:     cfg.Source.MaxBytes,
		HTTPTimeout:  cfg.Source.HTTPTimeout,
		AllowedHosts: cfg.Source.AllowedHosts,
		BlockPrivate: blockPrivate,
	}, objects)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	if !o.fileSources && cfg.Source.Root == "" {
		loader.Disable(source.SchemeFile)
		logger.Info().Msg("file sources disabled; set source.root to allow them")
	}
	if blockPrivate {
		logger.Info().Msg("private network sources refused; set source.allow_private_networks to allow them")
	}

	e, err := engine.New(engine.Config{
		CanvasEnabled: cfg.Canvas.Enabled,
		JPEGQuality:   cfg.Canvas.JPEGQuality,
		SettingsMode:  cfg.Settings.Mode(),
	}, loader, engine.WithLogger(logger))
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	if err := e.Register(transforms.Watermark, transforms.NewWatermark()); err != nil {
		e.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("register watermark: %w", err)
	}
	a.Engine = e
	return a, nil
}

// Close stops the canvas runtime and flushes traces.
func (a *App) Close(ctx context.Context) error {
	a.Engine.Close()
	if a.shutdownTracing == nil {
		return nil
	}
	if err := a.shutdownTracing(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown tracing: %w", err)
	}
	return nil
}
