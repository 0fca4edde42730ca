// Package engine wires the notification center, the main dispatch queue and
// the HTTP surface together and owns their start and shutdown order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nkkko/supports/internal/api"
	"github.com/nkkko/supports/internal/center"
	"github.com/nkkko/supports/internal/config"
	"github.com/nkkko/supports/internal/logging"
	"github.com/nkkko/supports/internal/queue"
	"github.com/nkkko/supports/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds the shutdown Start performs when its context ends
const ShutdownTimeout = 10 * time.Second

// Engine is the main coordinator of all supports components
type Engine struct {
	config       *config.Config
	center       *center.Center
	queue        *queue.Queue
	api          *api.API
	logger       zerolog.Logger
	telemetryFn  func(context.Context) error
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an engine with every component built from cfg. Nothing runs
// until Start.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c, err := center.New(cfg.ToCenterConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create notification center: %w", err)
	}

	q := queue.New(cfg.ToQueueConfig())

	return &Engine{
		config: cfg,
		center: c,
		queue:  q,
		api:    api.New(cfg.ToAPIConfig(), c, q),
		logger: logging.Component("engine"),
	}, nil
}

// Center returns the notification center, for in-process observers
func (e *Engine) Center() *center.Center {
	return e.center
}

// Queue returns the main dispatch queue
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// API returns the HTTP surface
func (e *Engine) API() *api.API {
	return e.api
}

// Start runs every component until ctx is cancelled or one of them fails,
// then shuts everything down before returning
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info().Str("addr", e.config.Server.Addr).Msg("Starting supports engine")

	telShutdown, err := telemetry.Setup(ctx, e.config.ToTelemetryConfig())
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to set up telemetry, continuing without it")
	} else {
		e.telemetryFn = telShutdown
	}

	g, ctx := errgroup.WithContext(ctx)

	// The queue outlives ctx so Shutdown can drain it
	g.Go(func() error {
		return e.queue.Start(context.WithoutCancel(ctx))
	})

	g.Go(func() error {
		return e.api.Start(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("error running engine: %w", err)
	}

	e.logger.Info().Msg("Supports engine stopped")
	return nil
}

// Shutdown stops components in dependency order: streams and their bags
// first, then the queue is drained, then the center drops what is left.
// Only the first call does any work.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.shutdownErr = e.shutdown(ctx)
	})
	return e.shutdownErr
}

func (e *Engine) shutdown(ctx context.Context) error {
	e.logger.Info().Msg("Shutting down supports engine")

	var errs []error

	if err := e.api.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down API")
		errs = append(errs, err)
	}

	if err := e.queue.Close(); err != nil {
		e.logger.Error().Err(err).Msg("Failed to close dispatch queue")
		errs = append(errs, err)
	}

	if err := e.center.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down notification center")
		errs = append(errs, err)
	}

	if e.telemetryFn != nil {
		if err := e.telemetryFn(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to shut down telemetry")
		}
	}

	return errors.Join(errs...)
}
