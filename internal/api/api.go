// Package api exposes the notification center over HTTP. Clients post
// notifications, read the last one per name, and stream live notifications
// over WebSocket; each stream connection owns a bag that is cleared when the
// connection ends.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nkkko/supports/internal/center"
	"github.com/nkkko/supports/internal/keyboard"
	"github.com/nkkko/supports/internal/logging"
	"github.com/nkkko/supports/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config contains API configuration
type Config struct {
	// Server address
	Addr string

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Largest accepted request body in bytes
	MaxBodySize int64

	// Allowed CORS origins
	CORSOrigins []string

	// Path the Prometheus handler is mounted on; empty disables it
	MetricsPath string

	// Decoding mode for POST /keyboard/{event}
	KeyboardMode keyboard.Mode

	// Service name used for HTTP spans
	ServiceName string

	Stream StreamConfig
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		MaxBodySize:  1 << 20,
		CORSOrigins:  []string{"*"},
		MetricsPath:  "/metrics",
		KeyboardMode: keyboard.Lenient,
		ServiceName:  "supportsd",
		Stream:       DefaultStreamConfig(),
	}
}

// API handles HTTP endpoints
type API struct {
	config  Config
	center  *center.Center
	streams *Streams
	router  chi.Router
	mu      sync.Mutex
	server  *http.Server
	logger  zerolog.Logger
}

// New creates a new API instance. When queue is non-nil, stream observers
// are delivered through it instead of on the posting goroutine.
func New(config Config, c *center.Center, queue center.Dispatcher) *API {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = defaults.MaxBodySize
	}
	if len(config.CORSOrigins) == 0 {
		config.CORSOrigins = defaults.CORSOrigins
	}
	if config.ServiceName == "" {
		config.ServiceName = defaults.ServiceName
	}

	a := &API{
		config:  config,
		center:  c,
		streams: NewStreams(config.Stream, c, queue),
		logger:  logging.Component("api"),
	}
	a.router = a.routes()
	return a
}

// Handler returns the routed HTTP handler
func (a *API) Handler() http.Handler {
	return a.router
}

// Streams returns the stream hub serving /stream
func (a *API) Streams() *Streams {
	return a.streams
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.HTTPMiddleware(a.config.ServiceName, "/healthz", "/readyz", a.config.MetricsPath))
	r.Use(logging.HTTPMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.config.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id", "Traceparent"},
		MaxAge:         300,
	}))

	// Health checks
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/readyz", a.handleReady)

	if a.config.MetricsPath != "" {
		r.Handle(a.config.MetricsPath, promhttp.Handler())
	}

	// Stream is mounted outside the body limit and timeouts applied below
	r.Get("/stream", a.streams.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestSize(a.config.MaxBodySize))
		r.Use(middleware.Timeout(30 * time.Second))

		r.Post("/notifications/{name}", a.handlePost)
		r.Get("/notifications/{name}/last", a.handleLast)
		r.Get("/observers", a.handleObservers)
		r.Post("/keyboard/{event}", a.handleKeyboard)
		r.Post("/controls/{id}/{event}", a.handleControl)
	})

	return r
}

// Start runs the HTTP server until ctx is cancelled or the listener fails
func (a *API) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, listener)
}

// Serve runs the HTTP server on listener until ctx is cancelled
func (a *API) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:      a.router,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	a.mu.Lock()
	a.server = server
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	a.logger.Info().Str("addr", listener.Addr().String()).Msg("API server started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		a.logger.Error().Err(err).Msg("API server error")
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown closes every stream, clearing its bag, then stops the server.
// Streams are hijacked connections that http.Server.Shutdown does not track.
func (a *API) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down API server")

	a.streams.CloseAll()

	a.mu.Lock()
	server := a.server
	a.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
