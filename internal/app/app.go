// Package app wires the speakwell subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the scorer and the HTTP
// server, Run serves requests until the context ends, and Shutdown tears
// everything down in order. When a config path is given, New also starts a
// watcher that applies log level and scorer changes without a restart.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/speakwell/internal/api"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/health"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/phoneme"
	"github.com/MrWong99/speakwell/internal/scorer"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes of the scoring service.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	levels   *slog.LevelVar

	configPath    string
	watchInterval time.Duration
	listener      net.Listener

	// Subsystems, initialised in New and torn down in Shutdown.
	api     *api.Server
	srv     *http.Server
	watcher *config.Watcher
	ready   atomic.Bool

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithRegistry sets the pitch tracker registry. Default: [config.NewRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics injects a metrics sink instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the handler
// built on v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levels = v }
}

// WithConfigWatch reloads the config file at path every interval.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithListener serves on ln instead of listening on the configured address.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// BuildScorer creates a scorer for cfg, loading the pronunciation dictionary
// when one is configured.
func BuildScorer(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*scorer.Scorer, error) {
	opts := []scorer.Option{
		scorer.WithConfig(cfg),
		scorer.WithRegistry(reg),
		scorer.WithMetrics(m),
	}
	if path := cfg.Scoring.CMUDictPath; path != "" {
		dict, err := phoneme.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("app: load pronunciation dictionary: %w", err)
		}
		slog.Info("pronunciation dictionary loaded", "path", path, "words", dict.Len())
		opts = append(opts, scorer.WithPhonemes(dict))
	}
	return scorer.New(opts...)
}

// New creates an App. It performs all initialisation synchronously.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	sc, err := BuildScorer(cfg, a.registry, a.metrics)
	if err != nil {
		return nil, err
	}

	a.api = api.New(sc,
		api.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		api.WithMetrics(a.metrics),
		api.WithCheckers(health.Flag("scorer", &a.ready)),
		api.WithPrometheus(cfg.Telemetry.Prometheus),
	)
	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange, config.WithInterval(a.watchInterval))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}

	a.ready.Store(true)
	return a, nil
}

// onConfigChange applies a reloaded config. A scorer that fails to build
// leaves the previous one in place.
func (a *App) onConfigChange(_, cfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.levels != nil {
		a.levels.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if !d.ScorerChanged {
		return
	}
	sc, err := BuildScorer(cfg, a.registry, a.metrics)
	if err != nil {
		slog.Error("config reload: keeping previous scorer", "err", err)
		return
	}
	a.api.SetScorer(sc)
	slog.Info("config reload: scorer replaced",
		"sample_rate", cfg.Scoring.SampleRate,
		"pitch_trackers", cfg.Prosody.PitchTrackers,
	)
}

// Run serves HTTP until ctx is cancelled or the server fails. It returns nil
// after a cancellation; call Shutdown afterwards to drain connections.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.srv.Addr)
		if err != nil {
			return fmt.Errorf("app: listen on %q: %w", a.srv.Addr, err)
		}
	}
	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.Serve(ln)
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown marks the service unready, drains in-flight requests and runs the
// closers. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.ready.Store(false)

		if err := a.srv.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
