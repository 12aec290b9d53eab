// Package app wires all kokorotts subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject collaborators via functional options (WithMetrics,
// WithClientFactory, etc.). When an option is not provided, New creates real
// implementations from the config file.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/audiofx"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/config"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/health"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/httpapi"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/observe"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/relay"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/speak"
)

// drainTimeout bounds how long Run waits for in-flight requests once the
// context is cancelled. Streaming relays can hold connections open for the
// length of an announcement, so this is generous.
const drainTimeout = 10 * time.Second

// App owns all subsystem lifetimes for the TTS bridge daemon.
type App struct {
	watcher *config.Watcher
	store   *config.Store
	proc    *audiofx.Processor
	speak   *speak.Service
	server  *http.Server
	handler http.Handler

	metrics  *observe.Metrics
	levelVar *slog.LevelVar
	factory  speak.ClientFactory
	interval time.Duration

	// ready flips once New has wired every subsystem; reload callbacks
	// arriving earlier are skipped and picked up by the next file change.
	ready atomic.Bool

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics set instead of using the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClientFactory injects the factory the speak service builds synthesis
// clients with.
func WithClientFactory(f speak.ClientFactory) Option {
	return func(a *App) { a.factory = f }
}

// WithLevelVar connects the logger's level to config reloads, so editing
// server.log_level takes effect without a restart.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithPollInterval overrides how often the config file is polled for changes.
func WithPollInterval(d time.Duration) Option {
	return func(a *App) { a.interval = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. configPath is the
// YAML file the daemon was started with; it stays under watch so entry edits
// apply without a restart.
//
// New performs all initialisation synchronously: config load, post-processor
// and synthesis client construction, and HTTP surface assembly. The returned
// App is ready for Run.
func New(configPath string, opts ...Option) (*App, error) {
	a := &App{}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Config watcher ────────────────────────────────────────────────
	watchOpts := []config.WatcherOption{}
	if a.interval > 0 {
		watchOpts = append(watchOpts, config.WithInterval(a.interval))
	}
	watcher, err := config.NewWatcher(configPath, a.handleReload, watchOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}
	a.watcher = watcher
	a.closers = append(a.closers, func() error {
		watcher.Stop()
		return nil
	})

	cfg := watcher.Current()
	a.store = config.NewStore(cfg)

	// ── 2. Audio post-processor ──────────────────────────────────────────
	// The ffmpeg binary, thread count and chime directory are fixed for the
	// process lifetime; editing them requires a restart.
	a.proc = audiofx.New(cfg.FFmpeg.Binary, cfg.Chimes.Dir,
		audiofx.WithThreads(cfg.FFmpeg.Threads),
	)

	// ── 3. Speak service ─────────────────────────────────────────────────
	speakOpts := []speak.Option{speak.WithMetrics(a.metrics)}
	if a.factory != nil {
		speakOpts = append(speakOpts, speak.WithClientFactory(a.factory))
	}
	svc, err := speak.NewService(a.store, a.proc, speakOpts...)
	if err != nil {
		watcher.Stop()
		return nil, fmt.Errorf("app: init speak service: %w", err)
	}
	a.speak = svc
	a.closers = append(a.closers, svc.Close)

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	checks := health.New(
		health.FFmpegCheck(a.store),
		health.ChimeDirCheck(a.store),
		health.EntriesCheck(a.store),
	)
	a.handler = httpapi.NewHandler(httpapi.Config{
		Store:   a.store,
		Speak:   svc,
		Relay:   relay.NewHandler(svc, relay.WithMetrics(a.metrics)),
		Health:  http.HandlerFunc(checks.Healthz),
		Ready:   http.HandlerFunc(checks.Readyz),
		Metrics: a.metrics,
	})
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.ready.Store(true)
	return a, nil
}

// Speak returns the speak service, for callers that drive synthesis without
// the HTTP surface.
func (a *App) Speak() *speak.Service { return a.speak }

// Store returns the live configuration store.
func (a *App) Store() *config.Store { return a.store }

// Handler returns the daemon's HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the listener fails.
// On cancellation it drains in-flight requests for up to drainTimeout and
// returns nil; a listener failure is returned as an error.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening",
			"addr", a.server.Addr,
			"entities", len(a.speak.Entities()),
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			return fmt.Errorf("app: drain http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// handleReload is the watcher callback. It publishes the new config and
// reconciles the running entities against it.
func (a *App) handleReload(old, new *config.Config) {
	if !a.ready.Load() {
		return
	}

	diff := config.Diff(old, new)

	if diff.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(diff.NewLogLevel.Level())
		slog.Info("app: log level changed", "level", diff.NewLogLevel)
	}

	a.store.Replace(new)
	a.speak.Reload(old, new)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

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
