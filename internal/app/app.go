// Package app wires all polyvox subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the sound bank, creates
// the audio backend and the engine, Run drives the frame loop and serves the
// HTTP surface, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithBackend,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/polyvox/internal/config"
	"github.com/MrWong99/polyvox/internal/engine"
	"github.com/MrWong99/polyvox/internal/health"
	"github.com/MrWong99/polyvox/internal/observe"
	"github.com/MrWong99/polyvox/internal/resilience"
	"github.com/MrWong99/polyvox/internal/soundbank"
	"github.com/MrWong99/polyvox/pkg/audio"
	"github.com/MrWong99/polyvox/pkg/audio/decode"
	"github.com/MrWong99/polyvox/pkg/audio/voice"
)

// shutdownGrace bounds how long in-flight HTTP requests may take once Run's
// context is cancelled.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	baseDir  string
	registry *config.Registry
	metrics  *observe.Metrics
	level    *slog.LevelVar
	logger   *slog.Logger

	// Subsystems: initialised in New, torn down in Shutdown.
	bank    *soundbank.Bank
	backend audio.Backend
	engine  *engine.Engine
	handler http.Handler

	lastTick atomic.Int64 // unix nanoseconds of the last finished tick

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend injects a backend instead of creating one from the registry.
// The App does not close injected backends.
func WithBackend(b audio.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithRegistry sets the backend registry. The default is [BuiltinRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics injects metric instruments instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the process.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithBaseDir sets the directory relative bank and sample paths are resolved
// against, normally the directory of the config file.
func WithBaseDir(dir string) Option {
	return func(a *App) { a.baseDir = dir }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Sample files that cannot be measured only
// produce warnings: their events then finish when the backend says so.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, baseDir: "."}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = BuiltinRegistry()
	}

	// ── 1. Sound bank ────────────────────────────────────────────────────
	if err := a.initBank(); err != nil {
		return nil, fmt.Errorf("app: init soundbank: %w", err)
	}

	// ── 2. Backend ───────────────────────────────────────────────────────
	if err := a.initBackend(ctx); err != nil {
		return nil, fmt.Errorf("app: init backend: %w", err)
	}

	// ── 3. Engine ────────────────────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initBank() error {
	bank, err := a.cfg.LoadBank(a.baseDir)
	if err != nil {
		return err
	}
	measured, err := bank.WithLengths(decode.Probe)
	if err != nil {
		a.logger.Warn("some sample lengths are unknown", "err", err)
	}
	a.bank = measured
	a.logger.Info("soundbank loaded", "events", a.bank.Len())
	return nil
}

func (a *App) initBackend(ctx context.Context) error {
	if a.backend == nil {
		logBackends(a.registry, a.cfg.Backend.Name)
		b, err := a.registry.CreateBackend(ctx, a.cfg.Backend)
		if err != nil {
			return err
		}
		a.backend = b
		a.closers = append(a.closers, b.Close)
	}

	if ls, ok := a.backend.(lengthSetter); ok {
		for _, ev := range a.bank.Events() {
			if ev.Length > 0 {
				ls.SetLength(ev.File, ev.Length)
			}
		}
	}
	if pl, ok := a.backend.(preloader); ok {
		files := make([]string, 0, a.bank.Len())
		for _, ev := range a.bank.Events() {
			files = append(files, ev.File)
		}
		// Unreadable samples fail again on play, where they are counted.
		if err := pl.Preload(files...); err != nil {
			a.logger.Warn("sample preload incomplete", "err", err)
		}
	}
	return nil
}

func (a *App) initEngine() error {
	steal, err := voice.ParseStealBehavior(a.cfg.Pool.StealBehavior)
	if err != nil {
		return err
	}
	poolOpts := []voice.Option{
		voice.WithStealBehavior(steal),
		voice.WithCapacity(a.cfg.Pool.InitialCapacity),
	}
	// Zero values mean "use the pool default".
	if n := a.cfg.Pool.MaxRealVoices; n > 0 {
		poolOpts = append(poolOpts, voice.WithMaxRealVoices(n))
	}
	if eps := a.cfg.Pool.PromotionThreshold; eps > 0 {
		poolOpts = append(poolOpts, voice.WithPromotionThreshold(eps))
	}
	a.engine = engine.New(a.bank, a.backend,
		engine.WithPool(poolOpts...),
		engine.WithLogger(a.logger),
		engine.WithMetrics(a.metrics),
		engine.WithBreaker(resilience.Config{
			MaxFailures: a.cfg.Engine.Breaker.MaxFailures,
			Cooldown:    a.cfg.Engine.Breaker.Cooldown,
			HalfOpenMax: a.cfg.Engine.Breaker.HalfOpenMax,
		}),
		engine.WithListener(a.cfg.Listener.Vec3()),
		engine.WithBusVolumes(a.cfg.Buses),
	)
	a.closers = append([]func() error{func() error { a.engine.StopAll(); return nil }}, a.closers...)
	return nil
}

func (a *App) initHTTP() {
	maxAge := 10 * a.tickInterval()
	if maxAge < time.Second {
		maxAge = time.Second
	}
	hh := health.New(
		health.Heartbeat("tick", a.LastTick, maxAge),
		health.Checker{Name: "backend", Check: func(context.Context) error {
			if s := a.engine.Stats().Breaker; s == resilience.StateOpen.String() {
				return errors.New("start breaker open")
			}
			return nil
		}},
	)

	mux := http.NewServeMux()
	hh.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /debug/voices", a.engine.DebugHandler())
	a.registerAPI(mux)

	a.handler = observe.Middleware(a.metrics, a.logger)(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the playback engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the instrumented HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// LastTick returns the time the last frame finished, or the zero time.
func (a *App) LastTick() time.Time {
	ns := a.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (a *App) tickInterval() time.Duration {
	rate := a.cfg.Engine.TickRate
	if rate <= 0 {
		rate = config.DefaultTickRate
	}
	return time.Second / time.Duration(rate)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives the frame loop and serves HTTP until ctx is cancelled. It
// returns context.Canceled (or the underlying cause) on a clean stop, and
// the first failure otherwise.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.tickLoop(ctx) })

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: http server: %w", err)
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		a.logger.Info("http server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)
	}

	a.logger.Info("app running", "tick_rate", a.cfg.Engine.TickRate, "backend", a.cfg.Backend.Name)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// tickLoop advances the engine by the wall time elapsed between frames.
func (a *App) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.tickInterval())
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			a.engine.Tick(ctx, now.Sub(last))
			last = now
			a.lastTick.Store(time.Now().UnixNano())
		}
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new.
// Changes that need a restart are logged and ignored. It matches the
// callback signature of [config.NewWatcher].
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.IsEmpty() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.MaxVoicesChanged {
		a.engine.SetMaxVoices(d.NewMaxVoices)
		a.logger.Info("max voices changed", "max_real_voices", d.NewMaxVoices)
	}
	if d.StealChanged {
		if b, err := voice.ParseStealBehavior(d.NewSteal); err == nil {
			a.engine.SetStealBehavior(b)
			a.logger.Info("steal behavior changed", "steal_behavior", b)
		}
	}
	if d.ListenerChanged {
		a.engine.SetListener(d.NewListener.Vec3())
	}
	for bus, vol := range d.BusChanges {
		a.engine.SetBusVolume(bus, vol)
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops every voice and closes the backend. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
