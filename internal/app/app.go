// Package app wires all Capstan subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithPlatform, WithSink, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mwidmann/capstan/internal/config"
	"github.com/mwidmann/capstan/internal/health"
	"github.com/mwidmann/capstan/internal/ledger"
	"github.com/mwidmann/capstan/internal/monitor"
	"github.com/mwidmann/capstan/internal/observe"
	"github.com/mwidmann/capstan/internal/recorder"
	"github.com/mwidmann/capstan/internal/sink"
	"github.com/mwidmann/capstan/pkg/capture"
	"github.com/mwidmann/capstan/pkg/capture/synth"
)

// App owns all subsystem lifetimes for the capture daemon.
type App struct {
	// cfg is the live configuration, replaced by ApplyConfig on hot reload.
	cfgMu sync.RWMutex
	cfg   *config.Config

	platform capture.Platform
	snk      sink.Sink
	led      ledger.Ledger
	met      *observe.Metrics
	rec      *recorder.Recorder
	server   *monitor.Server

	// logLevel, when set, is retargeted on hot reload.
	logLevel *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPlatform injects a capture platform instead of creating one from config.
func WithPlatform(p capture.Platform) Option {
	return func(a *App) { a.platform = p }
}

// WithSink injects a recording sink instead of creating a spool sink.
func WithSink(s sink.Sink) Option {
	return func(a *App) { a.snk = s }
}

// WithLedger injects a session ledger instead of creating one from config.
func WithLedger(l ledger.Ledger) Option {
	return func(a *App) { a.led = l }
}

// WithMetrics injects a metrics bundle instead of the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.met = m }
}

// WithLogLevel hands the App the level variable behind the process logger so
// hot reloads of server.log_level take effect.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.met == nil {
		a.met = observe.DefaultMetrics()
	}

	if err := a.initPlatform(); err != nil {
		return nil, fmt.Errorf("app: init platform: %w", err)
	}

	checkers, err := a.initLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: init ledger: %w", err)
	}

	checkers = append(checkers, a.initSink()...)

	a.rec = recorder.New(recorder.Config{
		Platform: a.platform,
		Sink:     a.snk,
		Ledger:   a.led,
		Metrics:  a.met,
	})

	a.server = monitor.New(cfg.Server, monitor.Options{
		Recorder: a.rec,
		Ledger:   a.led,
		Metrics:  a.met,
		Snapshot: a.Config,
		Checkers: checkers,
	})

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initPlatform resolves capture.source to a platform implementation.
func (a *App) initPlatform() error {
	if a.platform != nil {
		return nil
	}
	switch src := a.cfg.Capture.Source; src {
	case "", "synth":
		a.platform = synth.New()
		return nil
	default:
		return fmt.Errorf("unknown capture source %q", src)
	}
}

// initLedger sets up the PostgreSQL ledger when a DSN is configured and
// falls back to the in-memory ledger otherwise. Returns readiness checkers
// for the chosen backend.
func (a *App) initLedger(ctx context.Context) ([]health.Checker, error) {
	if a.led != nil {
		return nil, nil
	}

	dsn := a.cfg.Ledger.PostgresDSN
	if dsn == "" {
		slog.Info("no ledger DSN configured, session records are in-memory only")
		a.led = ledger.NewMemory()
		return nil, nil
	}

	pg, err := ledger.NewPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	a.led = pg
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	return []health.Checker{health.LedgerChecker(pg)}, nil
}

// initSink creates the spool sink if one wasn't injected. Returns readiness
// checkers for the spool directory.
func (a *App) initSink() []health.Checker {
	if a.snk != nil {
		return nil
	}
	recCfg := a.cfg.Recording
	a.snk = sink.NewSpool(sink.SpoolConfig{
		Dir:        recCfg.Dir,
		AudioCodec: sink.AudioCodec(recCfg.AudioCodec),
		Metrics:    a.met,
	})
	if recCfg.Dir == "" {
		return nil
	}
	return []health.Checker{health.SpoolDirChecker(recCfg.Dir)}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the monitor surface and, when capture.auto_start is set, begins
// a capture session immediately. It blocks until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Run(ctx)
	})

	if a.cfg.Capture.AutoStart {
		g.Go(func() error {
			return a.autoStart(ctx)
		})
	}

	return g.Wait()
}

// autoStart begins a session from the boot configuration and drains its
// frame stream. An auto-start failure is logged, not fatal: the daemon stays
// up so the operator can fix the config and start over the API.
func (a *App) autoStart(ctx context.Context) error {
	cfg := a.Config()
	stream, err := a.rec.Start(ctx, cfg.Capture.Configuration(), cfg.Filter.Filter())
	if err != nil {
		slog.Error("auto-start failed", "err", err)
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			// Shutdown stops the session and closes the stream.
			return nil
		case _, ok := <-stream.Frames():
			if !ok {
				if err := stream.Err(); err != nil {
					slog.Error("auto-started session ended with error", "err", err)
				}
				return nil
			}
		}
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// Config returns the live configuration snapshot.
func (a *App) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// Recorder exposes the session lifecycle owner, mainly for tests.
func (a *App) Recorder() *recorder.Recorder {
	return a.rec
}

// ApplyConfig applies a hot-reloaded configuration. Capture and filter
// changes are pushed into the active session when one exists; recording
// changes take effect for the next session; the log level is retargeted
// immediately.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}

	a.cfgMu.Lock()
	a.cfg = new
	a.cfgMu.Unlock()

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	ctx := context.Background()

	if d.CaptureChanged {
		err := a.rec.UpdateConfiguration(ctx, new.Capture.Configuration())
		switch {
		case err == nil:
			slog.Info("capture configuration hot-reloaded")
		case errors.Is(err, recorder.ErrNoSession):
			slog.Debug("capture configuration reloaded with no active session")
		default:
			slog.Warn("capture configuration reload failed", "err", err)
		}
	}

	if d.FilterChanged {
		err := a.rec.UpdateFilter(ctx, new.Filter.Filter())
		switch {
		case err == nil:
			slog.Info("content filter hot-reloaded")
		case errors.Is(err, recorder.ErrNoSession):
			slog.Debug("content filter reloaded with no active session")
		default:
			slog.Warn("content filter reload failed", "err", err)
		}
	}

	if d.RecordingChanged {
		slog.Info("recording settings changed, applies to next session")
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active session (flushing its recording) and tears down
// all subsystems in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop the session first so its recording flushes while the ledger
		// connection is still up.
		if err := a.rec.Stop(ctx); err != nil {
			slog.Warn("session stop during shutdown", "err", err)
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

// ─── Helpers ─────────────────────────────────────────────────────────────────

// slogLevel converts a config.LogLevel to a slog.Level.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
