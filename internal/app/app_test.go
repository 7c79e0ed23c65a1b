package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/mwidmann/capstan/internal/config"
	"github.com/mwidmann/capstan/internal/ledger"
	"github.com/mwidmann/capstan/internal/observe"
	"github.com/mwidmann/capstan/internal/recorder"
	sinkmock "github.com/mwidmann/capstan/internal/sink/mock"
	capmock "github.com/mwidmann/capstan/pkg/capture/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Capture: config.CaptureConfig{
			Source:    "synth",
			Width:     640,
			Height:    480,
			FrameRate: 30,
			Channels:  []config.Channel{config.ChannelVideo},
		},
		Filter:    config.FilterConfig{Display: "main"},
		Recording: config.RecordingConfig{Dir: ""},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return met
}

// newTestApp wires an App to mocks so no real spool or database is touched.
func newTestApp(t *testing.T, cfg *config.Config, extra ...Option) (*App, *capmock.Handle, *sinkmock.Sink) {
	t.Helper()

	handle := &capmock.Handle{}
	snk := &sinkmock.Sink{StopLocation: "/var/spool/capstan/test"}

	opts := append([]Option{
		WithPlatform(&capmock.Platform{OpenResult: handle}),
		WithSink(snk),
		WithLedger(ledger.NewMemory()),
		WithMetrics(testMetrics(t)),
	}, extra...)

	a, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, handle, snk
}

func TestNew_UnknownSource(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capture.Source = "x11grab"

	_, err := New(context.Background(), cfg,
		WithSink(&sinkmock.Sink{}),
		WithLedger(ledger.NewMemory()),
		WithMetrics(testMetrics(t)),
	)
	if err == nil {
		t.Fatal("expected error for unknown capture source, got nil")
	}
}

func TestNew_DefaultsToSynthPlatform(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capture.Source = ""

	a, err := New(context.Background(), cfg,
		WithSink(&sinkmock.Sink{}),
		WithLedger(ledger.NewMemory()),
		WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.platform == nil {
		t.Fatal("platform should be populated")
	}
}

func TestApplyConfig_UpdatesActiveSession(t *testing.T) {
	t.Parallel()

	old := testConfig()
	a, handle, _ := newTestApp(t, old)

	stream, err := a.Recorder().Start(context.Background(),
		old.Capture.Configuration(), old.Filter.Filter())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	go func() {
		for range stream.Frames() {
		}
	}()
	t.Cleanup(func() { _ = a.Recorder().Stop(context.Background()) })

	updated := testConfig()
	updated.Capture.Width = 1920
	updated.Capture.Height = 1080
	updated.Filter.Display = "secondary"

	a.ApplyConfig(old, updated)

	if got := len(handle.UpdateConfigurationCalls); got != 1 {
		t.Fatalf("UpdateConfiguration calls = %d, want 1", got)
	}
	if handle.UpdateConfigurationCalls[0].Width != 1920 {
		t.Errorf("pushed width = %d, want 1920", handle.UpdateConfigurationCalls[0].Width)
	}
	if got := len(handle.UpdateFilterCalls); got != 1 {
		t.Fatalf("UpdateFilter calls = %d, want 1", got)
	}
	if handle.UpdateFilterCalls[0].Display != "secondary" {
		t.Errorf("pushed display = %q, want secondary", handle.UpdateFilterCalls[0].Display)
	}
	if a.Config().Capture.Width != 1920 {
		t.Errorf("Config() should return the new snapshot, got width %d", a.Config().Capture.Width)
	}
}

func TestApplyConfig_NoSessionIsFine(t *testing.T) {
	t.Parallel()

	old := testConfig()
	a, handle, _ := newTestApp(t, old)

	updated := testConfig()
	updated.Capture.FrameRate = 60

	a.ApplyConfig(old, updated)

	if got := len(handle.UpdateConfigurationCalls); got != 0 {
		t.Errorf("UpdateConfiguration calls = %d, want 0 when idle", got)
	}
	if a.Config().Capture.FrameRate != 60 {
		t.Error("snapshot should still be swapped when no session is active")
	}
}

func TestApplyConfig_LogLevel(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	lv.Set(slog.LevelInfo)

	old := testConfig()
	a, _, _ := newTestApp(t, old, WithLogLevel(&lv))

	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug

	a.ApplyConfig(old, updated)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
}

func TestApplyConfig_NoChangeIsNoOp(t *testing.T) {
	t.Parallel()

	old := testConfig()
	a, _, _ := newTestApp(t, old)

	before := a.Config()
	a.ApplyConfig(old, testConfig())
	if a.Config() != before {
		t.Error("identical config should not swap the snapshot")
	}
}

func TestRunShutdown_AutoStart(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capture.AutoStart = true
	a, _, snk := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Wait for the auto-started session to come up.
	deadline := time.Now().Add(2 * time.Second)
	for a.Recorder().State() != recorder.StateActive {
		if time.Now().After(deadline) {
			t.Fatal("session did not auto-start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if a.Recorder().State() != recorder.StateIdle {
		t.Errorf("state after shutdown = %v, want idle", a.Recorder().State())
	}
	if snk.CallCountStop == 0 {
		t.Error("sink should have been stopped during shutdown")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestApp(t, testConfig())
	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
