// Package recorder owns the capture session lifecycle. A [Recorder] drives
// exactly one session at a time through the platform pipeline: open, attach
// outputs, start delivery, and the best-effort stop chain that flushes the
// sink and appends the session's ledger record.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mwidmann/capstan/internal/ledger"
	"github.com/mwidmann/capstan/internal/observe"
	"github.com/mwidmann/capstan/internal/sink"
	"github.com/mwidmann/capstan/pkg/capture"
)

// ErrSessionActive is returned by Start when a session is already running.
var ErrSessionActive = errors.New("recorder: a session is already active")

// ErrNoSession is returned by operations that require an active session.
var ErrNoSession = errors.New("recorder: no active session")

// State is the lifecycle phase of the recorder.
type State int

const (
	// StateIdle means no session exists.
	StateIdle State = iota

	// StateStarting means a session is being set up.
	StateStarting

	// StateActive means samples are flowing.
	StateActive

	// StateStopping means the stop chain is running.
	StateStopping
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Info holds metadata about the active session.
type Info struct {
	// ID is the session's ledger identifier.
	ID string

	// StartedAt is when the session became active.
	StartedAt time.Time

	// Configuration is the capture geometry currently in effect.
	Configuration capture.Configuration

	// Filter is the content filter currently in effect.
	Filter capture.Filter
}

// Config holds all dependencies for a [Recorder].
type Config struct {
	// Platform opens capture pipelines.
	Platform capture.Platform

	// Sink persists the session's sample flow.
	Sink sink.Sink

	// Ledger records completed sessions. Optional; nil disables the ledger.
	Ledger ledger.Ledger

	// Metrics receives pipeline counters. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// StreamBuffer is the frame stream capacity. Zero selects the default.
	StreamBuffer int
}

// Recorder manages the lifecycle of capture sessions.
// Only one session can be active at a time (enforced by mutex).
// All exported methods are safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	state  State
	info   Info
	handle capture.Handle
	stream *Stream

	// meter outlives individual sessions so level queries between sessions
	// read the decayed floor instead of failing.
	meter *capture.PowerMeter

	platform capture.Platform
	sink     sink.Sink
	ledger   ledger.Ledger
	met      *observe.Metrics
	buffer   int
}

// New creates a Recorder with the given dependencies.
func New(cfg Config) *Recorder {
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Recorder{
		meter:    capture.NewPowerMeter(),
		platform: cfg.Platform,
		sink:     cfg.Sink,
		ledger:   cfg.Ledger,
		met:      met,
		buffer:   cfg.StreamBuffer,
	}
}

// Start begins a new capture session. It opens the platform pipeline, starts
// the sink, attaches the sample router to every requested channel, and
// starts delivery.
//
// Failures before the pipeline exists (open, sink) return a plain error and
// leave the recorder idle. Failures after the pipeline exists (attach,
// delivery start) surface on the returned stream instead: the stream is
// already closed and [Stream.Err] carries the cause. Callers therefore check
// both the returned error and the stream's terminal error.
//
// Returns [ErrSessionActive] if a session is already running.
func (r *Recorder) Start(ctx context.Context, cfg capture.Configuration, filter capture.Filter) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return nil, fmt.Errorf("%w (id=%s)", ErrSessionActive, r.info.ID)
	}
	r.state = StateStarting

	now := time.Now().UTC()
	id := ledger.NewID(filter.Display, now)

	handle, err := r.platform.Open(ctx, cfg, filter)
	if err != nil {
		r.state = StateIdle
		return nil, fmt.Errorf("recorder: open pipeline: %w", err)
	}

	if err := r.sink.Start(id, cfg); err != nil {
		if stopErr := handle.Stop(ctx); stopErr != nil {
			slog.Warn("pipeline stop after sink failure", "session_id", id, "err", stopErr)
		}
		r.state = StateIdle
		return nil, fmt.Errorf("recorder: start sink: %w", err)
	}

	// Cancel and terminal-error teardown go through stopStream so that a
	// late signal from this session, arriving after a newer session has
	// started, cannot tear the newer one down.
	var stream *Stream
	stream = newStream(r.buffer, func() {
		go func() {
			if err := r.stopStream(context.Background(), stream); err != nil {
				slog.Warn("stop after stream cancel", "session_id", id, "err", err)
			}
		}()
	})
	router := &sampleRouter{
		stream: stream,
		sink:   r.sink,
		meter:  r.meter,
		met:    r.met,
		onTerminal: func(err error) {
			slog.Error("pipeline terminal error", "session_id", id, "err", err)
			go func() {
				if stopErr := r.stopStream(context.Background(), stream); stopErr != nil {
					slog.Warn("stop after terminal error", "session_id", id, "err", stopErr)
				}
			}()
		},
	}

	for _, kind := range []capture.SampleKind{capture.SampleVideo, capture.SampleAudio} {
		if !cfg.Channels.Has(kind) {
			continue
		}
		if err := handle.AddOutput(kind, router); err != nil {
			return r.abortStart(ctx, id, handle, fmt.Errorf("recorder: attach %s output: %w", kind, err)), nil
		}
	}

	if err := handle.Start(ctx); err != nil {
		return r.abortStart(ctx, id, handle, fmt.Errorf("recorder: start delivery: %w", err)), nil
	}

	r.state = StateActive
	r.handle = handle
	r.stream = stream
	r.info = Info{
		ID:            id,
		StartedAt:     now,
		Configuration: cfg,
		Filter:        filter,
	}
	r.met.ActiveSessions.Add(ctx, 1)

	slog.Info("session started",
		"session_id", id,
		"display", filter.Display,
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"frame_rate", cfg.FrameRate,
		"channels", channelNames(cfg.Channels),
	)

	return stream, nil
}

// abortStart tears down a half-built pipeline and returns a stream already
// finished with cause. No ledger record is written: the session never
// became active.
func (r *Recorder) abortStart(ctx context.Context, id string, handle capture.Handle, cause error) *Stream {
	if err := handle.Stop(ctx); err != nil {
		slog.Warn("pipeline stop after start failure", "session_id", id, "err", err)
	}
	if _, err := r.sink.Stop(ctx); err != nil {
		slog.Warn("sink stop after start failure", "session_id", id, "err", err)
	}
	r.state = StateIdle
	slog.Error("session start failed", "session_id", id, "err", cause)
	return newFinishedStream(cause)
}

// UpdateConfiguration swaps the capture geometry of the active session
// without restarting it. Returns [ErrNoSession] when idle.
func (r *Recorder) UpdateConfiguration(ctx context.Context, cfg capture.Configuration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateActive {
		return ErrNoSession
	}
	if err := r.handle.UpdateConfiguration(ctx, cfg); err != nil {
		return fmt.Errorf("recorder: update configuration: %w", err)
	}
	r.info.Configuration = cfg
	slog.Info("session configuration updated",
		"session_id", r.info.ID,
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"frame_rate", cfg.FrameRate,
	)
	return nil
}

// UpdateFilter swaps the content filter of the active session without
// restarting it. Returns [ErrNoSession] when idle.
func (r *Recorder) UpdateFilter(ctx context.Context, f capture.Filter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateActive {
		return ErrNoSession
	}
	if err := r.handle.UpdateFilter(ctx, f); err != nil {
		return fmt.Errorf("recorder: update filter: %w", err)
	}
	r.info.Filter = f
	slog.Info("session filter updated",
		"session_id", r.info.ID,
		"display", f.Display,
		"excluded_apps", len(f.ExcludedApps),
	)
	return nil
}

// Update swaps both the capture geometry and the content filter of the
// active session in one call. Application is best-effort: a failure of one
// half does not roll back the other, the session stays active with whichever
// updates succeeded, and the failures come back joined. Returns
// [ErrNoSession] when idle.
func (r *Recorder) Update(ctx context.Context, cfg capture.Configuration, f capture.Filter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateActive {
		return ErrNoSession
	}

	var errs []error
	if err := r.handle.UpdateConfiguration(ctx, cfg); err != nil {
		errs = append(errs, fmt.Errorf("recorder: update configuration: %w", err))
		slog.Warn("configuration update error", "session_id", r.info.ID, "err", err)
	} else {
		r.info.Configuration = cfg
	}
	if err := r.handle.UpdateFilter(ctx, f); err != nil {
		errs = append(errs, fmt.Errorf("recorder: update filter: %w", err))
		slog.Warn("filter update error", "session_id", r.info.ID, "err", err)
	} else {
		r.info.Filter = f
	}

	if len(errs) == 0 {
		slog.Info("session updated",
			"session_id", r.info.ID,
			"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
			"frame_rate", cfg.FrameRate,
			"display", f.Display,
		)
	}
	return errors.Join(errs...)
}

// Stop ends the active session. The stop chain is best-effort and never
// aborts early: delivery stops first, the frame stream terminates so
// consumers are released before any flushing starts, the meter flushes to
// silence, the sink drains, and the ledger record is appended with the time
// the sink finished flushing. Every step runs even when an earlier one
// fails; the joined errors are returned at the end.
//
// Stopping when no session is active is a no-op returning nil.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked(ctx)
}

// stopStream runs the stop chain only while s is still the active session's
// stream. Cancellations and terminal errors belonging to a session that
// already ended arrive here late and must not touch a newer session.
func (r *Recorder) stopStream(ctx context.Context, s *Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != s {
		return nil
	}
	return r.stopLocked(ctx)
}

func (r *Recorder) stopLocked(ctx context.Context) error {
	if r.state != StateActive {
		return nil
	}
	r.state = StateStopping

	id := r.info.ID
	var errs []error

	// Stop delivery before flushing so no sample arrives mid-teardown.
	if err := r.handle.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("recorder: stop pipeline: %w", err))
		slog.Warn("pipeline stop error", "session_id", id, "err", err)
	}

	// Terminate the frame stream as soon as delivery has stopped. A
	// terminal producer error has already finished it; this close is then
	// a no-op and the error stays.
	r.met.StreamFramesDropped.Add(ctx, r.stream.Dropped())
	r.stream.finish(nil)

	r.meter.ProcessSilence()

	location, err := r.sink.Stop(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("recorder: stop sink: %w", err))
		slog.Warn("sink stop error", "session_id", id, "err", err)
	}

	// The session ends when its recording is fully flushed, not when
	// delivery stopped.
	endedAt := time.Now().UTC()

	if r.ledger != nil {
		rec := ledger.Record{
			ID:        id,
			Location:  location,
			StartedAt: r.info.StartedAt,
			EndedAt:   endedAt,
		}
		if err := r.ledger.Append(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("recorder: ledger append: %w", err))
			r.met.LedgerErrors.Add(ctx, 1)
			slog.Warn("ledger append error", "session_id", id, "err", err)
		}
	}

	r.met.ActiveSessions.Add(ctx, -1)

	duration := endedAt.Sub(r.info.StartedAt)
	r.state = StateIdle
	r.handle = nil
	r.stream = nil
	r.info = Info{}

	slog.Info("session stopped",
		"session_id", id,
		"location", location,
		"duration", duration,
	)

	return errors.Join(errs...)
}

// State returns the current lifecycle phase.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Info returns metadata about the active session and whether one exists.
func (r *Recorder) Info() (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info, r.state == StateActive
}

// Levels returns the current audio power measurement. Between sessions it
// reads the decayed silence floor.
func (r *Recorder) Levels() capture.Levels {
	return r.meter.Levels()
}

// channelNames renders a channel set for logging.
func channelNames(s capture.ChannelSet) string {
	switch {
	case s.Has(capture.SampleVideo) && s.Has(capture.SampleAudio):
		return "video+audio"
	case s.Has(capture.SampleVideo):
		return "video"
	case s.Has(capture.SampleAudio):
		return "audio"
	default:
		return "none"
	}
}
