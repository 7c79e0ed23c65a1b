// Package capture defines the types and interfaces for connecting to an
// operating-system capture service and receiving its sample streams.
//
// The three primary abstractions are:
//
//   - [Platform] — binds a capture configuration and content filter and
//     returns a [Handle].
//   - [Handle] — represents one open capture pipeline on the OS service,
//     giving callers lifecycle control and per-channel sample delivery.
//   - [Output] — the delivery target the platform invokes once per raw
//     sample, on the platform's own worker goroutines.
//
// Implementations of these interfaces are provided by platform-specific
// adapter packages (e.g. capture/synth for the built-in synthetic source).
// The interfaces are intentionally narrow to keep the recorder decoupled
// from how the OS service is driven.
//
// This package lives under pkg/ because external code (third-party capture
// adapters) is expected to implement [Platform] and [Handle].
package capture

import "context"

// Output receives raw samples from an open capture pipeline.
//
// HandleSample is invoked once per delivered sample from a platform-owned
// goroutine. Video and audio may be delivered from different goroutines and
// interleave arbitrarily, but samples within one channel arrive in capture
// order. Implementations must be safe for up to one concurrent caller per
// channel and must not block the platform's delivery goroutine.
type Output interface {
	// HandleSample delivers one raw sample of the given kind. Any surface
	// referenced by the sample is borrowed for the duration of the call;
	// retaining it afterwards requires an explicit copy.
	HandleSample(s RawSample, kind SampleKind)

	// HandleTerminalError reports that the platform has failed and will
	// deliver no further samples on any channel.
	HandleTerminalError(err error)
}

// Handle represents one open capture pipeline on the OS capture service.
//
// A Handle is obtained from [Platform.Open] and remains valid until
// [Handle.Stop] returns. Implementations must be safe for concurrent use.
type Handle interface {
	// AddOutput registers out as the delivery target for the given channel.
	// Must be called before Start; at most one output per channel.
	AddOutput(kind SampleKind, out Output) error

	// Start begins sample delivery. It blocks until the service has
	// acknowledged that capture is running, or fails.
	Start(ctx context.Context) error

	// UpdateConfiguration atomically swaps the live capture configuration.
	// No sample produced under the old configuration is delivered after
	// UpdateConfiguration returns.
	UpdateConfiguration(ctx context.Context, cfg Configuration) error

	// UpdateFilter atomically swaps the live content filter.
	UpdateFilter(ctx context.Context, f Filter) error

	// Stop ends capture and blocks until the service has acknowledged that
	// delivery has ceased. After Stop returns no further HandleSample calls
	// are made. Stop is safe to call more than once.
	Stop(ctx context.Context) error
}

// Platform is the entry point for an OS capture service adapter.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Open binds cfg and f into a new capture pipeline. The supplied ctx
	// governs the lifetime of the bind attempt only; the returned Handle
	// stays valid until its Stop method is called.
	Open(ctx context.Context, cfg Configuration, f Filter) (Handle, error)
}
