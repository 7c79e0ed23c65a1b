// Package sink receives the routed sample flow of a capture session and
// persists it. A sink lives for exactly one session: Start opens it,
// WriteVideo/WriteAudio feed it, Stop flushes it and reports where the
// recording landed.
package sink

import (
	"context"

	"github.com/mwidmann/capstan/pkg/capture"
)

// Sink persists the sample flow of one capture session.
//
// Start and Stop bracket the session and are called from the session
// lifecycle goroutine. WriteVideo and WriteAudio are called from the
// platform's delivery goroutines (one per channel) and must not block
// delivery; implementations buffer internally and drop on overflow.
//
// Sample payloads are borrowed from the platform. An implementation that
// persists asynchronously must copy them before returning.
type Sink interface {
	// Start opens the sink for a new session.
	Start(id string, cfg capture.Configuration) error

	// WriteVideo persists one video sample. Must not block.
	WriteVideo(s capture.RawSample)

	// WriteAudio persists one audio sample. Must not block.
	WriteAudio(s capture.RawSample)

	// Stop flushes and closes the sink. It returns the location of the
	// finished recording (empty when nothing was written) and the first
	// write error encountered, if any.
	Stop(ctx context.Context) (location string, err error)
}
