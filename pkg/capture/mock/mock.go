// Package mock provides in-memory mock implementations of the
// [capture.Platform] and [capture.Handle] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	handle := &mock.Handle{}
//	platform := &mock.Platform{OpenResult: handle}
//	stream, _ := rec.Start(ctx, cfg, filter)
//	handle.EmitSample(sample, capture.SampleVideo)
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/mwidmann/capstan/pkg/capture"
)

// ─── Surface ──────────────────────────────────────────────────────────────────

// Surface is a trivial in-memory [capture.Surface] for tests.
type Surface struct {
	// W, H are the pixel dimensions reported by Dimensions.
	W, H int

	// RowStride is the value reported by Stride. Defaults to W*4 when zero.
	RowStride int

	// Data is the pixel payload returned by Pixels.
	Data []byte
}

// Dimensions implements [capture.Surface].
func (s *Surface) Dimensions() (int, int) { return s.W, s.H }

// Stride implements [capture.Surface].
func (s *Surface) Stride() int {
	if s.RowStride == 0 {
		return s.W * 4
	}
	return s.RowStride
}

// Pixels implements [capture.Surface].
func (s *Surface) Pixels() []byte { return s.Data }

// ─── Handle ───────────────────────────────────────────────────────────────────

// Handle is a mock implementation of [capture.Handle].
// Set the exported Error fields before use; inspect the Call* fields after.
// Deliver samples to registered outputs with [Handle.EmitSample] and
// [Handle.EmitTerminalError].
type Handle struct {
	mu sync.Mutex

	// AddOutputError is returned by AddOutput.
	AddOutputError error

	// StartError is returned by Start.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// UpdateConfigurationError is returned by UpdateConfiguration.
	UpdateConfigurationError error

	// UpdateFilterError is returned by UpdateFilter.
	UpdateFilterError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// UpdateConfigurationCalls records the configurations passed to
	// UpdateConfiguration, in order.
	UpdateConfigurationCalls []capture.Configuration

	// UpdateFilterCalls records the filters passed to UpdateFilter, in order.
	UpdateFilterCalls []capture.Filter

	outputs map[capture.SampleKind]capture.Output
}

var _ capture.Handle = (*Handle)(nil)

// AddOutput implements [capture.Handle]. The output is recorded so that
// EmitSample can deliver to it.
func (h *Handle) AddOutput(kind capture.SampleKind, out capture.Output) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.AddOutputError != nil {
		return h.AddOutputError
	}
	if h.outputs == nil {
		h.outputs = make(map[capture.SampleKind]capture.Output)
	}
	if _, dup := h.outputs[kind]; dup {
		return fmt.Errorf("mock: output for %s already registered", kind)
	}
	h.outputs[kind] = out
	return nil
}

// Start implements [capture.Handle]. Returns StartError.
func (h *Handle) Start(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountStart++
	return h.StartError
}

// UpdateConfiguration implements [capture.Handle]. Records the call and
// returns UpdateConfigurationError.
func (h *Handle) UpdateConfiguration(_ context.Context, cfg capture.Configuration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.UpdateConfigurationCalls = append(h.UpdateConfigurationCalls, cfg)
	return h.UpdateConfigurationError
}

// UpdateFilter implements [capture.Handle]. Records the call and returns
// UpdateFilterError.
func (h *Handle) UpdateFilter(_ context.Context, f capture.Filter) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.UpdateFilterCalls = append(h.UpdateFilterCalls, f)
	return h.UpdateFilterError
}

// Stop implements [capture.Handle]. Returns StopError.
func (h *Handle) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountStop++
	return h.StopError
}

// Output returns the output registered for kind, or nil.
func (h *Handle) Output(kind capture.SampleKind) capture.Output {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outputs[kind]
}

// EmitSample delivers s to the output registered for kind, simulating the
// platform's delivery goroutine. It is a no-op when no output is registered.
func (h *Handle) EmitSample(s capture.RawSample, kind capture.SampleKind) {
	if out := h.Output(kind); out != nil {
		out.HandleSample(s, kind)
	}
}

// EmitTerminalError reports err to every registered output, simulating a
// platform failure.
func (h *Handle) EmitTerminalError(err error) {
	h.mu.Lock()
	outs := make([]capture.Output, 0, len(h.outputs))
	seen := map[capture.Output]bool{}
	for _, out := range h.outputs {
		if !seen[out] {
			outs = append(outs, out)
			seen[out] = true
		}
	}
	h.mu.Unlock()
	for _, out := range outs {
		out.HandleTerminalError(err)
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Platform.Open] invocation.
type OpenCall struct {
	// Config is the configuration passed to Open.
	Config capture.Configuration

	// Filter is the filter passed to Open.
	Filter capture.Filter
}

// Platform is a mock implementation of [capture.Platform].
type Platform struct {
	mu sync.Mutex

	// OpenResult is the [capture.Handle] returned by Open. When nil and
	// OpenError is nil, a fresh zero-value [Handle] is returned.
	OpenResult capture.Handle

	// OpenError is the error returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall
}

var _ capture.Platform = (*Platform)(nil)

// Open implements [capture.Platform]. Records the call and returns
// OpenResult / OpenError.
func (p *Platform) Open(_ context.Context, cfg capture.Configuration, f capture.Filter) (capture.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenCalls = append(p.OpenCalls, OpenCall{Config: cfg, Filter: f})
	if p.OpenError != nil {
		return nil, p.OpenError
	}
	if p.OpenResult == nil {
		p.OpenResult = &Handle{}
	}
	return p.OpenResult, nil
}
