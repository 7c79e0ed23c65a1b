// Package synth implements a synthetic [capture.Platform] that renders a
// moving test pattern and a sine tone instead of driving a real OS capture
// service. It exists so the daemon and its pipeline can run end-to-end on
// any machine, and doubles as a soak source in integration tests.
package synth

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mwidmann/capstan/pkg/capture"
)

// audioChunkMs is the duration of one synthetic audio sample buffer.
const audioChunkMs = 20

// toneHz is the frequency of the generated test tone.
const toneHz = 440.0

// toneAmplitude is the linear amplitude of the tone relative to full scale.
const toneAmplitude = 0.2

// Platform generates synthetic capture pipelines.
type Platform struct{}

var _ capture.Platform = (*Platform)(nil)

// New creates a synthetic capture platform.
func New() *Platform { return &Platform{} }

// Open implements [capture.Platform].
func (p *Platform) Open(_ context.Context, cfg capture.Configuration, f capture.Filter) (capture.Handle, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("synth: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FrameRate <= 0 {
		return nil, fmt.Errorf("synth: invalid frame rate %d", cfg.FrameRate)
	}
	if cfg.Channels.Has(capture.SampleAudio) && (cfg.Audio.SampleRate <= 0 || cfg.Audio.Channels <= 0) {
		return nil, fmt.Errorf("synth: invalid audio format %+v", cfg.Audio)
	}
	return &Handle{cfg: cfg, filter: f, done: make(chan struct{})}, nil
}

// Handle is a synthetic capture pipeline. It delivers video and audio from
// two independent goroutines, mirroring the delivery model of a real OS
// capture service (one concurrent caller per channel).
type Handle struct {
	mu      sync.Mutex
	cfg     capture.Configuration
	filter  capture.Filter
	outputs map[capture.SampleKind]capture.Output
	started bool
	stopped bool

	done chan struct{}
	wg   sync.WaitGroup
}

var _ capture.Handle = (*Handle)(nil)

// AddOutput implements [capture.Handle].
func (h *Handle) AddOutput(kind capture.SampleKind, out capture.Output) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("synth: cannot add output after start")
	}
	if h.outputs == nil {
		h.outputs = make(map[capture.SampleKind]capture.Output)
	}
	if _, dup := h.outputs[kind]; dup {
		return fmt.Errorf("synth: output for %s already registered", kind)
	}
	h.outputs[kind] = out
	return nil
}

// Start implements [capture.Handle]. It spawns one delivery goroutine per
// requested channel with a registered output.
func (h *Handle) Start(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("synth: already started")
	}
	if h.stopped {
		return fmt.Errorf("synth: handle already stopped")
	}
	h.started = true

	if out, ok := h.outputs[capture.SampleVideo]; ok && h.cfg.Channels.Has(capture.SampleVideo) {
		h.wg.Add(1)
		go h.videoLoop(out)
	}
	if out, ok := h.outputs[capture.SampleAudio]; ok && h.cfg.Channels.Has(capture.SampleAudio) {
		h.wg.Add(1)
		go h.audioLoop(out)
	}
	return nil
}

// UpdateConfiguration implements [capture.Handle]. The new geometry takes
// effect on the next generated frame.
func (h *Handle) UpdateConfiguration(_ context.Context, cfg capture.Configuration) error {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FrameRate <= 0 {
		return fmt.Errorf("synth: invalid configuration %dx%d@%d", cfg.Width, cfg.Height, cfg.FrameRate)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
	return nil
}

// UpdateFilter implements [capture.Handle]. The synthetic source has no
// windows to exclude, so the filter is only recorded.
func (h *Handle) UpdateFilter(_ context.Context, f capture.Filter) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.filter = f
	return nil
}

// Stop implements [capture.Handle]. It blocks until both delivery
// goroutines have exited; no sample is delivered after Stop returns.
func (h *Handle) Stop(context.Context) error {
	h.mu.Lock()
	if !h.stopped {
		h.stopped = true
		close(h.done)
	}
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}

// snapshot returns the current configuration under the lock.
func (h *Handle) snapshot() capture.Configuration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

// videoLoop renders test-pattern frames at the configured rate. The surface
// buffer is reused between frames: consumers get exactly the borrowed-buffer
// semantics of a real capture service.
func (h *Handle) videoLoop(out capture.Output) {
	defer h.wg.Done()

	cfg := h.snapshot()
	ticker := time.NewTicker(time.Second / time.Duration(cfg.FrameRate))
	defer ticker.Stop()

	var (
		surf  *surface
		n     int
		start = time.Now()
	)

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if c := h.snapshot(); c.FrameRate != cfg.FrameRate || c.Width != cfg.Width || c.Height != cfg.Height {
				cfg = c
				ticker.Reset(time.Second / time.Duration(cfg.FrameRate))
				surf = nil
			}
			if surf == nil {
				surf = newSurface(cfg.Width, cfg.Height)
			}
			surf.render(n)
			n++

			status := capture.StatusComplete
			scale := 2.0
			factor := 2.0
			rect := capture.Rect{Size: capture.Size{
				Width:  float64(cfg.Width) / scale,
				Height: float64(cfg.Height) / scale,
			}}

			out.HandleSample(capture.RawSample{
				Valid: true,
				PTS:   time.Since(start),
				Video: &capture.VideoSample{
					Surface: surf,
					Attachments: capture.VideoAttachments{
						Status:       &status,
						ContentRect:  &rect,
						ContentScale: &scale,
						ScaleFactor:  &factor,
					},
				},
			}, capture.SampleVideo)
		}
	}
}

// audioLoop generates a continuous sine tone in fixed-duration PCM chunks.
func (h *Handle) audioLoop(out capture.Output) {
	defer h.wg.Done()

	cfg := h.snapshot()
	ticker := time.NewTicker(audioChunkMs * time.Millisecond)
	defer ticker.Stop()

	var (
		phase float64
		start = time.Now()
	)
	step := 2 * math.Pi * toneHz / float64(cfg.Audio.SampleRate)
	frames := cfg.Audio.SampleRate * audioChunkMs / 1000

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			pcm := make([]int16, frames*cfg.Audio.Channels)
			for i := 0; i < frames; i++ {
				s := int16(toneAmplitude * 32767 * math.Sin(phase))
				phase += step
				for c := 0; c < cfg.Audio.Channels; c++ {
					pcm[i*cfg.Audio.Channels+c] = s
				}
			}

			out.HandleSample(capture.RawSample{
				Valid: true,
				PTS:   time.Since(start),
				Audio: &capture.AudioSample{
					PCM:        capture.Int16sToBytes(pcm),
					SampleRate: cfg.Audio.SampleRate,
					Channels:   cfg.Audio.Channels,
				},
			}, capture.SampleAudio)
		}
	}
}

// surface is the reusable synthetic pixel buffer.
type surface struct {
	w, h int
	pix  []byte
}

var _ capture.Surface = (*surface)(nil)

func newSurface(w, h int) *surface {
	return &surface{w: w, h: h, pix: make([]byte, w*h*4)}
}

// Dimensions implements [capture.Surface].
func (s *surface) Dimensions() (int, int) { return s.w, s.h }

// Stride implements [capture.Surface].
func (s *surface) Stride() int { return s.w * 4 }

// Pixels implements [capture.Surface].
func (s *surface) Pixels() []byte { return s.pix }

// render paints frame n of a scrolling gradient so consecutive frames are
// visibly distinct in spooled output.
func (s *surface) render(n int) {
	for y := 0; y < s.h; y++ {
		row := y * s.w * 4
		for x := 0; x < s.w; x++ {
			i := row + x*4
			s.pix[i] = byte(x + n)   // B
			s.pix[i+1] = byte(y + n) // G
			s.pix[i+2] = byte(n)     // R
			s.pix[i+3] = 0xff        // A
		}
	}
}
