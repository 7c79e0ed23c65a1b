package sink

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
	"layeh.com/gopus"

	"github.com/mwidmann/capstan/internal/observe"
	"github.com/mwidmann/capstan/pkg/capture"
)

// Audio is spooled as 20 ms Opus frames.
const (
	opusFrameSizeMs = 20
	opusApplication = gopus.Audio
)

// jobQueueDepth bounds the writer queue. Delivery goroutines never block on
// disk; when the queue is full the sample is dropped and counted.
const jobQueueDepth = 256

// AudioCodec selects how the audio channel is spooled.
type AudioCodec string

const (
	// CodecOpus encodes audio into length-prefixed Opus packets.
	CodecOpus AudioCodec = "opus"

	// CodecPCM spools raw interleaved little-endian int16 audio.
	CodecPCM AudioCodec = "pcm"
)

// IsValid reports whether c is a recognised audio codec.
func (c AudioCodec) IsValid() bool {
	return c == CodecOpus || c == CodecPCM
}

// SpoolConfig configures a [SpoolSink].
type SpoolConfig struct {
	// Dir is the root spool directory. Each session gets a subdirectory.
	Dir string

	// AudioCodec selects the audio spool format. Default: [CodecOpus].
	AudioCodec AudioCodec

	// Metrics receives write latency and drop counts. Default:
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// SpoolSink spools a session's samples to a per-session directory:
//
//	<dir>/<session-id>/video.bin      length-prefixed raw frames
//	<dir>/<session-id>/audio.bin      length-prefixed Opus packets or raw PCM
//	<dir>/<session-id>/manifest.yaml  formats and counters
//
// Writes happen on a single writer goroutine fed by a bounded queue, so the
// platform's delivery goroutines are never blocked on disk.
type SpoolSink struct {
	cfg SpoolConfig
	met *observe.Metrics

	mu      sync.Mutex
	open    bool
	id      string
	capCfg  capture.Configuration
	dir     string
	started time.Time

	jobs chan job
	done chan struct{}

	// Writer goroutine state, untouched by other goroutines while running.
	videoFile  *os.File
	audioFile  *os.File
	enc        *gopus.Encoder
	pcmPending []byte
	writeErr   error

	videoSamples int64
	audioPackets int64
	dropped      int64
}

var _ Sink = (*SpoolSink)(nil)

type job struct {
	kind   capture.SampleKind
	pts    time.Duration
	width  int
	height int
	stride int
	pixels []byte
	pcm    []byte
}

// NewSpool creates a spool sink writing under cfg.Dir.
func NewSpool(cfg SpoolConfig) *SpoolSink {
	if cfg.AudioCodec == "" {
		cfg.AudioCodec = CodecOpus
	}
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &SpoolSink{cfg: cfg, met: met}
}

// Start implements [Sink]. It creates the session directory, opens the spool
// files, and launches the writer goroutine.
func (s *SpoolSink) Start(id string, cfg capture.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return fmt.Errorf("spool: sink already open for session %s", s.id)
	}
	if !s.cfg.AudioCodec.IsValid() {
		return fmt.Errorf("spool: unknown audio codec %q", s.cfg.AudioCodec)
	}

	dir := filepath.Join(s.cfg.Dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("spool: create session dir: %w", err)
	}

	var videoFile, audioFile *os.File
	var err error
	if cfg.Channels.Has(capture.SampleVideo) {
		if videoFile, err = os.Create(filepath.Join(dir, "video.bin")); err != nil {
			return fmt.Errorf("spool: create video file: %w", err)
		}
	}
	if cfg.Channels.Has(capture.SampleAudio) {
		if audioFile, err = os.Create(filepath.Join(dir, "audio.bin")); err != nil {
			if videoFile != nil {
				_ = videoFile.Close()
			}
			return fmt.Errorf("spool: create audio file: %w", err)
		}
	}

	var enc *gopus.Encoder
	if audioFile != nil && s.cfg.AudioCodec == CodecOpus {
		enc, err = gopus.NewEncoder(cfg.Audio.SampleRate, cfg.Audio.Channels, opusApplication)
		if err != nil {
			if videoFile != nil {
				_ = videoFile.Close()
			}
			_ = audioFile.Close()
			return fmt.Errorf("spool: create opus encoder: %w", err)
		}
	}

	s.open = true
	s.id = id
	s.capCfg = cfg
	s.dir = dir
	s.started = time.Now().UTC()
	s.videoFile = videoFile
	s.audioFile = audioFile
	s.enc = enc
	s.pcmPending = nil
	s.writeErr = nil
	s.videoSamples = 0
	s.audioPackets = 0
	s.dropped = 0
	s.jobs = make(chan job, jobQueueDepth)
	s.done = make(chan struct{})

	go s.writeLoop(s.jobs, s.done)

	slog.Info("spool opened",
		"session_id", id,
		"dir", dir,
		"audio_codec", string(s.cfg.AudioCodec),
	)
	return nil
}

// WriteVideo implements [Sink]. The pixel payload is copied before the call
// returns because the surface is only borrowed for the delivery callback.
func (s *SpoolSink) WriteVideo(sample capture.RawSample) {
	v := sample.Video
	if v == nil || v.Surface == nil {
		return
	}
	w, h := v.Surface.Dimensions()
	j := job{
		kind:   capture.SampleVideo,
		pts:    sample.PTS,
		width:  w,
		height: h,
		stride: v.Surface.Stride(),
	}
	j.pixels = make([]byte, len(v.Surface.Pixels()))
	copy(j.pixels, v.Surface.Pixels())
	s.enqueue(j)
}

// WriteAudio implements [Sink]. The PCM payload is copied before the call
// returns.
func (s *SpoolSink) WriteAudio(sample capture.RawSample) {
	a := sample.Audio
	if a == nil || len(a.PCM) == 0 {
		return
	}
	j := job{
		kind: capture.SampleAudio,
		pts:  sample.PTS,
		pcm:  make([]byte, len(a.PCM)),
	}
	copy(j.pcm, a.PCM)
	s.enqueue(j)
}

// enqueue hands a job to the writer goroutine, dropping it when the sink is
// closed or the queue is full. The lock is held across the send so Stop
// cannot close the channel between the open check and the send; the send
// itself never blocks (buffered channel with a default case).
func (s *SpoolSink) enqueue(j job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return
	}
	select {
	case s.jobs <- j:
	default:
		s.dropped++
		s.met.RecordSampleDropped(context.Background(), j.kind.String(), "sink_overflow")
	}
}

// Stop implements [Sink]. It drains the writer queue, flushes any partial
// Opus frame, writes the manifest, and closes the spool files.
func (s *SpoolSink) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return "", nil
	}
	s.open = false
	jobs := s.jobs
	done := s.done
	s.mu.Unlock()

	close(jobs)
	select {
	case <-done:
	case <-ctx.Done():
		return s.dir, fmt.Errorf("spool: drain interrupted: %w", ctx.Err())
	}

	s.flushAudio()

	var errs []error
	if s.videoFile != nil {
		if err := s.videoFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("spool: close video file: %w", err))
		}
		s.videoFile = nil
	}
	if s.audioFile != nil {
		if err := s.audioFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("spool: close audio file: %w", err))
		}
		s.audioFile = nil
	}

	if err := s.writeManifest(); err != nil {
		errs = append(errs, err)
	}
	if s.writeErr != nil {
		errs = append([]error{s.writeErr}, errs...)
	}

	slog.Info("spool closed",
		"session_id", s.id,
		"dir", s.dir,
		"video_samples", s.videoSamples,
		"audio_packets", s.audioPackets,
		"dropped", s.dropped,
	)

	var err error
	if len(errs) > 0 {
		err = errs[0]
	}
	return s.dir, err
}

// writeLoop is the single writer goroutine. It exits when the job channel is
// closed and drained.
func (s *SpoolSink) writeLoop(jobs <-chan job, done chan<- struct{}) {
	defer close(done)
	for j := range jobs {
		start := time.Now()
		var err error
		switch j.kind {
		case capture.SampleVideo:
			err = s.writeVideoJob(j)
		case capture.SampleAudio:
			err = s.writeAudioJob(j)
		}
		s.met.RecordSinkWrite(context.Background(), j.kind.String(), time.Since(start).Seconds())
		if err != nil && s.writeErr == nil {
			s.writeErr = err
			slog.Error("spool write failed", "session_id", s.id, "kind", j.kind.String(), "err", err)
		}
	}
}

// writeVideoJob appends one frame record:
//
//	pts int64 | width uint32 | height uint32 | stride uint32 | len uint32 | pixels
func (s *SpoolSink) writeVideoJob(j job) error {
	if s.videoFile == nil {
		return nil
	}
	var hdr [24]byte
	binary.LittleEndian.PutUint64(hdr[0:], uint64(j.pts))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(j.width))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(j.height))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(j.stride))
	binary.LittleEndian.PutUint32(hdr[20:], uint32(len(j.pixels)))
	if _, err := s.videoFile.Write(hdr[:]); err != nil {
		return fmt.Errorf("spool: write video header: %w", err)
	}
	if _, err := s.videoFile.Write(j.pixels); err != nil {
		return fmt.Errorf("spool: write video pixels: %w", err)
	}
	s.mu.Lock()
	s.videoSamples++
	s.mu.Unlock()
	return nil
}

// writeAudioJob appends PCM either raw or re-chunked into full Opus frames.
func (s *SpoolSink) writeAudioJob(j job) error {
	if s.audioFile == nil {
		return nil
	}
	if s.cfg.AudioCodec == CodecPCM {
		var hdr [12]byte
		binary.LittleEndian.PutUint64(hdr[0:], uint64(j.pts))
		binary.LittleEndian.PutUint32(hdr[8:], uint32(len(j.pcm)))
		if _, err := s.audioFile.Write(hdr[:]); err != nil {
			return fmt.Errorf("spool: write pcm header: %w", err)
		}
		if _, err := s.audioFile.Write(j.pcm); err != nil {
			return fmt.Errorf("spool: write pcm: %w", err)
		}
		s.mu.Lock()
		s.audioPackets++
		s.mu.Unlock()
		return nil
	}

	// Opus frames are fixed 20 ms; delivered buffers are arbitrary sizes.
	// Accumulate and encode whole frames, keeping the remainder pending.
	s.pcmPending = append(s.pcmPending, j.pcm...)
	frameBytes := s.opusFrameBytes()
	for len(s.pcmPending) >= frameBytes {
		frame := s.pcmPending[:frameBytes]
		s.pcmPending = s.pcmPending[frameBytes:]
		if err := s.encodeAndWrite(frame); err != nil {
			return err
		}
	}
	return nil
}

// flushAudio pads any pending partial frame with silence and encodes it,
// so the spool never loses trailing audio.
func (s *SpoolSink) flushAudio() {
	if s.enc == nil || len(s.pcmPending) == 0 {
		return
	}
	frameBytes := s.opusFrameBytes()
	frame := make([]byte, frameBytes)
	copy(frame, s.pcmPending)
	s.pcmPending = nil
	if err := s.encodeAndWrite(frame); err != nil && s.writeErr == nil {
		s.writeErr = err
	}
}

// encodeAndWrite encodes one full PCM frame to Opus and appends it as a
// length-prefixed packet.
func (s *SpoolSink) encodeAndWrite(frame []byte) error {
	pcm := capture.BytesToInt16s(frame)
	packet, err := s.enc.Encode(pcm, s.opusFrameSamples(), len(frame))
	if err != nil {
		return fmt.Errorf("spool: opus encode: %w", err)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(packet)))
	if _, err := s.audioFile.Write(hdr[:]); err != nil {
		return fmt.Errorf("spool: write opus header: %w", err)
	}
	if _, err := s.audioFile.Write(packet); err != nil {
		return fmt.Errorf("spool: write opus packet: %w", err)
	}
	s.mu.Lock()
	s.audioPackets++
	s.mu.Unlock()
	return nil
}

// opusFrameSamples is the number of samples per channel in one 20 ms frame.
func (s *SpoolSink) opusFrameSamples() int {
	return s.capCfg.Audio.SampleRate * opusFrameSizeMs / 1000
}

// opusFrameBytes is the byte length of one 20 ms interleaved int16 frame.
func (s *SpoolSink) opusFrameBytes() int {
	return s.opusFrameSamples() * s.capCfg.Audio.Channels * 2
}

// manifest is the YAML summary written next to the spool files.
type manifest struct {
	SessionID string    `yaml:"session_id"`
	StartedAt time.Time `yaml:"started_at"`
	EndedAt   time.Time `yaml:"ended_at"`

	Video *manifestVideo `yaml:"video,omitempty"`
	Audio *manifestAudio `yaml:"audio,omitempty"`

	Dropped int64 `yaml:"dropped_samples"`
}

type manifestVideo struct {
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FrameRate   int    `yaml:"frame_rate"`
	PixelFormat string `yaml:"pixel_format"`
	Samples     int64  `yaml:"samples"`
}

type manifestAudio struct {
	Codec      string `yaml:"codec"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Packets    int64  `yaml:"packets"`
}

// writeManifest records the session's formats and counters as YAML.
func (s *SpoolSink) writeManifest() error {
	m := manifest{
		SessionID: s.id,
		StartedAt: s.started,
		EndedAt:   time.Now().UTC(),
		Dropped:   s.dropped,
	}
	if s.capCfg.Channels.Has(capture.SampleVideo) {
		m.Video = &manifestVideo{
			Width:       s.capCfg.Width,
			Height:      s.capCfg.Height,
			FrameRate:   s.capCfg.FrameRate,
			PixelFormat: string(s.capCfg.PixelFormat),
			Samples:     s.videoSamples,
		}
	}
	if s.capCfg.Channels.Has(capture.SampleAudio) {
		m.Audio = &manifestAudio{
			Codec:      string(s.cfg.AudioCodec),
			SampleRate: s.capCfg.Audio.SampleRate,
			Channels:   s.capCfg.Audio.Channels,
			Packets:    s.audioPackets,
		}
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("spool: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, "manifest.yaml"), data, 0o644); err != nil {
		return fmt.Errorf("spool: write manifest: %w", err)
	}
	return nil
}
