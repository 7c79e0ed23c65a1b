package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/mwidmann/capstan/pkg/capture"
)

// ValidSources lists known capture platform names. Used by [Validate] to
// warn about unrecognised sources.
var ValidSources = []string{"synth"}

// validAudioCodecs lists the audio spool formats the recording sink accepts.
var validAudioCodecs = []string{"opus", "pcm"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Capture source — warn for unknown names so a custom platform wired in
	// code does not fail validation.
	if cfg.Capture.Source != "" && !slices.Contains(ValidSources, cfg.Capture.Source) {
		slog.Warn("unknown capture source — may be a typo or a custom platform",
			"source", cfg.Capture.Source,
			"known", ValidSources,
		)
	}

	// Capture geometry
	if cfg.Capture.Width <= 0 {
		errs = append(errs, fmt.Errorf("capture.width %d must be positive", cfg.Capture.Width))
	}
	if cfg.Capture.Height <= 0 {
		errs = append(errs, fmt.Errorf("capture.height %d must be positive", cfg.Capture.Height))
	}
	if cfg.Capture.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.frame_rate %d must be positive", cfg.Capture.FrameRate))
	}
	if cfg.Capture.PixelFormat != "" && !capture.PixelFormat(cfg.Capture.PixelFormat).IsValid() {
		errs = append(errs, fmt.Errorf("capture.pixel_format %q is invalid; valid values: bgra, rgba", cfg.Capture.PixelFormat))
	}
	if cfg.Capture.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("capture.queue_depth %d must not be negative", cfg.Capture.QueueDepth))
	}

	// Channels
	seen := make(map[Channel]bool, len(cfg.Capture.Channels))
	for i, ch := range cfg.Capture.Channels {
		if !ch.IsValid() {
			errs = append(errs, fmt.Errorf("capture.channels[%d] %q is invalid; valid values: video, audio", i, ch))
			continue
		}
		if seen[ch] {
			errs = append(errs, fmt.Errorf("capture.channels[%d] %q is a duplicate", i, ch))
		}
		seen[ch] = true
	}

	// Audio format, required when the audio channel is requested.
	if seen[ChannelAudio] {
		if cfg.Capture.Audio.SampleRate <= 0 {
			errs = append(errs, fmt.Errorf("capture.audio.sample_rate %d must be positive when the audio channel is enabled", cfg.Capture.Audio.SampleRate))
		}
		if cfg.Capture.Audio.Channels != 1 && cfg.Capture.Audio.Channels != 2 {
			errs = append(errs, fmt.Errorf("capture.audio.channels %d must be 1 or 2", cfg.Capture.Audio.Channels))
		}
	}

	// Recording
	if cfg.Recording.AudioCodec != "" && !slices.Contains(validAudioCodecs, cfg.Recording.AudioCodec) {
		errs = append(errs, fmt.Errorf("recording.audio_codec %q is invalid; valid values: opus, pcm", cfg.Recording.AudioCodec))
	}
	if cfg.Recording.Dir == "" {
		slog.Warn("recording.dir is empty; sessions will spool under the working directory")
	}

	// Ledger availability
	if cfg.Ledger.PostgresDSN == "" {
		slog.Warn("ledger.postgres_dsn is empty; session records will be kept in memory only")
	}

	return errors.Join(errs...)
}
