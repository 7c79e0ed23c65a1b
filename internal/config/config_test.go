package config_test

import (
	"testing"

	"github.com/mwidmann/capstan/internal/config"
	"github.com/mwidmann/capstan/pkg/capture"
)

func TestChannelSet_DefaultsToVideo(t *testing.T) {
	t.Parallel()

	c := config.CaptureConfig{}
	set := c.ChannelSet()
	if !set.Has(capture.SampleVideo) {
		t.Error("empty channel list should select video")
	}
	if set.Has(capture.SampleAudio) {
		t.Error("empty channel list should not select audio")
	}
}

func TestChannelSet_MapsNames(t *testing.T) {
	t.Parallel()

	c := config.CaptureConfig{Channels: []config.Channel{config.ChannelAudio}}
	set := c.ChannelSet()
	if set.Has(capture.SampleVideo) {
		t.Error("audio-only list should not select video")
	}
	if !set.Has(capture.SampleAudio) {
		t.Error("audio-only list should select audio")
	}
}

func TestConfiguration_Conversion(t *testing.T) {
	t.Parallel()

	c := config.CaptureConfig{
		Width:       1920,
		Height:      1080,
		FrameRate:   30,
		PixelFormat: "bgra",
		ShowsCursor: true,
		QueueDepth:  8,
		Channels:    []config.Channel{config.ChannelVideo, config.ChannelAudio},
		Audio:       config.AudioConfig{SampleRate: 48000, Channels: 2},
	}

	got := c.Configuration()
	if got.Width != 1920 || got.Height != 1080 || got.FrameRate != 30 {
		t.Errorf("geometry not converted: %+v", got)
	}
	if got.PixelFormat != capture.PixelFormatBGRA {
		t.Errorf("pixel format = %q, want bgra", got.PixelFormat)
	}
	if !got.ShowsCursor || got.QueueDepth != 8 {
		t.Errorf("flags not converted: %+v", got)
	}
	if got.Audio.SampleRate != 48000 || got.Audio.Channels != 2 {
		t.Errorf("audio format not converted: %+v", got.Audio)
	}
	if !got.Channels.Has(capture.SampleVideo) || !got.Channels.Has(capture.SampleAudio) {
		t.Errorf("channels not converted: %v", got.Channels)
	}
}

func TestFilter_Conversion(t *testing.T) {
	t.Parallel()

	f := config.FilterConfig{
		Display:     "main",
		ExcludeApps: []string{"com.example.a", "com.example.b"},
	}
	got := f.Filter()
	if got.Display != "main" {
		t.Errorf("display = %q, want main", got.Display)
	}
	if len(got.ExcludedApps) != 2 {
		t.Errorf("excluded apps = %v, want 2 entries", got.ExcludedApps)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("level %q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("level \"verbose\" should be invalid")
	}
}
