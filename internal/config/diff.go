package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	// CaptureChanged is true when the capture geometry or format changed
	// and should be pushed to the active session.
	CaptureChanged bool

	// FilterChanged is true when the content filter changed.
	FilterChanged bool

	// RecordingChanged is true when spool settings changed. These only take
	// effect for the next session.
	RecordingChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.CaptureChanged || d.FilterChanged || d.RecordingChanged || d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if captureChanged(old.Capture, new.Capture) {
		d.CaptureChanged = true
	}

	if old.Filter.Display != new.Filter.Display ||
		!slices.Equal(old.Filter.ExcludeApps, new.Filter.ExcludeApps) {
		d.FilterChanged = true
	}

	if old.Recording != new.Recording {
		d.RecordingChanged = true
	}

	return d
}

// captureChanged compares the hot-reloadable capture fields. AutoStart is
// excluded: it only matters at daemon startup.
func captureChanged(old, new CaptureConfig) bool {
	return old.Source != new.Source ||
		old.Width != new.Width ||
		old.Height != new.Height ||
		old.FrameRate != new.FrameRate ||
		old.PixelFormat != new.PixelFormat ||
		old.ShowsCursor != new.ShowsCursor ||
		old.QueueDepth != new.QueueDepth ||
		old.Audio != new.Audio ||
		!slices.Equal(old.Channels, new.Channels)
}
