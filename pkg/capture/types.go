package capture

import "time"

// SampleKind identifies the physical channel a raw sample was captured on.
type SampleKind int

const (
	// SampleVideo is the screen-content channel.
	SampleVideo SampleKind = iota

	// SampleAudio is the system-audio channel.
	SampleAudio
)

// String returns the human-readable name of the sample kind.
func (k SampleKind) String() string {
	switch k {
	case SampleVideo:
		return "video"
	case SampleAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// ChannelSet is a capability set selecting which channels a capture
// configuration requests from the platform.
type ChannelSet uint8

const (
	// ChannelVideo requests the screen-content channel.
	ChannelVideo ChannelSet = 1 << iota

	// ChannelAudio requests the system-audio channel.
	ChannelAudio
)

// Has reports whether the set includes the channel carrying kind.
func (s ChannelSet) Has(kind SampleKind) bool {
	switch kind {
	case SampleVideo:
		return s&ChannelVideo != 0
	case SampleAudio:
		return s&ChannelAudio != 0
	default:
		return false
	}
}

// FrameStatus is the platform-attached completeness status of a video sample.
type FrameStatus int

const (
	// StatusComplete marks a sample carrying a fully rendered frame.
	StatusComplete FrameStatus = iota

	// StatusIdle marks a sample delivered while the captured content did
	// not change.
	StatusIdle

	// StatusBlank marks a sample with no visible content.
	StatusBlank

	// StatusSuspended marks a sample delivered while capture is suspended
	// (e.g. the captured display is asleep).
	StatusSuspended

	// StatusStarted and StatusStopped bracket the stream; they carry no
	// image payload.
	StatusStarted
	StatusStopped
)

// String returns the human-readable name of the frame status.
func (s FrameStatus) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusIdle:
		return "idle"
	case StatusBlank:
		return "blank"
	case StatusSuspended:
		return "suspended"
	case StatusStarted:
		return "started"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PixelFormat names the pixel layout requested from the platform.
type PixelFormat string

const (
	PixelFormatBGRA PixelFormat = "bgra"
	PixelFormatRGBA PixelFormat = "rgba"
)

// IsValid reports whether f is a recognised pixel format.
func (f PixelFormat) IsValid() bool {
	return f == PixelFormatBGRA || f == PixelFormatRGBA
}

// Point is a position in display points.
type Point struct {
	X float64
	Y float64
}

// Size is an extent in display points.
type Size struct {
	Width  float64
	Height float64
}

// Rect is an axis-aligned rectangle in display points.
type Rect struct {
	Origin Point
	Size   Size
}

// AudioFormat describes the PCM layout of the audio channel.
type AudioFormat struct {
	// SampleRate in Hz (e.g. 48000).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int
}

// Configuration is the capture geometry and format request bound into a
// platform pipeline at Open time and swappable via UpdateConfiguration.
type Configuration struct {
	// Width and Height are the requested output size in pixels.
	Width  int
	Height int

	// FrameRate is the requested delivery rate in frames per second.
	FrameRate int

	// PixelFormat selects the video pixel layout.
	PixelFormat PixelFormat

	// ShowsCursor requests cursor compositing into captured frames.
	ShowsCursor bool

	// QueueDepth is the platform-side sample queue length. Zero means the
	// platform default.
	QueueDepth int

	// Audio is the PCM format requested for the audio channel.
	Audio AudioFormat

	// Channels selects which channels the pipeline delivers.
	Channels ChannelSet
}

// Filter selects which on-screen content is eligible for capture.
type Filter struct {
	// Display identifies the display to capture ("main" or a
	// platform-specific identifier).
	Display string

	// ExcludedApps lists application identifiers whose windows are removed
	// from the captured content.
	ExcludedApps []string
}

// Surface is an opaque handle to a pixel buffer owned by the platform.
//
// A Surface reached through a [RawSample] or [Frame] is borrowed: it is only
// valid for the duration of the delivery callback, and consumers that need
// the pixels afterwards must copy them.
type Surface interface {
	// Dimensions returns the pixel width and height of the backing buffer.
	Dimensions() (width, height int)

	// Stride returns the number of bytes per pixel row.
	Stride() int

	// Pixels returns the raw pixel bytes, Stride()*height long. The slice
	// aliases platform-owned memory.
	Pixels() []byte
}

// RawSample is one sample exactly as delivered by the capture platform.
// Exactly one of Video or Audio is set, matching the delivery channel.
type RawSample struct {
	// Valid is false when the platform marked the sample unusable. Invalid
	// samples are rejected without further processing.
	Valid bool

	// PTS is the presentation timestamp relative to stream start.
	PTS time.Duration

	// Video carries the pixel payload of a video-channel sample.
	Video *VideoSample

	// Audio carries the PCM payload of an audio-channel sample.
	Audio *AudioSample
}

// VideoSample is the payload of a video-channel raw sample.
type VideoSample struct {
	// Surface is the borrowed backing pixel buffer. May be nil when the
	// sample carries only status metadata.
	Surface Surface

	// Attachments is the out-of-band metadata the platform attached.
	Attachments VideoAttachments
}

// VideoAttachments carries the per-sample metadata dictionary of a video
// sample. Pointer fields are nil when the platform omitted the attachment.
type VideoAttachments struct {
	// Status is the frame completeness status.
	Status *FrameStatus

	// ContentRect is the rectangle of actual content within the surface,
	// in display points.
	ContentRect *Rect

	// ContentScale is the pixels-per-point ratio of the content.
	ContentScale *float64

	// ScaleFactor is the backing scale factor of the captured display or
	// window.
	ScaleFactor *float64
}

// AudioSample is the payload of an audio-channel raw sample.
type AudioSample struct {
	// PCM is interleaved little-endian int16 sample data.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int
}
