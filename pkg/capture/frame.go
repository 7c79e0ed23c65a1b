package capture

// Frame is a single validated video frame handed to stream consumers.
//
// The Surface is borrowed from the platform for the duration of delivery;
// a consumer that retains the frame past its callback must copy the pixels.
// The scalar metadata is copied and safe to keep. The zero value is the
// well-known invalid frame ("no frame").
type Frame struct {
	// Surface is the borrowed backing pixel buffer.
	Surface Surface

	// ContentRect is the content rectangle in display points.
	ContentRect Rect

	// ContentScale is the pixels-per-point ratio of the content.
	ContentScale float64

	// ScaleFactor is the display or window backing scale factor.
	ScaleFactor float64
}

// Valid reports whether f carries an actual frame rather than the invalid
// sentinel.
func (f Frame) Valid() bool {
	return f.Surface != nil && f.ContentScale != 0
}

// BuildFrame converts a raw video sample plus its attachments into a Frame.
//
// Only a sample with status [StatusComplete], a backing surface, and all
// three scalar attachments yields a frame; anything else returns the invalid
// frame and false. The surface is borrowed (zero-copy), the scalars copied.
// BuildFrame is pure: no side effects, deterministic for identical inputs.
func BuildFrame(s RawSample) (Frame, bool) {
	v := s.Video
	if v == nil || v.Surface == nil {
		return Frame{}, false
	}

	a := v.Attachments
	if a.Status == nil || *a.Status != StatusComplete {
		return Frame{}, false
	}
	if a.ContentRect == nil || a.ContentScale == nil || a.ScaleFactor == nil {
		return Frame{}, false
	}

	return Frame{
		Surface:      v.Surface,
		ContentRect:  *a.ContentRect,
		ContentScale: *a.ContentScale,
		ScaleFactor:  *a.ScaleFactor,
	}, true
}
