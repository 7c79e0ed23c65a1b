package recorder

import (
	"sync"
	"sync/atomic"

	"github.com/mwidmann/capstan/pkg/capture"
)

// defaultStreamBuffer is the frame channel capacity when the caller does not
// choose one.
const defaultStreamBuffer = 64

// Stream is the live frame sequence of one capture session.
//
// Frames arrive on a bounded channel. A consumer that falls behind does not
// stall capture: the oldest buffered frame is evicted to make room and
// counted in [Stream.Dropped].
//
// The channel closes when the session ends, for any reason. After it closes,
// [Stream.Err] reports why: nil for an orderly stop or cancellation, the
// producer's error when the platform failed mid-session.
type Stream struct {
	frames  chan capture.Frame
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	err    error

	cancelOnce sync.Once
	onCancel   func()
}

// newStream creates a stream with the given buffer capacity. onCancel runs
// at most once, on the first call to Cancel.
func newStream(buffer int, onCancel func()) *Stream {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	return &Stream{
		frames:   make(chan capture.Frame, buffer),
		onCancel: onCancel,
	}
}

// newFinishedStream creates a stream that is already closed with err. Used
// when a session fails before producing any frames.
func newFinishedStream(err error) *Stream {
	s := &Stream{frames: make(chan capture.Frame)}
	s.finish(err)
	return s
}

// Frames returns the frame channel. It closes when the session ends.
func (s *Stream) Frames() <-chan capture.Frame {
	return s.frames
}

// Err returns the terminal error of the stream. Only meaningful after the
// frame channel has closed; nil means the session ended without a producer
// failure.
func (s *Stream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Dropped returns the number of frames evicted because the consumer fell
// behind.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// Cancel asks the owning session to stop. It returns immediately; the frame
// channel closes once teardown completes. Safe to call multiple times and
// concurrently with frame consumption.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(func() {
		if s.onCancel != nil {
			s.onCancel()
		}
	})
}

// push delivers one frame, evicting the oldest buffered frame when the
// consumer is not keeping up. Returns false when the stream is already
// closed or the frame was dropped.
func (s *Stream) push(f capture.Frame) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.frames <- f:
			return true
		default:
		}
		select {
		case <-s.frames:
			s.dropped.Add(1)
		default:
			// Consumer drained the buffer between the two selects; retry.
		}
	}
}

// finish closes the frame channel exactly once and records err. Later calls
// are no-ops, so an orderly stop after a terminal error does not overwrite
// the producer's error.
func (s *Stream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.frames)
}
