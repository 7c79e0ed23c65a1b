// Package mock provides an in-memory mock implementation of [sink.Sink] for
// use in unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/mwidmann/capstan/internal/sink"
	"github.com/mwidmann/capstan/pkg/capture"
)

// Sink is a mock [sink.Sink]. Set the exported Error and Location fields
// before use; inspect the recorded calls after. Safe for concurrent use.
type Sink struct {
	mu sync.Mutex

	// StartError is returned by Start.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// StopLocation is the location returned by Stop.
	StopLocation string

	// StartedID and StartedConfig record the last Start call.
	StartedID     string
	StartedConfig capture.Configuration

	// CallCountStart and CallCountStop record lifecycle calls.
	CallCountStart int
	CallCountStop  int

	// VideoSamples and AudioSamples record every write, in order.
	VideoSamples []capture.RawSample
	AudioSamples []capture.RawSample
}

var _ sink.Sink = (*Sink)(nil)

// Start implements [sink.Sink].
func (s *Sink) Start(id string, cfg capture.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	s.StartedID = id
	s.StartedConfig = cfg
	return nil
}

// WriteVideo implements [sink.Sink].
func (s *Sink) WriteVideo(sample capture.RawSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VideoSamples = append(s.VideoSamples, sample)
}

// WriteAudio implements [sink.Sink].
func (s *Sink) WriteAudio(sample capture.RawSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AudioSamples = append(s.AudioSamples, sample)
}

// Stop implements [sink.Sink].
func (s *Sink) Stop(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	return s.StopLocation, s.StopError
}

// VideoCount returns the number of recorded video writes.
func (s *Sink) VideoCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.VideoSamples)
}

// AudioCount returns the number of recorded audio writes.
func (s *Sink) AudioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.AudioSamples)
}
