package recorder

import (
	"context"
	"fmt"

	"github.com/mwidmann/capstan/internal/observe"
	"github.com/mwidmann/capstan/internal/sink"
	"github.com/mwidmann/capstan/pkg/capture"
)

// sampleRouter is the single [capture.Output] attached to every channel of a
// session's pipeline. It demultiplexes the raw sample flow:
//
//	video: frame validation, then the frame stream, then the sink
//	audio: power meter, then sink
//
// Invalid samples are dropped silently (counted, never logged per sample).
// HandleSample is called from the platform's delivery goroutines, one per
// channel, so video and audio state never race with each other.
type sampleRouter struct {
	stream *Stream
	sink   sink.Sink
	meter  *capture.PowerMeter
	met    *observe.Metrics

	// onTerminal runs once when the platform reports a fatal pipeline
	// error, after the stream has been finished with it.
	onTerminal func(error)
}

var _ capture.Output = (*sampleRouter)(nil)

// HandleSample implements [capture.Output]. A kind that is neither video nor
// audio means the process is wired wrong, not that the input is bad, so it
// panics instead of dropping.
func (r *sampleRouter) HandleSample(s capture.RawSample, kind capture.SampleKind) {
	ctx := context.Background()

	switch kind {
	case capture.SampleVideo:
		if !s.Valid || s.Video == nil {
			r.met.RecordSampleDropped(ctx, kind.String(), "invalid")
			return
		}
		r.met.RecordSampleRouted(ctx, kind.String())

		// Only samples that validate into a frame reach the recording;
		// idle and partial refreshes carry nothing worth spooling. The
		// consumer is served before the sink so frame delivery never
		// waits on sink I/O.
		frame, ok := capture.BuildFrame(s)
		if !ok {
			r.met.RecordSampleDropped(ctx, kind.String(), "incomplete")
			return
		}
		if r.stream.push(frame) {
			r.met.FramesEmitted.Add(ctx, 1)
		} else {
			r.met.RecordSampleDropped(ctx, kind.String(), "stream_closed")
		}
		r.sink.WriteVideo(s)

	case capture.SampleAudio:
		if !s.Valid || s.Audio == nil || len(s.Audio.PCM) == 0 {
			r.met.RecordSampleDropped(ctx, kind.String(), "invalid")
			return
		}
		r.met.RecordSampleRouted(ctx, kind.String())
		r.meter.Process(s.Audio.PCM)
		lv := r.meter.Levels()
		r.met.RecordAudioLevel(ctx, lv.AverageDB, lv.PeakDB)
		r.sink.WriteAudio(s)

	default:
		panic(fmt.Sprintf("recorder: sample of unknown kind %d", kind))
	}
}

// HandleTerminalError implements [capture.Output]. The error is recorded on
// the stream first so consumers observe it, then session teardown begins.
func (r *sampleRouter) HandleTerminalError(err error) {
	r.stream.finish(err)
	if r.onTerminal != nil {
		r.onTerminal(err)
	}
}
