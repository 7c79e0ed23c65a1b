package capture

import (
	"math"
	"sync/atomic"
)

// SilenceFloorDB is the lower bound for reported power levels. A buffer of
// pure silence reads as the floor rather than negative infinity.
const SilenceFloorDB = -100.0

// decayAlpha controls how fast a falling level approaches a quieter reading.
// Rising levels are applied immediately (fast attack, smoothed decay).
const decayAlpha = 0.35

// Levels is a point-in-time audio power measurement in dBFS. It reflects
// only the most recent processed buffer, not a history.
type Levels struct {
	// AverageDB is the mean-square power across all channels and frames.
	AverageDB float64

	// PeakDB is the peak sample amplitude.
	PeakDB float64
}

// PowerMeter converts raw PCM buffers into running average/peak level
// measurements.
//
// Process is expected to be called from a single delivery goroutine (the
// audio channel), while Levels may be called concurrently from any
// goroutine: the snapshot is an atomic overwrite, never a lock held across
// the computation.
type PowerMeter struct {
	snap atomic.Pointer[Levels]
}

// NewPowerMeter creates a meter reading the silence floor.
func NewPowerMeter() *PowerMeter {
	m := &PowerMeter{}
	m.snap.Store(&Levels{AverageDB: SilenceFloorDB, PeakDB: SilenceFloorDB})
	return m
}

// Process measures pcm (interleaved little-endian int16) and overwrites the
// current snapshot. Rising levels are taken as-is; falling levels decay
// toward the new reading so a meter display releases rather than jumps.
func (m *PowerMeter) Process(pcm []byte) {
	var (
		sum  float64
		peak float64
	)
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}

	avgDB := SilenceFloorDB
	peakDB := SilenceFloorDB
	if n > 0 && sum > 0 {
		// Full scale for int16 is 32768; mean-square power in dB relative
		// to a full-scale sine uses 10*log10, peak uses 20*log10.
		avgDB = clampFloor(10 * math.Log10(sum/float64(n)/(32768*32768)))
		peakDB = clampFloor(20 * math.Log10(peak/32768))
	}

	m.update(avgDB, peakDB)
}

// ProcessSilence feeds the meter a zero-amplitude reading, letting the
// reported level decay toward the floor instead of freezing on the last
// real buffer. Called once on session stop.
func (m *PowerMeter) ProcessSilence() {
	m.update(SilenceFloorDB, SilenceFloorDB)
}

// Levels returns the current snapshot. Safe to call concurrently with
// Process.
func (m *PowerMeter) Levels() Levels {
	return *m.snap.Load()
}

// update applies fast-attack / smoothed-decay and stores the new snapshot.
func (m *PowerMeter) update(avgDB, peakDB float64) {
	prev := m.snap.Load()
	next := &Levels{
		AverageDB: attackDecay(prev.AverageDB, avgDB),
		PeakDB:    attackDecay(prev.PeakDB, peakDB),
	}
	m.snap.Store(next)
}

// attackDecay returns cur immediately when the level rises and an
// exponentially smoothed value when it falls. The result never rises above
// cur's contribution, so repeated silence is monotonically non-increasing.
func attackDecay(prev, cur float64) float64 {
	if cur >= prev {
		return cur
	}
	return clampFloor(prev + (cur-prev)*decayAlpha)
}

func clampFloor(db float64) float64 {
	if db < SilenceFloorDB || math.IsNaN(db) || math.IsInf(db, -1) {
		return SilenceFloorDB
	}
	return db
}
