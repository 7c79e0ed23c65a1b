package capture_test

import (
	"math"
	"testing"

	"github.com/mwidmann/capstan/pkg/capture"
)

// sinePCM generates one channel of full-scale-scaled sine samples.
func sinePCM(samples int, amplitude float64) []byte {
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*float64(i)/48))
	}
	return capture.Int16sToBytes(pcm)
}

func TestPowerMeter_StartsAtFloor(t *testing.T) {
	t.Parallel()

	m := capture.NewPowerMeter()
	lv := m.Levels()
	if lv.AverageDB != capture.SilenceFloorDB || lv.PeakDB != capture.SilenceFloorDB {
		t.Errorf("initial levels = %+v, want silence floor", lv)
	}
}

func TestPowerMeter_FullScaleSine(t *testing.T) {
	t.Parallel()

	m := capture.NewPowerMeter()
	m.Process(sinePCM(4800, 1.0))

	lv := m.Levels()
	// A full-scale sine has -3 dB average power and ~0 dB peak.
	if lv.AverageDB < -4 || lv.AverageDB > -2 {
		t.Errorf("average = %v dB, want about -3", lv.AverageDB)
	}
	if lv.PeakDB < -0.5 || lv.PeakDB > 0.1 {
		t.Errorf("peak = %v dB, want about 0", lv.PeakDB)
	}
}

func TestPowerMeter_QuietSignalIsLower(t *testing.T) {
	t.Parallel()

	loud := capture.NewPowerMeter()
	loud.Process(sinePCM(4800, 1.0))
	quiet := capture.NewPowerMeter()
	quiet.Process(sinePCM(4800, 0.1))

	if quiet.Levels().AverageDB >= loud.Levels().AverageDB {
		t.Errorf("quiet average %v should be below loud average %v",
			quiet.Levels().AverageDB, loud.Levels().AverageDB)
	}
	// -20 dB amplitude gives roughly -23 dB average power.
	if avg := quiet.Levels().AverageDB; avg < -26 || avg > -20 {
		t.Errorf("quiet average = %v dB, want about -23", avg)
	}
}

func TestPowerMeter_SilenceBufferReadsFloorEventually(t *testing.T) {
	t.Parallel()

	m := capture.NewPowerMeter()
	m.Process(sinePCM(4800, 1.0))

	prev := m.Levels().AverageDB
	for range 200 {
		m.Process(capture.SilencePCM(480, 1))
		cur := m.Levels().AverageDB
		if cur > prev {
			t.Fatalf("decay should be monotonic, went %v -> %v", prev, cur)
		}
		prev = cur
	}
	if prev > capture.SilenceFloorDB+1 {
		t.Errorf("average after sustained silence = %v, want near floor", prev)
	}
}

func TestPowerMeter_AttackIsImmediate(t *testing.T) {
	t.Parallel()

	m := capture.NewPowerMeter()
	m.Process(capture.SilencePCM(480, 1))
	m.Process(sinePCM(4800, 1.0))

	if avg := m.Levels().AverageDB; avg < -4 {
		t.Errorf("rising level should be applied immediately, got %v dB", avg)
	}
}

func TestPowerMeter_DecayIsSmoothed(t *testing.T) {
	t.Parallel()

	m := capture.NewPowerMeter()
	m.Process(sinePCM(4800, 1.0))
	loud := m.Levels().AverageDB

	m.Process(capture.SilencePCM(480, 1))
	after := m.Levels().AverageDB

	if after >= loud {
		t.Fatalf("level should fall after silence, %v -> %v", loud, after)
	}
	// One silence buffer must not drop all the way to the floor.
	if after <= capture.SilenceFloorDB+1 {
		t.Errorf("single silence buffer dropped to floor (%v), decay missing", after)
	}
}

func TestPowerMeter_ProcessSilence(t *testing.T) {
	t.Parallel()

	m := capture.NewPowerMeter()
	m.Process(sinePCM(4800, 1.0))
	before := m.Levels().AverageDB

	m.ProcessSilence()
	if after := m.Levels().AverageDB; after >= before {
		t.Errorf("ProcessSilence should lower the level, %v -> %v", before, after)
	}
}

func TestPowerMeter_EmptyBufferReadsAsSilence(t *testing.T) {
	t.Parallel()

	m := capture.NewPowerMeter()
	m.Process(sinePCM(4800, 1.0))
	before := m.Levels().AverageDB

	m.Process(nil)
	if after := m.Levels().AverageDB; after >= before {
		t.Errorf("empty buffer should decay the level, %v -> %v", before, after)
	}
}
