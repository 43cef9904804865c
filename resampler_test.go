package powerrec

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResyncBackFillsShortSilence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResyncInterval = 2
	s, buf := newTestSession(t, cfg)

	perEvent := math.Pi * 320 / 16
	frames := []float64{0.1, 0.6, 1.1, 1.6, 10.1, 10.6, 11.1}
	for k, rx := range frames {
		s.DecodeFrame(rx, ctFrame(uint8(k), uint8(k), 120, uint16(k*1024), uint16(k*320)))
	}

	require.Len(t, buf.Records, 11)
	requireSteadyTimeline(t, buf.Records, 1)
	assert.InDelta(t, 2*perEvent, float64(buf.Records[0].AveragePower), 1e-3)

	var filled float64
	for _, r := range buf.Records[1:10] {
		assert.True(t, r.Filler)
		filled += float64(r.AveragePower)
	}
	assert.InDelta(t, perEvent, filled, 1e-3)
	assert.False(t, buf.Records[10].Filler)
	assert.InDelta(t, 11, buf.Records[10].Timestamp, 1e-9)
	assert.InDelta(t, 2*perEvent, float64(buf.Records[10].AveragePower), 1e-3)
}

func TestResyncBeyondMaxGapSkipsAhead(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxGap = 5
	s, buf := newTestSession(t, cfg)

	s.DecodeFrame(0.1, ctFrame(0, 0, 60, 0, 0))
	s.DecodeFrame(1.1, ctFrame(1, 1, 60, 2048, 320))
	s.DecodeFrame(1.6, ctFrame(2, 2, 60, 3072, 640))
	s.DecodeFrame(30.1, ctFrame(3, 3, 60, 4096, 960))
	s.DecodeFrame(31.1, ctFrame(4, 4, 60, 6144, 1280))

	require.Len(t, buf.Records, 2)
	assert.InDelta(t, 1, buf.Records[0].Timestamp, 1e-9)
	assert.InDelta(t, 31, buf.Records[1].Timestamp, 1e-9)

	st, _ := s.DecoderState(PageCrankTorque)
	assert.InDelta(t, 31, st.LastRecordTime, 1e-9)
}

func TestAdvanceAcrossEventClockWrap(t *testing.T) {
	buf := &RecordBuffer{}
	d := newDecoder(crankTorque{}, DefaultConfig(), buf.WriteRecord, zerolog.Nop())
	d.st.EventTime = 0xFFFFF000
	d.st.LastRecordTimeQuantized = 0xFFFFF000
	d.st.LastRecordTime = 100

	d.advance(101.5, event{span: 4096, energy: 100, rotation: 2})

	require.Len(t, buf.Records, 2)
	assert.InDelta(t, 101, buf.Records[0].Timestamp, 1e-9)
	assert.InDelta(t, 50, float64(buf.Records[0].AveragePower), 1e-9)
	assert.False(t, buf.Records[0].Filler)
	assert.InDelta(t, 102, buf.Records[1].Timestamp, 1e-9)
	assert.True(t, buf.Records[1].Filler)
	assert.InDelta(t, 100, buf.Records[1].CumulativeEnergy, 1e-9)
	assert.Zero(t, d.st.EventTime)
	assert.Zero(t, d.st.LastRecordTimeQuantized)
}

func TestRecordTimelineHoldsUnderJitter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecordInterval = 0.5
	s, buf := newTestSession(t, cfg)

	rng := rand.New(rand.NewSource(7))
	rx := 0.1
	var period, torque uint16
	var ticks uint8
	var energy float64
	for k := 0; k < 500; k++ {
		if k > 0 {
			dP := uint16(500 + rng.Intn(3500))
			dT := uint16(rng.Intn(2000))
			period += dP
			torque += dT
			ticks++
			energy += math.Pi * float64(dT) / 16
			rx += 0.25 + rng.Float64()*1.25
		}
		s.DecodeFrame(rx, ctFrame(uint8(k), ticks, 80, period, torque))
	}

	require.NotEmpty(t, buf.Records)
	assert.InDelta(t, 0.5, buf.Records[0].Timestamp, 1e-9)
	requireSteadyTimeline(t, buf.Records, 0.5)

	st, _ := s.DecoderState(PageCrankTorque)
	last := buf.Records[len(buf.Records)-1]
	assert.InDelta(t, energy, last.CumulativeEnergy+st.AccumEnergy, 1e-4)
	assert.Equal(t, s.RecordCount(), len(buf.Records))
}
