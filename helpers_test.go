package powerrec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func torqueFrame(page PageType, count, ticks, cadence uint8, period, torque uint16) []byte {
	return []byte{byte(page), count, ticks, cadence, byte(period), byte(period >> 8), byte(torque), byte(torque >> 8)}
}

func ctFrame(count, ticks, cadence uint8, period, torque uint16) []byte {
	return torqueFrame(PageCrankTorque, count, ticks, cadence, period, torque)
}

func wtFrame(count, ticks, cadence uint8, period, torque uint16) []byte {
	return torqueFrame(PageWheelTorque, count, ticks, cadence, period, torque)
}

func poFrame(count, balance, cadence uint8, accum, inst uint16) []byte {
	return []byte{byte(PagePowerOnly), count, balance, cadence, byte(accum), byte(accum >> 8), byte(inst), byte(inst >> 8)}
}

func ctfFrame(count uint8, slope, timestamp, ticks uint16) []byte {
	return []byte{byte(PageCrankTorqueFrequency), count, byte(slope >> 8), byte(slope), byte(timestamp >> 8), byte(timestamp), byte(ticks >> 8), byte(ticks)}
}

func tepsFrame(count, lte, rte, lps, rps uint8) []byte {
	return []byte{byte(PageTorqueEffectiveness), count, lte, rte, lps, rps, 0xFF, 0xFF}
}

func calibrationFrame(kind uint8, offset uint16) []byte {
	return []byte{byte(PageCalibration), ctfCalibrationID, kind, 0xFF, 0xFF, 0xFF, byte(offset), byte(offset >> 8)}
}

func newTestSession(t *testing.T, cfg Config, opts ...Option) (*Session, *RecordBuffer) {
	t.Helper()
	buf := &RecordBuffer{}
	s, err := NewSession(cfg, buf, opts...)
	require.NoError(t, err)
	return s, buf
}

// requireSteadyTimeline checks the ordering guarantees every record stream must keep.
func requireSteadyTimeline(t *testing.T, records []Record, interval float64) {
	t.Helper()
	for i := 1; i < len(records); i++ {
		prev, cur := records[i-1], records[i]
		require.InDelta(t, interval, cur.Timestamp-prev.Timestamp, 1e-9, "record %d spacing", i)
		require.GreaterOrEqual(t, cur.CumulativeEnergy, prev.CumulativeEnergy-1e-9, "record %d energy", i)
		require.GreaterOrEqual(t, cur.CumulativeRotation, prev.CumulativeRotation-1e-9, "record %d rotation", i)
	}
}
