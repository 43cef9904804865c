package powerrec

// torqueTicksPerSecond is the 1/2048 s resolution of the torque pages.
const torqueTicksPerSecond = 2048.0

// Crank torque page (0x12): event count, crank ticks, cadence,
// accumulated period LE16, accumulated torque LE16.
type crankTorque struct{}

func (crankTorque) page() PageType          { return PageCrankTorque }
func (crankTorque) ticksPerSecond() float64 { return torqueTicksPerSecond }

func (crankTorque) store(st *DecoderState, f frame) {
	storeTorqueCounters(st, f)
}

// measure is always event based; the crank period is reported by the sensor.
func (crankTorque) measure(st *DecoderState, f frame) event {
	dTorque, dPeriod := torqueDeltas(st, f)
	ticks := delta8(f[2], st.LastRotationTicks)
	st.Cadence = f[3]

	if !validPeriod(dPeriod) {
		return event{}
	}
	return event{
		span:     uint32(dPeriod),
		energy:   torqueEnergy(float64(dTorque)),
		rotation: float64(ticks),
		power:    torquePower(torqueTicksPerSecond, uint64(dTorque), uint64(dPeriod)),
		cadence:  eventRPM(torqueTicksPerSecond, uint64(ticks), uint64(dPeriod)),
	}
}

func storeTorqueCounters(st *DecoderState, f frame) {
	st.LastEventCount = f.eventCount()
	st.LastRotationTicks = f[2]
	st.Cadence = f[3]
	st.LastAccumPeriod = f.le16(4)
	st.LastAccumTorque = f.le16(6)
}

// torqueDeltas returns the wrapped accumulated torque and period deltas.
// A torque delta of 0xFFFF is an invalid reading and counts as zero.
func torqueDeltas(st *DecoderState, f frame) (uint16, uint16) {
	dTorque := delta16(f.le16(6), st.LastAccumTorque)
	if dTorque == 0xFFFF {
		dTorque = 0
	}
	return dTorque, delta16(f.le16(4), st.LastAccumPeriod)
}

// validPeriod rejects an unchanged period and the 0xFFFF sentinel.
func validPeriod(dPeriod uint16) bool {
	return dPeriod != 0 && dPeriod != 0xFFFF
}
