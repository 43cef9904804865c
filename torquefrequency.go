package powerrec

// crankTorqueFrequencyTicksPerSecond is the 1/2000 s resolution of the CTF time stamp.
const crankTorqueFrequencyTicksPerSecond = 2000.0

// Crank torque frequency page (0x20): event count, slope, time stamp and
// torque ticks, each 16-bit big-endian.
type crankTorqueFrequency struct{}

func (crankTorqueFrequency) page() PageType          { return PageCrankTorqueFrequency }
func (crankTorqueFrequency) ticksPerSecond() float64 { return crankTorqueFrequencyTicksPerSecond }

func (crankTorqueFrequency) store(st *DecoderState, f frame) {
	st.LastEventCount = f.eventCount()
	st.LastAccumPeriod = f.be16(4)
	st.LastAccumTorque = f.be16(6)
}

func (crankTorqueFrequency) measure(st *DecoderState, f frame) event {
	const q = crankTorqueFrequencyTicksPerSecond

	slope := uint64(f.be16(2))
	dPeriod := delta16(f.be16(4), st.LastAccumPeriod)
	dTorque := delta16(f.be16(6), st.LastAccumTorque)
	count := delta8(f.eventCount(), st.LastEventCount)
	if dTorque == 0xFFFF {
		dTorque = 0
	}
	if !validPeriod(dPeriod) || slope == 0 {
		return event{}
	}

	// Torque in 1/32 N·m: (frequency - offset) / (slope / 10).
	torque := uint64(dTorque) * q * 32 / uint64(dPeriod)
	offset := uint64(st.TorqueOffset) * 32
	if torque > offset {
		torque -= offset
	} else {
		torque = 0
	}
	torque = torque * 10 / slope

	revs := uint64(count)
	return event{
		span:     uint32(dPeriod),
		energy:   torqueEnergy(float64(torque * revs)),
		rotation: float64(count),
		power:    torquePower(q, torque*revs, uint64(dPeriod)),
		cadence:  eventRPM(q, revs, uint64(dPeriod)),
	}
}

// calibrate applies a zero-offset calibration response. Slope, serial number
// and acknowledgement responses are accepted without changing state.
func (crankTorqueFrequency) calibrate(st *DecoderState, f frame) bool {
	if f[1] != ctfCalibrationID {
		return false
	}
	switch f[2] {
	case ctfCalZeroOffset:
		st.TorqueOffset = f.le16(6)
		return true
	case ctfCalSlope, ctfCalSerial, ctfCalAcknowledge:
		return true
	default:
		return false
	}
}
