package powerrec

// Wheel torque page (0x11): same layout as crank torque with wheel ticks in byte 2.
type wheelTorque struct {
	tickLimit uint8
	timeBase  uint32
	rotation  RotationMode
}

func (wheelTorque) page() PageType          { return PageWheelTorque }
func (wheelTorque) ticksPerSecond() float64 { return torqueTicksPerSecond }

func (wheelTorque) store(st *DecoderState, f frame) {
	storeTorqueCounters(st, f)
}

func (v wheelTorque) measure(st *DecoderState, f frame) event {
	dTorque, dPeriod := torqueDeltas(st, f)
	count := delta8(f.eventCount(), st.LastEventCount)
	ticks := delta8(f[2], st.LastRotationTicks)
	st.Cadence = f[3]

	if ticks > v.tickLimit {
		ticks = 0
	}
	if !validPeriod(dPeriod) {
		return event{}
	}

	ev := event{
		power:   torquePower(torqueTicksPerSecond, uint64(dTorque), uint64(dPeriod)),
		cadence: eventRPM(torqueTicksPerSecond, uint64(ticks), uint64(dPeriod)),
	}
	if v.timeBase != 0 {
		ev.span = v.timeBase * uint32(count)
		ev.energy = float64(ev.power) * float64(ev.span) / torqueTicksPerSecond
	} else {
		ev.span = uint32(dPeriod)
		ev.energy = torqueEnergy(float64(dTorque))
	}

	switch v.rotation {
	case PropagateWheelSpeed:
		ev.rotation = float64(ticks)
	default:
		ev.rotation = float64(st.Cadence) / 60 * float64(ev.span) / torqueTicksPerSecond
	}
	return ev
}
