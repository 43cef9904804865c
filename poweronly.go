package powerrec

const powerOnlyTicksPerSecond = 2048.0

// Power-only page (0x10): event count, pedal balance, cadence,
// accumulated power LE16, instantaneous power LE16.
type powerOnly struct {
	spikeFactor uint32
	timeBase    uint32
}

func (powerOnly) page() PageType          { return PagePowerOnly }
func (powerOnly) ticksPerSecond() float64 { return powerOnlyTicksPerSecond }

func (powerOnly) store(st *DecoderState, f frame) {
	st.LastEventCount = f.eventCount()
	st.LastRotationTicks = f.eventCount()
	st.Cadence = f[3]
	st.LastAccumTorque = f.le16(4)
}

func (v powerOnly) measure(st *DecoderState, f frame) event {
	ticks := delta8(f.eventCount(), st.LastEventCount)
	deltaPower := uint32(delta16(f.le16(4), st.LastAccumTorque))
	instPower := uint32(f.le16(6))
	st.Cadence = f[3]

	if instPower > 0 && deltaPower > v.spikeFactor*instPower {
		deltaPower = instPower
	}
	if ticks == 0 {
		return event{}
	}
	ev := event{
		power:   deltaPower / uint32(ticks),
		cadence: uint32(st.Cadence),
	}

	if v.timeBase != 0 {
		ev.span = v.timeBase * uint32(ticks)
		if st.Cadence == 0 {
			// Coasting: time moves on, nothing is produced.
			ev.power = 0
			return ev
		}
		ev.energy = float64(deltaPower) * float64(v.timeBase) / powerOnlyTicksPerSecond
		ev.rotation = float64(st.Cadence) / 60 * float64(ev.span) / powerOnlyTicksPerSecond
		return ev
	}

	if st.Cadence == 0 {
		// Period unknown without cadence.
		return event{}
	}
	period := (uint32(ticks)*powerOnlyTicksPerSecond*60 + uint32(st.Cadence)/2) / uint32(st.Cadence)
	ev.span = period
	ev.energy = float64(deltaPower) * float64(period) / powerOnlyTicksPerSecond / float64(ticks)
	ev.rotation = float64(ticks)
	return ev
}
