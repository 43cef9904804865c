package powerrec

// advance splits ev across record boundaries and emits whatever is due.
//
// Offsets are taken relative to the last record boundary so the 32-bit event
// clock may wrap freely: pos0 is where the event starts (always below one
// interval) and pos1 where it ends.
func (d *decoder) advance(rx float64, ev event) {
	st := &d.st
	interval := st.RecordIntervalQuantized
	pos0 := st.sinceRecord()
	pos1 := pos0 + ev.span

	if ev.span > 0 && pos1 >= interval {
		share := func(v float64, ticks uint32) float64 {
			return v * float64(ticks) / float64(ev.span)
		}
		gapTicks := (pos1/interval - 1) * interval
		st.RecordGapCount = int(pos1/interval - 1)

		st.PendingEnergy = st.AccumEnergy + share(ev.energy, interval-pos0)
		st.AccumEnergy = share(ev.energy, pos1%interval)
		st.GapEnergy = share(ev.energy, gapTicks)

		st.PendingRotation = st.AccumRotation + share(ev.rotation, interval-pos0)
		st.AccumRotation = share(ev.rotation, pos1%interval)
		st.GapRotation = share(ev.rotation, gapTicks)
	} else {
		st.AccumEnergy += ev.energy
		st.AccumRotation += ev.rotation
		st.PendingEnergy = 0
		st.PendingRotation = 0
		st.RecordGapCount = 0
	}

	st.EventTime += ev.span
	if st.sinceRecord() >= interval {
		d.emit()
		return
	}
	d.fillSilence(rx)
}

// emit writes the record for the boundary just crossed, then any gap records.
func (d *decoder) emit() {
	st := &d.st
	crossed := st.sinceRecord() / st.RecordIntervalQuantized

	st.TotalEnergy += st.PendingEnergy
	st.TotalRotation += st.PendingRotation
	st.LastRecordTime += d.interval
	st.LastRecordTimeQuantized += crossed * st.RecordIntervalQuantized

	d.write(Record{
		Timestamp:          st.LastRecordTime,
		CumulativeRotation: st.TotalRotation,
		CumulativeEnergy:   st.TotalEnergy,
		AverageCadence:     float32(st.PendingRotation * 60 / d.interval),
		AveragePower:       float32(st.PendingEnergy / d.interval),
		Source:             d.kind.page(),
	})
	st.PendingEnergy, st.PendingRotation = 0, 0

	d.fillGap()
}

// fillGap spreads the gap buckets evenly over RecordGapCount records.
func (d *decoder) fillGap() {
	st := &d.st
	if st.RecordGapCount <= 0 {
		st.RecordGapCount = 0
		return
	}
	n := float64(st.RecordGapCount)
	incEnergy := st.GapEnergy / n
	incRotation := st.GapRotation / n
	power := float32(incEnergy / d.interval)
	cadence := float32(incRotation * 60 / d.interval)

	for i := 0; i < st.RecordGapCount; i++ {
		st.TotalEnergy += incEnergy
		st.TotalRotation += incRotation
		st.LastRecordTime += d.interval
		d.write(Record{
			Timestamp:          st.LastRecordTime,
			CumulativeRotation: st.TotalRotation,
			CumulativeEnergy:   st.TotalEnergy,
			AverageCadence:     cadence,
			AveragePower:       power,
			Source:             d.kind.page(),
			Filler:             true,
		})
	}
	st.RecordGapCount = 0
	st.GapEnergy, st.GapRotation = 0, 0
}

// fillSilence emits zero-power records while the wall clock has run more than
// one interval past the last record without the event clock crossing a boundary.
func (d *decoder) fillSilence(rx float64) {
	st := &d.st
	for rx-st.LastRecordTime > d.interval {
		st.LastRecordTime += d.interval
		d.write(Record{
			Timestamp:          st.LastRecordTime,
			CumulativeRotation: st.TotalRotation,
			CumulativeEnergy:   st.TotalEnergy,
			Source:             d.kind.page(),
			Filler:             true,
		})
	}
}
