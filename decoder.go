package powerrec

import (
	"math"

	"github.com/rs/zerolog"
)

// maxEventSpan is the longest event the 16-bit sensor counters can describe.
// Longer computed spans come from corrupt frames and are treated as non-events.
const maxEventSpan = 0xFFFE

// event is one decoded sensor update in common units.
type event struct {
	// span is the quantized time the event covers; zero for non-events.
	span     uint32
	energy   float64
	rotation float64
	power    uint32
	cadence  uint32
}

// variant holds the page-specific byte layout and unit conversions.
type variant interface {
	page() PageType
	ticksPerSecond() float64
	// store saves the raw counters of f as the new baseline.
	store(st *DecoderState, f frame)
	// measure converts the counter deltas between st and f into an event.
	measure(st *DecoderState, f frame) event
}

// calibrator is implemented by variants that accept calibration pages.
type calibrator interface {
	calibrate(st *DecoderState, f frame) bool
}

type decoder struct {
	st       DecoderState
	kind     variant
	interval float64
	resync   float64
	maxGap   float64
	write    func(Record)
	logger   zerolog.Logger
}

func newDecoder(kind variant, cfg Config, write func(Record), logger zerolog.Logger) *decoder {
	q := kind.ticksPerSecond()
	d := &decoder{
		kind:     kind,
		interval: cfg.RecordInterval,
		resync:   cfg.ResyncInterval,
		maxGap:   cfg.MaxGap,
		write:    write,
		logger:   logger.With().Str("decoder", kind.page().String()).Logger(),
	}
	d.st.RecordIntervalQuantized = quantize(cfg.RecordInterval, q)
	d.st.TimeBaseQuantized = quantize(cfg.TimeBase, q)
	if kind.page() == PageCrankTorqueFrequency {
		d.st.TorqueOffset = cfg.CTFTorqueOffset
	}
	return d
}

// message handles a frame of this decoder's page type. Frames repeating the
// last event count are dropped without touching state.
func (d *decoder) message(rx float64, f frame) {
	if f.eventCount() == d.st.LastEventCount {
		return
	}
	if rx-d.st.LastMessageTime > d.resync {
		d.resyncAt(rx, f)
	} else {
		d.decode(rx, f)
	}
	d.st.LastMessageTime = rx
}

// resyncAt re-baselines the counters from f, back-filling the silence before
// the current record epoch when it is short enough.
func (d *decoder) resyncAt(rx float64, f frame) {
	st := &d.st
	epoch := math.Floor(rx/d.interval) * d.interval

	if st.Phase != PhaseUninitialized {
		elapsed := epoch - st.LastRecordTime
		if elapsed > 0 && elapsed < d.maxGap {
			st.RecordGapCount = int((elapsed + d.interval/2) / d.interval)
			st.GapEnergy = st.AccumEnergy
			st.GapRotation = st.AccumRotation
			d.logger.Debug().
				Float64("rx_time", rx).
				Int("records", st.RecordGapCount).
				Float64("gap_energy", st.GapEnergy).
				Msg("filling gap before resync")
			d.fillGap()
		}
	}
	d.rebaseline(rx, f)
}

// rebaseline drops all buckets and takes the counters of f as the new
// baseline without producing output.
func (d *decoder) rebaseline(rx float64, f frame) {
	st := &d.st
	epoch := math.Floor(rx/d.interval) * d.interval

	st.clearBuckets()
	if epoch > st.LastRecordTime {
		st.LastRecordTime = epoch
	}
	st.LastMessageTime = rx
	st.EventPower, st.EventCadence = 0, 0
	d.kind.store(st, f)
	st.Phase = PhaseResynced
	d.logger.Debug().Float64("rx_time", rx).Float64("epoch", epoch).Msg("resync")
}

func (d *decoder) decode(rx float64, f frame) {
	ev := d.kind.measure(&d.st, f)
	if ev.span > maxEventSpan {
		d.logger.Debug().
			Float64("rx_time", rx).
			Uint32("span", ev.span).
			Msg("discarding event with implausible span")
		ev = event{}
	}
	d.st.EventPower, d.st.EventCadence = ev.power, ev.cadence
	d.advance(rx, ev)
	d.kind.store(&d.st, f)
	d.st.Phase = PhaseSteady
}

// catchUp moves the record clock and the running totals forward so records
// continue after last without either going backwards.
func (d *decoder) catchUp(last Record) {
	st := &d.st
	if last.Timestamp > st.LastRecordTime {
		st.LastRecordTime = last.Timestamp
	}
	if last.CumulativeEnergy > st.TotalEnergy {
		st.TotalEnergy = last.CumulativeEnergy
	}
	if last.CumulativeRotation > st.TotalRotation {
		st.TotalRotation = last.CumulativeRotation
	}
}

func (d *decoder) calibrate(f frame) bool {
	c, ok := d.kind.(calibrator)
	if !ok {
		return false
	}
	return c.calibrate(&d.st, f)
}

// torquePower is (round(pi*q) * dTorque / dPeriod + 8) >> 4, in watts.
func torquePower(q float64, dTorque, dPeriod uint64) uint32 {
	if dPeriod == 0 {
		return 0
	}
	k := uint64(math.Round(math.Pi * q))
	return uint32((k*dTorque/dPeriod + 8) >> 4)
}

// eventRPM rounds ticks per period to revolutions per minute.
func eventRPM(q float64, ticks, dPeriod uint64) uint32 {
	if dPeriod == 0 {
		return 0
	}
	return uint32((ticks*60*uint64(q) + dPeriod/2) / dPeriod)
}

// torqueEnergy converts 1/32 N·m torque accumulated over revolutions into joules.
func torqueEnergy(dTorque float64) float64 {
	return math.Pi * dTorque / 16
}
