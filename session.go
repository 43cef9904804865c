package powerrec

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Option customizes a Session.
type Option func(*Session)

// WithLogger routes decoder diagnostics (resyncs, gap fills, meter detection) to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithAuxSink receives TE/PS and pedal balance events.
func WithAuxSink(aux AuxSink) Option {
	return func(s *Session) { s.aux = aux }
}

// Session decodes the frames of one power meter channel. It is not safe for
// concurrent use; feed it frames in receive order from a single goroutine.
type Session struct {
	cfg      Config
	sink     RecordSink
	aux      AuxSink
	logger   zerolog.Logger
	state    DispatcherState
	decoders map[PageType]*decoder

	// last is the most recent record handed to the sink.
	last    Record
	records int
}

// NewSession validates cfg and builds the four page decoders around sink.
func NewSession(cfg Config, sink RecordSink, opts ...Option) (*Session, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: record sink is required", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		sink:   sink,
		logger: zerolog.Nop(),
		state:  newDispatcherState(),
	}
	for _, opt := range opts {
		opt(s)
	}

	timeBase := func(q float64) uint32 { return quantize(cfg.TimeBase, q) }
	s.decoders = map[PageType]*decoder{
		PagePowerOnly: newDecoder(powerOnly{
			spikeFactor: cfg.PowerSpikeFactor,
			timeBase:    timeBase(powerOnlyTicksPerSecond),
		}, cfg, s.writeRecord, s.logger),
		PageWheelTorque: newDecoder(wheelTorque{
			tickLimit: cfg.WheelTickLimit,
			timeBase:  timeBase(torqueTicksPerSecond),
			rotation:  cfg.WheelRotation,
		}, cfg, s.writeRecord, s.logger),
		PageCrankTorque:          newDecoder(crankTorque{}, cfg, s.writeRecord, s.logger),
		PageCrankTorqueFrequency: newDecoder(crankTorqueFrequency{}, cfg, s.writeRecord, s.logger),
	}
	return s, nil
}

// Config returns the effective settings, defaults applied.
func (s *Session) Config() Config { return s.cfg }

// SetMeterTypeHint presets the active meter type before the first page arrives.
func (s *Session) SetMeterTypeHint(t PageType) {
	if !t.IsPowerPage() && t != MeterUnknown {
		s.logger.Warn().Stringer("page", t).Msg("ignoring meter type hint")
		return
	}
	s.state.ActiveMeterType = t
}

// DecodeFrame is the per-message entry point. Frames shorter than FrameSize
// and unknown pages are ignored.
func (s *Session) DecodeFrame(rx float64, payload []byte) {
	if len(payload) < FrameSize {
		return
	}
	f := frame(payload[:FrameSize])

	if s.state.PowerOnlyBundleRxTime < 0 || rx-s.state.PowerOnlyBundleRxTime > s.cfg.BundleWindow {
		s.state.PowerOnlyBundleRxTime = rx
	}

	switch t := f.page(); t {
	case PagePowerOnly:
		s.powerOnlyPage(rx, f)
	case PageWheelTorque, PageCrankTorque, PageCrankTorqueFrequency:
		s.torquePage(rx, t, f)
	case PageTorqueEffectiveness:
		s.torqueEffectivenessPage(rx, f)
	case PageCalibration:
		s.calibrationPage(f)
	}
}

// DecoderState returns a copy of the state behind a power page type.
func (s *Session) DecoderState(t PageType) (DecoderState, bool) {
	d, ok := s.decoders[t]
	if !ok {
		return DecoderState{}, false
	}
	return d.st, true
}

// DispatcherState returns a copy of the routing state.
func (s *Session) DispatcherState() DispatcherState {
	return s.state.clone()
}

// RecordCount is the number of records written so far.
func (s *Session) RecordCount() int { return s.records }

// noteEventCount moves the bundle baseline to rx when a power-only or TE/PS
// page carries a new event count.
func (s *Session) noteEventCount(rx float64, count uint8) {
	if count != s.state.PowerOnlyEventCount {
		s.state.PowerOnlyEventCount = count
		s.state.PowerOnlyBundleRxTime = rx
	}
}

func (s *Session) powerOnlyPage(rx float64, f frame) {
	s.noteEventCount(rx, f.eventCount())
	at := s.state.PowerOnlyBundleRxTime
	po := s.decoders[PagePowerOnly]

	if s.state.ActiveMeterType == MeterUnknown {
		s.state.ActiveMeterType = PagePowerOnly
		s.logger.Info().Stringer("meter", PagePowerOnly).Float64("rx_time", rx).Msg("meter type detected")
		po.resyncAt(at, f)
	}
	if s.state.NeedsResync[PagePowerOnly] {
		po.resyncAt(at, f)
		s.state.NeedsResync[PagePowerOnly] = false
	}
	// Torque meters also broadcast power-only pages; those only keep the
	// baseline fresh.
	if s.state.ActiveMeterType == PagePowerOnly {
		po.message(at, f)
	}

	if s.aux != nil && int(f.eventCount()) != s.state.BalanceEventCount {
		s.state.BalanceEventCount = int(f.eventCount())
		s.aux.WritePowerBalance(parsePowerBalance(at, f))
	}
}

func (s *Session) torquePage(rx float64, t PageType, f frame) {
	d := s.decoders[t]
	if s.state.ActiveMeterType != t {
		s.logger.Info().
			Stringer("meter", t).
			Stringer("previous", s.state.ActiveMeterType).
			Float64("rx_time", rx).
			Msg("meter type detected")
		po := s.decoders[PagePowerOnly]
		if s.state.ActiveMeterType == PagePowerOnly {
			// Flush what the power-only decoder still holds.
			po.resyncAt(rx, f)
		} else {
			po.rebaseline(rx, f)
		}
		s.state.NeedsResync[PagePowerOnly] = false
		d.catchUp(s.last)
		d.rebaseline(rx, f)
		s.state.NeedsResync[t] = false
		s.state.ActiveMeterType = t
	}
	if s.state.NeedsResync[t] {
		d.catchUp(s.last)
		d.rebaseline(rx, f)
		s.state.NeedsResync[t] = false
	}
	d.message(rx, f)
}

func (s *Session) torqueEffectivenessPage(rx float64, f frame) {
	s.noteEventCount(rx, f.eventCount())
	if s.aux == nil || int(f.eventCount()) == s.state.TEPSEventCount {
		return
	}
	s.state.TEPSEventCount = int(f.eventCount())
	s.aux.WriteTorqueEffectiveness(parseTorqueEffectiveness(s.state.PowerOnlyBundleRxTime, f))
}

func (s *Session) calibrationPage(f frame) {
	if s.state.ActiveMeterType != PageCrankTorqueFrequency {
		return
	}
	d := s.decoders[PageCrankTorqueFrequency]
	if d.calibrate(f) {
		s.logger.Debug().
			Uint8("calibration", f[2]).
			Uint16("torque_offset", d.st.TorqueOffset).
			Msg("calibration page applied")
	}
}

func (s *Session) writeRecord(r Record) {
	s.last = r
	s.records++
	s.sink.WriteRecord(r)
}
