package powerrec

// Phase tracks where a decoder is in its baseline lifecycle.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseResynced
	PhaseSteady
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseResynced:
		return "resynced"
	case PhaseSteady:
		return "steady"
	default:
		return "invalid"
	}
}

// DecoderState is the per-page-type accumulator. Energy is in joules,
// rotation in revolutions, quantized times in sensor ticks.
type DecoderState struct {
	Phase   Phase
	Cadence uint8

	AccumEnergy   float64
	PendingEnergy float64
	GapEnergy     float64

	AccumRotation   float64
	PendingRotation float64
	GapRotation     float64

	// EventTime and LastRecordTimeQuantized count ticks modulo 2^32.
	EventTime               uint32
	LastRecordTimeQuantized uint32

	LastRecordTime  float64
	LastMessageTime float64

	LastEventCount    uint8
	LastRotationTicks uint8
	LastAccumTorque   uint16
	LastAccumPeriod   uint16

	RecordGapCount int

	RecordIntervalQuantized uint32
	TimeBaseQuantized       uint32

	TotalEnergy   float64
	TotalRotation float64

	// TorqueOffset is only used by crank torque frequency meters.
	TorqueOffset uint16

	// EventPower and EventCadence describe the last decoded event.
	// For wheel torque meters EventCadence is the wheel speed in rpm.
	EventPower   uint32
	EventCadence uint32
}

// sinceRecord is the quantized distance between the event clock and the last record boundary.
func (st *DecoderState) sinceRecord() uint32 {
	return st.EventTime - st.LastRecordTimeQuantized
}

func (st *DecoderState) clearBuckets() {
	st.AccumEnergy, st.PendingEnergy, st.GapEnergy = 0, 0, 0
	st.AccumRotation, st.PendingRotation, st.GapRotation = 0, 0, 0
	st.RecordGapCount = 0
	st.EventTime = 0
	st.LastRecordTimeQuantized = 0
}

// DispatcherState is shared across the decoders of one session.
type DispatcherState struct {
	ActiveMeterType PageType
	NeedsResync     map[PageType]bool

	PowerOnlyEventCount   uint8
	PowerOnlyBundleRxTime float64

	// Last event counts reported on the auxiliary sink, -1 before the first.
	BalanceEventCount int
	TEPSEventCount    int
}

func newDispatcherState() DispatcherState {
	return DispatcherState{
		ActiveMeterType: MeterUnknown,
		NeedsResync: map[PageType]bool{
			PagePowerOnly:            true,
			PageWheelTorque:          true,
			PageCrankTorque:          true,
			PageCrankTorqueFrequency: true,
		},
		PowerOnlyEventCount:   0xFF,
		PowerOnlyBundleRxTime: -1,
		BalanceEventCount:     -1,
		TEPSEventCount:        -1,
	}
}

func (s DispatcherState) clone() DispatcherState {
	flags := make(map[PageType]bool, len(s.NeedsResync))
	for k, v := range s.NeedsResync {
		flags[k] = v
	}
	s.NeedsResync = flags
	return s
}

// delta8 is (cur - last) mod 2^8.
func delta8(cur, last uint8) uint8 {
	return uint8((uint16(cur) + 1<<8 - uint16(last)) % (1 << 8))
}

// delta16 is (cur - last) mod 2^16.
func delta16(cur, last uint16) uint16 {
	return uint16((uint32(cur) + 1<<16 - uint32(last)) % (1 << 16))
}
