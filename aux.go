package powerrec

// HalfPercent is a 0.5% resolution field; 0xFF means invalid.
type HalfPercent uint8

const halfPercentInvalid HalfPercent = 0xFF

// Value returns the percentage and whether the sensor supplied one.
func (p HalfPercent) Value() (float64, bool) {
	if p == halfPercentInvalid || p > 200 {
		return 0, false
	}
	return float64(p) / 2, true
}

// TorqueEffectiveness is the TE/PS page, stamped with the power-only bundle time.
type TorqueEffectiveness struct {
	RxTime     float64 `json:"rx_time_s"`
	EventCount uint8   `json:"event_count"`

	LeftEffectiveness  HalfPercent `json:"left_te"`
	RightEffectiveness HalfPercent `json:"right_te"`
	LeftSmoothness     HalfPercent `json:"left_ps"`
	RightSmoothness    HalfPercent `json:"right_ps"`
}

// CombinedSmoothness reports whether LeftSmoothness holds the combined pedal smoothness.
func (t TorqueEffectiveness) CombinedSmoothness() bool {
	return t.RightSmoothness == 0xFE
}

// PowerBalance is the pedal power field of a power-only page.
type PowerBalance struct {
	RxTime     float64 `json:"rx_time_s"`
	EventCount uint8   `json:"event_count"`
	// Percent is the contribution of the pedal named by RightPedal.
	Percent    uint8 `json:"percent"`
	RightPedal bool  `json:"right_pedal"`
	Valid      bool  `json:"valid"`
}

// AuxSink receives the auxiliary page events.
type AuxSink interface {
	WriteTorqueEffectiveness(TorqueEffectiveness)
	WritePowerBalance(PowerBalance)
}

// AuxBuffer collects auxiliary events in memory.
type AuxBuffer struct {
	TorqueEffectiveness []TorqueEffectiveness
	PowerBalance        []PowerBalance
}

func (b *AuxBuffer) WriteTorqueEffectiveness(t TorqueEffectiveness) {
	b.TorqueEffectiveness = append(b.TorqueEffectiveness, t)
}

func (b *AuxBuffer) WritePowerBalance(p PowerBalance) {
	b.PowerBalance = append(b.PowerBalance, p)
}

func parseTorqueEffectiveness(rx float64, f frame) TorqueEffectiveness {
	return TorqueEffectiveness{
		RxTime:             rx,
		EventCount:         f.eventCount(),
		LeftEffectiveness:  HalfPercent(f[2]),
		RightEffectiveness: HalfPercent(f[3]),
		LeftSmoothness:     HalfPercent(f[4]),
		RightSmoothness:    HalfPercent(f[5]),
	}
}

func parsePowerBalance(rx float64, f frame) PowerBalance {
	b := f[2]
	return PowerBalance{
		RxTime:     rx,
		EventCount: f.eventCount(),
		Percent:    b & 0x7F,
		RightPedal: b&0x80 != 0,
		Valid:      b != 0xFF,
	}
}
