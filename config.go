package powerrec

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned when a session cannot be built from the supplied settings.
var ErrInvalidConfig = errors.New("invalid decoder config")

const (
	defaultRecordInterval   = 1.0
	defaultResyncInterval   = 10.0
	defaultMaxGap           = 60.0
	defaultBundleWindow     = 30.0
	defaultWheelTickLimit   = 200
	defaultPowerSpikeFactor = 100
	defaultCTFTorqueOffset  = 500
)

// RotationMode selects what the wheel-torque decoder reports as rotation.
type RotationMode int

const (
	// PropagateCadence reports crank revolutions derived from the cadence field.
	PropagateCadence RotationMode = iota
	// PropagateWheelSpeed reports wheel revolutions from the wheel tick counter.
	PropagateWheelSpeed
)

func (m RotationMode) String() string {
	switch m {
	case PropagateCadence:
		return "cadence"
	case PropagateWheelSpeed:
		return "wheel_speed"
	default:
		return fmt.Sprintf("RotationMode(%d)", int(m))
	}
}

// ParseRotationMode accepts "cadence" or "wheel_speed".
func ParseRotationMode(s string) (RotationMode, error) {
	switch s {
	case "", "cadence":
		return PropagateCadence, nil
	case "wheel_speed", "wheel-speed", "wheel":
		return PropagateWheelSpeed, nil
	default:
		return 0, fmt.Errorf("%w: unknown rotation mode %q", ErrInvalidConfig, s)
	}
}

// Config holds the session-wide decoder settings. Times are in seconds.
// Zero values for the optional fields are replaced with their defaults.
type Config struct {
	// RecordInterval is the fixed output spacing. Required.
	RecordInterval float64
	// TimeBase is the sensor update period for time-based meters; zero selects event-based decoding.
	TimeBase float64
	// ResyncInterval is the silence after which a decoder re-baselines. Default 10.
	ResyncInterval float64
	// MaxGap caps the silence that is back-filled on resync. Default 60.
	MaxGap float64
	// BundleWindow bounds how long a power-only receive-time baseline may be reused. Default 30.
	BundleWindow float64

	// WheelTickLimit discards wheel-tick deltas above this many ticks per frame. Default 200.
	WheelTickLimit uint8
	// PowerSpikeFactor rejects accumulated-power deltas above this multiple of instantaneous power. Default 100.
	PowerSpikeFactor uint32
	// CTFTorqueOffset is the zero offset (Hz) used until a calibration page arrives. Default 500.
	CTFTorqueOffset uint16

	WheelRotation RotationMode
}

// DefaultConfig returns the settings used by the recorder binaries.
func DefaultConfig() Config {
	return Config{
		RecordInterval:   defaultRecordInterval,
		ResyncInterval:   defaultResyncInterval,
		MaxGap:           defaultMaxGap,
		BundleWindow:     defaultBundleWindow,
		WheelTickLimit:   defaultWheelTickLimit,
		PowerSpikeFactor: defaultPowerSpikeFactor,
		CTFTorqueOffset:  defaultCTFTorqueOffset,
		WheelRotation:    PropagateCadence,
	}
}

func (c Config) withDefaults() Config {
	if c.ResyncInterval == 0 {
		c.ResyncInterval = defaultResyncInterval
	}
	if c.MaxGap == 0 {
		c.MaxGap = defaultMaxGap
	}
	if c.BundleWindow == 0 {
		c.BundleWindow = defaultBundleWindow
	}
	if c.WheelTickLimit == 0 {
		c.WheelTickLimit = defaultWheelTickLimit
	}
	if c.PowerSpikeFactor == 0 {
		c.PowerSpikeFactor = defaultPowerSpikeFactor
	}
	if c.CTFTorqueOffset == 0 {
		c.CTFTorqueOffset = defaultCTFTorqueOffset
	}
	return c
}

// Validate reports settings that would make decoding ill-defined.
func (c Config) Validate() error {
	if !isFinite(c.RecordInterval) || c.RecordInterval <= 0 {
		return fmt.Errorf("%w: record interval must be positive, got %v", ErrInvalidConfig, c.RecordInterval)
	}
	if quantize(c.RecordInterval, crankTorqueFrequencyTicksPerSecond) == 0 {
		return fmt.Errorf("%w: record interval %v is below sensor resolution", ErrInvalidConfig, c.RecordInterval)
	}
	if c.RecordInterval*torqueTicksPerSecond > math.MaxUint32/2 {
		return fmt.Errorf("%w: record interval %v is too long", ErrInvalidConfig, c.RecordInterval)
	}
	if !isFinite(c.TimeBase) || c.TimeBase < 0 {
		return fmt.Errorf("%w: time base must be zero or positive, got %v", ErrInvalidConfig, c.TimeBase)
	}
	if c.TimeBase > 0 && quantize(c.TimeBase, torqueTicksPerSecond) == 0 {
		return fmt.Errorf("%w: time base %v is below sensor resolution", ErrInvalidConfig, c.TimeBase)
	}
	if c.TimeBase*torqueTicksPerSecond > math.MaxUint16 {
		return fmt.Errorf("%w: time base %v exceeds the 16-bit tick range", ErrInvalidConfig, c.TimeBase)
	}
	if !isFinite(c.ResyncInterval) || c.ResyncInterval < 0 {
		return fmt.Errorf("%w: resync interval must be zero or positive, got %v", ErrInvalidConfig, c.ResyncInterval)
	}
	if !isFinite(c.MaxGap) || c.MaxGap < 0 {
		return fmt.Errorf("%w: max gap must be zero or positive, got %v", ErrInvalidConfig, c.MaxGap)
	}
	if !isFinite(c.BundleWindow) || c.BundleWindow < 0 {
		return fmt.Errorf("%w: bundle window must be zero or positive, got %v", ErrInvalidConfig, c.BundleWindow)
	}
	if c.WheelRotation != PropagateCadence && c.WheelRotation != PropagateWheelSpeed {
		return fmt.Errorf("%w: unknown rotation mode %d", ErrInvalidConfig, int(c.WheelRotation))
	}
	return nil
}

func quantize(seconds, ticksPerSecond float64) uint32 {
	return uint32(math.Round(seconds * ticksPerSecond))
}
