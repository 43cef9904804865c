package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	powerrec "github.com/lucasjlepore/power-recorder"
)

// ErrInvalidMessage is returned for frame messages that cannot be decoded.
var ErrInvalidMessage = errors.New("invalid frame message")

// FrameMessage is the MQTT payload carrying one received page.
type FrameMessage struct {
	RxTime  float64 `json:"rx_time"`
	Payload string  `json:"payload"`
}

// ParseFrameMessage decodes a frame message and its hex payload.
func ParseFrameMessage(data []byte) (float64, []byte, error) {
	var msg FrameMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if math.IsNaN(msg.RxTime) || math.IsInf(msg.RxTime, 0) || msg.RxTime < 0 {
		return 0, nil, fmt.Errorf("%w: rx_time %v", ErrInvalidMessage, msg.RxTime)
	}
	payload, err := powerrec.ParseFrame(msg.Payload)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg.RxTime, payload, nil
}

// RecordPayload is one decoded record as published on MQTT and stored in BigQuery.
type RecordPayload struct {
	SessionID          string    `json:"session_id" bigquery:"session_id"`
	Sequence           int64     `json:"sequence" bigquery:"sequence"`
	RecordTime         time.Time `json:"record_time" bigquery:"record_time"`
	TimestampS         float64   `json:"timestamp_s" bigquery:"timestamp_s"`
	CumulativeRotation float64   `json:"cumulative_rotation" bigquery:"cumulative_rotation"`
	CumulativeEnergyJ  float64   `json:"cumulative_energy_j" bigquery:"cumulative_energy_j"`
	AvgCadenceRPM      float64   `json:"avg_cadence_rpm" bigquery:"avg_cadence_rpm"`
	AvgPowerW          float64   `json:"avg_power_w" bigquery:"avg_power_w"`
	Source             string    `json:"source" bigquery:"source"`
	Filler             bool      `json:"filler" bigquery:"filler"`
}

func newRecordPayload(sessionID string, seq int64, start time.Time, r powerrec.Record) RecordPayload {
	return RecordPayload{
		SessionID:          sessionID,
		Sequence:           seq,
		RecordTime:         start.Add(time.Duration(r.Timestamp * float64(time.Second))).UTC(),
		TimestampS:         r.Timestamp,
		CumulativeRotation: r.CumulativeRotation,
		CumulativeEnergyJ:  r.CumulativeEnergy,
		AvgCadenceRPM:      float64(r.AverageCadence),
		AvgPowerW:          float64(r.AveragePower),
		Source:             r.Source.String(),
		Filler:             r.Filler,
	}
}

// AuxPayload carries a TE/PS or pedal balance event.
type AuxPayload struct {
	SessionID           string                        `json:"session_id"`
	Kind                string                        `json:"kind"`
	TorqueEffectiveness *powerrec.TorqueEffectiveness `json:"torque_effectiveness,omitempty"`
	PowerBalance        *powerrec.PowerBalance        `json:"power_balance,omitempty"`
}
