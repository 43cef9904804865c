package pipeline

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	powerrec "github.com/lucasjlepore/power-recorder"
	"github.com/tormoder/fit"
)

// marshalActivityFIT encodes the records as a one-lap cycling activity.
// FIT timestamps have one second resolution, so sub-second records share a
// timestamp.
func marshalActivityFIT(records []powerrec.Record, a *powerrec.Analysis, start time.Time) ([]byte, error) {
	header := fit.NewHeader(fit.V20, true)
	file, err := fit.NewFile(fit.FileTypeActivity, header)
	if err != nil {
		return nil, err
	}
	file.FileId.TimeCreated = start
	file.FileId.Manufacturer = fit.ManufacturerDevelopment

	activity, err := file.Activity()
	if err != nil {
		return nil, err
	}

	end := start
	if len(records) > 0 {
		end = start.Add(secondsToDuration(records[len(records)-1].Timestamp))
	}

	startEvent := fit.NewEventMsg()
	startEvent.Timestamp = start
	startEvent.Event = fit.EventTimer
	startEvent.EventType = fit.EventTypeStart
	activity.Events = append(activity.Events, startEvent)

	for _, r := range records {
		msg := fit.NewRecordMsg()
		msg.Timestamp = start.Add(secondsToDuration(r.Timestamp))
		msg.Power = clampUint16(float64(r.AveragePower))
		msg.Cadence = clampUint8(float64(r.AverageCadence))
		activity.Records = append(activity.Records, msg)
	}

	stopEvent := fit.NewEventMsg()
	stopEvent.Timestamp = end
	stopEvent.Event = fit.EventTimer
	stopEvent.EventType = fit.EventTypeStopAll
	activity.Events = append(activity.Events, stopEvent)

	elapsedMS := uint32(math.Round(a.ElapsedSeconds * 1000))

	lap := fit.NewLapMsg()
	lap.Timestamp = end
	lap.StartTime = start
	lap.Sport = fit.SportCycling
	lap.TotalElapsedTime = elapsedMS
	lap.TotalTimerTime = elapsedMS
	lap.AvgPower = clampUint16(a.AvgPowerWatts)
	lap.MaxPower = clampUint16(a.MaxPowerWatts)
	lap.TotalWork = uint32(math.Round(a.WorkKilojoules * 1000))
	lap.AvgCadence = clampUint8(a.AvgCadence)
	lap.MaxCadence = clampUint8(a.MaxCadence)
	activity.Laps = append(activity.Laps, lap)

	session := fit.NewSessionMsg()
	session.Timestamp = end
	session.StartTime = start
	session.Sport = fit.SportCycling
	session.TotalElapsedTime = elapsedMS
	session.TotalTimerTime = elapsedMS
	session.AvgPower = lap.AvgPower
	session.MaxPower = lap.MaxPower
	session.NormalizedPower = clampUint16(a.NormalizedPower)
	session.TotalWork = lap.TotalWork
	session.AvgCadence = lap.AvgCadence
	session.MaxCadence = lap.MaxCadence
	session.NumLaps = 1
	if a.FTPWatts > 0 {
		session.ThresholdPower = clampUint16(a.FTPWatts)
		session.IntensityFactor = clampUint16(a.IntensityFactor * 1000)
		session.TrainingStressScore = clampUint16(a.TrainingStress * 10)
	}
	activity.Sessions = append(activity.Sessions, session)

	summary := fit.NewActivityMsg()
	summary.Timestamp = end
	summary.TotalTimerTime = elapsedMS
	summary.NumSessions = 1
	summary.Type = fit.ActivityModeManual
	summary.Event = fit.EventActivity
	summary.EventType = fit.EventTypeStop
	activity.Activity = summary

	var buf bytes.Buffer
	if err := fit.Encode(&buf, file, binary.LittleEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// clampUint16 rounds v into the valid range, leaving 0xFFFF (invalid) unused.
func clampUint16(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxUint16-1 {
		return math.MaxUint16 - 1
	}
	return uint16(math.Round(v))
}

func clampUint8(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxUint8-1 {
		return math.MaxUint8 - 1
	}
	return uint8(math.Round(v))
}
