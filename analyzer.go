package powerrec

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/tormoder/fit"
)

const (
	secondsPerHour = 3600.0
)

// AnalysisConfig controls optional calculations that require athlete-specific inputs.
type AnalysisConfig struct {
	FTPWatts float64
}

// Analysis contains ride metrics computed from recorded power samples.
type Analysis struct {
	FilePath         string         `json:"file_path,omitempty"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          time.Time      `json:"end_time"`
	ElapsedSeconds   float64        `json:"elapsed_seconds"`
	RecordCount      int            `json:"record_count"`
	FillerRecords    int            `json:"filler_records"`
	AvgPowerWatts    float64        `json:"avg_power_watts"`
	MaxPowerWatts    float64        `json:"max_power_watts"`
	NormalizedPower  float64        `json:"normalized_power_watts"`
	VariabilityIndex float64        `json:"variability_index"`
	WorkKilojoules   float64        `json:"work_kilojoules"`
	TotalRotations   float64        `json:"total_rotations"`
	AvgCadence       float64        `json:"avg_cadence_rpm"`
	MaxCadence       float64        `json:"max_cadence_rpm"`
	FTPWatts         float64        `json:"ftp_watts"`
	FTPSource        string         `json:"ftp_source"`
	IntensityFactor  float64        `json:"intensity_factor"`
	TrainingStress   float64        `json:"training_stress_score"`
	Best20MinPower   float64        `json:"best_20min_power_watts"`
	PowerZones       []ZoneDuration `json:"power_zones,omitempty"`
	Notes            string         `json:"notes"`
}

// ZoneDuration stores duration spent in a given FTP-based power zone.
type ZoneDuration struct {
	Zone       string  `json:"zone"`
	MinPctFTP  float64 `json:"min_pct_ftp"`
	MaxPctFTP  float64 `json:"max_pct_ftp"`
	Seconds    float64 `json:"seconds"`
	Percentage float64 `json:"percentage"`
}

// AnalyzeRecords summarizes decoder output. start anchors the relative
// record timestamps to wall-clock time and may be zero.
func AnalyzeRecords(records []Record, interval float64, start time.Time, cfg AnalysisConfig) *Analysis {
	a := &Analysis{RecordCount: len(records)}
	if len(records) == 0 || interval <= 0 {
		a.Notes = BuildRideNotes(a)
		return a
	}

	power := make([]float64, 0, len(records))
	cadence := make([]float64, 0, len(records))
	workJoules, rotations := 0.0, 0.0
	for _, r := range records {
		power = append(power, float64(r.AveragePower))
		if r.AverageCadence > 0 {
			cadence = append(cadence, float64(r.AverageCadence))
		}
		workJoules += float64(r.AveragePower) * interval
		rotations += float64(r.AverageCadence) * interval / 60
		if r.Filler {
			a.FillerRecords++
		}
	}

	first, last := records[0], records[len(records)-1]
	a.ElapsedSeconds = last.Timestamp - first.Timestamp + interval
	if !start.IsZero() {
		a.StartTime = start.Add(secondsToDuration(first.Timestamp - interval))
		a.EndTime = start.Add(secondsToDuration(last.Timestamp))
	}
	a.WorkKilojoules = workJoules / 1000.0
	a.TotalRotations = rotations
	a.AvgPowerWatts = average(power)
	a.MaxPowerWatts = maxValue(power)
	a.AvgCadence = average(cadence)
	a.MaxCadence = maxValue(cadence)

	perSecond := resampleToSeconds(power, interval)
	finishAnalysis(a, perSecond, cfg)
	return a
}

// AnalyzeFile decodes and analyzes an activity FIT file.
func AnalyzeFile(path string, cfg AnalysisConfig) (*Analysis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open FIT file: %w", err)
	}
	defer f.Close()

	decoded, err := fit.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode FIT file: %w", err)
	}

	activity, err := decoded.Activity()
	if err != nil {
		return nil, fmt.Errorf("activity FIT expected: %w", err)
	}
	if len(activity.Sessions) == 0 {
		return nil, fmt.Errorf("activity file has no session message")
	}

	series := buildRecordSeries(activity.Records)
	session := activity.Sessions[0]

	a := &Analysis{
		FilePath:    path,
		RecordCount: len(series.power),
	}
	a.StartTime = validTimeOrZero(session.StartTime)
	a.EndTime = validTimeOrZero(session.Timestamp)
	if a.StartTime.IsZero() {
		a.StartTime = series.start
	}
	if a.EndTime.IsZero() {
		a.EndTime = series.end
	}

	a.ElapsedSeconds = safePositive(session.GetTotalTimerTimeScaled())
	if a.ElapsedSeconds == 0 {
		a.ElapsedSeconds = series.durationSec
	}

	a.AvgPowerWatts = float64(validUint16(session.AvgPower))
	if a.AvgPowerWatts == 0 {
		a.AvgPowerWatts = average(series.power)
	}
	a.MaxPowerWatts = float64(validUint16(session.MaxPower))
	if a.MaxPowerWatts == 0 {
		a.MaxPowerWatts = maxValue(series.power)
	}
	a.WorkKilojoules = float64(validUint32(session.TotalWork)) / 1000.0
	if a.WorkKilojoules == 0 {
		a.WorkKilojoules = series.workKJ
	}
	a.AvgCadence = cadenceFromAny(session.GetAvgCadence())
	if a.AvgCadence == 0 {
		a.AvgCadence = average(series.cadence)
	}
	a.MaxCadence = cadenceFromAny(session.GetMaxCadence())
	if a.MaxCadence == 0 {
		a.MaxCadence = maxValue(series.cadence)
	}

	finishAnalysis(a, series.powerPerSecond, cfg)
	if np := float64(validUint16(session.NormalizedPower)); np > 0 {
		a.NormalizedPower = np
		finishLoad(a)
	}
	a.Notes = BuildRideNotes(a)
	return a, nil
}

func finishAnalysis(a *Analysis, perSecond []float64, cfg AnalysisConfig) {
	a.NormalizedPower = normalizedPower(perSecond)
	if a.NormalizedPower == 0 {
		a.NormalizedPower = a.AvgPowerWatts
	}
	a.Best20MinPower = bestRollingPower(perSecond, 20*60)

	a.FTPWatts = safePositive(cfg.FTPWatts)
	if a.FTPWatts > 0 {
		a.FTPSource = "input"
	} else {
		estimated := estimateFTP(perSecond)
		if estimated > 0 {
			a.FTPWatts = estimated
			a.FTPSource = "estimated"
		} else {
			a.FTPSource = "unavailable"
		}
	}
	finishLoad(a)
	a.PowerZones = buildPowerZones(perSecond, a.FTPWatts)
	a.Notes = BuildRideNotes(a)
}

func finishLoad(a *Analysis) {
	a.VariabilityIndex, a.IntensityFactor, a.TrainingStress = 0, 0, 0
	if a.AvgPowerWatts > 0 {
		a.VariabilityIndex = a.NormalizedPower / a.AvgPowerWatts
	}
	if a.FTPWatts > 0 && a.NormalizedPower > 0 {
		a.IntensityFactor = a.NormalizedPower / a.FTPWatts
	}
	if a.ElapsedSeconds > 0 && a.IntensityFactor > 0 {
		a.TrainingStress = (a.ElapsedSeconds / secondsPerHour) * a.IntensityFactor * a.IntensityFactor * 100.0
	}
}

type recordSeries struct {
	start       time.Time
	end         time.Time
	durationSec float64

	power          []float64
	powerPerSecond []float64
	cadence        []float64

	workKJ float64
}

func buildRecordSeries(records []*fit.RecordMsg) recordSeries {
	rs := recordSeries{}
	if len(records) == 0 {
		return rs
	}

	rows := make([]*fit.RecordMsg, 0, len(records))
	for _, rec := range records {
		if rec != nil {
			rows = append(rows, rec)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})

	var (
		haveStart   bool
		lastTS      time.Time
		lastPower   float64
		haveLastPwr bool
		workJoules  float64
	)
	for _, rec := range rows {
		ts := validTimeOrZero(rec.Timestamp)
		if !ts.IsZero() {
			if !haveStart {
				rs.start = ts
				haveStart = true
			}
			rs.end = ts
		}

		power, hasPower := extractPower(rec)
		if cadence, ok := extractCadence(rec); ok && cadence > 0 {
			rs.cadence = append(rs.cadence, cadence)
		}
		if !hasPower {
			continue
		}
		rs.power = append(rs.power, power)

		if haveLastPwr && !ts.IsZero() && ts.After(lastTS) {
			delta := ts.Sub(lastTS).Seconds()
			if delta > 0 && delta <= 5 {
				workJoules += lastPower * delta
			}
			missing := int(math.Round(delta)) - 1
			if missing > 0 && missing <= 30 {
				for i := 0; i < missing; i++ {
					rs.powerPerSecond = append(rs.powerPerSecond, lastPower)
				}
			}
		}
		rs.powerPerSecond = append(rs.powerPerSecond, power)
		lastPower = power
		haveLastPwr = true
		if !ts.IsZero() {
			lastTS = ts
		}
	}

	if !rs.start.IsZero() && !rs.end.IsZero() && rs.end.After(rs.start) {
		rs.durationSec = rs.end.Sub(rs.start).Seconds()
	}
	if workJoules == 0 {
		for _, p := range rs.power {
			workJoules += p
		}
	}
	rs.workKJ = workJoules / 1000.0
	return rs
}

// resampleToSeconds expands or averages interval samples onto a 1 s grid so
// rolling-window metrics keep their usual meaning.
func resampleToSeconds(samples []float64, interval float64) []float64 {
	if len(samples) == 0 || interval <= 0 {
		return nil
	}
	if interval == 1 {
		return append([]float64(nil), samples...)
	}
	total := int(math.Round(float64(len(samples)) * interval))
	out := make([]float64, 0, total)
	for sec := 0; sec < total; sec++ {
		idx := int(float64(sec) / interval)
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		if interval >= 1 {
			out = append(out, samples[idx])
			continue
		}
		end := int(float64(sec+1) / interval)
		if end > len(samples) {
			end = len(samples)
		}
		if end <= idx {
			end = idx + 1
		}
		out = append(out, average(samples[idx:end]))
	}
	return out
}

func buildPowerZones(powerSamples []float64, ftp float64) []ZoneDuration {
	if ftp <= 0 || len(powerSamples) == 0 {
		return nil
	}

	type boundary struct {
		zone string
		min  float64
		max  float64
	}
	zones := []boundary{
		{zone: "Z1 Active Recovery", min: 0, max: 55},
		{zone: "Z2 Endurance", min: 55, max: 75},
		{zone: "Z3 Tempo", min: 75, max: 90},
		{zone: "Z4 Threshold", min: 90, max: 105},
		{zone: "Z5 VO2", min: 105, max: 120},
		{zone: "Z6 Anaerobic", min: 120, max: 150},
		{zone: "Z7 Neuromuscular", min: 150, max: 1000},
	}

	counts := make([]int, len(zones))
	total := 0
	for _, p := range powerSamples {
		if p < 0 {
			continue
		}
		percent := (p / ftp) * 100.0
		for i, z := range zones {
			if percent >= z.min && percent < z.max {
				counts[i]++
				total++
				break
			}
		}
	}
	if total == 0 {
		return nil
	}

	out := make([]ZoneDuration, 0, len(zones))
	for i, z := range zones {
		seconds := float64(counts[i])
		out = append(out, ZoneDuration{
			Zone:       z.zone,
			MinPctFTP:  z.min,
			MaxPctFTP:  z.max,
			Seconds:    seconds,
			Percentage: (seconds / float64(total)) * 100.0,
		})
	}
	return out
}

func normalizedPower(powerSamples []float64) float64 {
	if len(powerSamples) == 0 {
		return 0
	}
	if len(powerSamples) < 30 {
		return average(powerSamples)
	}

	window := 30
	sum := 0.0
	for i := 0; i < window; i++ {
		sum += powerSamples[i]
	}

	fourthPowerTotal := 0.0
	count := 0
	for i := window - 1; i < len(powerSamples); i++ {
		if i >= window {
			sum += powerSamples[i] - powerSamples[i-window]
		}
		rolling := sum / float64(window)
		fourthPowerTotal += math.Pow(rolling, 4)
		count++
	}
	if count == 0 {
		return average(powerSamples)
	}
	return math.Pow(fourthPowerTotal/float64(count), 0.25)
}

func estimateFTP(powerSamples []float64) float64 {
	if len(powerSamples) < 20*60 {
		return 0
	}
	return bestRollingPower(powerSamples, 20*60) * 0.95
}

func bestRollingPower(powerSamples []float64, seconds int) float64 {
	if len(powerSamples) == 0 || seconds <= 0 {
		return 0
	}
	if len(powerSamples) < seconds {
		return average(powerSamples)
	}

	sum := 0.0
	for i := 0; i < seconds; i++ {
		sum += powerSamples[i]
	}
	best := sum / float64(seconds)
	for i := seconds; i < len(powerSamples); i++ {
		sum += powerSamples[i] - powerSamples[i-seconds]
		current := sum / float64(seconds)
		if current > best {
			best = current
		}
	}
	return best
}

func extractPower(rec *fit.RecordMsg) (float64, bool) {
	if rec.Power == math.MaxUint16 {
		return 0, false
	}
	return float64(rec.Power), true
}

func extractCadence(rec *fit.RecordMsg) (float64, bool) {
	if rec.Cadence == math.MaxUint8 {
		return 0, false
	}
	return float64(rec.Cadence), true
}

func validTimeOrZero(t time.Time) time.Time {
	if t.IsZero() || fit.IsBaseTime(t) {
		return time.Time{}
	}
	return t
}

func validUint16(v uint16) uint16 {
	if v == math.MaxUint16 {
		return 0
	}
	return v
}

func validUint32(v uint32) uint32 {
	if v == math.MaxUint32 {
		return 0
	}
	return v
}

func cadenceFromAny(v any) float64 {
	switch x := v.(type) {
	case uint8:
		if x == math.MaxUint8 {
			return 0
		}
		return float64(x)
	case uint16:
		if x == math.MaxUint16 {
			return 0
		}
		return float64(x)
	case int:
		if x < 0 {
			return 0
		}
		return float64(x)
	case float64:
		return safePositive(x)
	default:
		return 0
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	count := 0
	for _, v := range values {
		if !isFinite(v) {
			continue
		}
		total += v
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func maxValue(values []float64) float64 {
	max := 0.0
	found := false
	for _, v := range values {
		if !isFinite(v) {
			continue
		}
		if !found || v > max {
			max = v
			found = true
		}
	}
	if !found {
		return 0
	}
	return max
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func safePositive(v float64) float64 {
	if !isFinite(v) || v <= 0 {
		return 0
	}
	return v
}
