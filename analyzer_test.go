package powerrec

import (
	"math"
	"strings"
	"testing"
	"time"
)

func steadyRecords(n int, interval float64, power, cadence float32) []Record {
	out := make([]Record, 0, n)
	energy, rotation := 0.0, 0.0
	for i := 1; i <= n; i++ {
		energy += float64(power) * interval
		rotation += float64(cadence) * interval / 60
		out = append(out, Record{
			Timestamp:          float64(i) * interval,
			CumulativeEnergy:   energy,
			CumulativeRotation: rotation,
			AveragePower:       power,
			AverageCadence:     cadence,
			Source:             PageCrankTorque,
		})
	}
	return out
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestAnalyzeRecordsSteadyRide(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := AnalyzeRecords(steadyRecords(1800, 1, 200, 90), 1, start, AnalysisConfig{})

	if a.RecordCount != 1800 || a.FillerRecords != 0 {
		t.Fatalf("unexpected record counts: %d/%d", a.RecordCount, a.FillerRecords)
	}
	if !near(a.ElapsedSeconds, 1800, 1e-9) {
		t.Fatalf("elapsed: got %v", a.ElapsedSeconds)
	}
	if !a.StartTime.Equal(start) || !a.EndTime.Equal(start.Add(30*time.Minute)) {
		t.Fatalf("time span: %v .. %v", a.StartTime, a.EndTime)
	}
	if !near(a.AvgPowerWatts, 200, 1e-9) || !near(a.NormalizedPower, 200, 1e-6) || !near(a.Best20MinPower, 200, 1e-6) {
		t.Fatalf("power metrics: avg=%v np=%v best20=%v", a.AvgPowerWatts, a.NormalizedPower, a.Best20MinPower)
	}
	if !near(a.WorkKilojoules, 360, 1e-6) {
		t.Fatalf("work: got %v kJ", a.WorkKilojoules)
	}
	if !near(a.TotalRotations, 2700, 1e-6) || !near(a.AvgCadence, 90, 1e-9) {
		t.Fatalf("cadence metrics: rotations=%v avg=%v", a.TotalRotations, a.AvgCadence)
	}
	if a.FTPSource != "estimated" || !near(a.FTPWatts, 190, 1e-6) {
		t.Fatalf("ftp: %v (%s)", a.FTPWatts, a.FTPSource)
	}
	wantIF := 200.0 / 190.0
	if !near(a.IntensityFactor, wantIF, 1e-9) || !near(a.TrainingStress, 0.5*wantIF*wantIF*100, 1e-6) {
		t.Fatalf("load: IF=%v TSS=%v", a.IntensityFactor, a.TrainingStress)
	}
	var vo2 float64
	for _, z := range a.PowerZones {
		if z.Zone == "Z5 VO2" {
			vo2 = z.Seconds
		}
	}
	if vo2 != 1800 {
		t.Fatalf("expected the whole ride in Z5, got %v s", vo2)
	}
	if !strings.Contains(a.Notes, "Best 20 min power: 200 W") {
		t.Fatalf("notes missing best 20 min line:\n%s", a.Notes)
	}
}

func TestAnalyzeRecordsUsesSuppliedFTP(t *testing.T) {
	records := steadyRecords(120, 0.5, 150, 0)
	records[10].Filler = true
	records[11].Filler = true

	a := AnalyzeRecords(records, 0.5, time.Time{}, AnalysisConfig{FTPWatts: 300})

	if a.FTPSource != "input" || a.FTPWatts != 300 {
		t.Fatalf("ftp: %v (%s)", a.FTPWatts, a.FTPSource)
	}
	if !near(a.IntensityFactor, 0.5, 1e-6) {
		t.Fatalf("IF: got %v", a.IntensityFactor)
	}
	if a.FillerRecords != 2 {
		t.Fatalf("fillers: got %d", a.FillerRecords)
	}
	if !a.StartTime.IsZero() {
		t.Fatalf("start time should stay unset without an anchor")
	}
	if a.AvgCadence != 0 || a.MaxCadence != 0 {
		t.Fatalf("cadence should be empty: %v/%v", a.AvgCadence, a.MaxCadence)
	}
	if !near(a.ElapsedSeconds, 60, 1e-9) || !near(a.WorkKilojoules, 9, 1e-9) {
		t.Fatalf("elapsed=%v work=%v", a.ElapsedSeconds, a.WorkKilojoules)
	}
}

func TestAnalyzeRecordsEmpty(t *testing.T) {
	a := AnalyzeRecords(nil, 1, time.Time{}, AnalysisConfig{})
	if a.RecordCount != 0 || a.Notes != "No power records were decoded." {
		t.Fatalf("unexpected analysis: %+v", a)
	}
}

func TestResampleToSeconds(t *testing.T) {
	cases := []struct {
		name     string
		samples  []float64
		interval float64
		want     []float64
	}{
		{"identity", []float64{1, 2, 3}, 1, []float64{1, 2, 3}},
		{"averages sub-second records", []float64{100, 200, 300, 400}, 0.5, []float64{150, 350}},
		{"repeats long records", []float64{100, 200}, 2, []float64{100, 100, 200, 200}},
		{"empty", nil, 1, nil},
	}
	for _, tc := range cases {
		got := resampleToSeconds(tc.samples, tc.interval)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
		for i := range got {
			if !near(got[i], tc.want[i], 1e-9) {
				t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
			}
		}
	}
}

func TestBuildRideNotesReportsFillerShare(t *testing.T) {
	a := &Analysis{
		RecordCount:    100,
		FillerRecords:  10,
		ElapsedSeconds: 3725,
		AvgPowerWatts:  180,
	}
	notes := BuildRideNotes(a)

	if !strings.Contains(notes, "Duration 1h02m05s") {
		t.Fatalf("duration missing:\n%s", notes)
	}
	if !strings.Contains(notes, "10.0% of intervals were filled") {
		t.Fatalf("data quality missing:\n%s", notes)
	}
	if !strings.Contains(notes, "Load IF/TSS unavailable") {
		t.Fatalf("load line missing:\n%s", notes)
	}
	if BuildRideNotes(nil) != "" {
		t.Fatalf("nil analysis should produce no notes")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[float64]string{0: "0s", 42: "42s", 61: "1m01s", 3600: "1h00m00s"}
	for in, want := range cases {
		if got := formatDuration(in); got != want {
			t.Fatalf("formatDuration(%v) = %q, want %q", in, got, want)
		}
	}
}
