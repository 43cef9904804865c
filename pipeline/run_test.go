package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	powerrec "github.com/lucasjlepore/power-recorder"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

// crankTorqueRide simulates a crank torque meter at 60 rpm and ~160 W that
// also broadcasts power-only and TE/PS pages after every crank event.
func crankTorqueRide(seconds int) []Frame {
	var frames []Frame
	for k := 0; k <= seconds; k++ {
		base := float64(k) + 0.1
		count := uint8(k)
		period := uint16(k * 2048)
		torque := uint16(k * 815)
		accum := uint16(k * 160)
		frames = append(frames,
			Frame{RxTime: base, Payload: []byte{0x12, count, count, 60, byte(period), byte(period >> 8), byte(torque), byte(torque >> 8)}},
			Frame{RxTime: base + 0.25, Payload: []byte{0x10, count, 0x80 | 50, 60, byte(accum), byte(accum >> 8), 160, 0}},
			Frame{RxTime: base + 0.5, Payload: []byte{0x13, count, 160, 150, 40, 0xFE, 0xFF, 0xFF}},
		)
	}
	return frames
}

func writeTestCapture(t *testing.T, frames []Frame) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create capture: %v", err)
	}
	defer f.Close()
	if err := WriteCapture(f, frames); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	return path
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestRunWritesArtifacts(t *testing.T) {
	capture := writeTestCapture(t, crankTorqueRide(120))
	outDir := filepath.Join(t.TempDir(), "out")
	start := time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)

	res, err := Run(Options{
		CapturePath: capture,
		OutDir:      outDir,
		Decoder:     powerrec.DefaultConfig(),
		Format:      "parquet",
		Start:       start,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.RecordCount != 120 || res.MeterType != "crank_torque" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}

	rows := readCSV(t, res.RecordsPath)
	if len(rows) != 121 {
		t.Fatalf("expected 120 record rows, got %d", len(rows)-1)
	}
	wantHeader := []string{"Record Time", "Rotations", "Energy", "Avg Cadence", "Avg Power", "Source", "Filler"}
	for i, col := range wantHeader {
		if rows[0][i] != col {
			t.Fatalf("unexpected header column %d: got %q want %q", i, rows[0][i], col)
		}
	}
	if rows[1][0] != "1.000000" || rows[120][0] != "120.000000" {
		t.Fatalf("unexpected record times %q .. %q", rows[1][0], rows[120][0])
	}

	aux := readCSV(t, res.AuxPath)
	var teps, balance int
	for _, row := range aux[1:] {
		switch row[0] {
		case "te_ps":
			teps++
			if row[3] != "80.000000" || row[7] != "true" {
				t.Fatalf("unexpected te/ps row %v", row)
			}
		case "balance":
			balance++
			if row[8] != "50" || row[9] != "true" {
				t.Fatalf("unexpected balance row %v", row)
			}
		}
	}
	if teps != 121 || balance != 121 {
		t.Fatalf("aux rows: te_ps=%d balance=%d", teps, balance)
	}

	summary := ActivitySummaryFile{}
	data, err := os.ReadFile(res.SummaryPath)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	wantPower := math.Pi * 815 / 16
	if math.Abs(summary.AvgPowerW-wantPower) > 0.01 || math.Abs(summary.AvgCadenceRPM-60) > 0.01 {
		t.Fatalf("summary power/cadence: %v / %v", summary.AvgPowerW, summary.AvgCadenceRPM)
	}
	if summary.StartTSUTC != "2026-05-04T07:30:00Z" || summary.TEPSEvents != 121 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	fr, err := local.NewLocalFileReader(res.ParquetPath)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	pr, err := reader.NewParquetReader(fr, new(recordParquetRow), 1)
	if err != nil {
		t.Fatalf("parquet reader: %v", err)
	}
	if n := pr.GetNumRows(); n != 120 {
		t.Fatalf("parquet rows: got %d", n)
	}
	pr.ReadStop()
	_ = fr.Close()

	notes, err := os.ReadFile(res.NotesPath)
	if err != nil {
		t.Fatalf("read notes: %v", err)
	}
	if !strings.Contains(string(notes), "Every interval was covered by sensor data.") {
		t.Fatalf("unexpected notes:\n%s", notes)
	}
}

func TestRunActivityFITRoundTrips(t *testing.T) {
	capture := writeTestCapture(t, crankTorqueRide(90))
	res, err := Run(Options{
		CapturePath: capture,
		OutDir:      t.TempDir(),
		Format:      "csv",
		Start:       time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC),
		FTPOverride: 200,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.ParquetPath != "" {
		t.Fatalf("csv format should skip parquet, got %s", res.ParquetPath)
	}

	a, err := powerrec.AnalyzeFile(res.FITPath, powerrec.AnalysisConfig{FTPWatts: 200})
	if err != nil {
		t.Fatalf("AnalyzeFile() error: %v", err)
	}
	if a.RecordCount != 90 || a.ElapsedSeconds != 90 {
		t.Fatalf("fit records=%d elapsed=%v", a.RecordCount, a.ElapsedSeconds)
	}
	if a.AvgPowerWatts != 160 || a.AvgCadence != 60 {
		t.Fatalf("fit power=%v cadence=%v", a.AvgPowerWatts, a.AvgCadence)
	}
	if !a.StartTime.Equal(time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)) {
		t.Fatalf("fit start: %v", a.StartTime)
	}
}

func TestRunRefusesToOverwrite(t *testing.T) {
	capture := writeTestCapture(t, crankTorqueRide(5))
	outDir := t.TempDir()
	opts := Options{CapturePath: capture, OutDir: outDir, Format: "csv", Start: time.Now()}

	if _, err := Run(opts); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	if _, err := Run(opts); err == nil {
		t.Fatalf("expected an error when outputs exist")
	}
	opts.Overwrite = true
	if _, err := Run(opts); err != nil {
		t.Fatalf("Run() with overwrite: %v", err)
	}
}

func TestRunValidatesOptions(t *testing.T) {
	if _, err := Run(Options{OutDir: t.TempDir()}); err == nil {
		t.Fatalf("expected missing capture error")
	}
	if _, err := Run(Options{CapturePath: "x.csv"}); err == nil {
		t.Fatalf("expected missing output error")
	}
	if _, err := Run(Options{CapturePath: "x.csv", OutDir: t.TempDir(), Format: "xlsx"}); err == nil {
		t.Fatalf("expected format error")
	}
	capture := writeTestCapture(t, crankTorqueRide(3))
	_, err := Run(Options{CapturePath: capture, OutDir: t.TempDir(), MeterHint: "te_ps"})
	if err == nil {
		t.Fatalf("expected meter hint error")
	}
}

func TestRunBytesProducesArtifacts(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCapture(&buf, crankTorqueRide(30)); err != nil {
		t.Fatalf("write capture: %v", err)
	}

	res, err := RunBytes(BytesOptions{
		SourceFileName: "ride.csv",
		CaptureData:    buf.Bytes(),
		Format:         "parquet",
		CopySource:     true,
		Start:          time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RunBytes() error: %v", err)
	}

	required := []string{
		"records.csv",
		"aux.csv",
		"records.parquet",
		"activity.fit",
		"summary.json",
		"ride_notes.txt",
		"capture.csv",
	}
	for _, name := range required {
		if len(res.Files[name]) == 0 {
			t.Fatalf("missing artifact %s", name)
		}
	}
	if !bytes.HasPrefix(res.Files["records.parquet"], []byte("PAR1")) {
		t.Fatalf("records.parquet is not a parquet file")
	}
	if res.Summary.RecordCount != 30 {
		t.Fatalf("summary records: %d", res.Summary.RecordCount)
	}
}

func TestRunBytesReportsFillerWarning(t *testing.T) {
	frames := crankTorqueRide(10)
	// Drop three seconds of pages.
	var gappy []Frame
	for _, f := range frames {
		if f.RxTime > 4 && f.RxTime < 7 {
			continue
		}
		gappy = append(gappy, f)
	}
	var buf bytes.Buffer
	if err := WriteCapture(&buf, gappy); err != nil {
		t.Fatalf("write capture: %v", err)
	}

	res, err := RunBytes(BytesOptions{CaptureData: buf.Bytes(), Format: "csv"})
	if err != nil {
		t.Fatalf("RunBytes() error: %v", err)
	}
	if res.Summary.FillerRecords == 0 || len(res.Warnings) != 1 {
		t.Fatalf("expected filler warning, got %+v / %v", res.Summary, res.Warnings)
	}
	if _, ok := res.Files["records.parquet"]; ok {
		t.Fatalf("csv format should skip parquet")
	}
}
