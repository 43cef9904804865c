package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	powerrec "github.com/lucasjlepore/power-recorder"
	"github.com/rs/zerolog"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

const (
	recordsFileName = "records.csv"
	auxFileName     = "aux.csv"
	parquetFileName = "records.parquet"
	fitFileName     = "activity.fit"
	summaryFileName = "summary.json"
	notesFileName   = "ride_notes.txt"
	sourceFileName  = "capture.csv"
)

// Run replays a capture through the decoder and writes all artifacts.
func Run(opts Options) (*Result, error) {
	if strings.TrimSpace(opts.CapturePath) == "" {
		return nil, fmt.Errorf("capture path is required")
	}
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	format, err := normalizeFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(opts.CapturePath)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	frames, err := ReadCapture(f)
	if err != nil {
		return nil, err
	}

	start := opts.Start
	if start.IsZero() {
		if info, err := f.Stat(); err == nil {
			start = info.ModTime()
		}
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	out, err := decodeFrames(frames, opts.Decoder, opts.MeterHint, logger)
	if err != nil {
		return nil, err
	}
	art, err := buildArtifacts(out, start, opts.FTPOverride)
	if err != nil {
		return nil, err
	}

	if err := prepareOutDir(opts.OutDir, opts.Overwrite); err != nil {
		return nil, err
	}
	res := &Result{
		OutputDir:     opts.OutDir,
		RecordsPath:   filepath.Join(opts.OutDir, recordsFileName),
		AuxPath:       filepath.Join(opts.OutDir, auxFileName),
		FITPath:       filepath.Join(opts.OutDir, fitFileName),
		SummaryPath:   filepath.Join(opts.OutDir, summaryFileName),
		NotesPath:     filepath.Join(opts.OutDir, notesFileName),
		RecordCount:   len(out.records),
		FillerRecords: art.summary.FillerRecords,
		MeterType:     out.meter.String(),
		Warnings:      out.warnings,
	}
	for path, data := range map[string][]byte{
		res.RecordsPath: art.recordsCSV,
		res.AuxPath:     art.auxCSV,
		res.FITPath:     art.fit,
		res.SummaryPath: art.summaryJSON,
		res.NotesPath:   []byte(art.notes + "\n"),
	} {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
	}
	if format == "parquet" {
		res.ParquetPath = filepath.Join(opts.OutDir, parquetFileName)
		if err := writeRecordsParquet(res.ParquetPath, out.records); err != nil {
			return nil, fmt.Errorf("write records parquet: %w", err)
		}
	}
	return res, nil
}

// RunBytes executes the pipeline without touching the filesystem.
func RunBytes(opts BytesOptions) (*BytesResult, error) {
	if len(opts.CaptureData) == 0 {
		return nil, fmt.Errorf("capture data is required")
	}
	format, err := normalizeFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	frames, err := ReadCapture(bytes.NewReader(opts.CaptureData))
	if err != nil {
		return nil, err
	}
	start := opts.Start
	if start.IsZero() {
		start = time.Now().UTC()
	}

	out, err := decodeFrames(frames, opts.Decoder, opts.MeterHint, zerolog.Nop())
	if err != nil {
		return nil, err
	}
	art, err := buildArtifacts(out, start, opts.FTPOverride)
	if err != nil {
		return nil, err
	}

	files := map[string][]byte{
		recordsFileName: art.recordsCSV,
		auxFileName:     art.auxCSV,
		fitFileName:     art.fit,
		summaryFileName: art.summaryJSON,
		notesFileName:   []byte(art.notes + "\n"),
	}
	if format == "parquet" {
		data, err := marshalRecordsParquet(out.records)
		if err != nil {
			return nil, fmt.Errorf("marshal records parquet: %w", err)
		}
		files[parquetFileName] = data
	}
	if opts.CopySource {
		files[sourceFileName] = append([]byte(nil), opts.CaptureData...)
	}
	return &BytesResult{Files: files, Summary: art.summary, Warnings: out.warnings}, nil
}

func normalizeFormat(format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "parquet"
	}
	if format != "parquet" && format != "csv" {
		return "", fmt.Errorf("unsupported format %q (expected parquet|csv)", format)
	}
	return format, nil
}

func prepareOutDir(dir string, overwrite bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if overwrite {
		return nil
	}
	_, err := os.Stat(filepath.Join(dir, recordsFileName))
	if err == nil {
		return fmt.Errorf("output directory %s already holds %s (use overwrite)", dir, recordsFileName)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type decodeOutput struct {
	interval float64
	records  []powerrec.Record
	aux      powerrec.AuxBuffer
	meter    powerrec.PageType
	warnings []string
}

func decodeFrames(frames []Frame, cfg powerrec.Config, hint string, logger zerolog.Logger) (*decodeOutput, error) {
	out := &decodeOutput{}
	if cfg.RecordInterval == 0 {
		cfg = powerrec.DefaultConfig()
	}
	var records powerrec.RecordBuffer
	s, err := powerrec.NewSession(cfg, &records, powerrec.WithAuxSink(&out.aux), powerrec.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	meter, err := powerrec.ParsePageType(hint)
	if err != nil {
		return nil, fmt.Errorf("meter hint: %w", err)
	}
	if meter != powerrec.MeterUnknown {
		s.SetMeterTypeHint(meter)
	}

	for _, f := range frames {
		s.DecodeFrame(f.RxTime, f.Payload)
	}

	out.interval = s.Config().RecordInterval
	out.records = records.Records
	out.meter = s.DispatcherState().ActiveMeterType
	if len(out.records) == 0 {
		return nil, fmt.Errorf("no power records decoded from %d frames", len(frames))
	}
	fillers := 0
	for _, r := range out.records {
		if r.Filler {
			fillers++
		}
	}
	if fillers > 0 {
		out.warnings = append(out.warnings, fmt.Sprintf("%d of %d records were filled across dropouts", fillers, len(out.records)))
	}
	logger.Info().
		Int("frames", len(frames)).
		Int("records", len(out.records)).
		Int("filler_records", fillers).
		Stringer("meter", out.meter).
		Msg("capture decoded")
	return out, nil
}

type artifacts struct {
	recordsCSV  []byte
	auxCSV      []byte
	fit         []byte
	summaryJSON []byte
	summary     ActivitySummaryFile
	notes       string
}

func buildArtifacts(out *decodeOutput, start time.Time, ftp float64) (*artifacts, error) {
	if start.IsZero() {
		start = time.Now()
	}
	start = start.UTC().Truncate(time.Second)
	analysis := powerrec.AnalyzeRecords(out.records, out.interval, start, powerrec.AnalysisConfig{FTPWatts: ftp})

	art := &artifacts{notes: analysis.Notes}
	var err error
	if art.recordsCSV, err = marshalRecordsCSV(out.records); err != nil {
		return nil, fmt.Errorf("write records csv: %w", err)
	}
	if art.auxCSV, err = marshalAuxCSV(&out.aux); err != nil {
		return nil, fmt.Errorf("write aux csv: %w", err)
	}
	if art.fit, err = marshalActivityFIT(out.records, analysis, start); err != nil {
		return nil, fmt.Errorf("encode activity fit: %w", err)
	}
	art.summary = buildActivitySummary(analysis, out)
	if art.summaryJSON, err = marshalJSON(art.summary); err != nil {
		return nil, fmt.Errorf("write summary json: %w", err)
	}
	return art, nil
}

func buildActivitySummary(a *powerrec.Analysis, out *decodeOutput) ActivitySummaryFile {
	s := ActivitySummaryFile{
		DurationS:       a.ElapsedSeconds,
		RecordIntervalS: out.interval,
		RecordCount:     a.RecordCount,
		FillerRecords:   a.FillerRecords,
		MeterType:       out.meter.String(),
		AvgPowerW:       a.AvgPowerWatts,
		NPW:             a.NormalizedPower,
		MaxPowerW:       a.MaxPowerWatts,
		AvgCadenceRPM:   a.AvgCadence,
		MaxCadenceRPM:   a.MaxCadence,
		TotalWorkKJ:     a.WorkKilojoules,
		TotalRotations:  a.TotalRotations,
		Best20MinW:      a.Best20MinPower,
		FTPSource:       a.FTPSource,
		TEPSEvents:      len(out.aux.TorqueEffectiveness),
		BalanceEvents:   len(out.aux.PowerBalance),
		Warnings:        out.warnings,
	}
	if !a.StartTime.IsZero() {
		s.StartTSUTC = a.StartTime.UTC().Format(time.RFC3339)
	}
	if a.FTPWatts > 0 {
		s.FTPWUsed = floatPtr(a.FTPWatts)
		s.IF = floatPtr(a.IntensityFactor)
		s.TSSLike = floatPtr(a.TrainingStress)
	}
	return s
}

func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// marshalRecordsCSV keeps the column layout of the desktop recorder and adds
// the source page and filler flag.
func marshalRecordsCSV(records []powerrec.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"Record Time", "Rotations", "Energy", "Avg Cadence", "Avg Power", "Source", "Filler"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range records {
		row := []string{
			formatFloat(r.Timestamp),
			formatFloat(r.CumulativeRotation),
			formatFloat(r.CumulativeEnergy),
			formatFloat(float64(r.AverageCadence)),
			formatFloat(float64(r.AveragePower)),
			r.Source.String(),
			strconv.FormatBool(r.Filler),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// marshalAuxCSV writes TE/PS and pedal balance events in one table; columns
// that do not apply to a row kind, or that the sensor marked invalid, are empty.
func marshalAuxCSV(aux *powerrec.AuxBuffer) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"kind", "rx_time_s", "event_count", "left_te_pct", "right_te_pct", "left_ps_pct", "right_ps_pct", "combined_ps", "balance_pct", "right_pedal"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, t := range aux.TorqueEffectiveness {
		row := []string{
			"te_ps",
			formatFloat(t.RxTime),
			strconv.Itoa(int(t.EventCount)),
			formatHalfPercent(t.LeftEffectiveness),
			formatHalfPercent(t.RightEffectiveness),
			formatHalfPercent(t.LeftSmoothness),
			formatHalfPercent(t.RightSmoothness),
			strconv.FormatBool(t.CombinedSmoothness()),
			"", "",
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	for _, b := range aux.PowerBalance {
		pct := ""
		if b.Valid {
			pct = strconv.Itoa(int(b.Percent))
		}
		row := []string{
			"balance",
			formatFloat(b.RxTime),
			strconv.Itoa(int(b.EventCount)),
			"", "", "", "", "",
			pct,
			strconv.FormatBool(b.RightPedal),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

type recordParquetRow struct {
	TimestampS         float64 `parquet:"name=timestamp_s, type=DOUBLE"`
	CumulativeRotation float64 `parquet:"name=cumulative_rotation, type=DOUBLE"`
	CumulativeEnergyJ  float64 `parquet:"name=cumulative_energy_j, type=DOUBLE"`
	AvgCadenceRPM      float32 `parquet:"name=avg_cadence_rpm, type=FLOAT"`
	AvgPowerW          float32 `parquet:"name=avg_power_w, type=FLOAT"`
	Source             string  `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Filler             bool    `parquet:"name=filler, type=BOOLEAN"`
}

func parquetRow(r powerrec.Record) recordParquetRow {
	return recordParquetRow{
		TimestampS:         r.Timestamp,
		CumulativeRotation: r.CumulativeRotation,
		CumulativeEnergyJ:  r.CumulativeEnergy,
		AvgCadenceRPM:      r.AverageCadence,
		AvgPowerW:          r.AveragePower,
		Source:             r.Source.String(),
		Filler:             r.Filler,
	}
}

func writeParquetRows(pw *writer.ParquetWriter, records []powerrec.Record) error {
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range records {
		if err := pw.Write(parquetRow(r)); err != nil {
			_ = pw.WriteStop()
			return err
		}
	}
	return pw.WriteStop()
}

func writeRecordsParquet(path string, records []powerrec.Record) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriter(fw, new(recordParquetRow), 4)
	if err != nil {
		_ = fw.Close()
		return err
	}
	if err := writeParquetRows(pw, records); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}

func formatHalfPercent(p powerrec.HalfPercent) string {
	v, ok := p.Value()
	if !ok {
		return ""
	}
	return formatFloat(v)
}

func floatPtr(v float64) *float64 {
	return &v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
