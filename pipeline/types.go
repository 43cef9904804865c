package pipeline

import (
	"time"

	powerrec "github.com/lucasjlepore/power-recorder"
	"github.com/rs/zerolog"
)

// Options configures the capture replay pipeline.
type Options struct {
	CapturePath string
	OutDir      string
	Decoder     powerrec.Config // zero RecordInterval selects powerrec.DefaultConfig
	MeterHint   string          // page name or tag; empty auto-detects
	Format      string          // parquet|csv
	Start       time.Time       // wall-clock time of rx_time_s 0; defaults to the capture mtime
	FTPOverride float64
	Overwrite   bool
	Logger      *zerolog.Logger
}

// Result returns generated output paths.
type Result struct {
	OutputDir     string   `json:"output_dir"`
	RecordsPath   string   `json:"records_path"`
	AuxPath       string   `json:"aux_path"`
	ParquetPath   string   `json:"parquet_path,omitempty"`
	FITPath       string   `json:"fit_path"`
	SummaryPath   string   `json:"summary_path"`
	NotesPath     string   `json:"notes_path"`
	RecordCount   int      `json:"record_count"`
	FillerRecords int      `json:"filler_records"`
	MeterType     string   `json:"meter_type"`
	Warnings      []string `json:"warnings,omitempty"`
}

// BytesOptions configures the in-memory variant of the pipeline.
type BytesOptions struct {
	SourceFileName string
	CaptureData    []byte
	Decoder        powerrec.Config // zero RecordInterval selects powerrec.DefaultConfig
	MeterHint      string
	Format         string
	Start          time.Time // defaults to now
	FTPOverride    float64
	CopySource     bool
}

// BytesResult holds every artifact keyed by file name.
type BytesResult struct {
	Files    map[string][]byte   `json:"-"`
	Summary  ActivitySummaryFile `json:"summary"`
	Warnings []string            `json:"warnings,omitempty"`
}

// Frame is one captured page and the receiver time it arrived at.
type Frame struct {
	RxTime  float64
	Payload []byte
}

// ActivitySummaryFile contains one-session aggregate metrics.
type ActivitySummaryFile struct {
	StartTSUTC      string   `json:"start_ts_utc"`
	DurationS       float64  `json:"duration_s"`
	RecordIntervalS float64  `json:"record_interval_s"`
	RecordCount     int      `json:"record_count"`
	FillerRecords   int      `json:"filler_records"`
	MeterType       string   `json:"meter_type"`
	AvgPowerW       float64  `json:"avg_power_w"`
	NPW             float64  `json:"np_w"`
	MaxPowerW       float64  `json:"max_power_w"`
	AvgCadenceRPM   float64  `json:"avg_cadence_rpm"`
	MaxCadenceRPM   float64  `json:"max_cadence_rpm"`
	TotalWorkKJ     float64  `json:"total_work_kj"`
	TotalRotations  float64  `json:"total_rotations"`
	Best20MinW      float64  `json:"best_20min_w"`
	FTPWUsed        *float64 `json:"ftp_w_used,omitempty"`
	FTPSource       string   `json:"ftp_source"`
	IF              *float64 `json:"if,omitempty"`
	TSSLike         *float64 `json:"tss_like,omitempty"`
	TEPSEvents      int      `json:"teps_events"`
	BalanceEvents   int      `json:"balance_events"`
	Warnings        []string `json:"warnings,omitempty"`
}
