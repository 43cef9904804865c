package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	powerrec "github.com/lucasjlepore/power-recorder"
	"github.com/lucasjlepore/power-recorder/pipeline"
	"github.com/rs/zerolog"
)

func main() {
	def := powerrec.DefaultConfig()
	var (
		capturePath = flag.String("capture", "", "Path to capture CSV (rx_time_s,payload_hex)")
		outDir      = flag.String("out", "", "Output directory")
		interval    = flag.Float64("interval", def.RecordInterval, "Record interval in seconds")
		timeBase    = flag.Float64("timebase", 0, "Sensor time base in seconds (0 = event-based)")
		resync      = flag.Float64("resync", def.ResyncInterval, "Resync interval in seconds")
		maxGap      = flag.Float64("maxgap", def.MaxGap, "Longest silence in seconds that is back-filled")
		rotation    = flag.String("rotation", def.WheelRotation.String(), "Wheel torque rotation source: cadence|wheel_speed")
		meter       = flag.String("meter", "", "Meter type hint: power_only|wheel_torque|crank_torque|crank_torque_frequency")
		format      = flag.String("format", "parquet", "Record table format: parquet|csv")
		start       = flag.String("start", "", "Wall-clock time of rx_time_s 0 (RFC 3339); defaults to the capture mtime")
		ftp         = flag.Float64("ftp", 0, "FTP override in watts")
		overwrite   = flag.Bool("overwrite", false, "Replace outputs of a previous run")
		verbose     = flag.Bool("v", false, "Log decoder resyncs and gap fills")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --capture capture.csv --out outdir [--interval 1] [--meter crank_torque] [--format parquet|csv]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if strings.TrimSpace(*capturePath) == "" || strings.TrimSpace(*outDir) == "" {
		flag.Usage()
		os.Exit(2)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	mode, err := powerrec.ParseRotationMode(*rotation)
	if err != nil {
		fmt.Fprintf(os.Stderr, "powerrecord: %v\n", err)
		os.Exit(2)
	}
	var startTime time.Time
	if *start != "" {
		startTime, err = time.Parse(time.RFC3339, *start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "powerrecord: --start: %v\n", err)
			os.Exit(2)
		}
	}

	cfg := def
	cfg.RecordInterval = *interval
	cfg.TimeBase = *timeBase
	cfg.ResyncInterval = *resync
	cfg.MaxGap = *maxGap
	cfg.WheelRotation = mode

	result, err := pipeline.Run(pipeline.Options{
		CapturePath: *capturePath,
		OutDir:      *outDir,
		Decoder:     cfg,
		MeterHint:   *meter,
		Format:      *format,
		Start:       startTime,
		FTPOverride: *ftp,
		Overwrite:   *overwrite,
		Logger:      &logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "powerrecord failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("powerrecord complete\n")
	fmt.Printf("Output dir:          %s\n", result.OutputDir)
	fmt.Printf("meter:               %s\n", result.MeterType)
	fmt.Printf("records:             %d (%d filled)\n", result.RecordCount, result.FillerRecords)
	fmt.Printf("records.csv:         %s\n", result.RecordsPath)
	if result.ParquetPath != "" {
		fmt.Printf("records.parquet:     %s\n", result.ParquetPath)
	}
	fmt.Printf("aux.csv:             %s\n", result.AuxPath)
	fmt.Printf("activity.fit:        %s\n", result.FITPath)
	fmt.Printf("summary.json:        %s\n", result.SummaryPath)
	fmt.Printf("ride notes:          %s\n", result.NotesPath)
	for _, w := range result.Warnings {
		fmt.Printf("warning:             %s\n", w)
	}
}
