package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucasjlepore/power-recorder/config"
	"github.com/lucasjlepore/power-recorder/pipeline"
	"github.com/lucasjlepore/power-recorder/relay"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "powerrelay: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("powerrelay failed")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	logger = logger.Level(level).With().Timestamp().Str("service", "powerrelay").Logger()
	if err != nil {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("invalid log level, defaulting to info")
	}
	return logger
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	decoder, meter, err := cfg.Decoder.Session()
	if err != nil {
		return err
	}

	var store relay.RecordStore
	if cfg.BigQuery.Enabled() {
		client, err := relay.NewBigQueryClient(ctx, cfg.BigQuery, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		bq, err := relay.NewBigQueryStore(ctx, client, cfg.BigQuery, logger)
		if err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				logger.Error().Int("code", apiErr.Code).Msg("bigquery rejected the table setup; check permissions and that the dataset exists")
			}
			return err
		}
		defer bq.Close()
		store = bq
	}

	// The broker may deliver frames as soon as it connects; hold them until
	// the relay exists.
	var rl *relay.Relay
	ready := make(chan struct{})
	handler := func(payload []byte) {
		<-ready
		if rl == nil {
			return
		}
		if err := rl.Handle(payload); err != nil {
			logger.Debug().Err(err).Msg("frame dropped")
		}
	}

	client, err := relay.NewPahoClient(cfg.MQTT, handler, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	rl, err = relay.New(relay.Config{
		RecordTopic: cfg.RecordTopic,
		AuxTopic:    cfg.AuxTopic,
		Decoder:     decoder,
		MeterHint:   meter,
		BufferSize:  cfg.BufferSize,
		BatchSize:   cfg.BatchSize,
		KeepFrames:  cfg.CaptureOut != "",
	}, client, store, logger)
	if err != nil {
		close(ready)
		return err
	}
	close(ready)
	logger.Info().
		Str("session_id", rl.SessionID()).
		Str("frame_topic", cfg.MQTT.FrameTopic).
		Str("record_topic", cfg.RecordTopic).
		Bool("bigquery", store != nil).
		Msg("relay started")

	done := make(chan error, 1)
	go func() { done <- rl.Run(ctx) }()

	<-ctx.Done()
	logger.Warn().Msg("shutdown signal received")

	select {
	case err = <-done:
	case <-time.After(cfg.ShutdownTimeout):
		err = fmt.Errorf("relay did not drain within %s", cfg.ShutdownTimeout)
	}

	stats := rl.Stats()
	logger.Info().
		Int64("frames", stats.Frames).
		Int64("rejected", stats.Rejected).
		Int64("records", stats.Records).
		Int64("publish_errors", stats.PublishErrors).
		Int64("store_errors", stats.StoreErrors).
		Msg("relay stopped")

	if cfg.CaptureOut != "" {
		if werr := writeCapture(cfg.CaptureOut, rl.Frames()); werr != nil {
			return errors.Join(err, werr)
		}
		logger.Info().Str("path", cfg.CaptureOut).Msg("capture written")
	}
	return err
}

func writeCapture(path string, frames []pipeline.Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create capture: %w", err)
	}
	if err := pipeline.WriteCapture(f, frames); err != nil {
		f.Close()
		return fmt.Errorf("write capture: %w", err)
	}
	return f.Close()
}
