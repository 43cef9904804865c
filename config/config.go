// Package config loads the relay settings from defaults, a YAML file,
// POWERREC_ environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	powerrec "github.com/lucasjlepore/power-recorder"
	"github.com/lucasjlepore/power-recorder/relay"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. POWERREC_MQTT_BROKER_URL.
const EnvPrefix = "POWERREC"

// Config holds all settings of the relay binary.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	MQTT relay.MQTTConfig `mapstructure:"mqtt"`

	RecordTopic string `mapstructure:"record_topic"`
	AuxTopic    string `mapstructure:"aux_topic"`

	Decoder DecoderConfig `mapstructure:"decoder"`

	BigQuery relay.BigQueryConfig `mapstructure:"bigquery"`

	BufferSize int `mapstructure:"buffer_size"`
	BatchSize  int `mapstructure:"batch_size"`

	// CaptureOut, when set, receives every decoded frame as a capture CSV on shutdown.
	CaptureOut string `mapstructure:"capture_out"`
	// ShutdownTimeout bounds the final drain and flush.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DecoderConfig mirrors powerrec.Config with text forms for the enums.
type DecoderConfig struct {
	RecordInterval float64 `mapstructure:"record_interval"`
	TimeBase       float64 `mapstructure:"time_base"`
	ResyncInterval float64 `mapstructure:"resync_interval"`
	MaxGap         float64 `mapstructure:"max_gap"`
	BundleWindow   float64 `mapstructure:"bundle_window"`
	WheelRotation  string  `mapstructure:"wheel_rotation"`
	Meter          string  `mapstructure:"meter"`
}

// Session converts the decoder settings and parses the meter hint.
func (d DecoderConfig) Session() (powerrec.Config, powerrec.PageType, error) {
	cfg := powerrec.DefaultConfig()
	cfg.RecordInterval = d.RecordInterval
	cfg.TimeBase = d.TimeBase
	cfg.ResyncInterval = d.ResyncInterval
	cfg.MaxGap = d.MaxGap
	cfg.BundleWindow = d.BundleWindow

	mode, err := powerrec.ParseRotationMode(d.WheelRotation)
	if err != nil {
		return powerrec.Config{}, powerrec.MeterUnknown, err
	}
	cfg.WheelRotation = mode

	meter, err := powerrec.ParsePageType(d.Meter)
	if err != nil {
		return powerrec.Config{}, powerrec.MeterUnknown, fmt.Errorf("decoder meter: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return powerrec.Config{}, powerrec.MeterUnknown, err
	}
	return cfg, meter, nil
}

// Validate checks the settings the relay cannot run without.
func (c *Config) Validate() error {
	if c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required")
	}
	if c.MQTT.FrameTopic == "" {
		return fmt.Errorf("mqtt.frame_topic is required")
	}
	if c.RecordTopic == "" {
		return fmt.Errorf("record_topic is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.BigQuery.ProjectID != "" && !c.BigQuery.Enabled() {
		return fmt.Errorf("bigquery needs dataset_id and table_id when project_id is set")
	}
	if _, _, err := c.Decoder.Session(); err != nil {
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := powerrec.DefaultConfig()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.client_id", "power-relay")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.frame_topic", "power/frames")
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)

	v.SetDefault("record_topic", "power/records")
	v.SetDefault("aux_topic", "")

	v.SetDefault("decoder.record_interval", def.RecordInterval)
	v.SetDefault("decoder.time_base", 0.0)
	v.SetDefault("decoder.resync_interval", def.ResyncInterval)
	v.SetDefault("decoder.max_gap", def.MaxGap)
	v.SetDefault("decoder.bundle_window", def.BundleWindow)
	v.SetDefault("decoder.wheel_rotation", def.WheelRotation.String())
	v.SetDefault("decoder.meter", "")

	v.SetDefault("bigquery.project_id", "")
	v.SetDefault("bigquery.dataset_id", "")
	v.SetDefault("bigquery.table_id", "")
	v.SetDefault("bigquery.credentials_file", "")

	v.SetDefault("buffer_size", 1024)
	v.SetDefault("batch_size", 60)
	v.SetDefault("capture_out", "")
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"log-level":     "log_level",
	"log-format":    "log_format",
	"broker":        "mqtt.broker_url",
	"client-id":     "mqtt.client_id",
	"frame-topic":   "mqtt.frame_topic",
	"record-topic":  "record_topic",
	"aux-topic":     "aux_topic",
	"interval":      "decoder.record_interval",
	"timebase":      "decoder.time_base",
	"resync":        "decoder.resync_interval",
	"meter":         "decoder.meter",
	"bq-project-id": "bigquery.project_id",
	"bq-dataset-id": "bigquery.dataset_id",
	"bq-table-id":   "bigquery.table_id",
	"capture-out":   "capture_out",
	"batch-size":    "batch_size",
}

func newFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.String("config", "powerrelay.yaml", "Path to config file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "json", "Log format (json, console)")
	flags.String("broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	flags.String("client-id", "power-relay", "MQTT client ID")
	flags.String("frame-topic", "power/frames", "Topic carrying raw frames")
	flags.String("record-topic", "power/records", "Topic receiving decoded records")
	flags.String("aux-topic", "", "Topic receiving TE/PS and balance events (empty disables)")
	flags.Float64("interval", 1.0, "Record interval in seconds")
	flags.Float64("timebase", 0, "Sensor time base in seconds (0 = event-based)")
	flags.Float64("resync", 10.0, "Resync interval in seconds")
	flags.String("meter", "", "Meter type hint (power_only, wheel_torque, crank_torque, crank_torque_frequency)")
	flags.String("bq-project-id", "", "BigQuery project ID")
	flags.String("bq-dataset-id", "", "BigQuery dataset ID")
	flags.String("bq-table-id", "", "BigQuery table ID")
	flags.String("capture-out", "", "Write received frames to this capture CSV on shutdown")
	flags.Int("batch-size", 60, "Records per BigQuery insert")
	return flags
}

// Load builds the relay config. Precedence is flag, environment, file, default.
func Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	flags := newFlagSet("powerrelay")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	// An empty --config skips the file.
	if configFile, _ := flags.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
			// An explicit --config must exist.
			if !missing || flags.Changed("config") {
				return nil, fmt.Errorf("read config %s: %w", configFile, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
