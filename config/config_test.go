package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	powerrec "github.com/lucasjlepore/power-recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
log_level: debug
mqtt:
  broker_url: tcp://broker.local:1883
  frame_topic: garage/frames
  keep_alive: 45s
record_topic: garage/records
decoder:
  record_interval: 0.5
  meter: crank_torque
  wheel_rotation: wheel_speed
bigquery:
  project_id: rides-project
  dataset_id: rides
  table_id: records
batch_size: 30
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "powerrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{"--config", "", "--broker", "tcp://localhost:1883"})
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "power-relay", cfg.MQTT.ClientID)
	assert.Equal(t, "power/frames", cfg.MQTT.FrameTopic)
	assert.Equal(t, 30*time.Second, cfg.MQTT.KeepAlive)
	assert.Equal(t, "power/records", cfg.RecordTopic)
	assert.Equal(t, 1.0, cfg.Decoder.RecordInterval)
	assert.Equal(t, 10.0, cfg.Decoder.ResyncInterval)
	assert.Equal(t, 60, cfg.BatchSize)
	assert.Equal(t, 1024, cfg.BufferSize)
	assert.False(t, cfg.BigQuery.Enabled())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, testYAML)

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "tcp://broker.local:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "garage/frames", cfg.MQTT.FrameTopic)
	assert.Equal(t, 45*time.Second, cfg.MQTT.KeepAlive)
	assert.Equal(t, "garage/records", cfg.RecordTopic)
	assert.Equal(t, 30, cfg.BatchSize)
	assert.True(t, cfg.BigQuery.Enabled())

	dec, meter, err := cfg.Decoder.Session()
	require.NoError(t, err)
	assert.Equal(t, 0.5, dec.RecordInterval)
	assert.Equal(t, powerrec.PropagateWheelSpeed, dec.WheelRotation)
	assert.Equal(t, powerrec.PageCrankTorque, meter)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, testYAML)
	t.Setenv("POWERREC_RECORD_TOPIC", "env/records")
	t.Setenv("POWERREC_MQTT_FRAME_TOPIC", "env/frames")
	t.Setenv("POWERREC_LOG_LEVEL", "warn")

	cfg, err := Load([]string{"--config", path, "--frame-topic", "flag/frames"})
	require.NoError(t, err)

	assert.Equal(t, "flag/frames", cfg.MQTT.FrameTopic)
	assert.Equal(t, "env/records", cfg.RecordTopic)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "tcp://broker.local:1883", cfg.MQTT.BrokerURL)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "--broker", "tcp://x:1883"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadValidates(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"no broker", []string{"--config", ""}, "broker_url"},
		{"bad meter", []string{"--config", "", "--broker", "tcp://x:1883", "--meter", "te_ps"}, "decoder meter"},
		{"bad interval", []string{"--config", "", "--broker", "tcp://x:1883", "--interval", "-1"}, "record interval"},
		{"partial bigquery", []string{"--config", "", "--broker", "tcp://x:1883", "--bq-project-id", "p"}, "bigquery"},
		{"zero batch", []string{"--config", "", "--broker", "tcp://x:1883", "--batch-size", "0"}, "batch_size"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(tc.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
