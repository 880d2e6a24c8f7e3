package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ranging-go/calibration"
	"ranging-go/distance"
	"ranging-go/forward"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":44333", cfg.Server.Listen)

	pc, err := cfg.Pipeline.Distance()
	require.NoError(t, err)
	assert.Equal(t, distance.DefaultPipelineConfig(), pc)
	assert.Equal(t, calibration.DefaultConfig(), cfg.Calibration.Controller())
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `server:
  listen: ":9100"
pipeline:
  measurementNoise: 4
  useClustering: false
  movementMode: running
calibration:
  store: sqlite
  path: /var/lib/ranging/cal.db
  peer: 0000beef
mqtt:
  broker: tcp://localhost:1883
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Listen)
	assert.Equal(t, ":8080", cfg.Server.HTTP)
	assert.Equal(t, 4.0, cfg.Pipeline.MeasurementNoise)
	assert.Equal(t, distance.DefaultProcessNoise, cfg.Pipeline.ProcessNoise)
	assert.False(t, cfg.Pipeline.UseClustering)
	assert.Equal(t, "sqlite", cfg.Calibration.Store)
	assert.Equal(t, "0000beef", cfg.Calibration.Peer)
	assert.Equal(t, calibration.DefaultTargetSamples, cfg.Calibration.TargetSamples)
	assert.Equal(t, "ranging", cfg.MQTT.Prefix)

	pc, err := cfg.Pipeline.Distance()
	require.NoError(t, err)
	assert.Equal(t, distance.Running, pc.MovementMode)
	assert.False(t, pc.Estimator.UseClustering)
}

func TestLoad_NotExists(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "pipeline: [1, 2"))
	assert.ErrorContains(t, err, "parsing config YAML")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no listen", func(c *Config) { c.Server.Listen = "" }, "server.listen"},
		{"zero noise", func(c *Config) { c.Pipeline.ProcessNoise = 0 }, "noise"},
		{"negative threshold", func(c *Config) { c.Pipeline.RejectionThreshold = -1 }, "rejectionThreshold"},
		{"zero rejections", func(c *Config) { c.Pipeline.MaxRejections = 0 }, "maxRejections"},
		{"zero batch", func(c *Config) { c.Pipeline.SampleSize = 0 }, "sampleSize"},
		{"variation", func(c *Config) { c.Pipeline.VariationPercent = 150 }, "variationPercent"},
		{"mode", func(c *Config) { c.Pipeline.MovementMode = "cycling" }, "movementMode"},
		{"target", func(c *Config) { c.Calibration.TargetSamples = 0 }, "targetSamples"},
		{"discard", func(c *Config) { c.Calibration.DiscardSamples = 110 }, "discardSamples"},
		{"store", func(c *Config) { c.Calibration.Store = "redis" }, "calibration.store"},
		{"store path", func(c *Config) { c.Calibration.Path = "" }, "calibration.path"},
		{"mqtt prefix", func(c *Config) { c.MQTT.Broker = "tcp://x:1883"; c.MQTT.Prefix = "" }, "mqtt.prefix"},
		{"forward proto", func(c *Config) { c.Forward.Targets = []ForwardTarget{{Proto: "sctp", Addr: "x:1"}} }, "forward.targets[0]"},
		{"forward addr", func(c *Config) { c.Forward.Targets = []ForwardTarget{{Proto: "tcp"}} }, "addr is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	s, err := CalibrationConfig{Store: "none"}.OpenStore()
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = CalibrationConfig{Store: "file", Path: filepath.Join(dir, "c.json")}.OpenStore()
	require.NoError(t, err)
	assert.IsType(t, &calibration.FileStore{}, s)

	s, err = CalibrationConfig{Store: "sqlite", Path: filepath.Join(dir, "c.db")}.OpenStore()
	require.NoError(t, err)
	require.IsType(t, &calibration.SQLiteStore{}, s)
	assert.NoError(t, s.(*calibration.SQLiteStore).Close())

	_, err = CalibrationConfig{Store: "redis"}.OpenStore()
	assert.Error(t, err)
}

func TestForwardSender(t *testing.T) {
	s, err := ForwardConfig{}.Sender()
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = ForwardConfig{Header: "RNG", Targets: []ForwardTarget{
		{Proto: "udp", Addr: "127.0.0.1:5555"},
		{Proto: "tcp", Addr: "127.0.0.1:6666", Mask: forward.FlagCalibration},
	}}.Sender()
	require.NoError(t, err)
	assert.Equal(t, 2, s.Targets())

	_, err = ForwardConfig{Targets: []ForwardTarget{{Proto: "udp", Addr: "no-port"}}}.Sender()
	assert.Error(t, err)
}
