// Package config loads the engine's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ranging-go/calibration"
	"ranging-go/distance"
	"ranging-go/forward"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Calibration CalibrationConfig `yaml:"calibration"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Forward     ForwardConfig     `yaml:"forward"`
}

type ServerConfig struct {
	Listen       string `yaml:"listen"`
	HTTP         string `yaml:"http"`
	Static       string `yaml:"static"`
	Capture      string `yaml:"capture"`
	FlushAfterMs int64  `yaml:"flushAfterMs"`
}

type PipelineConfig struct {
	ProcessNoise       float64 `yaml:"processNoise"`
	MeasurementNoise   float64 `yaml:"measurementNoise"`
	RejectionThreshold float64 `yaml:"rejectionThreshold"`
	MaxRejections      int     `yaml:"maxRejections"`
	UseClustering      bool    `yaml:"useClustering"`
	SampleSize         int     `yaml:"sampleSize"`
	VariationPercent   int     `yaml:"variationPercent"`
	MaxClusters        int     `yaml:"maxClusters"`
	MovementMode       string  `yaml:"movementMode"`
	MaxVelocity        float64 `yaml:"maxVelocity"`
}

type CalibrationConfig struct {
	TargetSamples  int    `yaml:"targetSamples"`
	DiscardSamples int    `yaml:"discardSamples"`
	Store          string `yaml:"store"` // file, sqlite or none
	Path           string `yaml:"path"`
	Peer           string `yaml:"peer"` // tag address in hex, empty for any
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientId"`
	Prefix   string `yaml:"prefix"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ForwardConfig lists plain UDP/TCP receivers of text records.
type ForwardConfig struct {
	Header  string          `yaml:"header"`
	Targets []ForwardTarget `yaml:"targets"`
}

type ForwardTarget struct {
	Proto string `yaml:"proto"` // udp or tcp
	Addr  string `yaml:"addr"`
	Mask  uint32 `yaml:"mask"` // 0 receives everything
}

// Default returns the documented defaults. MQTT stays disabled until a
// broker is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       ":44333",
			HTTP:         ":8080",
			FlushAfterMs: 2000,
		},
		Pipeline: PipelineConfig{
			ProcessNoise:       distance.DefaultProcessNoise,
			MeasurementNoise:   distance.DefaultMeasurementNoise,
			RejectionThreshold: distance.DefaultRejectionThreshold,
			MaxRejections:      distance.DefaultMaxRejections,
			UseClustering:      true,
			SampleSize:         distance.DefaultSampleSize,
			VariationPercent:   distance.DefaultVariationPercent,
			MaxClusters:        distance.DefaultMaxClusters,
			MovementMode:       distance.Walking.String(),
		},
		Calibration: CalibrationConfig{
			TargetSamples:  calibration.DefaultTargetSamples,
			DiscardSamples: calibration.DefaultDiscardSamples,
			Store:          "file",
			Path:           "calibration.json",
		},
		MQTT: MQTTConfig{
			ClientID: "ranging-engine",
			Prefix:   "ranging",
		},
	}
}

// Load overlays the YAML file at path on top of Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	p := c.Pipeline
	if p.ProcessNoise <= 0 || p.MeasurementNoise <= 0 {
		return fmt.Errorf("pipeline noise values must be positive")
	}
	if p.RejectionThreshold < 0 {
		return fmt.Errorf("pipeline.rejectionThreshold must not be negative")
	}
	if p.MaxRejections < 1 {
		return fmt.Errorf("pipeline.maxRejections must be at least 1")
	}
	if p.SampleSize < 1 {
		return fmt.Errorf("pipeline.sampleSize must be at least 1")
	}
	if p.VariationPercent < 0 || p.VariationPercent > 100 {
		return fmt.Errorf("pipeline.variationPercent must be within 0..100")
	}
	if _, err := distance.ParseMovementMode(p.MovementMode); err != nil {
		return fmt.Errorf("pipeline.movementMode: %w", err)
	}

	cal := c.Calibration
	if cal.TargetSamples < 1 {
		return fmt.Errorf("calibration.targetSamples must be at least 1")
	}
	if cal.DiscardSamples < 0 || cal.DiscardSamples >= cal.TargetSamples {
		return fmt.Errorf("calibration.discardSamples must be within 0..%d", cal.TargetSamples-1)
	}
	switch cal.Store {
	case "none":
	case "file", "sqlite":
		if cal.Path == "" {
			return fmt.Errorf("calibration.path is required for the %s store", cal.Store)
		}
	default:
		return fmt.Errorf("unknown calibration.store %q", cal.Store)
	}

	if c.MQTT.Broker != "" && c.MQTT.Prefix == "" {
		return fmt.Errorf("mqtt.prefix is required when a broker is set")
	}
	for i, t := range c.Forward.Targets {
		if t.Proto != "udp" && t.Proto != "tcp" {
			return fmt.Errorf("forward.targets[%d]: unknown proto %q", i, t.Proto)
		}
		if t.Addr == "" {
			return fmt.Errorf("forward.targets[%d]: addr is required", i)
		}
	}
	return nil
}

// Distance converts the pipeline section into the estimator configuration.
func (p PipelineConfig) Distance() (distance.PipelineConfig, error) {
	mode, err := distance.ParseMovementMode(p.MovementMode)
	if err != nil {
		return distance.PipelineConfig{}, err
	}
	return distance.PipelineConfig{
		ProcessNoise:       p.ProcessNoise,
		MeasurementNoise:   p.MeasurementNoise,
		RejectionThreshold: p.RejectionThreshold,
		MaxRejections:      p.MaxRejections,
		Estimator: distance.EstimatorConfig{
			UseClustering:    p.UseClustering,
			SampleSize:       p.SampleSize,
			VariationPercent: p.VariationPercent,
			MaxClusters:      p.MaxClusters,
		},
		MovementMode: mode,
		MaxVelocity:  p.MaxVelocity,
	}, nil
}

func (c CalibrationConfig) Controller() calibration.Config {
	return calibration.Config{TargetSamples: c.TargetSamples, DiscardSamples: c.DiscardSamples}
}

// OpenStore returns the configured result store, or nil for "none".
// Callers close SQLite stores through io.Closer.
func (c CalibrationConfig) OpenStore() (calibration.Storage, error) {
	switch c.Store {
	case "file":
		return calibration.NewFileStore(c.Path), nil
	case "sqlite":
		s, err := calibration.OpenSQLiteStore(c.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown calibration store %q", c.Store)
}

// Sender builds an unstarted forwarder, or nil when no targets are configured.
func (f ForwardConfig) Sender() (*forward.Sender, error) {
	if len(f.Targets) == 0 {
		return nil, nil
	}
	s := forward.NewSender()
	s.SetHeader(f.Header)
	for _, t := range f.Targets {
		mask := t.Mask
		if mask == 0 {
			mask = forward.FlagAll
		}
		if err := s.Add(t.Proto, t.Addr, mask); err != nil {
			return nil, fmt.Errorf("forward target %s: %w", t.Addr, err)
		}
	}
	return s, nil
}
