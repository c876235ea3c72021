package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stormstack/lightning/pkg/errdefs"
)

// EngineConfig configures an engine node daemon.
type EngineConfig struct {
	Listen           string   `yaml:"listen"`
	AdvertiseAddress string   `yaml:"advertiseAddress"`
	ControlPlane     string   `yaml:"controlPlane"`
	APIKey           string   `yaml:"apiKey"`
	TokenSecret      string   `yaml:"tokenSecret"`
	DataDir          string   `yaml:"dataDir"`
	MaxMatches       int      `yaml:"maxMatches"`
	Modules          []string `yaml:"modules"`
	TickIntervalMs   int64    `yaml:"tickIntervalMs"`
	MemoryMaxBytes   int64    `yaml:"memoryMaxBytes"`
	LogLevel         string   `yaml:"logLevel"`
	LogFormat        string   `yaml:"logFormat"`
}

// ControlConfig configures the control plane daemon.
type ControlConfig struct {
	Listen              string `yaml:"listen"`
	DataDir             string `yaml:"dataDir"`
	APIKey              string `yaml:"apiKey"`
	TokenSecret         string `yaml:"tokenSecret"`
	HeartbeatIntervalMs int64  `yaml:"heartbeatIntervalMs"`
	ReattachWindowMs    int64  `yaml:"reattachWindowMs"`
	LogLevel            string `yaml:"logLevel"`
	LogFormat           string `yaml:"logFormat"`
}

// DefaultEngine returns the engine daemon defaults.
func DefaultEngine() EngineConfig {
	return EngineConfig{
		Listen:           ":8080",
		AdvertiseAddress: "localhost:8080",
		MaxMatches:       64,
		TickIntervalMs:   50,
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// DefaultControl returns the control plane defaults.
func DefaultControl() ControlConfig {
	return ControlConfig{
		Listen:              ":8081",
		DataDir:             "/var/lib/lightning",
		HeartbeatIntervalMs: 5000,
		ReattachWindowMs:    (5 * time.Minute).Milliseconds(),
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// LoadEngine reads an engine config file over the defaults. An empty
// path returns the defaults unchanged.
func LoadEngine(path string) (EngineConfig, error) {
	cfg := DefaultEngine()
	if path == "" {
		return cfg, nil
	}
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadControl reads a control plane config file over the defaults.
func LoadControl(path string) (ControlConfig, error) {
	cfg := DefaultControl()
	if path == "" {
		return cfg, nil
	}
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errdefs.Wrap(errdefs.KindBadRequest, err, "cannot read config %s", path)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return errdefs.Wrap(errdefs.KindBadRequest, err, "cannot parse config %s", path)
	}
	return nil
}
