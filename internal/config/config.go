// Package config loads the detection server's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/detect"
)

// Config is the detection server configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Detector DetectorConfig `yaml:"detector"`
	Model    ModelConfig    `yaml:"model"`
}

// ServerConfig holds the listening addresses.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsAddr string `yaml:"metrics_addr"`
	PprofAddr   string `yaml:"pprof_addr"`
}

// DetectorConfig selects the backend variant.
type DetectorConfig struct {
	Type       string `yaml:"type"`
	Device     string `yaml:"device"`
	NumThreads int    `yaml:"num_threads"`
}

// ModelConfig locates the model and its input shape.
type ModelConfig struct {
	Path   string `yaml:"path"`
	Height int    `yaml:"height"`
	Width  int    `yaml:"width"`
}

// Defaults applied before the file is read.
var defaults = Config{
	Server: ServerConfig{
		Port:        9099,
		MetricsAddr: ":9090",
		PprofAddr:   ":6060",
	},
	Detector: DetectorConfig{
		Type:       string(detect.KindCPU),
		NumThreads: 3,
	},
	Model: ModelConfig{
		Height: 300,
		Width:  300,
	},
}

// Load reads and validates a config file. A path ending in .yml falls
// back to the .yaml spelling when that file exists.
func Load(path string) (*Config, error) {
	if strings.HasSuffix(path, ".yml") {
		alt := strings.TrimSuffix(path, ".yml") + ".yaml"
		if _, err := os.Stat(alt); err == nil {
			path = alt
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := defaults
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch detect.Kind(c.Detector.Type) {
	case detect.KindCPU, detect.KindAccelerator:
	case detect.KindRemote:
		return fmt.Errorf("detector type %q cannot back a detection server", c.Detector.Type)
	default:
		return fmt.Errorf("unknown detector type %q", c.Detector.Type)
	}
	if c.Model.Height <= 0 || c.Model.Width <= 0 {
		return fmt.Errorf("invalid model shape %dx%d", c.Model.Height, c.Model.Width)
	}
	return nil
}

// BackendConfig maps the file's detector and model sections onto a
// backend configuration.
func (c *Config) BackendConfig() detect.Config {
	return detect.Config{
		Kind:       detect.Kind(c.Detector.Type),
		Device:     c.Detector.Device,
		ModelPath:  c.Model.Path,
		NumThreads: c.Detector.NumThreads,
	}
}
