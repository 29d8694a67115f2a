package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/webp-converter/pkg/compositor"
	"github.com/menta2k/webp-converter/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Converter ConverterConfig `json:"converter" yaml:"converter"`
	Output    OutputConfig    `json:"output" yaml:"output"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Watch     WatchConfig     `json:"watch" yaml:"watch"`
}

// ConverterConfig holds configuration for compositing and encoding
type ConverterConfig struct {
	DefaultQuality float64 `json:"default_quality" yaml:"default_quality"`
	Resample       string  `json:"resample" yaml:"resample"`
	MaxCanvasSide  int     `json:"max_canvas_side" yaml:"max_canvas_side"`
	MaxCanvasArea  int     `json:"max_canvas_area" yaml:"max_canvas_area"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Format    string `json:"format" yaml:"format"`
	OutputDir string `json:"output_dir" yaml:"output_dir"`
	Prefix    string `json:"prefix" yaml:"prefix"`
	Suffix    string `json:"suffix" yaml:"suffix"`
}

// ServerConfig holds configuration for the HTTP editor API
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// WatchConfig holds configuration for watch mode
type WatchConfig struct {
	DebounceMS int `json:"debounce_ms" yaml:"debounce_ms"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Converter: ConverterConfig{
			DefaultQuality: types.DefaultQuality,
			Resample:       "lanczos",
			MaxCanvasSide:  compositor.DefaultMaxCanvasSide,
			MaxCanvasArea:  compositor.DefaultMaxCanvasArea,
		},
		Output: OutputConfig{
			Format:    "webp",
			OutputDir: "./output",
		},
		Server: ServerConfig{
			Addr: "localhost:0",
		},
		Watch: WatchConfig{
			DebounceMS: 500,
		},
	}
}

// LoadFromFile loads configuration from a YAML (.yaml, .yml) or JSON file.
// Fields absent from the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration in the format implied by the file extension
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Converter.DefaultQuality <= 0 || c.Converter.DefaultQuality > 1 {
		return fmt.Errorf("converter.default_quality must be in (0,1]")
	}

	if _, err := compositor.ParseFilter(c.Converter.Resample); err != nil {
		return fmt.Errorf("converter.resample: %w", err)
	}

	if c.Converter.MaxCanvasSide < 1 {
		return fmt.Errorf("converter.max_canvas_side must be positive")
	}

	if c.Converter.MaxCanvasArea < 1 {
		return fmt.Errorf("converter.max_canvas_area must be positive")
	}

	if c.Output.Format != "" && c.Output.Format != "webp" {
		return fmt.Errorf("output.format %q is not supported", c.Output.Format)
	}

	if c.Watch.DebounceMS < 0 {
		return fmt.Errorf("watch.debounce_ms must not be negative")
	}

	return nil
}

// CompositorConfig returns the compositor settings
func (c *Config) CompositorConfig() compositor.Config {
	return compositor.Config{
		Resample:      c.Converter.Resample,
		MaxCanvasSide: c.Converter.MaxCanvasSide,
		MaxCanvasArea: c.Converter.MaxCanvasArea,
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(dir, "webp-converter", "config.yaml")
}

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
