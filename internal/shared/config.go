package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Audio    AudioConfig    `toml:"audio"`
	Playback PlaybackConfig `toml:"playback"`
	Network  NetworkConfig  `toml:"network"`
	Startup  StartupConfig  `toml:"startup"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
	Catalog  CatalogConfig  `toml:"catalog"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// AudioConfig contains output device and gain-shaping settings.
type AudioConfig struct {
	SampleRate int `toml:"sample_rate"`
	BufferMS   int `toml:"buffer_ms"`
	FadeMS     int `toml:"fade_ms"`
	RampMS     int `toml:"ramp_ms"`
}

// PlaybackConfig contains source lifecycle settings.
type PlaybackConfig struct {
	DefaultMode       string  `toml:"default_mode"`
	DefaultSound      string  `toml:"default_sound"`
	MasterVolume      float64 `toml:"master_volume"`
	MaxLoaded         int     `toml:"max_loaded"`
	LazyTimeoutMS     int     `toml:"lazy_timeout_ms"`
	BulkTimeoutMS     int     `toml:"bulk_timeout_ms"`
	SegmentsAhead     int     `toml:"segments_ahead"`
	NativeStreaming   bool    `toml:"native_streaming"`
	MediaSourceStream bool    `toml:"media_source_streaming"`
}

// NetworkConfig contains fetch and connectivity probe settings.
type NetworkConfig struct {
	ProbeURL        string `toml:"probe_url"`
	ProbeIntervalMS int    `toml:"probe_interval_ms"`
	UserAgent       string `toml:"user_agent"`
}

// StartupConfig contains background prefetch settings.
type StartupConfig struct {
	PrefetchRate  float64 `toml:"prefetch_rate"`
	RestoreLast   bool    `toml:"restore_last"`
	ErrorRingSize int     `toml:"error_ring_size"`
}

// ServerConfig contains metrics/status HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// CatalogConfig points at the sound catalog.
type CatalogConfig struct {
	BaseURL string `toml:"base_url"`
	Path    string `toml:"path"` // optional external catalog; the embedded one is used when empty
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Playback.MasterVolume < 0 || c.Playback.MasterVolume > 1 {
		return fmt.Errorf("%w: playback.master_volume must be within [0,1], got %v", ErrInvalidConfig, c.Playback.MasterVolume)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("%w: audio.sample_rate must be positive", ErrInvalidConfig)
	}
	if c.Playback.MaxLoaded < 1 {
		return fmt.Errorf("%w: playback.max_loaded must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Millis converts a millisecond config value to a [time.Duration].
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
