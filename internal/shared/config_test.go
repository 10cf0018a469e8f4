package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./ambi.db" {
			t.Errorf("expected database path ./ambi.db, got %s", config.Database.Path)
		}
		if config.Playback.LazyTimeoutMS != 10000 {
			t.Errorf("expected lazy timeout 10000ms, got %d", config.Playback.LazyTimeoutMS)
		}
		if config.Playback.BulkTimeoutMS != 15000 {
			t.Errorf("expected bulk timeout 15000ms, got %d", config.Playback.BulkTimeoutMS)
		}
		if config.Audio.FadeMS != 100 {
			t.Errorf("expected fade 100ms, got %d", config.Audio.FadeMS)
		}
		if config.Startup.ErrorRingSize != 100 {
			t.Errorf("expected ring size 100, got %d", config.Startup.ErrorRingSize)
		}
		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}
		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig keeps defaults for missing keys", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		testConfig := `[playback]
master_volume = 0.5
max_loaded = 4

[server]
port = 9100
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Playback.MasterVolume != 0.5 {
			t.Errorf("expected master volume 0.5, got %v", config.Playback.MasterVolume)
		}
		if config.Server.Port != 9100 {
			t.Errorf("expected port 9100, got %d", config.Server.Port)
		}
		if config.Audio.SampleRate != 44100 {
			t.Errorf("expected default sample rate, got %d", config.Audio.SampleRate)
		}
	})

	t.Run("LoadConfig rejects invalid values", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[playback]\nmaster_volume = 1.5\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadConfig(configPath)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("LoadConfig missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestMillis(t *testing.T) {
	if got := Millis(250); got != 250*time.Millisecond {
		t.Errorf("Millis(250) = %v", got)
	}
}
