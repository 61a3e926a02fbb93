package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "controller.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  id: greenhouse-07
ingest:
  url: https://ingest.example.com/readings
  api_key: file-key
irrigation:
  max_duration_sec: 90
sensors:
  thresholds:
    soil_moisture:
      low: 250
      high: 450
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.ID != "greenhouse-07" {
		t.Errorf("Device.ID = %q", cfg.Device.ID)
	}
	if cfg.Ingest.URL != "https://ingest.example.com/readings" {
		t.Errorf("Ingest.URL = %q", cfg.Ingest.URL)
	}
	if cfg.Irrigation.MaxDurationSec != 90 {
		t.Errorf("MaxDurationSec = %d, want override 90", cfg.Irrigation.MaxDurationSec)
	}
	if th := cfg.Sensors.Thresholds["soil_moisture"]; th.Low != 250 || th.High != 450 {
		t.Errorf("soil threshold = %+v, want 250/450", th)
	}
	// Untouched defaults survive a partial file.
	if cfg.Watchdog.TimeoutSec != 8 {
		t.Errorf("Watchdog.TimeoutSec = %d, want default 8", cfg.Watchdog.TimeoutSec)
	}
	if cfg.Tick() != 100*time.Millisecond {
		t.Errorf("Tick = %v, want default 100ms", cfg.Tick())
	}
}

func TestLoadGeneratesDeviceID(t *testing.T) {
	path := writeConfig(t, "ingest:\n  url: http://ingest\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.ID == "" {
		t.Error("Device.ID not generated")
	}
	if !strings.HasPrefix(cfg.MQTT.ClientID, "field-controller-") {
		t.Errorf("MQTT.ClientID = %q, want derived from device ID", cfg.MQTT.ClientID)
	}
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	t.Setenv("FIELD_INGEST_API_KEY", "env-key")
	t.Setenv("FIELD_MQTT_PASSWORD", "env-pass")
	path := writeConfig(t, "ingest:\n  api_key: file-key\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ingest.APIKey != "env-key" {
		t.Errorf("APIKey = %q, environment must win over the file", cfg.Ingest.APIKey)
	}
	if cfg.MQTT.Password != "env-pass" {
		t.Errorf("MQTT.Password = %q", cfg.MQTT.Password)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load succeeded on a missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing ingest url", func(c *Config) { c.Ingest.URL = "" }},
		{"zero tick", func(c *Config) { c.Scheduler.TickMs = 0 }},
		{"zero watchdog", func(c *Config) { c.Watchdog.TimeoutSec = 0 }},
		{"zero max duration", func(c *Config) { c.Irrigation.MaxDurationSec = 0 }},
		{"inverted rain bands", func(c *Config) {
			c.Irrigation.HeavyRainBelow = 1000
			c.Irrigation.LightRainAt = 300
		}},
		{"broker with zero buffer", func(c *Config) {
			c.MQTT.Broker = "tcp://localhost:1883"
			c.MQTT.BufferSize = 0
		}},
		{"threshold low above high", func(c *Config) {
			c.Sensors.Thresholds["soil_moisture"] = Threshold{Low: 500, High: 100}
		}},
		{"watchdog under tick budget", func(c *Config) {
			c.Scheduler.TickMs = 5000
			c.Watchdog.TimeoutSec = 8
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}
