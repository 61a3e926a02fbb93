// Package config loads the controller configuration file. All tuning lives
// here: threshold tables, task cadences, irrigation bands, uplink endpoints
// and the watchdog budget. Configuration is static for the life of the
// process; nothing in it is runtime-mutable.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Threshold is one channel's classification band. Inverted means higher raw
// values indicate a lower severity tier (light and rain sensors report this
// way on most of the observed probe revisions).
type Threshold struct {
	Low      int  `yaml:"low"`
	High     int  `yaml:"high"`
	Inverted bool `yaml:"inverted"`
}

// Config is the full configuration file structure.
type Config struct {
	Device struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"device"`

	Hardware struct {
		CommandURL string `yaml:"command_url"`
		TimeoutMs  int    `yaml:"timeout_ms"`
	} `yaml:"hardware"`

	Ingest struct {
		URL             string `yaml:"url"`
		APIKey          string `yaml:"api_key"`
		TimeoutSec      int    `yaml:"timeout_sec"`
		FailureLimit    int    `yaml:"failure_limit"`
		RetryBackoffSec int    `yaml:"retry_backoff_sec"`
	} `yaml:"ingest"`

	MQTT struct {
		Broker     string `yaml:"broker"`
		Topic      string `yaml:"topic"`
		ClientID   string `yaml:"client_id"`
		Username   string `yaml:"username"`
		Password   string `yaml:"password"`
		BufferSize int    `yaml:"buffer_size"`
	} `yaml:"mqtt"`

	Network struct {
		ProbeAddr        string `yaml:"probe_addr"`
		ProbeIntervalSec int    `yaml:"probe_interval_sec"`
		TimeURL          string `yaml:"time_url"`
		TimeSyncSec      int    `yaml:"time_sync_sec"`
	} `yaml:"network"`

	Display struct {
		Endpoint      string `yaml:"endpoint"`
		RotateSec     int    `yaml:"rotate_sec"`
		ErrorAfterSec int    `yaml:"error_after_sec"`
	} `yaml:"display"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Diag struct {
		Listen string `yaml:"listen"`
	} `yaml:"diag"`

	Watchdog struct {
		TimeoutSec int `yaml:"timeout_sec"`
	} `yaml:"watchdog"`

	Scheduler struct {
		TickMs        int `yaml:"tick_ms"`
		SensorsSec    int `yaml:"sensors_sec"`
		IrrigationSec int `yaml:"irrigation_sec"`
		UplinkSec     int `yaml:"uplink_sec"`
		DisplaySec    int `yaml:"display_sec"`
	} `yaml:"scheduler"`

	Sensors struct {
		ProbeRetries  int `yaml:"probe_retries"`
		ProbeSettleMs int `yaml:"probe_settle_ms"`

		Defaults struct {
			Temperature float64 `yaml:"temperature"`
			Humidity    float64 `yaml:"humidity"`
			Raw         int     `yaml:"raw"`
		} `yaml:"defaults"`

		AirCurve struct {
			PPMPerCount float64 `yaml:"ppm_per_count"`
			Offset      float64 `yaml:"offset"`
		} `yaml:"air_curve"`

		Thresholds map[string]Threshold `yaml:"thresholds"`
	} `yaml:"sensors"`

	Irrigation struct {
		DrynessBelow   int `yaml:"dryness_below"`
		HeavyRainBelow int `yaml:"heavy_rain_below"`
		LightRainAt    int `yaml:"light_rain_at"`
		PartialTarget  int `yaml:"partial_target"`
		FullTarget     int `yaml:"full_target"`
		MaxDurationSec int `yaml:"max_duration_sec"`
	} `yaml:"irrigation"`
}

// Default returns the built-in configuration. Threshold magnitudes follow the
// reference deployment; every value can be overridden from the file.
func Default() *Config {
	cfg := &Config{}

	cfg.Hardware.CommandURL = "ipc:///tmp/fieldhub_command"
	cfg.Hardware.TimeoutMs = 500

	cfg.Ingest.URL = "http://localhost:8080/api/v1/readings"
	cfg.Ingest.TimeoutSec = 8
	cfg.Ingest.FailureLimit = 3
	cfg.Ingest.RetryBackoffSec = 5

	cfg.MQTT.Topic = "field/telemetry"
	cfg.MQTT.BufferSize = 64

	cfg.Network.ProbeAddr = "1.1.1.1:53"
	cfg.Network.ProbeIntervalSec = 10
	cfg.Network.TimeSyncSec = 3600

	cfg.Display.Endpoint = "ipc:///tmp/field_display"
	cfg.Display.RotateSec = 4
	cfg.Display.ErrorAfterSec = 5

	cfg.Database.Path = "/var/lib/field-controller/field.db"
	cfg.Diag.Listen = ":8090"
	cfg.Watchdog.TimeoutSec = 8

	cfg.Scheduler.TickMs = 100
	cfg.Scheduler.SensorsSec = 1
	cfg.Scheduler.IrrigationSec = 1
	cfg.Scheduler.UplinkSec = 1
	cfg.Scheduler.DisplaySec = 1

	cfg.Sensors.ProbeRetries = 3
	cfg.Sensors.ProbeSettleMs = 500
	cfg.Sensors.Defaults.Temperature = 20.0
	cfg.Sensors.Defaults.Humidity = 50.0
	cfg.Sensors.Defaults.Raw = 512
	cfg.Sensors.AirCurve.PPMPerCount = 1.2
	cfg.Sensors.AirCurve.Offset = 0
	cfg.Sensors.Thresholds = map[string]Threshold{
		"light":         {Low: 300, High: 700, Inverted: true},
		"rain":          {Low: 300, High: 990, Inverted: true},
		"air_quality":   {Low: 200, High: 600},
		"soil_moisture": {Low: 200, High: 400},
	}

	cfg.Irrigation.DrynessBelow = 200
	cfg.Irrigation.HeavyRainBelow = 300
	cfg.Irrigation.LightRainAt = 990
	cfg.Irrigation.PartialTarget = 300
	cfg.Irrigation.FullTarget = 400
	cfg.Irrigation.MaxDurationSec = 60

	return cfg
}

// Load reads the configuration file at path, applies environment overrides
// for secrets, and fills a device ID if none was configured.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()

	if cfg.Device.ID == "" {
		cfg.Device.ID = uuid.NewString()
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "field-controller-" + cfg.Device.ID
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides secrets from the environment. A .env file next to the
// process is honoured when present.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("FIELD_INGEST_API_KEY"); v != "" {
		c.Ingest.APIKey = v
	}
	if v := os.Getenv("FIELD_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
}

// Validate rejects configurations the controller cannot run with.
func (c *Config) Validate() error {
	if c.Ingest.URL == "" {
		return fmt.Errorf("ingest.url is required")
	}
	if c.Scheduler.TickMs <= 0 {
		return fmt.Errorf("scheduler.tick_ms must be positive")
	}
	if c.Watchdog.TimeoutSec <= 0 {
		return fmt.Errorf("watchdog.timeout_sec must be positive")
	}
	if c.Irrigation.MaxDurationSec <= 0 {
		return fmt.Errorf("irrigation.max_duration_sec must be positive")
	}
	if c.MQTT.Broker != "" && c.MQTT.BufferSize <= 0 {
		return fmt.Errorf("mqtt.buffer_size must be positive when a broker is configured")
	}
	if c.Irrigation.HeavyRainBelow > c.Irrigation.LightRainAt {
		return fmt.Errorf("irrigation.heavy_rain_below must not exceed irrigation.light_rain_at")
	}
	for name, th := range c.Sensors.Thresholds {
		if th.Low > th.High {
			return fmt.Errorf("sensors.thresholds.%s: low exceeds high", name)
		}
	}
	tickBudget := time.Duration(c.Scheduler.TickMs) * time.Millisecond
	if time.Duration(c.Watchdog.TimeoutSec)*time.Second <= 2*tickBudget {
		return fmt.Errorf("watchdog.timeout_sec too small for tick_ms")
	}
	return nil
}

// Tick returns the scheduler tick interval.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Scheduler.TickMs) * time.Millisecond
}
