package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"autovolume-go/bus"
	"autovolume-go/errcode"
	"autovolume-go/x/timex"
)

const configPrefix = "config"

type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Server    ServerConfig    `yaml:"server"`
	WiFi      WiFiConfig      `yaml:"wifi"`
	Portal    PortalConfig    `yaml:"portal"`
	Touch     TouchConfig     `yaml:"touch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Store     StoreConfig     `yaml:"store"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	IDPrefix string `yaml:"id_prefix"`
	Firmware string `yaml:"firmware"`
}

// ---- UPLINK ----

type ServerConfig struct {
	URL     string `yaml:"url"` // compiled-in default; credential store override wins
	RetryMs int    `yaml:"retry_ms"`
}

func (s ServerConfig) Retry() time.Duration { return timex.Ms(s.RetryMs) }

// ---- STATION ----

type WiFiConfig struct {
	Interface    string `yaml:"interface"` // host network stack only
	RetryMs      int    `yaml:"retry_ms"`
	MaxFailures  int    `yaml:"max_failures"`
	BootAttempts int    `yaml:"boot_attempts"`
	BootPollMs   int    `yaml:"boot_poll_ms"`
	TickMs       int    `yaml:"tick_ms"`
}

func (w WiFiConfig) Retry() time.Duration    { return timex.Ms(w.RetryMs) }
func (w WiFiConfig) BootPoll() time.Duration { return timex.Ms(w.BootPollMs) }
func (w WiFiConfig) Tick() time.Duration     { return timex.Ms(w.TickMs) }

// ---- PROVISIONING ----

type PortalConfig struct {
	APPrefix        string `yaml:"ap_prefix"`
	TimeoutS        int    `yaml:"timeout_s"`
	ConnectTimeoutS int    `yaml:"connect_timeout_s"`
	ScanSettleMs    int    `yaml:"scan_settle_ms"`
	Listen          string `yaml:"listen"`
}

func (p PortalConfig) Timeout() time.Duration { return time.Duration(p.TimeoutS) * time.Second }
func (p PortalConfig) ConnectTimeout() time.Duration {
	return time.Duration(p.ConnectTimeoutS) * time.Second
}
func (p PortalConfig) ScanSettle() time.Duration { return timex.Ms(p.ScanSettleMs) }

// ---- FACTORY RESET ----

type TouchConfig struct {
	Enabled    bool `yaml:"enabled"`
	SettleMs   int  `yaml:"settle_ms"`
	Polls      int  `yaml:"polls"`
	PollMs     int  `yaml:"poll_ms"`
	HoldMs     int  `yaml:"hold_ms"`
	HoldPollMs int  `yaml:"hold_poll_ms"`
}

// ---- TELEMETRY ----

type TelemetryConfig struct {
	IntervalMs int `yaml:"interval_ms"`
	SampleMs   int `yaml:"sample_ms"`
}

// ---- PERSISTENCE ----

type StoreConfig struct {
	Path string `yaml:"path"` // host file backend
}

// Load reads a YAML file and overlays it on Default().
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidParams, "config.load", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errcode.Wrap(errcode.InvalidPayload, "config.load", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}

// Publish places each section on the bus as a retained config/<section> message.
func Publish(conn *bus.Connection, cfg *Config) {
	sections := []struct {
		key string
		val any
	}{
		{"device", cfg.Device},
		{"server", cfg.Server},
		{"wifi", cfg.WiFi},
		{"portal", cfg.Portal},
		{"touch", cfg.Touch},
		{"telemetry", cfg.Telemetry},
	}
	for _, s := range sections {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, s.key), s.val, true))
	}
}
