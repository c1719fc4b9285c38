package config

import (
	"fmt"
	"net/url"
)

// Validate checks configuration correctness.
// It performs declarative validation only and MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}

	// ---- uplink ----
	if cfg.Server.URL != "" {
		if err := ValidateServerURL(cfg.Server.URL); err != nil {
			return err
		}
	}

	// ---- counters and durations ----
	nonNeg := []struct {
		name string
		v    int
	}{
		{"server.retry_ms", cfg.Server.RetryMs},
		{"wifi.retry_ms", cfg.WiFi.RetryMs},
		{"wifi.max_failures", cfg.WiFi.MaxFailures},
		{"wifi.boot_attempts", cfg.WiFi.BootAttempts},
		{"wifi.boot_poll_ms", cfg.WiFi.BootPollMs},
		{"wifi.tick_ms", cfg.WiFi.TickMs},
		{"portal.timeout_s", cfg.Portal.TimeoutS},
		{"portal.connect_timeout_s", cfg.Portal.ConnectTimeoutS},
		{"portal.scan_settle_ms", cfg.Portal.ScanSettleMs},
		{"touch.settle_ms", cfg.Touch.SettleMs},
		{"touch.polls", cfg.Touch.Polls},
		{"touch.poll_ms", cfg.Touch.PollMs},
		{"touch.hold_ms", cfg.Touch.HoldMs},
		{"touch.hold_poll_ms", cfg.Touch.HoldPollMs},
		{"telemetry.interval_ms", cfg.Telemetry.IntervalMs},
		{"telemetry.sample_ms", cfg.Telemetry.SampleMs},
	}
	for _, f := range nonNeg {
		if f.v < 0 {
			return fmt.Errorf("%s must not be negative (got %d)", f.name, f.v)
		}
	}

	if cfg.Touch.HoldPollMs > 0 && cfg.Touch.HoldMs > 0 && cfg.Touch.HoldPollMs > cfg.Touch.HoldMs {
		return fmt.Errorf("touch.hold_poll_ms (%d) exceeds touch.hold_ms (%d)",
			cfg.Touch.HoldPollMs, cfg.Touch.HoldMs)
	}
	return nil
}

// ValidateServerURL accepts ws:// and wss:// URLs with a host.
func ValidateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("server url %q: %v", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server url %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("server url %q: missing host", raw)
	}
	return nil
}
