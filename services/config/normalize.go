package config

// Normalize fills zero values with defaults.
// It is allowed to mutate configuration and MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	d := Default()

	str := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	num := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}

	str(&cfg.Device.IDPrefix, d.Device.IDPrefix)
	str(&cfg.Device.Firmware, d.Device.Firmware)
	str(&cfg.Server.URL, d.Server.URL)
	num(&cfg.Server.RetryMs, d.Server.RetryMs)

	str(&cfg.WiFi.Interface, d.WiFi.Interface)
	num(&cfg.WiFi.RetryMs, d.WiFi.RetryMs)
	num(&cfg.WiFi.MaxFailures, d.WiFi.MaxFailures)
	num(&cfg.WiFi.BootAttempts, d.WiFi.BootAttempts)
	num(&cfg.WiFi.BootPollMs, d.WiFi.BootPollMs)
	num(&cfg.WiFi.TickMs, d.WiFi.TickMs)

	str(&cfg.Portal.APPrefix, d.Portal.APPrefix)
	str(&cfg.Portal.Listen, d.Portal.Listen)
	num(&cfg.Portal.TimeoutS, d.Portal.TimeoutS)
	num(&cfg.Portal.ConnectTimeoutS, d.Portal.ConnectTimeoutS)
	// scan_settle_ms may legitimately be 0.

	num(&cfg.Touch.Polls, d.Touch.Polls)
	num(&cfg.Touch.PollMs, d.Touch.PollMs)
	num(&cfg.Touch.HoldMs, d.Touch.HoldMs)
	num(&cfg.Touch.HoldPollMs, d.Touch.HoldPollMs)

	num(&cfg.Telemetry.IntervalMs, d.Telemetry.IntervalMs)
	num(&cfg.Telemetry.SampleMs, d.Telemetry.SampleMs)

	str(&cfg.Store.Path, d.Store.Path)
}
