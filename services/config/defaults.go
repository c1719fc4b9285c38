package config

// -----------------------------------------------------------------------------
// Compiled-in defaults. A YAML file given to Load overrides any subset.
// -----------------------------------------------------------------------------

const (
	DefaultServerURL = "wss://soundtrack-auto-volume.onrender.com/ws"
	DefaultIDPrefix  = "av-"
	DefaultAPPrefix  = "AutoVolume-"
	DefaultFirmware  = "1.0.0"

	// AccountIDMaxLen bounds the free-text field on the setup form.
	AccountIDMaxLen = 128
)

func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			IDPrefix: DefaultIDPrefix,
			Firmware: DefaultFirmware,
		},
		Server: ServerConfig{
			URL:     DefaultServerURL,
			RetryMs: 3000,
		},
		WiFi: WiFiConfig{
			Interface:    "wlan0",
			RetryMs:      5000,
			MaxFailures:  5,
			BootAttempts: 30,
			BootPollMs:   500,
			TickMs:       100,
		},
		Portal: PortalConfig{
			APPrefix:        DefaultAPPrefix,
			TimeoutS:        180,
			ConnectTimeoutS: 20,
			ScanSettleMs:    3000,
			Listen:          ":80",
		},
		Touch: TouchConfig{
			Enabled:    true,
			SettleMs:   500,
			Polls:      10,
			PollMs:     200,
			HoldMs:     5000,
			HoldPollMs: 100,
		},
		Telemetry: TelemetryConfig{
			IntervalMs: 500,
			SampleMs:   100,
		},
		Store: StoreConfig{
			Path: "/var/lib/autovolume/credentials.yaml",
		},
	}
}
