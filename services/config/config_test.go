package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"autovolume-go/bus"
)

func TestDefaultsMatchFirmwareConstants(t *testing.T) {
	c := Default()
	if err := Validate(c); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if c.Portal.Timeout() != 180*time.Second {
		t.Fatalf("portal timeout = %v", c.Portal.Timeout())
	}
	if c.WiFi.MaxFailures != 5 || c.WiFi.Retry() != 5*time.Second {
		t.Fatalf("wifi = %+v", c.WiFi)
	}
	if c.Server.Retry() != 3*time.Second {
		t.Fatalf("server retry = %v", c.Server.Retry())
	}
	if c.Touch.HoldMs != 5000 || c.Touch.HoldPollMs != 100 {
		t.Fatalf("touch = %+v", c.Touch)
	}
	if c.WiFi.BootAttempts*c.WiFi.BootPollMs != 15000 {
		t.Fatalf("boot budget = %d ms", c.WiFi.BootAttempts*c.WiFi.BootPollMs)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	doc := []byte("server:\n  url: ws://127.0.0.1:9000/ws\nwifi:\n  max_failures: 3\n")
	if err := os.WriteFile(p, doc, 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.URL != "ws://127.0.0.1:9000/ws" {
		t.Fatalf("url = %q", c.Server.URL)
	}
	if c.WiFi.MaxFailures != 3 {
		t.Fatalf("max failures = %d", c.WiFi.MaxFailures)
	}
	if c.WiFi.RetryMs != 5000 || c.Portal.APPrefix != DefaultAPPrefix {
		t.Fatalf("defaults lost: %+v %+v", c.WiFi, c.Portal)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Server.URL != DefaultServerURL {
		t.Fatalf("url = %q", c.Server.URL)
	}
}

func TestLoadRejectsBadURL(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte("server:\n  url: http://example.com\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); err == nil {
		t.Fatal("expected scheme error")
	}
}

func TestValidateRejectsNegative(t *testing.T) {
	c := Default()
	c.Touch.Polls = -1
	if err := Validate(c); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidateHoldPollExceedsHold(t *testing.T) {
	c := Default()
	c.Touch.HoldPollMs = 6000
	if err := Validate(c); err == nil {
		t.Fatal("expected error")
	}
}

func TestNormalizeFillsZeros(t *testing.T) {
	c := &Config{}
	Normalize(c)
	d := Default()
	if c.WiFi != d.WiFi {
		t.Fatalf("wifi = %+v want %+v", c.WiFi, d.WiFi)
	}
	if c.Portal.TimeoutS != 180 || c.Server.URL != DefaultServerURL {
		t.Fatalf("not normalized: %+v %+v", c.Portal, c.Server)
	}
}

func TestPublishRetainsSections(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("config")
	Publish(conn, Default())

	sub := b.NewConnection("t").Subscribe(bus.T("config", "telemetry"))
	select {
	case m := <-sub.Channel():
		tc, ok := m.Payload.(TelemetryConfig)
		if !ok || tc.IntervalMs != 500 {
			t.Fatalf("payload = %#v", m.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no retained config")
	}
}
