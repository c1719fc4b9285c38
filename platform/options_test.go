package platform

import (
	"log/slog"
	"testing"
)

func TestParseOptionsDefaults(t *testing.T) {
	o, err := ParseOptions(nil)
	if err != nil {
		t.Fatal(err)
	}
	if o.ConfigPath != "" || o.PCMPath != "" {
		t.Fatalf("unexpected paths: %+v", o)
	}
	if o.LogLevel != slog.LevelInfo {
		t.Fatalf("level = %v", o.LogLevel)
	}
	if o.Console != defaultConsole {
		t.Fatalf("console = %v", o.Console)
	}
}

func TestParseOptionsFlags(t *testing.T) {
	o, err := ParseOptions([]string{"-config", "/etc/av.yaml", "-pcm", "/tmp/pcm", "-log-level", "debug", "-console"})
	if err != nil {
		t.Fatal(err)
	}
	if o.ConfigPath != "/etc/av.yaml" || o.PCMPath != "/tmp/pcm" || !o.Console {
		t.Fatalf("options = %+v", o)
	}
	if o.LogLevel != slog.LevelDebug {
		t.Fatalf("level = %v", o.LogLevel)
	}
}

func TestParseOptionsBadLevel(t *testing.T) {
	if _, err := ParseOptions([]string{"-log-level", "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
