//go:build !rp2040 && !rp2350

package platform

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"autovolume-go/services/config"
	"autovolume-go/services/credstore"
	"autovolume-go/services/provision"
	"autovolume-go/services/touchreset"
	"autovolume-go/services/wifi"
)

const defaultConsole = false

// LogWriter is where structured logs go.
func LogWriter() io.Writer { return os.Stderr }

// Context ends on SIGINT or SIGTERM.
func Context() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// StoreBackend keeps credentials in a YAML file.
func StoreBackend(cfg *config.Config) (credstore.Backend, error) {
	return credstore.NewFile(cfg.Store.Path), nil
}

// Network returns the station stack and the dialer the uplink uses.
func Network(cfg *config.Config, _ *credstore.Store, log *slog.Logger) (wifi.Stack, wifi.Dialer) {
	return wifi.NewNM(cfg.WiFi.Interface, log), &wifi.SystemDialer{}
}

// TouchSensor is nil: hosts have no panel.
func TouchSensor(*slog.Logger) touchreset.Sensor { return nil }

func SetupPortal(cfg *config.Config, o Options, log *slog.Logger) provision.Portal {
	if o.Console {
		return provision.NewConsolePortal(os.Stdin, os.Stdout, log)
	}
	return provision.NewHTTPPortal(cfg.Portal.Listen, log)
}

// Restart replaces the process with a fresh copy of itself.
func Restart() {
	exe, err := os.Executable()
	if err != nil {
		os.Exit(3)
	}
	_ = syscall.Exec(exe, os.Args, os.Environ())
	os.Exit(3)
}

// PCMSource opens the audio feed; none yields a silent meter.
func PCMSource(path string) (io.Reader, error) {
	if path == "" {
		return nil, nil
	}
	return os.Open(path)
}
