// Package platform wires the lifecycle services to the hardware they run on.
// Host builds talk to NetworkManager and the filesystem; rp2040/rp2350
// builds drive the CYW43439 radio, on-chip flash and the touch controller.
package platform

import (
	"flag"
	"log/slog"
)

// Options are the boot-time switches.
type Options struct {
	ConfigPath string
	PCMPath    string
	LogLevel   slog.Level
	// Console selects the serial line setup form instead of the web form.
	Console bool
}

// ParseOptions reads command line switches. Boards pass no arguments and
// get the defaults.
func ParseOptions(args []string) (Options, error) {
	var o Options
	var level string
	fs := flag.NewFlagSet("autovolume", flag.ContinueOnError)
	fs.StringVar(&o.ConfigPath, "config", "", "YAML file overriding compiled-in defaults")
	fs.StringVar(&o.PCMPath, "pcm", "", "raw s16le stereo PCM source (file or fifo)")
	fs.StringVar(&level, "log-level", "info", "debug, info, warn or error")
	fs.BoolVar(&o.Console, "console", defaultConsole, "take setup on stdin instead of the web form")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if err := o.LogLevel.UnmarshalText([]byte(level)); err != nil {
		return o, err
	}
	return o, nil
}
