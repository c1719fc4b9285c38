// cmd/touchtest/main.go
package main

import (
	"log/slog"
	"time"

	"autovolume-go/platform"
	"autovolume-go/services/config"
	"autovolume-go/services/touchreset"
)

// ---------- Configuration ----------

const (
	pollEvery   = 100 * time.Millisecond
	reportEvery = time.Second
)

func main() {
	log := slog.New(slog.NewTextHandler(platform.LogWriter(), &slog.HandlerOptions{Level: slog.LevelDebug}))

	sensor := platform.TouchSensor(log)
	if sensor == nil {
		log.Error("no touch panel on this platform")
		return
	}
	if err := sensor.Arm(); err != nil {
		log.Warn("arm failed", "err", err)
	}

	hold := config.Default().Touch.HoldMs
	h := touchreset.NewHold(time.Duration(hold) * time.Millisecond)
	tick := time.NewTicker(pollEvery)
	defer tick.Stop()

	var polls, touched, errs int
	last := time.Now()
	for now := range tick.C {
		polls++
		on, err := sensor.Touched()
		switch {
		case err != nil:
			errs++
		case on:
			touched++
		}

		// Each touch restarts the hold; the report shows how far it got.
		switch h.State() {
		case touchreset.HoldIdle:
			if on {
				h.Start(now)
			}
		case touchreset.HoldHolding:
			h.Observe(now, on)
		default:
			log.Info("hold finished", "state", h.State(), "held", h.Elapsed(now))
			h = touchreset.NewHold(time.Duration(hold) * time.Millisecond)
		}

		if now.Sub(last) >= reportEvery {
			last = now
			log.Info("touch", "polls", polls, "touched", touched, "errors", errs,
				"hold", h.State(), "remaining", h.Remaining(now))
		}
	}
}
