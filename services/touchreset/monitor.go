// Package touchreset checks once at boot for a press-and-hold on the panel
// and, when confirmed, wipes stored credentials and restarts the device.
package touchreset

import (
	"context"
	"log/slog"
	"time"

	"autovolume-go/bus"
	"autovolume-go/services/config"
	"autovolume-go/services/display"
	"autovolume-go/types"
	"autovolume-go/x/mathx"
	"autovolume-go/x/timex"
)

type Result uint8

const (
	NoReset Result = iota
	ResetPerformed
)

// Clearer wipes persisted credentials.
type Clearer interface {
	ClearAll() error
}

type Monitor struct {
	Sensor  Sensor
	Store   Clearer
	Restart func() // does not return on hardware
	Clock   timex.Clock
	Conn    *bus.Connection // optional, for screen updates
	Log     *slog.Logger
	Cfg     config.TouchConfig
}

// Run performs the bounded boot-time check. It returns NoReset when no
// touch was seen or the touch was released early. On a confirmed hold it
// clears the store, calls Restart and returns ResetPerformed if Restart
// comes back.
func (m *Monitor) Run(ctx context.Context) Result {
	log := m.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("svc", "touchreset")
	clk := m.Clock
	if clk == nil {
		clk = timex.System
	}
	if m.Sensor == nil {
		return NoReset
	}

	if err := m.Sensor.Arm(); err != nil {
		log.Warn("arm failed", "err", err)
	}
	clk.Sleep(timex.Ms(m.Cfg.SettleMs))

	display.Publish(m.Conn, types.Screen{Kind: types.ScreenTouchHint})
	if !m.detect(ctx, clk, log) {
		return NoReset
	}

	log.Info("touch detected, hold to factory reset", "hold_ms", m.Cfg.HoldMs)
	if !m.confirm(ctx, clk, log) {
		log.Info("touch released, continuing boot")
		return NoReset
	}

	log.Warn("factory reset triggered")
	display.Publish(m.Conn, types.Screen{Kind: types.ScreenFactoryReset})
	if err := m.Store.ClearAll(); err != nil {
		// A started wipe is finished by credstore Recover on the next boot.
		log.Error("credential clear failed", "err", err)
	}
	if m.Restart != nil {
		m.Restart()
	}
	return ResetPerformed
}

func (m *Monitor) detect(ctx context.Context, clk timex.Clock, log *slog.Logger) bool {
	for i := 0; i < m.Cfg.Polls; i++ {
		if ctx.Err() != nil {
			return false
		}
		touched, err := m.Sensor.Touched()
		if err != nil {
			log.Debug("touch poll error", "poll", i, "err", err)
			touched = false
		}
		if touched {
			return true
		}
		if i < m.Cfg.Polls-1 {
			clk.Sleep(timex.Ms(m.Cfg.PollMs))
		}
	}
	return false
}

func (m *Monitor) confirm(ctx context.Context, clk timex.Clock, log *slog.Logger) bool {
	hold := NewHold(timex.Ms(m.Cfg.HoldMs))
	hold.Start(clk.Now())
	step := timex.Ms(m.Cfg.HoldPollMs)

	// The clock advances by at least step per iteration; the cap only
	// matters for a clock that does not.
	limit := int(mathx.CeilDiv(uint32(m.Cfg.HoldMs), uint32(m.Cfg.HoldPollMs))) + 1
	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			hold.Abort()
			return false
		}
		clk.Sleep(step)
		now := clk.Now()

		touched, err := m.Sensor.Touched()
		if err != nil {
			log.Debug("hold poll error", "err", err)
			touched = false
		}
		switch hold.Observe(now, touched) {
		case HoldConfirmed:
			return true
		case HoldAborted:
			return false
		}
		m.progress(hold, now)
	}
	hold.Abort()
	return false
}

func (m *Monitor) progress(h *Hold, now time.Time) {
	display.Publish(m.Conn, types.Screen{
		Kind:      types.ScreenTouchHold,
		Progress:  mathx.Percent(h.Elapsed(now).Milliseconds(), int64(m.Cfg.HoldMs)),
		Remaining: int(h.Remaining(now) / time.Second),
	})
}
