// Package display carries screen requests from the lifecycle services to
// whatever draws them. Pixel rendering lives outside this module.
package display

import (
	"context"
	"log/slog"

	"autovolume-go/bus"
	"autovolume-go/types"
	"autovolume-go/x/timex"
)

var TopicScreen = bus.T("display", "screen")

// Publish replaces the retained screen.
func Publish(conn *bus.Connection, s types.Screen) {
	if conn == nil {
		return
	}
	s.TS = timex.NowMs()
	conn.Publish(conn.NewMessage(TopicScreen, s, true))
}

// LogRenderer writes every screen change to the log. It stands in for the
// panel driver on boards without one.
type LogRenderer struct {
	Log *slog.Logger
}

func (r LogRenderer) Run(ctx context.Context, conn *bus.Connection) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("svc", "display")

	sub := conn.Subscribe(TopicScreen)
	defer conn.Unsubscribe(sub)

	var last types.Screen
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			s, ok := m.Payload.(types.Screen)
			if !ok {
				continue
			}
			// Progress screens repeat at poll rate; only log kind changes and whole seconds.
			if s.Kind == last.Kind && s.Remaining == last.Remaining && s.Attempt == last.Attempt {
				continue
			}
			last = s
			log.Info("screen", attrs(s)...)
		}
	}
}

func attrs(s types.Screen) []any {
	out := []any{"kind", string(s.Kind)}
	switch s.Kind {
	case types.ScreenProvisioning:
		out = append(out, "ap", s.APName, "timeout_s", s.TimeoutS)
	case types.ScreenConnecting:
		out = append(out, "ssid", s.SSID, "attempt", s.Attempt, "of", s.MaxAttempts)
	case types.ScreenTouchHold:
		out = append(out, "progress", s.Progress, "remaining_s", s.Remaining)
	case types.ScreenNormal:
		out = append(out, "ssid", s.SSID)
	}
	return out
}
