package telemetry

import (
	"context"
	"log/slog"
	"time"

	"autovolume-go/bus"
	"autovolume-go/identity"
	"autovolume-go/services/config"
	"autovolume-go/types"
	"autovolume-go/x/mathx"
	"autovolume-go/x/timex"
)

var topicConfigTelemetry = bus.T("config", "telemetry")

// Sender is the uplink session.
type Sender interface {
	Registered() bool
	Send(v any) error
}

// Level is the latest loudness reading.
type Level interface {
	DBFS() float64
}

type Service struct {
	Device   identity.Device
	Uplink   Sender
	Level    Level
	Interval time.Duration
	Log      *slog.Logger
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("svc", "telemetry")

	cfgSub := conn.Subscribe(topicConfigTelemetry)
	defer conn.Unsubscribe(cfgSub)

	every := s.Interval
	if every <= 0 {
		every = timex.Ms(config.Default().Telemetry.IntervalMs)
	}
	tick := time.NewTicker(every)
	defer tick.Stop()

	var sent, skipped uint64
	for {
		select {
		case <-ctx.Done():
			log.Info("telemetry stopping", "sent", sent, "skipped", skipped)
			return
		case <-tick.C:
			if !s.Uplink.Registered() {
				skipped++
				continue
			}
			msg := types.SoundLevel{
				Type:     types.MsgSoundLevel,
				DeviceID: s.Device.ID,
				DBFS:     mathx.RoundTenths(s.Level.DBFS()),
			}
			if err := s.Uplink.Send(msg); err != nil {
				log.Debug("send failed", "err", err)
				continue
			}
			sent++
		case msg := <-cfgSub.Channel():
			tc, ok := msg.Payload.(config.TelemetryConfig)
			if !ok || tc.IntervalMs <= 0 {
				continue
			}
			if d := timex.Ms(tc.IntervalMs); d != every {
				every = d
				tick.Reset(every)
				log.Info("telemetry interval set", "interval", every)
			}
		}
	}
}

// Start runs the telemetry loop in the background.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
