package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"autovolume-go/bus"
	"autovolume-go/identity"
	"autovolume-go/services/config"
	"autovolume-go/types"
)

type fakeUplink struct {
	registered atomic.Bool
	mu         sync.Mutex
	sent       []types.SoundLevel
}

func (f *fakeUplink) Registered() bool { return f.registered.Load() }

func (f *fakeUplink) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v.(types.SoundLevel))
	return nil
}

func (f *fakeUplink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type level float64

func (l level) DBFS() float64 { return float64(l) }

func TestSendsRoundedLevelOnlyWhenRegistered(t *testing.T) {
	up := &fakeUplink{}
	b := bus.NewBus(8)
	s := &Service{
		Device:   identity.Device{ID: "av-240ac412ab0f"},
		Uplink:   up,
		Level:    level(-42.36),
		Interval: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Start(ctx, b.NewConnection("telemetry"))

	time.Sleep(50 * time.Millisecond)
	if up.count() != 0 {
		t.Fatalf("sent %d while unregistered", up.count())
	}
	up.registered.Store(true)
	deadline := time.Now().Add(time.Second)
	for up.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.sent) == 0 {
		t.Fatal("nothing sent")
	}
	m := up.sent[0]
	if m.Type != "sound_level" || m.DeviceID != "av-240ac412ab0f" || m.DBFS != -42.4 {
		t.Fatalf("message = %+v", m)
	}
}

func TestIntervalFollowsConfig(t *testing.T) {
	up := &fakeUplink{}
	up.registered.Store(true)
	b := bus.NewBus(8)
	s := &Service{Uplink: up, Level: level(-30), Interval: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := b.NewConnection("config")
	_ = s.Start(ctx, b.NewConnection("telemetry"))
	time.Sleep(20 * time.Millisecond)
	if up.count() != 0 {
		t.Fatal("sent before first tick")
	}
	cfg.Publish(cfg.NewMessage(bus.T("config", "telemetry"), config.TelemetryConfig{IntervalMs: 10}, true))

	deadline := time.Now().Add(time.Second)
	for up.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if up.count() < 2 {
		t.Fatalf("sent %d after interval change", up.count())
	}
}
