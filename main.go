package main

import (
	"context"
	"log/slog"
	"os"

	"autovolume-go/bus"
	"autovolume-go/identity"
	"autovolume-go/platform"
	"autovolume-go/services/config"
	"autovolume-go/services/connectivity"
	"autovolume-go/services/credstore"
	"autovolume-go/services/display"
	"autovolume-go/services/meter"
	"autovolume-go/services/provision"
	"autovolume-go/services/telemetry"
	"autovolume-go/services/touchreset"
	"autovolume-go/services/uplink"
	"autovolume-go/x/timex"
)

func main() {
	args := os.Args
	if len(args) > 0 {
		args = args[1:]
	}
	opts, err := platform.ParseOptions(args)
	if err != nil {
		os.Exit(2)
	}
	log := slog.New(slog.NewTextHandler(platform.LogWriter(), &slog.HandlerOptions{Level: opts.LogLevel}))
	slog.SetDefault(log)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		log.Error("config", "path", opts.ConfigPath, "err", err)
		os.Exit(1)
	}
	log.Info("boot", "firmware", cfg.Device.Firmware)

	ctx, stop := platform.Context()
	defer stop()

	b := bus.NewBus(16)
	config.Publish(b.NewConnection("config"), cfg)
	go display.LogRenderer{Log: log}.Run(ctx, b.NewConnection("display"))

	backend, err := platform.StoreBackend(cfg)
	if err != nil {
		log.Error("credential backend", "err", err)
		os.Exit(1)
	}
	store, err := credstore.Open(backend, log)
	if err != nil {
		log.Error("credential store", "err", err)
		os.Exit(1)
	}
	stack, dialer := platform.Network(cfg, store, log)
	store.SetEraser(stack)
	if err := store.Recover(); err != nil {
		log.Error("credential recovery", "err", err)
	}

	// Runs before any network activity.
	if sensor := platform.TouchSensor(log); sensor != nil && cfg.Touch.Enabled {
		mon := &touchreset.Monitor{
			Sensor:  sensor,
			Store:   store,
			Restart: platform.Restart,
			Conn:    b.NewConnection("touchreset"),
			Log:     log,
			Cfg:     cfg.Touch,
		}
		mon.Run(ctx)
	}

	mac, err := stack.HardwareAddr()
	if err != nil {
		log.Warn("hardware address unavailable", "err", err)
	}
	dev := identity.New(cfg.Device.IDPrefix, mac)
	apName := identity.APName(cfg.Portal.APPrefix, mac)
	log.Info("identity", "device_id", dev.ID, "ap", apName)

	pcm, err := platform.PCMSource(opts.PCMPath)
	if err != nil {
		log.Warn("pcm source", "path", opts.PCMPath, "err", err)
		pcm = nil
	}
	m := meter.New(pcm, log)
	go m.Run(ctx, timex.Ms(cfg.Telemetry.SampleMs))

	setup := provision.New(cfg.Portal, stack, store, platform.SetupPortal(cfg, opts, log), apName)
	setup.Conn = b.NewConnection("provision")
	setup.Log = log

	mgr := connectivity.New(connectivity.Options{
		Config:      cfg.WiFi,
		Station:     stack,
		Provisioner: setup,
		Accounts:    store,
		Conn:        b.NewConnection("connectivity"),
		Log:         log,
	})

	up := uplink.New(uplink.Options{
		Device:     dev,
		Firmware:   cfg.Device.Firmware,
		DefaultURL: cfg.Server.URL,
		Retry:      cfg.Server.Retry(),
		Transport:  uplink.NewWSTransport(dialer),
		Gate:       mgr,
		Store:      store,
		Conn:       b.NewConnection("uplink"),
		Log:        log,
	})
	go up.Run(ctx)

	tel := &telemetry.Service{
		Device:   dev,
		Uplink:   up,
		Level:    m,
		Interval: timex.Ms(cfg.Telemetry.IntervalMs),
		Log:      log,
	}
	_ = tel.Start(ctx, b.NewConnection("telemetry"))

	mgr.Run(ctx)
	log.Info("shutdown", "reason", context.Cause(ctx))
}
