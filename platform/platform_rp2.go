//go:build rp2040 || rp2350

package platform

import (
	"context"
	"io"
	"log/slog"
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"autovolume-go/drivers/ft3168"
	"autovolume-go/services/config"
	"autovolume-go/services/credstore"
	"autovolume-go/services/provision"
	"autovolume-go/services/touchreset"
	"autovolume-go/services/wifi"
)

const defaultConsole = true

// Board wiring.
const (
	pinI2CSDA   = machine.GPIO4
	pinI2CSCL   = machine.GPIO5
	pinTouchInt = machine.GPIO21
	pinUARTTX   = machine.GPIO0
	pinUARTRX   = machine.GPIO1
	consoleBaud = 115200
)

var console = func() *uartx.UART {
	u := uartx.UART0
	_ = u.Configure(uartx.UARTConfig{BaudRate: consoleBaud, TX: pinUARTTX, RX: pinUARTRX})
	return u
}()

// uartReader adapts the UART receive path to io.Reader.
type uartReader struct{ u *uartx.UART }

func (r uartReader) Read(p []byte) (int, error) {
	return r.u.RecvSomeContext(context.Background(), p)
}

func LogWriter() io.Writer {
	// Allow USB CDC / the UART to settle before the first line.
	time.Sleep(2 * time.Second)
	return console
}

func Context() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

func StoreBackend(*config.Config) (credstore.Backend, error) {
	return credstore.NewMachineFlash(), nil
}

func Network(cfg *config.Config, store *credstore.Store, log *slog.Logger) (wifi.Stack, wifi.Dialer) {
	st := wifi.NewCYW43(store, "autovolume", log)
	return st, st
}

func TouchSensor(log *slog.Logger) touchreset.Sensor {
	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{SDA: pinI2CSDA, SCL: pinI2CSCL, Frequency: 400_000}); err != nil {
		log.Warn("i2c0 configure failed", "err", err)
		return nil
	}
	pinTouchInt.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	dev := ft3168.New(i2c)
	return touchreset.ChipSensor{
		Chip:        &dev,
		IntAsserted: func() bool { return !pinTouchInt.Get() },
	}
}

func SetupPortal(cfg *config.Config, o Options, log *slog.Logger) provision.Portal {
	return provision.NewConsolePortal(uartReader{console}, console, log)
}

func Restart() {
	time.Sleep(1500 * time.Millisecond)
	machine.CPUReset()
}

func PCMSource(string) (io.Reader, error) { return nil, nil }
