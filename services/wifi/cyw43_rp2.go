//go:build rp2040 || rp2350

package wifi

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"

	"autovolume-go/errcode"
	"autovolume-go/services/credstore"
)

const mtu = cyw43439.MTU

// CredKeeper holds network credentials for a stack without its own storage.
type CredKeeper interface {
	Get(key string) (string, bool)
	PutAll(kv map[string]string) error
}

// CYW43 is the Pico W station. Credentials live in the credential store and
// the TCP/IP stack is seqs.
type CYW43 struct {
	dev      *cyw43439.Device
	store    CredKeeper
	log      *slog.Logger
	hostname string

	initOnce sync.Once
	initErr  error
	mac      [6]byte

	att attempts

	mu       sync.Mutex
	stack    *stacks.PortStack
	dhcp     *stacks.DHCPClient
	nextPort uint16
}

func NewCYW43(store CredKeeper, hostname string, log *slog.Logger) *CYW43 {
	if log == nil {
		log = slog.Default()
	}
	return &CYW43{
		dev:      cyw43439.NewPicoWDevice(),
		store:    store,
		log:      log.With("svc", "wifi"),
		hostname: hostname,
		nextPort: 49152,
	}
}

func (c *CYW43) init() error {
	c.initOnce.Do(func() {
		cfg := cyw43439.DefaultWifiConfig()
		start := time.Now()
		if c.initErr = c.dev.Init(cfg); c.initErr != nil {
			return
		}
		c.log.Info("cyw43439 init", "duration", time.Since(start))
		c.mac, c.initErr = c.dev.HardwareAddr6()
		if c.initErr != nil {
			return
		}
		c.stack = stacks.NewPortStack(stacks.PortStackConfig{
			MAC:             c.mac,
			MaxOpenPortsUDP: 2, // DHCP + DNS
			MaxOpenPortsTCP: 2,
			MTU:             mtu,
			Logger:          c.log,
		})
		c.dev.RecvEthHandle(c.stack.RecvEth)
		go nicLoop(c.dev, c.stack)
	})
	return c.initErr
}

func (c *CYW43) HardwareAddr() ([6]byte, error) {
	if err := c.init(); err != nil {
		return [6]byte{}, err
	}
	return c.mac, nil
}

func (c *CYW43) Stored() bool {
	_, ok := c.store.Get(credstore.KeyWiFiSSID)
	return ok
}

func (c *CYW43) SSID() string {
	s, _ := c.store.Get(credstore.KeyWiFiSSID)
	return s
}

func (c *CYW43) Connected() bool {
	if !c.att.linkUp() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dhcp != nil && c.dhcp.State() == dhcp.StateBound
}

func (c *CYW43) Begin(ctx context.Context) error { return c.startStored() }

func (c *CYW43) Reconnect(ctx context.Context) error { return c.startStored() }

// startStored kicks off a background join with the stored credentials.
func (c *CYW43) startStored() error {
	ssid, ok := c.store.Get(credstore.KeyWiFiSSID)
	if !ok {
		return errcode.New(errcode.NotConnected, "wifi.begin", "no stored network")
	}
	pass, _ := c.store.Get(credstore.KeyWiFiPass)

	id, ok := c.att.begin()
	if !ok {
		return nil
	}
	go func() {
		if err := c.connect(id, ssid, pass); err != nil {
			c.log.Warn("join failed", "ssid", ssid, "err", err)
		}
	}()
	return nil
}

// connect runs attempt id. The link is raised only if the attempt is still
// current when the lease arrives.
func (c *CYW43) connect(id uint32, ssid, pass string) error {
	dc, err := c.associate(ssid, pass)
	if err != nil {
		c.att.finish(id, false, nil)
		return err
	}
	if !c.att.finish(id, true, func() {
		c.mu.Lock()
		c.dhcp = dc
		c.mu.Unlock()
	}) {
		return errcode.New(errcode.Timeout, "wifi.join", "attempt abandoned")
	}
	return nil
}

func (c *CYW43) associate(ssid, pass string) (*stacks.DHCPClient, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	if len(pass) == 0 {
		c.log.Info("joining open network", "ssid", ssid)
	} else {
		c.log.Info("joining WPA secure network", "ssid", ssid, "passlen", len(pass))
	}
	if err := c.dev.JoinWPA2(ssid, pass); err != nil {
		return nil, errcode.Wrap(errcode.JoinFailed, "wifi.join", err)
	}

	dc := stacks.NewDHCPClient(c.stack, dhcp.DefaultClientPort)
	if err := dc.BeginRequest(stacks.DHCPRequestConfig{
		Xid:      uint32(time.Now().Nanosecond()),
		Hostname: c.hostname,
	}); err != nil {
		return nil, errcode.Wrap(errcode.JoinFailed, "wifi.dhcp", err)
	}
	for i := 0; dc.State() != dhcp.StateBound; i++ {
		if i > 16 {
			return nil, errcode.New(errcode.Timeout, "wifi.dhcp", "no lease")
		}
		time.Sleep(500 * time.Millisecond)
	}
	ip := dc.Offer()
	c.stack.SetAddr(ip)
	c.log.Info("dhcp complete", "ip", ip.String(), "router", dc.Router().String())
	return dc, nil
}

// Join blocks until associated and bound, then stores the credentials.
func (c *CYW43) Join(ctx context.Context, ssid, pass string) error {
	id, ok := c.att.begin()
	if !ok {
		return errcode.Busy
	}
	done := make(chan error, 1)
	go func() { done <- c.connect(id, ssid, pass) }()
	select {
	case <-ctx.Done():
		c.att.abandon(id)
		return errcode.Wrap(errcode.JoinFailed, "wifi.join", ctx.Err())
	case err := <-done:
		if err != nil {
			return err
		}
	}
	return c.store.PutAll(map[string]string{
		credstore.KeyWiFiSSID: ssid,
		credstore.KeyWiFiPass: pass,
	})
}

// Forget drops the link; the credentials themselves are removed with the
// rest of the credential store document.
func (c *CYW43) Forget() error {
	c.att.drop()
	return nil
}

func (c *CYW43) Scan(ctx context.Context) ([]string, error) {
	return nil, errcode.Unsupported
}

// StartAP is a no-op: the radio driver has no soft AP mode, so setup runs on
// the serial console.
func (c *CYW43) StartAP(ctx context.Context, name string) error {
	c.log.Warn("soft AP not available, use the serial console", "name", name)
	return nil
}

func (c *CYW43) StopAP(ctx context.Context) error { return nil }

var _ Stack = (*CYW43)(nil)
var _ Dialer = (*CYW43)(nil)

// DialContext opens a TCP connection through the seqs stack.
func (c *CYW43) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	up := c.att.linkUp()
	c.mu.Lock()
	stack, dc := c.stack, c.dhcp
	port := c.nextPort
	c.nextPort++
	if c.nextPort == 0 {
		c.nextPort = 49152
	}
	c.mu.Unlock()
	if !up || dc == nil {
		return nil, errcode.NotConnected
	}
	return dialTCP(ctx, stack, dc, port, addr)
}
