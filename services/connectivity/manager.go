// Package connectivity owns the device's network operating mode: boot-time
// choice between stored credentials and setup, failure counting and
// escalation back into setup.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"autovolume-go/bus"
	"autovolume-go/errcode"
	"autovolume-go/services/config"
	"autovolume-go/services/display"
	"autovolume-go/types"
	"autovolume-go/x/timex"
)

var TopicState = bus.T("net", "state")

// Station is the part of the network stack the manager drives.
type Station interface {
	Stored() bool
	SSID() string
	Begin(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Connected() bool
}

// Provisioner runs one setup session. A nil error means the device is
// joined and the account identifier is stored.
type Provisioner interface {
	Run(ctx context.Context) error
}

type Accounts interface {
	AccountID() (string, bool)
}

type Options struct {
	Config      config.WiFiConfig
	Station     Station
	Provisioner Provisioner
	Accounts    Accounts
	Clock       timex.Clock
	Conn        *bus.Connection
	Log         *slog.Logger
}

type Manager struct {
	cfg  config.WiFiConfig
	st   Station
	prov Provisioner
	acct Accounts
	clk  timex.Clock
	conn *bus.Connection
	log  *slog.Logger

	// step serialises Boot and Tick; mu guards the fields read by State.
	step sync.Mutex
	mu   sync.Mutex

	state       types.ConnState
	failures    int
	lastAttempt time.Time
	pending     bool
}

func New(o Options) *Manager {
	if o.Clock == nil {
		o.Clock = timex.System
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return &Manager{
		cfg:   o.Config,
		st:    o.Station,
		prov:  o.Provisioner,
		acct:  o.Accounts,
		clk:   o.Clock,
		conn:  o.Conn,
		log:   o.Log.With("svc", "connectivity"),
		state: types.Disconnected,
	}
}

func (m *Manager) State() types.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// Run boots and then ticks until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	m.Boot(ctx)
	t := time.NewTicker(m.cfg.Tick())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Tick(ctx)
		}
	}
}

// Boot tries stored credentials within the boot budget and falls back to
// provisioning. It blocks for at most the budget plus one setup session.
func (m *Manager) Boot(ctx context.Context) {
	m.step.Lock()
	defer m.step.Unlock()

	_, hasAccount := m.acct.AccountID()
	if !m.st.Stored() || !hasAccount {
		m.log.Info("no stored credentials", "network", m.st.Stored(), "account", hasAccount)
		m.provision(ctx)
		return
	}

	ssid := m.st.SSID()
	m.setState(types.Connecting)
	m.log.Info("connecting with stored credentials", "ssid", ssid)
	if err := m.st.Begin(ctx); err != nil {
		m.log.Warn("begin failed", "err", err)
	}
	for i := 1; i <= m.cfg.BootAttempts; i++ {
		if m.st.Connected() {
			m.toConnected()
			return
		}
		if ctx.Err() != nil {
			return
		}
		display.Publish(m.conn, types.Screen{
			Kind: types.ScreenConnecting, SSID: ssid,
			Attempt: i, MaxAttempts: m.cfg.BootAttempts,
		})
		m.clk.Sleep(m.cfg.BootPoll())
	}
	if m.st.Connected() {
		m.toConnected()
		return
	}
	m.log.Warn("stored network unreachable", "ssid", ssid, "budget", time.Duration(m.cfg.BootAttempts)*m.cfg.BootPoll())
	m.provision(ctx)
}

// Tick evaluates the state machine once. Apart from entering provisioning
// it never blocks.
func (m *Manager) Tick(ctx context.Context) {
	m.step.Lock()
	defer m.step.Unlock()
	if ctx.Err() != nil {
		return
	}

	switch m.State() {
	case types.Connected:
		if m.st.Connected() {
			return
		}
		m.mu.Lock()
		m.failures++
		m.lastAttempt = time.Time{}
		m.pending = false
		n := m.failures
		m.mu.Unlock()
		m.log.Warn("link lost", "failures", n)
		m.setState(types.Disconnected)
		display.Publish(m.conn, types.Screen{Kind: types.ScreenWiFiFailed, SSID: m.st.SSID()})

	case types.Disconnected:
		if m.st.Connected() {
			m.toConnected()
			return
		}
		if m.Failures() >= m.cfg.MaxFailures {
			m.log.Warn("failure threshold reached, re-provisioning", "failures", m.Failures())
			m.provision(ctx)
			return
		}
		now := m.clk.Now()
		m.mu.Lock()
		due := timex.Due(m.lastAttempt, now, m.cfg.Retry())
		m.mu.Unlock()
		if !due {
			return
		}
		if m.retryFailed() {
			return
		}
		m.mu.Lock()
		m.lastAttempt = now
		m.pending = true
		m.mu.Unlock()
		m.log.Info("reconnecting")
		if err := m.st.Reconnect(ctx); err != nil {
			m.log.Warn("reconnect failed", "err", err)
		}
	}
}

// retryFailed charges an unanswered reconnect to the failure counter and
// reports whether the threshold was reached. Escalation happens on the
// next evaluation. The drop itself counts as the first failed cycle, so
// with a threshold of 5 the manager escalates after the drop and four
// unanswered reconnects.
func (m *Manager) retryFailed() bool {
	m.mu.Lock()
	if !m.pending {
		m.mu.Unlock()
		return false
	}
	m.pending = false
	m.failures++
	n := m.failures
	m.mu.Unlock()
	m.log.Info("reconnect attempt failed", "failures", n)
	m.publish()
	return n >= m.cfg.MaxFailures
}

func (m *Manager) provision(ctx context.Context) {
	m.mu.Lock()
	m.failures = 0
	m.pending = false
	m.mu.Unlock()
	m.setState(types.Provisioning)

	err := m.prov.Run(ctx)
	if err == nil {
		m.toConnected()
		return
	}
	m.log.Warn("provisioning failed", "code", errcode.Of(err), "err", err)
	m.setState(types.PortalFailed)
	display.Publish(m.conn, types.Screen{Kind: types.ScreenWiFiFailed})

	m.mu.Lock()
	m.lastAttempt = time.Time{}
	m.mu.Unlock()
	m.setState(types.Disconnected)
}

func (m *Manager) toConnected() {
	m.mu.Lock()
	m.failures = 0
	m.pending = false
	m.mu.Unlock()
	m.setState(types.Connected)
	ssid := m.st.SSID()
	m.log.Info("connected", "ssid", ssid)
	display.Publish(m.conn, types.Screen{Kind: types.ScreenNormal, SSID: ssid})
}

func (m *Manager) setState(s types.ConnState) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.log.Debug("state", "from", prev.String(), "to", s.String())
	}
	m.publish()
}

func (m *Manager) publish() {
	if m.conn == nil {
		return
	}
	m.mu.Lock()
	st := types.ConnStatus{State: m.state, Failures: m.failures, TS: timex.NowMs()}
	m.mu.Unlock()
	m.conn.Publish(m.conn.NewMessage(TopicState, st, true))
}
