package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"autovolume-go/bus"
	"autovolume-go/errcode"
	"autovolume-go/services/config"
	"autovolume-go/types"
	"autovolume-go/x/timex"
)

var t0 = time.Unix(1_700_000_000, 0)

type fakeStation struct {
	mu         sync.Mutex
	clk        *timex.Manual
	stored     bool
	up         bool
	upAfter    time.Time // Begin brings the link up at this time; zero = never
	begins     int
	reconnects int
	onReconn   func() bool
}

func (f *fakeStation) Stored() bool { return f.stored }
func (f *fakeStation) SSID() string { return "home" }

func (f *fakeStation) Begin(ctx context.Context) error {
	f.mu.Lock()
	f.begins++
	f.mu.Unlock()
	return nil
}

func (f *fakeStation) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if f.onReconn != nil && f.onReconn() {
		f.up = true
	}
	return nil
}

func (f *fakeStation) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.upAfter.IsZero() && !f.clk.Now().Before(f.upAfter) {
		return true
	}
	return f.up
}

func (f *fakeStation) setUp(v bool) {
	f.mu.Lock()
	f.up = v
	f.upAfter = time.Time{}
	f.mu.Unlock()
}

type fakeProv struct {
	runs     int
	err      error
	st       *fakeStation
	seen     []int // manager failure count observed inside Run
	m        *Manager
	connects bool
}

func (p *fakeProv) Run(ctx context.Context) error {
	p.runs++
	if p.m != nil {
		p.seen = append(p.seen, p.m.Failures())
		if s := p.m.State(); s != types.Provisioning {
			return errors.New("state during provisioning = " + s.String())
		}
	}
	if p.err == nil && p.st != nil {
		p.st.setUp(true)
	}
	return p.err
}

type accounts struct{ id string }

func (a accounts) AccountID() (string, bool) { return a.id, a.id != "" }

func newManager(st *fakeStation, prov *fakeProv, acct string, conn *bus.Connection) *Manager {
	m := New(Options{
		Config:      config.Default().WiFi,
		Station:     st,
		Provisioner: prov,
		Accounts:    accounts{acct},
		Clock:       st.clk,
		Conn:        conn,
	})
	prov.m = m
	prov.st = st
	return m
}

func TestBootWithoutCredentialsProvisions(t *testing.T) {
	clk := timex.NewManual(t0)
	st := &fakeStation{clk: clk}
	prov := &fakeProv{}
	m := newManager(st, prov, "", nil)

	m.Boot(context.Background())
	if prov.runs != 1 || st.begins != 0 {
		t.Fatalf("runs = %d begins = %d", prov.runs, st.begins)
	}
	if m.State() != types.Connected || m.Failures() != 0 {
		t.Fatalf("state = %v failures = %d", m.State(), m.Failures())
	}
}

func TestBootWithNetworkButNoAccountProvisions(t *testing.T) {
	clk := timex.NewManual(t0)
	st := &fakeStation{clk: clk, stored: true, up: true}
	prov := &fakeProv{}
	m := newManager(st, prov, "", nil)
	m.Boot(context.Background())
	if prov.runs != 1 || st.begins != 0 {
		t.Fatalf("runs = %d begins = %d", prov.runs, st.begins)
	}
}

func TestBootStoredConnectsWithinBudget(t *testing.T) {
	clk := timex.NewManual(t0)
	st := &fakeStation{clk: clk, stored: true, upAfter: t0.Add(1500 * time.Millisecond)}
	prov := &fakeProv{}
	m := newManager(st, prov, "venue-42", nil)

	m.Boot(context.Background())
	if m.State() != types.Connected || prov.runs != 0 || st.begins != 1 {
		t.Fatalf("state = %v runs = %d begins = %d", m.State(), prov.runs, st.begins)
	}
	if clk.Slept() != 1500*time.Millisecond {
		t.Fatalf("slept %v", clk.Slept())
	}
}

func TestBootBudgetExhaustedProvisions(t *testing.T) {
	clk := timex.NewManual(t0)
	st := &fakeStation{clk: clk, stored: true}
	prov := &fakeProv{}
	m := newManager(st, prov, "venue-42", nil)

	m.Boot(context.Background())
	if clk.Slept() != 15*time.Second {
		t.Fatalf("slept %v, want 15s", clk.Slept())
	}
	if prov.runs != 1 || m.State() != types.Connected {
		t.Fatalf("runs = %d state = %v", prov.runs, m.State())
	}
}

func TestProvisioningFailurePassesThroughPortalFailed(t *testing.T) {
	clk := timex.NewManual(t0)
	st := &fakeStation{clk: clk}
	prov := &fakeProv{err: errcode.PortalTimeout}
	b := bus.NewBus(16)
	sub := b.NewConnection("watch").Subscribe(TopicState)
	m := newManager(st, prov, "", b.NewConnection("net"))

	m.Boot(context.Background())
	var seq []types.ConnState
	for len(sub.Channel()) > 0 {
		seq = append(seq, (<-sub.Channel()).Payload.(types.ConnStatus).State)
	}
	want := []types.ConnState{types.Provisioning, types.PortalFailed, types.Disconnected}
	if len(seq) != len(want) {
		t.Fatalf("states = %v", seq)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("states = %v", seq)
		}
	}
	if m.Failures() != 0 {
		t.Fatalf("failures = %d", m.Failures())
	}
}

func bootConnected(t *testing.T) (*Manager, *fakeStation, *fakeProv, *timex.Manual) {
	t.Helper()
	clk := timex.NewManual(t0)
	st := &fakeStation{clk: clk, stored: true, up: true}
	prov := &fakeProv{}
	m := newManager(st, prov, "venue-42", nil)
	m.Boot(context.Background())
	if m.State() != types.Connected {
		t.Fatalf("boot state = %v", m.State())
	}
	return m, st, prov, clk
}

func TestDropCountsOnceAndRetriesOnInterval(t *testing.T) {
	m, st, _, clk := bootConnected(t)
	ctx := context.Background()

	st.setUp(false)
	m.Tick(ctx)
	if m.State() != types.Disconnected || m.Failures() != 1 {
		t.Fatalf("state = %v failures = %d", m.State(), m.Failures())
	}
	m.Tick(ctx)
	if st.reconnects != 1 {
		t.Fatalf("reconnects = %d, want immediate retry", st.reconnects)
	}
	clk.Advance(4999 * time.Millisecond)
	m.Tick(ctx)
	if st.reconnects != 1 || m.Failures() != 1 {
		t.Fatalf("early retry: reconnects = %d failures = %d", st.reconnects, m.Failures())
	}
	clk.Advance(time.Millisecond)
	m.Tick(ctx)
	if st.reconnects != 2 || m.Failures() != 2 {
		t.Fatalf("reconnects = %d failures = %d", st.reconnects, m.Failures())
	}
}

func TestReconnectRestoresAndResetsCounter(t *testing.T) {
	m, st, _, clk := bootConnected(t)
	ctx := context.Background()

	st.setUp(false)
	m.Tick(ctx)
	m.Tick(ctx)
	clk.Advance(5 * time.Second)
	m.Tick(ctx)
	if m.Failures() != 2 {
		t.Fatalf("failures = %d", m.Failures())
	}
	st.setUp(true)
	m.Tick(ctx)
	if m.State() != types.Connected || m.Failures() != 0 {
		t.Fatalf("state = %v failures = %d", m.State(), m.Failures())
	}
}

func TestThresholdForcesProvisioningAndResetsCounter(t *testing.T) {
	m, st, prov, clk := bootConnected(t)
	ctx := context.Background()
	prov.err = errcode.PortalTimeout

	st.setUp(false)
	m.Tick(ctx) // drop: 1
	for i := 0; i < 10 && prov.runs == 0; i++ {
		m.Tick(ctx)
		clk.Advance(5 * time.Second)
	}
	if prov.runs != 1 {
		t.Fatalf("provisioning runs = %d", prov.runs)
	}
	if st.reconnects != 4 {
		t.Fatalf("reconnects before escalation = %d", st.reconnects)
	}
	if len(prov.seen) != 1 || prov.seen[0] != 0 {
		t.Fatalf("failures during provisioning = %v", prov.seen)
	}
	if m.State() != types.Disconnected || m.Failures() != 0 {
		t.Fatalf("after failed portal: state = %v failures = %d", m.State(), m.Failures())
	}
	// The retry is due immediately after a failed portal.
	m.Tick(ctx)
	if st.reconnects != 5 {
		t.Fatalf("reconnects = %d", st.reconnects)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	clk := timex.NewManual(t0)
	st := &fakeStation{clk: clk, stored: true, up: true}
	m := newManager(st, &fakeProv{}, "a", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { m.Run(ctx); close(done) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
