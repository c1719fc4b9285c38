package provision

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"autovolume-go/errcode"
	"autovolume-go/services/credstore"
)

type fakeNet struct {
	mu       sync.Mutex
	events   []string
	scanErr  error
	joinErrs []error // consumed per Join call
	joined   [2]string
}

func (f *fakeNet) record(e string) {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
}

func (f *fakeNet) Scan(ctx context.Context) ([]string, error) {
	f.record("scan")
	return []string{"home", "cafe"}, f.scanErr
}

func (f *fakeNet) StartAP(ctx context.Context, name string) error {
	f.record("start_ap:" + name)
	return nil
}

func (f *fakeNet) StopAP(ctx context.Context) error {
	f.record("stop_ap")
	return nil
}

func (f *fakeNet) Join(ctx context.Context, ssid, pass string) error {
	f.record("join:" + ssid)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.joinErrs) > 0 {
		err := f.joinErrs[0]
		f.joinErrs = f.joinErrs[1:]
		if err != nil {
			return err
		}
	}
	f.joined = [2]string{ssid, pass}
	return nil
}

func (f *fakeNet) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// chanPortal hands each opened attempt to the test.
type chanPortal struct {
	opened chan attemptHandle
	closes int
	mu     sync.Mutex
}

type attemptHandle struct {
	nonce string
	subs  chan *Submission
}

func newChanPortal() *chanPortal { return &chanPortal{opened: make(chan attemptHandle, 8)} }

func (p *chanPortal) Open(ctx context.Context, apName, nonce string) (<-chan *Submission, error) {
	h := attemptHandle{nonce: nonce, subs: make(chan *Submission, 1)}
	p.opened <- h
	return h.subs, nil
}

func (p *chanPortal) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

func (h attemptHandle) submit(t *testing.T, nonce, ssid, pass, account string) Reply {
	t.Helper()
	sub := NewSubmission(nonce, ssid, pass, account)
	h.subs <- sub
	select {
	case r := <-sub.Reply():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return Reply{}
	}
}

func nextAttempt(t *testing.T, p *chanPortal) attemptHandle {
	t.Helper()
	select {
	case h := <-p.opened:
		return h
	case <-time.After(2 * time.Second):
		t.Fatal("portal not opened")
		return attemptHandle{}
	}
}

func newSession(net *fakeNet, store *credstore.Store, portal Portal) *Session {
	n := 0
	return &Session{
		Net:            net,
		Store:          store,
		Portal:         portal,
		APName:         "AutoVolume-AB0F",
		Timeout:        5 * time.Second,
		ConnectTimeout: time.Second,
		NewNonce: func() string {
			n++
			return "nonce-" + string(rune('0'+n))
		},
	}
}

func newStore(t *testing.T) (*credstore.Store, *credstore.Memory) {
	t.Helper()
	m := credstore.NewMemory(nil)
	s, err := credstore.Open(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s, m
}

func runAsync(s *Session, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestValidSubmissionJoinsAndStores(t *testing.T) {
	net := &fakeNet{}
	store, _ := newStore(t)
	portal := newChanPortal()
	done := runAsync(newSession(net, store, portal), context.Background())

	h := nextAttempt(t, portal)
	if r := h.submit(t, h.nonce, "home", "secret", "  venue-42 "); !r.OK() {
		t.Fatalf("reply = %+v", r)
	}
	if err := wait(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v, _ := store.AccountID(); v != "venue-42" {
		t.Fatalf("account = %q", v)
	}
	if net.joined != [2]string{"home", "secret"} {
		t.Fatalf("joined = %v", net.joined)
	}
	if net.events[0] != "scan" || net.events[1] != "start_ap:AutoVolume-AB0F" {
		t.Fatalf("events = %v", net.events)
	}
	if net.count("stop_ap") != 1 {
		t.Fatalf("events = %v", net.events)
	}
}

func TestEmptyAccountRestartsWithoutWriting(t *testing.T) {
	net := &fakeNet{}
	store, mem := newStore(t)
	portal := newChanPortal()
	done := runAsync(newSession(net, store, portal), context.Background())

	h1 := nextAttempt(t, portal)
	if r := h1.submit(t, h1.nonce, "home", "pw", "   "); r.Code != errcode.InvalidAccountID {
		t.Fatalf("reply = %+v", r)
	}
	h2 := nextAttempt(t, portal)
	if h2.nonce == h1.nonce {
		t.Fatal("nonce reused across attempts")
	}
	if mem.Saves != 0 || net.count("join") != 0 {
		t.Fatalf("saves = %d events = %v", mem.Saves, net.events)
	}
	if net.count("scan") != 2 || net.count("start_ap") != 2 {
		t.Fatalf("attempt not re-run: %v", net.events)
	}
	h2.submit(t, h2.nonce, "home", "pw", "acct")
	if err := wait(t, done); err != nil {
		t.Fatal(err)
	}
}

func TestTimeoutWritesNothing(t *testing.T) {
	net := &fakeNet{}
	store, mem := newStore(t)
	portal := newChanPortal()
	s := newSession(net, store, portal)
	s.Timeout = 30 * time.Millisecond

	err := s.Run(context.Background())
	if errcode.Of(err) != errcode.PortalTimeout {
		t.Fatalf("err = %v", err)
	}
	if mem.Saves != 0 {
		t.Fatalf("saves = %d", mem.Saves)
	}
	if net.count("stop_ap") != 1 || portal.closes != 1 {
		t.Fatalf("not torn down: %v closes=%d", net.events, portal.closes)
	}
}

func TestOverlongAccountKeepsWaiting(t *testing.T) {
	net := &fakeNet{}
	store, _ := newStore(t)
	portal := newChanPortal()
	done := runAsync(newSession(net, store, portal), context.Background())

	h := nextAttempt(t, portal)
	if r := h.submit(t, h.nonce, "home", "pw", strings.Repeat("x", 129)); r.Code != errcode.InvalidParams {
		t.Fatalf("reply = %+v", r)
	}
	if r := h.submit(t, h.nonce, "home", "pw", strings.Repeat("x", 128)); !r.OK() {
		t.Fatalf("reply = %+v", r)
	}
	if err := wait(t, done); err != nil {
		t.Fatal(err)
	}
	if net.count("start_ap") != 1 {
		t.Fatalf("events = %v", net.events)
	}
}

func TestStaleNonceRefused(t *testing.T) {
	net := &fakeNet{}
	store, _ := newStore(t)
	portal := newChanPortal()
	done := runAsync(newSession(net, store, portal), context.Background())

	h := nextAttempt(t, portal)
	if r := h.submit(t, "old-page", "home", "pw", "acct"); r.Code != errcode.StaleSession {
		t.Fatalf("reply = %+v", r)
	}
	h.submit(t, h.nonce, "home", "pw", "acct")
	if err := wait(t, done); err != nil {
		t.Fatal(err)
	}
}

func TestJoinFailureRestarts(t *testing.T) {
	net := &fakeNet{joinErrs: []error{errors.New("auth failed")}}
	store, mem := newStore(t)
	portal := newChanPortal()
	done := runAsync(newSession(net, store, portal), context.Background())

	h1 := nextAttempt(t, portal)
	h1.submit(t, h1.nonce, "home", "wrong", "acct")
	h2 := nextAttempt(t, portal)
	if mem.Saves != 0 {
		t.Fatal("stored after failed join")
	}
	h2.submit(t, h2.nonce, "home", "right", "acct")
	if err := wait(t, done); err != nil {
		t.Fatal(err)
	}
	if net.joined[1] != "right" {
		t.Fatalf("joined = %v", net.joined)
	}
}

func TestScanFailureIsNotFatal(t *testing.T) {
	net := &fakeNet{scanErr: errors.New("radio busy")}
	store, _ := newStore(t)
	portal := newChanPortal()
	done := runAsync(newSession(net, store, portal), context.Background())

	h := nextAttempt(t, portal)
	h.submit(t, h.nonce, "home", "pw", "acct")
	if err := wait(t, done); err != nil {
		t.Fatal(err)
	}
}

func TestContextCancel(t *testing.T) {
	net := &fakeNet{}
	store, _ := newStore(t)
	portal := newChanPortal()
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(newSession(net, store, portal), ctx)
	nextAttempt(t, portal)
	cancel()
	if err := wait(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
