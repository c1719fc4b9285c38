// Package uplink keeps the socket session to the remote endpoint alive while
// the device is connected, registers the device once per session and
// carries outgoing messages.
package uplink

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"autovolume-go/bus"
	"autovolume-go/errcode"
	"autovolume-go/identity"
	"autovolume-go/services/connectivity"
	"autovolume-go/services/credstore"
	"autovolume-go/types"
	"autovolume-go/x/strx"
	"autovolume-go/x/timex"
)

var TopicState = bus.T("uplink", "state")

// Gate reports the connectivity manager's state.
type Gate interface {
	State() types.ConnState
}

// Store is where the server override and account identifier live.
type Store interface {
	Get(key string) (string, bool)
	Put(key, value string) error
}

type Options struct {
	Device     identity.Device
	Firmware   string
	DefaultURL string
	Retry      time.Duration
	Transport  Transport
	Gate       Gate
	Store      Store
	Conn       *bus.Connection
	Log        *slog.Logger
}

type Session struct {
	o   Options
	log *slog.Logger

	registered atomic.Bool

	wmu  sync.Mutex
	link Link

	mu      sync.Mutex
	curStop context.CancelFunc
	curDone chan struct{}
}

func New(o Options) *Session {
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return &Session{o: o, log: o.Log.With("svc", "uplink")}
}

// Registered is true only while a registered link exists and the device is
// still connected.
func (s *Session) Registered() bool {
	return s.registered.Load() && s.o.Gate.State() == types.Connected
}

// Send writes one JSON message. It refuses until the session is registered.
func (s *Session) Send(v any) error {
	if !s.Registered() {
		return errcode.NotRegistered
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.link == nil {
		return errcode.NotRegistered
	}
	return s.link.WriteJSON(v)
}

// Run follows net/state and supervises one link while connected.
func (s *Session) Run(ctx context.Context) {
	sub := s.o.Conn.Subscribe(connectivity.TopicState)
	defer s.o.Conn.Unsubscribe(sub)

	s.publishState(types.UplinkIdle, "", nil)
	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				s.stopCurrent()
				return
			}
			st, ok := msg.Payload.(types.ConnStatus)
			if !ok {
				continue
			}
			if st.State == types.Connected {
				s.startCurrent(ctx)
			} else if s.stopCurrent() {
				s.log.Info("connectivity lost, link closed", "state", st.State.String())
				s.publishState(types.UplinkIdle, "", nil)
			}
		}
	}
}

func (s *Session) startCurrent(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curStop != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.curStop, s.curDone = cancel, done
	go func() {
		defer close(done)
		s.runLink(ctx)
	}()
}

// stopCurrent cancels the link supervisor and waits for it to exit.
func (s *Session) stopCurrent() bool {
	s.mu.Lock()
	stop, done := s.curStop, s.curDone
	s.curStop, s.curDone = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return false
	}
	stop()
	<-done
	return true
}

func (s *Session) url() string {
	if s.o.Store != nil {
		if u, ok := s.o.Store.Get(credstore.KeyServerURL); ok {
			return u
		}
	}
	return s.o.DefaultURL
}

func (s *Session) runLink(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		url := s.url()
		s.publishState(types.UplinkSocketConnecting, url, nil)

		link, err := s.o.Transport.Dial(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("dial failed", "url", url, "err", err, "retry", s.o.Retry)
			s.publishState(types.UplinkSocketConnecting, url, err)
			if !sleep(ctx, s.o.Retry) {
				return
			}
			continue
		}

		err = s.serve(ctx, link)
		s.registered.Store(false)
		s.wmu.Lock()
		s.link = nil
		s.wmu.Unlock()
		_ = link.Close()
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("link lost", "err", err, "retry", s.o.Retry)
		s.publishState(types.UplinkSocketConnecting, url, err)
		if !sleep(ctx, s.o.Retry) {
			return
		}
	}
}

// serve registers on a fresh link and reads until it fails.
func (s *Session) serve(ctx context.Context, link Link) error {
	reg := types.Register{
		Type:     types.MsgRegister,
		DeviceID: s.o.Device.ID,
		Firmware: s.o.Firmware,
	}
	if s.o.Store != nil {
		reg.AccountID, _ = s.o.Store.Get(credstore.KeyAccountID)
	}
	s.wmu.Lock()
	err := link.WriteJSON(reg)
	if err == nil {
		s.link = link
	}
	s.wmu.Unlock()
	if err != nil {
		return err
	}
	// The protocol is send-only; the link counts as registered once the
	// register message is written.
	s.registered.Store(true)
	s.publishState(types.UplinkRegistered, s.url(), nil)
	s.log.Info("registered", "device", s.o.Device.ID)

	// Closing the link unblocks ReadMessage on cancel.
	stop := context.AfterFunc(ctx, func() { _ = link.Close() })
	defer stop()

	for {
		raw, err := link.ReadMessage()
		if err != nil {
			return err
		}
		s.handleInbound(raw)
	}
}

func (s *Session) handleInbound(raw []byte) {
	var in types.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		s.log.Debug("ignoring non-json message", "err", err)
		return
	}
	switch in.Type {
	case types.MsgRegistered:
		s.log.Debug("server acknowledged registration")
	case types.MsgSetAccount:
		acct := strings.TrimSpace(in.AccountID)
		if acct == "" || s.o.Store == nil {
			return
		}
		if cur, _ := s.o.Store.Get(credstore.KeyAccountID); cur == acct {
			return
		}
		if err := s.o.Store.Put(credstore.KeyAccountID, acct); err != nil {
			s.log.Warn("account from server not stored", "err", err)
			return
		}
		s.log.Info("account id updated by server")
	default:
		s.log.Debug("unknown message", "type", strx.Coalesce(in.Type, "<none>"))
	}
}

func (s *Session) publishState(st types.UplinkState, url string, err error) {
	if s.o.Conn == nil {
		return
	}
	p := types.UplinkStatus{State: st, URL: url, TS: timex.NowMs()}
	if err != nil {
		p.Error = err.Error()
	}
	s.o.Conn.Publish(s.o.Conn.NewMessage(TopicState, p, true))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
