// Package provision runs the bounded setup flow: advertise an access point,
// collect network credentials and an account identifier, join, persist.
package provision

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"autovolume-go/bus"
	"autovolume-go/errcode"
	"autovolume-go/services/config"
	"autovolume-go/services/credstore"
	"autovolume-go/services/display"
	"autovolume-go/types"
)

// Network is the part of the network stack the session owns while it runs.
type Network interface {
	Scan(ctx context.Context) ([]string, error)
	StartAP(ctx context.Context, name string) error
	StopAP(ctx context.Context) error
	Join(ctx context.Context, ssid, pass string) error
}

// AccountStore persists the account identifier.
type AccountStore interface {
	Put(key, value string) error
}

type Session struct {
	Net    Network
	Store  AccountStore
	Portal Portal
	APName string
	Conn   *bus.Connection // optional, for screen updates
	Log    *slog.Logger

	Timeout        time.Duration
	ConnectTimeout time.Duration
	ScanSettle     time.Duration

	NewNonce func() string
}

// New builds a session from the portal section of the configuration.
func New(cfg config.PortalConfig, net Network, store AccountStore, portal Portal, apName string) *Session {
	return &Session{
		Net:            net,
		Store:          store,
		Portal:         portal,
		APName:         apName,
		Timeout:        cfg.Timeout(),
		ConnectTimeout: cfg.ConnectTimeout(),
		ScanSettle:     cfg.ScanSettle(),
	}
}

type verdict uint8

const (
	keepWaiting verdict = iota
	restart
	finished
)

// Run blocks until credentials are joined and stored, the timeout passes
// (errcode.PortalTimeout, nothing written) or ctx ends.
func (s *Session) Run(ctx context.Context) error {
	if s.Log == nil {
		s.Log = slog.Default()
	}
	log := s.Log.With("svc", "provision", "ap", s.APName)
	if s.NewNonce == nil {
		s.NewNonce = uuid.NewString
	}

	for attempt := 1; ; attempt++ {
		done, err := s.attempt(ctx, log.With("attempt", attempt))
		if done {
			return err
		}
		log.Info("restarting setup", "attempt", attempt)
	}
}

func (s *Session) attempt(ctx context.Context, log *slog.Logger) (bool, error) {
	// Scanning first makes client devices probe for a captive portal once
	// the AP appears. The results are not used.
	if nets, err := s.Net.Scan(ctx); err != nil {
		log.Warn("pre-scan failed", "err", err)
	} else {
		log.Debug("pre-scan", "networks", len(nets))
	}
	if !sleepCtx(ctx, s.ScanSettle) {
		return true, ctx.Err()
	}

	if err := s.Net.StartAP(ctx, s.APName); err != nil {
		log.Error("start ap failed", "err", err)
		return true, errcode.Wrap(errcode.Error, "provision.start_ap", err)
	}
	nonce := s.NewNonce()
	subs, err := s.Portal.Open(ctx, s.APName, nonce)
	if err != nil {
		_ = s.Net.StopAP(context.WithoutCancel(ctx))
		log.Error("portal open failed", "err", err)
		return true, errcode.Wrap(errcode.Error, "provision.portal", err)
	}
	display.Publish(s.Conn, types.Screen{
		Kind:     types.ScreenProvisioning,
		APName:   s.APName,
		TimeoutS: int(s.Timeout / time.Second),
	})
	log.Info("setup portal open", "timeout", s.Timeout)

	torn := false
	teardown := func() {
		if torn {
			return
		}
		torn = true
		if err := s.Portal.Close(); err != nil {
			log.Debug("portal close", "err", err)
		}
		if err := s.Net.StopAP(context.WithoutCancel(ctx)); err != nil {
			log.Debug("stop ap", "err", err)
		}
	}
	defer teardown()

	timer := time.NewTimer(s.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-timer.C:
			log.Warn("setup timed out")
			return true, errcode.PortalTimeout
		case sub, ok := <-subs:
			if !ok {
				return true, errcode.New(errcode.Error, "provision", "portal closed")
			}
			switch v, err := s.handle(ctx, log, nonce, sub, teardown); v {
			case keepWaiting:
				continue
			case restart:
				return false, nil
			default:
				return true, err
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, log *slog.Logger, nonce string, sub *Submission, teardown func()) (verdict, error) {
	if sub.Nonce != nonce {
		sub.Respond(Reply{Code: errcode.StaleSession, Msg: "this setup page has expired, reload it"})
		return keepWaiting, nil
	}
	account := strings.TrimSpace(sub.AccountID)
	if account == "" {
		log.Warn("empty account id submitted")
		sub.Respond(Reply{Code: errcode.InvalidAccountID, Msg: "Account ID is required"})
		teardown()
		return restart, nil
	}
	if utf8.RuneCountInString(account) > config.AccountIDMaxLen {
		sub.Respond(Reply{Code: errcode.InvalidParams, Msg: "Account ID is too long"})
		return keepWaiting, nil
	}
	ssid := strings.TrimSpace(sub.SSID)
	if ssid == "" {
		sub.Respond(Reply{Code: errcode.InvalidParams, Msg: "choose a network"})
		return keepWaiting, nil
	}

	sub.Respond(Reply{Code: errcode.OK, Msg: "connecting to " + ssid})
	teardown()

	jctx, cancel := context.WithTimeout(ctx, s.ConnectTimeout)
	err := s.Net.Join(jctx, ssid, sub.Password)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return finished, ctx.Err()
		}
		log.Warn("join failed", "ssid", ssid, "err", err)
		display.Publish(s.Conn, types.Screen{Kind: types.ScreenWiFiFailed, SSID: ssid})
		return restart, nil
	}

	if err := s.Store.Put(credstore.KeyAccountID, account); err != nil {
		log.Error("account id not stored", "err", err)
		return finished, err
	}
	log.Info("provisioned", "ssid", ssid)
	return finished, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
