package uplink

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Link is one established socket session.
type Link interface {
	WriteJSON(v any) error
	// ReadMessage returns the next text payload.
	ReadMessage() ([]byte, error)
	Close() error
}

// Transport opens links.
type Transport interface {
	Dial(ctx context.Context, url string) (Link, error)
}

// NetDialer matches wifi.Dialer without importing it.
type NetDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// WSTransport speaks websocket text frames.
type WSTransport struct {
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
}

// NewWSTransport dials through nd, or the system network when nd is nil.
func NewWSTransport(nd NetDialer) *WSTransport {
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
	}
	if nd != nil {
		d.NetDialContext = nd.DialContext
	}
	return &WSTransport{Dialer: d, WriteTimeout: 10 * time.Second}
}

func (t *WSTransport) Dial(ctx context.Context, url string) (Link, error) {
	c, resp, err := t.Dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsLink{c: c, wt: t.WriteTimeout}, nil
}

type wsLink struct {
	c  *websocket.Conn
	wt time.Duration
}

func (l *wsLink) WriteJSON(v any) error {
	if l.wt > 0 {
		_ = l.c.SetWriteDeadline(time.Now().Add(l.wt))
		defer l.c.SetWriteDeadline(time.Time{})
	}
	return l.c.WriteJSON(v)
}

func (l *wsLink) ReadMessage() ([]byte, error) {
	for {
		typ, p, err := l.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage {
			return p, nil
		}
	}
}

func (l *wsLink) Close() error {
	_ = l.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return l.c.Close()
}
