// Package wifi abstracts the network stack the lifecycle services drive:
// station connect/reconnect, the setup access point and credential
// persistence owned by the stack itself.
package wifi

import (
	"context"
	"net"
)

// Stack is implemented per platform.
type Stack interface {
	HardwareAddr() ([6]byte, error)

	// Stored reports whether the stack holds network credentials.
	Stored() bool
	// SSID of the stored network, empty if none.
	SSID() string

	// Begin starts connecting with stored credentials and returns at once.
	Begin(ctx context.Context) error
	// Reconnect is the lightweight retry used after a drop. Non-blocking.
	Reconnect(ctx context.Context) error
	Connected() bool

	// Scan lists visible network names.
	Scan(ctx context.Context) ([]string, error)
	StartAP(ctx context.Context, name string) error
	StopAP(ctx context.Context) error
	// Join associates with ssid and stores the credentials on success.
	// It blocks until associated or ctx ends.
	Join(ctx context.Context, ssid, pass string) error

	// Forget invalidates stored network credentials.
	Forget() error
}

// Dialer opens TCP connections over the station link. Hosts use the
// system dialer; boards route through their own TCP/IP stack.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}
