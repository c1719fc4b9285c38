package types

// ---- Connectivity (owned by the connectivity manager) ----

// ConnState is the device's network operating mode.
type ConnState uint8

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Provisioning
	PortalFailed
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Provisioning:
		return "provisioning"
	case PortalFailed:
		return "portal_failed"
	default:
		return "unknown"
	}
}

// ConnStatus is published retained on net/state.
type ConnStatus struct {
	State    ConnState `json:"state"`
	Failures int       `json:"failures"`
	TS       int64     `json:"ts_ms"`
}

// ---- Uplink (owned by the uplink session) ----

// UplinkState is only meaningful while ConnState is Connected.
type UplinkState uint8

const (
	UplinkIdle UplinkState = iota
	UplinkSocketConnecting
	UplinkRegistered
)

func (s UplinkState) String() string {
	switch s {
	case UplinkIdle:
		return "idle"
	case UplinkSocketConnecting:
		return "socket_connecting"
	case UplinkRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// UplinkStatus is published retained on uplink/state.
type UplinkStatus struct {
	State UplinkState `json:"state"`
	URL   string      `json:"url,omitempty"`
	TS    int64       `json:"ts_ms"`
	Error string      `json:"error,omitempty"`
}
