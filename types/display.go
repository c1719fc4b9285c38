package types

// ScreenKind selects what the (external) display renderer draws.
type ScreenKind string

const (
	ScreenProvisioning ScreenKind = "provisioning"
	ScreenConnecting   ScreenKind = "connecting"
	ScreenNormal       ScreenKind = "normal"
	ScreenWiFiFailed   ScreenKind = "wifi_failed"
	ScreenTouchHint    ScreenKind = "touch_hint"
	ScreenTouchHold    ScreenKind = "touch_hold"
	ScreenFactoryReset ScreenKind = "factory_reset"
)

// Screen is published retained on display/screen. Fields unused by a kind
// are left zero.
type Screen struct {
	Kind        ScreenKind `json:"kind"`
	APName      string     `json:"ap_name,omitempty"`
	SSID        string     `json:"ssid,omitempty"`
	Attempt     int        `json:"attempt,omitempty"`
	MaxAttempts int        `json:"max_attempts,omitempty"`
	Progress    int        `json:"progress,omitempty"`  // percent
	Remaining   int        `json:"remaining,omitempty"` // seconds
	TimeoutS    int        `json:"timeout_s,omitempty"`
	TS          int64      `json:"ts_ms"`
}
