package types

// Message type tags on the uplink socket.
const (
	MsgRegister   = "register"
	MsgSoundLevel = "sound_level"
	MsgRegistered = "registered"
	MsgSetAccount = "set_account"
)

// Register is sent once per uplink session before any telemetry.
type Register struct {
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId"`
	Firmware  string `json:"firmware"`
	AccountID string `json:"accountId,omitempty"`
}

// SoundLevel carries one loudness reading, dBFS rounded to one decimal.
type SoundLevel struct {
	Type     string  `json:"type"`
	DeviceID string  `json:"deviceId"`
	DBFS     float64 `json:"dbFS"`
}

// Inbound is the union of server-to-device messages the uplink understands.
type Inbound struct {
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}
