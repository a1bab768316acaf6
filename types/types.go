package types

// ---- Service state (retained) ----

type ServiceState struct {
	Level  string `json:"level"`  // e.g. "idle", "ready", "error", "stopped"
	Status string `json:"status"` // freeform short code
	Error  string `json:"error,omitempty"`
	TS     int64  `json:"ts_ms"`
}

// ---- Capability kinds & info ----

type Kind string

const (
	KindLED    Kind = "led"
	KindButton Kind = "button"
)

// Info envelope each capability exposes (retained).
type Info struct {
	SchemaVersion int    `json:"schema_version"`
	Kind          Kind   `json:"kind"`
	Driver        string `json:"driver"`
	Pin           int    `json:"pin"`
}

// ---- Button payloads ----

// ButtonState mirrors the physical contact state. Published retained on
// every logical transition and once at startup.
type ButtonState struct {
	Pressed bool  `json:"pressed"`
	TS      int64 `json:"ts_ms"`
}

// ButtonEvent is the non-retained edge notification.
type ButtonEvent struct {
	Pressed bool   `json:"pressed"`
	Edge    string `json:"edge"` // "rising" or "falling", after inversion
	TS      int64  `json:"ts_ms"`
}

// ---- LED payloads ----

// LEDCommand asks the HAL to drive the LED output.
type LEDCommand struct {
	On bool `json:"on"`
}

// LEDState is the retained acknowledgement after an apply.
type LEDState struct {
	On bool  `json:"on"`
	TS int64 `json:"ts_ms"`
}

// ---- Debug side channel ----

// DebugMessage is the last debug line, mirrored to the console and the
// remote debug variable. Last value only, no history.
type DebugMessage struct {
	Text string `json:"text"`
	TS   int64  `json:"ts_ms"`
}
