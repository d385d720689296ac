// Package types holds the payloads published on the telemetry bus. All are
// plain values with JSON tags so a bridge can forward them unchanged.
package types

// Link is a resource's reported availability.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type Kind string

const (
	KindPWM         Kind = "pwm"
	KindADC         Kind = "adc"
	KindStorage     Kind = "nvstorage"
	KindI2C         Kind = "i2c"
	KindHumidity    Kind = "humidity"
	KindTemperature Kind = "temperature"
	KindRNG         Kind = "rng"
)

// MuxState is retained under mux/<name>/state.
type MuxState struct {
	Mux   string `json:"mux"`
	Busy  bool   `json:"busy"`
	Event string `json:"event"`
	Error string `json:"error,omitempty"`
	TS    int64  `json:"ts_ms"`
}

// MuxStats is retained under mux/<name>/stats.
type MuxStats struct {
	Started   uint32 `json:"started"`
	Queued    uint32 `json:"queued"`
	Rejected  uint32 `json:"rejected"`
	Dropped   uint32 `json:"dropped"`
	Completed uint32 `json:"completed"`
	Stale     uint32 `json:"stale"`
	TS        int64  `json:"ts_ms"`
}

// ProcessState is retained under proc/<index>/state.
type ProcessState struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	State   string `json:"state"`
	Pending int    `json:"pending_upcalls"`
	Dropped uint32 `json:"dropped_upcalls"`
	TS      int64  `json:"ts_ms"`
}

// Upcall is published under proc/<index>/upcall as processes drain their
// queue.
type Upcall struct {
	Driver uint32 `json:"driver"`
	Slot   int    `json:"slot"`
	A      uint32 `json:"a"`
	B      uint32 `json:"b"`
	C      uint32 `json:"c"`
}

// Reading is a sensor value in hundredths of its unit, or a raw converter
// count, retained under sensor/<kind> or adc/<channel>.
type Reading struct {
	Kind  Kind   `json:"kind"`
	Centi int32  `json:"centi,omitempty"`
	Raw   uint32 `json:"raw,omitempty"`
	Error string `json:"error,omitempty"`
	TS    int64  `json:"ts_ms"`
}

// CommandResult echoes a scripted command and its return, under
// proc/<index>/command.
type CommandResult struct {
	Driver  uint32 `json:"driver"`
	Command uint32 `json:"command"`
	Result  string `json:"result"`
	Value   uint32 `json:"value,omitempty"`
}

// Boot is retained under board/boot once wiring finishes.
type Boot struct {
	ID    string `json:"id"`
	Board string `json:"board"`
	TS    int64  `json:"ts_ms"`
}
