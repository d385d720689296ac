// Package config holds board descriptions: which simulated peripherals exist
// and how the capsules on top of them are sized. Descriptions are JSON,
// embedded per board name, and may also be loaded from a file.
package config

import (
	"encoding/json"
	"errors"
	"strconv"

	"capmux/bus"

	"github.com/docker/go-units"
)

const configPrefix = "config"

var (
	ErrUnknownBoard = errors.New("config: no embedded config for board")
	ErrInvalid      = errors.New("config: invalid board config")
)

// Size is a byte count written as a number or a human size ("4KiB").
type Size int64

func (s *Size) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*s = Size(n)
		return nil
	}
	n, err := units.RAMInBytes(str)
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s Size) String() string { return units.BytesSize(float64(s)) }

func (s Size) Int() int { return int(s) }

type Processes struct {
	Max         int `json:"max"`
	UpcallQueue int `json:"upcall_queue"`
}

type PWM struct {
	Pins      []int  `json:"pins"`
	MaxFreqHz uint32 `json:"max_freq_hz"`
	MaxDuty   uint32 `json:"max_duty"`
}

type ADC struct {
	Channels    int    `json:"channels"`
	Bits        uint32 `json:"bits"`
	ReferenceMV uint32 `json:"reference_mv"`
	// Dedicated gives one process the converter for buffered sampling
	// instead of sharing it sample by sample.
	Dedicated bool `json:"dedicated"`
	// KernelChannels are sampled by the board's own monitor.
	KernelChannels []int `json:"kernel_channels,omitempty"`
}

type NVStorage struct {
	Size        Size `json:"size"`
	UserStart   Size `json:"user_start"`
	UserLen     Size `json:"user_len"`
	KernelStart Size `json:"kernel_start"`
	KernelLen   Size `json:"kernel_len"`
	Buffer      Size `json:"buffer"`
}

type AHT20 struct {
	Enabled   bool   `json:"enabled"`
	Address   uint16 `json:"address"`
	PollMs    uint32 `json:"poll_ms"`
	TimeoutMs uint32 `json:"timeout_ms"`
	TriggerMs uint32 `json:"trigger_ms"`
}

type Telemetry struct {
	Queue int `json:"queue"`
}

type Board struct {
	Name       string    `json:"name"`
	LoopDepth  int       `json:"loop_depth"`
	TicksPerMs uint32    `json:"ticks_per_ms"`
	RNGSeed    uint32    `json:"rng_seed"`
	Processes  Processes `json:"processes"`
	PWM        PWM       `json:"pwm"`
	ADC        ADC       `json:"adc"`
	NVStorage  NVStorage `json:"nvstorage"`
	AHT20      AHT20     `json:"aht20"`
	Telemetry  Telemetry `json:"telemetry"`
}

// EmbeddedConfigLookup resolves a board name to its JSON. Tests replace it.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedConfigs[board]
	return b, ok
}

// Boards lists the embedded board names.
func Boards() []string {
	names := make([]string, 0, len(embeddedConfigs))
	for k := range embeddedConfigs {
		names = append(names, k)
	}
	return names
}

// Load parses the embedded config for board.
func Load(board string) (Board, error) {
	raw, ok := EmbeddedConfigLookup(board)
	if !ok || len(raw) == 0 {
		return Board{}, errors.Join(ErrUnknownBoard, errors.New(board))
	}
	return Parse(raw)
}

// Parse decodes and validates raw, filling defaults for zero fields.
func Parse(raw []byte) (Board, error) {
	var b Board
	if err := json.Unmarshal(raw, &b); err != nil {
		return Board{}, err
	}
	b.applyDefaults()
	if err := b.Validate(); err != nil {
		return Board{}, err
	}
	return b, nil
}

func (b *Board) applyDefaults() {
	if b.LoopDepth <= 0 {
		b.LoopDepth = 64
	}
	if b.TicksPerMs == 0 {
		b.TicksPerMs = 1
	}
	if b.Processes.Max <= 0 {
		b.Processes.Max = 4
	}
	if b.Processes.UpcallQueue <= 0 {
		b.Processes.UpcallQueue = 10
	}
	if b.ADC.Bits == 0 {
		b.ADC.Bits = 12
	}
	if b.NVStorage.Buffer <= 0 {
		b.NVStorage.Buffer = 512
	}
	if b.AHT20.Address == 0 {
		b.AHT20.Address = 0x38
	}
	if b.Telemetry.Queue <= 0 {
		b.Telemetry.Queue = 16
	}
}

// Validate checks the storage regions fit the chip and the PWM has pins.
func (b Board) Validate() error {
	nv := b.NVStorage
	fits := func(start, n Size) bool { return start >= 0 && n >= 0 && start+n <= nv.Size }
	if nv.Size > 0 && (!fits(nv.UserStart, nv.UserLen) || !fits(nv.KernelStart, nv.KernelLen)) {
		return errors.Join(ErrInvalid, errors.New("nvstorage region outside chip of "+nv.Size.String()))
	}
	for _, p := range b.PWM.Pins {
		if p < 0 {
			return errors.Join(ErrInvalid, errors.New("pwm pin "+strconv.Itoa(p)))
		}
	}
	for _, ch := range b.ADC.KernelChannels {
		if ch < 0 || ch >= b.ADC.Channels {
			return errors.Join(ErrInvalid, errors.New("adc channel "+strconv.Itoa(ch)))
		}
	}
	return nil
}

// Publish puts each top-level section of b on the bus as a retained
// config/<section> message.
func Publish(conn *bus.Connection, b Board) {
	sections := map[string]any{
		"processes": b.Processes,
		"pwm":       b.PWM,
		"adc":       b.ADC,
		"nvstorage": b.NVStorage,
		"aht20":     b.AHT20,
		"telemetry": b.Telemetry,
	}
	conn.Publish(conn.NewMessage(bus.Topic{bus.S(configPrefix), bus.S("name")}, b.Name, true))
	for k, v := range sections {
		conn.Publish(conn.NewMessage(bus.Topic{bus.S(configPrefix), bus.S(k)}, v, true))
	}
}
