// Package syscall is the command surface capsules expose to processes: a
// small opcode plus two word arguments, answered synchronously.
package syscall

import (
	"capmux/errcode"
	"capmux/kernel/process"
)

// Driver numbers.
const (
	DriverADC       uint32 = 0x00005
	DriverPWM       uint32 = 0x10000
	DriverRNG       uint32 = 0x40001
	DriverNvStorage uint32 = 0x50001
	DriverHumidity  uint32 = 0x60001
)

// Probe is the opcode every driver answers with success regardless of
// arbiter state.
const Probe uint32 = 0

type Variant uint8

const (
	VariantSuccess Variant = iota
	VariantSuccessU32
	VariantFailure
)

// Return is a command's synchronous result.
type Return struct {
	Variant Variant
	Err     errcode.Code
	U32     uint32
}

func Success() Return               { return Return{Variant: VariantSuccess, Err: errcode.OK} }
func SuccessU32(v uint32) Return    { return Return{Variant: VariantSuccessU32, Err: errcode.OK, U32: v} }
func Failure(c errcode.Code) Return { return Return{Variant: VariantFailure, Err: c} }

// FromErr maps nil to Success and anything else to a Failure carrying its
// code.
func FromErr(err error) Return {
	if err == nil {
		return Success()
	}
	return Failure(errcode.Of(err))
}

func (r Return) OK() bool { return r.Variant != VariantFailure }

func (r Return) String() string {
	switch r.Variant {
	case VariantSuccess:
		return "success"
	case VariantSuccessU32:
		return "success_u32"
	default:
		return "failure(" + string(r.Err) + ")"
	}
}

// Driver is implemented by every process-facing capsule.
type Driver interface {
	Command(num, arg1, arg2 uint32, pid process.ID) Return
}

// Table routes commands by driver number.
type Table struct {
	drivers map[uint32]Driver
	order   []uint32
}

func NewTable() *Table {
	return &Table{drivers: map[uint32]Driver{}}
}

// Register binds a driver number. Registering the same number twice is a
// wiring error and panics.
func (t *Table) Register(num uint32, d Driver) {
	if d == nil {
		panic("syscall: nil driver")
	}
	if _, dup := t.drivers[num]; dup {
		panic("syscall: duplicate driver number")
	}
	t.drivers[num] = d
	t.order = append(t.order, num)
}

// Command dispatches to the driver registered under driver.
func (t *Table) Command(driver, num, arg1, arg2 uint32, pid process.ID) Return {
	d, ok := t.drivers[driver]
	if !ok {
		return Failure(errcode.NoDevice)
	}
	return d.Command(num, arg1, arg2, pid)
}

// Drivers lists registered driver numbers in registration order.
func (t *Table) Drivers() []uint32 {
	return append([]uint32(nil), t.order...)
}
