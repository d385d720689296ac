// Package sim models the board's peripherals in software. Each model
// accepts one operation at a time and reports completion by latching a
// handler on the kernel loop, the way an interrupt would be. A start that
// arrives while an operation is already running is refused with
// errcode.Busy and counted in Violations; an arbiter that is doing its job
// never trips it.
package sim

// Latcher is the kernel loop as seen by hardware.
type Latcher interface {
	Latch(fn func())
}
