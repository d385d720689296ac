package sim

import (
	"errors"

	"tinygo.org/x/drivers"
)

var ErrNack = errors.New("sim: address not acknowledged")

// Target is a device model on the simulated bus.
type Target interface {
	Tx(w, r []byte) error
}

// I2CBus is a blocking bus in the shape of tinygo's drivers.I2C.
type I2CBus struct {
	targets map[uint16]Target
	Txs     int
}

var _ drivers.I2C = (*I2CBus)(nil)

func NewI2CBus() *I2CBus {
	return &I2CBus{targets: map[uint16]Target{}}
}

func (b *I2CBus) Attach(addr uint16, t Target) { b.targets[addr] = t }
func (b *I2CBus) Detach(addr uint16)           { delete(b.targets, addr) }

func (b *I2CBus) Tx(addr uint16, w, r []byte) error {
	b.Txs++
	t, ok := b.targets[addr]
	if !ok {
		return ErrNack
	}
	return t.Tx(w, r)
}
