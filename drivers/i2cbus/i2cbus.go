// Package i2cbus turns a blocking tinygo I2C bus into an asynchronous
// hil/i2c.Master. The transfer runs as a latched handler on the kernel loop
// and its completion is reported from there.
package i2cbus

import (
	"capmux/errcode"
	"capmux/hil/i2c"
	"capmux/kernel/cells"

	"tinygo.org/x/drivers"
)

const maxWrite = 32

type Latcher interface {
	Latch(fn func())
}

type Controller struct {
	bus    drivers.I2C
	l      Latcher
	client i2c.MasterClient
	busy   bool
	wbuf   [maxWrite]byte

	Violations uint32
}

var _ i2c.Master = (*Controller)(nil)

func New(bus drivers.I2C, l Latcher) *Controller {
	return &Controller{bus: bus, l: l}
}

func (c *Controller) SetClient(cl i2c.MasterClient) { c.client = cl }

func (c *Controller) Transfer(addr uint16, buf *cells.Buffer[byte], wn, rn int) error {
	if c.busy {
		c.Violations++
		return errcode.Busy
	}
	if buf == nil || wn < 0 || rn < 0 || wn > buf.Len() || rn > buf.Len() {
		return errcode.Size
	}
	if wn > maxWrite {
		return errcode.Size
	}
	// The read may land on top of the bytes being written.
	copy(c.wbuf[:wn], buf.Data()[:wn])
	c.busy = true
	c.l.Latch(func() {
		var w, r []byte
		if wn > 0 {
			w = c.wbuf[:wn]
		}
		if rn > 0 {
			r = buf.Data()[:rn]
		}
		txErr := c.bus.Tx(addr, w, r)
		c.busy = false
		if c.client != nil {
			c.client.TransferDone(buf, txErr)
		}
	})
	return nil
}
