// Package i2cmux shares one I2C controller among kernel device drivers.
// Each Device is bound to a target address and lends its buffer to the bus
// for the length of a transfer; the buffer comes back in CommandComplete,
// whether the transfer ran or was refused after queueing.
package i2cmux

import (
	"capmux/errcode"
	"capmux/hil/i2c"
	"capmux/kernel/cells"
	"capmux/mux"
)

// Op is one device transfer. Transfers cannot be cancelled.
type Op struct {
	buf    *cells.Buffer[byte]
	wn, rn int
}

func (Op) IsStop() bool { return false }

type client = *mux.Client[Op]

type Mux struct {
	hw   i2c.Master
	reg  *mux.Registry[Op]
	arb  *mux.Arbiter[client, Op]
	devs []*Device
}

var _ i2c.MasterClient = (*Mux)(nil)

func NewMux(name string, hw i2c.Master) *Mux {
	m := &Mux{hw: hw, reg: mux.NewRegistry[Op]()}
	m.arb = mux.New[client, Op](name, m, m.reg)
	hw.SetClient(m)
	return m
}

func (m *Mux) Arbiter() *mux.Arbiter[client, Op] { return m.arb }

// NewDevice registers a driver for the target at addr. Devices are served
// in registration order.
func (m *Mux) NewDevice(addr uint16) *Device {
	d := &Device{m: m, c: m.reg.Register(), addr: addr}
	m.devs = append(m.devs, d)
	return d
}

func (m *Mux) Start(c client, op Op) error {
	if err := m.hw.Transfer(m.devs[c.Index()].addr, op.buf, op.wn, op.rn); err != nil {
		return err
	}
	op.buf.Lend()
	return nil
}

// Dropped returns the buffer of a queued transfer the controller refused.
func (m *Mux) Dropped(c client, op Op, err error) {
	m.devs[c.Index()].done(op.buf, err)
}

func (m *Mux) TransferDone(buf *cells.Buffer[byte], err error) {
	m.arb.Complete(nil, func(c client) {
		m.devs[c.Index()].done(buf, err)
	})
}

// Device is one target address on the shared bus.
type Device struct {
	m      *Mux
	c      client
	addr   uint16
	client i2c.Client
}

var _ i2c.Device = (*Device)(nil)

func (d *Device) Address() uint16 { return d.addr }

func (d *Device) SetClient(c i2c.Client) { d.client = c }

func (d *Device) Write(buf *cells.Buffer[byte], n int) error {
	return d.request(Op{buf: buf, wn: n})
}

func (d *Device) Read(buf *cells.Buffer[byte], n int) error {
	return d.request(Op{buf: buf, rn: n})
}

func (d *Device) WriteRead(buf *cells.Buffer[byte], wn, rn int) error {
	return d.request(Op{buf: buf, wn: wn, rn: rn})
}

// request either starts or queues op; on error the caller keeps buf.
func (d *Device) request(op Op) error {
	if op.buf == nil {
		return errcode.Reserve
	}
	if op.wn < 0 || op.rn < 0 || op.wn > op.buf.Len() || op.rn > op.buf.Len() {
		return errcode.Size
	}
	r := d.m.arb.Request(d.c, op)
	if r.Outcome == mux.Rejected {
		return r.Err
	}
	if r.Outcome == mux.Queued {
		op.buf.Lend()
	}
	return nil
}

func (d *Device) done(buf *cells.Buffer[byte], err error) {
	buf.Deliver()
	if d.client == nil {
		println("[i2c] completion for device", d.addr, "with no client")
		return
	}
	d.client.CommandComplete(buf, err)
}
