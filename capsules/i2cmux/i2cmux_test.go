package i2cmux

import (
	"testing"

	"capmux/drivers/i2cbus"
	"capmux/drivers/sim"
	"capmux/errcode"
	"capmux/kernel/cells"
	"capmux/kernel/loop"
)

// regs is a target with a register pointer: a one-byte write sets it, reads
// stream from it.
type regs struct {
	mem [16]byte
	ptr int
}

func (r *regs) Tx(w, rd []byte) error {
	if len(w) > 0 {
		r.ptr = int(w[0]) % len(r.mem)
		for _, b := range w[1:] {
			r.mem[r.ptr] = b
			r.ptr = (r.ptr + 1) % len(r.mem)
		}
	}
	for i := range rd {
		rd[i] = r.mem[r.ptr]
		r.ptr = (r.ptr + 1) % len(r.mem)
	}
	return nil
}

type done struct {
	bufs []*cells.Buffer[byte]
	errs []error
}

func (d *done) CommandComplete(b *cells.Buffer[byte], err error) {
	d.bufs = append(d.bufs, b)
	d.errs = append(d.errs, err)
}

type rig struct {
	l    *loop.Loop
	bus  *sim.I2CBus
	ctrl *i2cbus.Controller
	m    *Mux
}

func newRig() *rig {
	l := loop.New(16)
	bus := sim.NewI2CBus()
	ctrl := i2cbus.New(bus, l)
	return &rig{l: l, bus: bus, ctrl: ctrl, m: NewMux("i2c0", ctrl)}
}

func TestDevicesShareBusInTurn(t *testing.T) {
	r := newRig()
	ta, tb := &regs{}, &regs{}
	tb.mem[4] = 0x5A
	r.bus.Attach(0x10, ta)
	r.bus.Attach(0x20, tb)

	a, b := r.m.NewDevice(0x10), r.m.NewDevice(0x20)
	da, db := &done{}, &done{}
	a.SetClient(da)
	b.SetClient(db)

	ba := cells.NewBuffer[byte](1, 4)
	copy(ba.Data(), []byte{2, 0xCA, 0xFE})
	bb := cells.NewBuffer[byte](2, 4)
	bb.Data()[0] = 4

	if err := a.Write(ba, 3); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteRead(bb, 1, 1); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if bb.State() != cells.InFlight {
		t.Fatal("queued buffer belongs to the mux")
	}
	r.l.RunUntilIdle()

	if len(da.bufs) != 1 || da.bufs[0] != ba || da.errs[0] != nil {
		t.Fatalf("a: %+v", da)
	}
	if ta.mem[2] != 0xCA || ta.mem[3] != 0xFE {
		t.Fatalf("a target %x", ta.mem)
	}
	if len(db.bufs) != 1 || bb.Data()[0] != 0x5A {
		t.Fatalf("b read %x", bb.Data())
	}
	if bb.State() != cells.Delivered || r.ctrl.Violations != 0 || r.bus.Txs != 2 {
		t.Fatalf("state=%v violations=%d txs=%d", bb.State(), r.ctrl.Violations, r.bus.Txs)
	}
}

func TestRefusedQueuedTransferReturnsBuffer(t *testing.T) {
	r := newRig()
	for _, addr := range []uint16{1, 2, 3} {
		r.bus.Attach(addr, &regs{})
	}
	devs := []*Device{r.m.NewDevice(1), r.m.NewDevice(2), r.m.NewDevice(3)}
	ds := []*done{{}, {}, {}}
	bufs := []*cells.Buffer[byte]{
		cells.NewBuffer[byte](0, 4),
		cells.NewBuffer[byte](1, 64),
		cells.NewBuffer[byte](2, 4),
	}
	for i, d := range devs {
		d.SetClient(ds[i])
	}

	_ = devs[0].Write(bufs[0], 1)
	// Longer than the controller's write scratch; refused when dispatched.
	_ = devs[1].Write(bufs[1], 40)
	_ = devs[2].Read(bufs[2], 2)
	r.l.RunUntilIdle()

	if len(ds[1].bufs) != 1 || ds[1].bufs[0] != bufs[1] || errcode.Of(ds[1].errs[0]) != errcode.Size {
		t.Fatalf("refused transfer: %+v", ds[1])
	}
	if len(ds[2].bufs) != 1 || ds[2].errs[0] != nil {
		t.Fatal("scan should continue to the third device")
	}
	if r.m.Arbiter().Stats().Dropped != 1 || r.m.Arbiter().Busy() {
		t.Fatalf("stats %+v", r.m.Arbiter().Stats())
	}
}

func TestDeviceRequestErrors(t *testing.T) {
	r := newRig()
	d := r.m.NewDevice(0x77)
	dc := &done{}
	d.SetClient(dc)

	if err := d.Read(nil, 1); err != errcode.Reserve {
		t.Fatalf("nil buffer: %v", err)
	}
	b := cells.NewBuffer[byte](0, 2)
	if err := d.Read(b, 3); err != errcode.Size {
		t.Fatalf("oversized: %v", err)
	}
	if err := d.Read(b, 2); err != nil {
		t.Fatal(err)
	}
	if err := d.Read(cells.NewBuffer[byte](1, 2), 2); err != nil {
		t.Fatalf("own follow-up should queue: %v", err)
	}
	if err := d.Read(cells.NewBuffer[byte](2, 2), 2); err != errcode.Busy {
		t.Fatalf("third: %v", err)
	}
	r.l.RunUntilIdle()
	if len(dc.errs) != 2 || dc.errs[0] != sim.ErrNack {
		t.Fatalf("nack not reported: %+v", dc.errs)
	}
}
