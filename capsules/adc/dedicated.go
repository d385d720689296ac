// Package adc holds the analog-to-digital converter capsules: a kernel
// mux handing out channels to kernel users, a process driver that
// virtualises single samples across processes, and a dedicated process
// driver that gives one process the whole converter, including buffered
// high-speed capture.
package adc

import (
	"encoding/binary"

	"capmux/errcode"
	"capmux/hil/adc"
	"capmux/kernel/cells"
	"capmux/kernel/process"
	"capmux/kernel/syscall"
	"capmux/x/mathx"
)

// DMABufferLen is the length, in samples, of each of the driver's three
// hardware buffers.
const DMABufferLen = 128

// appBuf tracks one allowed process buffer during a capture, in samples.
type appBuf struct {
	need      int
	requested int
	filled    int
}

type dedicatedApp struct {
	bufs [2]appBuf
}

// chunk is one hardware buffer's worth of work: n samples destined for
// process buffer slot, starting where that slot's previous chunks ended.
type chunk struct {
	buf  *cells.Buffer[uint16]
	slot int
	n    int
}

// Dedicated hands the converter to a single process. The first process to
// issue an operational command owns it; others get errcode.NoMemory until
// the owner goes idle and dies.
type Dedicated struct {
	hw    adc.HighSpeed
	grant *process.Grant[dedicatedApp]
	pool  *cells.Pool[uint16]

	owner  cells.OptionalCell[process.ID]
	active bool
	mode   Mode
	ch     int

	// inflight lists chunks handed to the hardware, oldest first.
	inflight []chunk
	// assign is the process buffer new chunks are cut from.
	assign int
}

var _ syscall.Driver = (*Dedicated)(nil)

func NewDedicated(hw adc.HighSpeed, t *process.Table) *Dedicated {
	d := &Dedicated{
		hw:    hw,
		grant: process.NewGrant[dedicatedApp](t, syscall.DriverADC),
		pool: cells.NewPool(
			cells.NewBuffer[uint16](0, DMABufferLen),
			cells.NewBuffer[uint16](1, DMABufferLen),
			cells.NewBuffer[uint16](2, DMABufferLen),
		),
		mode: NoMode,
	}
	hw.SetClient(d)
	hw.SetHighSpeedClient(d)
	return d
}

// Pool exposes the hardware buffers for auditing.
func (d *Dedicated) Pool() *cells.Pool[uint16] { return d.pool }

func (d *Dedicated) Active() bool { return d.active }

func (d *Dedicated) Command(num, arg1, arg2 uint32, pid process.ID) syscall.Return {
	switch num {
	case syscall.Probe:
		return syscall.SuccessU32(uint32(d.hw.Channels()))
	case 101:
		return syscall.SuccessU32(d.hw.ResolutionBits())
	case 102:
		if mv, ok := d.hw.ReferenceMV(); ok {
			return syscall.SuccessU32(mv)
		}
		return syscall.Failure(errcode.Unsupported)
	}

	if !d.claim(pid) {
		return syscall.Failure(errcode.NoMemory)
	}
	ch, freq := int(arg1), arg2
	switch num {
	case 1:
		return syscall.FromErr(d.sample(ch))
	case 2:
		return syscall.FromErr(d.sampleContinuous(ch, freq))
	case 3:
		return syscall.FromErr(d.sampleBuffer(pid, ch, freq, SingleBuffer))
	case 4:
		return syscall.FromErr(d.sampleBuffer(pid, ch, freq, ContinuousBuffer))
	case 5:
		return syscall.FromErr(d.stop())
	default:
		return syscall.Failure(errcode.Unsupported)
	}
}

// claim makes pid the owner if the converter is unowned, already pid's, or
// idle with an owner that no longer exists.
func (d *Dedicated) claim(pid process.ID) bool {
	owner, ok := d.owner.Get()
	switch {
	case !ok || owner == pid:
	case d.active:
		return false
	case d.grant.Alive(owner):
		return false
	}
	d.owner.Set(pid)
	return true
}

func (d *Dedicated) checkStart(ch int) error {
	if d.active {
		return errcode.Busy
	}
	if ch < 0 || ch >= d.hw.Channels() {
		return errcode.Invalid
	}
	return nil
}

func (d *Dedicated) sample(ch int) error {
	if err := d.checkStart(ch); err != nil {
		return err
	}
	d.begin(ch, SingleSample)
	if err := d.hw.SampleOnce(ch); err != nil {
		d.idle()
		return err
	}
	return nil
}

func (d *Dedicated) sampleContinuous(ch int, freq uint32) error {
	if err := d.checkStart(ch); err != nil {
		return err
	}
	d.begin(ch, ContinuousSample)
	if err := d.hw.SampleContinuous(ch, freq); err != nil {
		d.idle()
		return err
	}
	return nil
}

func (d *Dedicated) sampleBuffer(pid process.ID, ch int, freq uint32, mode Mode) error {
	if err := d.checkStart(ch); err != nil {
		return err
	}
	var ok bool
	err := d.grant.Enter(pid, func(app *dedicatedApp, kd *process.KernelData) {
		n0 := samplesIn(kd, 0)
		n1 := samplesIn(kd, 1)
		if n0 == 0 || (mode == ContinuousBuffer && n1 == 0) {
			return
		}
		*app = dedicatedApp{}
		app.bufs[0].need = n0
		if mode == ContinuousBuffer {
			app.bufs[1].need = n1
		}
		ok = true
	})
	if err != nil {
		d.owner.Clear()
		return errcode.NoMemory
	}
	if !ok {
		return errcode.Reserve
	}

	d.begin(ch, mode)
	d.inflight = d.inflight[:0]
	d.assign = 0

	var first [2]chunk
	n := 0
	_ = d.grant.Enter(pid, func(app *dedicatedApp, _ *process.KernelData) {
		for n < 2 {
			c, ok := d.cut(app)
			if !ok {
				break
			}
			first[n] = c
			n++
		}
	})
	if n == 0 {
		d.idle()
		return errcode.Busy
	}
	var b2 *cells.Buffer[uint16]
	if n == 2 {
		b2 = first[1].buf
	}
	if err := d.hw.SampleHighSpeed(ch, freq, first[0].buf, first[0].n, b2, first[1].n); err != nil {
		for i := 0; i < n; i++ {
			d.pool.Replace(first[i].buf)
		}
		d.idle()
		return err
	}
	d.inflight = append(d.inflight, first[:n]...)
	return nil
}

// cut takes a free hardware buffer and assigns it the next run of samples.
// Continuous captures move on to the other process buffer once the current
// one is fully requested, provided that buffer has been recycled.
func (d *Dedicated) cut(app *dedicatedApp) (chunk, bool) {
	if d.pool.Available() == 0 {
		return chunk{}, false
	}
	for tries := 0; tries < 2; tries++ {
		ab := &app.bufs[d.assign]
		if ab.requested < ab.need {
			n := mathx.Min(ab.need-ab.requested, DMABufferLen)
			b, _ := d.pool.Take()
			ab.requested += n
			return chunk{buf: b, slot: d.assign, n: n}, true
		}
		if d.mode != ContinuousBuffer {
			break
		}
		other := 1 - d.assign
		if app.bufs[other].requested != 0 {
			break
		}
		d.assign = other
	}
	return chunk{}, false
}

// refill keeps up to two chunks queued in the hardware.
func (d *Dedicated) refill(app *dedicatedApp) {
	for len(d.inflight) < 2 {
		c, ok := d.cut(app)
		if !ok {
			return
		}
		if err := d.hw.ProvideBuffer(c.buf, c.n); err != nil {
			app.bufs[c.slot].requested -= c.n
			d.pool.Replace(c.buf)
			println("[adc] provide buffer:", err.Error())
			return
		}
		d.inflight = append(d.inflight, c)
	}
}

func (d *Dedicated) stop() error {
	if !d.active {
		return nil
	}
	d.halt()
	return nil
}

// halt stops the hardware and brings every buffer it still holds home.
// Buffers whose completion is already pending come back through
// SamplesReady.
func (d *Dedicated) halt() {
	buffered := d.mode == SingleBuffer || d.mode == ContinuousBuffer
	d.idle()
	_ = d.hw.Stop()
	if !buffered {
		return
	}
	bufs, err := d.hw.RetrieveBuffers()
	if err != nil {
		println("[adc] retrieve buffers:", err.Error())
	}
	for _, b := range bufs {
		d.pool.Replace(b)
	}
	d.inflight = d.inflight[:0]
}

func (d *Dedicated) begin(ch int, m Mode) {
	d.active, d.mode, d.ch = true, m, ch
}

func (d *Dedicated) idle() {
	d.active, d.mode = false, NoMode
}

// SampleReady handles single and continuous sample completions.
func (d *Dedicated) SampleReady(sample uint16) {
	if !d.active || (d.mode != SingleSample && d.mode != ContinuousSample) {
		return
	}
	mode := d.mode
	if mode == SingleSample {
		d.idle()
	}
	if !d.signal(process.Args{A: uint32(mode), B: uint32(d.ch), C: uint32(sample)}) {
		// Owner gone: nobody is listening, so stop converting.
		d.halt()
	}
}

// SamplesReady handles a filled hardware buffer. The buffer stays
// Delivered while its samples are copied out and goes back to the pool
// when the handler returns.
func (d *Dedicated) SamplesReady(b *cells.Buffer[uint16], n int) {
	b.Deliver()
	defer d.pool.Replace(b)

	if !d.active || len(d.inflight) == 0 || d.inflight[0].buf != b {
		// Completion from a capture that has since been stopped.
		return
	}
	c := d.inflight[0]
	d.inflight = append(d.inflight[:0], d.inflight[1:]...)
	n = mathx.Min(n, c.n)

	owner, _ := d.owner.Get()
	err := d.grant.Enter(owner, func(app *dedicatedApp, kd *process.KernelData) {
		ab := &app.bufs[c.slot]
		if dst, ok := kd.ReadWrite(c.slot); ok {
			off := ab.filled * 2
			for i := 0; i < n && off+2 <= len(dst.Data); i++ {
				binary.LittleEndian.PutUint16(dst.Data[off:], b.Data()[i])
				off += 2
			}
		}
		ab.filled += n
		d.refill(app)
		if ab.filled < ab.need {
			return
		}

		mode := d.mode
		var addr uint32
		if dst, ok := kd.ReadWrite(c.slot); ok {
			addr = dst.Addr
		}
		lenChan := uint32(ab.need)<<8 | uint32(d.ch&0xFF)
		_ = kd.Schedule(0, process.Args{A: uint32(mode), B: lenChan, C: addr})

		if mode == SingleBuffer {
			d.halt()
			return
		}
		// Recycle this process buffer for the round after next.
		*ab = appBuf{need: samplesIn(kd, c.slot)}
		if ab.need == 0 {
			println("[adc] process buffer revoked, stopping capture")
			d.halt()
			return
		}
		d.refill(app)
	})
	if err != nil {
		d.owner.Clear()
		d.halt()
	}
}

// signal schedules an upcall to the owner and reports whether the owner
// still exists.
func (d *Dedicated) signal(a process.Args) bool {
	owner, ok := d.owner.Get()
	if !ok {
		return false
	}
	err := d.grant.Enter(owner, func(_ *dedicatedApp, kd *process.KernelData) {
		_ = kd.Schedule(0, a)
	})
	if err != nil {
		d.owner.Clear()
		return false
	}
	return true
}

func samplesIn(kd *process.KernelData, slot int) int {
	b, ok := kd.ReadWrite(slot)
	if !ok {
		return 0
	}
	return b.Len() / 2
}
