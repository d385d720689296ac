package sim

import (
	"capmux/errcode"
	"capmux/hil/flash"
	"capmux/kernel/cells"
)

// Flash is byte-addressable storage with one transfer in flight at a time.
type Flash struct {
	l      Latcher
	mem    []byte
	client flash.Client
	busy   bool
	fail   error

	Reads, Writes int
	Violations    uint32
}

func NewFlash(l Latcher, size int) *Flash {
	return &Flash{l: l, mem: make([]byte, size)}
}

func (f *Flash) SetClient(c flash.Client) { f.client = c }
func (f *Flash) Size() int                { return len(f.mem) }
func (f *Flash) Busy() bool               { return f.busy }

// Mem exposes the backing array for inspection.
func (f *Flash) Mem() []byte { return f.mem }

// FailNext makes the next transfer complete with err and zero length.
func (f *Flash) FailNext(err error) { f.fail = err }

func (f *Flash) check(buf *cells.Buffer[byte], addr, n int) error {
	if f.busy {
		f.Violations++
		return errcode.Busy
	}
	if buf == nil || n < 0 || n > buf.Len() {
		return errcode.Size
	}
	if addr < 0 || addr+n > len(f.mem) {
		return errcode.Invalid
	}
	return nil
}

func (f *Flash) Read(buf *cells.Buffer[byte], addr, n int) error {
	if err := f.check(buf, addr, n); err != nil {
		return err
	}
	f.busy = true
	f.Reads++
	f.l.Latch(func() {
		f.busy = false
		if err := f.takeFail(); err != nil {
			f.client.ReadDone(buf, 0, err)
			return
		}
		copy(buf.Data()[:n], f.mem[addr:addr+n])
		f.client.ReadDone(buf, n, nil)
	})
	return nil
}

func (f *Flash) Write(buf *cells.Buffer[byte], addr, n int) error {
	if err := f.check(buf, addr, n); err != nil {
		return err
	}
	f.busy = true
	f.Writes++
	f.l.Latch(func() {
		f.busy = false
		if err := f.takeFail(); err != nil {
			f.client.WriteDone(buf, 0, err)
			return
		}
		copy(f.mem[addr:addr+n], buf.Data()[:n])
		f.client.WriteDone(buf, n, nil)
	})
	return nil
}

func (f *Flash) takeFail() error {
	err := f.fail
	f.fail = nil
	return err
}
