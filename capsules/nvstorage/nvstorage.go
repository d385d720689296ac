// Package nvstorage shares a flash chip between processes and one kernel
// client. Processes see a private-offset userspace region; the kernel
// client addresses its own region directly. The kernel's queued request is
// always served before any process's.
package nvstorage

import (
	"capmux/errcode"
	"capmux/hil/flash"
	"capmux/kernel/cells"
	"capmux/kernel/process"
	"capmux/kernel/syscall"
	"capmux/mux"
	"capmux/x/mathx"
)

// Upcall slots.
const (
	ReadDone  = 0
	WriteDone = 1
)

const DefaultBufferLen = 512

type Config struct {
	UserStart   int
	UserLen     int
	KernelStart int
	KernelLen   int
	// BufferLen is the size of the driver's process transfer buffer.
	// Default 512.
	BufferLen int
}

type user struct {
	kernel bool
	pid    process.ID
}

var kernelUser = user{kernel: true}

type op struct {
	write bool
	addr  int
	n     int
}

func (op) IsStop() bool { return false }

type app struct {
	pending cells.OptionalCell[op]
}

type Storage struct {
	hw    flash.Storage
	cfg   Config
	grant *process.Grant[app]
	procs *mux.GrantQueue[app, op]
	arb   *mux.Arbiter[user, op]

	// pool holds the single buffer used for process transfers.
	pool *cells.Pool[byte]

	kclient  flash.Client
	kpending cells.OptionalCell[op]
	// kbuf holds the kernel client's buffer while its request is queued.
	kbuf cells.TakeCell[*cells.Buffer[byte]]
}

var (
	_ syscall.Driver = (*Storage)(nil)
	_ flash.Storage  = (*Storage)(nil)
	_ flash.Client   = (*Storage)(nil)
)

func New(name string, hw flash.Storage, t *process.Table, cfg Config) *Storage {
	if cfg.BufferLen <= 0 {
		cfg.BufferLen = DefaultBufferLen
	}
	s := &Storage{
		hw:    hw,
		cfg:   cfg,
		grant: process.NewGrant[app](t, syscall.DriverNvStorage),
		pool:  cells.NewPool(cells.NewBuffer[byte](0, cfg.BufferLen)),
	}
	s.procs = mux.NewGrantQueue(s.grant, func(a *app) *cells.OptionalCell[op] { return &a.pending })
	s.arb = mux.New[user, op](name, s, (*queue)(s))
	hw.SetClient(s)
	return s
}

func (s *Storage) Arbiter() *mux.Arbiter[user, op] { return s.arb }
func (s *Storage) Pool() *cells.Pool[byte]         { return s.pool }

// Command implements the process interface: 0 probe, 1 userspace size,
// 2 read (offset, length) into the read-write allow, 3 write (offset,
// length) from the read-only allow.
func (s *Storage) Command(num, arg1, arg2 uint32, pid process.ID) syscall.Return {
	switch num {
	case syscall.Probe:
		return syscall.Success()
	case 1:
		return syscall.SuccessU32(uint32(s.cfg.UserLen))
	case 2, 3:
		return syscall.FromErr(s.userRequest(num == 3, int(arg1), int(arg2), pid))
	default:
		return syscall.Failure(errcode.Unsupported)
	}
}

func (s *Storage) userRequest(write bool, off, n int, pid process.ID) error {
	if off >= s.cfg.UserLen || !mathx.InRange(off, n, s.cfg.UserLen) {
		return errcode.Invalid
	}
	var allowed int
	err := s.grant.Enter(pid, func(_ *app, kd *process.KernelData) {
		allowed = allowLen(kd, write)
	})
	if err != nil {
		return err
	}
	if allowed == 0 {
		return errcode.Reserve
	}
	o := op{write: write, addr: s.cfg.UserStart + off, n: mathx.Min(n, allowed)}
	return result(s.arb.Request(user{pid: pid}, o))
}

// Size is the length of the kernel region.
func (s *Storage) Size() int { return s.cfg.KernelLen }

func (s *Storage) SetClient(c flash.Client) { s.kclient = c }

// Read queues a kernel read of n bytes at absolute address addr into buf.
// buf stays with the driver until ReadDone hands it back; on error it is
// not taken.
func (s *Storage) Read(buf *cells.Buffer[byte], addr, n int) error {
	return s.kernelRequest(false, buf, addr, n)
}

// Write is the kernel counterpart of Read.
func (s *Storage) Write(buf *cells.Buffer[byte], addr, n int) error {
	return s.kernelRequest(true, buf, addr, n)
}

func (s *Storage) kernelRequest(write bool, buf *cells.Buffer[byte], addr, n int) error {
	if buf == nil {
		return errcode.Reserve
	}
	rel := addr - s.cfg.KernelStart
	if rel < 0 || rel >= s.cfg.KernelLen || !mathx.InRange(rel, n, s.cfg.KernelLen) {
		return errcode.Invalid
	}
	if s.kbuf.IsSome() {
		return errcode.Busy
	}
	s.kbuf.Replace(buf)
	err := result(s.arb.Request(kernelUser, op{write: write, addr: addr, n: mathx.Min(n, buf.Len())}))
	if err != nil {
		s.kbuf.Take()
	}
	return err
}

func result(r mux.Result) error {
	if r.Outcome == mux.Rejected {
		return r.Err
	}
	return nil
}

// Start hands the operation to the chip. Process writes are copied out of
// the read-only allow here, at start time, so a queued write carries the
// data the process has shared when its turn comes.
func (s *Storage) Start(u user, o op) error {
	if u.kernel {
		b, ok := s.kbuf.Take()
		if !ok {
			return errcode.Reserve
		}
		if err := s.transfer(b, o); err != nil {
			s.kbuf.Replace(b)
			return err
		}
		return nil
	}

	b, ok := s.pool.Take()
	if !ok {
		return errcode.Reserve
	}
	n := o.n
	err := s.grant.Enter(u.pid, func(_ *app, kd *process.KernelData) {
		n = mathx.Min(mathx.Min(n, allowLen(kd, o.write)), b.Len())
		if o.write {
			src, _ := kd.ReadOnly(0)
			copy(b.Data()[:n], src.Data)
		}
	})
	if err == nil && n == 0 {
		err = errcode.Reserve
	}
	if err == nil {
		o.n = n
		err = s.transfer(b, o)
	}
	if err != nil {
		s.pool.Replace(b)
		return err
	}
	return nil
}

func (s *Storage) transfer(b *cells.Buffer[byte], o op) error {
	if o.write {
		return s.hw.Write(b, o.addr, o.n)
	}
	return s.hw.Read(b, o.addr, o.n)
}

func (s *Storage) ReadDone(buf *cells.Buffer[byte], n int, err error) {
	s.complete(false, buf, n, err)
}

func (s *Storage) WriteDone(buf *cells.Buffer[byte], n int, err error) {
	s.complete(true, buf, n, err)
}

func (s *Storage) complete(write bool, buf *cells.Buffer[byte], n int, err error) {
	owner, _ := s.arb.Owner()
	reclaim := func() {
		if !owner.kernel {
			s.pool.Replace(buf)
		}
	}
	s.arb.Complete(reclaim, func(u user) {
		if u.kernel {
			if s.kclient == nil {
				return
			}
			if write {
				s.kclient.WriteDone(buf, n, err)
			} else {
				s.kclient.ReadDone(buf, n, err)
			}
			return
		}
		_ = s.grant.Enter(u.pid, func(_ *app, kd *process.KernelData) {
			slot := WriteDone
			if !write {
				slot = ReadDone
				if dst, ok := kd.ReadWrite(0); ok && err == nil {
					copy(dst.Data, buf.Data()[:n])
				}
			}
			if qerr := kd.Schedule(slot, process.Args{A: uint32(n), B: errcode.Of(err).Word()}); qerr != nil {
				println("[nv] upcall dropped for", u.pid.String())
			}
		})
	})
}

func allowLen(kd *process.KernelData, write bool) int {
	if write {
		b, _ := kd.ReadOnly(0)
		return b.Len()
	}
	b, _ := kd.ReadWrite(0)
	return b.Len()
}

// queue serves the kernel's slot first, then processes in grant order.
type queue Storage

func (q *queue) Enqueue(u user, o op) error {
	if u.kernel {
		if q.kpending.IsSome() {
			return errcode.Busy
		}
		q.kpending.Set(o)
		return nil
	}
	return q.procs.Enqueue(u.pid, o)
}

func (q *queue) Keys() []user {
	ids := q.grant.IDs()
	keys := make([]user, 0, len(ids)+1)
	keys = append(keys, kernelUser)
	for _, id := range ids {
		keys = append(keys, user{pid: id})
	}
	return keys
}

func (q *queue) TakePending(u user) (op, bool) {
	if u.kernel {
		return q.kpending.Take()
	}
	return q.procs.TakePending(u.pid)
}

func (q *queue) Resolve(u user) bool {
	return u.kernel || q.grant.Alive(u.pid)
}
