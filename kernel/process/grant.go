package process

import (
	"github.com/google/btree"
)

// Grant is one driver's per-process record store. Records are created on
// first Enter and stop resolving the moment their process dies or restarts;
// a restarted process gets a brand new zero record on its next Enter.
//
// Iteration follows allocation order (the order in which records were first
// created), never process priority.
type Grant[T any] struct {
	table  *Table
	driver uint32
	seq    uint64
	byID   map[ID]*grantRec[T]
	order  *btree.BTreeG[*grantRec[T]]
}

type grantRec[T any] struct {
	seq uint64
	pid ID
	val T
}

// NewGrant creates the record store for driver.
func NewGrant[T any](t *Table, driver uint32) *Grant[T] {
	return &Grant[T]{
		table:  t,
		driver: driver,
		byID:   map[ID]*grantRec[T]{},
		order: btree.NewG(8, func(a, b *grantRec[T]) bool {
			return a.seq < b.seq
		}),
	}
}

// Driver is the driver number upcalls from this grant are tagged with.
func (g *Grant[T]) Driver() uint32 { return g.driver }

// Enter runs fn with pid's record, creating it if needed. It fails with
// ErrNoSuchProcess or ErrInactive (and never calls fn) if pid does not
// resolve to a live process.
func (g *Grant[T]) Enter(pid ID, fn func(rec *T, kd *KernelData)) error {
	p, err := g.table.Lookup(pid)
	if err != nil {
		g.forget(pid)
		return err
	}
	r, ok := g.byID[pid]
	if !ok {
		g.seq++
		r = &grantRec[T]{seq: g.seq, pid: pid}
		g.byID[pid] = r
		g.order.ReplaceOrInsert(r)
	}
	fn(&r.val, &KernelData{proc: p, driver: g.driver})
	return nil
}

// Alive reports whether pid still resolves to a live process. It does not
// allocate a record.
func (g *Grant[T]) Alive(pid ID) bool {
	_, err := g.table.Lookup(pid)
	return err == nil
}

// IDs returns the live record owners in allocation order. Dead records found
// along the way are discarded. The returned slice is a snapshot, so callers
// may Enter (and allocate) while walking it.
func (g *Grant[T]) IDs() []ID {
	var ids []ID
	var dead []*grantRec[T]
	g.order.Ascend(func(r *grantRec[T]) bool {
		if g.Alive(r.pid) {
			ids = append(ids, r.pid)
		} else {
			dead = append(dead, r)
		}
		return true
	})
	for _, r := range dead {
		g.forget(r.pid)
	}
	return ids
}

// Each enters every live record in allocation order.
func (g *Grant[T]) Each(fn func(pid ID, rec *T, kd *KernelData)) {
	for _, pid := range g.IDs() {
		_ = g.Enter(pid, func(rec *T, kd *KernelData) { fn(pid, rec, kd) })
	}
}

// Len counts records, including ones whose process has died but that have
// not been swept yet.
func (g *Grant[T]) Len() int { return g.order.Len() }

func (g *Grant[T]) forget(pid ID) {
	r, ok := g.byID[pid]
	if !ok {
		return
	}
	delete(g.byID, pid)
	g.order.Delete(r)
}

// KernelData is the kernel-owned half of a grant record: the process's
// allowed buffers and its upcall queue, scoped to one driver.
type KernelData struct {
	proc   *Process
	driver uint32
}

func (kd *KernelData) ProcessID() ID { return kd.proc.id }

// ReadWrite returns the read-write buffer the process allowed in slot.
func (kd *KernelData) ReadWrite(slot int) (AllowedBuffer, bool) {
	b, ok := kd.proc.rw[allowKey{kd.driver, slot}]
	return b, ok
}

// ReadOnly returns the read-only buffer the process allowed in slot.
func (kd *KernelData) ReadOnly(slot int) (AllowedBuffer, bool) {
	b, ok := kd.proc.ro[allowKey{kd.driver, slot}]
	return b, ok
}

// Schedule queues an upcall for the process. ErrQueueFull means the
// process missed the signal; drivers treat it as non-fatal.
func (kd *KernelData) Schedule(slot int, a Args) error {
	return kd.proc.upcalls.push(Upcall{Driver: kd.driver, Slot: slot, Args: a})
}
