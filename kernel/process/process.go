// Package process models the isolated application processes a capsule
// serves: their identities, lifecycle, allowed buffers, the per-process
// upcall queue, and the per-driver record store ("grant").
//
// The scheduler policy and memory protection are not modelled; a Process
// here is only what the capsules can observe.
package process

import (
	"strconv"

	"capmux/errcode"
)

var (
	ErrNoSuchProcess = &errcode.E{C: errcode.Invalid, Op: "process", Msg: "no such process"}
	ErrInactive      = &errcode.E{C: errcode.Fail, Op: "process", Msg: "inactive process"}
	ErrNoSlot        = &errcode.E{C: errcode.NoMemory, Op: "process", Msg: "process table full"}
	ErrQueueFull     = &errcode.E{C: errcode.NoMemory, Op: "upcall", Msg: "upcall queue full"}
)

// ID names one incarnation of a process. A restart keeps the slot index
// but bumps the generation, so an old ID never resolves to the new
// incarnation.
type ID struct {
	index uint16
	gen   uint32
}

func (id ID) Index() int   { return int(id.index) }
func (id ID) IsZero() bool { return id.gen == 0 }
func (id ID) String() string {
	return strconv.Itoa(int(id.index)) + "." + strconv.FormatUint(uint64(id.gen), 10)
}

type State uint8

const (
	Running State = iota
	Faulted
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Faulted:
		return "faulted"
	default:
		return "terminated"
	}
}

// AllowedBuffer is memory a process shared with a driver. Addr is the
// address the process knows it by; it is echoed back in upcalls.
type AllowedBuffer struct {
	Addr uint32
	Data []byte
}

func (b AllowedBuffer) Len() int { return len(b.Data) }

type allowKey struct {
	driver uint32
	slot   int
}

type Process struct {
	id    ID
	name  string
	state State

	rw map[allowKey]AllowedBuffer
	ro map[allowKey]AllowedBuffer

	upcalls *upcallQueue
}

func (p *Process) ID() ID       { return p.id }
func (p *Process) Name() string { return p.name }
func (p *Process) State() State { return p.state }
func (p *Process) Alive() bool  { return p.state == Running }

// AllowReadWrite shares buf with driver under slot, replacing any previous
// allow. A nil buf revokes it.
func (p *Process) AllowReadWrite(driver uint32, slot int, addr uint32, buf []byte) {
	k := allowKey{driver, slot}
	if buf == nil {
		delete(p.rw, k)
		return
	}
	p.rw[k] = AllowedBuffer{Addr: addr, Data: buf}
}

// AllowReadOnly is the read-only counterpart of AllowReadWrite.
func (p *Process) AllowReadOnly(driver uint32, slot int, addr uint32, buf []byte) {
	k := allowKey{driver, slot}
	if buf == nil {
		delete(p.ro, k)
		return
	}
	p.ro[k] = AllowedBuffer{Addr: addr, Data: buf}
}

// NextUpcall pops the oldest queued upcall. Processes call this when they
// are next scheduled.
func (p *Process) NextUpcall() (Upcall, bool) { return p.upcalls.pop() }

// PendingUpcalls is the number of queued, undelivered upcalls.
func (p *Process) PendingUpcalls() int { return p.upcalls.n }

// DroppedUpcalls counts upcalls discarded because the queue was full or the
// subscription already had one outstanding.
func (p *Process) DroppedUpcalls() uint32 { return p.upcalls.dropped }

// Table is the kernel's fixed-size process array.
type Table struct {
	slots    []*Process
	gen      uint32
	queueLen int
}

// NewTable creates a table with room for max processes, each with an upcall
// queue of queueLen entries.
func NewTable(max, queueLen int) *Table {
	if max <= 0 {
		max = 4
	}
	if queueLen <= 0 {
		queueLen = defaultQueueLen
	}
	return &Table{slots: make([]*Process, max), queueLen: queueLen}
}

// Spawn starts a process in the first free (or dead) slot.
func (t *Table) Spawn(name string) (*Process, error) {
	for i, p := range t.slots {
		if p == nil || p.state != Running {
			np := t.fresh(i, name)
			t.slots[i] = np
			return np, nil
		}
	}
	return nil, ErrNoSlot
}

// Lookup resolves id to its live process.
func (t *Table) Lookup(id ID) (*Process, error) {
	if int(id.index) >= len(t.slots) {
		return nil, ErrNoSuchProcess
	}
	p := t.slots[id.index]
	if p == nil || p.id != id {
		return nil, ErrNoSuchProcess
	}
	if p.state != Running {
		return nil, ErrInactive
	}
	return p, nil
}

// Terminate stops a process. Its grant records stop resolving immediately.
func (t *Table) Terminate(id ID) error {
	p, err := t.Lookup(id)
	if err != nil {
		return err
	}
	p.state = Terminated
	return nil
}

// Fault marks a process as crashed.
func (t *Table) Fault(id ID) error {
	p, err := t.Lookup(id)
	if err != nil {
		return err
	}
	p.state = Faulted
	return nil
}

// Restart replaces the process in id's slot with a fresh incarnation. Works
// on live and dead processes alike; the old ID stops resolving.
func (t *Table) Restart(id ID) (*Process, error) {
	if int(id.index) >= len(t.slots) {
		return nil, ErrNoSuchProcess
	}
	old := t.slots[id.index]
	if old == nil || old.id != id {
		return nil, ErrNoSuchProcess
	}
	np := t.fresh(int(id.index), old.name)
	t.slots[id.index] = np
	return np, nil
}

// Each visits live processes in slot order.
func (t *Table) Each(fn func(p *Process)) {
	for _, p := range t.slots {
		if p != nil && p.state == Running {
			fn(p)
		}
	}
}

func (t *Table) fresh(i int, name string) *Process {
	t.gen++
	return &Process{
		id:      ID{index: uint16(i), gen: t.gen},
		name:    name,
		rw:      map[allowKey]AllowedBuffer{},
		ro:      map[allowKey]AllowedBuffer{},
		upcalls: newUpcallQueue(t.queueLen),
	}
}
