package mux

import (
	"capmux/errcode"
	"capmux/kernel/cells"
	"capmux/kernel/process"
)

// Client is a kernel-side participant: one pending slot and a fixed
// position in its Registry.
type Client[Op Operation] struct {
	index   int
	pending cells.OptionalCell[Op]
}

func (c *Client[Op]) Index() int       { return c.index }
func (c *Client[Op]) HasPending() bool { return c.pending.IsSome() }

// Registry is the fixed, append-only client list of a kernel mux.
type Registry[Op Operation] struct {
	clients []*Client[Op]
}

func NewRegistry[Op Operation]() *Registry[Op] { return &Registry[Op]{} }

// Register appends a client. There is no removal.
func (r *Registry[Op]) Register() *Client[Op] {
	c := &Client[Op]{index: len(r.clients)}
	r.clients = append(r.clients, c)
	return c
}

func (r *Registry[Op]) Len() int { return len(r.clients) }

func (r *Registry[Op]) Enqueue(c *Client[Op], op Op) error {
	if c.pending.IsSome() {
		return errcode.Busy
	}
	c.pending.Set(op)
	return nil
}

func (r *Registry[Op]) Keys() []*Client[Op] { return r.clients }

func (r *Registry[Op]) TakePending(c *Client[Op]) (Op, bool) { return c.pending.Take() }

// Resolve is always true: kernel clients live as long as the kernel.
func (r *Registry[Op]) Resolve(*Client[Op]) bool { return true }

// GrantQueue keeps pending operations inside per-process grant records.
// Slot returns the record's pending field.
type GrantQueue[R any, Op Operation] struct {
	g    *process.Grant[R]
	slot func(*R) *cells.OptionalCell[Op]
}

func NewGrantQueue[R any, Op Operation](g *process.Grant[R], slot func(*R) *cells.OptionalCell[Op]) *GrantQueue[R, Op] {
	return &GrantQueue[R, Op]{g: g, slot: slot}
}

func (q *GrantQueue[R, Op]) Enqueue(pid process.ID, op Op) error {
	var busy bool
	err := q.g.Enter(pid, func(rec *R, _ *process.KernelData) {
		s := q.slot(rec)
		if s.IsSome() {
			busy = true
			return
		}
		s.Set(op)
	})
	if err != nil {
		return err
	}
	if busy {
		return errcode.Busy
	}
	return nil
}

// Keys returns live processes in grant allocation order. Dead processes
// never appear, so their stale slots are never reached.
func (q *GrantQueue[R, Op]) Keys() []process.ID { return q.g.IDs() }

func (q *GrantQueue[R, Op]) TakePending(pid process.ID) (Op, bool) {
	var op Op
	var ok bool
	_ = q.g.Enter(pid, func(rec *R, _ *process.KernelData) {
		op, ok = q.slot(rec).Take()
	})
	return op, ok
}

func (q *GrantQueue[R, Op]) Resolve(pid process.ID) bool { return q.g.Alive(pid) }
