// Package mux serialises access to one non-reentrant hardware resource
// among many clients.
//
// An Arbiter tracks at most one owner. Requests that arrive while the
// resource is busy land in the requester's own one-entry pending slot,
// which lives in a Queue: a fixed registry of kernel clients, or the
// per-process grant records of a process-facing driver. When the resource
// frees up the Arbiter scans the queue in registration/allocation order and
// starts the first pending operation that the hardware accepts.
//
// Everything runs on the kernel loop; nothing here locks.
package mux

import (
	"capmux/errcode"
	"capmux/kernel/cells"
)

// Operation is the resource-specific request type. Exactly one variant is
// the Stop request.
type Operation interface {
	IsStop() bool
}

// Backend starts operations on the hardware on behalf of owner. A nil
// error means the hardware accepted the operation and will complete it
// later; anything else is a synchronous rejection.
type Backend[K comparable, Op Operation] interface {
	Start(owner K, op Op) error
}

// Updater is implemented by backends that can retune an in-flight
// operation for its owner (for example a new PWM frequency). Backends
// without it queue an owner's follow-up request like anyone else's.
type Updater[K comparable, Op Operation] interface {
	Update(owner K, op Op) error
}

// Aborter is implemented by backends that can cancel the in-flight
// operation. completes reports whether the hardware will still deliver a
// completion for it; if not, the owner is released immediately.
type Aborter[K comparable] interface {
	Abort(owner K) (completes bool, err error)
}

// Dropper is implemented by backends whose operations carry resources
// (buffers, usually) that must go back to their owner when a queued
// operation is dropped during dispatch.
type Dropper[K comparable, Op Operation] interface {
	Dropped(owner K, op Op, err error)
}

// Queue holds one pending operation per client.
type Queue[K comparable, Op Operation] interface {
	// Enqueue fills k's pending slot. It fails with errcode.Busy if the
	// slot is occupied and never overwrites.
	Enqueue(k K, op Op) error
	// Keys lists candidate clients in scan order.
	Keys() []K
	// TakePending empties k's slot.
	TakePending(k K) (Op, bool)
	// Resolve reports whether k can still receive a notification.
	Resolve(k K) bool
}

type Outcome uint8

const (
	Rejected Outcome = iota
	Started
	Queued
	Stopped
	Withdrawn
)

func (o Outcome) String() string {
	switch o {
	case Started:
		return "started"
	case Queued:
		return "queued"
	case Stopped:
		return "stopped"
	case Withdrawn:
		return "withdrawn"
	default:
		return "rejected"
	}
}

// Result is what Request reports. Err is set only for Rejected.
type Result struct {
	Outcome Outcome
	Err     error
}

func (r Result) Code() errcode.Code {
	if r.Outcome == Rejected {
		return errcode.Of(r.Err)
	}
	return errcode.OK
}

func rejected(err error) Result { return Result{Outcome: Rejected, Err: err} }

// Stats counts arbiter activity since construction.
type Stats struct {
	Started   uint32
	Queued    uint32
	Rejected  uint32
	Dropped   uint32
	Completed uint32
	Stale     uint32
}

type Arbiter[K comparable, Op Operation] struct {
	name  string
	hw    Backend[K, Op]
	q     Queue[K, Op]
	owner cells.OptionalCell[K]
	obs   Observer
	stats Stats

	// delivering is set while Complete runs its deliver callback. Requests
	// made from there wait in their slot for the dispatch scan.
	delivering bool
}

// New creates the arbiter for one resource. Build it once at board wiring
// time and share the pointer.
func New[K comparable, Op Operation](name string, hw Backend[K, Op], q Queue[K, Op]) *Arbiter[K, Op] {
	if hw == nil || q == nil {
		panic("mux: nil backend or queue")
	}
	return &Arbiter[K, Op]{name: name, hw: hw, q: q}
}

func (a *Arbiter[K, Op]) Name() string { return a.name }

// Observe installs o to receive lifecycle events. Passing nil removes it.
func (a *Arbiter[K, Op]) Observe(o Observer) { a.obs = o }

func (a *Arbiter[K, Op]) Owner() (K, bool) { return a.owner.Get() }
func (a *Arbiter[K, Op]) Busy() bool       { return a.owner.IsSome() }
func (a *Arbiter[K, Op]) Stats() Stats     { return a.stats }

// IsOwner reports whether k holds the in-flight operation.
func (a *Arbiter[K, Op]) IsOwner(k K) bool {
	o, ok := a.owner.Get()
	return ok && o == k
}

// Request asks for op on behalf of k. A request made from inside a
// completion callback is queued even though the resource looks idle, so
// the registration order scan picks the next owner.
func (a *Arbiter[K, Op]) Request(k K, op Op) Result {
	owner, busy := a.owner.Get()
	switch {
	case !busy && !a.delivering:
		if op.IsStop() {
			return a.reject(errcode.Off)
		}
		if err := a.start(k, op); err != nil {
			return a.reject(err)
		}
		return Result{Outcome: Started}

	case busy && owner == k && op.IsStop():
		return a.stop(k)

	case busy && owner == k:
		if up, ok := a.hw.(Updater[K, Op]); ok {
			if err := up.Update(k, op); err != nil {
				return a.reject(err)
			}
			return Result{Outcome: Started}
		}
		return a.enqueue(k, op)

	case op.IsStop():
		if _, had := a.q.TakePending(k); had {
			return Result{Outcome: Withdrawn}
		}
		return a.reject(errcode.Off)

	default:
		return a.enqueue(k, op)
	}
}

func (a *Arbiter[K, Op]) enqueue(k K, op Op) Result {
	if err := a.q.Enqueue(k, op); err != nil {
		return a.reject(err)
	}
	a.stats.Queued++
	return Result{Outcome: Queued}
}

func (a *Arbiter[K, Op]) stop(k K) Result {
	ab, ok := a.hw.(Aborter[K])
	if !ok {
		return a.reject(errcode.Unsupported)
	}
	completes, err := ab.Abort(k)
	if err != nil {
		return a.reject(err)
	}
	a.emit(EventStopped, nil)
	if !completes {
		a.owner.Clear()
		a.DispatchNext()
	}
	return Result{Outcome: Stopped}
}

func (a *Arbiter[K, Op]) start(k K, op Op) error {
	a.owner.Set(k)
	if err := a.hw.Start(k, op); err != nil {
		a.owner.Clear()
		return err
	}
	a.stats.Started++
	a.emit(EventStarted, nil)
	return nil
}

// DispatchNext starts the first pending operation the hardware accepts.
// Operations the hardware rejects are dropped and the scan moves on; the
// owner hears about it only through a Dropper backend. It does nothing
// while an operation is in flight.
func (a *Arbiter[K, Op]) DispatchNext() {
	if a.owner.IsSome() {
		return
	}
	for _, k := range a.q.Keys() {
		op, ok := a.q.TakePending(k)
		if !ok {
			continue
		}
		if err := a.start(k, op); err != nil {
			a.stats.Dropped++
			println("[mux]", a.name, "dropped queued op:", err.Error())
			a.emit(EventDropped, err)
			if d, ok := a.hw.(Dropper[K, Op]); ok {
				d.Dropped(k, op, err)
			}
			if a.owner.IsSome() {
				// The Dropper's owner already asked again and won.
				return
			}
			continue
		}
		return
	}
	a.emit(EventIdle, nil)
}

// Complete is the hardware completion path. reclaim runs first and
// unconditionally so buffers come home even if the owner has gone. deliver
// runs only if the owner still resolves; anything it requests is queued.
// Finally the next pending operation is dispatched.
func (a *Arbiter[K, Op]) Complete(reclaim func(), deliver func(owner K)) {
	if reclaim != nil {
		reclaim()
	}
	a.stats.Completed++
	owner, ok := a.owner.Take()
	switch {
	case !ok:
		a.stats.Stale++
	case !a.q.Resolve(owner):
		a.stats.Stale++
	case deliver != nil:
		a.delivering = true
		deliver(owner)
		a.delivering = false
	}
	a.DispatchNext()
}

func (a *Arbiter[K, Op]) reject(err error) Result {
	a.stats.Rejected++
	return rejected(err)
}

func (a *Arbiter[K, Op]) emit(kind EventKind, err error) {
	if a.obs == nil {
		return
	}
	a.obs.MuxEvent(Event{Mux: a.name, Kind: kind, Busy: a.owner.IsSome(), Err: err})
}
