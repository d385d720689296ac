// Package cells holds the single-owner containers the kernel uses to move
// state between the arbiter, the hardware and clients.
//
// None of the types here lock. They rely on the kernel running every
// handler to completion on one goroutine, so the check-then-remove in Take
// cannot be interleaved with another handler.
package cells

// OptionalCell holds zero or one value. It is used for owner and pending
// operation slots.
type OptionalCell[T any] struct {
	v  T
	ok bool
}

func (c *OptionalCell[T]) Set(v T)      { c.v, c.ok = v, true }
func (c *OptionalCell[T]) IsSome() bool { return c.ok }
func (c *OptionalCell[T]) IsNone() bool { return !c.ok }

func (c *OptionalCell[T]) Get() (T, bool) { return c.v, c.ok }

// Take empties the cell and returns what it held.
func (c *OptionalCell[T]) Take() (T, bool) {
	v, ok := c.v, c.ok
	c.Clear()
	return v, ok
}

func (c *OptionalCell[T]) Clear() {
	var zero T
	c.v, c.ok = zero, false
}

// TakeCell is a named holder for a move-only value such as a transfer
// buffer. Take fails when the holder is empty; Replace puts a value back and
// hands out whatever was there before.
type TakeCell[T any] struct {
	v  T
	ok bool
}

// NewTakeCell returns a holder that already contains v.
func NewTakeCell[T any](v T) TakeCell[T] { return TakeCell[T]{v: v, ok: true} }

func (c *TakeCell[T]) IsSome() bool { return c.ok }
func (c *TakeCell[T]) IsNone() bool { return !c.ok }

func (c *TakeCell[T]) Take() (T, bool) {
	var zero T
	v, ok := c.v, c.ok
	c.v, c.ok = zero, false
	return v, ok
}

func (c *TakeCell[T]) Replace(v T) (old T, had bool) {
	old, had = c.v, c.ok
	c.v, c.ok = v, true
	return old, had
}
