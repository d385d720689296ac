package cells

// State is where a Buffer currently lives.
type State uint8

const (
	Free      State = iota // parked in its pool
	InFlight               // owned by the hardware
	Delivered              // lent to a client for inspection or copy
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case InFlight:
		return "in_flight"
	case Delivered:
		return "delivered"
	default:
		return "unknown"
	}
}

// Buffer is a statically sized transfer region. It is only ever handled by
// pointer and is never copied; the state tag records the current holder so
// tests can audit that nothing is stranded.
type Buffer[T any] struct {
	id    int
	data  []T
	state State
}

// NewBuffer allocates a buffer of n elements in the Free state.
func NewBuffer[T any](id, n int) *Buffer[T] {
	return &Buffer[T]{id: id, data: make([]T, n)}
}

func (b *Buffer[T]) ID() int      { return b.id }
func (b *Buffer[T]) Len() int     { return len(b.data) }
func (b *Buffer[T]) Data() []T    { return b.data }
func (b *Buffer[T]) State() State { return b.state }

// Lend marks the buffer as handed to the hardware.
func (b *Buffer[T]) Lend() { b.state = InFlight }

// Deliver marks the buffer as handed to a client.
func (b *Buffer[T]) Deliver() { b.state = Delivered }

// Pool is an ordered set of holders for a driver's transfer buffers.
//
// Occupied holders are kept packed at the front. Take removes the occupant
// of holder 0 and moves the rest forward; Replace inserts into the first
// empty holder. Buffers therefore come back out in the order they were
// returned, and none is skipped forever.
type Pool[T any] struct {
	holders []TakeCell[*Buffer[T]]
	all     []*Buffer[T]
}

// NewPool places every buffer in its own holder, in argument order.
func NewPool[T any](bufs ...*Buffer[T]) *Pool[T] {
	p := &Pool[T]{
		holders: make([]TakeCell[*Buffer[T]], len(bufs)),
		all:     append([]*Buffer[T](nil), bufs...),
	}
	for i, b := range bufs {
		b.state = Free
		p.holders[i].Replace(b)
	}
	return p
}

// Take removes the oldest available buffer. The caller must Lend, Deliver
// or Replace it before returning to the event loop.
func (p *Pool[T]) Take() (*Buffer[T], bool) {
	if len(p.holders) == 0 {
		return nil, false
	}
	b, ok := p.holders[0].Take()
	if !ok {
		return nil, false
	}
	for i := 1; i < len(p.holders); i++ {
		v, had := p.holders[i].Take()
		if !had {
			break
		}
		p.holders[i-1].Replace(v)
	}
	b.state = InFlight
	return b, true
}

// Replace returns b to the pool. Replacing a buffer that is already parked
// here, or that the pool does not own, is a programming error.
func (p *Pool[T]) Replace(b *Buffer[T]) {
	if b == nil {
		return
	}
	if !p.owns(b) {
		panic("cells: buffer does not belong to this pool")
	}
	if b.state == Free {
		panic("cells: buffer replaced twice")
	}
	for i := range p.holders {
		if p.holders[i].IsNone() {
			b.state = Free
			p.holders[i].Replace(b)
			return
		}
	}
	panic("cells: pool overflow")
}

// Available counts parked buffers.
func (p *Pool[T]) Available() int {
	n := 0
	for i := range p.holders {
		if p.holders[i].IsSome() {
			n++
		}
	}
	return n
}

// Audit counts the pool's buffers by state.
type Audit struct {
	Free, InFlight, Delivered int
}

func (p *Pool[T]) Audit() Audit {
	var a Audit
	for _, b := range p.all {
		switch b.state {
		case Free:
			a.Free++
		case InFlight:
			a.InFlight++
		case Delivered:
			a.Delivered++
		}
	}
	return a
}

func (p *Pool[T]) owns(b *Buffer[T]) bool {
	for _, x := range p.all {
		if x == b {
			return true
		}
	}
	return false
}
