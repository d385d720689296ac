package process

const defaultQueueLen = 10

// Args is the fixed three-word payload of an upcall.
type Args struct {
	A, B, C uint32
}

// Upcall is one queued notification for a process.
type Upcall struct {
	Driver uint32
	Slot   int
	Args   Args
}

type subKey struct {
	driver uint32
	slot   int
}

// upcallQueue is a bounded FIFO with at most one outstanding entry per
// (driver, slot) subscription. Anything beyond that is dropped and counted.
type upcallQueue struct {
	buf         []Upcall
	head, n     int
	outstanding map[subKey]bool
	dropped     uint32
}

func newUpcallQueue(size int) *upcallQueue {
	return &upcallQueue{buf: make([]Upcall, size), outstanding: map[subKey]bool{}}
}

func (q *upcallQueue) push(u Upcall) error {
	k := subKey{u.Driver, u.Slot}
	if q.outstanding[k] || q.n == len(q.buf) {
		q.dropped++
		return ErrQueueFull
	}
	q.buf[(q.head+q.n)%len(q.buf)] = u
	q.n++
	q.outstanding[k] = true
	return nil
}

func (q *upcallQueue) pop() (Upcall, bool) {
	if q.n == 0 {
		return Upcall{}, false
	}
	u := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	delete(q.outstanding, subKey{u.Driver, u.Slot})
	return u, true
}
