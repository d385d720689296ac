package mux

type EventKind uint8

const (
	EventStarted EventKind = iota
	EventStopped
	EventDropped
	EventIdle
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventDropped:
		return "dropped"
	default:
		return "idle"
	}
}

// Event is one arbiter state change.
type Event struct {
	Mux  string
	Kind EventKind
	Busy bool
	Err  error
}

// Observer receives arbiter events synchronously on the kernel loop. It
// must not call back into the arbiter.
type Observer interface {
	MuxEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) MuxEvent(e Event) { f(e) }
