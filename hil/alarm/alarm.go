// Package alarm is the contract for a one-shot hardware alarm on a free
// running tick counter.
package alarm

type Client interface {
	AlarmFired()
}

type Alarm interface {
	SetClient(Client)
	Now() uint32
	// Set arms the alarm to fire at ref+dt, replacing any armed alarm.
	Set(ref, dt uint32)
	Disarm() error
	Armed() bool
	// TicksPerMs converts milliseconds to ticks.
	TicksPerMs() uint32
}
