package sim

import (
	"capmux/errcode"
	"capmux/hil/alarm"
)

// Alarm runs on a virtual tick counter that only moves when Advance is
// called.
type Alarm struct {
	l      Latcher
	client alarm.Client
	now    uint32
	at     uint32
	armed  bool
	tpm    uint32
}

func NewAlarm(l Latcher, ticksPerMs uint32) *Alarm {
	if ticksPerMs == 0 {
		ticksPerMs = 1
	}
	return &Alarm{l: l, tpm: ticksPerMs}
}

func (a *Alarm) SetClient(c alarm.Client) { a.client = c }
func (a *Alarm) Now() uint32              { return a.now }
func (a *Alarm) Armed() bool              { return a.armed }
func (a *Alarm) TicksPerMs() uint32       { return a.tpm }

func (a *Alarm) Set(ref, dt uint32) {
	a.at = ref + dt
	a.armed = true
}

func (a *Alarm) Disarm() error {
	if !a.armed {
		return errcode.Off
	}
	a.armed = false
	return nil
}

// Advance moves the clock forward and fires the alarm if it is due.
func (a *Alarm) Advance(ticks uint32) {
	a.now += ticks
	if a.armed && int32(a.now-a.at) >= 0 {
		a.armed = false
		a.l.Latch(func() {
			if a.client != nil {
				a.client.AlarmFired()
			}
		})
	}
}
