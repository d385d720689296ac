// Package alarmstop bounds how long a user may hold a shared resource. A
// Timeout arms a one-shot alarm and, when it fires, sends the user's Stop
// request through the arbiter like any other request.
package alarmstop

import (
	"capmux/errcode"
	"capmux/hil/alarm"
	"capmux/mux"
	"capmux/x/timex"
)

// Stopper is any arbiter user with a Stop request.
type Stopper interface {
	Stop() mux.Result
}

type Timeout struct {
	alarm  alarm.Alarm
	target Stopper
	armed  bool
	last   mux.Result

	Fired uint32
}

var _ alarm.Client = (*Timeout)(nil)

// New takes ownership of a as its client.
func New(a alarm.Alarm, target Stopper) *Timeout {
	t := &Timeout{alarm: a, target: target}
	a.SetClient(t)
	return t
}

// Arm schedules a Stop ms milliseconds from now, replacing any armed one.
func (t *Timeout) Arm(ms uint32) {
	t.alarm.Set(t.alarm.Now(), timex.MsToTicks(ms, t.alarm.TicksPerMs()))
	t.armed = true
}

// Cancel disarms a pending Stop. Off if nothing is armed.
func (t *Timeout) Cancel() error {
	if !t.armed {
		return errcode.Off
	}
	t.armed = false
	return t.alarm.Disarm()
}

func (t *Timeout) Armed() bool { return t.armed }

// Last is the arbiter's answer to the most recent timed Stop.
func (t *Timeout) Last() mux.Result { return t.last }

func (t *Timeout) AlarmFired() {
	if !t.armed {
		return
	}
	t.armed = false
	t.Fired++
	t.last = t.target.Stop()
	if t.last.Outcome == mux.Rejected && t.last.Code() != errcode.Off {
		println("[alarmstop] stop rejected:", t.last.Err.Error())
	}
}
