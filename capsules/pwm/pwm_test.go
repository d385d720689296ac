package pwm

import (
	"testing"

	"capmux/drivers/sim"
	"capmux/errcode"
	"capmux/mux"
)

func TestSharedTimerScenario(t *testing.T) {
	hw := sim.NewPWM(4, 100_000, 100)
	m := NewMux("pwm", hw)
	a := m.NewPin(0)
	b := m.NewPin(1)

	if r := a.Start(440, 50); r.Outcome != mux.Started {
		t.Fatalf("A: %v %v", r.Outcome, r.Err)
	}
	if !a.Active() {
		t.Fatal("A should own the timer")
	}
	if r := b.Start(220, 25); r.Outcome != mux.Queued {
		t.Fatalf("B: %v", r.Outcome)
	}
	if pin, _ := hw.Active(); pin != 0 {
		t.Fatalf("hardware driving pin %d", pin)
	}

	if r := a.Stop(); r.Outcome != mux.Stopped {
		t.Fatalf("stop: %v %v", r.Outcome, r.Err)
	}
	if !b.Active() || a.Active() {
		t.Fatal("B should own the timer after A stops")
	}
	want := []sim.PWMEvent{
		{Pin: 0, FreqHz: 440, Duty: 50, On: true},
		{Pin: 0},
		{Pin: 1, FreqHz: 220, Duty: 25, On: true},
	}
	if len(hw.History) != len(want) {
		t.Fatalf("history %+v", hw.History)
	}
	for i := range want {
		if hw.History[i] != want[i] {
			t.Fatalf("history[%d]=%+v want %+v", i, hw.History[i], want[i])
		}
	}
	if hw.Violations != 0 {
		t.Fatalf("hardware saw %d overlapping starts", hw.Violations)
	}
}

func TestOwnerRetunesInPlace(t *testing.T) {
	hw := sim.NewPWM(2, 1000, 100)
	m := NewMux("pwm", hw)
	a := m.NewPin(1)
	_ = a.Start(100, 10)
	if r := a.Start(200, 20); r.Outcome != mux.Started {
		t.Fatalf("retune: %v", r.Outcome)
	}
	last := hw.History[len(hw.History)-1]
	if last.FreqHz != 200 || last.Duty != 20 || len(hw.History) != 2 {
		t.Fatalf("history %+v", hw.History)
	}
}

func TestInvalidParametersRejectedWhileIdle(t *testing.T) {
	hw := sim.NewPWM(1, 1000, 100)
	m := NewMux("pwm", hw)
	a := m.NewPin(0)
	if r := a.Start(5000, 10); r.Code() != errcode.Invalid {
		t.Fatalf("got %v", r.Err)
	}
	if a.Active() || m.Arbiter().Busy() {
		t.Fatal("rejected start must leave the timer idle")
	}
	if a.MaxFrequencyHz() != 1000 || a.MaxDutyCycle() != 100 {
		t.Fatal("limits should pass through")
	}
}

func TestBadQueuedRequestDroppedOnDispatch(t *testing.T) {
	hw := sim.NewPWM(3, 1000, 100)
	m := NewMux("pwm", hw)
	a, b, c := m.NewPin(0), m.NewPin(1), m.NewPin(2)
	_ = a.Start(100, 10)
	_ = b.Start(9999, 10) // exceeds max frequency
	_ = c.Start(300, 30)
	_ = a.Stop()
	if !c.Active() {
		t.Fatal("dispatch should skip B's bad request and start C")
	}
	if m.Arbiter().Stats().Dropped != 1 {
		t.Fatalf("dropped=%d", m.Arbiter().Stats().Dropped)
	}
}
