// Package pwm shares one PWM timer among kernel users, one Pin each. The
// first pin to start owns the timer until it stops; other pins queue one
// request each and are started in registration order.
package pwm

import (
	"capmux/hil/pwm"
	"capmux/mux"
)

// Op is a pin request: drive at FreqHz/Duty, or Stop.
type Op struct {
	FreqHz uint32
	Duty   uint32
	Stop   bool
}

func (o Op) IsStop() bool { return o.Stop }

type client = *mux.Client[Op]

type Mux struct {
	hw   pwm.PWM
	reg  *mux.Registry[Op]
	arb  *mux.Arbiter[client, Op]
	pins []int
}

func NewMux(name string, hw pwm.PWM) *Mux {
	m := &Mux{hw: hw, reg: mux.NewRegistry[Op]()}
	m.arb = mux.New[client, Op](name, m, m.reg)
	return m
}

// Arbiter exposes the underlying arbiter for observation.
func (m *Mux) Arbiter() *mux.Arbiter[client, Op] { return m.arb }

// NewPin registers a user for hardware pin. Call during board wiring only.
func (m *Mux) NewPin(pin int) *Pin {
	c := m.reg.Register()
	m.pins = append(m.pins, pin)
	return &Pin{m: m, c: c, pin: pin}
}

func (m *Mux) Start(c client, op Op) error {
	return m.hw.Start(m.pins[c.Index()], op.FreqHz, op.Duty)
}

// Update retunes the owner's pin in place.
func (m *Mux) Update(c client, op Op) error {
	return m.hw.Start(m.pins[c.Index()], op.FreqHz, op.Duty)
}

// Abort stops the pin. PWM has no completion interrupt, so the timer is
// free as soon as this returns.
func (m *Mux) Abort(c client) (bool, error) {
	return false, m.hw.Stop(m.pins[c.Index()])
}

// Pin is one kernel user's handle on the shared timer.
type Pin struct {
	m   *Mux
	c   client
	pin int
}

func (p *Pin) Start(freqHz, duty uint32) mux.Result {
	return p.m.arb.Request(p.c, Op{FreqHz: freqHz, Duty: duty})
}

func (p *Pin) Stop() mux.Result {
	return p.m.arb.Request(p.c, Op{Stop: true})
}

// Active reports whether this pin currently owns the timer.
func (p *Pin) Active() bool { return p.m.arb.IsOwner(p.c) }

func (p *Pin) HWPin() int             { return p.pin }
func (p *Pin) MaxFrequencyHz() uint32 { return p.m.hw.MaxFrequencyHz() }
func (p *Pin) MaxDutyCycle() uint32   { return p.m.hw.MaxDutyCycle() }
