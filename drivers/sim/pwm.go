package sim

import (
	"capmux/errcode"
)

// PWMEvent is one change of output recorded by the PWM model.
type PWMEvent struct {
	Pin    int
	FreqHz uint32
	Duty   uint32
	On     bool
}

// PWM has one timer; a second pin cannot start until the first stops.
type PWM struct {
	pins       int
	maxFreq    uint32
	maxDuty    uint32
	active     int
	Violations uint32
	History    []PWMEvent
}

func NewPWM(pins int, maxFreqHz, maxDuty uint32) *PWM {
	if maxDuty == 0 {
		maxDuty = 0xFFFF
	}
	return &PWM{pins: pins, maxFreq: maxFreqHz, maxDuty: maxDuty, active: -1}
}

func (p *PWM) Start(pin int, freqHz, duty uint32) error {
	if pin < 0 || pin >= p.pins {
		return errcode.Invalid
	}
	if freqHz == 0 || freqHz > p.maxFreq || duty > p.maxDuty {
		return errcode.Invalid
	}
	if p.active >= 0 && p.active != pin {
		p.Violations++
		return errcode.Busy
	}
	p.active = pin
	p.History = append(p.History, PWMEvent{Pin: pin, FreqHz: freqHz, Duty: duty, On: true})
	return nil
}

func (p *PWM) Stop(pin int) error {
	if pin != p.active {
		return errcode.Off
	}
	p.active = -1
	p.History = append(p.History, PWMEvent{Pin: pin})
	return nil
}

func (p *PWM) MaxFrequencyHz() uint32 { return p.maxFreq }
func (p *PWM) MaxDutyCycle() uint32   { return p.maxDuty }

// Active reports the pin being driven, if any.
func (p *PWM) Active() (int, bool) { return p.active, p.active >= 0 }
