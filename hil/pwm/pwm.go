// Package pwm is the hardware contract for a PWM peripheral with a single
// shared timer: only one pin may be driven at a time.
package pwm

// PWM drives output pins. Start and Stop take effect synchronously; there
// is no completion callback.
type PWM interface {
	// Start drives pin at freqHz with the given duty, where duty runs from 0
	// to MaxDutyCycle. Starting the pin that is already running retunes it.
	Start(pin int, freqHz, duty uint32) error
	Stop(pin int) error
	MaxFrequencyHz() uint32
	MaxDutyCycle() uint32
}
