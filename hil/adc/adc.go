// Package adc is the hardware contract for analog-to-digital converters.
package adc

import "capmux/kernel/cells"

// Client receives single and continuous samples.
type Client interface {
	SampleReady(sample uint16)
}

// HighSpeedClient receives filled sample buffers. length is the number of
// valid samples at the front of buf.
type HighSpeedClient interface {
	SamplesReady(buf *cells.Buffer[uint16], length int)
}

// ADC is a converter with one sampling engine shared by all its channels.
type ADC interface {
	SetClient(Client)
	Channels() int
	SampleOnce(ch int) error
	SampleContinuous(ch int, freqHz uint32) error
	Stop() error
	ResolutionBits() uint32
	// ReferenceMV reports the reference voltage, if known.
	ReferenceMV() (uint32, bool)
}

// HighSpeed is an ADC that samples straight into buffers. Buffers handed to
// it are owned by the hardware until SamplesReady or RetrieveBuffers hands
// them back.
type HighSpeed interface {
	ADC
	SetHighSpeedClient(HighSpeedClient)
	// SampleHighSpeed fills b1 with n1 samples then moves on to b2 (which
	// may be nil) with n2.
	SampleHighSpeed(ch int, freqHz uint32, b1 *cells.Buffer[uint16], n1 int, b2 *cells.Buffer[uint16], n2 int) error
	// ProvideBuffer queues another buffer for the running capture.
	ProvideBuffer(b *cells.Buffer[uint16], n int) error
	// RetrieveBuffers returns any buffers still held once sampling has
	// stopped.
	RetrieveBuffers() ([]*cells.Buffer[uint16], error)
}

// Channel is one virtual channel handed to a kernel client by an ADC mux.
type Channel interface {
	SetClient(Client)
	Sample() error
	Stop() error
	ResolutionBits() uint32
	ReferenceMV() (uint32, bool)
}
