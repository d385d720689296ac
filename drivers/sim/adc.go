package sim

import (
	"capmux/errcode"
	"capmux/hil/adc"
	"capmux/kernel/cells"
)

type adcMode uint8

const (
	adcIdle adcMode = iota
	adcSingle
	adcContinuous
	adcHighSpeed
)

type adcChunk struct {
	b *cells.Buffer[uint16]
	n int
}

// ADC is a converter with one sampling engine. Single samples complete on
// their own; continuous and buffered captures advance one step per Tick.
type ADC struct {
	l        Latcher
	channels int
	bits     uint32
	refMV    uint32

	client   adc.Client
	hsClient adc.HighSpeedClient

	mode  adcMode
	ch    int
	gen   uint32
	seq   uint32
	queue []adcChunk

	// Value produces the n-th sample taken on ch. The default encodes the
	// channel in the high byte and the sequence number in the low byte.
	Value      func(ch int, n uint32) uint16
	Violations uint32
}

func NewADC(l Latcher, channels int, bits, refMV uint32) *ADC {
	return &ADC{
		l:        l,
		channels: channels,
		bits:     bits,
		refMV:    refMV,
		Value: func(ch int, n uint32) uint16 {
			return uint16(ch&0xFF)<<8 | uint16(n&0xFF)
		},
	}
}

func (a *ADC) SetClient(c adc.Client)                   { a.client = c }
func (a *ADC) SetHighSpeedClient(c adc.HighSpeedClient) { a.hsClient = c }
func (a *ADC) Channels() int                            { return a.channels }
func (a *ADC) ResolutionBits() uint32                   { return a.bits }

func (a *ADC) ReferenceMV() (uint32, bool) { return a.refMV, a.refMV != 0 }

// Sampling reports whether a capture is running.
func (a *ADC) Sampling() bool { return a.mode != adcIdle }

func (a *ADC) begin(ch int, m adcMode) error {
	if a.mode != adcIdle {
		a.Violations++
		return errcode.Busy
	}
	if ch < 0 || ch >= a.channels {
		return errcode.Invalid
	}
	a.mode, a.ch = m, ch
	a.gen++
	return nil
}

func (a *ADC) next() uint16 {
	v := a.Value(a.ch, a.seq)
	a.seq++
	return v
}

func (a *ADC) SampleOnce(ch int) error {
	if err := a.begin(ch, adcSingle); err != nil {
		return err
	}
	gen := a.gen
	a.l.Latch(func() {
		if a.gen != gen || a.mode != adcSingle {
			return
		}
		a.mode = adcIdle
		v := a.next()
		if a.client != nil {
			a.client.SampleReady(v)
		}
	})
	return nil
}

func (a *ADC) SampleContinuous(ch int, freqHz uint32) error {
	if freqHz == 0 {
		return errcode.Invalid
	}
	return a.begin(ch, adcContinuous)
}

func (a *ADC) SampleHighSpeed(ch int, freqHz uint32, b1 *cells.Buffer[uint16], n1 int, b2 *cells.Buffer[uint16], n2 int) error {
	if freqHz == 0 || b1 == nil || n1 <= 0 || n1 > b1.Len() {
		return errcode.Invalid
	}
	if b2 != nil && (n2 <= 0 || n2 > b2.Len()) {
		return errcode.Invalid
	}
	if err := a.begin(ch, adcHighSpeed); err != nil {
		return err
	}
	a.queue = append(a.queue[:0], adcChunk{b1, n1})
	if b2 != nil {
		a.queue = append(a.queue, adcChunk{b2, n2})
	}
	return nil
}

func (a *ADC) ProvideBuffer(b *cells.Buffer[uint16], n int) error {
	if a.mode != adcHighSpeed {
		return errcode.Off
	}
	if b == nil || n <= 0 || n > b.Len() {
		return errcode.Invalid
	}
	if len(a.queue) >= 2 {
		a.Violations++
		return errcode.Busy
	}
	a.queue = append(a.queue, adcChunk{b, n})
	return nil
}

func (a *ADC) RetrieveBuffers() ([]*cells.Buffer[uint16], error) {
	if a.mode != adcIdle {
		return nil, errcode.Busy
	}
	out := make([]*cells.Buffer[uint16], 0, len(a.queue))
	for _, c := range a.queue {
		out = append(out, c.b)
	}
	a.queue = a.queue[:0]
	return out, nil
}

func (a *ADC) Stop() error {
	if a.mode == adcIdle {
		return errcode.Off
	}
	a.mode = adcIdle
	a.gen++
	return nil
}

// Tick advances a continuous or buffered capture by one conversion period:
// one sample, or one full buffer. It reports whether anything completed.
func (a *ADC) Tick() bool {
	gen := a.gen
	switch a.mode {
	case adcContinuous:
		v := a.next()
		a.l.Latch(func() {
			if a.gen == gen && a.client != nil {
				a.client.SampleReady(v)
			}
		})
		return true
	case adcHighSpeed:
		if len(a.queue) == 0 {
			return false
		}
		c := a.queue[0]
		a.queue = append(a.queue[:0], a.queue[1:]...)
		data := c.b.Data()
		for i := 0; i < c.n; i++ {
			data[i] = a.next()
		}
		a.l.Latch(func() {
			if a.hsClient != nil {
				a.hsClient.SamplesReady(c.b, c.n)
			}
		})
		return true
	}
	return false
}
