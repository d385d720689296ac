package board

import (
	"capmux/bus"
	"capmux/capsules/adc"
	"capmux/types"
	"capmux/x/timex"
)

// Monitor is a kernel ADC client that publishes each sample it takes under
// adc/<channel>, retained.
type Monitor struct {
	ch   *adc.ChannelUser
	conn *bus.Connection

	Last    uint16
	Samples uint32
}

func newMonitor(ch *adc.ChannelUser, conn *bus.Connection) *Monitor {
	m := &Monitor{ch: ch, conn: conn}
	ch.SetClient(m)
	return m
}

// Sample asks for one conversion; it may be queued behind process reads.
func (m *Monitor) Sample() error { return m.ch.Sample() }

func (m *Monitor) Channel() int { return m.ch.HWChannel() }

func (m *Monitor) SampleReady(v uint16) {
	m.Last = v
	m.Samples++
	m.conn.Publish(m.conn.NewMessage(bus.Topic{bus.S("adc"), bus.I(m.ch.HWChannel())}, types.Reading{
		Kind: types.KindADC,
		Raw:  uint32(v),
		TS:   timex.NowMs(),
	}, true))
}

// thermometer publishes the sensor's temperature readings under
// sensor/temperature.
type thermometer struct {
	conn *bus.Connection
}

func (t *thermometer) TemperatureReady(centiC int32, err error) {
	r := types.Reading{Kind: types.KindTemperature, Centi: centiC, TS: timex.NowMs()}
	if err != nil {
		r.Centi = 0
		r.Error = err.Error()
	}
	t.conn.Publish(t.conn.NewMessage(bus.Topic{bus.S("sensor"), bus.S("temperature")}, r, true))
}
