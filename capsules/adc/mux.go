package adc

import (
	"capmux/hil/adc"
	"capmux/mux"
)

// Op is a kernel channel request: one sample on Channel, or Stop.
type Op struct {
	Channel int
	Stop    bool
}

func (o Op) IsStop() bool { return o.Stop }

type kclient = *mux.Client[Op]

// Mux shares one converter among kernel users. Each ChannelUser is bound to
// a hardware channel and may have one sample request queued.
type Mux struct {
	hw    adc.ADC
	reg   *mux.Registry[Op]
	arb   *mux.Arbiter[kclient, Op]
	users []*ChannelUser
}

func NewMux(name string, hw adc.ADC) *Mux {
	m := &Mux{hw: hw, reg: mux.NewRegistry[Op]()}
	m.arb = mux.New[kclient, Op](name, m, m.reg)
	hw.SetClient(m)
	return m
}

func (m *Mux) Arbiter() *mux.Arbiter[kclient, Op] { return m.arb }

// NewChannel registers a kernel user of hardware channel ch.
func (m *Mux) NewChannel(ch int) *ChannelUser {
	u := &ChannelUser{m: m, c: m.reg.Register(), ch: ch}
	m.users = append(m.users, u)
	return u
}

func (m *Mux) Start(_ kclient, op Op) error { return m.hw.SampleOnce(op.Channel) }

func (m *Mux) Abort(kclient) (bool, error) { return false, m.hw.Stop() }

func (m *Mux) SampleReady(sample uint16) {
	m.arb.Complete(nil, func(c kclient) {
		if cl := m.users[c.Index()].client; cl != nil {
			cl.SampleReady(sample)
		}
	})
}

// ChannelUser is one kernel client's view of a single channel.
type ChannelUser struct {
	m      *Mux
	c      kclient
	ch     int
	client adc.Client
}

var _ adc.Channel = (*ChannelUser)(nil)

func (u *ChannelUser) SetClient(c adc.Client) { u.client = c }

// Sample starts or queues a single conversion. The result arrives through
// the client's SampleReady.
func (u *ChannelUser) Sample() error {
	r := u.m.arb.Request(u.c, Op{Channel: u.ch})
	if r.Outcome == mux.Rejected {
		return r.Err
	}
	return nil
}

func (u *ChannelUser) Stop() error {
	r := u.m.arb.Request(u.c, Op{Stop: true})
	if r.Outcome == mux.Rejected {
		return r.Err
	}
	return nil
}

func (u *ChannelUser) ResolutionBits() uint32      { return u.m.hw.ResolutionBits() }
func (u *ChannelUser) ReferenceMV() (uint32, bool) { return u.m.hw.ReferenceMV() }
func (u *ChannelUser) HWChannel() int              { return u.ch }
