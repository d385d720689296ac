package adc

import (
	"capmux/errcode"
	"capmux/hil/adc"
	"capmux/kernel/cells"
	"capmux/kernel/process"
	"capmux/kernel/syscall"
	"capmux/mux"
)

// Upcall modes, shared by both process-facing drivers.
type Mode int32

const (
	NoMode           Mode = -1
	SingleSample     Mode = 0
	ContinuousSample Mode = 1
	SingleBuffer     Mode = 2
	ContinuousBuffer Mode = 3
)

type vop struct {
	ch int
}

func (vop) IsStop() bool { return false }

type virtApp struct {
	pending cells.OptionalCell[vop]
}

// Virtualized gives every process single-sample access to a set of
// channels. Each process may have one request queued; requests are served
// in grant allocation order.
type Virtualized struct {
	channels []adc.Channel
	grant    *process.Grant[virtApp]
	arb      *mux.Arbiter[process.ID, vop]
	cur      int
}

var _ syscall.Driver = (*Virtualized)(nil)

func NewVirtualized(name string, channels []adc.Channel, t *process.Table) *Virtualized {
	v := &Virtualized{
		channels: channels,
		grant:    process.NewGrant[virtApp](t, syscall.DriverADC),
	}
	q := mux.NewGrantQueue(v.grant, func(a *virtApp) *cells.OptionalCell[vop] { return &a.pending })
	v.arb = mux.New[process.ID, vop](name, v, q)
	for _, ch := range channels {
		ch.SetClient(v)
	}
	return v
}

func (v *Virtualized) Arbiter() *mux.Arbiter[process.ID, vop] { return v.arb }

func (v *Virtualized) Start(_ process.ID, op vop) error {
	if err := v.channels[op.ch].Sample(); err != nil {
		return err
	}
	v.cur = op.ch
	return nil
}

func (v *Virtualized) SampleReady(sample uint16) {
	ch := v.cur
	v.arb.Complete(nil, func(pid process.ID) {
		_ = v.grant.Enter(pid, func(_ *virtApp, kd *process.KernelData) {
			_ = kd.Schedule(0, process.Args{A: uint32(SingleSample), B: uint32(ch), C: uint32(sample)})
		})
	})
}

func (v *Virtualized) Command(num, arg1, _ uint32, pid process.ID) syscall.Return {
	ch := int(arg1)
	switch num {
	case syscall.Probe:
		return syscall.SuccessU32(uint32(len(v.channels)))
	case 1:
		if ch >= len(v.channels) {
			return syscall.Failure(errcode.NoDevice)
		}
		r := v.arb.Request(pid, vop{ch: ch})
		if r.Outcome == mux.Rejected {
			return syscall.Failure(r.Code())
		}
		return syscall.Success()
	case 101:
		if ch >= len(v.channels) {
			return syscall.Failure(errcode.NoDevice)
		}
		return syscall.SuccessU32(v.channels[ch].ResolutionBits())
	case 102:
		if ch >= len(v.channels) {
			return syscall.Failure(errcode.NoDevice)
		}
		if mv, ok := v.channels[ch].ReferenceMV(); ok {
			return syscall.SuccessU32(mv)
		}
		return syscall.Failure(errcode.Unsupported)
	default:
		return syscall.Failure(errcode.Unsupported)
	}
}
