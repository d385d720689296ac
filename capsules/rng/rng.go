// Package rng fills process buffers with hardware randomness. Requests are
// served in grant allocation order; the source keeps streaming until every
// outstanding request is filled.
package rng

import (
	"encoding/binary"

	"capmux/errcode"
	"capmux/hil/rng"
	"capmux/kernel/process"
	"capmux/kernel/syscall"
	"capmux/x/mathx"
)

type app struct {
	remaining int
	idx       int
}

type Driver struct {
	hw      rng.Rng
	grant   *process.Grant[app]
	getting bool
}

var (
	_ syscall.Driver = (*Driver)(nil)
	_ rng.Client     = (*Driver)(nil)
)

func New(hw rng.Rng, t *process.Table) *Driver {
	d := &Driver{hw: hw, grant: process.NewGrant[app](t, syscall.DriverRNG)}
	hw.SetClient(d)
	return d
}

// Command: 0 probe, 1 fill n bytes of the read-write allow. A repeat
// request replaces the caller's outstanding one. Slot 0 upcall is (0,
// bytes written, 0).
func (d *Driver) Command(num, n, _ uint32, pid process.ID) syscall.Return {
	switch num {
	case syscall.Probe:
		return syscall.Success()
	case 1:
		err := d.grant.Enter(pid, func(a *app, _ *process.KernelData) {
			a.remaining, a.idx = int(n), 0
		})
		if err != nil {
			return syscall.FromErr(err)
		}
		if !d.getting {
			if err := d.hw.Get(); err != nil {
				return syscall.FromErr(err)
			}
			d.getting = true
		}
		return syscall.Success()
	default:
		return syscall.Failure(errcode.Unsupported)
	}
}

func (d *Driver) RandomnessAvailable(words []uint32, err error) rng.Continue {
	if err != nil {
		println("[rng] source error:", err.Error())
	}
	done := true
	d.grant.Each(func(pid process.ID, a *app, kd *process.KernelData) {
		if !done || a.remaining == 0 {
			return
		}
		words = fill(a, kd, words)
		if a.remaining > 0 {
			done = false
			return
		}
		if qerr := kd.Schedule(0, process.Args{B: uint32(a.idx)}); qerr != nil {
			println("[rng] upcall dropped for", pid.String())
		}
	})
	if done {
		d.getting = false
		return rng.Done
	}
	return rng.More
}

// fill copies little-endian words into the app's buffer and returns the
// words left over. A missing or shrunk buffer ends the request early.
func fill(a *app, kd *process.KernelData, words []uint32) []uint32 {
	buf, ok := kd.ReadWrite(0)
	if !ok || buf.Len() < a.idx {
		a.idx, a.remaining = 0, 0
		return words
	}
	a.remaining = mathx.Min(a.remaining, buf.Len()-a.idx)
	need := mathx.CeilDiv(uint(a.remaining), 4)
	take := mathx.Min(int(need), len(words))
	var tmp [4]byte
	for _, w := range words[:take] {
		binary.LittleEndian.PutUint32(tmp[:], w)
		n := copy(buf.Data[a.idx:a.idx+mathx.Min(4, a.remaining)], tmp[:])
		a.idx += n
		a.remaining -= n
	}
	return words[take:]
}
