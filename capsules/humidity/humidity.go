// Package humidity exposes a humidity sensor to processes. A read is a
// subscription: every process that asks while a reading is in progress is
// answered by that same reading, one upcall each.
package humidity

import (
	"capmux/errcode"
	"capmux/hil/sensors"
	"capmux/kernel/process"
	"capmux/kernel/syscall"
)

type app struct {
	subscribed bool
}

type Driver struct {
	hw    sensors.HumidityDriver
	grant *process.Grant[app]
	busy  bool

	// Readings counts completed sensor reads.
	Readings uint32
}

var (
	_ syscall.Driver         = (*Driver)(nil)
	_ sensors.HumidityClient = (*Driver)(nil)
)

func New(hw sensors.HumidityDriver, t *process.Table) *Driver {
	d := &Driver{hw: hw, grant: process.NewGrant[app](t, syscall.DriverHumidity)}
	hw.SetHumidityClient(d)
	return d
}

// Command: 0 probe, 1 read. The upcall on slot 0 carries the reading in
// hundredths of a percent and the error word.
func (d *Driver) Command(num, _, _ uint32, pid process.ID) syscall.Return {
	switch num {
	case syscall.Probe:
		return syscall.Success()
	case 1:
		return syscall.FromErr(d.read(pid))
	default:
		return syscall.Failure(errcode.Unsupported)
	}
}

func (d *Driver) read(pid process.ID) error {
	err := d.grant.Enter(pid, func(a *app, _ *process.KernelData) { a.subscribed = true })
	if err != nil || d.busy {
		return err
	}
	if err := d.hw.ReadHumidity(); err != nil {
		_ = d.grant.Enter(pid, func(a *app, _ *process.KernelData) { a.subscribed = false })
		return err
	}
	d.busy = true
	return nil
}

func (d *Driver) HumidityReady(centiPercent uint32, err error) {
	d.busy = false
	d.Readings++
	if err != nil {
		centiPercent = 0
	}
	d.grant.Each(func(pid process.ID, a *app, kd *process.KernelData) {
		if !a.subscribed {
			return
		}
		a.subscribed = false
		if qerr := kd.Schedule(0, process.Args{A: centiPercent, B: errcode.Of(err).Word()}); qerr != nil {
			println("[humidity] upcall dropped for", pid.String())
		}
	})
}
