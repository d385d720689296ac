// Package board wires simulated peripherals, the capsules that share them
// and the process command table into one kernel instance, as described by
// a config.Board.
package board

import (
	"context"
	"time"

	"capmux/bus"
	"capmux/capsules/adc"
	"capmux/capsules/aht20"
	"capmux/capsules/alarmstop"
	"capmux/capsules/humidity"
	"capmux/capsules/i2cmux"
	"capmux/capsules/nvstorage"
	"capmux/capsules/pwm"
	"capmux/capsules/rng"
	"capmux/drivers/i2cbus"
	"capmux/drivers/sim"
	hiladc "capmux/hil/adc"
	"capmux/kernel/loop"
	"capmux/kernel/process"
	"capmux/kernel/syscall"
	"capmux/services/config"
	"capmux/services/telemetry"
	"capmux/types"
	"capmux/x/timex"

	"github.com/google/uuid"
)

// Hardware is the set of simulated peripherals behind the capsules.
type Hardware struct {
	PWM    *sim.PWM
	ADC    *sim.ADC
	Flash  *sim.Flash
	I2C    *sim.I2CBus
	AHT20  *sim.AHT20
	RNG    *sim.RNG
	Alarms []*sim.Alarm
}

type Board struct {
	Cfg    config.Board
	BootID uuid.UUID

	Loop      *loop.Loop
	Procs     *process.Table
	Syscalls  *syscall.Table
	Bus       *bus.Bus
	Telemetry *telemetry.Service
	HW        Hardware

	PWM      *pwm.Mux
	Pins     map[int]*pwm.Pin
	Timeouts map[int]*alarmstop.Timeout

	ADCMux      *adc.Mux
	Virtualized *adc.Virtualized
	Dedicated   *adc.Dedicated
	Monitors    []*Monitor

	NV       *nvstorage.Storage
	I2CMux   *i2cmux.Mux
	Sensor   *aht20.Sensor
	Humidity *humidity.Driver
	RNG      *rng.Driver

	conn *bus.Connection
}

// New builds the board. It panics on a config that Validate would reject,
// like any other wiring mistake.
func New(cfg config.Board) *Board {
	if err := cfg.Validate(); err != nil {
		panic("board: " + err.Error())
	}
	b := &Board{
		Cfg:      cfg,
		BootID:   uuid.New(),
		Loop:     loop.New(cfg.LoopDepth),
		Procs:    process.NewTable(cfg.Processes.Max, cfg.Processes.UpcallQueue),
		Syscalls: syscall.NewTable(),
		Bus:      bus.NewBus(cfg.Telemetry.Queue),
		Pins:     map[int]*pwm.Pin{},
		Timeouts: map[int]*alarmstop.Timeout{},
	}
	b.conn = b.Bus.NewConnection("board")
	b.Telemetry = telemetry.New(b.Bus.NewConnection("telemetry"))
	b.Telemetry.Processes(b.Procs)

	b.wirePWM()
	b.wireADC()
	b.wireStorage()
	b.wireSensors()
	b.wireRNG()

	config.Publish(b.conn, cfg)
	b.conn.Publish(b.conn.NewMessage(bus.Topic{bus.S("board"), bus.S("boot")}, types.Boot{
		ID:    b.BootID.String(),
		Board: cfg.Name,
		TS:    timex.NowMs(),
	}, true))
	println("[board]", cfg.Name, "up, drivers:", len(b.Syscalls.Drivers()))
	return b
}

func (b *Board) newAlarm() *sim.Alarm {
	a := sim.NewAlarm(b.Loop, b.Cfg.TicksPerMs)
	b.HW.Alarms = append(b.HW.Alarms, a)
	return a
}

func (b *Board) wirePWM() {
	if len(b.Cfg.PWM.Pins) == 0 {
		return
	}
	top := 0
	for _, p := range b.Cfg.PWM.Pins {
		top = max(top, p+1)
	}
	b.HW.PWM = sim.NewPWM(top, b.Cfg.PWM.MaxFreqHz, b.Cfg.PWM.MaxDuty)
	b.PWM = pwm.NewMux("pwm0", b.HW.PWM)
	b.Telemetry.Watch(b.PWM.Arbiter())
	for _, p := range b.Cfg.PWM.Pins {
		pin := b.PWM.NewPin(p)
		b.Pins[p] = pin
		b.Timeouts[p] = alarmstop.New(b.newAlarm(), pin)
	}
}

func (b *Board) wireADC() {
	c := b.Cfg.ADC
	if c.Channels == 0 {
		return
	}
	b.HW.ADC = sim.NewADC(b.Loop, c.Channels, c.Bits, c.ReferenceMV)
	if c.Dedicated {
		b.Dedicated = adc.NewDedicated(b.HW.ADC, b.Procs)
		b.Syscalls.Register(syscall.DriverADC, b.Dedicated)
		return
	}
	b.ADCMux = adc.NewMux("adc0", b.HW.ADC)
	b.Telemetry.Watch(b.ADCMux.Arbiter())
	chans := make([]hiladc.Channel, c.Channels)
	for i := range chans {
		chans[i] = b.ADCMux.NewChannel(i)
	}
	b.Virtualized = adc.NewVirtualized("adc0.proc", chans, b.Procs)
	b.Telemetry.Watch(b.Virtualized.Arbiter())
	b.Syscalls.Register(syscall.DriverADC, b.Virtualized)
	for _, ch := range c.KernelChannels {
		b.Monitors = append(b.Monitors, newMonitor(b.ADCMux.NewChannel(ch), b.conn))
	}
}

func (b *Board) wireStorage() {
	nv := b.Cfg.NVStorage
	if nv.Size == 0 {
		return
	}
	b.HW.Flash = sim.NewFlash(b.Loop, nv.Size.Int())
	b.NV = nvstorage.New("nv0", b.HW.Flash, b.Procs, nvstorage.Config{
		UserStart:   nv.UserStart.Int(),
		UserLen:     nv.UserLen.Int(),
		KernelStart: nv.KernelStart.Int(),
		KernelLen:   nv.KernelLen.Int(),
		BufferLen:   nv.Buffer.Int(),
	})
	b.Telemetry.Watch(b.NV.Arbiter())
	b.Syscalls.Register(syscall.DriverNvStorage, b.NV)
}

func (b *Board) wireSensors() {
	c := b.Cfg.AHT20
	if !c.Enabled {
		return
	}
	b.HW.I2C = sim.NewI2CBus()
	b.HW.AHT20 = sim.NewAHT20()
	b.HW.I2C.Attach(c.Address, b.HW.AHT20)
	b.I2CMux = i2cmux.NewMux("i2c0", i2cbus.New(b.HW.I2C, b.Loop))
	b.Telemetry.Watch(b.I2CMux.Arbiter())
	b.Sensor = aht20.New(b.I2CMux.NewDevice(c.Address), b.newAlarm(), aht20.Config{
		PollInterval:   time.Duration(c.PollMs) * time.Millisecond,
		CollectTimeout: time.Duration(c.TimeoutMs) * time.Millisecond,
		TriggerHint:    time.Duration(c.TriggerMs) * time.Millisecond,
	})
	b.Sensor.SetTemperatureClient(&thermometer{conn: b.conn})
	b.Humidity = humidity.New(b.Sensor, b.Procs)
	b.Syscalls.Register(syscall.DriverHumidity, b.Humidity)
}

func (b *Board) wireRNG() {
	b.HW.RNG = sim.NewRNG(b.Loop, b.Cfg.RNGSeed)
	b.RNG = rng.New(b.HW.RNG, b.Procs)
	b.Syscalls.Register(syscall.DriverRNG, b.RNG)
}

// Conn is the board's own bus connection.
func (b *Board) Conn() *bus.Connection { return b.conn }

// Spawn starts a process.
func (b *Board) Spawn(name string) (*process.Process, error) {
	return b.Procs.Spawn(name)
}

// Command issues a process command and publishes the result under
// proc/<index>/command.
func (b *Board) Command(p *process.Process, driver, num, a1, a2 uint32) syscall.Return {
	r := b.Syscalls.Command(driver, num, a1, a2, p.ID())
	b.conn.Publish(b.conn.NewMessage(bus.Topic{bus.S("proc"), bus.I(p.ID().Index()), bus.S("command")}, types.CommandResult{
		Driver:  driver,
		Command: num,
		Result:  r.String(),
		Value:   r.U32,
	}, false))
	return r
}

// Drain pops every queued upcall for p, publishing each one.
func (b *Board) Drain(p *process.Process) []process.Upcall {
	var out []process.Upcall
	for {
		u, ok := p.NextUpcall()
		if !ok {
			return out
		}
		out = append(out, u)
		b.conn.Publish(b.conn.NewMessage(bus.Topic{bus.S("proc"), bus.I(p.ID().Index()), bus.S("upcall")}, types.Upcall{
			Driver: u.Driver,
			Slot:   u.Slot,
			A:      u.Args.A,
			B:      u.Args.B,
			C:      u.Args.C,
		}, false))
	}
}

// Advance moves every alarm forward by ms and services what fires. Use it
// only when the loop is not running in Run.
func (b *Board) Advance(ms uint32) {
	ticks := timex.MsToTicks(ms, b.Cfg.TicksPerMs)
	for _, a := range b.HW.Alarms {
		a.Advance(ticks)
	}
	b.Loop.RunUntilIdle()
}

// TickADC runs n conversion periods of a continuous or buffered capture.
func (b *Board) TickADC(n int) {
	if b.HW.ADC == nil {
		return
	}
	for i := 0; i < n; i++ {
		b.HW.ADC.Tick()
		b.Loop.RunUntilIdle()
	}
}

// Settle runs the loop until nothing is pending.
func (b *Board) Settle() int { return b.Loop.RunUntilIdle() }

// Run services the loop and publishes telemetry every interval until ctx
// ends.
func (b *Board) Run(ctx context.Context, interval time.Duration) {
	go b.Telemetry.Run(ctx, b.Loop, interval)
	b.Loop.Run(ctx)
}
