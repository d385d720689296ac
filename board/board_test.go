package board

import (
	"testing"
	"time"

	"capmux/bus"
	"capmux/errcode"
	"capmux/kernel/process"
	"capmux/kernel/syscall"
	"capmux/services/config"
	"capmux/types"

	"github.com/google/uuid"
)

func load(t *testing.T, name string) *Board {
	t.Helper()
	cfg, err := config.Load(name)
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg)
}

func spawn(t *testing.T, b *Board, name string) *process.Process {
	t.Helper()
	p, err := b.Spawn(name)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func one(t *testing.T, b *Board, p *process.Process) process.Upcall {
	t.Helper()
	us := b.Drain(p)
	if len(us) != 1 {
		t.Fatalf("%s: %d upcalls %+v", p.Name(), len(us), us)
	}
	return us[0]
}

func retained[T any](t *testing.T, b *Board, topic bus.Topic) T {
	t.Helper()
	sub := b.Bus.NewConnection("test").Subscribe(topic)
	defer sub.Unsubscribe()
	select {
	case m := <-sub.Channel():
		return m.Payload.(T)
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("nothing retained on %v", topic)
	}
	var zero T
	return zero
}

func TestBootPublished(t *testing.T) {
	b := load(t, "pico-sim")
	boot := retained[types.Boot](t, b, bus.Topic{bus.S("board"), bus.S("boot")})
	if _, err := uuid.Parse(boot.ID); err != nil || boot.Board != "pico-sim" {
		t.Fatalf("boot %+v", boot)
	}
	if n := len(b.Syscalls.Drivers()); n != 4 {
		t.Fatalf("%d drivers registered", n)
	}
	if r := b.Syscalls.Command(0x99, 0, 0, 0, process.ID{}); r.Err != errcode.NoDevice {
		t.Fatalf("unknown driver: %v", r)
	}
}

func TestSharedADCServesProcessesAndKernel(t *testing.T) {
	b := load(t, "pico-sim")
	p, q := spawn(t, b, "p"), spawn(t, b, "q")

	if r := b.Command(p, syscall.DriverADC, 0, 0, 0); r.U32 != 4 {
		t.Fatalf("channel count %v", r)
	}
	if r := b.Command(p, syscall.DriverADC, 1, 2, 0); !r.OK() {
		t.Fatal(r)
	}
	if r := b.Command(q, syscall.DriverADC, 1, 1, 0); !r.OK() {
		t.Fatal(r)
	}
	mon := b.Monitors[0]
	if err := mon.Sample(); err != nil {
		t.Fatal(err)
	}
	b.Settle()

	up, uq := one(t, b, p), one(t, b, q)
	if up.Args.B != 2 || up.Args.C>>8 != 2 || uq.Args.B != 1 || uq.Args.C>>8 != 1 {
		t.Fatalf("upcalls %+v %+v", up, uq)
	}
	if mon.Samples != 1 || mon.Last>>8 != 3 {
		t.Fatalf("monitor %+v", mon)
	}
	if rd := retained[types.Reading](t, b, bus.Topic{bus.S("adc"), bus.I(3)}); rd.Raw>>8 != 3 {
		t.Fatalf("reading %+v", rd)
	}
}

func TestStaleQueuedStorageRequest(t *testing.T) {
	b := load(t, "pico-sim")
	y, x := spawn(t, b, "y"), spawn(t, b, "x")
	y.AllowReadOnly(syscall.DriverNvStorage, 0, 0x100, []byte("yy"))
	x.AllowReadOnly(syscall.DriverNvStorage, 0, 0x200, []byte("xx"))

	_ = b.Command(y, syscall.DriverNvStorage, 3, 0, 2)
	if r := b.Command(x, syscall.DriverNvStorage, 3, 16, 2); !r.OK() {
		t.Fatal(r)
	}
	_ = b.Procs.Terminate(x.ID())
	b.Settle()

	if u := one(t, b, y); u.Slot != 1 || u.Args.A != 2 {
		t.Fatalf("y upcall %+v", u)
	}
	if x.PendingUpcalls() != 0 || b.NV.Arbiter().Busy() || b.HW.Flash.Writes != 1 {
		t.Fatal("x's queued write must be skipped and the driver left idle")
	}

	b.Telemetry.Snapshot()
	st := retained[types.MuxStats](t, b, bus.Topic{bus.S("mux"), bus.S("nv0"), bus.S("stats")})
	if st.Completed != 1 || st.Started != 1 {
		t.Fatalf("stats %+v", st)
	}
}

func TestHumidityAndRandomness(t *testing.T) {
	b := load(t, "pico-sim")
	p := spawn(t, b, "p")

	if r := b.Command(p, syscall.DriverHumidity, 1, 0, 0); !r.OK() {
		t.Fatal(r)
	}
	b.Settle()
	b.Advance(80)
	b.Advance(15)
	if u := one(t, b, p); u.Driver != syscall.DriverHumidity || u.Args.A != 5500 {
		t.Fatalf("humidity upcall %+v", u)
	}

	buf := make([]byte, 8)
	p.AllowReadWrite(syscall.DriverRNG, 0, 0x400, buf)
	_ = b.Command(p, syscall.DriverRNG, 1, 8, 0)
	b.Settle()
	if u := one(t, b, p); u.Args.B != 8 {
		t.Fatalf("rng upcall %+v", u)
	}
}

func TestPinTimeoutHandsOverTimer(t *testing.T) {
	b := load(t, "pico-sim")
	buzzer, led := b.Pins[2], b.Pins[3]
	_ = buzzer.Start(440, 50)
	_ = led.Start(220, 25)
	b.Timeouts[2].Arm(100)

	b.Advance(99)
	if !buzzer.Active() {
		t.Fatal("stopped early")
	}
	b.Advance(1)
	if !led.Active() || b.HW.PWM.Violations != 0 {
		t.Fatal("led should own the timer")
	}
	st := retained[types.MuxState](t, b, bus.Topic{bus.S("mux"), bus.S("pwm0"), bus.S("state")})
	if st.Event != "started" || !st.Busy {
		t.Fatalf("state %+v", st)
	}
}

func TestScopeBoardDedicatedCapture(t *testing.T) {
	b := load(t, "pico-scope")
	p, q := spawn(t, b, "scope"), spawn(t, b, "other")
	buf := make([]byte, 600)
	p.AllowReadWrite(syscall.DriverADC, 0, 0x2000_0000, buf)

	if r := b.Command(p, syscall.DriverADC, 3, 1, 1000); !r.OK() {
		t.Fatal(r)
	}
	if r := b.Command(q, syscall.DriverADC, 1, 0, 0); r.Err != errcode.NoMemory {
		t.Fatalf("second process: %v", r)
	}
	b.Settle()
	b.TickADC(5)

	u := one(t, b, p)
	if u.Args.A != 2 || u.Args.B != 300<<8|1 || u.Args.C != 0x2000_0000 {
		t.Fatalf("capture upcall %+v", u)
	}
	if a := b.Dedicated.Pool().Audit(); a.Free != 3 {
		t.Fatalf("pool %+v", a)
	}
	if b.ADCMux != nil || len(b.Monitors) != 0 {
		t.Fatal("dedicated board has no shared converter")
	}
}
