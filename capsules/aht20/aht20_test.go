package aht20

import (
	"testing"
	"time"

	"capmux/capsules/i2cmux"
	"capmux/drivers/i2cbus"
	"capmux/drivers/sim"
	"capmux/kernel/loop"
)

type readings struct {
	hum  []uint32
	temp []int32
	errs []error
}

func (r *readings) HumidityReady(v uint32, err error) {
	r.hum = append(r.hum, v)
	r.errs = append(r.errs, err)
}

func (r *readings) TemperatureReady(v int32, err error) {
	r.temp = append(r.temp, v)
	r.errs = append(r.errs, err)
}

type rig struct {
	l     *loop.Loop
	bus   *sim.I2CBus
	chip  *sim.AHT20
	alarm *sim.Alarm
	s     *Sensor
	got   *readings
}

func newRig(cfg Config) *rig {
	l := loop.New(16)
	bus := sim.NewI2CBus()
	chip := sim.NewAHT20()
	bus.Attach(Address, chip)
	m := i2cmux.NewMux("i2c0", i2cbus.New(bus, l))
	a := sim.NewAlarm(l, 1)
	s := New(m.NewDevice(Address), a, cfg)
	got := &readings{}
	s.SetHumidityClient(got)
	s.SetTemperatureClient(got)
	return &rig{l: l, bus: bus, chip: chip, alarm: a, s: s, got: got}
}

func TestSampleConversions(t *testing.T) {
	s := Sample{RawHumidity: 576_717, RawTemp: 393_216}
	if s.DeciRelHumidity() != 550 || s.DeciCelsius() != 250 {
		t.Fatalf("deci %d %d", s.DeciRelHumidity(), s.DeciCelsius())
	}
	if s.CentiRelHumidity() != 5500 || s.CentiCelsius() != 2500 {
		t.Fatalf("centi %d %d", s.CentiRelHumidity(), s.CentiCelsius())
	}
	if (Sample{RawTemp: 0}).CentiCelsius() != -5000 {
		t.Fatal("zero raw temperature is -50 C")
	}
}

func TestParseRejectsBusyFrame(t *testing.T) {
	if _, ok := parse([]byte{0x88, 0, 0, 0, 0, 0, 0}); ok {
		t.Fatal("busy frame accepted")
	}
	if _, ok := parse([]byte{0x00, 0, 0, 0, 0, 0, 0}); ok {
		t.Fatal("uncalibrated frame accepted")
	}
	s, ok := parse([]byte{0x08, 0x8C, 0xCC, 0xD6, 0x00, 0x00, 0})
	if !ok || s.RawHumidity != 0x8CCCD || s.RawTemp != 0x60000 {
		t.Fatalf("parsed %+v", s)
	}
}

func TestOneMeasurementServesBothReaders(t *testing.T) {
	r := newRig(Config{})
	if err := r.s.ReadHumidity(); err != nil {
		t.Fatal(err)
	}
	if err := r.s.ReadTemperature(); err != nil {
		t.Fatal(err)
	}
	r.l.RunUntilIdle()
	if !r.alarm.Armed() || r.chip.Triggers != 1 {
		t.Fatalf("should be waiting after one trigger, triggers=%d", r.chip.Triggers)
	}

	// First collect finds the sensor busy and schedules a poll.
	r.alarm.Advance(80)
	r.l.RunUntilIdle()
	if len(r.got.errs) != 0 || !r.alarm.Armed() {
		t.Fatal("busy frame should lead to a poll")
	}
	r.alarm.Advance(15)
	r.l.RunUntilIdle()

	if len(r.got.hum) != 1 || r.got.hum[0] != 5500 || len(r.got.temp) != 1 || r.got.temp[0] != 2500 {
		t.Fatalf("readings %+v", r.got)
	}
	if r.got.errs[0] != nil || r.got.errs[1] != nil {
		t.Fatalf("errors %v", r.got.errs)
	}
	if r.s.Last().RawHumidity != 576_717 {
		t.Fatal("last sample not kept")
	}
}

func TestUncalibratedSensorInitialised(t *testing.T) {
	r := newRig(Config{})
	r.chip.Calibrated = false
	r.chip.BusyReads = 0
	_ = r.s.ReadTemperature()
	r.l.RunUntilIdle()
	if !r.chip.Calibrated {
		t.Fatal("initialise command not sent")
	}
	r.alarm.Advance(80)
	r.l.RunUntilIdle()
	if len(r.got.temp) != 1 || r.got.errs[0] != nil {
		t.Fatalf("readings %+v", r.got)
	}
}

func TestCollectTimesOut(t *testing.T) {
	r := newRig(Config{CollectTimeout: 100 * time.Millisecond, PollInterval: 10 * time.Millisecond})
	r.chip.BusyReads = 1000
	_ = r.s.ReadHumidity()
	r.l.RunUntilIdle()
	for i := 0; i < 20 && len(r.got.errs) == 0; i++ {
		r.alarm.Advance(10)
		r.l.RunUntilIdle()
	}
	if len(r.got.errs) != 1 || r.got.errs[0] != ErrTimeout {
		t.Fatalf("errs %v", r.got.errs)
	}
	// The sensor is usable again.
	r.chip.BusyReads = 0
	_ = r.s.ReadHumidity()
	r.l.RunUntilIdle()
	r.alarm.Advance(80)
	r.l.RunUntilIdle()
	if len(r.got.errs) != 2 || r.got.errs[1] != nil {
		t.Fatalf("second read %v", r.got.errs)
	}
}

func TestMissingSensorReportsBusError(t *testing.T) {
	r := newRig(Config{})
	r.bus.Detach(Address)
	_ = r.s.ReadHumidity()
	r.l.RunUntilIdle()
	if len(r.got.errs) != 1 || r.got.errs[0] != sim.ErrNack {
		t.Fatalf("errs %v", r.got.errs)
	}
}
