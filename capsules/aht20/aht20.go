// Package aht20 drives the AHT20 temperature/humidity sensor over a shared
// I2C bus without blocking. A measurement runs as a chain of bus
// transfers and alarm waits:
//
//	status -> (initialise) -> trigger -> wait -> collect [-> poll -> collect]
//
// One measurement answers both the humidity and the temperature reader,
// whichever asked first.
package aht20

import (
	"time"

	"capmux/errcode"
	"capmux/hil/alarm"
	"capmux/hil/i2c"
	"capmux/hil/sensors"
	"capmux/kernel/cells"
	"capmux/x/timex"
)

// I2C address.
const Address = 0x38

const (
	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08

	frameLen = 7
)

var ErrTimeout = &errcode.E{C: errcode.Fail, Op: "aht20", Msg: "timeout"}

// Config controls timing. All fields are optional.
type Config struct {
	// PollInterval is the wait between collect attempts while the sensor
	// reports busy. Default 15 ms.
	PollInterval time.Duration
	// CollectTimeout bounds the time from trigger to a ready frame.
	// Default 250 ms.
	CollectTimeout time.Duration
	// TriggerHint is the nominal conversion time. Default 80 ms.
	TriggerHint time.Duration
}

type state uint8

const (
	idle state = iota
	readStatus
	initialise
	trigger
	waiting
	collect
)

// Sample holds raw readings.
type Sample struct {
	RawHumidity uint32
	RawTemp     uint32
}

func (s Sample) DeciRelHumidity() int32 {
	return int32(uint64(s.RawHumidity) * 1000 / 0x100000)
}

func (s Sample) DeciCelsius() int32 {
	return int32(uint64(s.RawTemp)*2000/0x100000) - 500
}

// CentiRelHumidity is the humidity in hundredths of a percent.
func (s Sample) CentiRelHumidity() uint32 {
	return uint32(uint64(s.RawHumidity) * 10000 / 0x100000)
}

// CentiCelsius is the temperature in hundredths of a degree.
func (s Sample) CentiCelsius() int32 {
	return int32(uint64(s.RawTemp)*20000/0x100000) - 5000
}

// parse decodes a data frame. ready is false while the sensor is still
// converting or uncalibrated.
func parse(b []byte) (s Sample, ready bool) {
	if b[0]&statusCalibrated == 0 || b[0]&statusBusy != 0 {
		return Sample{}, false
	}
	s.RawHumidity = uint32(b[1])<<12 | uint32(b[2])<<4 | uint32(b[3])>>4
	s.RawTemp = uint32(b[3]&0x0F)<<16 | uint32(b[4])<<8 | uint32(b[5])
	return s, true
}

type Sensor struct {
	dev   i2c.Device
	alarm alarm.Alarm
	cfg   Config

	buf   cells.TakeCell[*cells.Buffer[byte]]
	state state
	// started is the alarm tick of the trigger, for the collect timeout.
	started uint32

	wantHum, wantTemp bool
	hclient           sensors.HumidityClient
	tclient           sensors.TemperatureClient

	last Sample
}

var (
	_ sensors.HumidityDriver    = (*Sensor)(nil)
	_ sensors.TemperatureDriver = (*Sensor)(nil)
	_ i2c.Client                = (*Sensor)(nil)
	_ alarm.Client              = (*Sensor)(nil)
)

// New binds the driver to its bus device and a dedicated alarm.
func New(dev i2c.Device, a alarm.Alarm, cfg Config) *Sensor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 250 * time.Millisecond
	}
	if cfg.TriggerHint <= 0 {
		cfg.TriggerHint = 80 * time.Millisecond
	}
	s := &Sensor{
		dev:   dev,
		alarm: a,
		cfg:   cfg,
		buf:   cells.NewTakeCell(cells.NewBuffer[byte](0, frameLen)),
	}
	dev.SetClient(s)
	a.SetClient(s)
	return s
}

func (s *Sensor) SetHumidityClient(c sensors.HumidityClient)       { s.hclient = c }
func (s *Sensor) SetTemperatureClient(c sensors.TemperatureClient) { s.tclient = c }

// Last is the most recent good sample.
func (s *Sensor) Last() Sample { return s.last }

func (s *Sensor) ReadHumidity() error {
	if err := s.begin(); err != nil {
		return err
	}
	s.wantHum = true
	return nil
}

func (s *Sensor) ReadTemperature() error {
	if err := s.begin(); err != nil {
		return err
	}
	s.wantTemp = true
	return nil
}

// begin starts a measurement unless one is already running.
func (s *Sensor) begin() error {
	if s.state != idle {
		return nil
	}
	b, ok := s.buf.Take()
	if !ok {
		return errcode.Busy
	}
	b.Data()[0] = cmdStatus
	if err := s.dev.WriteRead(b, 1, 1); err != nil {
		s.buf.Replace(b)
		return err
	}
	s.state = readStatus
	return nil
}

func (s *Sensor) ticks(d time.Duration) uint32 {
	return timex.MsToTicks(uint32(d.Milliseconds()), s.alarm.TicksPerMs())
}

func (s *Sensor) CommandComplete(b *cells.Buffer[byte], err error) {
	if err != nil {
		s.buf.Replace(b)
		s.finish(Sample{}, err)
		return
	}
	switch s.state {
	case readStatus:
		if b.Data()[0]&statusCalibrated != 0 {
			s.sendTrigger(b)
			return
		}
		copy(b.Data(), []byte{cmdInitialize, 0x08, 0x00})
		s.next(initialise, b, s.dev.Write(b, 3))
	case initialise:
		s.sendTrigger(b)
	case trigger:
		s.buf.Replace(b)
		s.started = s.alarm.Now()
		s.state = waiting
		s.alarm.Set(s.started, s.ticks(s.cfg.TriggerHint))
	case collect:
		smp, ready := parse(b.Data())
		s.buf.Replace(b)
		if ready {
			s.finish(smp, nil)
			return
		}
		if s.alarm.Now()-s.started >= s.ticks(s.cfg.CollectTimeout) {
			s.finish(Sample{}, ErrTimeout)
			return
		}
		s.state = waiting
		s.alarm.Set(s.alarm.Now(), s.ticks(s.cfg.PollInterval))
	default:
		s.buf.Replace(b)
		println("[aht20] unexpected completion in state", uint8(s.state))
	}
}

func (s *Sensor) sendTrigger(b *cells.Buffer[byte]) {
	copy(b.Data(), []byte{cmdTrigger, 0x33, 0x00})
	s.next(trigger, b, s.dev.Write(b, 3))
}

// next records the state a transfer moves to, or fails the measurement if
// the bus refused it.
func (s *Sensor) next(st state, b *cells.Buffer[byte], err error) {
	if err != nil {
		s.buf.Replace(b)
		s.finish(Sample{}, err)
		return
	}
	s.state = st
}

func (s *Sensor) AlarmFired() {
	if s.state != waiting {
		return
	}
	b, ok := s.buf.Take()
	if !ok {
		s.finish(Sample{}, errcode.Busy)
		return
	}
	s.next(collect, b, s.dev.Read(b, frameLen))
}

func (s *Sensor) finish(smp Sample, err error) {
	s.state = idle
	if err == nil {
		s.last = smp
	}
	hum, temp := s.wantHum, s.wantTemp
	s.wantHum, s.wantTemp = false, false
	if hum && s.hclient != nil {
		s.hclient.HumidityReady(smp.CentiRelHumidity(), err)
	}
	if temp && s.tclient != nil {
		s.tclient.TemperatureReady(smp.CentiCelsius(), err)
	}
}
