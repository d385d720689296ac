package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"capmux/board"
	"capmux/kernel/process"
	"capmux/kernel/syscall"
	"capmux/mux"

	"github.com/google/shlex"
)

var (
	errUsage   = errors.New("usage")
	errNoProc  = errors.New("no such process name")
	errNoPin   = errors.New("no such pwm pin")
	errNoParts = errors.New("not wired on this board")
)

var driverNames = map[string]uint32{
	"adc":      syscall.DriverADC,
	"pwm":      syscall.DriverPWM,
	"rng":      syscall.DriverRNG,
	"nv":       syscall.DriverNvStorage,
	"humidity": syscall.DriverHumidity,
}

const help = `spawn <name>
kill <name> | restart <name>
allow rw <name> <driver> <slot> <len>
allow ro <name> <driver> <slot> <text>
cmd <name> <driver> <num> [arg1] [arg2]
drain <name>
dump <name> <driver> <slot>
pwm start <pin> <freq> <duty> | pwm stop <pin>
timeout <pin> <ms>
adc <channel>
temp
advance <ms> | tick <n>
stats`

// shell runs board commands, one line at a time. Every command leaves the
// loop idle so results are deterministic.
type shell struct {
	b     *board.Board
	out   io.Writer
	procs map[string]*process.Process
	rw    map[string][]byte
}

func newShell(b *board.Board, out io.Writer) *shell {
	return &shell{b: b, out: out, procs: map[string]*process.Process{}, rw: map[string][]byte{}}
}

func (s *shell) printf(format string, a ...any) { fmt.Fprintf(s.out, format, a...) }

// Exec runs one line. Blank lines and # comments are ignored.
func (s *shell) Exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	defer s.b.Settle()
	switch args[0] {
	case "help":
		s.printf("%s\n", help)
		return nil
	case "spawn":
		return s.spawn(args[1:])
	case "kill", "restart":
		return s.lifecycle(args[0], args[1:])
	case "allow":
		return s.allow(args[1:])
	case "cmd":
		return s.command(args[1:])
	case "drain":
		return s.drain(args[1:])
	case "dump":
		return s.dump(args[1:])
	case "pwm":
		return s.pwm(args[1:])
	case "timeout":
		return s.timeout(args[1:])
	case "adc":
		return s.adc(args[1:])
	case "temp":
		if s.b.Sensor == nil {
			return errNoParts
		}
		return s.b.Sensor.ReadTemperature()
	case "advance":
		ms, err := u32(args, 1)
		if err != nil {
			return err
		}
		s.b.Advance(ms)
		return nil
	case "tick":
		n, err := u32(args, 1)
		if err != nil {
			return err
		}
		s.b.TickADC(int(n))
		return nil
	case "stats":
		s.b.Telemetry.Snapshot()
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func u32(args []string, i int) (uint32, error) {
	if i >= len(args) {
		return 0, errUsage
	}
	v, err := strconv.ParseUint(args[i], 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func driver(name string) (uint32, error) {
	if d, ok := driverNames[name]; ok {
		return d, nil
	}
	v, err := strconv.ParseUint(name, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: driver %q", errUsage, name)
	}
	return uint32(v), nil
}

func (s *shell) proc(name string) (*process.Process, error) {
	p, ok := s.procs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNoProc, name)
	}
	return p, nil
}

func (s *shell) spawn(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	p, err := s.b.Spawn(args[0])
	if err != nil {
		return err
	}
	s.procs[args[0]] = p
	s.printf("%s = %s\n", args[0], p.ID())
	return nil
}

func (s *shell) lifecycle(verb string, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	if verb == "kill" {
		return s.b.Procs.Terminate(p.ID())
	}
	np, err := s.b.Procs.Restart(p.ID())
	if err != nil {
		return err
	}
	s.procs[args[0]] = np
	s.printf("%s = %s\n", args[0], np.ID())
	return nil
}

func (s *shell) allow(args []string) error {
	if len(args) != 5 {
		return errUsage
	}
	p, err := s.proc(args[1])
	if err != nil {
		return err
	}
	d, err := driver(args[2])
	if err != nil {
		return err
	}
	slot, err := u32(args, 3)
	if err != nil {
		return err
	}
	// Fake process addresses: distinct per driver and slot.
	addr := 0x2000_0000 | (d&0xFF)<<12 | slot<<8
	switch args[0] {
	case "rw":
		n, err := u32(args, 4)
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		s.rw[rwKey(args[1], d, slot)] = buf
		p.AllowReadWrite(d, int(slot), addr, buf)
	case "ro":
		p.AllowReadOnly(d, int(slot), addr, []byte(args[4]))
	default:
		return errUsage
	}
	return nil
}

func rwKey(name string, d, slot uint32) string {
	return name + "/" + strconv.FormatUint(uint64(d), 16) + "/" + strconv.FormatUint(uint64(slot), 10)
}

func (s *shell) command(args []string) error {
	if len(args) < 3 || len(args) > 5 {
		return errUsage
	}
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	d, err := driver(args[1])
	if err != nil {
		return err
	}
	var nums [3]uint32
	for i := range nums {
		if 2+i < len(args) {
			if nums[i], err = u32(args, 2+i); err != nil {
				return err
			}
		}
	}
	r := s.b.Command(p, d, nums[0], nums[1], nums[2])
	if r.Variant == syscall.VariantSuccessU32 {
		s.printf("%s %#x cmd %d: %s %d\n", args[0], d, nums[0], r, r.U32)
	} else {
		s.printf("%s %#x cmd %d: %s\n", args[0], d, nums[0], r)
	}
	return nil
}

func (s *shell) drain(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	// Let pending completions land first.
	s.b.Settle()
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	for _, u := range s.b.Drain(p) {
		s.printf("%s upcall %#x/%d (%d, %#x, %#x)\n", args[0], u.Driver, u.Slot, u.Args.A, u.Args.B, u.Args.C)
	}
	return nil
}

func (s *shell) dump(args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	d, err := driver(args[1])
	if err != nil {
		return err
	}
	slot, err := u32(args, 2)
	if err != nil {
		return err
	}
	buf, ok := s.rw[rwKey(args[0], d, slot)]
	if !ok {
		return fmt.Errorf("%w: no rw allow", errUsage)
	}
	s.printf("%s % x\n", args[0], buf)
	return nil
}

func (s *shell) pin(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, err
	}
	if _, ok := s.b.Pins[n]; !ok {
		return 0, fmt.Errorf("%w: %d", errNoPin, n)
	}
	return n, nil
}

func (s *shell) pwm(args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	n, err := s.pin(args[1])
	if err != nil {
		return err
	}
	var r mux.Result
	switch {
	case args[0] == "start" && len(args) == 4:
		freq, err := u32(args, 2)
		if err != nil {
			return err
		}
		duty, err := u32(args, 3)
		if err != nil {
			return err
		}
		r = s.b.Pins[n].Start(freq, duty)
	case args[0] == "stop":
		r = s.b.Pins[n].Stop()
	default:
		return errUsage
	}
	s.printf("pwm %d: %s %s\n", n, r.Outcome, r.Code())
	return nil
}

func (s *shell) timeout(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	n, err := s.pin(args[0])
	if err != nil {
		return err
	}
	ms, err := u32(args, 1)
	if err != nil {
		return err
	}
	s.b.Timeouts[n].Arm(ms)
	return nil
}

func (s *shell) adc(args []string) error {
	ch, err := u32(args, 0)
	if err != nil {
		return err
	}
	for _, m := range s.b.Monitors {
		if m.Channel() == int(ch) {
			return m.Sample()
		}
	}
	return fmt.Errorf("%w: no kernel monitor on channel %d", errNoParts, ch)
}

// Script runs every line of src, stopping at the first error.
func (s *shell) Script(src string) error {
	for i, line := range strings.Split(src, "\n") {
		if err := s.Exec(line); err != nil {
			return fmt.Errorf("line %d: %q: %w", i+1, strings.TrimSpace(line), err)
		}
	}
	return nil
}
