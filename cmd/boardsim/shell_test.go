package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"capmux/board"
	"capmux/services/config"
)

func newTestShell(t *testing.T, name string) (*shell, *bytes.Buffer) {
	t.Helper()
	cfg, err := config.Load(name)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	return newShell(board.New(cfg), &out), &out
}

func TestScriptStorageRoundTrip(t *testing.T) {
	sh, out := newTestShell(t, "pico-sim")
	script := `
# write then read back through the user region
spawn app
allow ro app nv 0 "hello"
cmd app nv 3 16 5
drain app
allow rw app nv 0 5
cmd app nv 2 16 5
drain app
dump app nv 0
`
	if err := sh.Script(script); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{
		"app = 0.1\n",
		"app 0x50001 cmd 3: success\n",
		"app upcall 0x50001/1 (5, 0x0, 0x0)\n",
		"app upcall 0x50001/0 (5, 0x0, 0x0)\n",
		"app 68 65 6c 6c 6f\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
}

func TestScriptStopsAtFirstError(t *testing.T) {
	sh, out := newTestShell(t, "pico-sim")
	err := sh.Script("spawn a\ncmd b rng 1 4\nspawn c\n")
	if !errors.Is(err, errNoProc) || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("err %v", err)
	}
	if strings.Contains(out.String(), "c = ") {
		t.Fatal("script ran past the failing line")
	}
}

func TestExecUsageErrors(t *testing.T) {
	sh, _ := newTestShell(t, "pico-sim")
	for _, line := range []string{
		"bogus",
		"spawn",
		"cmd a",
		"advance",
		"allow xx a nv 0 1",
		`spawn "unterminated`,
	} {
		if err := sh.Exec(line); err == nil {
			t.Fatalf("%q: expected error", line)
		}
	}
	if err := sh.Exec("   "); err != nil {
		t.Fatalf("blank line: %v", err)
	}
	if err := sh.Exec("pwm start 9 100 1"); !errors.Is(err, errNoPin) {
		t.Fatalf("unknown pin: %v", err)
	}
}

func TestPWMTimeoutAndRestart(t *testing.T) {
	sh, out := newTestShell(t, "pico-sim")
	script := `
pwm start 2 440 50
pwm start 3 220 25
timeout 2 100
advance 100
pwm stop 3
spawn p
restart p
`
	if err := sh.Script(script); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{
		"pwm 2: started ok\n",
		"pwm 3: queued ok\n",
		"pwm 3: stopped ok\n",
		"p = 0.1\n",
		"p = 0.2\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
}

func TestDriverByNumber(t *testing.T) {
	sh, out := newTestShell(t, "pico-sim")
	if err := sh.Script("spawn p\ncmd p 0x5 0\n"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "p 0x5 cmd 0: success_u32 4\n") {
		t.Fatalf("out:\n%s", out.String())
	}
}

func TestSnapshotPeriodClampsRate(t *testing.T) {
	cases := []struct {
		rate uint
		want time.Duration
	}{
		{0, time.Second},
		{4, 250 * time.Millisecond},
		{1 << 40, time.Millisecond},
	}
	for _, c := range cases {
		if got := snapshotPeriod(c.rate); got != c.want {
			t.Fatalf("rate %d: %v, want %v", c.rate, got, c.want)
		}
	}
}
