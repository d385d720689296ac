// boardsim drives a simulated board from a script, an interactive prompt or
// as a free-running service publishing telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"capmux/board"
	"capmux/services/config"
	"capmux/x/mathx"
	"capmux/x/timex"

	"github.com/chzyer/readline"
)

const (
	defaultBoard = "pico-sim"
	defaultRate  = 1 // telemetry snapshots per second in -serve mode
	maxRate      = 1000
)

func main() {
	name := flag.String("board", defaultBoard, "board config name")
	script := flag.String("script", "", "run commands from file and exit")
	serve := flag.Bool("serve", false, "run the loop and publish telemetry until interrupted")
	rate := flag.Uint("rate", defaultRate, "telemetry snapshots per second with -serve")
	list := flag.Bool("list", false, "list board configs")
	flag.Parse()

	if *list {
		for _, n := range config.Boards() {
			fmt.Println(n)
		}
		return
	}

	cfg, err := config.Load(*name)
	if err != nil {
		fail(err)
	}
	b := board.New(cfg)

	switch {
	case *serve:
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		println("[boardsim] serving", cfg.Name, "boot", b.BootID.String())
		b.Run(ctx, snapshotPeriod(*rate))
	case *script != "":
		src, err := os.ReadFile(*script)
		if err != nil {
			fail(err)
		}
		if err := newShell(b, os.Stdout).Script(string(src)); err != nil {
			fail(err)
		}
	default:
		if err := repl(b); err != nil {
			fail(err)
		}
	}
}

// snapshotPeriod turns the -rate flag into a telemetry interval, keeping
// the rate within 1..maxRate Hz.
func snapshotPeriod(rate uint) time.Duration {
	return timex.Period(uint32(mathx.Clamp(rate, 1, maxRate)))
}

func repl(b *board.Board) error {
	history := ""
	if dir, err := os.UserCacheDir(); err == nil {
		history = filepath.Join(dir, "boardsim_history")
	}
	l, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[32m" + b.Cfg.Name + ">\033[0m ",
		HistoryFile:     history,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer l.Close()

	sh := newShell(b, l.Stdout())
	for {
		line, err := l.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := sh.Exec(line); err != nil {
			fmt.Fprintln(l.Stderr(), "error:", err)
		}
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "boardsim:", err)
	os.Exit(1)
}
