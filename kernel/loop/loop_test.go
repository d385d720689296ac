package loop

import (
	"context"
	"testing"
	"time"
)

func TestHandlersRunInPostOrder(t *testing.T) {
	l := New(8)
	var got []int
	for i := 0; i < 3; i++ {
		i := i
		if err := l.Post(func() { got = append(got, i) }); err != nil {
			t.Fatalf("post: %v", err)
		}
	}
	if n := l.RunUntilIdle(); n != 3 {
		t.Fatalf("ran %d handlers", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order %v", got)
		}
	}
}

func TestPostFromHandlerRunsAfterCurrent(t *testing.T) {
	l := New(4)
	var trace []string
	_ = l.Post(func() {
		_ = l.Post(func() { trace = append(trace, "irq") })
		trace = append(trace, "handler-end")
	})
	l.RunUntilIdle()
	if len(trace) != 2 || trace[0] != "handler-end" || trace[1] != "irq" {
		t.Fatalf("trace %v", trace)
	}
}

func TestPostDropsWhenFull(t *testing.T) {
	l := New(1)
	if err := l.Post(func() {}); err != nil {
		t.Fatal(err)
	}
	if err := l.Post(func() {}); err != ErrLoopFull {
		t.Fatalf("expected ErrLoopFull, got %v", err)
	}
	if l.Dropped() != 1 {
		t.Fatalf("dropped=%d", l.Dropped())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	l := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ran := make(chan struct{}, 1)
	go func() {
		l.Run(ctx)
		close(done)
	}()
	_ = l.Post(func() { ran <- struct{}{} })
	select {
	case <-ran:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("handler did not run")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLatchNeverDropsAndRunsFirst(t *testing.T) {
	l := New(1)
	var trace []string
	_ = l.Post(func() { trace = append(trace, "post") })
	for i := 0; i < 3; i++ {
		l.Latch(func() { trace = append(trace, "irq") })
	}
	if l.Pending() != 4 || l.Dropped() != 0 {
		t.Fatalf("pending=%d dropped=%d", l.Pending(), l.Dropped())
	}
	if !l.Step() || len(trace) != 1 || trace[0] != "irq" {
		t.Fatalf("latched handler should run first: %v", trace)
	}
	if n := l.RunUntilIdle(); n != 3 || trace[3] != "post" {
		t.Fatalf("ran %d, trace %v", n, trace)
	}
}

func TestRunWakesForLatch(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	ran := make(chan struct{}, 1)
	l.Latch(func() { ran <- struct{}{} })
	select {
	case <-ran:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("latched handler did not run")
	}
}
