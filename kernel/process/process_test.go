package process

import (
	"errors"
	"testing"

	"capmux/errcode"
)

type counter struct {
	n int
}

func TestGrantLazilyCreatedAndScoped(t *testing.T) {
	tbl := NewTable(4, 4)
	p, _ := tbl.Spawn("a")
	g := NewGrant[counter](tbl, 5)

	if g.Len() != 0 {
		t.Fatal("grant should start empty")
	}
	for i := 0; i < 3; i++ {
		if err := g.Enter(p.ID(), func(c *counter, _ *KernelData) { c.n++ }); err != nil {
			t.Fatalf("enter: %v", err)
		}
	}
	var got int
	_ = g.Enter(p.ID(), func(c *counter, _ *KernelData) { got = c.n })
	if got != 3 || g.Len() != 1 {
		t.Fatalf("n=%d len=%d", got, g.Len())
	}
}

func TestGrantEnterFailsExplicitlyForDeadProcesses(t *testing.T) {
	tbl := NewTable(2, 4)
	p, _ := tbl.Spawn("a")
	g := NewGrant[counter](tbl, 1)
	_ = g.Enter(p.ID(), func(*counter, *KernelData) {})

	_ = tbl.Terminate(p.ID())
	called := false
	err := g.Enter(p.ID(), func(*counter, *KernelData) { called = true })
	if !errors.Is(err, ErrInactive) || called {
		t.Fatalf("terminated: err=%v called=%v", err, called)
	}

	np, _ := tbl.Restart(p.ID())
	err = g.Enter(p.ID(), func(*counter, *KernelData) { called = true })
	if !errors.Is(err, ErrNoSuchProcess) || called {
		t.Fatalf("stale id: err=%v called=%v", err, called)
	}
	if errcode.Of(err) != errcode.Invalid {
		t.Fatalf("code %q", errcode.Of(err))
	}

	// Restarted incarnation starts from a zero record.
	_ = g.Enter(np.ID(), func(c *counter, _ *KernelData) {
		if c.n != 0 {
			t.Fatalf("record survived restart: %d", c.n)
		}
	})
}

func TestGrantIteratesInAllocationOrder(t *testing.T) {
	tbl := NewTable(4, 4)
	a, _ := tbl.Spawn("a")
	b, _ := tbl.Spawn("b")
	c, _ := tbl.Spawn("c")
	g := NewGrant[counter](tbl, 1)

	// Allocate c first, then a, then b.
	for _, p := range []*Process{c, a, b} {
		_ = g.Enter(p.ID(), func(*counter, *KernelData) {})
	}
	_ = tbl.Terminate(a.ID())

	ids := g.IDs()
	if len(ids) != 2 || ids[0] != c.ID() || ids[1] != b.ID() {
		t.Fatalf("ids %v", ids)
	}
	if g.Len() != 2 {
		t.Fatalf("dead record not swept, len=%d", g.Len())
	}

	var seen []ID
	g.Each(func(pid ID, _ *counter, kd *KernelData) {
		if kd.ProcessID() != pid {
			t.Fatal("kernel data bound to wrong process")
		}
		seen = append(seen, pid)
	})
	if len(seen) != 2 || seen[0] != c.ID() {
		t.Fatalf("each order %v", seen)
	}
}

func TestUpcallOneOutstandingPerSlot(t *testing.T) {
	tbl := NewTable(1, 3)
	p, _ := tbl.Spawn("a")
	g := NewGrant[counter](tbl, 7)

	var errs []error
	_ = g.Enter(p.ID(), func(_ *counter, kd *KernelData) {
		errs = append(errs, kd.Schedule(0, Args{1, 2, 3}))
		errs = append(errs, kd.Schedule(0, Args{4, 5, 6}))
		errs = append(errs, kd.Schedule(1, Args{7, 8, 9}))
	})
	if errs[0] != nil || !errors.Is(errs[1], ErrQueueFull) || errs[2] != nil {
		t.Fatalf("errs %v", errs)
	}
	if p.DroppedUpcalls() != 1 || p.PendingUpcalls() != 2 {
		t.Fatalf("dropped=%d pending=%d", p.DroppedUpcalls(), p.PendingUpcalls())
	}

	u, ok := p.NextUpcall()
	if !ok || u.Driver != 7 || u.Slot != 0 || u.Args != (Args{1, 2, 3}) {
		t.Fatalf("first upcall %+v", u)
	}
	// Slot 0 is free again once consumed.
	_ = g.Enter(p.ID(), func(_ *counter, kd *KernelData) {
		if err := kd.Schedule(0, Args{A: 10}); err != nil {
			t.Fatalf("reschedule: %v", err)
		}
	})
}

func TestUpcallQueueBounded(t *testing.T) {
	tbl := NewTable(1, 2)
	p, _ := tbl.Spawn("a")
	g := NewGrant[counter](tbl, 1)
	_ = g.Enter(p.ID(), func(_ *counter, kd *KernelData) {
		_ = kd.Schedule(0, Args{})
		_ = kd.Schedule(1, Args{})
		if err := kd.Schedule(2, Args{}); !errors.Is(err, ErrQueueFull) {
			t.Fatalf("expected full queue, got %v", err)
		}
	})
}

func TestAllowBuffersScopedByDriver(t *testing.T) {
	tbl := NewTable(1, 2)
	p, _ := tbl.Spawn("a")
	p.AllowReadWrite(5, 0, 0x2000, make([]byte, 16))
	p.AllowReadOnly(6, 0, 0x3000, []byte("hi"))

	g5 := NewGrant[counter](tbl, 5)
	g6 := NewGrant[counter](tbl, 6)
	_ = g5.Enter(p.ID(), func(_ *counter, kd *KernelData) {
		b, ok := kd.ReadWrite(0)
		if !ok || b.Addr != 0x2000 || b.Len() != 16 {
			t.Fatalf("rw %+v %v", b, ok)
		}
		if _, ok := kd.ReadOnly(0); ok {
			t.Fatal("driver 5 should not see driver 6 allow")
		}
	})
	_ = g6.Enter(p.ID(), func(_ *counter, kd *KernelData) {
		if b, ok := kd.ReadOnly(0); !ok || string(b.Data) != "hi" {
			t.Fatalf("ro %+v", b)
		}
	})
	p.AllowReadWrite(5, 0, 0, nil)
	_ = g5.Enter(p.ID(), func(_ *counter, kd *KernelData) {
		if _, ok := kd.ReadWrite(0); ok {
			t.Fatal("revoked allow still visible")
		}
	})
}

func TestSpawnReusesDeadSlots(t *testing.T) {
	tbl := NewTable(1, 1)
	a, _ := tbl.Spawn("a")
	if _, err := tbl.Spawn("b"); !errors.Is(err, ErrNoSlot) {
		t.Fatalf("expected ErrNoSlot, got %v", err)
	}
	_ = tbl.Fault(a.ID())
	b, err := tbl.Spawn("b")
	if err != nil || b.ID() == a.ID() || b.ID().Index() != a.ID().Index() {
		t.Fatalf("spawn into dead slot: %v %v", b, err)
	}
	if _, err := tbl.Lookup(a.ID()); !errors.Is(err, ErrNoSuchProcess) {
		t.Fatalf("old id still resolves: %v", err)
	}
}
