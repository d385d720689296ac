// Package telemetry publishes arbiter and process state on the bus. State
// changes are pushed as they happen; counters are sampled on a ticker.
// Every message is retained so a late subscriber sees the current picture.
package telemetry

import (
	"context"
	"time"

	"capmux/bus"
	"capmux/kernel/process"
	"capmux/mux"
	"capmux/types"
	"capmux/x/timex"
)

// Source is an arbiter as seen by telemetry.
type Source interface {
	Name() string
	Stats() mux.Stats
	Observe(mux.Observer)
}

// Poster runs fn on the kernel loop.
type Poster interface {
	Post(fn func()) error
}

type Service struct {
	conn    *bus.Connection
	now     func() int64
	sources []Source
	procs   *process.Table
}

func New(conn *bus.Connection) *Service {
	return &Service{conn: conn, now: timex.NowMs}
}

// Watch installs the service as src's observer.
func (s *Service) Watch(src Source) {
	s.sources = append(s.sources, src)
	name := src.Name()
	src.Observe(mux.ObserverFunc(func(e mux.Event) {
		st := types.MuxState{Mux: name, Busy: e.Busy, Event: e.Kind.String(), TS: s.now()}
		if e.Err != nil {
			st.Error = e.Err.Error()
		}
		s.conn.Publish(s.conn.NewMessage(bus.Topic{bus.S("mux"), bus.S(name), bus.S("state")}, st, true))
	}))
}

// Processes adds the table's processes to each snapshot.
func (s *Service) Processes(t *process.Table) { s.procs = t }

// Snapshot publishes counters for every watched source and the state of
// every live process. Run it on the kernel loop.
func (s *Service) Snapshot() {
	ts := s.now()
	for _, src := range s.sources {
		st := src.Stats()
		s.conn.Publish(s.conn.NewMessage(bus.Topic{bus.S("mux"), bus.S(src.Name()), bus.S("stats")}, types.MuxStats{
			Started:   st.Started,
			Queued:    st.Queued,
			Rejected:  st.Rejected,
			Dropped:   st.Dropped,
			Completed: st.Completed,
			Stale:     st.Stale,
			TS:        ts,
		}, true))
	}
	if s.procs == nil {
		return
	}
	s.procs.Each(func(p *process.Process) {
		s.conn.Publish(s.conn.NewMessage(bus.Topic{bus.S("proc"), bus.I(p.ID().Index()), bus.S("state")}, types.ProcessState{
			Name:    p.Name(),
			ID:      p.ID().String(),
			State:   p.State().String(),
			Pending: p.PendingUpcalls(),
			Dropped: p.DroppedUpcalls(),
			TS:      ts,
		}, true))
	})
}

// Run posts a Snapshot to the kernel loop every interval until ctx ends.
func (s *Service) Run(ctx context.Context, l Poster, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			println("[telemetry] stopping")
			return
		case <-tick.C:
			if err := l.Post(s.Snapshot); err != nil {
				println("[telemetry] snapshot skipped:", err.Error())
			}
		}
	}
}
