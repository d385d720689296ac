package sim

import (
	"capmux/errcode"
	"capmux/hil/rng"
)

const rngBatch = 4

// RNG streams deterministic xorshift words in batches of four.
type RNG struct {
	l       Latcher
	client  rng.Client
	state   uint32
	running bool
	gen     uint32

	Batches    int
	Violations uint32
}

func NewRNG(l Latcher, seed uint32) *RNG {
	if seed == 0 {
		seed = 0x2545F491
	}
	return &RNG{l: l, state: seed}
}

func (r *RNG) SetClient(c rng.Client) { r.client = c }

func (r *RNG) Get() error {
	if r.running {
		r.Violations++
		return errcode.Busy
	}
	r.running = true
	r.gen++
	r.schedule()
	return nil
}

func (r *RNG) Cancel() error {
	if !r.running {
		return errcode.Off
	}
	r.running = false
	r.gen++
	return nil
}

func (r *RNG) schedule() {
	gen := r.gen
	r.l.Latch(func() {
		if !r.running || r.gen != gen {
			return
		}
		var words [rngBatch]uint32
		for i := range words {
			words[i] = r.word()
		}
		r.Batches++
		if r.client.RandomnessAvailable(words[:], nil) == rng.More && r.running && r.gen == gen {
			r.schedule()
			return
		}
		if r.gen == gen {
			r.running = false
		}
	})
}

func (r *RNG) word() uint32 {
	x := r.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	r.state = x
	return x
}
