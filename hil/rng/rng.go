// Package rng is the contract for a hardware entropy source.
package rng

// Continue tells the source whether the client wants more words.
type Continue bool

const (
	More Continue = true
	Done Continue = false
)

type Client interface {
	RandomnessAvailable(words []uint32, err error) Continue
}

// Rng streams words to its client until told Done or cancelled.
type Rng interface {
	SetClient(Client)
	Get() error
	Cancel() error
}
