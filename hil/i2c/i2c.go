// Package i2c is the asynchronous I2C controller contract.
package i2c

import "capmux/kernel/cells"

// MasterClient is told when a transfer finishes.
type MasterClient interface {
	TransferDone(buf *cells.Buffer[byte], err error)
}

// Master runs one transfer at a time. A transfer writes the first wn bytes
// of buf and then, with a repeated start, reads rn bytes back into the
// front of buf.
type Master interface {
	SetClient(MasterClient)
	Transfer(addr uint16, buf *cells.Buffer[byte], wn, rn int) error
}

// Client is the device-level completion callback.
type Client interface {
	CommandComplete(buf *cells.Buffer[byte], err error)
}

// Device is a single target address on a shared bus.
type Device interface {
	SetClient(Client)
	Write(buf *cells.Buffer[byte], n int) error
	Read(buf *cells.Buffer[byte], n int) error
	WriteRead(buf *cells.Buffer[byte], wn, rn int) error
}
