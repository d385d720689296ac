// Package flash is the hardware contract for byte-addressable nonvolatile
// storage.
package flash

import "capmux/kernel/cells"

// Client is told when a read or write has finished. buf is handed back in
// every case, including on error.
type Client interface {
	ReadDone(buf *cells.Buffer[byte], n int, err error)
	WriteDone(buf *cells.Buffer[byte], n int, err error)
}

// Storage accepts one read or write at a time.
type Storage interface {
	SetClient(Client)
	Size() int
	// Read fills the first n bytes of buf from addr.
	Read(buf *cells.Buffer[byte], addr, n int) error
	// Write stores the first n bytes of buf at addr.
	Write(buf *cells.Buffer[byte], addr, n int) error
}
