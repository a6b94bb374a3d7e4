// Package bytelink implements ByteLink: a non-blocking read of one byte,
// and a blocking/buffered write of many, over UART, USB-CDC-as-serial,
// TCP, or an in-memory loopback for tests.
package bytelink

import "errors"

// ErrClosed is returned by Write once the link has been closed. TryReadByte
// returns it when the inbound stream has ended: a closed, drained Loopback,
// or EOF from a TCP peer. Other read failures are returned as they are.
var ErrClosed = errors.New("bytelink: closed")

// ByteLink is the transport capability Node is built on.
type ByteLink interface {
	// TryReadByte performs a non-blocking read. ok is false when no byte
	// is currently available (not an error — the caller should simply
	// stop consuming for this spin). err is non-nil only on permanent
	// failure (closed link, device removed).
	TryReadByte() (b byte, ok bool, err error)

	// Write sends p, buffering and serializing with any concurrent
	// writers. It returns once p is queued (not necessarily flushed to the
	// wire); it does not wait for room, so a full outbound queue returns
	// an error (ErrTxOverflow) and p is not sent.
	Write(p []byte) error

	// Close releases the underlying transport.
	Close() error
}
