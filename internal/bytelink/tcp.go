package bytelink

import (
	"context"
	"io"
	"net"

	"github.com/trailbridge/uagent/internal/wire"
)

// TCPLink wraps one net.Conn as a ByteLink: a background goroutine blocks
// on conn.Read and feeds a bounded byte channel that TryReadByte drains
// non-blockingly, and outbound writes go through an asyncWriter so
// Publish/Log/parameter calls from different goroutines never interleave.
type TCPLink struct {
	conn   net.Conn
	rxCh   chan byte
	writer *asyncWriter
	errCh  chan error
	cancel context.CancelFunc
}

// NewTCPLink starts the background reader for conn and returns a ready
// ByteLink. txBuf bounds the outbound asyncWriter queue depth.
func NewTCPLink(ctx context.Context, conn net.Conn, txBuf int) *TCPLink {
	ctx, cancel := context.WithCancel(ctx)
	l := &TCPLink{
		conn:   conn,
		rxCh:   make(chan byte, wire.StreamBufferSize),
		errCh:  make(chan error, 1),
		cancel: cancel,
	}
	l.writer = newAsyncWriter(ctx, txBuf, func(p []byte) error {
		_, err := conn.Write(p)
		return err
	}, writeHooks{})
	go l.readLoop()
	return l
}

func (l *TCPLink) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := l.conn.Read(buf)
		for i := 0; i < n; i++ {
			select {
			case l.rxCh <- buf[i]:
			default:
				// Receiver fell behind STREAM_BUFFER; drop the byte. The
				// framing checksum will reject whatever this corrupts,
				// matching "retry-free best-effort delivery".
			}
		}
		if err != nil {
			select {
			case l.errCh <- err:
			default:
			}
			return
		}
	}
}

func (l *TCPLink) TryReadByte() (byte, bool, error) {
	select {
	case b := <-l.rxCh:
		return b, true, nil
	default:
	}
	select {
	case err := <-l.errCh:
		if err == io.EOF {
			return 0, false, ErrClosed
		}
		return 0, false, err
	default:
	}
	return 0, false, nil
}

func (l *TCPLink) Write(p []byte) error { return l.writer.Send(p) }

func (l *TCPLink) Close() error {
	l.cancel()
	l.writer.Close()
	return l.conn.Close()
}
