package bytelink

import (
	"context"
	"time"

	"github.com/tarm/serial"

	"github.com/trailbridge/uagent/internal/wire"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OpenSerialPort opens name at baud with a short read timeout so the
// background reader goroutine can observe context cancellation promptly.
func OpenSerialPort(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// SerialLink adapts a Port to ByteLink, mirroring TCPLink's background
// reader + asyncWriter shape.
type SerialLink struct {
	port   Port
	rxCh   chan byte
	writer *asyncWriter
	errCh  chan error
	cancel context.CancelFunc
}

// NewSerialLink starts the background reader for port.
func NewSerialLink(ctx context.Context, port Port, txBuf int) *SerialLink {
	ctx, cancel := context.WithCancel(ctx)
	l := &SerialLink{
		port:   port,
		rxCh:   make(chan byte, wire.StreamBufferSize),
		errCh:  make(chan error, 1),
		cancel: cancel,
	}
	l.writer = newAsyncWriter(ctx, txBuf, func(p []byte) error {
		_, err := port.Write(p)
		return err
	}, writeHooks{})
	go l.readLoop(ctx)
	return l
}

func (l *SerialLink) readLoop(ctx context.Context) {
	buf := make([]byte, 512)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := l.port.Read(buf)
		for i := 0; i < n; i++ {
			select {
			case l.rxCh <- buf[i]:
			default:
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

func (l *SerialLink) TryReadByte() (byte, bool, error) {
	select {
	case b := <-l.rxCh:
		return b, true, nil
	default:
	}
	select {
	case err := <-l.errCh:
		return 0, false, err
	default:
	}
	return 0, false, nil
}

func (l *SerialLink) Write(p []byte) error { return l.writer.Send(p) }

func (l *SerialLink) Close() error {
	l.cancel()
	l.writer.Close()
	return l.port.Close()
}
