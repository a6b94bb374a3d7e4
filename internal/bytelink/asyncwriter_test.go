package bytelink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAsyncWriter_DeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got [][]byte
	w := newAsyncWriter(context.Background(), 8, func(p []byte) error {
		mu.Lock()
		got = append(got, append([]byte(nil), p...))
		mu.Unlock()
		return nil
	}, writeHooks{})
	defer w.Close()

	for i := byte(0); i < 5; i++ {
		if err := w.Send([]byte{i}); err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
	}
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of 5 buffers delivered before the deadline", n)
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, p := range got {
		if len(p) != 1 || p[0] != byte(i) {
			t.Fatalf("got[%d] = %v, want [%d]", i, p, i)
		}
	}
}

func TestAsyncWriter_SendAfterCloseReturnsErrClosed(t *testing.T) {
	w := newAsyncWriter(context.Background(), 1, func([]byte) error { return nil }, writeHooks{})
	w.Close()
	if err := w.Send([]byte{1}); err != ErrClosed {
		t.Fatalf("Send after Close: err = %v, want ErrClosed", err)
	}
}

func TestAsyncWriter_FullBufferReturnsErrTxOverflow(t *testing.T) {
	block := make(chan struct{})
	w := newAsyncWriter(context.Background(), 1, func([]byte) error {
		<-block
		return nil
	}, writeHooks{})
	defer func() {
		close(block)
		w.Close()
	}()

	if err := w.Send([]byte{1}); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	// Give the worker a moment to pick up the first buffer so the channel
	// itself (not just the worker) is what's full for the second Send.
	time.Sleep(10 * time.Millisecond)
	if err := w.Send([]byte{2}); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if err := w.Send([]byte{3}); !errors.Is(err, ErrTxOverflow) {
		t.Fatalf("third Send: err = %v, want ErrTxOverflow", err)
	}
}
