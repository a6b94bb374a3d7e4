package agentserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/trailbridge/uagent/internal/bytelink"
	"github.com/trailbridge/uagent/internal/clock"
	"github.com/trailbridge/uagent/internal/node"
	"github.com/trailbridge/uagent/internal/session"
	"github.com/trailbridge/uagent/internal/wire"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	base := []Option{
		WithListenAddr("127.0.0.1:0"),
		WithNodeBuilder(func(link bytelink.ByteLink, clk clock.Clock) *node.Node {
			return node.New(link, clk)
		}),
		WithNegotiationTimeout(100 * time.Millisecond),
	}
	return New(append(base, opts...)...)
}

func TestServer_AcceptsAndNegotiatesLink(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatal("server never became ready")
	}

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	frame, err := wire.Encode(wire.TopicNegotiation, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Sessions().Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("negotiated session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_DropsLinkThatNeverNegotiates(t *testing.T) {
	srv := newTestServer(t, WithNegotiationTimeout(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatal("server never became ready")
	}

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected the connection to be closed after missing the negotiation deadline")
	}
	if srv.Sessions().Count() != 0 {
		t.Fatalf("Sessions().Count() = %d, want 0 for a link that never negotiated", srv.Sessions().Count())
	}
}

func TestServer_RejectsBeyondMaxLinks(t *testing.T) {
	sessions := session.New()
	srv := newTestServer(t, WithMaxLinks(1), WithSessions(sessions))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatal("server never became ready")
	}

	frame, err := wire.Encode(wire.TopicNegotiation, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	first, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer first.Close()
	if _, err := first.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for sessions.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first link never negotiated")
		}
		time.Sleep(5 * time.Millisecond)
	}

	second, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer second.Close()
	buf := make([]byte, 1)
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(buf); err == nil {
		t.Fatalf("expected the second connection to be closed once max-links is reached")
	}
}

func TestServer_ShutdownClosesListenerAndSessions(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatal("server never became ready")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := net.Dial("tcp", srv.Addr()); err == nil {
		t.Fatalf("expected dialing after Shutdown to fail")
	}
}
