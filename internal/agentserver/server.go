// Package agentserver is the TCP front door for this agent: it accepts
// links, enforces a negotiation-timeout deadline and a maxLinks cap, and
// drives each accepted link's Node.Spin loop on its own goroutine. Each
// link gets an isolated Node tracked in a session.Registry, and the
// handshake is simply waiting for the protocol's own topic-0 negotiation
// frame rather than a separate hello exchange.
package agentserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trailbridge/uagent/internal/bytelink"
	"github.com/trailbridge/uagent/internal/clock"
	"github.com/trailbridge/uagent/internal/logging"
	"github.com/trailbridge/uagent/internal/metrics"
	"github.com/trailbridge/uagent/internal/node"
	"github.com/trailbridge/uagent/internal/session"
)

const (
	defaultNegotiationTimeout = 3 * time.Second
	defaultTxBuffer           = 512
	defaultSpinIdleSleep      = 2 * time.Millisecond
)

// NodeBuilder constructs a fresh Node over link for one accepted connection.
// Set by the caller so agentserver stays ignorant of sync-period/timeout
// and other Node options, which belong to cmd/uagent-server's config layer.
type NodeBuilder func(link bytelink.ByteLink, clk clock.Clock) *node.Node

// Server owns the TCP listener and the per-link goroutines it spawns.
type Server struct {
	mu   sync.RWMutex
	addr string

	clk         clock.Clock
	buildNode   NodeBuilder
	sessions    *session.Registry
	logger      *slog.Logger
	listener    net.Listener

	negotiationTimeout time.Duration
	maxLinks           int
	txBuffer           int

	readyOnce sync.Once
	readyCh   chan struct{}
	errCh     chan error
	lastErrMu sync.Mutex
	lastErr   error

	wg         sync.WaitGroup
	nextConnID uint64

	totalAccepted          atomic.Uint64
	totalNegotiationFailed atomic.Uint64
	totalConnected         atomic.Uint64
	totalDisconnected      atomic.Uint64
}

// Option configures a Server at construction.
type Option func(*Server)

// WithListenAddr sets the TCP listen address (":0" picks an ephemeral port).
func WithListenAddr(addr string) Option { return func(s *Server) { s.addr = addr } }

// WithClock overrides the clock passed to every Node this server builds.
func WithClock(c clock.Clock) Option { return func(s *Server) { s.clk = c } }

// WithNodeBuilder sets the constructor used for each accepted link's Node.
func WithNodeBuilder(b NodeBuilder) Option { return func(s *Server) { s.buildNode = b } }

// WithSessions overrides the session registry (defaults to a fresh one).
func WithSessions(r *session.Registry) Option { return func(s *Server) { s.sessions = r } }

// WithNegotiationTimeout overrides the default 3s deadline for a freshly
// accepted link to produce its first ID_NEGOTIATION frame.
func WithNegotiationTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.negotiationTimeout = d
		}
	}
}

// WithMaxLinks caps the number of simultaneously connected links; 0 means
// unbounded.
func WithMaxLinks(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLinks = n
		}
	}
}

// WithTxBuffer overrides the per-link outbound asyncWriter queue depth.
func WithTxBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.txBuffer = n
		}
	}
}

// WithLogger overrides the default package logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Server. buildNode must be supplied via WithNodeBuilder
// before Serve is called.
func New(opts ...Option) *Server {
	s := &Server{
		clk:                clock.NewSystemClock(),
		sessions:           session.New(),
		logger:             logging.L(),
		negotiationTimeout: defaultNegotiationTimeout,
		txBuffer:           defaultTxBuffer,
		readyCh:            make(chan struct{}),
		errCh:              make(chan error, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

// Addr returns the resolved listen address, valid once Serve has started
// listening.
func (s *Server) Addr() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }

// Ready is closed once the listener is bound and accepting.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Errors surfaces fatal listener-level errors; buffered depth 1.
func (s *Server) Errors() <-chan error { return s.errCh }

// Sessions exposes the live-link registry for metrics/diagnostics.
func (s *Server) Sessions() *session.Registry { return s.sessions }

func (s *Server) setAddr(a string) { s.mu.Lock(); s.addr = a; s.mu.Unlock() }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

// LastError returns the most recently recorded fatal error, if any.
func (s *Server) LastError() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastErr
}

// Serve accepts links until ctx is cancelled or a fatal listener error
// occurs.
func (s *Server) Serve(ctx context.Context) error {
	if s.buildNode == nil {
		return errors.New("agentserver: no NodeBuilder configured")
	}
	s.mu.RLock()
	addr := s.addr
	s.mu.RUnlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncLinkError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncLinkError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	if s.maxLinks > 0 && s.sessions.Count() >= s.maxLinks {
		connLogger.Warn("link_reject_max", "max_links", s.maxLinks)
		_ = conn.Close()
		return nil
	}

	link := bytelink.NewTCPLink(ctx, conn, s.txBuffer)
	n := s.buildNode(link, s.clk)

	if err := s.awaitNegotiation(ctx, n); err != nil {
		s.totalNegotiationFailed.Add(1)
		metrics.IncHandshakeRejection()
		connLogger.Warn("negotiation_timeout", "error", err)
		_ = n.Shutdown()
		return nil
	}

	s.sessions.Add(n)
	s.totalConnected.Add(1)
	connLogger.Info("link_negotiated")
	s.startSession(ctx, n, connLogger)
	return nil
}

// awaitNegotiation drives Spin on n until it has seen an ID_NEGOTIATION
// frame or negotiationTimeout elapses.
func (s *Server) awaitNegotiation(ctx context.Context, n *node.Node) error {
	deadline := s.clk.NowMillis() + s.negotiationTimeout.Milliseconds()
	for {
		if n.Negotiated() {
			return nil
		}
		if s.clk.NowMillis() >= deadline {
			return fmt.Errorf("%w: no ID_NEGOTIATION frame within %s", ErrNegotiation, s.negotiationTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		consumed, err := n.Spin()
		if err != nil {
			metrics.IncLinkError(metrics.ErrLinkRead)
			return fmt.Errorf("link closed before negotiation: %w", err)
		}
		if consumed == 0 {
			time.Sleep(defaultSpinIdleSleep)
		}
	}
}

// startSession spawns the goroutine that drives n.Spin for the lifetime of
// its link. It exits the loop as soon as Spin reports a permanent link
// error (bytelink.ErrClosed or otherwise) — the caller is responsible for
// reconnection, not this loop.
func (s *Server) startSession(ctx context.Context, n *node.Node, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.sessions.Remove(n)
			s.totalDisconnected.Add(1)
			logger.Info("link_closed")
		}()
		for {
			select {
			case <-ctx.Done():
				_ = n.Shutdown()
				return
			default:
			}
			consumed, err := n.Spin()
			if err != nil {
				return
			}
			if consumed == 0 {
				time.Sleep(defaultSpinIdleSleep)
			}
		}
	}()
}

// Shutdown closes the listener and every live session, waiting for their
// goroutines to exit or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.sessions.Shutdown()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"negotiation_failed", s.totalNegotiationFailed.Load(),
			"connected", s.totalConnected.Load(),
			"disconnected", s.totalDisconnected.Load(),
		)
		return nil
	}
}
