// Package node assembles Clock, ByteLink, the wire codec, RxStateMachine,
// TopicRegistry, TimeSync, ParamClient, and Dispatcher into a single Node:
// Spin, Advertise, Subscribe, Publish, GetParam, Log, Now, Connected.
package node

import (
	"log/slog"

	"github.com/trailbridge/uagent/internal/bytelink"
	"github.com/trailbridge/uagent/internal/clock"
	"github.com/trailbridge/uagent/internal/dispatch"
	"github.com/trailbridge/uagent/internal/errcounters"
	"github.com/trailbridge/uagent/internal/logging"
	"github.com/trailbridge/uagent/internal/metrics"
	"github.com/trailbridge/uagent/internal/msg"
	"github.com/trailbridge/uagent/internal/paramclient"
	"github.com/trailbridge/uagent/internal/registry"
	"github.com/trailbridge/uagent/internal/rx"
	"github.com/trailbridge/uagent/internal/timesync"
	"github.com/trailbridge/uagent/internal/wire"
)

// Node is the host- or device-side engine for one link. Not safe for
// concurrent Spin calls — exactly one driver goroutine owns Spin per
// link. Publish/Log may be called from other goroutines, serialized by the
// link's own buffered writer. GetParam calls Spin itself, so it belongs on
// the goroutine that owns Spin.
type Node struct {
	link   bytelink.ByteLink
	clk    clock.Clock
	logger *slog.Logger

	counters *errcounters.Counters
	reg      *registry.Registry
	ts       *timesync.TimeSync
	param    *paramclient.Client
	rxm      *rx.Machine
	disp     *dispatch.Dispatcher

	inDispatch bool
	pending    [][]byte
	negotiated bool

	maxBytesPerSpin int
	syncPeriodMS    int64
	connTimeoutMS   int64
}

// Option configures a Node at construction.
type Option func(*Node)

// WithSyncPeriodMS overrides default SYNC_PERIOD_MS.
func WithSyncPeriodMS(ms int64) Option { return func(n *Node) { n.syncPeriodMS = ms } }

// WithConnTimeoutMS overrides default CONNECTION_TIMEOUT_MS.
func WithConnTimeoutMS(ms int64) Option { return func(n *Node) { n.connTimeoutMS = ms } }

// WithLogger overrides the default package logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithMaxBytesPerSpin overrides default MAX_BYTES_PER_SPIN.
func WithMaxBytesPerSpin(n int) Option {
	return func(node *Node) {
		if n > 0 {
			node.maxBytesPerSpin = n
		}
	}
}

// New constructs a Node over link, driven by clk.
func New(link bytelink.ByteLink, clk clock.Clock, opts ...Option) *Node {
	n := &Node{
		link:            link,
		clk:             clk,
		logger:          logging.L(),
		counters:        &errcounters.Counters{},
		reg:             registry.New(),
		maxBytesPerSpin: wire.MaxBytesPerSpin,
	}
	for _, o := range opts {
		o(n)
	}
	n.param = paramclient.New(clk, n)
	n.rxm = rx.New(n.counters, n.onFrame)
	n.ts = timesync.New(clk, n, n.rxm, n.syncPeriodMS, n.connTimeoutMS)
	n.disp = dispatch.New(n.reg, n.ts, n.param, n.counters, n)
	return n
}

func (n *Node) onFrame(topicID uint16, payload []byte) {
	if topicID == wire.TopicNegotiation {
		n.negotiated = true
	}
	n.inDispatch = true
	n.disp.Dispatch(topicID, payload)
	n.inDispatch = false
}

// Negotiated reports whether this Node has seen at least one inbound
// ID_NEGOTIATION frame, i.e. whether the peer has completed the topic
// handshake.
func (n *Node) Negotiated() bool { return n.negotiated }

// SendFrame implements registry.FrameSender / timesync.FrameSender /
// dispatch's sender: it is the engine's own immediate outbound path, used
// by negotiation emission and the time-sync/parameter handshakes. It is
// distinct from Publish, which defers when called re-entrantly from a
// subscriber handler.
func (n *Node) SendFrame(topicID uint16, payload []byte) error {
	encoded, err := wire.Encode(topicID, payload)
	if err != nil {
		return err
	}
	if err := n.link.Write(encoded); err != nil {
		return err
	}
	metrics.IncFramesTx()
	return nil
}

// Advertise registers a publisher slot and returns a handle whose Publish
// method is parameterized by this Node.
func (n *Node) Advertise(topicName, messageType string) (*PublisherHandle, error) {
	id, err := n.reg.Advertise(topicName, messageType)
	if err != nil {
		return nil, err
	}
	return &PublisherHandle{id: id, node: n}, nil
}

// Subscribe registers a subscriber slot; handler reports whether the
// payload was accepted (a false return increments malformed_message).
func (n *Node) Subscribe(topicName, messageType string, handler func(payload []byte) bool) (uint16, error) {
	return n.reg.Subscribe(topicName, messageType, handler)
}

// Publish sends payload under id. Called from within a subscriber handler
// (i.e. re-entrantly, during Spin's dispatch), it is queued instead of
// written immediately and flushed once Spin's byte-consuming loop returns,
// making re-entrant Publish safe by deferral rather than forbidding it
// outright.
func (n *Node) Publish(id uint16, payload []byte) error {
	encoded, err := wire.Encode(id, payload)
	if err != nil {
		return err
	}
	if n.inDispatch {
		n.pending = append(n.pending, encoded)
		return nil
	}
	if err := n.link.Write(encoded); err != nil {
		return err
	}
	metrics.IncFramesTx()
	return nil
}

// Log encodes and sends a Log frame under ID_LOG.
func (n *Node) Log(level uint8, text string) error {
	payload, err := msg.Marshal(msg.Log{Level: level, Msg: text})
	if err != nil {
		return err
	}
	if n.inDispatch {
		encoded, err := wire.Encode(wire.TopicLog, payload)
		if err != nil {
			return err
		}
		n.pending = append(n.pending, encoded)
		return nil
	}
	return n.SendFrame(wire.TopicLog, payload)
}

// Now returns the synced remote clock reading; ok is false before the
// first completed time-sync handshake.
func (n *Node) Now() (msg.Time, bool) { return n.ts.Now() }

// Connected reports the current liveness flag.
func (n *Node) Connected() bool { return n.ts.Connected() }

// Counters exposes the four saturating error counters plus unknown_topic.
func (n *Node) Counters() errcounters.Snapshot { return n.counters.Snap() }

// GetParam blocks (by repeatedly calling Spin itself) until the peer
// answers name or timeoutMS elapses.
func (n *Node) GetParam(name string, timeoutMS int64) (msg.ParamResponse, bool) {
	return n.param.GetParam(name, timeoutMS, func() { _, _ = n.Spin() })
}

// Spin performs one cooperative step: TimeSync housekeeping, then drains
// up to maxBytesPerSpin bytes from the link through the RxStateMachine,
// flushing any frames queued by re-entrant Publish/Log calls once done.
// It returns the number of bytes consumed and, if the link has permanently
// failed (bytelink.ErrClosed or any other read error), that error — the
// driver loop is expected to exit on a non-nil error rather than keep
// calling Spin on a dead link.
func (n *Node) Spin() (int, error) {
	n.ts.Tick()
	consumed := 0
	var linkErr error
	for consumed < n.maxBytesPerSpin {
		b, ok, err := n.link.TryReadByte()
		if err != nil {
			linkErr = err
			break
		}
		if !ok {
			break
		}
		n.rxm.Feed(b)
		consumed++
	}
	n.flushPending()
	return consumed, linkErr
}

func (n *Node) flushPending() {
	if len(n.pending) == 0 {
		return
	}
	pending := n.pending
	n.pending = nil
	for _, p := range pending {
		if err := n.link.Write(p); err != nil {
			n.logger.Warn("deferred_publish_write_failed", "error", err)
			continue
		}
		metrics.IncFramesTx()
	}
}

// Shutdown releases the underlying link.
func (n *Node) Shutdown() error { return n.link.Close() }

// PublisherHandle is returned by Advertise. It holds no reference back
// into the registry — only the dynamic id and a pointer to the owning
// Node, avoiding a cyclic reference from the registry back to the handle.
type PublisherHandle struct {
	id   uint16
	node *Node
}

// ID returns the dynamically assigned topic id.
func (p *PublisherHandle) ID() uint16 { return p.id }

// Publish sends payload under this publisher's topic id.
func (p *PublisherHandle) Publish(payload []byte) error {
	return p.node.Publish(p.id, payload)
}
