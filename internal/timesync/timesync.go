// Package timesync implements the round-trip time-sync handshake and the
// connection-liveness model. It is driven once per spin by Node and
// otherwise only reacts to an inbound ID_TIME frame and the negotiation
// trigger.
package timesync

import (
	"github.com/trailbridge/uagent/internal/clock"
	"github.com/trailbridge/uagent/internal/metrics"
	"github.com/trailbridge/uagent/internal/msg"
	"github.com/trailbridge/uagent/internal/wire"
)

// HandshakeState is TimeSync's own Idle/InFlight/Synced state,
// distinct from the coarser ConnectionState exposed to callers.
type HandshakeState int

const (
	Idle HandshakeState = iota
	InFlight
	Synced
)

// ConnectionState is the coarse Disconnected/ConnSyncing/Connected enum
// exposed to callers via Node.Connected.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	ConnSyncing
	Connected
)

// FrameSender emits an encoded frame.
type FrameSender interface {
	SendFrame(topicID uint16, payload []byte) error
}

// Resetter flushes a half-parsed inbound frame, implemented by rx.Machine.
type Resetter interface {
	Reset()
}

// TimeSync owns the handshake state machine, the derived ConnectionState,
// and the SyncedClock offset computation.
type TimeSync struct {
	clk    clock.Clock
	sender FrameSender
	rx     Resetter

	syncPeriodMS  int64
	connTimeoutMS int64

	hState HandshakeState
	cState ConnectionState

	tStartMS int64 // handshake start, local clock
	tEndMS   int64 // last completed handshake, local clock

	remoteEpochMS int64 // peer clock value (ms since its own epoch) at tEndMS
	haveEpoch     bool
}

// New constructs a TimeSync. syncPeriodMS/connTimeoutMS default to
// wire.SyncPeriodMS/wire.ConnTimeoutMS when zero.
func New(clk clock.Clock, sender FrameSender, rx Resetter, syncPeriodMS, connTimeoutMS int64) *TimeSync {
	if syncPeriodMS == 0 {
		syncPeriodMS = wire.SyncPeriodMS
	}
	if connTimeoutMS == 0 {
		connTimeoutMS = wire.ConnTimeoutMS
	}
	return &TimeSync{clk: clk, sender: sender, rx: rx, syncPeriodMS: syncPeriodMS, connTimeoutMS: connTimeoutMS}
}

// Request initiates the handshake unless one is already in flight.
func (t *TimeSync) Request() error {
	if t.hState == InFlight {
		return nil
	}
	t.tStartMS = t.clk.NowMillis()
	t.hState = InFlight
	if t.cState == Disconnected {
		t.cState = ConnSyncing
	}
	payload, err := msg.Marshal(msg.Time{})
	if err != nil {
		return err
	}
	return t.sender.SendFrame(wire.TopicTime, payload)
}

// Complete handles an inbound ID_TIME frame carrying the peer's current
// time. A malformed payload aborts silently, leaving the handshake
// InFlight.
func (t *TimeSync) Complete(payload []byte) {
	var remote msg.Time
	if err := msg.Unmarshal(payload, &remote); err != nil {
		return
	}
	tEnd := t.clk.NowMillis()
	offsetMS := (tEnd - t.tStartMS) / 2
	remoteMS := int64(remote.Sec)*1000 + int64(remote.Nsec)/1_000_000
	t.remoteEpochMS = remoteMS + offsetMS
	t.haveEpoch = true
	t.tEndMS = tEnd
	t.hState = Synced
	t.cState = Connected
	metrics.IncSyncRoundTrip()
}

// Tick runs TimeSync's housekeeping; called once per Node.Spin.
func (t *TimeSync) Tick() {
	if t.cState != Connected {
		return
	}
	now := t.clk.NowMillis()
	if now-t.tEndMS > t.connTimeoutMS {
		t.cState = Disconnected
		t.hState = Idle
		t.haveEpoch = false
		if t.rx != nil {
			t.rx.Reset()
		}
		return
	}
	if now-t.tEndMS > t.syncPeriodMS {
		_ = t.Request()
	}
}

// Connected reports whether the liveness flag is currently set.
func (t *TimeSync) Connected() bool { return t.cState == Connected }

// ConnectionState exposes the coarse connection state for observability.
func (t *TimeSync) ConnectionState() ConnectionState { return t.cState }

// Now returns the synced remote clock reading, or ok=false before the
// first completed handshake.
func (t *TimeSync) Now() (msg.Time, bool) {
	if !t.haveEpoch {
		return msg.Time{}, false
	}
	elapsed := t.clk.NowMillis() - t.tEndMS
	totalMS := t.remoteEpochMS + elapsed
	return msg.Time{Sec: uint32(totalMS / 1000), Nsec: uint32((totalMS % 1000) * 1_000_000)}, true
}
