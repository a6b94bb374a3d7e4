// Package rx implements the byte-driven receive state machine from
// FirstFF -> SecondFF -> TopicLow -> TopicHigh -> SizeLow ->
// SizeHigh -> Message -> Checksum -> FirstFF. It is fed one byte at a time
// (by Node.Spin, reading from a ByteLink) and calls back into a
// Dispatcher-shaped function for every frame whose checksum verifies.
//
// It resynchronizes on a sync marker and accumulates a running checksum
// over the covered bytes, structured as an explicit per-byte FSM so each
// state transition is directly testable.
package rx

import (
	"github.com/trailbridge/uagent/internal/errcounters"
	"github.com/trailbridge/uagent/internal/metrics"
	"github.com/trailbridge/uagent/internal/wire"
)

// State is one of the eight states in transition table.
type State int

const (
	FirstFF State = iota
	SecondFF
	TopicLow
	TopicHigh
	SizeLow
	SizeHigh
	Message
	Checksum
)

// OnFrame is called once per frame whose checksum verifies. The payload
// slice is only valid for the duration of the call — callers that need to
// retain it must copy.
type OnFrame func(topicID uint16, payload []byte)

// Machine is the single-threaded, allocation-free (after construction)
// receive state machine. Not safe for concurrent use — it is driven by
// exactly one goroutine (Node.Spin).
type Machine struct {
	state     State
	topic     uint16
	remaining uint16
	dataIndex int
	accum     int
	buf       [wire.MaxPayload]byte

	counters *errcounters.Counters
	onFrame  OnFrame
}

// New builds a Machine in the FirstFF state. onFrame may be nil (useful in
// tests that only exercise state transitions).
func New(counters *errcounters.Counters, onFrame OnFrame) *Machine {
	return &Machine{counters: counters, onFrame: onFrame}
}

// State returns the machine's current state, mostly useful for tests.
func (m *Machine) State() State { return m.state }

// Reset clears state, remaining, topic, dataIndex and checksum, returning
// the machine to FirstFF. TimeSync also calls this when a connection drops,
// to flush a half-parsed frame.
func (m *Machine) Reset() {
	m.state = FirstFF
	m.topic = 0
	m.remaining = 0
	m.dataIndex = 0
	m.accum = 0
}

// Feed processes one inbound byte, advancing the state machine and
// delivering at most one complete frame via onFrame.
func (m *Machine) Feed(b byte) {
	switch m.state {
	case FirstFF:
		if b == wire.Sync0 {
			m.state = SecondFF
		} else {
			m.counters.IncState()
			metrics.IncStateError()
		}
	case SecondFF:
		if b == wire.Sync1 {
			m.state = TopicLow
		} else {
			m.state = FirstFF
			m.counters.IncState()
			metrics.IncStateError()
		}
	case TopicLow:
		m.topic = uint16(b)
		m.accum = int(b)
		m.state = TopicHigh
	case TopicHigh:
		m.topic |= uint16(b) << 8
		m.accum += int(b)
		m.state = SizeLow
	case SizeLow:
		m.remaining = uint16(b)
		m.accum += int(b)
		m.state = SizeHigh
	case SizeHigh:
		m.remaining |= uint16(b) << 8
		m.accum += int(b)
		switch {
		case m.remaining > wire.MaxPayload:
			m.counters.IncInvalidSize()
			metrics.IncInvalidSizeError()
			m.Reset()
		case m.remaining == 0:
			m.state = Checksum
		default:
			m.dataIndex = 0
			m.state = Message
		}
	case Message:
		m.buf[m.dataIndex] = b
		m.dataIndex++
		m.accum += int(b)
		m.remaining--
		if m.remaining == 0 {
			m.state = Checksum
		}
	case Checksum:
		if wire.Verify(m.accum, b) {
			metrics.IncFramesRx()
			if m.onFrame != nil {
				m.onFrame(m.topic, m.buf[:m.dataIndex])
			}
		}
		m.Reset()
	}
}

// FeedBytes processes each byte in p in order. If p ends partway through a
// frame, the machine keeps its state and the next Feed/FeedBytes call
// continues that frame.
func (m *Machine) FeedBytes(p []byte) {
	for _, b := range p {
		m.Feed(b)
	}
}
