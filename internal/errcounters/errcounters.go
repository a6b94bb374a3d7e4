// Package errcounters holds the RxStateMachine/Dispatcher's saturating error
// counters. They are monotonic, never reset by the engine,
// and saturate rather than wrap at math.MaxUint32.
package errcounters

import (
	"math"
	"sync/atomic"
)

// Counters mirrors ErrorCounters plus a distinct unknown_topic counter kept
// alongside the checksum_error one. An unroutable frame increments both, so
// checksum_error still counts it and unknown_topic counts only such frames.
type Counters struct {
	invalidSize      atomic.Uint32
	checksum         atomic.Uint32
	state            atomic.Uint32
	malformedMessage atomic.Uint32
	unknownTopic     atomic.Uint32
}

// Snapshot is a cheap, consistent-enough point-in-time copy for logging and
// tests.
type Snapshot struct {
	InvalidSize      uint32
	Checksum         uint32
	State            uint32
	MalformedMessage uint32
	UnknownTopic     uint32
}

func incSaturating(c *atomic.Uint32) {
	for {
		cur := c.Load()
		if cur == math.MaxUint32 {
			return
		}
		if c.CompareAndSwap(cur, cur+1) {
			return
		}
	}
}

func (c *Counters) IncInvalidSize()      { incSaturating(&c.invalidSize) }
func (c *Counters) IncChecksum()         { incSaturating(&c.checksum) }
func (c *Counters) IncState()            { incSaturating(&c.state) }
func (c *Counters) IncMalformedMessage() { incSaturating(&c.malformedMessage) }
func (c *Counters) IncUnknownTopic()     { incSaturating(&c.unknownTopic) }

// Snap returns a consistent-enough point-in-time copy of all counters.
func (c *Counters) Snap() Snapshot {
	return Snapshot{
		InvalidSize:      c.invalidSize.Load(),
		Checksum:         c.checksum.Load(),
		State:            c.state.Load(),
		MalformedMessage: c.malformedMessage.Load(),
		UnknownTopic:     c.unknownTopic.Load(),
	}
}
