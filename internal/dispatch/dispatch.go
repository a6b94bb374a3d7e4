// Package dispatch implements Dispatcher: routes one validated frame to the
// registry, time-sync handshake, parameter client, or a subscriber handler,
// by topic id, through a single callback dispatch point.
package dispatch

import (
	"github.com/trailbridge/uagent/internal/errcounters"
	"github.com/trailbridge/uagent/internal/metrics"
	"github.com/trailbridge/uagent/internal/registry"
	"github.com/trailbridge/uagent/internal/timesync"
	"github.com/trailbridge/uagent/internal/wire"
)

// ParamResponder receives a raw ID_PARAMETER_REQUEST payload.
type ParamResponder interface {
	OnResponse(payload []byte)
}

// Dispatcher ties the registry/time-sync/param-client/subscriber-slots
// together behind one routing function.
type Dispatcher struct {
	reg      *registry.Registry
	ts       *timesync.TimeSync
	param    ParamResponder
	counters *errcounters.Counters
	sender   registry.FrameSender
}

// New constructs a Dispatcher.
func New(reg *registry.Registry, ts *timesync.TimeSync, param ParamResponder, counters *errcounters.Counters, sender registry.FrameSender) *Dispatcher {
	return &Dispatcher{reg: reg, ts: ts, param: param, counters: counters, sender: sender}
}

// Dispatch routes one validated (checksum-verified) frame by topic id.
func (d *Dispatcher) Dispatch(topicID uint16, payload []byte) {
	switch {
	case topicID == wire.TopicNegotiation:
		_ = d.reg.EmitAll(d.sender)
		_ = d.ts.Request()
	case topicID == wire.TopicTime:
		d.ts.Complete(payload)
	case topicID == wire.TopicParameter:
		d.param.OnResponse(payload)
	case topicID >= wire.DynamicIDBase && topicID < wire.DynamicIDBase+wire.MaxSubscribers:
		sub, ok := d.reg.SubscriberByID(topicID)
		if !ok {
			d.counters.IncChecksum()
			d.counters.IncUnknownTopic()
			metrics.IncChecksumError()
			metrics.IncUnknownTopicError()
			return
		}
		if !sub.Handler(payload) {
			d.counters.IncMalformedMessage()
			metrics.IncMalformedMessageError()
		}
	default:
		// Unroutable-but-valid frame: reuses the checksum counter for
		// wire compatibility with the peer firmware's own accounting,
		// plus a distinct unknown_topic counter for callers who want to
		// tell the two apart.
		d.counters.IncChecksum()
		d.counters.IncUnknownTopic()
		metrics.IncChecksumError()
		metrics.IncUnknownTopicError()
	}
}
