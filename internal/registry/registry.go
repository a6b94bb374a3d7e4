// Package registry implements TopicRegistry: fixed-size publisher and
// subscriber slot tables with sequential dynamic-ID assignment, and
// negotiation-frame emission. Slots are assigned contiguously from fixed
// arrays rather than a map, since IDs here are a function of slot index,
// not a free choice by the caller.
package registry

import (
	"errors"
	"sync"

	"github.com/trailbridge/uagent/internal/msg"
	"github.com/trailbridge/uagent/internal/wire"
)

// ErrFull is returned by Advertise/Subscribe when no slot remains.
var ErrFull = errors.New("registry: no free slot")

// Publisher is one advertised outbound topic.
type Publisher struct {
	ID          uint16
	TopicName   string
	MessageType string
}

// Subscriber is one subscribed inbound topic. Handler reports
// whether the payload was accepted; a false return increments
// malformed_message.
type Subscriber struct {
	ID          uint16
	TopicName   string
	MessageType string
	Handler     func(payload []byte) bool
}

// FrameSender emits an encoded frame; Registry uses it only for
// negotiation TopicInfo announcements.
type FrameSender interface {
	SendFrame(topicID uint16, payload []byte) error
}

// Registry owns publisher and subscriber slot tables for one Node. Slot
// lifetime equals node lifetime; mutated only by Advertise/Subscribe.
type Registry struct {
	mu   sync.RWMutex
	pubs [wire.MaxPublishers]*Publisher
	subs [wire.MaxSubscribers]*Subscriber
}

// New returns an empty Registry.
func New() *Registry { return &Registry{} }

// Advertise finds the first empty publisher slot and assigns
// id = slot_index + 100 + MAX_SUBSCRIBERS.
func (r *Registry) Advertise(topicName, messageType string) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pubs {
		if p == nil {
			id := uint16(i) + wire.DynamicIDBase + wire.MaxSubscribers
			r.pubs[i] = &Publisher{ID: id, TopicName: topicName, MessageType: messageType}
			return id, nil
		}
	}
	return 0, ErrFull
}

// Subscribe finds the first empty subscriber slot and assigns
// id = slot_index + 100.
func (r *Registry) Subscribe(topicName, messageType string, handler func(payload []byte) bool) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s == nil {
			id := uint16(i) + wire.DynamicIDBase
			r.subs[i] = &Subscriber{ID: id, TopicName: topicName, MessageType: messageType, Handler: handler}
			return id, nil
		}
	}
	return 0, ErrFull
}

// SubscriberByID returns the occupied subscriber slot for id, if any.
func (r *Registry) SubscriberByID(id uint16) (*Subscriber, bool) {
	if id < wire.DynamicIDBase || id >= wire.DynamicIDBase+wire.MaxSubscribers {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.subs[id-wire.DynamicIDBase]
	if s == nil {
		return nil, false
	}
	return s, true
}

// EmitAll encodes a TopicInfo frame for every occupied slot — publishers
// first, then subscribers — under the TOPIC_PUBLISHERS / TOPIC_SUBSCRIBERS
// outer topic id, and sends each via sender.
func (r *Registry) EmitAll(sender FrameSender) error {
	r.mu.RLock()
	pubs := make([]*Publisher, 0, wire.MaxPublishers)
	for _, p := range r.pubs {
		if p != nil {
			pubs = append(pubs, p)
		}
	}
	subs := make([]*Subscriber, 0, wire.MaxSubscribers)
	for _, s := range r.subs {
		if s != nil {
			subs = append(subs, s)
		}
	}
	r.mu.RUnlock()

	for _, p := range pubs {
		payload, err := msg.Marshal(msg.TopicInfo{TopicID: p.ID, TopicName: p.TopicName, MessageType: p.MessageType})
		if err != nil {
			return err
		}
		if err := sender.SendFrame(wire.TopicPublishers, payload); err != nil {
			return err
		}
	}
	for _, s := range subs {
		payload, err := msg.Marshal(msg.TopicInfo{TopicID: s.ID, TopicName: s.TopicName, MessageType: s.MessageType})
		if err != nil {
			return err
		}
		if err := sender.SendFrame(wire.TopicSubscribers, payload); err != nil {
			return err
		}
	}
	return nil
}
