// Package session tracks the set of active links this agent process is
// driving. Each link owns an isolated Node, so there is deliberately no
// Broadcast here: no two sessions ever share topic state or frames.
package session

import (
	"sync"

	"github.com/trailbridge/uagent/internal/metrics"
	"github.com/trailbridge/uagent/internal/node"
)

// Registry tracks every live session for graceful shutdown and the
// active-link gauge.
type Registry struct {
	mu       sync.RWMutex
	sessions map[*node.Node]struct{}
}

// New returns an empty Registry.
func New() *Registry { return &Registry{sessions: make(map[*node.Node]struct{})} }

// Add registers n as a live session.
func (r *Registry) Add(n *node.Node) {
	r.mu.Lock()
	r.sessions[n] = struct{}{}
	cur := len(r.sessions)
	r.mu.Unlock()
	metrics.SetActiveLinks(cur)
}

// Remove unregisters n; safe to call more than once.
func (r *Registry) Remove(n *node.Node) {
	r.mu.Lock()
	delete(r.sessions, n)
	cur := len(r.sessions)
	r.mu.Unlock()
	metrics.SetActiveLinks(cur)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown shuts down every tracked session and clears the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*node.Node, 0, len(r.sessions))
	for n := range r.sessions {
		sessions = append(sessions, n)
	}
	r.sessions = make(map[*node.Node]struct{})
	r.mu.Unlock()
	for _, n := range sessions {
		_ = n.Shutdown()
	}
	metrics.SetActiveLinks(0)
}
