package session

import (
	"testing"

	"github.com/trailbridge/uagent/internal/bytelink"
	"github.com/trailbridge/uagent/internal/clock"
	"github.com/trailbridge/uagent/internal/node"
)

func TestRegistry_AddRemoveCount(t *testing.T) {
	r := New()
	n1 := node.New(bytelink.NewLoopback(), clock.NewManual())
	n2 := node.New(bytelink.NewLoopback(), clock.NewManual())

	r.Add(n1)
	r.Add(n2)
	if got := r.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}
	r.Remove(n1)
	if got := r.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1 after removing one session", got)
	}
	// Removing twice must not panic or double-decrement.
	r.Remove(n1)
	if got := r.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1 after a redundant Remove", got)
	}
}

func TestRegistry_ShutdownClosesEverySession(t *testing.T) {
	r := New()
	links := []*bytelink.Loopback{bytelink.NewLoopback(), bytelink.NewLoopback()}
	for _, l := range links {
		r.Add(node.New(l, clock.NewManual()))
	}
	r.Shutdown()
	if got := r.Count(); got != 0 {
		t.Fatalf("Count() = %d, want 0 after Shutdown", got)
	}
	for i, l := range links {
		if err := l.Write([]byte{1}); err != bytelink.ErrClosed {
			t.Fatalf("link %d: Write after Shutdown returned err=%v, want ErrClosed", i, err)
		}
	}
}
