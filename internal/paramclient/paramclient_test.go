package paramclient

import (
	"testing"
	"time"

	"github.com/trailbridge/uagent/internal/clock"
	"github.com/trailbridge/uagent/internal/msg"
)

type fakeSender struct {
	sent int
}

func (f *fakeSender) SendFrame(uint16, []byte) error { f.sent++; return nil }

func TestClient_GetParam_DeliversResponse(t *testing.T) {
	clk := clock.NewManual()
	sender := &fakeSender{}
	c := New(clk, sender)

	spins := 0
	spin := func() {
		spins++
		if spins == 3 {
			payload, err := msg.Marshal(msg.ParamResponse{Ints: []int32{7}})
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			c.OnResponse(payload)
		}
	}
	resp, ok := c.GetParam("gain", 1000, spin)
	if !ok {
		t.Fatalf("GetParam ok = false, want true")
	}
	if len(resp.Ints) != 1 || resp.Ints[0] != 7 {
		t.Fatalf("resp.Ints = %v, want [7]", resp.Ints)
	}
	if sender.sent != 1 {
		t.Fatalf("sent = %d, want exactly one RequestParam frame", sender.sent)
	}
}

func TestClient_GetParam_TimesOut(t *testing.T) {
	clk := clock.NewManual()
	c := New(clk, &fakeSender{})
	spin := func() { clk.Advance(10 * time.Millisecond) }
	_, ok := c.GetParam("missing", 50, spin)
	if ok {
		t.Fatalf("GetParam ok = true, want false on timeout with no response")
	}
}

func TestClient_Ints_RejectsLengthMismatch(t *testing.T) {
	clk := clock.NewManual()
	c := New(clk, &fakeSender{})
	spin := func() {
		payload, _ := msg.Marshal(msg.ParamResponse{Ints: []int32{1, 2}})
		c.OnResponse(payload)
	}
	_, ok := c.Ints("vec", 1000, 3, spin)
	if ok {
		t.Fatalf("Ints ok = true, want false when the response length does not match expectedLen")
	}
}

func TestClient_Floats_AcceptsMatchingLength(t *testing.T) {
	clk := clock.NewManual()
	c := New(clk, &fakeSender{})
	spin := func() {
		payload, _ := msg.Marshal(msg.ParamResponse{Floats: []float32{1.5, 2.5}})
		c.OnResponse(payload)
	}
	got, ok := c.Floats("vec", 1000, 2, spin)
	if !ok {
		t.Fatalf("Floats ok = false, want true for a matching-length response")
	}
	if len(got) != 2 || got[0] != 1.5 {
		t.Fatalf("got = %v, want [1.5 2.5]", got)
	}
}
