// Package paramclient implements ParamClient: a blocking parameter
// request/response with a caller-supplied timeout. It is the only
// component that blocks, and it does so by repeatedly calling Spin itself
// rather than yielding to an external scheduler.
package paramclient

import (
	"github.com/trailbridge/uagent/internal/clock"
	"github.com/trailbridge/uagent/internal/metrics"
	"github.com/trailbridge/uagent/internal/msg"
	"github.com/trailbridge/uagent/internal/wire"
)

// FrameSender emits an encoded frame.
type FrameSender interface {
	SendFrame(topicID uint16, payload []byte) error
}

// SpinFunc drives one cooperative step of the owning Node (RX pump plus
// housekeeping); ParamClient never touches the link directly.
type SpinFunc func()

// Client tracks the single outstanding parameter request. Only one request
// may be in flight at a time, matching the single-threaded cooperative
// model.
type Client struct {
	clk    clock.Clock
	sender FrameSender

	received bool
	response msg.ParamResponse
}

// New constructs a Client.
func New(clk clock.Clock, sender FrameSender) *Client {
	return &Client{clk: clk, sender: sender}
}

// OnResponse is the Dispatcher hook for an inbound ID_PARAMETER_REQUEST
// frame carrying a ParamResponse. A malformed payload is ignored — it is
// simply never delivered, and the caller's GetParam will time out.
func (c *Client) OnResponse(payload []byte) {
	var resp msg.ParamResponse
	if err := msg.Unmarshal(payload, &resp); err != nil {
		return
	}
	c.response = resp
	c.received = true
}

// GetParam blocks, driving spin in a loop, until either the response
// arrives or timeoutMS elapses.
func (c *Client) GetParam(name string, timeoutMS int64, spin SpinFunc) (msg.ParamResponse, bool) {
	c.received = false
	payload, err := msg.Marshal(msg.RequestParam{Name: name})
	if err != nil {
		return msg.ParamResponse{}, false
	}
	if err := c.sender.SendFrame(wire.TopicParameter, payload); err != nil {
		return msg.ParamResponse{}, false
	}
	start := c.clk.NowMillis()
	for {
		spin()
		if c.received {
			return c.response, true
		}
		if c.clk.NowMillis()-start >= timeoutMS {
			metrics.IncParamTimeout()
			return msg.ParamResponse{}, false
		}
	}
}

// Ints requests name and succeeds only if the response's Ints slice has
// exactly expectedLen elements. A length mismatch does not retry
// internally — the response is already consumed, and the caller must
// issue a fresh GetParam/Ints call.
func (c *Client) Ints(name string, timeoutMS int64, expectedLen int, spin SpinFunc) ([]int32, bool) {
	resp, ok := c.GetParam(name, timeoutMS, spin)
	if !ok || len(resp.Ints) != expectedLen {
		return nil, false
	}
	return resp.Ints, true
}

// Floats mirrors Ints for the Floats slice.
func (c *Client) Floats(name string, timeoutMS int64, expectedLen int, spin SpinFunc) ([]float32, bool) {
	resp, ok := c.GetParam(name, timeoutMS, spin)
	if !ok || len(resp.Floats) != expectedLen {
		return nil, false
	}
	return resp.Floats, true
}

// Strings mirrors Ints for the Strings slice.
func (c *Client) Strings(name string, timeoutMS int64, expectedLen int, spin SpinFunc) ([]string, bool) {
	resp, ok := c.GetParam(name, timeoutMS, spin)
	if !ok || len(resp.Strings) != expectedLen {
		return nil, false
	}
	return resp.Strings, true
}
