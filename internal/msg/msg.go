// Package msg defines the protocol's own payload schemas — TopicInfo, Time,
// Log, RequestParam, ParamResponse. These are the only message types the
// core ever deserializes itself; user publication payloads stay opaque
// byte blobs handled by the serializer/handler hooks on publisher and
// subscriber slots.
//
// Encoding uses cbor (github.com/fxamacker/cbor/v2) with the core's own
// deterministic mode so two engines produce byte-identical frames for the
// same values.
package msg

import "github.com/fxamacker/cbor/v2"

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// TopicInfo announces one publisher or subscriber slot during negotiation.
type TopicInfo struct {
	TopicID     uint16 `cbor:"1,keyasint"`
	TopicName   string `cbor:"2,keyasint"`
	MessageType string `cbor:"3,keyasint"`
}

// Time carries a remote clock reading for the time-sync handshake.
type Time struct {
	Sec  uint32 `cbor:"1,keyasint"`
	Nsec uint32 `cbor:"2,keyasint"`
}

// Log carries one log line from the device to the host.
type Log struct {
	Level uint8  `cbor:"1,keyasint"`
	Msg   string `cbor:"2,keyasint"`
}

// RequestParam asks the peer for the named parameter's value.
type RequestParam struct {
	Name string `cbor:"1,keyasint"`
}

// ParamResponse answers a RequestParam. Exactly one of Ints/Floats/Strings
// is populated for any given parameter, but the wire shape carries all
// three slices so typed accessors can validate the response shape the
// caller expected.
type ParamResponse struct {
	Ints    []int32  `cbor:"1,keyasint"`
	Floats  []float32 `cbor:"2,keyasint"`
	Strings []string `cbor:"3,keyasint"`
}

// Marshal encodes v with the canonical encoder.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }
