package jrpc

import (
	"github.com/go-json-experiment/json"
)

// Codec is a marshal/unmarshal function pair used for everything that
// crosses the wire: envelopes, params and results. The zero Codec uses
// go-json-experiment defaults; callers with non-primitive types can
// install their own pair (e.g. one built with custom marshalers).
type Codec struct {
	Marshal   func(any) ([]byte, error)
	Unmarshal func([]byte, any) error
}

func defaultCodec() Codec { return Codec{} }

func (c Codec) marshal(v any) ([]byte, error) {
	if c.Marshal != nil {
		return c.Marshal(v)
	}
	return json.Marshal(v)
}

func (c Codec) unmarshal(data []byte, v any) error {
	if c.Unmarshal != nil {
		return c.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}
