// Package transport carries internal/bridgerpc's Client/Server interfaces
// over a real google.golang.org/grpc connection (teacher go.mod), without
// a protoc code-generation step: messages are plain JSON-tagged Go
// structs (internal/bridgerpc) framed by a hand-registered grpc
// encoding.Codec instead of protobuf wire format.
package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
