package rpcapi

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered with the gRPC encoding registry and must
// match the value both client and server set via grpc.CallContentSubtype
// / grpc.ForceServerCodec, since Depi's messages are plain Go structs
// rather than protobuf (spec §1: message shapes are opaque).
const CodecName = "depi"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// Codec returns the encoding.Codec instance registered under CodecName,
// for installing directly via grpc.ForceServerCodec on the server side.
func Codec() encoding.Codec { return gobCodec{} }

// gobCodec implements encoding.Codec by gob-encoding the plain Go
// request/response structs declared in messages.go.
type gobCodec struct{}

func (gobCodec) Name() string { return CodecName }

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("rpcapi: gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("rpcapi: gob unmarshal: %w", err)
	}
	return nil
}
