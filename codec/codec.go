// Package codec provides the serialization formats used to move typed values
// across the host/guest boundary.
//
// Exactly one codec is active per plugin instance and it must match the codec
// compiled into the guest: the wire format carries no version tag, so a
// mismatch surfaces as a decode error rather than a protocol diagnostic.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	gojson "github.com/goccy/go-json"
	jsoniter "github.com/json-iterator/go"

	"github.com/alec-deason/wasm-plugin/domain/errors"
)

// Kind names a concrete serialization format.
type Kind string

const (
	// KindJSON is the standard library JSON encoding.
	KindJSON Kind = "json"
	// KindCBOR is the compact binary encoding (RFC 8949, core deterministic).
	KindCBOR Kind = "cbor"
	// KindGoJSON is JSON produced by goccy/go-json.
	KindGoJSON Kind = "gojson"
	// KindJSONIter is JSON produced by json-iterator in standard-library mode.
	KindJSONIter Kind = "jsoniter"
)

// Kinds lists every supported codec kind.
func Kinds() []Kind {
	return []Kind{KindJSON, KindCBOR, KindGoJSON, KindJSONIter}
}

// Codec maps typed values to bytes and back. Implementations are stateless,
// deterministic, and wrap every failure in *errors.SerializationError.
type Codec interface {
	Kind() Kind
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// New returns the codec for kind.
func New(kind Kind) (Codec, error) {
	switch kind {
	case KindJSON:
		return funcCodec{kind: kind, marshal: json.Marshal, unmarshal: json.Unmarshal}, nil
	case KindCBOR:
		return funcCodec{kind: kind, marshal: cborEncMode.Marshal, unmarshal: cborDecMode.Unmarshal}, nil
	case KindGoJSON:
		return funcCodec{kind: kind, marshal: gojson.Marshal, unmarshal: gojson.Unmarshal}, nil
	case KindJSONIter:
		api := jsoniter.ConfigCompatibleWithStandardLibrary
		return funcCodec{kind: kind, marshal: api.Marshal, unmarshal: api.Unmarshal}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", kind)
	}
}

// MustNew is like New but panics on an unknown kind.
func MustNew(kind Kind) Codec {
	c, err := New(kind)
	if err != nil {
		panic(err)
	}
	return c
}

var (
	cborEncMode = mustEncMode(cbor.CoreDetEncOptions())
	cborDecMode = mustDecMode(cbor.DecOptions{})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	dm, err := opts.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

type funcCodec struct {
	marshal   func(v any) ([]byte, error)
	unmarshal func(data []byte, v any) error
	kind      Kind
}

func (c funcCodec) Kind() Kind {
	return c.kind
}

func (c funcCodec) Marshal(v any) ([]byte, error) {
	data, err := c.marshal(v)
	if err != nil {
		return nil, &errors.SerializationError{Codec: string(c.kind), Operation: "encode", Err: err}
	}
	return data, nil
}

func (c funcCodec) Unmarshal(data []byte, v any) error {
	if err := c.unmarshal(data, v); err != nil {
		return &errors.SerializationError{Codec: string(c.kind), Operation: "decode", Err: err}
	}
	return nil
}
