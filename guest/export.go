//go:build wasip1

package guest

import (
	"fmt"
	"sync"

	"github.com/alec-deason/wasm-plugin/codec"
	"github.com/alec-deason/wasm-plugin/internal/abi"
)

var (
	codecMu sync.RWMutex
	active  = codec.MustNew(codec.KindJSON)
)

// SetCodec selects the codec used for every message this module exchanges.
// It must match the codec the host was configured with.
func SetCodec(kind codec.Kind) error {
	c, err := codec.New(kind)
	if err != nil {
		return err
	}
	codecMu.Lock()
	active = c
	codecMu.Unlock()
	return nil
}

func currentCodec() codec.Codec {
	codecMu.RLock()
	defer codecMu.RUnlock()
	return active
}

// ImportFunc is a host function declared with go:wasmimport using the
// (ptr, len) -> fat pointer shape.
type ImportFunc func(ptr, length uint32) uint64

// ImportFuncNoArgs is a host function declared with go:wasmimport using the
// () -> fat pointer shape.
type ImportFuncNoArgs func() uint64

// Handle implements an exported plugin function that takes one argument.
// It takes ownership of the argument buffer, decodes it into Req, runs fn
// and returns the encoded result as a fat pointer owned by the host.
//
// Failures trap: the host observes them as a guest trap on the call.
func Handle[Req, Resp any](ptr, length uint32, fn func(Req) (Resp, error)) uint64 {
	payload := read(ptr, length)
	deallocate(ptr, length)

	var req Req
	if len(payload) > 0 {
		if err := currentCodec().Unmarshal(payload, &req); err != nil {
			panic(fmt.Sprintf("guest: failed to decode argument: %v", err))
		}
	}
	return respond(fn(req))
}

// HandleNoArgs implements an exported plugin function that takes no argument.
func HandleNoArgs[Resp any](fn func() (Resp, error)) uint64 {
	return respond(fn())
}

func respond[Resp any](resp Resp, err error) uint64 {
	if err != nil {
		panic(fmt.Sprintf("guest: %v", err))
	}
	out, err := currentCodec().Marshal(resp)
	if err != nil {
		panic(fmt.Sprintf("guest: failed to encode result: %v", err))
	}
	return toPacked(out)
}

// CallImport calls a host function with req and decodes its result.
// The argument buffer is freed once the call returns, and so is the result
// buffer the host allocated.
func CallImport[Req, Resp any](fn ImportFunc, req Req) (Resp, error) {
	payload, err := currentCodec().Marshal(req)
	if err != nil {
		var zero Resp
		return zero, fmt.Errorf("guest: failed to encode import argument: %w", err)
	}
	ptr, length := toArgs(payload)
	packed := fn(ptr, length)
	deallocate(ptr, length)
	return Decode[Resp](packed)
}

// CallImportNoArgs calls a host function that takes no argument.
func CallImportNoArgs[Resp any](fn ImportFuncNoArgs) (Resp, error) {
	return Decode[Resp](fn())
}

// Decode reads the message behind a fat pointer this module owns, frees it,
// and decodes it into T. An empty message decodes to the zero value.
func Decode[T any](packed uint64) (T, error) {
	var out T
	if err := abi.ValidatePacked(packed); err != nil {
		return out, fmt.Errorf("guest: invalid result: %w", err)
	}
	ptr, length := abi.UnpackPtrLen(packed)
	data := read(ptr, length)
	deallocate(ptr, length)

	if len(data) == 0 {
		return out, nil
	}
	if err := currentCodec().Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("guest: failed to decode result: %w", err)
	}
	return out, nil
}
