package hostfuncs

import (
	"context"
	"fmt"
)

// HostFunc is a generic function signature for host functions.
// It accepts a context and a typed request, and returns a typed response.
type HostFunc[Req any, Resp any] func(context.Context, Req) (Resp, error)

// ByteHandler is a function that accepts encoded bytes and returns encoded bytes.
// This is the common interface the host runtime invokes from guest imports.
type ByteHandler func(context.Context, []byte) ([]byte, error)

// NewHandler wraps a typed HostFunc into a ByteHandler.
// The request is decoded and the response encoded with the calling plugin's
// codec, taken from the HostContext.
//
// Usage:
//
//	capitalize := hostfuncs.NewHandler(func(ctx context.Context, s string) (string, error) {
//	    return strings.ToUpper(s), nil
//	})
//
//	registry, _ := hostfuncs.NewRegistry(
//	    hostfuncs.WithByteHandler("please_capitalize_this", capitalize),
//	)
func NewHandler[Req any, Resp any](fn HostFunc[Req, Resp]) ByteHandler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		hc, ok := ctx.(HostContext)
		if !ok || hc.Codec() == nil {
			return nil, fmt.Errorf("no codec bound to host function context")
		}
		c := hc.Codec()

		var req Req
		if len(payload) > 0 {
			if err := c.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("failed to decode request: %w", err)
			}
		}

		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}

		respBytes, err := c.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to encode response: %w", err)
		}
		return respBytes, nil
	}
}
