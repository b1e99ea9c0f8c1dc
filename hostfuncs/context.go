package hostfuncs

import (
	"context"

	"github.com/alec-deason/wasm-plugin/codec"
)

// HostContext wraps a standard context.Context with host function-specific helpers.
// It provides access to the invoked function name and the codec of the
// calling plugin.
type HostContext interface {
	context.Context

	// FunctionName returns the name of the host function being invoked.
	FunctionName() string

	// Codec returns the codec shared with the calling guest.
	Codec() codec.Codec
}

type hostContext struct {
	context.Context
	codec    codec.Codec
	funcName string
}

// NewHostContext creates a new HostContext wrapping the given context.
func NewHostContext(ctx context.Context, funcName string, c codec.Codec) HostContext {
	return &hostContext{
		Context:  ctx,
		codec:    c,
		funcName: funcName,
	}
}

func (c *hostContext) FunctionName() string {
	return c.funcName
}

func (c *hostContext) Codec() codec.Codec {
	return c.codec
}

// HostContextFrom extracts a HostContext from a context.Context.
// If the context is already a HostContext, it is returned directly.
// Otherwise, a new HostContext is created wrapping the given context.
func HostContextFrom(ctx context.Context, funcName string, c codec.Codec) HostContext {
	if hc, ok := ctx.(HostContext); ok {
		return hc
	}
	return NewHostContext(ctx, funcName, c)
}
