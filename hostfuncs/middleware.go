package hostfuncs

import (
	"context"
	"fmt"
	"log/slog"
)

// Middleware is a function that wraps a ByteHandler to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
type Middleware func(next ByteHandler) ByteHandler

// PanicRecoveryMiddleware returns a middleware that turns a panicking handler
// into an ordinary error, which the runtime then surfaces as a guest trap.
func PanicRecoveryMiddleware() Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp = nil
					err = panicError(r)
				}
			}()
			return next(ctx, payload)
		}
	}
}

func panicError(v any) error {
	switch p := v.(type) {
	case error:
		return fmt.Errorf("panic: %w", p)
	case string:
		return fmt.Errorf("panic: %s", p)
	default:
		return fmt.Errorf("panic recovered: %v", p)
	}
}

// LoggingMiddleware returns a middleware that logs host function invocations.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			funcName := "unknown"
			if hc, ok := ctx.(HostContext); ok {
				funcName = hc.FunctionName()
			}
			logger.DebugContext(ctx, "invoking host function", "function", funcName, "bytes", len(payload))
			resp, err := next(ctx, payload)
			if err != nil {
				logger.ErrorContext(ctx, "host function failed", "function", funcName, "error", err)
			} else {
				logger.DebugContext(ctx, "host function completed", "function", funcName, "bytes", len(resp))
			}
			return resp, err
		}
	}
}
