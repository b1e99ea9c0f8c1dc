package hostfuncs

import (
	"context"
	"log/slog"
	"strings"
)

// HostFuncBundle is a pre-configured set of related host functions.
// Bundles allow registering multiple handlers at once for common use cases.
type HostFuncBundle interface {
	// Handlers returns a map of handler names to ByteHandler functions.
	Handlers() map[string]ByteHandler
}

// staticBundle implements HostFuncBundle with a fixed set of handlers.
type staticBundle struct {
	handlers map[string]ByteHandler
}

func (b *staticBundle) Handlers() map[string]ByteHandler {
	return b.handlers
}

// LogMessageFunction is the import name guests use to write to the host log.
const LogMessageFunction = "log_message"

// LogRecord is the message a guest sends to LogMessageFunction.
type LogRecord struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// LogBundle returns a bundle exposing log_message, which forwards guest log
// records to logger at the requested level.
func LogBundle(logger *slog.Logger) HostFuncBundle {
	return &staticBundle{
		handlers: map[string]ByteHandler{
			LogMessageFunction: NewHandler(func(ctx context.Context, rec LogRecord) (bool, error) {
				logger.Log(ctx, parseLevel(rec.Level), rec.Message, "source", "guest")
				return true, nil
			}),
		},
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
