//go:build wasip1

package guest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alec-deason/wasm-plugin/hostfuncs"
)

//go:wasmimport env log_message
//nolint:revive // snake_case matches the import name
func host_log_message(ptr, length uint32) uint64

// LogHandler is a slog.Handler that forwards records to the host's
// log_message function. The host must register hostfuncs.LogBundle.
type LogHandler struct {
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// NewLogHandler returns a handler that drops records below level.
func NewLogHandler(level slog.Leveler) *LogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &LogHandler{level: level}
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler. Attributes are flattened into the message
// as key=value pairs.
func (h *LogHandler) Handle(_ context.Context, record slog.Record) error {
	var sb strings.Builder
	sb.WriteString(record.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value.Resolve())
	}
	record.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&sb, " %s=%v", h.qualify(a.Key), a.Value.Resolve())
		return true
	})

	_, err := CallImport[hostfuncs.LogRecord, bool](host_log_message, hostfuncs.LogRecord{
		Level:   strings.ToLower(record.Level.String()),
		Message: sb.String(),
	})
	return err
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = h.qualify(name)
	return &clone
}

func (h *LogHandler) qualify(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}
