package host

import (
	"io"
	"log/slog"

	"github.com/alec-deason/wasm-plugin/codec"
	"github.com/alec-deason/wasm-plugin/hostfuncs"
	"github.com/alec-deason/wasm-plugin/internal/abi"
)

// Generation identifies the calling convention of a plugin.
type Generation = abi.Generation

const (
	// GenerationAuto detects the convention from the module's exports.
	GenerationAuto = abi.GenerationUnknown
	// GenerationFixedBuffer passes messages through the guest's MESSAGE_BUFFER.
	GenerationFixedBuffer = abi.GenerationFixedBuffer
	// GenerationFatPointer passes messages through guest allocations.
	GenerationFatPointer = abi.GenerationFatPointer
)

// executorSettings accumulates options before the executor is built.
type executorSettings struct {
	cfg      Config
	registry *hostfuncs.HandlerRegistry
	logger   *slog.Logger
	entropy  io.Reader
}

// Option defines a functional option for configuring the Executor.
type Option func(*executorSettings)

// WithConfig replaces the whole configuration. Options applied after it
// still take effect.
func WithConfig(cfg Config) Option {
	return func(s *executorSettings) {
		s.cfg = cfg
	}
}

// WithCodec selects the serialization format shared with guests.
func WithCodec(kind codec.Kind) Option {
	return func(s *executorSettings) {
		s.cfg.Codec = kind
	}
}

// WithGeneration forces a calling convention instead of detecting it.
func WithGeneration(g Generation) Option {
	return func(s *executorSettings) {
		s.cfg.ABI = g.String()
	}
}

// WithHostFunctions configures the executor with a host function registry.
func WithHostFunctions(registry *hostfuncs.HandlerRegistry) Option {
	return func(s *executorSettings) {
		s.registry = registry
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *executorSettings) {
		s.logger = logger
	}
}

// WithEntropySource sets the reader __getrandom draws from. Defaults to
// crypto/rand.Reader.
func WithEntropySource(r io.Reader) Option {
	return func(s *executorSettings) {
		s.entropy = r
	}
}
