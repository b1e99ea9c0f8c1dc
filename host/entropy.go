package host

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/alec-deason/wasm-plugin/domain/errors"
	"github.com/alec-deason/wasm-plugin/internal/abi"
	"github.com/alec-deason/wasm-plugin/memory"
)

// lockedReader serializes reads from an entropy source shared by every
// plugin of an executor.
type lockedReader struct {
	mu sync.Mutex
	r  io.Reader
}

func (l *lockedReader) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Read(p)
}

// getRandom implements __getrandom(ptr, len): it fills the guest range with
// bytes from the entropy source.
func (p *PluginInstance) getRandom(ctx context.Context, mod api.Module, stack []uint64) {
	ptr, length := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	if err := p.fillRandom(mod, ptr, length); err != nil {
		p.logger.ErrorContext(ctx, "entropy injection failed", "plugin", p.name, "bytes", length, "error", err)
		panic(&errors.HostFunctionError{Name: abi.GetRandomImport, Err: err})
	}
}

func (p *PluginInstance) fillRandom(mod api.Module, ptr, length uint32) error {
	if length > p.maxMessageSize {
		return fmt.Errorf("request for %d bytes exceeds maximum message size %d", length, p.maxMessageSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(p.entropy, buf); err != nil {
		return fmt.Errorf("failed to read entropy: %w", err)
	}
	return memory.NewBridge(mod.Memory()).Write(ptr, buf)
}
