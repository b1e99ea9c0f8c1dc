package host

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/alec-deason/wasm-plugin/codec"
	"github.com/alec-deason/wasm-plugin/domain/errors"
	"github.com/alec-deason/wasm-plugin/hostfuncs"
	"github.com/alec-deason/wasm-plugin/internal/abi"
	"github.com/alec-deason/wasm-plugin/memory"
)

var (
	// ErrPoisoned is returned by calls on an instance whose shared state is
	// undefined: a fixed-buffer plugin after a trap, or any plugin after it
	// exited.
	ErrPoisoned = stdErrors.New("plugin instance is poisoned")

	// ErrReentrantCall is returned when a host function tries to call back
	// into the plugin instance that invoked it. While an instance is serving
	// a host function, calls and Close that cannot take the instance at once
	// fail with it rather than wait.
	ErrReentrantCall = stdErrors.New("reentrant call into plugin instance")

	// ErrClosed is returned by operations on a closed instance or executor.
	ErrClosed = stdErrors.New("closed")

	// ErrArgumentMismatch is returned when a call's argument does not match
	// the parameters of a fat-pointer export.
	ErrArgumentMismatch = stdErrors.New("argument does not match export parameters")
)

// PluginInstance represents an instantiated WASM plugin. Calls on one
// instance are strictly sequential; separate instances share no state and may
// be driven from separate goroutines.
type PluginInstance struct {
	name           string
	runtime        wazero.Runtime
	module         api.Module
	codec          codec.Codec
	gen            abi.Generation
	importModule   string
	maxMessageSize uint32
	registry       *hostfuncs.HandlerRegistry
	entropy        io.Reader
	logger         *slog.Logger
	executor       *Executor

	// Set once the module is instantiated.
	conv   convention
	table  *functionTable
	bridge *memory.Bridge

	mu       sync.Mutex
	serving  atomic.Int32 // host functions in progress
	poisoned bool
	closed   bool
}

// Name returns the name the plugin was loaded under.
func (p *PluginInstance) Name() string {
	return p.name
}

// Generation returns the calling convention of the plugin.
func (p *PluginInstance) Generation() Generation {
	return p.gen
}

// Functions returns the sorted names of the plugin's callable functions.
func (p *PluginInstance) Functions() []string {
	return p.table.Names()
}

// Has reports whether the plugin exports a callable function named name.
func (p *PluginInstance) Has(name string) bool {
	_, ok := p.table.resolve(name)
	return ok
}

// Poisoned reports whether the instance refuses further calls.
func (p *PluginInstance) Poisoned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.poisoned
}

// Checksum fingerprints the plugin's linear memory.
func (p *PluginInstance) Checksum() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bridge.Checksum()
}

// Call encodes arg, runs the plugin function name and decodes its result
// into out, which must be a pointer. A nil out discards the result.
func (p *PluginInstance) Call(ctx context.Context, name string, arg, out any) error {
	return p.call(ctx, name, true, arg, out)
}

// CallNoArgs runs a plugin function without an argument and decodes its
// result into out.
func (p *PluginInstance) CallNoArgs(ctx context.Context, name string, out any) error {
	return p.call(ctx, name, false, nil, out)
}

// Call runs a plugin function with an argument and returns its decoded result.
func Call[R any](ctx context.Context, p *PluginInstance, name string, arg any) (R, error) {
	var out R
	err := p.Call(ctx, name, arg, &out)
	return out, err
}

// CallNoArgs runs a plugin function without an argument and returns its
// decoded result.
func CallNoArgs[R any](ctx context.Context, p *PluginInstance, name string) (R, error) {
	var out R
	err := p.CallNoArgs(ctx, name, &out)
	return out, err
}

func (p *PluginInstance) call(ctx context.Context, name string, hasArg bool, arg, out any) error {
	fn, ok := p.table.resolve(name)
	if !ok {
		return &errors.FunctionNotFoundError{Name: name}
	}
	if inFlight(ctx, p) {
		return ErrReentrantCall
	}

	if !p.lock() {
		return ErrReentrantCall
	}
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.gen == abi.GenerationFatPointer && hasArg != (fn.arity > 0) {
		return fmt.Errorf("%w: export %q takes %d parameters", ErrArgumentMismatch, name, fn.arity)
	}
	if p.poisoned {
		return ErrPoisoned
	}

	var placed placement
	if hasArg {
		payload, err := p.codec.Marshal(arg)
		if err != nil {
			return err
		}
		placed, err = p.conv.place(ctx, payload, outbound)
		if err != nil {
			return err
		}
	}

	params, err := p.conv.bind(placed.values, fn.arity)
	if err != nil {
		if rerr := placed.release(ctx); rerr != nil {
			err = stdErrors.Join(err, rerr)
		}
		return err
	}

	p.logger.DebugContext(ctx, "calling plugin function",
		"plugin", p.name, "function", name, "generation", p.gen.String(), "params", len(params))

	// From here the argument belongs to the guest.
	placed.handOff()
	results, err := fn.fn.Call(withInFlight(ctx, p), params...)
	if err != nil {
		return p.trapped(ctx, fn, err)
	}

	data, err := p.conv.take(ctx, results, outbound)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return p.codec.Unmarshal(data, out)
}

// trapped classifies a failed guest call and poisons the instance when its
// shared state can no longer be trusted.
func (p *PluginInstance) trapped(ctx context.Context, fn guestFunction, err error) error {
	var exitErr *sys.ExitError
	if stdErrors.As(err, &exitErr) || p.gen == abi.GenerationFixedBuffer {
		p.poisoned = true
	}
	p.logger.ErrorContext(ctx, "plugin function trapped",
		"plugin", p.name, "function", fn.name, "generation", p.gen.String(), "poisoned", p.poisoned, "error", err)
	return &errors.GuestTrapError{Function: fn.name, Err: err}
}

// Close releases the module, its memory and its runtime.
func (p *PluginInstance) Close(ctx context.Context) error {
	if inFlight(ctx, p) {
		return ErrReentrantCall
	}

	if !p.lock() {
		return ErrReentrantCall
	}
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.executor != nil {
		p.executor.forget(p)
	}
	return p.runtime.Close(ctx)
}

// lock acquires the instance. While a host function is being served the
// caller may be that host function, so the lock is only tried.
func (p *PluginInstance) lock() bool {
	if p.serving.Load() == 0 {
		p.mu.Lock()
		return true
	}
	return p.mu.TryLock()
}

type inFlightKey struct{}

// callChain records the instances with a call in progress on this context.
type callChain struct {
	instance *PluginInstance
	parent   *callChain
}

func withInFlight(ctx context.Context, p *PluginInstance) context.Context {
	parent, _ := ctx.Value(inFlightKey{}).(*callChain)
	return context.WithValue(ctx, inFlightKey{}, &callChain{instance: p, parent: parent})
}

func inFlight(ctx context.Context, p *PluginInstance) bool {
	chain, _ := ctx.Value(inFlightKey{}).(*callChain)
	for ; chain != nil; chain = chain.parent {
		if chain.instance == p {
			return true
		}
	}
	return false
}
