package host

import (
	"context"
	"crypto/rand"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tetratelabs/wazero"

	"github.com/alec-deason/wasm-plugin/codec"
	"github.com/alec-deason/wasm-plugin/domain/errors"
	"github.com/alec-deason/wasm-plugin/hostfuncs"
	"github.com/alec-deason/wasm-plugin/internal/abi"
)

// Executor loads plugins. It owns the configuration, codec and host function
// registry shared by its plugins and a compilation cache, so loading the same
// module twice compiles it once. Every plugin gets its own runtime, which
// keeps the host functions linked into one guest invisible to the others.
type Executor struct {
	cfg      Config
	codec    codec.Codec
	gen      abi.Generation
	registry *hostfuncs.HandlerRegistry
	logger   *slog.Logger
	entropy  *lockedReader
	cache    wazero.CompilationCache

	mu        sync.Mutex
	instances map[*PluginInstance]struct{}
	closed    bool
}

// NewExecutor creates a new executor with the given options. The resulting
// configuration is validated here, once.
func NewExecutor(ctx context.Context, opts ...Option) (*Executor, error) {
	s := &executorSettings{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := codec.New(s.cfg.Codec)
	if err != nil {
		return nil, err
	}
	gen, err := s.cfg.Generation()
	if err != nil {
		return nil, err
	}

	// Default registry if not provided
	if s.registry == nil {
		reg, err := hostfuncs.NewRegistry()
		if err != nil {
			return nil, fmt.Errorf("failed to create default registry: %w", err)
		}
		s.registry = reg
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	e := &Executor{
		cfg:       s.cfg,
		codec:     c,
		gen:       gen,
		registry:  s.registry,
		logger:    s.logger,
		cache:     wazero.NewCompilationCache(),
		instances: make(map[*PluginInstance]struct{}),
	}
	if s.cfg.InjectEntropy {
		if s.entropy == nil {
			s.entropy = rand.Reader
		}
		e.entropy = &lockedReader{r: s.entropy}
	}

	e.logger.DebugContext(ctx, "executor created",
		"codec", string(c.Kind()), "abi", s.cfg.ABI, "host_functions", len(s.registry.Names()))
	return e, nil
}

// Config returns the validated configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Close closes every plugin still open and releases the compilation cache.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	open := make([]*PluginInstance, 0, len(e.instances))
	for p := range e.instances {
		open = append(open, p)
	}
	e.mu.Unlock()

	var errs []error
	for _, p := range open {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.cache.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return stdErrors.Join(errs...)
}

func (e *Executor) forget(p *PluginInstance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.instances, p)
}

// LoadPlugin compiles, links and instantiates a WASM module.
func (e *Executor) LoadPlugin(ctx context.Context, wasmBytes []byte) (*PluginInstance, error) {
	return e.load(ctx, "plugin", wasmBytes)
}

// LoadPluginFile loads the WASM module stored at path.
func (e *Executor) LoadPluginFile(ctx context.Context, path string) (*PluginInstance, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.LoadError{Stage: "read", Err: err}
	}
	return e.load(ctx, filepath.Base(path), wasmBytes)
}

func (e *Executor) load(ctx context.Context, name string, wasmBytes []byte) (*PluginInstance, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	rtConfig := wazero.NewRuntimeConfig().WithCompilationCache(e.cache)
	if e.cfg.MemoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)

	p, err := e.instantiate(ctx, rt, name, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		e.logger.ErrorContext(ctx, "failed to load plugin", "plugin", name, "error", err)
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = rt.Close(ctx)
		return nil, ErrClosed
	}
	e.instances[p] = struct{}{}
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "plugin loaded",
		"plugin", name, "generation", p.gen.String(), "functions", len(p.table.names), "bytes", len(wasmBytes))
	return p, nil
}

func (e *Executor) instantiate(ctx context.Context, rt wazero.Runtime, name string, wasmBytes []byte) (*PluginInstance, error) {
	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, &errors.LoadError{Stage: "compile", Err: err}
	}

	gen := e.gen
	if gen == abi.GenerationUnknown {
		gen = detectGeneration(compiled.ExportedFunctions())
	}

	p := &PluginInstance{
		name:           name,
		runtime:        rt,
		codec:          e.codec,
		gen:            gen,
		importModule:   e.cfg.ImportModule,
		maxMessageSize: e.cfg.MaxMessageSize,
		registry:       e.registry,
		logger:         e.logger,
		executor:       e,
	}
	if e.entropy != nil {
		p.entropy = e.entropy
	}

	if err := p.linkImports(ctx, rt, compiled); err != nil {
		return nil, &errors.LoadError{Stage: "link", Err: err}
	}

	// Start functions are run explicitly below, once the convention is bound.
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return nil, &errors.LoadError{Stage: "instantiate", Err: err}
	}
	p.module = mod

	bridge, err := exportedMemory(mod)
	if err != nil {
		return nil, &errors.LoadError{Stage: "detect", Err: err}
	}
	conv, err := newConvention(gen, mod, bridge, e.cfg)
	if err != nil {
		return nil, &errors.LoadError{Stage: "detect", Err: err}
	}
	table, err := buildFunctionTable(mod, e.cfg.ExportPrefix, gen)
	if err != nil {
		return nil, &errors.LoadError{Stage: "resolve", Err: err}
	}
	p.conv = conv
	p.table = table
	p.bridge = bridge

	// Initialize if needed
	if init := mod.ExportedFunction(abi.InitializeExport); init != nil {
		if _, err := init.Call(ctx); err != nil {
			return nil, &errors.LoadError{
				Stage: "initialize",
				Err:   &errors.GuestTrapError{Function: abi.InitializeExport, Err: err},
			}
		}
	}
	return p, nil
}
