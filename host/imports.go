package host

import (
	"context"
	"fmt"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/alec-deason/wasm-plugin/domain/errors"
	"github.com/alec-deason/wasm-plugin/internal/abi"
)

// linkImports instantiates, in the plugin's own runtime, the host modules
// satisfying the guest's function imports. Each host function mirrors the
// signature the guest declares, so one registry serves guests of either
// convention. Anything the guest imports that nothing provides is an error.
func (p *PluginInstance) linkImports(ctx context.Context, rt wazero.Runtime, compiled wazero.CompiledModule) error {
	var builder wazero.HostModuleBuilder
	linked := make(map[string]bool)
	needsWASI := false

	for _, def := range compiled.ImportedFunctions() {
		moduleName, name, _ := def.Import()
		switch moduleName {
		case wasi_snapshot_preview1.ModuleName:
			needsWASI = true
		case p.importModule:
			if linked[name] {
				continue
			}
			linked[name] = true
			if builder == nil {
				builder = rt.NewHostModuleBuilder(moduleName)
			}
			fn, err := p.hostFunction(name, def.ParamTypes(), def.ResultTypes())
			if err != nil {
				return err
			}
			builder.NewFunctionBuilder().
				WithGoModuleFunction(fn, def.ParamTypes(), def.ResultTypes()).
				Export(name)
		default:
			return fmt.Errorf("unresolved import %s.%s", moduleName, name)
		}
	}

	if needsWASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			return fmt.Errorf("failed to instantiate WASI: %w", err)
		}
	}
	if builder != nil {
		if _, err := builder.Instantiate(ctx); err != nil {
			return fmt.Errorf("failed to instantiate host module %q: %w", p.importModule, err)
		}
	}
	return nil
}

// hostFunction returns the implementation of one import.
func (p *PluginInstance) hostFunction(name string, params, results []api.ValueType) (api.GoModuleFunc, error) {
	switch {
	case name == abi.GetRandomImport && p.entropy != nil:
		if !slices.Equal(params, i32i32) || len(results) != 0 {
			return nil, fmt.Errorf("import %q has signature %s, want (i32, i32) -> ()", name, signature(params, results))
		}
		return p.getRandom, nil

	case p.registry.Has(name):
		if !fitsConvention(p.gen, params, results) {
			return nil, fmt.Errorf("import %q has signature %s, which does not fit the %s convention",
				name, signature(params, results), p.gen)
		}
		arity := len(params)
		return func(ctx context.Context, _ api.Module, stack []uint64) {
			result, err := p.serveImport(ctx, name, stack[:arity])
			if err != nil {
				p.logger.ErrorContext(ctx, "host function failed", "plugin", p.name, "function", name, "error", err)
				// wazero recovers the panic and surfaces it as a trap of the
				// guest function that issued the import call.
				panic(err)
			}
			stack[0] = result
		}, nil

	default:
		return nil, fmt.Errorf("unresolved import %s.%s", p.importModule, name)
	}
}

// serveImport performs the inverse of an outbound call: it takes the
// argument the guest placed, runs the host function and places the result
// for the guest.
func (p *PluginInstance) serveImport(ctx context.Context, name string, params []uint64) (uint64, error) {
	if p.conv == nil {
		return 0, &errors.HostFunctionError{Name: name, Err: fmt.Errorf("called before the plugin finished loading")}
	}
	p.serving.Add(1)
	defer p.serving.Add(-1)

	payload, err := p.conv.take(ctx, params, inbound)
	if err != nil {
		return 0, &errors.HostFunctionError{Name: name, Err: err}
	}

	resp, err := p.registry.Invoke(ctx, p.codec, name, payload)
	if err != nil {
		return 0, err
	}

	placed, err := p.conv.place(ctx, resp, inbound)
	if err != nil {
		return 0, &errors.HostFunctionError{Name: name, Err: err}
	}
	return placed.values[0], nil
}
