package host

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/alec-deason/wasm-plugin/internal/abi"
)

// guestFunction is a callable plugin function resolved at load time.
type guestFunction struct {
	name   string
	export string
	fn     api.Function
	arity  int
}

// functionTable maps logical function names to guest exports. It is built
// once after instantiation and never modified.
type functionTable struct {
	entries map[string]guestFunction
	names   []string // sorted for consistent iteration
}

// buildFunctionTable enumerates the module's exports, keeping those that carry
// prefix. Every kept export must have a signature that fits gen.
func buildFunctionTable(mod api.Module, prefix string, gen abi.Generation) (*functionTable, error) {
	t := &functionTable{entries: make(map[string]guestFunction)}

	for export, def := range mod.ExportedFunctionDefinitions() {
		name, ok := strings.CutPrefix(export, prefix)
		if !ok || name == "" {
			continue
		}
		if !fitsConvention(gen, def.ParamTypes(), def.ResultTypes()) {
			return nil, fmt.Errorf("export %q has signature %s, which does not fit the %s convention",
				export, signature(def.ParamTypes(), def.ResultTypes()), gen)
		}
		t.entries[name] = guestFunction{
			name:   name,
			export: export,
			fn:     mod.ExportedFunction(export),
			arity:  len(def.ParamTypes()),
		}
		t.names = append(t.names, name)
	}

	sort.Strings(t.names)
	return t, nil
}

// resolve looks up a function by logical name.
func (t *functionTable) resolve(name string) (guestFunction, bool) {
	f, ok := t.entries[name]
	return f, ok
}

// Names returns a sorted list of all callable function names.
func (t *functionTable) Names() []string {
	result := make([]string, len(t.names))
	copy(result, t.names)
	return result
}

func signature(params, results []api.ValueType) string {
	return "(" + valueTypes(params) + ") -> (" + valueTypes(results) + ")"
}

func valueTypes(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}
