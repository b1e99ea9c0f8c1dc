package host

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alec-deason/wasm-plugin/hostfuncs"
	"github.com/alec-deason/wasm-plugin/plugintest"
)

// conventions lists the reference guests of both calling conventions.
var conventions = []struct {
	name  string
	gen   Generation
	build func(plugintest.Guest) []byte
}{
	{name: "fat-pointer", gen: GenerationFatPointer, build: plugintest.Guest.FatPointer},
	{name: "fixed-buffer", gen: GenerationFixedBuffer, build: plugintest.Guest.FixedBuffer},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	e, err := NewExecutor(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func loadTestPlugin(t *testing.T, e *Executor, wasm []byte) *PluginInstance {
	t.Helper()
	p, err := e.LoadPlugin(context.Background(), wasm)
	require.NoError(t, err)
	return p
}

// hostsFavoriteNumbers is what the_hosts_favorite_numbers returns.
var hostsFavoriteNumbers = []int32{7, 11}

func capitalizeRegistry(t *testing.T, opts ...hostfuncs.RegistryOption) *hostfuncs.HandlerRegistry {
	t.Helper()
	opts = append([]hostfuncs.RegistryOption{
		hostfuncs.WithMiddleware(hostfuncs.PanicRecoveryMiddleware()),
		hostfuncs.WithByteHandler(plugintest.ImportFavoriteNumbers,
			hostfuncs.NewHandler(func(ctx context.Context, _ struct{}) ([]int32, error) {
				return hostsFavoriteNumbers, nil
			})),
	}, opts...)
	reg, err := hostfuncs.NewRegistry(opts...)
	require.NoError(t, err)
	return reg
}

func withCapitalize() hostfuncs.RegistryOption {
	return hostfuncs.WithByteHandler(plugintest.ImportCapitalize,
		hostfuncs.NewHandler(func(ctx context.Context, s string) (string, error) {
			return strings.ToUpper(s), nil
		}))
}

// guestCounter reads one of the fat-pointer guest's exported counters.
func guestCounter(t *testing.T, p *PluginInstance, name string) uint64 {
	t.Helper()
	g := p.module.ExportedGlobal(name)
	require.NotNil(t, g, "global %q", name)
	return g.Get()
}
