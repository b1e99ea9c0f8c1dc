package host

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/sys"

	"github.com/alec-deason/wasm-plugin/domain/errors"
	"github.com/alec-deason/wasm-plugin/hostfuncs"
	"github.com/alec-deason/wasm-plugin/plugintest"
)

func TestGuestTrap(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		conv         int
		wantPoisoned bool
	}{
		{conv: 0, wantPoisoned: false},
		{conv: 1, wantPoisoned: true},
	}

	for _, tt := range tests {
		conv := conventions[tt.conv]
		t.Run(conv.name, func(t *testing.T) {
			e := newTestExecutor(t)
			p := loadTestPlugin(t, e, conv.build(plugintest.Guest{}))

			err := p.CallNoArgs(ctx, plugintest.FuncTrap, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrGuestTrap)
			assert.Equal(t, errors.KindGuestTrap, errors.KindOf(err))
			assert.NotErrorIs(t, err, errors.ErrMemory)
			assert.NotErrorIs(t, err, errors.ErrSerialization)

			var trap *errors.GuestTrapError
			require.ErrorAs(t, err, &trap)
			assert.Equal(t, plugintest.FuncTrap, trap.Function)

			assert.Equal(t, tt.wantPoisoned, p.Poisoned())

			got, err := CallNoArgs[string](ctx, p, plugintest.FuncHello)
			if tt.wantPoisoned {
				assert.ErrorIs(t, err, ErrPoisoned)
				assert.Equal(t, errors.KindUnknown, errors.KindOf(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, plugintest.HelloResult, got)
			}
		})
	}
}

func TestGuestExit_PoisonsEveryConvention(t *testing.T) {
	ctx := context.Background()
	for _, conv := range conventions {
		t.Run(conv.name, func(t *testing.T) {
			e := newTestExecutor(t)
			p := loadTestPlugin(t, e, conv.build(plugintest.Guest{WASI: true}))

			err := p.CallNoArgs(ctx, plugintest.FuncExit, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrGuestTrap)

			var exitErr *sys.ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, uint32(plugintest.ExitCode), exitErr.ExitCode())

			assert.True(t, p.Poisoned())
			assert.ErrorIs(t, p.CallNoArgs(ctx, plugintest.FuncHello, nil), ErrPoisoned)
		})
	}
}

func TestHostFunctionFailure(t *testing.T) {
	ctx := context.Background()
	failing := map[string]hostfuncs.ByteHandler{
		"error": hostfuncs.NewHandler(func(ctx context.Context, s string) (string, error) {
			return "", fmt.Errorf("refusing to capitalize %q", s)
		}),
		"panic": func(ctx context.Context, payload []byte) ([]byte, error) {
			panic("capitalizer exploded")
		},
	}

	for name, handler := range failing {
		for _, conv := range conventions {
			t.Run(name+"/"+conv.name, func(t *testing.T) {
				reg := capitalizeRegistry(t, hostfuncs.WithByteHandler(plugintest.ImportCapitalize, handler))
				e := newTestExecutor(t, WithHostFunctions(reg))
				p := loadTestPlugin(t, e, conv.build(plugintest.Guest{Imports: true}))

				_, err := Call[string](ctx, p, plugintest.FuncEcho, "hello")
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrGuestTrap)
				assert.ErrorIs(t, err, errors.ErrHostFunction)
				assert.Equal(t, errors.KindGuestTrap, errors.KindOf(err))

				var hfErr *errors.HostFunctionError
				require.ErrorAs(t, err, &hfErr)
				assert.Equal(t, plugintest.ImportCapitalize, hfErr.Name)

				if conv.gen == GenerationFatPointer {
					numbers, err := CallNoArgs[[]int32](ctx, p, plugintest.FuncHostsFavoriteNumbers)
					require.NoError(t, err, "fat-pointer instances survive a trap")
					assert.Equal(t, hostsFavoriteNumbers, numbers)
				} else {
					assert.True(t, p.Poisoned())
				}
			})
		}
	}
}

func TestImportBridge_DecodeFailureTraps(t *testing.T) {
	reg := capitalizeRegistry(t, withCapitalize())
	e := newTestExecutor(t, WithHostFunctions(reg))
	p := loadTestPlugin(t, e, plugintest.Guest{Imports: true}.FatPointer())

	// The guest forwards whatever it receives, so a number reaches a host
	// function that expects a string.
	_, err := Call[string](context.Background(), p, plugintest.FuncEcho, 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrHostFunction)
	assert.ErrorIs(t, err, errors.ErrSerialization)
}

func TestReentrantCall(t *testing.T) {
	ctx := context.Background()
	var (
		p, other                       *PluginInstance
		reentryErr, closeErr           error
		freshReentryErr, freshCloseErr error
		otherResult                    string
		otherErr                       error
	)

	reg := capitalizeRegistry(t, hostfuncs.WithByteHandler(plugintest.ImportCapitalize,
		func(ctx context.Context, payload []byte) ([]byte, error) {
			reentryErr = p.CallNoArgs(ctx, plugintest.FuncHello, nil)
			closeErr = p.Close(ctx)
			freshReentryErr = p.CallNoArgs(context.Background(), plugintest.FuncHello, nil)
			freshCloseErr = p.Close(context.Background())
			otherResult, otherErr = CallNoArgs[string](ctx, other, plugintest.FuncHello)
			return payload, nil
		}))
	e := newTestExecutor(t, WithHostFunctions(reg))
	p = loadTestPlugin(t, e, plugintest.Guest{Imports: true}.FatPointer())
	other = loadTestPlugin(t, e, plugintest.Guest{}.FatPointer())

	got, err := Call[string](ctx, p, plugintest.FuncEcho, "unchanged")
	require.NoError(t, err)
	assert.Equal(t, "unchanged", got)

	assert.ErrorIs(t, reentryErr, ErrReentrantCall)
	assert.ErrorIs(t, closeErr, ErrReentrantCall)
	assert.ErrorIs(t, freshReentryErr, ErrReentrantCall, "a context without the call chain must not deadlock")
	assert.ErrorIs(t, freshCloseErr, ErrReentrantCall)

	got, err = CallNoArgs[string](ctx, p, plugintest.FuncHello)
	require.NoError(t, err, "the instance stays usable once the import returns")
	assert.Equal(t, plugintest.HelloResult, got)
	require.NoError(t, otherErr, "other instances may be called from a host function")
	assert.Equal(t, plugintest.HelloResult, otherResult)
}

func TestEntropyInjection(t *testing.T) {
	ctx := context.Background()
	for _, conv := range conventions {
		t.Run(conv.name, func(t *testing.T) {
			// Exactly RandomLength bytes that happen to be a JSON string.
			source := strings.NewReader(`"abcdefghijklmn"`)
			e := newTestExecutor(t, WithEntropySource(source))
			p := loadTestPlugin(t, e, conv.build(plugintest.Guest{Entropy: true}))

			got, err := CallNoArgs[string](ctx, p, plugintest.FuncRandom)
			require.NoError(t, err)
			assert.Equal(t, "abcdefghijklmn", got)

			// The source is exhausted now.
			_, err = CallNoArgs[string](ctx, p, plugintest.FuncRandom)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrGuestTrap)
			assert.ErrorIs(t, err, errors.ErrHostFunction)
		})
	}
}

func TestEntropyInjection_DefaultSource(t *testing.T) {
	e := newTestExecutor(t)
	p := loadTestPlugin(t, e, plugintest.Guest{Entropy: true}.FatPointer())

	// Random bytes are not a valid message, but they do reach the guest.
	err := p.CallNoArgs(context.Background(), plugintest.FuncRandom, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), guestCounter(t, p, plugintest.GlobalFreeCalls))
}

func TestConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t)
	wasm := plugintest.Guest{}.FatPointer()
	shared := loadTestPlugin(t, e, wasm)

	const workers, calls = 8, 20
	var wg sync.WaitGroup
	errs := make(chan error, workers*calls*2)

	for w := range workers {
		own := loadTestPlugin(t, e, wasm)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range calls {
				msg := fmt.Sprintf("worker %d call %d", w, i)
				for _, p := range []*PluginInstance{shared, own} {
					got, err := Call[string](ctx, p, plugintest.FuncEcho, msg)
					if err != nil {
						errs <- err
					} else if got != msg {
						errs <- fmt.Errorf("got %q, want %q", got, msg)
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, uint64(workers*calls), guestCounter(t, shared, plugintest.GlobalFreeCalls))
}
