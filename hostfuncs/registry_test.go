package hostfuncs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alec-deason/wasm-plugin/codec"
	"github.com/alec-deason/wasm-plugin/domain/errors"
)

func TestNewRegistry_Empty(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Empty(t, reg.Names())
}

func TestNewRegistry_WithByteHandler(t *testing.T) {
	echoHandler := func(ctx context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	}

	reg, err := NewRegistry(
		WithByteHandler("echo", echoHandler),
	)
	require.NoError(t, err)

	assert.True(t, reg.Has("echo"))
	assert.False(t, reg.Has("nonexistent"))
	assert.Equal(t, []string{"echo"}, reg.Names())
}

func TestNewRegistry_DuplicateHandler(t *testing.T) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, nil
	}

	_, err := NewRegistry(
		WithByteHandler("test", handler),
		WithByteHandler("test", handler), // duplicate
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate handler name")
}

func TestNewRegistry_EmptyName(t *testing.T) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, nil
	}

	_, err := NewRegistry(
		WithByteHandler("", handler),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")
}

func TestNewRegistry_NilHandler(t *testing.T) {
	_, err := NewRegistry(WithByteHandler("nil", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is nil")
}

func TestHandlerRegistry_Invoke(t *testing.T) {
	echoHandler := func(ctx context.Context, payload []byte) ([]byte, error) {
		return append([]byte("echo:"), payload...), nil
	}
	c := codec.MustNew(codec.KindJSON)

	reg, err := NewRegistry(
		WithByteHandler("echo", echoHandler),
	)
	require.NoError(t, err)

	t.Run("found handler", func(t *testing.T) {
		resp, err := reg.Invoke(context.Background(), c, "echo", []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, "echo:hello", string(resp))
	})

	t.Run("not found handler", func(t *testing.T) {
		resp, err := reg.Invoke(context.Background(), c, "unknown", []byte("test"))
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, errors.ErrHostFunction)

		var hfErr *errors.HostFunctionError
		require.ErrorAs(t, err, &hfErr)
		assert.Equal(t, "unknown", hfErr.Name)
	})
}

func TestHandlerRegistry_InvokeWrapsHandlerError(t *testing.T) {
	reg, err := NewRegistry(
		WithByteHandler("fail", func(ctx context.Context, payload []byte) ([]byte, error) {
			return nil, assert.AnError
		}),
	)
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), codec.MustNew(codec.KindJSON), "fail", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrHostFunction)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestHandlerRegistry_InvokeBindsHostContext(t *testing.T) {
	var gotName string
	var gotCodec codec.Kind
	reg, err := NewRegistry(
		WithByteHandler("inspect", func(ctx context.Context, payload []byte) ([]byte, error) {
			hc, ok := ctx.(HostContext)
			require.True(t, ok)
			gotName = hc.FunctionName()
			gotCodec = hc.Codec().Kind()
			return nil, nil
		}),
	)
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), codec.MustNew(codec.KindCBOR), "inspect", nil)
	require.NoError(t, err)
	assert.Equal(t, "inspect", gotName)
	assert.Equal(t, codec.KindCBOR, gotCodec)
}

func TestHandlerRegistry_Names_Sorted(t *testing.T) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, nil
	}

	reg, err := NewRegistry(
		WithByteHandler("zebra", handler),
		WithByteHandler("alpha", handler),
		WithByteHandler("middle", handler),
	)
	require.NoError(t, err)

	names := reg.Names()
	assert.Equal(t, []string{"alpha", "middle", "zebra"}, names)

	names[0] = "mutated"
	assert.Equal(t, "alpha", reg.Names()[0], "Names must return a copy")
}

func TestNewRegistry_WithMiddleware(t *testing.T) {
	var order []string

	mw1 := func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			order = append(order, "mw1-before")
			resp, err := next(ctx, payload)
			order = append(order, "mw1-after")
			return resp, err
		}
	}

	mw2 := func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			order = append(order, "mw2-before")
			resp, err := next(ctx, payload)
			order = append(order, "mw2-after")
			return resp, err
		}
	}

	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		order = append(order, "handler")
		return payload, nil
	}

	reg, err := NewRegistry(
		WithMiddleware(mw1, mw2),
		WithByteHandler("test", handler),
	)
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), codec.MustNew(codec.KindJSON), "test", []byte("x"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"mw1-before",
		"mw2-before",
		"handler",
		"mw2-after",
		"mw1-after",
	}, order)
}

func TestNewRegistry_WithBundle(t *testing.T) {
	upper := NewHandler(func(ctx context.Context, s string) (string, error) {
		return strings.ToUpper(s), nil
	})

	reg, err := NewRegistry(
		WithBundle(LogBundle(discardLogger())),
		WithByteHandler("please_capitalize_this", upper),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{LogMessageFunction, "please_capitalize_this"}, reg.Names())

	_, err = NewRegistry(
		WithBundle(LogBundle(discardLogger())),
		WithByteHandler(LogMessageFunction, upper),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate handler name")
}
