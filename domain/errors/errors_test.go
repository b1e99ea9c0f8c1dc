package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadError(t *testing.T) {
	baseErr := fmt.Errorf("invalid magic number")
	err := &LoadError{Stage: "compile", Err: baseErr}

	assert.Equal(t, "plugin load failed during compile: invalid magic number", err.Error())
	assert.True(t, errors.Is(err, baseErr))
	assert.True(t, errors.Is(err, ErrLoad))
	assert.False(t, errors.Is(err, ErrMemory))
}

func TestFunctionNotFoundError(t *testing.T) {
	err := &FunctionNotFoundError{Name: "missing"}

	assert.Equal(t, `function "missing" is not exported by the plugin`, err.Error())
	assert.ErrorIs(t, err, ErrFunctionNotFound)
}

func TestSerializationError(t *testing.T) {
	baseErr := fmt.Errorf("unexpected end of JSON input")
	err := &SerializationError{Codec: "json", Operation: "decode", Err: baseErr}

	assert.Equal(t, "json decode failed: unexpected end of JSON input", err.Error())
	assert.ErrorIs(t, err, baseErr)
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestMemoryError(t *testing.T) {
	t.Run("with cause", func(t *testing.T) {
		err := &MemoryError{
			Operation: "write",
			Offset:    1024,
			Length:    20000,
			Size:      65536,
			Err:       fmt.Errorf("exceeds buffer capacity 10240"),
		}
		assert.Equal(t,
			"memory write failed at offset 1024 length 20000 (memory size 65536): exceeds buffer capacity 10240",
			err.Error())
		assert.ErrorIs(t, err, ErrMemory)
	})

	t.Run("without cause", func(t *testing.T) {
		err := &MemoryError{Operation: "read", Offset: 1, Length: 2, Size: 3}
		assert.Equal(t, "memory read failed at offset 1 length 2 (memory size 3)", err.Error())
		assert.Nil(t, errors.Unwrap(err))
	})
}

func TestGuestTrapError_WrapsHostFunctionError(t *testing.T) {
	hostErr := &HostFunctionError{Name: "please_capitalize_this", Err: fmt.Errorf("empty input")}
	err := &GuestTrapError{Function: "echo", Err: hostErr}

	assert.ErrorIs(t, err, ErrGuestTrap)
	assert.ErrorIs(t, err, ErrHostFunction)

	var target *HostFunctionError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "please_capitalize_this", target.Name)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", fmt.Errorf("boom"), KindUnknown},
		{"load", &LoadError{Stage: "link", Err: fmt.Errorf("x")}, KindLoad},
		{"not found", &FunctionNotFoundError{Name: "f"}, KindFunctionNotFound},
		{"serialization", &SerializationError{Codec: "cbor", Operation: "encode", Err: fmt.Errorf("x")}, KindSerialization},
		{"memory", &MemoryError{Operation: "read"}, KindMemory},
		{"trap", &GuestTrapError{Function: "f", Err: fmt.Errorf("unreachable")}, KindGuestTrap},
		{"host function", &HostFunctionError{Name: "f", Err: fmt.Errorf("x")}, KindHostFunction},
		{"wrapped", fmt.Errorf("call: %w", &MemoryError{Operation: "write"}), KindMemory},
		{
			"trap caused by host function",
			&GuestTrapError{Function: "f", Err: &HostFunctionError{Name: "g", Err: fmt.Errorf("x")}},
			KindGuestTrap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "load", KindLoad.String())
	assert.Equal(t, "function_not_found", KindFunctionNotFound.String())
	assert.Equal(t, "serialization", KindSerialization.String())
	assert.Equal(t, "memory", KindMemory.String())
	assert.Equal(t, "guest_trap", KindGuestTrap.String())
	assert.Equal(t, "host_function", KindHostFunction.String())
	assert.Equal(t, "unknown", Kind(200).String())
}
