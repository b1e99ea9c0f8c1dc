package plugintest

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Caller is the part of a loaded plugin the harness drives.
type Caller interface {
	Call(ctx context.Context, name string, arg, out any) error
	CallNoArgs(ctx context.Context, name string, out any) error
}

// CallCase defines one call against a plugin.
type CallCase struct {
	Name     string
	Function string
	// Arg is encoded and passed to the function unless NoArgs is set.
	Arg    any
	NoArgs bool
	// Want is the expected result. Its type selects the decode target; a nil
	// Want discards the result.
	Want any
	// WantErr, when set, must match the returned error with errors.Is.
	WantErr error
	// Validate runs after the built-in assertions.
	Validate func(t *testing.T, got any, err error)
}

// RunCalls runs a suite of calls against a plugin.
func RunCalls(t *testing.T, p Caller, cases []CallCase) {
	t.Helper()

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			var out any
			if tc.Want != nil {
				out = reflect.New(reflect.TypeOf(tc.Want)).Interface()
			}

			var err error
			if tc.NoArgs {
				err = p.CallNoArgs(context.Background(), tc.Function, out)
			} else {
				err = p.Call(context.Background(), tc.Function, tc.Arg, out)
			}

			var got any
			if out != nil {
				got = reflect.ValueOf(out).Elem().Interface()
			}

			if tc.WantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.WantErr)
			} else {
				require.NoError(t, err)
				if tc.Want != nil {
					assert.Equal(t, tc.Want, got)
				}
			}

			if tc.Validate != nil {
				tc.Validate(t, got, err)
			}
		})
	}
}

// ScenarioCases are the reference-guest calls every convention must satisfy.
func ScenarioCases() []CallCase {
	return []CallCase{
		{Name: "niladic string", Function: FuncHello, NoArgs: true, Want: HelloResult},
		{Name: "echo", Function: FuncEcho, Arg: "hello world", Want: "hello world"},
		{Name: "niladic sequence", Function: FuncFavoriteNumbers, NoArgs: true, Want: FavoriteNumbers},
	}
}
