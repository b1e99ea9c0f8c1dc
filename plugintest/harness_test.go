package plugintest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errUnknown = errors.New("unknown function")

// mapCaller answers calls from a fixed table of results.
type mapCaller struct {
	results map[string]any
	args    map[string]any
}

func (m *mapCaller) Call(_ context.Context, name string, arg, out any) error {
	m.args[name] = arg
	return m.CallNoArgs(context.Background(), name, out)
}

func (m *mapCaller) CallNoArgs(_ context.Context, name string, out any) error {
	res, ok := m.results[name]
	if !ok {
		return errUnknown
	}
	switch o := out.(type) {
	case *string:
		*o = res.(string)
	case *[]int32:
		*o = res.([]int32)
	}
	return nil
}

func TestRunCalls(t *testing.T) {
	caller := &mapCaller{
		results: map[string]any{
			FuncHello:           HelloResult,
			FuncEcho:            "hello world",
			FuncFavoriteNumbers: FavoriteNumbers,
		},
		args: map[string]any{},
	}

	cases := append(ScenarioCases(), CallCase{
		Name:     "missing",
		Function: "missing",
		NoArgs:   true,
		WantErr:  errUnknown,
	}, CallCase{
		Name:     "discarded result",
		Function: FuncEcho,
		Arg:      "ignored",
		Validate: func(t *testing.T, got any, err error) {
			assert.Nil(t, got)
			assert.NoError(t, err)
		},
	})

	RunCalls(t, caller, cases)
	assert.Equal(t, "ignored", caller.args[FuncEcho])
}
