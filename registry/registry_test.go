package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnharness/devbridge/registry"
	"github.com/fnharness/devbridge/schema"
)

func echoHandler(ctx context.Context, invocationCtx, params map[string]any) (any, error) {
	return params, nil
}

func TestRegisterReplacesByName(t *testing.T) {
	reg := registry.New(nil)

	reg.Register("greet", echoHandler, registry.Config{})
	require.Equal(t, 1, reg.Size())

	calls := 0
	reg.Register("greet", func(ctx context.Context, invocationCtx, params map[string]any) (any, error) {
		calls++
		return map[string]any{"ok": true}, nil
	}, registry.Config{})

	assert.Equal(t, 1, reg.Size(), "re-registration must not grow the map (spec.md I6/P7)")

	result, err := reg.Execute(context.Background(), "greet", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)
	assert.Equal(t, 1, calls, "lookups must return the most recent handler")
}

func TestExecuteUnknownFunction(t *testing.T) {
	reg := registry.New(nil)
	_, err := reg.Execute(context.Background(), "ghost", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrFunctionNotFound))
}

func TestFirstRegistrationCallback(t *testing.T) {
	fired := 0
	reg := registry.New(func() { fired++ })

	reg.Register("a", echoHandler, registry.Config{})
	reg.Register("b", echoHandler, registry.Config{})
	reg.Register("a", echoHandler, registry.Config{})

	assert.Equal(t, 1, fired, "onFirstRegistration must fire exactly once, on the 0->1 transition")
}

func TestExecuteValidatesParametersSchema(t *testing.T) {
	validator, err := schema.FromMap(map[string]any{
		"type":       "object",
		"properties": map[string]any{"data": map[string]any{"type": "number"}},
		"required":   []any{"data"},
	})
	require.NoError(t, err)

	reg := registry.New(nil)
	reg.Register("double", func(ctx context.Context, invocationCtx, params map[string]any) (any, error) {
		return map[string]any{"result": params["data"]}, nil
	}, registry.Config{ParametersSchema: validator})

	_, err = reg.Execute(context.Background(), "double", nil, map[string]any{"data": 3.0})
	require.NoError(t, err)

	_, err = reg.Execute(context.Background(), "double", nil, map[string]any{})
	require.Error(t, err)
	var verr *registry.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestGetByNameExactMatch(t *testing.T) {
	reg := registry.New(nil)
	reg.Register("Sensitive", echoHandler, registry.Config{})

	assert.NotNil(t, reg.GetByName("Sensitive"))
	assert.Nil(t, reg.GetByName("sensitive"))
	assert.Nil(t, reg.GetByName(""))
}
