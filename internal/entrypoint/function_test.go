package entrypoint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReflect_ArityAndCall(t *testing.T) {
	impl, err := Reflect(func(city, units string) (string, error) {
		return city + "/" + units, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, impl.Arity())

	out, err := impl.Call(context.Background(), []any{"Paris", "celsius"})
	require.NoError(t, err)
	assert.Equal(t, "Paris/celsius", out)
}

func TestReflect_ContextIsNotAnArgument(t *testing.T) {
	type key struct{}
	impl, err := Reflect(func(ctx context.Context, n int) int {
		return n * ctx.Value(key{}).(int)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, impl.Arity())

	ctx := context.WithValue(context.Background(), key{}, 3)
	out, err := impl.Call(ctx, []any{float64(7)})
	require.NoError(t, err)
	assert.Equal(t, 21, out)
}

func TestReflect_MissingArgumentIsZeroValue(t *testing.T) {
	impl, err := Reflect(func(city string, days *int) string {
		if days == nil {
			return city + ":default"
		}
		return city
	})
	require.NoError(t, err)
	out, err := impl.Call(context.Background(), []any{"Oslo", nil})
	require.NoError(t, err)
	assert.Equal(t, "Oslo:default", out)
}

func TestReflect_StructArgument(t *testing.T) {
	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	impl, err := Reflect(func(p point) int { return p.X + p.Y })
	require.NoError(t, err)
	out, err := impl.Call(context.Background(), []any{map[string]any{"x": float64(2), "y": float64(5)}})
	require.NoError(t, err)
	assert.Equal(t, 7, out)
}

func TestReflect_TypeMismatch(t *testing.T) {
	impl, err := Reflect(func(n int) int { return n })
	require.NoError(t, err)
	_, err = impl.Call(context.Background(), []any{"not a number"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArgumentType)
}

func TestReflect_ErrorOnlyResult(t *testing.T) {
	boom := errors.New("boom")
	impl, err := Reflect(func() error { return boom })
	require.NoError(t, err)
	out, err := impl.Call(context.Background(), nil)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, boom)
}

func TestReflect_Rejects(t *testing.T) {
	cases := map[string]any{
		"nil":          nil,
		"not a func":   42,
		"variadic":     func(xs ...string) {},
		"bad second":   func() (int, int) { return 0, 0 },
		"many results": func() (int, int, error) { return 0, 0, nil },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Reflect(fn)
			assert.ErrorIs(t, err, ErrInvalidFunction)
		})
	}
}

func TestFunc_IsVariadic(t *testing.T) {
	f := Func(func(_ context.Context, args []any) (any, error) { return len(args), nil })
	assert.Equal(t, -1, f.Arity())
	out, err := f.Call(context.Background(), []any{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}
