package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/result"
)

func TestCallFunctionCell(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	require.NoError(t, k.DefineFunction(ctx, "F", []string{"a", "b"}, []string{"c"}, "c = a * b"))

	v, err := k.Call(ctx, "F", []any{2, 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)

	v, err = k.Call(ctx, "F", []any{4}, map[string]any{"b": 5})
	require.NoError(t, err)
	assert.Equal(t, int64(20), v)

	rec, ok := k.Graph().Record(ctx, "F")
	require.True(t, ok)
	assert.False(t, rec.HasValue, "calls must not cache a value")
}

func TestFunctionInputsShadowLinks(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	runCell(t, k, ctx, "A", "a = 100")
	require.NoError(t, k.DefineFunction(ctx, "F", []string{"a"}, nil, "a + 1"))

	v, err := k.Call(ctx, "F", []any{1}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestCallMultipleOutputs(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	require.NoError(t, k.DefineFunction(ctx, "F", []string{"n"}, []string{"lo", "hi"}, "lo, hi = n - 1, n + 1"))

	v, err := k.Call(ctx, "F", []any{10}, nil)
	require.NoError(t, err)
	r, ok := v.(*result.Result)
	require.True(t, ok)
	assert.Equal(t, []string{"lo", "hi"}, r.Names())
	hi, _ := r.Peek("hi")
	assert.Equal(t, int64(11), hi)
}

func TestReadFunctionCellReturnsHandle(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	require.NoError(t, k.DefineFunction(ctx, "F", []string{"a"}, []string{"b"}, "b = a + 1"))

	v, err := k.Read(ctx, "F")
	require.NoError(t, err)
	fn, ok := v.(*Function)
	require.True(t, ok)
	assert.Equal(t, cellid.ID("F"), fn.Cell())

	out, err := fn.Call(ctx, []any{1}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out)
}

func TestCallErrors(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	require.NoError(t, k.DefineFunction(ctx, "F", []string{"a"}, []string{"b"}, "b = a + 1"))
	runCell(t, k, ctx, "A", "x = 1")

	_, err := k.Call(ctx, "F", []any{1, 2}, nil)
	assert.Error(t, err)
	_, err = k.Call(ctx, "F", nil, nil)
	assert.ErrorContains(t, err, `missing input "a"`)
	_, err = k.Call(ctx, "F", nil, map[string]any{"z": 1})
	assert.ErrorContains(t, err, `no input "z"`)
	_, err = k.Call(ctx, "A", nil, nil)
	assert.ErrorIs(t, err, ErrNotFunction)
	_, err = k.Call(ctx, "nope", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownCell)
}

func TestResubmitClearsFunctionFlag(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	require.NoError(t, k.DefineFunction(ctx, "F", []string{"a"}, nil, "a"))
	require.NoError(t, k.Submit(ctx, "F", "5"))

	_, err := k.Call(ctx, "F", []any{1}, nil)
	assert.ErrorIs(t, err, ErrNotFunction)
	v, err := k.Read(ctx, "F")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}
