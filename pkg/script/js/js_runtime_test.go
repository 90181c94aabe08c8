package js

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T) *JsRuntime {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewJsRuntime(ctx, 4, 1)
}

func TestEvaluate(t *testing.T) {
	rt := newRuntime(t)

	tests := []struct {
		name       string
		expression string
		variables  map[string]any
		expected   any
	}{
		{name: "arithmetic", expression: "a + b", variables: map[string]any{"a": 1, "b": 2}, expected: int64(3)},
		{name: "string concat", expression: `s + "!"`, variables: map[string]any{"s": "hi"}, expected: "hi!"},
		{name: "nested access", expression: "order.id", variables: map[string]any{"order": map[string]any{"id": "o-1"}}, expected: "o-1"},
		{name: "no variables", expression: `"static"`, variables: nil, expected: "static"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := rt.Evaluate(tt.expression, tt.variables)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestEvaluateObjectResult(t *testing.T) {
	rt := newRuntime(t)

	out, err := rt.Evaluate(`({s: s + "!", n: 2})`, map[string]any{"s": "hi"})
	require.NoError(t, err)
	result, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi!", result["s"])
	assert.EqualValues(t, 2, result["n"])
}

func TestEvaluateBool(t *testing.T) {
	rt := newRuntime(t)

	ok, err := rt.EvaluateBool("x > 10", map[string]any{"x": 42})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rt.EvaluateBool("x > 10", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = rt.EvaluateBool("x + 1", map[string]any{"x": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a boolean")
}

func TestEvaluateCompileError(t *testing.T) {
	rt := newRuntime(t)

	_, err := rt.Evaluate("x ===", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile")
}

func TestGlobalsDoNotLeakBetweenEvaluations(t *testing.T) {
	rt := newRuntime(t)

	out, err := rt.Evaluate("secret", map[string]any{"secret": "s3cr3t"})
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", out)

	// with a pool of one VM the second run reuses the same runtime
	_, err = rt.Evaluate("secret", nil)
	require.Error(t, err, "stale global from the previous evaluation must be gone")
}

func TestConcurrentEvaluations(t *testing.T) {
	rt := newRuntime(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := rt.Evaluate("n * 2", map[string]any{"n": i})
			assert.NoError(t, err)
			assert.EqualValues(t, i*2, out)
		}(i)
	}
	wg.Wait()
}
