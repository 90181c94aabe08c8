package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowrun-io/flowrun/pkg/workflow/model"
)

func TestScopeDefaultsAndInitialValues(t *testing.T) {
	scope := NewVariableScope(nil, []model.Variable{
		{Name: "s", Type: "string", Default: "hi"},
		{Name: "n", Type: "int"},
	}, map[string]any{"n": 5})

	assert.Equal(t, "hi", scope.GetVariable("s"))
	assert.Equal(t, 5, scope.GetVariable("n"))
	assert.Nil(t, scope.GetVariable("missing"))
}

func TestScopeResolutionWalksParentChain(t *testing.T) {
	root := NewVariableScope(nil, []model.Variable{{Name: "shared", Default: "root"}}, nil)
	child := NewVariableScope(root, []model.Variable{{Name: "local", Default: "child"}}, nil)

	assert.Equal(t, "root", child.GetVariable("shared"))
	assert.Equal(t, "child", child.GetVariable("local"))
	assert.Nil(t, root.GetVariable("local"))
}

func TestSetVariableWritesToDeclaringScope(t *testing.T) {
	root := NewVariableScope(nil, []model.Variable{{Name: "shared"}}, nil)
	child := NewVariableScope(root, []model.Variable{{Name: "local"}}, nil)

	child.SetVariable("shared", "updated")
	_, localHit := child.GetLocalVariable("shared")
	assert.False(t, localHit, "write must land in the declaring scope")
	assert.Equal(t, "updated", root.GetVariable("shared"))

	child.SetVariable("local", "mine")
	assert.Nil(t, root.GetVariable("local"))
	assert.Equal(t, "mine", child.GetVariable("local"))
}

func TestUndeclaredVariableLandsAtProcessLevel(t *testing.T) {
	root := NewVariableScope(nil, nil, nil)
	child := NewVariableScope(root, nil, nil)

	child.SetVariable("adhoc", 1)
	assert.Equal(t, 1, root.GetVariable("adhoc"))
}

func TestVariablesFlattensWithShadowing(t *testing.T) {
	root := NewVariableScope(nil, []model.Variable{
		{Name: "a", Default: "rootA"},
		{Name: "b", Default: "rootB"},
	}, nil)
	child := NewVariableScope(root, []model.Variable{{Name: "b", Default: "childB"}}, nil)

	flat := child.Variables()
	require.Len(t, flat, 2)
	assert.Equal(t, "rootA", flat["a"])
	assert.Equal(t, "childB", flat["b"])
}
