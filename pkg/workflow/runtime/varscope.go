package runtime

import (
	"github.com/hashicorp/go-hclog"

	"github.com/flowrun-io/flowrun/pkg/workflow/model"
)

// VariableScope maps variable names to values for a process or nested
// scope. Lookups that miss locally are resolved through the enclosing
// scopes; a name found nowhere yields nil, which is not an error.
type VariableScope struct {
	parent   *VariableScope
	declared map[string]struct{}
	local    map[string]any
	logger   hclog.Logger
}

// NewVariableScope creates a scope with the given parent and declared
// variables. Declared defaults are applied before the initial values.
func NewVariableScope(parent *VariableScope, declarations []model.Variable, initial map[string]any) *VariableScope {
	vs := &VariableScope{
		parent:   parent,
		declared: make(map[string]struct{}, len(declarations)),
		local:    make(map[string]any),
		logger:   hclog.Default().Named("variable-scope"),
	}
	for _, decl := range declarations {
		vs.declared[decl.Name] = struct{}{}
		if decl.Default != nil {
			vs.local[decl.Name] = decl.Default
		}
	}
	for k, v := range initial {
		vs.local[k] = v
	}
	return vs
}

func (vs *VariableScope) Parent() *VariableScope {
	return vs.parent
}

// GetVariable resolves name through this scope and its enclosing scopes and
// returns nil when the name is not bound anywhere.
func (vs *VariableScope) GetVariable(name string) any {
	if v, ok := vs.local[name]; ok {
		return v
	}
	if vs.parent != nil {
		return vs.parent.GetVariable(name)
	}
	return nil
}

func (vs *VariableScope) GetLocalVariable(name string) (any, bool) {
	v, ok := vs.local[name]
	return v, ok
}

func (vs *VariableScope) SetLocalVariable(name string, value any) {
	vs.local[name] = value
}

// SetVariable writes to the scope that declares the name. When no enclosing
// scope declares it, the write lands in the process-level scope and a
// diagnostic is logged.
func (vs *VariableScope) SetVariable(name string, value any) {
	if _, ok := vs.declared[name]; ok {
		vs.local[name] = value
		return
	}
	if _, ok := vs.local[name]; ok {
		vs.local[name] = value
		return
	}
	if vs.parent != nil {
		vs.parent.SetVariable(name, value)
		return
	}
	vs.logger.Debug("variable not declared in any scope, storing at process level", "name", name)
	vs.local[name] = value
}

// SetVariables applies every entry of the map through SetVariable.
func (vs *VariableScope) SetVariables(values map[string]any) {
	for k, v := range values {
		vs.SetVariable(k, v)
	}
}

// Variables flattens the scope chain into a single map, outer scopes first
// so that local bindings shadow enclosing ones. Used as the expression
// evaluation context.
func (vs *VariableScope) Variables() map[string]any {
	var merged map[string]any
	if vs.parent != nil {
		merged = vs.parent.Variables()
	} else {
		merged = make(map[string]any)
	}
	for k, v := range vs.local {
		merged[k] = v
	}
	return merged
}

// LocalVariables returns the scope's own bindings without the parent chain.
func (vs *VariableScope) LocalVariables() map[string]any {
	return vs.local
}
