package script

// Runtime evaluates expressions against a variable context. The engine uses
// it for activation guards, outgoing-connection constraints, task actions
// and tag expressions.
type Runtime interface {
	// Evaluate runs the expression and returns its value.
	Evaluate(expression string, variables map[string]any) (any, error)
	// EvaluateBool runs the expression and requires a boolean result.
	EvaluateBool(expression string, variables map[string]any) (bool, error)
}

// Runner is one reusable evaluation context (a VM) held by a RunnerPool.
type Runner interface {
	Runner()
}

// RunnerFactory creates runners for a pool.
type RunnerFactory interface {
	NewRunner() Runner
}
