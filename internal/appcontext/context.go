package appcontext

import (
	"context"
)

type contextKey string

const (
	executionKey contextKey = "executionKey"
	callerKey    contextKey = "callerKey"
)

// WithExecutionKey tags the context with the node-instance key that drives
// the current operation, so nested operations can be correlated in logs and
// traces.
func WithExecutionKey(ctx context.Context, key int64) context.Context {
	return context.WithValue(ctx, executionKey, key)
}

func ExecutionKeyFromContext(ctx context.Context) (int64, bool) {
	value := ctx.Value(executionKey)
	if value == nil {
		return 0, false
	}
	return value.(int64), true
}

// WithCaller records the external principal acting on the engine, e.g. the
// user completing a work item.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

func CallerFromContext(ctx context.Context) (string, bool) {
	value := ctx.Value(callerKey)
	if value == nil {
		return "", false
	}
	return value.(string), true
}
