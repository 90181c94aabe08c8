package js

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flowrun-io/flowrun/pkg/script"
)

const defaultProgramCacheSize = 512

// JsRuntime evaluates JavaScript expressions on a pool of goja VMs.
// Compiled programs are cached by expression text and shared across the
// pool, so repeated guard and constraint evaluations skip the parser.
type JsRuntime struct {
	pool     *script.RunnerPool
	programs *lru.Cache[string, *goja.Program]
}

var _ script.Runtime = &JsRuntime{}

type jsRunnerFactory struct{}

func (jsRunnerFactory) NewRunner() script.Runner {
	return &jsRunner{vm: goja.New()}
}

func NewJsRuntime(ctx context.Context, maxPoolSize int, minPoolSize int) *JsRuntime {
	programs, err := lru.New[string, *goja.Program](defaultProgramCacheSize)
	if err != nil {
		panic("failed to initialize program cache: " + err.Error())
	}
	return &JsRuntime{
		pool:     script.NewRunnerPool(ctx, jsRunnerFactory{}, maxPoolSize, minPoolSize),
		programs: programs,
	}
}

func (r *JsRuntime) Evaluate(expression string, variables map[string]any) (any, error) {
	program, err := r.compile(expression)
	if err != nil {
		return nil, err
	}
	runner := r.pool.Get().(*jsRunner)
	defer r.pool.Put(runner)

	return runner.run(program, expression, variables)
}

func (r *JsRuntime) EvaluateBool(expression string, variables map[string]any) (bool, error) {
	out, err := r.Evaluate(expression, variables)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q evaluated to %T, expected a boolean", expression, out)
	}
	return b, nil
}

func (r *JsRuntime) compile(expression string) (*goja.Program, error) {
	if program, ok := r.programs.Get(expression); ok {
		return program, nil
	}
	program, err := goja.Compile("expression", expression, false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expression, err)
	}
	r.programs.Add(expression, program)
	return program, nil
}

type jsRunner struct {
	vm *goja.Runtime
}

func (r *jsRunner) Runner() {}

func (r *jsRunner) run(program *goja.Program, expression string, variables map[string]any) (any, error) {
	for k, v := range variables {
		if err := r.vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("failed to bind variable %q: %w", k, err)
		}
	}
	// globals from a previous evaluation must not leak into the next one
	defer func() {
		for k := range variables {
			_ = r.vm.GlobalObject().Delete(k)
		}
	}()

	value, err := r.vm.RunProgram(program)
	if err != nil {
		return nil, fmt.Errorf("error running expression %q: %w", expression, err)
	}
	if value == nil {
		return nil, nil
	}
	return value.Export(), nil
}
