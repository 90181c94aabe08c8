package workflow

import (
	"context"
	"errors"
	"fmt"
	"hash/adler32"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowrun-io/flowrun/pkg/script"
	"github.com/flowrun-io/flowrun/pkg/script/js"
	"github.com/flowrun-io/flowrun/pkg/storage"
	"github.com/flowrun-io/flowrun/pkg/storage/inmemory"
	"github.com/flowrun-io/flowrun/pkg/workflow/model"
	"github.com/flowrun-io/flowrun/pkg/workflow/runtime"
)

// Engine interprets process definitions. It carries no per-instance state;
// process instances hold their own execution state and serialize their own
// mutations.
type Engine struct {
	name      string
	snowflake *snowflake.Node
	store     storage.Store
	scripts   script.Runtime
	logger    hclog.Logger
	tracer    trace.Tracer
	listeners []EventListener
	handlers  map[string]TaskHandler

	// exclusiveChoice enables the multi-constraint successor resolution
	// on nodes that declare constraints, replacing the trigger-all
	// default.
	exclusiveChoice bool

	newUnitOfWork func() storage.UnitOfWork
}

// TaskContext is handed to registered Go task handlers.
type TaskContext struct {
	Node     *model.Node
	Instance *ProcessInstance
	scope    *runtime.VariableScope
}

func (tc *TaskContext) Variable(name string) any {
	return tc.scope.GetVariable(name)
}

func (tc *TaskContext) SetVariable(name string, value any) {
	tc.scope.SetVariable(name, value)
}

// TaskHandler executes a task node in Go. A returned error fails the node.
type TaskHandler func(tc *TaskContext) error

type EngineOption = func(*Engine)

// NewEngine creates an engine with an in-memory store and a JS expression
// runtime unless options replace them.
func NewEngine(options ...EngineOption) *Engine {
	engine := &Engine{
		name:          fmt.Sprintf("Flow-Engine-%d", globalIDGenerator().Generate().Int64()),
		snowflake:     globalIDGenerator(),
		logger:        hclog.Default().Named("engine"),
		tracer:        otel.Tracer("flowrun-engine"),
		handlers:      map[string]TaskHandler{},
		newUnitOfWork: storage.NewUnitOfWork,
	}
	for _, option := range options {
		option(engine)
	}
	if engine.store == nil {
		engine.store = inmemory.NewStore()
	}
	if engine.scripts == nil {
		engine.scripts = js.NewJsRuntime(context.Background(), 10, 1)
	}
	return engine
}

func EngineWithName(name string) EngineOption {
	return func(engine *Engine) { engine.name = name }
}

func EngineWithStore(store storage.Store) EngineOption {
	return func(engine *Engine) { engine.store = store }
}

func EngineWithScriptRuntime(rt script.Runtime) EngineOption {
	return func(engine *Engine) { engine.scripts = rt }
}

func EngineWithLogger(logger hclog.Logger) EngineOption {
	return func(engine *Engine) { engine.logger = logger }
}

func EngineWithListener(listener EventListener) EngineOption {
	return func(engine *Engine) { engine.listeners = append(engine.listeners, listener) }
}

// EngineWithExclusiveChoice switches successor resolution to the
// constraint/priority mode for nodes declaring constraints.
func EngineWithExclusiveChoice() EngineOption {
	return func(engine *Engine) { engine.exclusiveChoice = true }
}

func EngineWithUnitOfWorkFactory(factory func() storage.UnitOfWork) EngineOption {
	return func(engine *Engine) { engine.newUnitOfWork = factory }
}

// Name returns the name of the engine, only useful in case you control
// multiple ones.
func (engine *Engine) Name() string {
	return engine.name
}

// RegisterTaskHandler binds a Go handler to task nodes referencing it by
// name.
func (engine *Engine) RegisterTaskHandler(name string, handler TaskHandler) {
	engine.handlers[name] = handler
}

func (engine *Engine) findTaskHandler(name string) TaskHandler {
	return engine.handlers[name]
}

// CreateInstance binds the initial variables into a fresh Pending instance.
func (engine *Engine) CreateInstance(def *model.ProcessDefinition, variables map[string]any) (*ProcessInstance, error) {
	return engine.CreateInstanceWithKey(def, "", variables)
}

// CreateInstanceWithKey additionally assigns a correlation (business) key.
// Keyed instances are registered in the store immediately, so concurrent
// lookups find them before Start; a key already tracked as active yields a
// DuplicateInstanceError.
func (engine *Engine) CreateInstanceWithKey(def *model.ProcessDefinition, businessKey string, variables map[string]any) (*ProcessInstance, error) {
	if err := def.Validate(); err != nil {
		return nil, errors.Join(newEngineErrorf("invalid process definition %s", def.ID), err)
	}
	pi := newProcessInstance(engine, def, businessKey, variables)
	if businessKey != "" {
		if err := engine.store.Create(context.Background(), businessKey, pi); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return nil, &DuplicateInstanceError{Key: businessKey}
			}
			return nil, err
		}
	}
	engine.logger.Debug("created process instance", "process", def.ID, "instance", pi.ID(), "businessKey", businessKey)
	return pi, nil
}

// CreateAndStartInstance creates an instance and starts it from the default
// start node.
func (engine *Engine) CreateAndStartInstance(ctx context.Context, def *model.ProcessDefinition, variables map[string]any) (*ProcessInstance, error) {
	pi, err := engine.CreateInstance(def, variables)
	if err != nil {
		return nil, err
	}
	if err := pi.Start(ctx, "", nil); err != nil {
		return nil, errors.Join(newEngineErrorf("failed to start process instance %s", pi.ID()), err)
	}
	return pi, nil
}

// FindInstanceByID looks the instance up by internal id or correlation key.
func (engine *Engine) FindInstanceByID(ctx context.Context, id string) (*ProcessInstance, error) {
	instance, err := engine.store.FindByID(ctx, id, storage.Mutable)
	if err != nil {
		return nil, err
	}
	return instance.(*ProcessInstance), nil
}

// FindInstancesByIDOrTag collects instances matching any of the values by
// id, correlation key or tag membership.
func (engine *Engine) FindInstancesByIDOrTag(ctx context.Context, values ...string) []*ProcessInstance {
	found := engine.store.FindByIDOrTag(ctx, storage.ReadOnly, values...)
	res := make([]*ProcessInstance, 0, len(found))
	for _, instance := range found {
		res = append(res, instance.(*ProcessInstance))
	}
	return res
}

// Instances returns a snapshot of all tracked instances.
func (engine *Engine) Instances(ctx context.Context) []*ProcessInstance {
	values := engine.store.Values(ctx, storage.ReadOnly)
	res := make([]*ProcessInstance, 0, len(values))
	for _, instance := range values {
		res = append(res, instance.(*ProcessInstance))
	}
	return res
}

func (engine *Engine) generateKey() int64 {
	return engine.snowflake.Generate().Int64()
}

func (engine *Engine) generateInstanceID() string {
	return uuid.NewString()
}

func (engine *Engine) emitProcessEvent(pi *ProcessInstance) {
	event := ProcessEvent{
		ProcessID:   pi.definition.ID,
		InstanceID:  pi.id,
		State:       pi.status,
		OccurredAt:  time.Now(),
		ReferenceID: pi.referenceID,
	}
	for _, l := range engine.listeners {
		l.ProcessStateChanged(event)
	}
}

func (engine *Engine) emitSignal(instanceID string, sig runtime.Signal) {
	event := SignalEvent{InstanceID: instanceID, Signal: sig, OccurredAt: time.Now()}
	for _, l := range engine.listeners {
		l.SignalRaised(event)
	}
}

var (
	globalGenerator     *snowflake.Node
	globalGeneratorOnce sync.Once
)

// globalIDGenerator returns the shared snowflake node, seeded from the
// environment so engines on different hosts land on different node ids.
func globalIDGenerator() *snowflake.Node {
	globalGeneratorOnce.Do(func() {
		hash32 := adler32.New()
		for _, e := range os.Environ() {
			hash32.Write([]byte(e))
		}
		node, err := snowflake.NewNode(int64(hash32.Sum32() % 1024))
		if err != nil {
			panic("can't initialize snowflake ID generator: " + err.Error())
		}
		globalGenerator = node
	})
	return globalGenerator
}
