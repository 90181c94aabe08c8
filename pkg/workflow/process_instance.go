package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowrun-io/flowrun/pkg/storage"
	"github.com/flowrun-io/flowrun/pkg/workflow/model"
	"github.com/flowrun-io/flowrun/pkg/workflow/runtime"
)

// ProcessInstance is one execution of a process definition. All public
// operations serialize on an internal mutex, so a single instance is always
// mutated by one goroutine at a time; different instances run concurrently.
type ProcessInstance struct {
	engine     *Engine
	definition *model.ProcessDefinition

	mu sync.Mutex

	id             string
	correlationKey string
	description    string
	referenceID    string
	status         runtime.ProcessInstanceState
	processError   *runtime.ProcessError
	tags           []string

	scope *runtime.VariableScope
	root  *nodeInstanceContainer

	workItems map[string]*runtime.WorkItem

	signalSeq       int64
	signalListeners map[string][]*signalRegistration

	startedAt  time.Time
	finishedAt time.Time

	parent   *ProcessInstance
	children []string

	// suppressNotify blocks the parent-completion notification while the
	// parent drives the child under its own lock; parentNotified guards
	// against delivering it twice.
	suppressNotify atomic.Bool
	parentNotified atomic.Bool

	exec *executionContext

	// uow collects store mutations of the running operation; deferred
	// holds callbacks executed after the lock is released.
	uow      storage.UnitOfWork
	deferred []func()
}

type signalHandler func(ctx context.Context, sig runtime.Signal)

type signalRegistration struct {
	id      int64
	channel string
	fn      signalHandler
}

// executionContext tracks per-activation routing state. In function-flow
// definitions only one function node executes per activation; further
// tokens are parked as pending continuations.
type executionContext struct {
	functionStepTaken bool
	pendingNodes      []string
}

func newProcessInstance(engine *Engine, def *model.ProcessDefinition, correlationKey string, variables map[string]any) *ProcessInstance {
	pi := &ProcessInstance{
		engine:          engine,
		definition:      def,
		id:              engine.generateInstanceID(),
		correlationKey:  correlationKey,
		status:          runtime.ProcessStatePending,
		workItems:       map[string]*runtime.WorkItem{},
		signalListeners: map[string][]*signalRegistration{},
		exec:            &executionContext{},
	}
	pi.scope = runtime.NewVariableScope(nil, def.Variables, variables)
	pi.root = newNodeInstanceContainer(pi, nil, &def.Container, pi.scope)
	pi.tags = append([]string{}, def.Tags...)
	pi.description = def.Name
	return pi
}

var _ storage.Instance = (*ProcessInstance)(nil)

func (pi *ProcessInstance) ID() string             { return pi.id }
func (pi *ProcessInstance) CorrelationKey() string { return pi.correlationKey }

// Active reports whether the instance still occupies its correlation key.
// Error instances are active: they stay queryable and actionable.
func (pi *ProcessInstance) Active() bool {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return !pi.status.Terminal()
}

func (pi *ProcessInstance) Tags() []string {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return append([]string{}, pi.tags...)
}

func (pi *ProcessInstance) Status() runtime.ProcessInstanceState {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.status
}

func (pi *ProcessInstance) Description() string {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.description
}

func (pi *ProcessInstance) ProcessID() string { return pi.definition.ID }

func (pi *ProcessInstance) ReferenceID() string {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.referenceID
}

func (pi *ProcessInstance) SetReferenceID(ref string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.referenceID = ref
}

func (pi *ProcessInstance) StartedAt() time.Time {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.startedAt
}

// Variables returns a flattened snapshot of the process-level scope.
func (pi *ProcessInstance) Variables() map[string]any {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.scope.Variables()
}

// Variable returns a single process-level variable, nil when unset.
func (pi *ProcessInstance) Variable(name string) any {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.scope.GetVariable(name)
}

// Children returns the ids of child instances launched by sub-process
// nodes.
func (pi *ProcessInstance) Children() []string {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return append([]string{}, pi.children...)
}

// PendingNodes lists function-flow continuations parked by the last
// activation, to be resumed through StartFrom.
func (pi *ProcessInstance) PendingNodes() []string {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return append([]string{}, pi.exec.pendingNodes...)
}

// NodeInstances returns a snapshot of the live node instances, nested
// scopes included.
func (pi *ProcessInstance) NodeInstances() []*NodeInstance {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	var out []*NodeInstance
	pi.root.collect(&out)
	return out
}

// withLock brackets one public operation: lock, fresh unit of work, run,
// unlock, flush the queued store mutations and fire deferred callbacks.
// Deferred callbacks run unlocked so they may take other instance locks.
func (pi *ProcessInstance) withLock(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := pi.engine.tracer.Start(ctx, op)
	defer span.End()

	pi.mu.Lock()
	pi.uow = pi.engine.newUnitOfWork()
	pi.exec.functionStepTaken = false
	err := fn(ctx)
	uow := pi.uow
	pi.uow = nil
	deferred := pi.deferred
	pi.deferred = nil
	pi.mu.Unlock()

	if err != nil {
		uow.Discard()
		return err
	}
	flushErr := uow.Flush(ctx)
	for _, fn := range deferred {
		fn()
	}
	return flushErr
}

func (pi *ProcessInstance) runDeferred(fn func()) {
	pi.deferred = append(pi.deferred, fn)
}

func (pi *ProcessInstance) storeKey() string {
	if pi.correlationKey != "" {
		return pi.correlationKey
	}
	return pi.id
}

// queueStoreSync queues an Update for the instance unless a removal is
// already queued by finish or the instance was never registered yet.
func (pi *ProcessInstance) queueStoreSync() {
	if pi.status.Terminal() {
		return
	}
	if pi.status == runtime.ProcessStatePending && pi.correlationKey == "" {
		return
	}
	key := pi.storeKey()
	pi.uow.Intercept(func(ctx context.Context) error {
		return pi.engine.store.Update(ctx, key, pi)
	})
}

// Start activates the instance from the start node bound to the trigger
// name; an empty trigger selects the default start. Payload variables are
// merged into the scope before the first node runs.
func (pi *ProcessInstance) Start(ctx context.Context, trigger string, payload map[string]any) error {
	return pi.withLock(ctx, "flowrun.instance.start", func(ctx context.Context) error {
		if pi.status != runtime.ProcessStatePending {
			return &IllegalStateError{Op: "start process instance", State: string(pi.status)}
		}
		start := pi.definition.StartNode(trigger)
		if start == nil {
			return newEngineErrorf("process %s has no start node for trigger %q", pi.definition.ID, trigger)
		}
		pi.activate(ctx, payload)
		pi.root.getNodeInstance(start).trigger(ctx, "", model.ConnectionTypeDefault)
		pi.root.checkAutoComplete(ctx)
		pi.afterMutation()
		return nil
	})
}

// StartFrom activates the instance at an arbitrary node, skipping the start
// node. The id is resolved through nested composite scopes; the token is
// delivered into the scope that declares the node. On an already active
// instance it injects an additional token, which is also how parked
// function-flow continuations are resumed.
func (pi *ProcessInstance) StartFrom(ctx context.Context, nodeID string, payload map[string]any) error {
	return pi.withLock(ctx, "flowrun.instance.startFrom", func(ctx context.Context) error {
		if pi.status.Terminal() || pi.status == runtime.ProcessStateError {
			return &IllegalStateError{Op: "start process instance from node", State: string(pi.status)}
		}
		node := pi.definition.FindNode(nodeID)
		if node == nil {
			return &NodeNotFoundError{InstanceID: pi.id, NodeID: nodeID}
		}
		if pi.status == runtime.ProcessStatePending {
			pi.activate(ctx, payload)
		} else if payload != nil {
			pi.scope.SetVariables(payload)
		}
		cont := pi.root.containerFor(node)
		if cont == nil {
			return newEngineErrorf("node %s of process instance %s is declared in a scope that is not open", nodeID, pi.id)
		}
		pi.unparkNode(nodeID)
		cont.getNodeInstance(node).trigger(ctx, "", model.ConnectionTypeDefault)
		cont.checkAutoComplete(ctx)
		pi.afterMutation()
		return nil
	})
}

func (pi *ProcessInstance) activate(ctx context.Context, payload map[string]any) {
	pi.status = runtime.ProcessStateActive
	pi.startedAt = time.Now()
	if payload != nil {
		pi.scope.SetVariables(payload)
	}
	if pi.correlationKey == "" {
		pi.uow.Intercept(func(ctx context.Context) error {
			return pi.engine.store.Create(ctx, pi.id, pi)
		})
	}
	pi.evaluateTags()
	pi.evaluateDescription()
	pi.engine.emitProcessEvent(pi)
}

func (pi *ProcessInstance) unparkNode(nodeID string) {
	for i, pending := range pi.exec.pendingNodes {
		if pending == nodeID {
			pi.exec.pendingNodes = append(pi.exec.pendingNodes[:i], pi.exec.pendingNodes[i+1:]...)
			return
		}
	}
}

// Abort cancels every live node instance, child instances included, and
// finishes the instance in the aborted state.
func (pi *ProcessInstance) Abort(ctx context.Context) error {
	return pi.withLock(ctx, "flowrun.instance.abort", func(ctx context.Context) error {
		if pi.status.Terminal() {
			return &IllegalStateError{Op: "abort process instance", State: string(pi.status)}
		}
		pi.root.cancelAll(ctx)
		pi.finish(ctx, runtime.ProcessStateAborted)
		return nil
	})
}

// Send delivers a signal to the instance: waiting event nodes, boundary
// events and SLA trackers subscribed to the channel react to it. An errored
// instance rejects signals until the error is cleared, so no token is routed
// into an instance that cannot move it.
func (pi *ProcessInstance) Send(ctx context.Context, sig runtime.Signal) error {
	return pi.withLock(ctx, "flowrun.instance.signal", func(ctx context.Context) error {
		if pi.status.Terminal() || pi.status == runtime.ProcessStateError {
			return &IllegalStateError{Op: "signal process instance", State: string(pi.status)}
		}
		pi.deliverSignal(ctx, sig)
		pi.afterMutation()
		return nil
	})
}

// UpdateVariables merges the values into the process scope and refreshes
// the computed tags and description.
func (pi *ProcessInstance) UpdateVariables(ctx context.Context, values map[string]any) error {
	return pi.withLock(ctx, "flowrun.instance.updateVariables", func(ctx context.Context) error {
		if pi.status.Terminal() {
			return &IllegalStateError{Op: "update variables", State: string(pi.status)}
		}
		pi.scope.SetVariables(values)
		pi.afterMutation()
		return nil
	})
}

// CancelNodeInstance terminates one live node instance without moving its
// token.
func (pi *ProcessInstance) CancelNodeInstance(ctx context.Context, nodeInstanceID int64) error {
	return pi.withLock(ctx, "flowrun.instance.cancelNode", func(ctx context.Context) error {
		ni := pi.root.findNodeInstance(nodeInstanceID)
		if ni == nil {
			return &NodeInstanceNotFoundError{InstanceID: pi.id, NodeInstanceID: nodeInstanceID}
		}
		cont := ni.container
		ni.cancel(ctx)
		cont.checkAutoComplete(ctx)
		pi.afterMutation()
		return nil
	})
}

// RetriggerNodeInstance cancels the live node instance and delivers a fresh
// token to the same node.
func (pi *ProcessInstance) RetriggerNodeInstance(ctx context.Context, nodeInstanceID int64) error {
	return pi.withLock(ctx, "flowrun.instance.retriggerNode", func(ctx context.Context) error {
		ni := pi.root.findNodeInstance(nodeInstanceID)
		if ni == nil {
			return &NodeInstanceNotFoundError{InstanceID: pi.id, NodeInstanceID: nodeInstanceID}
		}
		cont := ni.container
		node := ni.node
		from := ni.fromNodeID
		ni.cancel(ctx)
		cont.getNodeInstance(node).trigger(ctx, from, model.ConnectionTypeDefault)
		cont.checkAutoComplete(ctx)
		pi.afterMutation()
		return nil
	})
}

func (pi *ProcessInstance) addSignalListener(channel string, fn signalHandler) int64 {
	pi.signalSeq++
	reg := &signalRegistration{id: pi.signalSeq, channel: channel, fn: fn}
	pi.signalListeners[channel] = append(pi.signalListeners[channel], reg)
	return reg.id
}

func (pi *ProcessInstance) removeSignalListener(id int64) {
	for channel, regs := range pi.signalListeners {
		for i, reg := range regs {
			if reg.id == id {
				pi.signalListeners[channel] = append(regs[:i], regs[i+1:]...)
				if len(pi.signalListeners[channel]) == 0 {
					delete(pi.signalListeners, channel)
				}
				return
			}
		}
	}
}

func (pi *ProcessInstance) deliverSignal(ctx context.Context, sig runtime.Signal) {
	regs := append([]*signalRegistration{}, pi.signalListeners[sig.Channel]...)
	for _, reg := range regs {
		reg.fn(ctx, sig)
	}
}

// setError moves the instance to the error state, recording the failed
// node. The failed node instance stays live so the error can be retriggered
// or skipped.
func (pi *ProcessInstance) setError(ctx context.Context, ni *NodeInstance, err error) {
	pi.processError = &runtime.ProcessError{
		FailedNodeID: ni.node.ID,
		Message:      err.Error(),
		FailedAt:     time.Now(),
	}
	pi.status = runtime.ProcessStateError
	pi.engine.logger.Warn("process instance moved to error state",
		"instance", pi.id, "process", pi.definition.ID, "node", ni.node.ID, "error", err)
	pi.engine.emitProcessEvent(pi)
}

// finish closes the instance in a terminal state: listeners are dropped,
// the completion signal is published and the store entry is removed so the
// correlation key frees up.
func (pi *ProcessInstance) finish(ctx context.Context, state runtime.ProcessInstanceState) {
	pi.status = state
	pi.finishedAt = time.Now()
	pi.processError = nil
	pi.evaluateTags()
	pi.evaluateDescription()
	pi.signalListeners = map[string][]*signalRegistration{}
	pi.engine.emitProcessEvent(pi)
	pi.engine.emitSignal(pi.id, runtime.Signal{
		Channel:     "processInstanceCompleted:" + pi.id,
		Payload:     string(state),
		ReferenceID: pi.referenceID,
	})

	key := pi.storeKey()
	pi.uow.Intercept(func(ctx context.Context) error {
		return pi.engine.store.Remove(ctx, key, pi)
	})

	if pi.parent != nil && !pi.suppressNotify.Load() {
		parent, id := pi.parent, pi.id
		pi.runDeferred(func() {
			if !pi.parentNotified.CompareAndSwap(false, true) {
				return
			}
			err := parent.Send(context.Background(), runtime.Signal{
				Channel: "processInstanceCompleted:" + id,
				Payload: string(state),
			})
			if err != nil {
				parent.engine.logger.Warn("failed to notify parent instance",
					"parent", parent.id, "child", id, "error", err)
			}
		})
	}
}

// afterMutation refreshes derived state and queues the store update at the
// end of a mutating operation.
func (pi *ProcessInstance) afterMutation() {
	if !pi.status.Terminal() {
		pi.evaluateTags()
		pi.evaluateDescription()
	}
	pi.queueStoreSync()
}

// evaluateTags recomputes the instance tags: the static definition tags
// plus every tag expression that evaluates to a non-empty string.
func (pi *ProcessInstance) evaluateTags() {
	tags := append([]string{}, pi.definition.Tags...)
	for _, expression := range pi.definition.TagExpressions {
		value, err := pi.eval(expression, pi.scope)
		if err != nil {
			pi.engine.logger.Debug("tag expression failed, skipping",
				"instance", pi.id, "expression", expression, "error", err)
			continue
		}
		if text, ok := value.(string); ok && text != "" {
			tags = append(tags, text)
		}
	}
	pi.tags = tags
}

func (pi *ProcessInstance) evaluateDescription() {
	if pi.definition.DescriptionExpression == "" {
		return
	}
	value, err := pi.eval(pi.definition.DescriptionExpression, pi.scope)
	if err != nil {
		pi.engine.logger.Debug("description expression failed, keeping previous",
			"instance", pi.id, "error", err)
		return
	}
	if text, ok := value.(string); ok {
		pi.description = text
	}
}

func (pi *ProcessInstance) eval(expression string, scope *runtime.VariableScope) (any, error) {
	return pi.engine.scripts.Evaluate(expression, scope.Variables())
}

func (pi *ProcessInstance) evalBool(expression string, scope *runtime.VariableScope) (bool, error) {
	return pi.engine.scripts.EvaluateBool(expression, scope.Variables())
}

// ProcessErrorHandle exposes the recorded failure of an errored instance
// together with the recovery operations.
type ProcessErrorHandle struct {
	pi           *ProcessInstance
	failedNodeID string
	message      string
	failedAt     time.Time
}

// Error returns the failure handle of an instance in the error state.
func (pi *ProcessInstance) Error() (*ProcessErrorHandle, bool) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.processError == nil {
		return nil, false
	}
	return &ProcessErrorHandle{
		pi:           pi,
		failedNodeID: pi.processError.FailedNodeID,
		message:      pi.processError.Message,
		failedAt:     pi.processError.FailedAt,
	}, true
}

func (h *ProcessErrorHandle) FailedNodeID() string { return h.failedNodeID }
func (h *ProcessErrorHandle) Message() string      { return h.message }
func (h *ProcessErrorHandle) FailedAt() time.Time  { return h.failedAt }

// Retrigger re-executes the failed node and returns the instance to the
// active state.
func (h *ProcessErrorHandle) Retrigger(ctx context.Context) error {
	return h.recover(ctx, "flowrun.instance.retrigger", func(ctx context.Context, ni *NodeInstance) error {
		return ni.retry(ctx)
	})
}

// Skip drops the failed node and moves the token along its outgoing
// connections as if it had completed.
func (h *ProcessErrorHandle) Skip(ctx context.Context) error {
	return h.recover(ctx, "flowrun.instance.skip", func(ctx context.Context, ni *NodeInstance) error {
		return ni.skip(ctx)
	})
}

func (h *ProcessErrorHandle) recover(ctx context.Context, op string, action func(ctx context.Context, ni *NodeInstance) error) error {
	pi := h.pi
	return pi.withLock(ctx, op, func(ctx context.Context) error {
		if pi.status != runtime.ProcessStateError {
			return &IllegalStateError{Op: "recover process instance", State: string(pi.status)}
		}
		ni := pi.findFailedNodeInstance(h.failedNodeID)
		if ni == nil {
			return &NodeNotFoundError{InstanceID: pi.id, NodeID: h.failedNodeID}
		}
		pi.processError = nil
		pi.status = runtime.ProcessStateActive
		pi.engine.emitProcessEvent(pi)
		if err := action(ctx, ni); err != nil {
			return err
		}
		pi.afterMutation()
		return nil
	})
}

func (pi *ProcessInstance) findFailedNodeInstance(nodeID string) *NodeInstance {
	var all []*NodeInstance
	pi.root.collect(&all)
	for _, ni := range all {
		if ni.node.ID == nodeID && ni.state == runtime.NodeStateFailed {
			return ni
		}
	}
	return nil
}

func (pi *ProcessInstance) String() string {
	return fmt.Sprintf("ProcessInstance[%s/%s status=%s]", pi.definition.ID, pi.id, pi.status)
}
