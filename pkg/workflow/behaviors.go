package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/flowrun-io/flowrun/pkg/workflow/model"
	"github.com/flowrun-io/flowrun/pkg/workflow/runtime"
)

// nodeBehavior executes one node type. A returned error fails the node
// instance; behaviors that stay active (work items, events, sub-processes)
// return nil and complete the instance later.
type nodeBehavior interface {
	internalTrigger(ctx context.Context, ni *NodeInstance, from string) error
}

// cancellableBehavior cleans up behavior-owned resources when the node
// instance is cancelled.
type cancellableBehavior interface {
	internalCancel(ctx context.Context, ni *NodeInstance)
}

func behaviorFor(node *model.Node) nodeBehavior {
	switch node.Type {
	case model.NodeTypeStart:
		return startBehavior{}
	case model.NodeTypeEnd:
		return endBehavior{}
	case model.NodeTypeTask:
		return taskBehavior{}
	case model.NodeTypeWorkItem:
		return workItemBehavior{}
	case model.NodeTypeGateway:
		return gatewayBehavior{}
	case model.NodeTypeEvent:
		return eventBehavior{}
	case model.NodeTypeFault:
		return faultBehavior{}
	case model.NodeTypeComposite:
		return compositeBehavior{}
	case model.NodeTypeSubProcess:
		return subProcessBehavior{}
	}
	return unsupportedBehavior{}
}

type unsupportedBehavior struct{}

func (unsupportedBehavior) internalTrigger(ctx context.Context, ni *NodeInstance, from string) error {
	return newEngineErrorf("unsupported node type %s on node %s", ni.node.Type, ni.node.ID)
}

type startBehavior struct{}

func (startBehavior) internalTrigger(ctx context.Context, ni *NodeInstance, from string) error {
	ni.triggerCompleted(ctx, model.ConnectionTypeDefault)
	return nil
}

type endBehavior struct{}

func (endBehavior) internalTrigger(ctx context.Context, ni *NodeInstance, from string) error {
	pi := ni.container.pi
	if ni.node.Metadata["terminate"] == "true" {
		ni.state = runtime.NodeStateCompleted
		ni.container.remove(ni)
		pi.root.cancelAll(ctx)
		pi.finish(ctx, runtime.ProcessStateCompleted)
		return nil
	}
	ni.triggerCompleted(ctx, model.ConnectionTypeDefault)
	return nil
}

// taskBehavior runs an inline script action or a registered Go handler and
// completes synchronously. A script returning an object merges it into the
// scope, so assignments made inside the script become process variables.
type taskBehavior struct{}

func (taskBehavior) internalTrigger(ctx context.Context, ni *NodeInstance, from string) error {
	pi := ni.container.pi
	scope := ni.container.scope

	switch {
	case ni.node.Handler != "":
		handler := pi.engine.findTaskHandler(ni.node.Handler)
		if handler == nil {
			return newEngineErrorf("no task handler registered under %s for node %s", ni.node.Handler, ni.node.ID)
		}
		tc := &TaskContext{Node: ni.node, Instance: pi, scope: scope}
		if err := handler(tc); err != nil {
			return errors.Join(newEngineErrorf("task handler %s failed", ni.node.Handler), err)
		}
	case ni.node.Action != "":
		result, err := pi.eval(ni.node.Action, scope)
		if err != nil {
			return &ExpressionEvaluationError{Msg: "action of node " + ni.node.ID, Err: err}
		}
		if updates, ok := result.(map[string]any); ok {
			scope.SetVariables(updates)
		}
	}
	ni.triggerCompleted(ctx, model.ConnectionTypeDefault)
	return nil
}

// workItemBehavior opens an externally fulfilled task and leaves the node
// instance active until CompleteWorkItem or AbortWorkItem is called.
type workItemBehavior struct{}

func (workItemBehavior) internalTrigger(ctx context.Context, ni *NodeInstance, from string) error {
	pi := ni.container.pi
	params, err := pi.evalParameters(ni.node.Parameters, ni.container.scope)
	if err != nil {
		return err
	}
	wi := &runtime.WorkItem{
		ID:             pi.engine.generateInstanceID(),
		NodeInstanceID: ni.id,
		Name:           ni.node.WorkItemName,
		State:          runtime.WorkItemStatePending,
		Parameters:     params,
	}
	pi.workItems[wi.ID] = wi
	ni.workItemID = wi.ID
	return nil
}

func (workItemBehavior) internalCancel(ctx context.Context, ni *NodeInstance) {
	pi := ni.container.pi
	if wi, ok := pi.workItems[ni.workItemID]; ok && wi.State == runtime.WorkItemStatePending {
		wi.State = runtime.WorkItemStateAborted
	}
}

// gatewayBehavior joins parallel tokens. A parallel gateway completes once a
// token arrived over every incoming connection; exclusive and inclusive
// gateways pass the token through, their split semantics live in the router.
type gatewayBehavior struct{}

func (gatewayBehavior) internalTrigger(ctx context.Context, ni *NodeInstance, from string) error {
	if gatewayKind(ni.node) == model.GatewayParallel {
		ni.joinArrivals++
		if ni.joinArrivals < len(ni.node.Incoming(model.ConnectionTypeDefault)) {
			return nil
		}
	}
	ni.triggerCompleted(ctx, model.ConnectionTypeDefault)
	return nil
}

// eventBehavior waits for a signal on the configured channel. A map payload
// is merged into the scope before the token moves on.
type eventBehavior struct{}

func (eventBehavior) internalTrigger(ctx context.Context, ni *NodeInstance, from string) error {
	ni.listen(ni.node.Event.Channel, func(ctx context.Context, sig runtime.Signal) {
		if payload, ok := sig.Payload.(map[string]any); ok {
			ni.container.scope.SetVariables(payload)
		}
		ni.triggerCompleted(ctx, model.ConnectionTypeDefault)
	})
	return nil
}

type faultBehavior struct{}

func (faultBehavior) internalTrigger(ctx context.Context, ni *NodeInstance, from string) error {
	var payload any
	if ni.node.Fault.Variable != "" {
		payload = ni.container.scope.GetVariable(ni.node.Fault.Variable)
	}
	return &FaultError{Name: ni.node.Fault.Name, Payload: payload}
}

// compositeBehavior opens a nested scope with its own variables and triggers
// the embedded start nodes. The node instance completes when the scope
// drains.
type compositeBehavior struct{}

func (compositeBehavior) internalTrigger(ctx context.Context, ni *NodeInstance, from string) error {
	pi := ni.container.pi
	inner := ni.node.Composite
	scope := runtime.NewVariableScope(ni.container.scope, inner.Variables, nil)
	ni.inner = newNodeInstanceContainer(pi, ni, inner, scope)

	started := false
	for _, n := range inner.Nodes {
		if n.Type != model.NodeTypeStart {
			continue
		}
		started = true
		ni.inner.getNodeInstance(n).trigger(ctx, ni.node.ID, model.ConnectionTypeDefault)
	}
	if !started {
		return newEngineErrorf("composite node %s has no start node", ni.node.ID)
	}
	ni.inner.checkAutoComplete(ctx)
	return nil
}

func (compositeBehavior) internalCancel(ctx context.Context, ni *NodeInstance) {
	if ni.inner != nil {
		ni.inner.cancelAll(ctx)
	}
}

// subProcessBehavior launches a child instance of another definition and
// completes when the child does. Output mappings copy child variables back
// into the parent scope.
type subProcessBehavior struct{}

func (subProcessBehavior) internalTrigger(ctx context.Context, ni *NodeInstance, from string) error {
	pi := ni.container.pi
	spec := ni.node.SubProcess

	inputs := make(map[string]any, len(spec.Inputs))
	for name, expression := range spec.Inputs {
		value, err := pi.eval(expression, ni.container.scope)
		if err != nil {
			return &ExpressionEvaluationError{Msg: "input mapping " + name + " of node " + ni.node.ID, Err: err}
		}
		inputs[name] = value
	}

	child, err := pi.engine.CreateInstance(spec.Definition, inputs)
	if err != nil {
		return errors.Join(newEngineErrorf("failed to create child instance for node %s", ni.node.ID), err)
	}
	child.parent = pi
	ni.child = child
	pi.children = append(pi.children, child.id)

	// the child may run to completion inside Start; notifications are
	// suppressed for that window and the status is checked afterwards
	child.suppressNotify.Store(true)
	startErr := child.Start(ctx, "", nil)
	child.suppressNotify.Store(false)
	if startErr != nil {
		return errors.Join(newEngineErrorf("failed to start child instance %s", child.id), startErr)
	}
	if state := child.Status(); state.Terminal() {
		if child.parentNotified.CompareAndSwap(false, true) {
			ni.childReturned(ctx, child, state)
		}
		return nil
	}
	ni.listen("processInstanceCompleted:"+child.id, func(ctx context.Context, sig runtime.Signal) {
		ni.childReturned(ctx, child, child.Status())
	})
	return nil
}

func (subProcessBehavior) internalCancel(ctx context.Context, ni *NodeInstance) {
	if ni.child == nil {
		return
	}
	ni.child.suppressNotify.Store(true)
	if err := ni.child.Abort(ctx); err != nil {
		ni.container.pi.engine.logger.Warn("failed to abort child instance",
			"instance", ni.container.pi.id, "child", ni.child.id, "error", err)
	}
}

func (ni *NodeInstance) childReturned(ctx context.Context, child *ProcessInstance, state runtime.ProcessInstanceState) {
	if state != runtime.ProcessStateCompleted {
		ni.cancel(ctx)
		ni.container.checkAutoComplete(ctx)
		return
	}
	spec := ni.node.SubProcess
	childVars := child.Variables()
	for parentVar, childVar := range spec.Outputs {
		ni.container.scope.SetVariable(parentVar, childVars[childVar])
	}
	ni.triggerCompleted(ctx, model.ConnectionTypeDefault)
}

// evalParameters resolves work item parameters. String values wrapped in
// #{...} are evaluated as expressions, everything else is passed through.
func (pi *ProcessInstance) evalParameters(params map[string]any, scope *runtime.VariableScope) (map[string]any, error) {
	resolved := make(map[string]any, len(params))
	for name, value := range params {
		text, ok := value.(string)
		if !ok || !strings.HasPrefix(text, "#{") || !strings.HasSuffix(text, "}") {
			resolved[name] = value
			continue
		}
		result, err := pi.eval(text[2:len(text)-1], scope)
		if err != nil {
			return nil, &ExpressionEvaluationError{Msg: "work item parameter " + name, Err: err}
		}
		resolved[name] = result
	}
	return resolved, nil
}
