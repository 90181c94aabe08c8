package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/senseyeio/duration"

	"github.com/flowrun-io/flowrun/internal/appcontext"
	"github.com/flowrun-io/flowrun/pkg/workflow/model"
	"github.com/flowrun-io/flowrun/pkg/workflow/runtime"
)

// NodeInstance is one occurrence of a node within a process instance. It is
// created when a token arrives and lives until it completes, fails
// terminally or is cancelled. All methods assume the owning process instance
// lock is held.
type NodeInstance struct {
	id        int64
	node      *model.Node
	container *nodeInstanceContainer
	behavior  nodeBehavior

	state      runtime.NodeInstanceState
	fromNodeID string
	// connection unique-ids the token arrived over and left through,
	// recorded for audit.
	incomingConnIDs []string
	outgoingConnIDs []string
	triggerTime     time.Time
	leaveTime       time.Time
	slaCompliance   runtime.SLACompliance
	slaDueDate      time.Time
	retries         int
	lastError       string

	// inner is the nested scope of a composite node instance.
	inner *nodeInstanceContainer
	// child is the launched instance of a sub-process node.
	child *ProcessInstance
	// workItemID correlates an externally fulfilled task.
	workItemID string

	// listenerIDs are the signal registrations owned by this instance,
	// removed when it leaves.
	listenerIDs []int64

	// joinArrivals counts tokens received by a gateway join.
	joinArrivals int
}

func (ni *NodeInstance) ID() int64                        { return ni.id }
func (ni *NodeInstance) NodeID() string                   { return ni.node.ID }
func (ni *NodeInstance) NodeName() string                 { return ni.node.Name }
func (ni *NodeInstance) State() runtime.NodeInstanceState { return ni.state }
func (ni *NodeInstance) Retries() int                     { return ni.retries }
func (ni *NodeInstance) TriggerTime() time.Time           { return ni.triggerTime }
func (ni *NodeInstance) SLADueDate() time.Time            { return ni.slaDueDate }
func (ni *NodeInstance) SLACompliance() runtime.SLACompliance {
	return ni.slaCompliance
}

// IncomingConnectionIDs lists the connection unique-ids tokens arrived over.
func (ni *NodeInstance) IncomingConnectionIDs() []string {
	return append([]string{}, ni.incomingConnIDs...)
}

// OutgoingConnectionIDs lists the connection unique-ids the token left
// through.
func (ni *NodeInstance) OutgoingConnectionIDs() []string {
	return append([]string{}, ni.outgoingConnIDs...)
}

// trigger delivers a token to this instance. The activation guard is
// evaluated first; a false guard removes the instance without executing it.
// Execution errors never propagate, they move the process instance to the
// error state through captureError.
func (ni *NodeInstance) trigger(ctx context.Context, from string, connType string) {
	pi := ni.container.pi
	if ni.state != runtime.NodeStateCreated {
		if ni.node.Type == model.NodeTypeGateway {
			// additional token for a running join
			ni.behaviorTrigger(ctx, from)
			return
		}
		pi.engine.logger.Warn("ignoring trigger of node instance in state",
			"instance", pi.id, "node", ni.node.ID, "state", ni.state)
		return
	}
	ni.fromNodeID = from

	if pi.definition.FunctionFlow && consumesFunctionStep(ni.node.Type) {
		if pi.exec.functionStepTaken {
			// one function per activation; the continuation is published
			// for the next invocation
			pi.exec.pendingNodes = append(pi.exec.pendingNodes, ni.node.ID)
			ni.container.remove(ni)
			pi.engine.emitSignal(pi.id, runtime.Signal{
				Channel: "continue:" + ni.node.ID,
				Payload: ni.node.ID,
			})
			return
		}
		pi.exec.functionStepTaken = true
	}

	if ni.node.Guard != "" {
		ok, err := pi.evalBool(ni.node.Guard, ni.container.scope)
		if err != nil {
			ni.captureError(ctx, &ExpressionEvaluationError{
				Msg: fmt.Sprintf("activation guard of node %s", ni.node.ID),
				Err: err,
			})
			return
		}
		if !ok {
			// pruned without executing; the caller performs the
			// scope-completion check once routing settles
			ni.container.remove(ni)
			return
		}
	}

	ni.configureSLA()
	ni.state = runtime.NodeStateActive
	ni.triggerTime = time.Now()
	ni.emit(func(l EventListener, e NodeEvent) { l.BeforeNodeTriggered(e) })
	ni.registerBoundaryEvents(ctx)
	ni.behaviorTrigger(ctx, from)
}

func (ni *NodeInstance) behaviorTrigger(ctx context.Context, from string) {
	ctx = appcontext.WithExecutionKey(ctx, ni.id)
	if err := ni.behavior.internalTrigger(ctx, ni, from); err != nil {
		ni.captureError(ctx, err)
		return
	}
	ni.emit(func(l EventListener, e NodeEvent) { l.AfterNodeTriggered(e) })
}

// triggerCompleted finishes the instance and moves the token on. Late
// completions of instances whose scope was already cancelled or completed
// are ignored.
func (ni *NodeInstance) triggerCompleted(ctx context.Context, connType string) {
	if !ni.container.contains(ni) {
		return
	}
	pi := ni.container.pi
	ni.emit(func(l EventListener, e NodeEvent) { l.BeforeNodeLeft(e) })
	ni.state = runtime.NodeStateCompleted
	ni.leaveTime = time.Now()
	if ni.slaCompliance == runtime.SLAPending {
		if time.Now().After(ni.slaDueDate) {
			ni.slaCompliance = runtime.SLAViolated
		} else {
			ni.slaCompliance = runtime.SLAMet
		}
	}
	ni.dropListeners()
	ni.container.nodeInstanceCompleted(ctx, ni)
	pi.routeOutgoing(ctx, ni, connType)
	ni.container.checkAutoComplete(ctx)
	ni.emit(func(l EventListener, e NodeEvent) { l.AfterNodeLeft(e) })
}

// cancel terminates the instance without moving the token. Nested scopes,
// child instances and work items owned by the instance are cancelled too.
func (ni *NodeInstance) cancel(ctx context.Context) {
	if ni.state.Final() {
		return
	}
	ni.state = runtime.NodeStateTerminated
	ni.leaveTime = time.Now()
	if ni.slaCompliance == runtime.SLAPending {
		ni.slaCompliance = runtime.SLAAborted
	}
	ni.dropListeners()
	if cancellable, ok := ni.behavior.(cancellableBehavior); ok {
		cancellable.internalCancel(ctx, ni)
	}
	ni.container.remove(ni)
	ni.emit(func(l EventListener, e NodeEvent) { l.AfterNodeLeft(e) })
}

// retry returns a failed instance to execution.
func (ni *NodeInstance) retry(ctx context.Context) error {
	if ni.state != runtime.NodeStateFailed {
		return &IllegalStateError{Op: "retry node instance", State: string(ni.state)}
	}
	ni.retries++
	ni.lastError = ""
	ni.state = runtime.NodeStateActive
	ni.behaviorTrigger(ctx, ni.fromNodeID)
	return nil
}

// skip drops a failed instance and moves the token along its outgoing
// connections as if it had completed.
func (ni *NodeInstance) skip(ctx context.Context) error {
	if ni.state != runtime.NodeStateFailed {
		return &IllegalStateError{Op: "skip node instance", State: string(ni.state)}
	}
	ni.state = runtime.NodeStateCompleted
	ni.leaveTime = time.Now()
	ni.dropListeners()
	ni.container.nodeInstanceCompleted(ctx, ni)
	ni.container.pi.routeOutgoing(ctx, ni, model.ConnectionTypeDefault)
	ni.container.checkAutoComplete(ctx)
	return nil
}

// captureError records the failure. A FaultError is first offered to the
// exception handlers of the enclosing scopes; anything unhandled moves the
// process instance to the error state, keeping the failed instance around
// for retrigger or skip.
func (ni *NodeInstance) captureError(ctx context.Context, err error) {
	pi := ni.container.pi
	ni.lastError = err.Error()
	ni.state = runtime.NodeStateFailed
	if ni.slaCompliance == runtime.SLAPending {
		ni.slaCompliance = runtime.SLAAborted
	}
	ni.emit(func(l EventListener, e NodeEvent) { l.AfterNodeFailed(e) })

	if fault, ok := err.(*FaultError); ok {
		if ni.container.raiseFault(ctx, fault.Name, fault.Payload) {
			ni.dropListeners()
			ni.container.remove(ni)
			ni.container.checkAutoComplete(ctx)
			return
		}
	}
	pi.setError(ctx, ni, err)
}

func (ni *NodeInstance) configureSLA() {
	if ni.node.SLADueDate == "" {
		return
	}
	pi := ni.container.pi
	d, err := duration.ParseISO8601(ni.node.SLADueDate)
	if err != nil {
		pi.engine.logger.Warn("invalid SLA due date expression, skipping",
			"instance", pi.id, "node", ni.node.ID, "expression", ni.node.SLADueDate, "error", err)
		return
	}
	ni.slaDueDate = d.Shift(time.Now())
	ni.slaCompliance = runtime.SLAPending
	channel := fmt.Sprintf("SLA-%d", ni.id)
	ni.listen(channel, func(ctx context.Context, sig runtime.Signal) {
		if ni.slaCompliance == runtime.SLAPending {
			ni.slaCompliance = runtime.SLAViolated
		}
	})
	// published so an external timer service can signal back at due time
	pi.engine.emitSignal(pi.id, runtime.Signal{
		Channel:     channel,
		Payload:     ni.slaDueDate,
		ReferenceID: fmt.Sprintf("%d", ni.id),
	})
}

func (ni *NodeInstance) registerBoundaryEvents(ctx context.Context) {
	for _, boundary := range ni.node.Boundary {
		boundary := boundary
		ni.listen(boundary.Channel, func(ctx context.Context, sig runtime.Signal) {
			ni.boundaryFired(ctx, boundary, sig)
		})
	}
}

func (ni *NodeInstance) boundaryFired(ctx context.Context, boundary model.BoundaryEvent, sig runtime.Signal) {
	if ni.state.Final() {
		return
	}
	cont := ni.container
	if payload, ok := sig.Payload.(map[string]any); ok {
		cont.scope.SetVariables(payload)
	}
	if boundary.CancelActivity {
		ni.cancel(ctx)
	}
	if boundary.OutgoingNode != "" {
		if target := cont.container.Node(boundary.OutgoingNode); target != nil {
			next := cont.getNodeInstance(target)
			next.trigger(ctx, ni.node.ID, model.ConnectionTypeDefault)
		}
	}
	cont.checkAutoComplete(ctx)
}

func (ni *NodeInstance) listen(channel string, fn signalHandler) {
	id := ni.container.pi.addSignalListener(channel, fn)
	ni.listenerIDs = append(ni.listenerIDs, id)
}

func (ni *NodeInstance) dropListeners() {
	for _, id := range ni.listenerIDs {
		ni.container.pi.removeSignalListener(id)
	}
	ni.listenerIDs = nil
}

func (ni *NodeInstance) emit(deliver func(EventListener, NodeEvent)) {
	if ni.node.Hidden {
		return
	}
	pi := ni.container.pi
	if len(pi.engine.listeners) == 0 {
		return
	}
	event := NodeEvent{
		ProcessID:      pi.definition.ID,
		InstanceID:     pi.id,
		NodeID:         ni.node.ID,
		NodeName:       ni.node.Name,
		NodeInstanceID: ni.id,
		State:          ni.state,
		OccurredAt:     time.Now(),
	}
	for _, l := range pi.engine.listeners {
		deliver(l, event)
	}
}

func consumesFunctionStep(t model.NodeType) bool {
	switch t {
	case model.NodeTypeTask, model.NodeTypeWorkItem, model.NodeTypeSubProcess, model.NodeTypeComposite:
		return true
	}
	return false
}
