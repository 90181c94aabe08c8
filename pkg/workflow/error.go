package workflow

import "fmt"

// EngineError is a generic engine-level failure, used for definition errors
// and other non-recoverable conditions raised to the caller.
type EngineError struct {
	Msg string
}

func (e *EngineError) Error() string {
	return e.Msg
}

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...interface{}) error {
	return &EngineError{
		Msg: fmt.Sprintf(format, a...),
	}
}

// ExpressionEvaluationError wraps a failure from the script runtime with the
// element it was evaluated for.
type ExpressionEvaluationError struct {
	Msg string
	Err error
}

func (e *ExpressionEvaluationError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ExpressionEvaluationError) Unwrap() error {
	return e.Err
}

// DuplicateInstanceError is raised when a correlation key or instance id is
// already tracked as active by the store.
type DuplicateInstanceError struct {
	Key string
}

func (e *DuplicateInstanceError) Error() string {
	return fmt.Sprintf("process instance with key %s already exists", e.Key)
}

// IllegalStateError guards lifecycle transitions, e.g. starting an already
// started instance.
type IllegalStateError struct {
	Op    string
	State string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("operation %s is not allowed in state %s", e.Op, e.State)
}

// NodeNotFoundError reports a definition-level node id that did not resolve
// within the instance's definition graph.
type NodeNotFoundError struct {
	InstanceID string
	NodeID     string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node %s was not found in process instance %s", e.NodeID, e.InstanceID)
}

// NodeInstanceNotFoundError reports a live node-instance id that is not
// present in the instance.
type NodeInstanceNotFoundError struct {
	InstanceID     string
	NodeInstanceID int64
}

func (e *NodeInstanceNotFoundError) Error() string {
	return fmt.Sprintf("node instance %d was not found in process instance %s", e.NodeInstanceID, e.InstanceID)
}

// WorkItemNotFoundError reports a missing work item id.
type WorkItemNotFoundError struct {
	InstanceID string
	WorkItemID string
}

func (e *WorkItemNotFoundError) Error() string {
	return fmt.Sprintf("work item %s was not found in process instance %s", e.WorkItemID, e.InstanceID)
}

// FaultError is raised by fault nodes and task actions that signal a named
// business fault. Faults with a handler in an enclosing scope are consumed
// there; unhandled faults move the instance to the Error state.
type FaultError struct {
	Name    string
	Payload any
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("fault %s was raised", e.Name)
}
