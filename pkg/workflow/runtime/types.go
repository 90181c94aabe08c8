package runtime

import "time"

// ProcessInstanceState is the externally visible lifecycle status of a
// process instance.
//
//	Pending -> Active -> { Completed, Aborted, Error }
//
// Error is not terminal: retrigger/skip return the instance to Active.
type ProcessInstanceState string

const (
	ProcessStatePending   ProcessInstanceState = "PENDING"
	ProcessStateActive    ProcessInstanceState = "ACTIVE"
	ProcessStateCompleted ProcessInstanceState = "COMPLETED"
	ProcessStateAborted   ProcessInstanceState = "ABORTED"
	ProcessStateError     ProcessInstanceState = "ERROR"
)

// Terminal reports whether the state removes the instance from the live
// store. Error instances stay queryable and actionable.
func (s ProcessInstanceState) Terminal() bool {
	return s == ProcessStateCompleted || s == ProcessStateAborted
}

// NodeInstanceState is the state machine of one node occurrence.
//
//	Created -> Active -> { Completed, Failed, Terminated }
//
// Completed and Terminated are final; Failed may return to Active through an
// external retry.
type NodeInstanceState string

const (
	NodeStateCreated    NodeInstanceState = "CREATED"
	NodeStateActive     NodeInstanceState = "ACTIVE"
	NodeStateCompleted  NodeInstanceState = "COMPLETED"
	NodeStateFailed     NodeInstanceState = "FAILED"
	NodeStateTerminated NodeInstanceState = "TERMINATED"
)

// Final reports whether the node instance is done for good. Failed is not
// final, the instance stays addressable for retrigger or skip.
func (s NodeInstanceState) Final() bool {
	return s == NodeStateCompleted || s == NodeStateTerminated
}

// SLACompliance tracks the declared due-date expectation of a node or
// process instance.
type SLACompliance string

const (
	SLANotApplicable SLACompliance = "NA"
	SLAPending       SLACompliance = "PENDING"
	SLAMet           SLACompliance = "MET"
	SLAViolated      SLACompliance = "VIOLATED"
	SLAAborted       SLACompliance = "ABORTED"
)

// Signal is a named payload delivered to a process instance. Channel names
// follow the engine conventions: Message-<name>, Timer-<nodeId>,
// Error-<code>, Condition-<id>, SLA-<nodeInstanceId> and
// processInstanceCompleted:<id>.
type Signal struct {
	Channel     string
	Payload     any
	ReferenceID string
}

// ProcessError captures the single failed node that moved an instance to
// the Error state.
type ProcessError struct {
	FailedNodeID string
	Message      string
	FailedAt     time.Time
}

// WorkItemState is the lifecycle of an externally fulfilled task.
type WorkItemState string

const (
	WorkItemStatePending   WorkItemState = "PENDING"
	WorkItemStateCompleted WorkItemState = "COMPLETED"
	WorkItemStateAborted   WorkItemState = "ABORTED"
)

// WorkItem represents one outstanding external task (human task, service
// call), correlated to exactly one node instance.
type WorkItem struct {
	ID             string
	NodeInstanceID int64
	Name           string
	State          WorkItemState
	Phase          string
	Parameters     map[string]any
	Results        map[string]any
}
