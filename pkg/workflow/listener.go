package workflow

import (
	"time"

	"github.com/flowrun-io/flowrun/pkg/workflow/runtime"
)

// ProcessEvent describes a lifecycle change of one process instance.
type ProcessEvent struct {
	ProcessID   string
	InstanceID  string
	State       runtime.ProcessInstanceState
	OccurredAt  time.Time
	ReferenceID string
}

// NodeEvent describes a node-instance transition. For hidden nodes no
// events are emitted.
type NodeEvent struct {
	ProcessID      string
	InstanceID     string
	NodeID         string
	NodeName       string
	NodeInstanceID int64
	State          runtime.NodeInstanceState
	OccurredAt     time.Time
}

// SignalEvent describes an outbound signal raised by the engine, e.g.
// processInstanceCompleted:<id> or SLA-<nodeInstanceId>. External systems
// (timer services, message brokers) subscribe through an EventListener.
type SignalEvent struct {
	InstanceID string
	Signal     runtime.Signal
	OccurredAt time.Time
}

// EventListener observes engine activity. Implementations must be fast and
// must not call back into the emitting process instance.
type EventListener interface {
	ProcessStateChanged(event ProcessEvent)
	BeforeNodeTriggered(event NodeEvent)
	AfterNodeTriggered(event NodeEvent)
	AfterNodeFailed(event NodeEvent)
	BeforeNodeLeft(event NodeEvent)
	AfterNodeLeft(event NodeEvent)
	SignalRaised(event SignalEvent)
}

// BaseEventListener is a no-op EventListener for embedding, so listeners
// only implement the callbacks they care about.
type BaseEventListener struct{}

var _ EventListener = BaseEventListener{}

func (BaseEventListener) ProcessStateChanged(ProcessEvent) {}
func (BaseEventListener) BeforeNodeTriggered(NodeEvent)    {}
func (BaseEventListener) AfterNodeTriggered(NodeEvent)     {}
func (BaseEventListener) AfterNodeFailed(NodeEvent)        {}
func (BaseEventListener) BeforeNodeLeft(NodeEvent)         {}
func (BaseEventListener) AfterNodeLeft(NodeEvent)          {}
func (BaseEventListener) SignalRaised(SignalEvent)         {}
