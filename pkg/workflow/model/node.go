package model

// NodeType tags every node of a process definition. The runtime dispatches
// node execution behavior against this closed set of variants.
type NodeType string

const (
	NodeTypeStart      NodeType = "START"
	NodeTypeEnd        NodeType = "END"
	NodeTypeTask       NodeType = "TASK"
	NodeTypeWorkItem   NodeType = "WORK_ITEM"
	NodeTypeGateway    NodeType = "GATEWAY"
	NodeTypeEvent      NodeType = "EVENT"
	NodeTypeComposite  NodeType = "COMPOSITE"
	NodeTypeSubProcess NodeType = "SUB_PROCESS"
	NodeTypeFault      NodeType = "FAULT"
)

// ConnectionTypeDefault is the connection type used when a definition does
// not distinguish multiple token types on its edges.
const ConnectionTypeDefault = "flow"

// Connection is a directed, typed edge between two nodes of the same
// container. The ID is unique within the definition and is recorded on node
// instances for audit purposes.
type Connection struct {
	ID   string
	From string
	To   string
	Type string
}

// Constraint guards one outgoing connection in exclusive-choice mode.
// Expression is evaluated against the current process variables; among the
// satisfied non-default constraints the lowest Priority wins.
type Constraint struct {
	Expression string
	Priority   int
	Default    bool
}

// GatewayKind selects the gateway semantics.
type GatewayKind string

const (
	GatewayParallel  GatewayKind = "PARALLEL"
	GatewayExclusive GatewayKind = "EXCLUSIVE"
	GatewayInclusive GatewayKind = "INCLUSIVE"
)

type GatewaySpec struct {
	Kind GatewayKind
}

// EventSpec makes a node wait for a named signal on Channel. Payload
// variables delivered with the signal are written into the enclosing scope.
type EventSpec struct {
	Channel string
}

// FaultSpec raises a named fault when the node is triggered. If an enclosing
// scope declares a handler for the name, the handler runs; otherwise the
// process instance transitions to the error state.
type FaultSpec struct {
	Name     string
	Variable string
}

// BoundaryEvent attaches a signal listener to a node for the lifetime of its
// node instance. CancelActivity interrupts the attached node on delivery.
type BoundaryEvent struct {
	Channel        string
	CancelActivity bool
	// OutgoingNode receives the token after the boundary event fires.
	OutgoingNode string
}

// SubProcessSpec launches a child instance of another definition.
type SubProcessSpec struct {
	Definition *ProcessDefinition
	// Inputs maps child variable names to expressions evaluated against
	// the parent scope; Outputs maps parent variable names to child
	// variables copied back on completion.
	Inputs  map[string]string
	Outputs map[string]string
}

// ExceptionHandler reacts to a named fault raised within the owning scope.
type ExceptionHandler struct {
	// FaultVariable receives the fault payload in the handling scope.
	FaultVariable string
	// SignalChannel is raised after the fault variable is set, so that an
	// event node (or an external listener) can pick up the handling flow.
	SignalChannel string
}

// Node is one step of a process definition. Nodes are immutable after the
// definition is validated and are shared by all process instances.
type Node struct {
	ID       string
	Name     string
	Type     NodeType
	Metadata map[string]string

	// Guard is an optional activation condition. When it evaluates to
	// false the node instance is silently removed without executing.
	Guard string

	// Action holds a script evaluated by the task behavior, Handler names
	// a registered Go handler. At most one of the two is set.
	Action  string
	Handler string

	// WorkItemName labels externally fulfilled tasks; Parameters are
	// evaluated into the work item at creation time.
	WorkItemName string
	Parameters   map[string]any

	Gateway *GatewaySpec
	Event   *EventSpec
	Fault   *FaultSpec

	// Composite is the nested container of an embedded sub-process scope.
	Composite *Container

	// SubProcess references another definition started as a child
	// instance. The node completes when the child completes.
	SubProcess *SubProcessSpec

	Constraints       map[string]Constraint
	DefaultConnection string

	Boundary []BoundaryEvent

	// SLADueDate is an ISO8601 duration expression, e.g. "PT1H".
	SLADueDate string

	// Hidden suppresses node-level notifications (compensation internals).
	Hidden bool

	incoming map[string][]Connection
	outgoing map[string][]Connection
}

// Incoming returns the incoming connections of the given type.
func (n *Node) Incoming(connType string) []Connection {
	return n.incoming[connType]
}

// Outgoing returns the outgoing connections of the given type, in the order
// they were declared.
func (n *Node) Outgoing(connType string) []Connection {
	return n.outgoing[connType]
}

// HasOutgoing reports whether any outgoing connection exists at all.
func (n *Node) HasOutgoing() bool {
	for _, conns := range n.outgoing {
		if len(conns) > 0 {
			return true
		}
	}
	return false
}
