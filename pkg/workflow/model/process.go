package model

import (
	"fmt"
)

// Variable declares a typed process variable with an optional default.
type Variable struct {
	Name    string
	Type    string
	Default any
}

// Container owns a set of nodes and the connections between them. The
// process definition is the root container; sub-process nodes carry nested
// containers of their own.
type Container struct {
	Nodes             []*Node
	Connections       []Connection
	Variables         []Variable
	ExceptionHandlers map[string]ExceptionHandler
	AutoComplete      bool

	nodesByID map[string]*Node
}

// Node returns the node with the given id declared directly in this
// container, or nil.
func (c *Container) Node(id string) *Node {
	return c.nodesByID[id]
}

// FindNode searches this container and all nested sub-process containers.
func (c *Container) FindNode(id string) *Node {
	if n := c.nodesByID[id]; n != nil {
		return n
	}
	for _, n := range c.Nodes {
		if n.Composite == nil {
			continue
		}
		if found := n.Composite.FindNode(id); found != nil {
			return found
		}
	}
	return nil
}

// Handler for the given fault name, or false when the scope declares none.
func (c *Container) Handler(faultName string) (ExceptionHandler, bool) {
	h, ok := c.ExceptionHandlers[faultName]
	return h, ok
}

func (c *Container) index() error {
	c.nodesByID = make(map[string]*Node, len(c.Nodes))
	for _, n := range c.Nodes {
		if _, dup := c.nodesByID[n.ID]; dup {
			return fmt.Errorf("duplicate node id: %s", n.ID)
		}
		n.incoming = map[string][]Connection{}
		n.outgoing = map[string][]Connection{}
		c.nodesByID[n.ID] = n
	}
	for _, conn := range c.Connections {
		from, ok := c.nodesByID[conn.From]
		if !ok {
			return fmt.Errorf("connection %s references unknown node id: %s", conn.ID, conn.From)
		}
		to, ok := c.nodesByID[conn.To]
		if !ok {
			return fmt.Errorf("connection %s references unknown node id: %s", conn.ID, conn.To)
		}
		from.outgoing[conn.Type] = append(from.outgoing[conn.Type], conn)
		to.incoming[conn.Type] = append(to.incoming[conn.Type], conn)
	}
	for _, n := range c.Nodes {
		for connID := range n.Constraints {
			if !c.hasConnection(connID) {
				return fmt.Errorf("node %s declares a constraint for unknown connection: %s", n.ID, connID)
			}
		}
		if n.DefaultConnection != "" && !c.hasConnection(n.DefaultConnection) {
			return fmt.Errorf("node %s declares an unknown default connection: %s", n.ID, n.DefaultConnection)
		}
		if n.Composite != nil {
			if err := n.Composite.index(); err != nil {
				return fmt.Errorf("composite %s: %w", n.ID, err)
			}
		}
	}
	return nil
}

func (c *Container) hasConnection(id string) bool {
	for _, conn := range c.Connections {
		if conn.ID == id {
			return true
		}
	}
	return false
}

// ProcessDefinition is the immutable graph interpreted by the engine. Build
// it through NewProcessBuilder; after Validate it is read-only and shared by
// all instances.
type ProcessDefinition struct {
	Container

	ID      string
	Name    string
	Version int32

	// DefaultStart is triggered by Start without a trigger name;
	// TriggerStarts maps named triggers to start nodes.
	DefaultStart  string
	TriggerStarts map[string]string

	// Tags are plain values always present on instances; TagExpressions
	// are evaluated against the instance variables on every update.
	Tags           []string
	TagExpressions []string

	// DescriptionExpression renders the instance description.
	DescriptionExpression string

	// FunctionFlow enables strict one-node-per-activation stepping.
	FunctionFlow bool

	Metadata map[string]string
}

// Validate indexes the graph and checks its structural invariants. It must
// be called once before the definition is handed to an engine.
func (pd *ProcessDefinition) Validate() error {
	if pd.ID == "" {
		return fmt.Errorf("process definition requires an id")
	}
	if err := pd.index(); err != nil {
		return fmt.Errorf("process %s: %w", pd.ID, err)
	}
	if pd.DefaultStart != "" && pd.Node(pd.DefaultStart) == nil {
		return fmt.Errorf("process %s: unknown default start node: %s", pd.ID, pd.DefaultStart)
	}
	for trigger, nodeID := range pd.TriggerStarts {
		if pd.Node(nodeID) == nil {
			return fmt.Errorf("process %s: trigger %s references unknown start node: %s", pd.ID, trigger, nodeID)
		}
	}
	return nil
}

// StartNode resolves the start node for a trigger name. An empty trigger
// selects the default start.
func (pd *ProcessDefinition) StartNode(trigger string) *Node {
	if trigger == "" {
		if pd.DefaultStart == "" {
			return nil
		}
		return pd.Node(pd.DefaultStart)
	}
	id, ok := pd.TriggerStarts[trigger]
	if !ok {
		return nil
	}
	return pd.Node(id)
}
