package model

import "fmt"

// ProcessBuilder assembles a ProcessDefinition. It exists because definition
// parsing lives outside this module; embedders and tests construct graphs
// programmatically.
type ProcessBuilder struct {
	def *ProcessDefinition
	cb  *ContainerBuilder
}

func NewProcessBuilder(id string) *ProcessBuilder {
	def := &ProcessDefinition{
		ID:            id,
		Name:          id,
		Version:       1,
		TriggerStarts: map[string]string{},
		Metadata:      map[string]string{},
	}
	def.AutoComplete = true
	return &ProcessBuilder{
		def: def,
		cb:  &ContainerBuilder{container: &def.Container},
	}
}

func (b *ProcessBuilder) Name(name string) *ProcessBuilder {
	b.def.Name = name
	return b
}

func (b *ProcessBuilder) Version(v int32) *ProcessBuilder {
	b.def.Version = v
	return b
}

func (b *ProcessBuilder) FunctionFlow() *ProcessBuilder {
	b.def.FunctionFlow = true
	return b
}

func (b *ProcessBuilder) Tag(values ...string) *ProcessBuilder {
	b.def.Tags = append(b.def.Tags, values...)
	return b
}

func (b *ProcessBuilder) TagExpression(expressions ...string) *ProcessBuilder {
	b.def.TagExpressions = append(b.def.TagExpressions, expressions...)
	return b
}

func (b *ProcessBuilder) Description(expression string) *ProcessBuilder {
	b.def.DescriptionExpression = expression
	return b
}

func (b *ProcessBuilder) Variable(name, varType string, def any) *ProcessBuilder {
	b.def.Variables = append(b.def.Variables, Variable{Name: name, Type: varType, Default: def})
	return b
}

// Start declares a start node and makes it the default start unless one was
// already chosen.
func (b *ProcessBuilder) Start(id string) *ProcessBuilder {
	b.cb.Start(id)
	if b.def.DefaultStart == "" {
		b.def.DefaultStart = id
	}
	return b
}

// StartOnTrigger declares a start node bound to a named trigger.
func (b *ProcessBuilder) StartOnTrigger(id, trigger string) *ProcessBuilder {
	b.cb.Start(id)
	b.def.TriggerStarts[trigger] = id
	return b
}

func (b *ProcessBuilder) End(id string) *ProcessBuilder            { b.cb.End(id); return b }
func (b *ProcessBuilder) Task(id, action string) *ProcessBuilder   { b.cb.Task(id, action); return b }
func (b *ProcessBuilder) Handler(id, handler string) *ProcessBuilder {
	b.cb.Handler(id, handler)
	return b
}
func (b *ProcessBuilder) WorkItem(id, name string) *ProcessBuilder { b.cb.WorkItem(id, name); return b }
func (b *ProcessBuilder) Event(id, channel string) *ProcessBuilder { b.cb.Event(id, channel); return b }
func (b *ProcessBuilder) Fault(id, name string) *ProcessBuilder    { b.cb.Fault(id, name); return b }

func (b *ProcessBuilder) Gateway(id string, kind GatewayKind) *ProcessBuilder {
	b.cb.Gateway(id, kind)
	return b
}

func (b *ProcessBuilder) Composite(id string, build func(*ContainerBuilder)) *ProcessBuilder {
	b.cb.Composite(id, build)
	return b
}

func (b *ProcessBuilder) SubProcess(id string, spec SubProcessSpec) *ProcessBuilder {
	b.cb.SubProcess(id, spec)
	return b
}

// Node adds a fully assembled node, for cases the convenience methods do not
// cover (boundary events, guards, SLA expressions).
func (b *ProcessBuilder) Node(n *Node) *ProcessBuilder {
	b.cb.Node(n)
	return b
}

func (b *ProcessBuilder) Connect(from, to string) *ProcessBuilder {
	b.cb.Connect(from, to)
	return b
}

func (b *ProcessBuilder) ConnectTyped(from, to, connType string) *ProcessBuilder {
	b.cb.ConnectTyped(from, to, connType)
	return b
}

// Constraint guards the connection between from and to for exclusive-choice
// routing.
func (b *ProcessBuilder) Constraint(from, to, expression string, priority int) *ProcessBuilder {
	b.cb.Constraint(from, to, expression, priority)
	return b
}

// DefaultFlow marks the connection between from and to as the fallback taken
// when no constraint is satisfied.
func (b *ProcessBuilder) DefaultFlow(from, to string) *ProcessBuilder {
	b.cb.DefaultFlow(from, to)
	return b
}

func (b *ProcessBuilder) OnFault(name string, handler ExceptionHandler) *ProcessBuilder {
	b.cb.OnFault(name, handler)
	return b
}

// Build validates and returns the definition. The builder must not be used
// afterwards.
func (b *ProcessBuilder) Build() (*ProcessDefinition, error) {
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	return b.def, nil
}

// MustBuild panics on validation errors, for tests and static definitions.
func (b *ProcessBuilder) MustBuild() *ProcessDefinition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

// ContainerBuilder assembles the node set of one scope: the process root or
// a sub-process body.
type ContainerBuilder struct {
	container *Container
	connSeq   int
}

func (cb *ContainerBuilder) Node(n *Node) *ContainerBuilder {
	if n.Metadata == nil {
		n.Metadata = map[string]string{}
	}
	cb.container.Nodes = append(cb.container.Nodes, n)
	return cb
}

func (cb *ContainerBuilder) Start(id string) *ContainerBuilder {
	return cb.Node(&Node{ID: id, Name: id, Type: NodeTypeStart})
}

func (cb *ContainerBuilder) End(id string) *ContainerBuilder {
	return cb.Node(&Node{ID: id, Name: id, Type: NodeTypeEnd})
}

func (cb *ContainerBuilder) Task(id, action string) *ContainerBuilder {
	return cb.Node(&Node{ID: id, Name: id, Type: NodeTypeTask, Action: action})
}

func (cb *ContainerBuilder) Handler(id, handler string) *ContainerBuilder {
	return cb.Node(&Node{ID: id, Name: id, Type: NodeTypeTask, Handler: handler})
}

func (cb *ContainerBuilder) WorkItem(id, name string) *ContainerBuilder {
	return cb.Node(&Node{ID: id, Name: id, Type: NodeTypeWorkItem, WorkItemName: name})
}

func (cb *ContainerBuilder) Event(id, channel string) *ContainerBuilder {
	return cb.Node(&Node{ID: id, Name: id, Type: NodeTypeEvent, Event: &EventSpec{Channel: channel}})
}

func (cb *ContainerBuilder) Fault(id, name string) *ContainerBuilder {
	return cb.Node(&Node{ID: id, Name: id, Type: NodeTypeFault, Fault: &FaultSpec{Name: name}})
}

func (cb *ContainerBuilder) Gateway(id string, kind GatewayKind) *ContainerBuilder {
	return cb.Node(&Node{ID: id, Name: id, Type: NodeTypeGateway, Gateway: &GatewaySpec{Kind: kind}})
}

func (cb *ContainerBuilder) Composite(id string, build func(*ContainerBuilder)) *ContainerBuilder {
	inner := &Container{AutoComplete: true}
	build(&ContainerBuilder{container: inner})
	return cb.Node(&Node{ID: id, Name: id, Type: NodeTypeComposite, Composite: inner})
}

func (cb *ContainerBuilder) SubProcess(id string, spec SubProcessSpec) *ContainerBuilder {
	return cb.Node(&Node{ID: id, Name: id, Type: NodeTypeSubProcess, SubProcess: &spec})
}

func (cb *ContainerBuilder) Connect(from, to string) *ContainerBuilder {
	return cb.ConnectTyped(from, to, ConnectionTypeDefault)
}

func (cb *ContainerBuilder) ConnectTyped(from, to, connType string) *ContainerBuilder {
	cb.connSeq++
	cb.container.Connections = append(cb.container.Connections, Connection{
		ID:   fmt.Sprintf("%s-%s-%d", from, to, cb.connSeq),
		From: from,
		To:   to,
		Type: connType,
	})
	return cb
}

func (cb *ContainerBuilder) Constraint(from, to, expression string, priority int) *ContainerBuilder {
	conn := cb.findConnection(from, to)
	if conn == nil {
		panic(fmt.Sprintf("no connection between %s and %s", from, to))
	}
	node := cb.findNode(from)
	if node.Constraints == nil {
		node.Constraints = map[string]Constraint{}
	}
	node.Constraints[conn.ID] = Constraint{Expression: expression, Priority: priority}
	return cb
}

func (cb *ContainerBuilder) DefaultFlow(from, to string) *ContainerBuilder {
	conn := cb.findConnection(from, to)
	if conn == nil {
		panic(fmt.Sprintf("no connection between %s and %s", from, to))
	}
	node := cb.findNode(from)
	if node.Constraints == nil {
		node.Constraints = map[string]Constraint{}
	}
	node.Constraints[conn.ID] = Constraint{Default: true}
	node.DefaultConnection = conn.ID
	return cb
}

func (cb *ContainerBuilder) OnFault(name string, handler ExceptionHandler) *ContainerBuilder {
	if cb.container.ExceptionHandlers == nil {
		cb.container.ExceptionHandlers = map[string]ExceptionHandler{}
	}
	cb.container.ExceptionHandlers[name] = handler
	return cb
}

func (cb *ContainerBuilder) findConnection(from, to string) *Connection {
	for i := range cb.container.Connections {
		conn := &cb.container.Connections[i]
		if conn.From == from && conn.To == to {
			return conn
		}
	}
	return nil
}

func (cb *ContainerBuilder) findNode(id string) *Node {
	for _, n := range cb.container.Nodes {
		if n.ID == id {
			return n
		}
	}
	panic(fmt.Sprintf("unknown node id: %s", id))
}
