package workflow

import (
	"context"

	"github.com/flowrun-io/flowrun/pkg/workflow/model"
	"github.com/flowrun-io/flowrun/pkg/workflow/runtime"
)

// nodeInstanceContainer tracks the live node instances of one scope: the
// process root or an embedded sub-process. It owns scope completion: once no
// live node instance remains and the scope auto-completes, the owner is
// completed (the composite node instance, or the process itself at the root).
type nodeInstanceContainer struct {
	pi        *ProcessInstance
	owner     *NodeInstance
	container *model.Container
	scope     *runtime.VariableScope

	nodeInstances   []*NodeInstance
	exclusiveGroups map[string][]*NodeInstance
}

func newNodeInstanceContainer(pi *ProcessInstance, owner *NodeInstance, container *model.Container, scope *runtime.VariableScope) *nodeInstanceContainer {
	return &nodeInstanceContainer{
		pi:              pi,
		owner:           owner,
		container:       container,
		scope:           scope,
		exclusiveGroups: map[string][]*NodeInstance{},
	}
}

// getNodeInstance returns the live instance to deliver a token to. Gateway
// nodes join: an existing non-final instance of the same node is reused so
// parallel branches meet in a single instance. Every other node type gets a
// fresh instance per token.
func (c *nodeInstanceContainer) getNodeInstance(node *model.Node) *NodeInstance {
	if node.Type == model.NodeTypeGateway {
		for _, ni := range c.nodeInstances {
			if ni.node.ID == node.ID && !ni.state.Final() {
				return ni
			}
		}
	}
	return c.newNodeInstance(node)
}

func (c *nodeInstanceContainer) newNodeInstance(node *model.Node) *NodeInstance {
	ni := &NodeInstance{
		id:            c.pi.engine.generateKey(),
		node:          node,
		container:     c,
		state:         runtime.NodeStateCreated,
		slaCompliance: runtime.SLANotApplicable,
		behavior:      behaviorFor(node),
	}
	c.nodeInstances = append(c.nodeInstances, ni)
	if group := node.Metadata["exclusiveGroup"]; group != "" {
		c.exclusiveGroups[group] = append(c.exclusiveGroups[group], ni)
	}
	return ni
}

func (c *nodeInstanceContainer) contains(ni *NodeInstance) bool {
	for _, existing := range c.nodeInstances {
		if existing == ni {
			return true
		}
	}
	return false
}

func (c *nodeInstanceContainer) remove(ni *NodeInstance) {
	for i, existing := range c.nodeInstances {
		if existing == ni {
			c.nodeInstances = append(c.nodeInstances[:i], c.nodeInstances[i+1:]...)
			break
		}
	}
	if group := ni.node.Metadata["exclusiveGroup"]; group != "" {
		members := c.exclusiveGroups[group]
		for i, member := range members {
			if member == ni {
				c.exclusiveGroups[group] = append(members[:i], members[i+1:]...)
				break
			}
		}
	}
}

// active reports whether any node instance still holds the scope open.
// Failed instances count: an errored scope must not auto-complete.
func (c *nodeInstanceContainer) active() bool {
	for _, ni := range c.nodeInstances {
		if !ni.state.Final() {
			return true
		}
	}
	return false
}

// nodeInstanceCompleted removes the finished instance and cancels the rest
// of its exclusive group. The scope-completion check is left to the caller:
// it must run only after the token was routed, otherwise the scope looks
// drained before the successor instance exists.
func (c *nodeInstanceContainer) nodeInstanceCompleted(ctx context.Context, ni *NodeInstance) {
	c.remove(ni)
	if group := ni.node.Metadata["exclusiveGroup"]; group != "" {
		for _, member := range append([]*NodeInstance{}, c.exclusiveGroups[group]...) {
			if member != ni {
				member.cancel(ctx)
			}
		}
		delete(c.exclusiveGroups, group)
	}
}

func (c *nodeInstanceContainer) checkAutoComplete(ctx context.Context) {
	if !c.container.AutoComplete || c.active() {
		return
	}
	if c.owner != nil {
		c.owner.triggerCompleted(ctx, model.ConnectionTypeDefault)
		return
	}
	// parked function-flow continuations keep the instance open
	if c.pi.status == runtime.ProcessStateActive && len(c.pi.exec.pendingNodes) == 0 {
		c.pi.finish(ctx, runtime.ProcessStateCompleted)
	}
}

// cancelAll terminates every live node instance of the scope, nested scopes
// included.
func (c *nodeInstanceContainer) cancelAll(ctx context.Context) {
	for _, ni := range append([]*NodeInstance{}, c.nodeInstances...) {
		ni.cancel(ctx)
	}
}

// containerFor locates the live scope declaring the node, searching nested
// composite scopes. Nil when the owning scope is not open.
func (c *nodeInstanceContainer) containerFor(node *model.Node) *nodeInstanceContainer {
	if c.container.Node(node.ID) == node {
		return c
	}
	for _, ni := range c.nodeInstances {
		if ni.inner != nil {
			if found := ni.inner.containerFor(node); found != nil {
				return found
			}
		}
	}
	return nil
}

// findNodeInstance searches this scope and nested composite scopes.
func (c *nodeInstanceContainer) findNodeInstance(id int64) *NodeInstance {
	for _, ni := range c.nodeInstances {
		if ni.id == id {
			return ni
		}
		if ni.inner != nil {
			if found := ni.inner.findNodeInstance(id); found != nil {
				return found
			}
		}
	}
	return nil
}

func (c *nodeInstanceContainer) collect(out *[]*NodeInstance) {
	for _, ni := range c.nodeInstances {
		*out = append(*out, ni)
		if ni.inner != nil {
			ni.inner.collect(out)
		}
	}
}

// raiseFault resolves the handler for a named fault, walking from this scope
// outwards. Returns true when a handler consumed the fault.
func (c *nodeInstanceContainer) raiseFault(ctx context.Context, name string, payload any) bool {
	if handler, ok := c.container.Handler(name); ok {
		if handler.FaultVariable != "" {
			c.scope.SetVariable(handler.FaultVariable, payload)
		}
		if handler.SignalChannel != "" {
			c.pi.deliverSignal(ctx, runtime.Signal{Channel: handler.SignalChannel, Payload: payload})
		}
		return true
	}
	if c.owner != nil {
		return c.owner.container.raiseFault(ctx, name, payload)
	}
	return false
}
