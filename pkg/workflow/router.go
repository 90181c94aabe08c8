package workflow

import (
	"context"
	"sort"

	"github.com/flowrun-io/flowrun/pkg/workflow/model"
	"github.com/flowrun-io/flowrun/pkg/workflow/runtime"
)

// routeOutgoing moves the token of a finished node instance along its
// outgoing connections. Without constraints every connection of the type is
// followed; a constrained node under exclusive-choice resolution follows
// exactly one.
func (pi *ProcessInstance) routeOutgoing(ctx context.Context, ni *NodeInstance, connType string) {
	outgoing := ni.node.Outgoing(connType)
	if len(outgoing) == 0 {
		return
	}
	if len(ni.node.Constraints) > 0 {
		switch {
		case gatewayKind(ni.node) == model.GatewayInclusive:
			conns, err := pi.selectSatisfiedConnections(ni, outgoing)
			if err != nil {
				ni.captureError(ctx, err)
				return
			}
			for _, conn := range conns {
				pi.followConnection(ctx, ni, conn)
			}
			return
		case pi.engine.exclusiveChoice || gatewayKind(ni.node) == model.GatewayExclusive:
			conn, err := pi.selectConnection(ni, outgoing)
			if err != nil {
				ni.captureError(ctx, err)
				return
			}
			pi.followConnection(ctx, ni, conn)
			return
		}
	}
	for _, conn := range outgoing {
		pi.followConnection(ctx, ni, conn)
	}
}

func gatewayKind(n *model.Node) model.GatewayKind {
	if n.Gateway == nil {
		return ""
	}
	return n.Gateway.Kind
}

// selectConnection evaluates the constraints of the outgoing connections in
// priority order and returns the first satisfied one, falling back to the
// default connection. No satisfied constraint and no default is a modeling
// error and fails the node.
func (pi *ProcessInstance) selectConnection(ni *NodeInstance, outgoing []model.Connection) (model.Connection, error) {
	type candidate struct {
		conn       model.Connection
		constraint model.Constraint
	}
	candidates := make([]candidate, 0, len(outgoing))
	var defaultConn *model.Connection
	for _, conn := range outgoing {
		conn := conn
		constraint, ok := ni.node.Constraints[conn.ID]
		if !ok {
			continue
		}
		if constraint.Default || conn.ID == ni.node.DefaultConnection {
			defaultConn = &conn
			continue
		}
		candidates = append(candidates, candidate{conn: conn, constraint: constraint})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].constraint.Priority < candidates[j].constraint.Priority
	})
	for _, c := range candidates {
		ok, err := pi.evalBool(c.constraint.Expression, ni.container.scope)
		if err != nil {
			return model.Connection{}, &ExpressionEvaluationError{
				Msg: "constraint of connection " + c.conn.ID,
				Err: err,
			}
		}
		if ok {
			return c.conn, nil
		}
	}
	if defaultConn != nil {
		return *defaultConn, nil
	}
	return model.Connection{}, newEngineErrorf("no valid outgoing connection from node %s", ni.node.ID)
}

// selectSatisfiedConnections returns every connection whose constraint
// holds, or the default connection when none does.
func (pi *ProcessInstance) selectSatisfiedConnections(ni *NodeInstance, outgoing []model.Connection) ([]model.Connection, error) {
	var satisfied []model.Connection
	var defaultConn *model.Connection
	for _, conn := range outgoing {
		conn := conn
		constraint, ok := ni.node.Constraints[conn.ID]
		if !ok {
			continue
		}
		if constraint.Default || conn.ID == ni.node.DefaultConnection {
			defaultConn = &conn
			continue
		}
		ok, err := pi.evalBool(constraint.Expression, ni.container.scope)
		if err != nil {
			return nil, &ExpressionEvaluationError{
				Msg: "constraint of connection " + conn.ID,
				Err: err,
			}
		}
		if ok {
			satisfied = append(satisfied, conn)
		}
	}
	if len(satisfied) > 0 {
		return satisfied, nil
	}
	if defaultConn != nil {
		return []model.Connection{*defaultConn}, nil
	}
	return nil, newEngineErrorf("no valid outgoing connection from node %s", ni.node.ID)
}

func (pi *ProcessInstance) followConnection(ctx context.Context, from *NodeInstance, conn model.Connection) {
	// a successor may have terminated or errored the instance mid-iteration
	if pi.status != runtime.ProcessStateActive {
		return
	}
	target := from.container.container.Node(conn.To)
	if target == nil {
		from.captureError(ctx, &NodeNotFoundError{InstanceID: pi.id, NodeID: conn.To})
		return
	}
	next := from.container.getNodeInstance(target)
	from.outgoingConnIDs = append(from.outgoingConnIDs, conn.ID)
	next.incomingConnIDs = append(next.incomingConnIDs, conn.ID)
	next.trigger(ctx, from.node.ID, conn.Type)
}
