package workflow

import (
	"context"
	"errors"

	"github.com/flowrun-io/flowrun/internal/appcontext"
	"github.com/flowrun-io/flowrun/pkg/workflow/model"
	"github.com/flowrun-io/flowrun/pkg/workflow/runtime"
)

// Built-in work item phases. Custom phases are allowed and recorded as-is;
// only these two move the lifecycle.
const (
	WorkItemPhaseComplete = "complete"
	WorkItemPhaseAbort    = "abort"
)

// WorkItems returns a snapshot of the instance's work items.
func (pi *ProcessInstance) WorkItems() []runtime.WorkItem {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	out := make([]runtime.WorkItem, 0, len(pi.workItems))
	for _, wi := range pi.workItems {
		out = append(out, *wi)
	}
	return out
}

// WorkItem returns a snapshot of one work item.
func (pi *ProcessInstance) WorkItem(id string) (runtime.WorkItem, error) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	wi, ok := pi.workItems[id]
	if !ok {
		return runtime.WorkItem{}, &WorkItemNotFoundError{InstanceID: pi.id, WorkItemID: id}
	}
	return *wi, nil
}

// CompleteWorkItem finishes the external task: the results are merged into
// the owning scope and the node instance's token moves on. Completing a
// work item whose node instance is already gone only records the results.
// Work items opened by child instances are reachable through the parent.
func (pi *ProcessInstance) CompleteWorkItem(ctx context.Context, id string, results map[string]any) error {
	err := pi.withLock(ctx, "flowrun.instance.completeWorkItem", func(ctx context.Context) error {
		if err := pi.completeWorkItemLocked(ctx, id, results); err != nil {
			return err
		}
		pi.afterMutation()
		return nil
	})
	return pi.routeToChild(ctx, err, func(child *ProcessInstance) error {
		return child.CompleteWorkItem(ctx, id, results)
	})
}

// AbortWorkItem cancels the external task and its node instance without
// moving the token.
func (pi *ProcessInstance) AbortWorkItem(ctx context.Context, id string) error {
	err := pi.withLock(ctx, "flowrun.instance.abortWorkItem", func(ctx context.Context) error {
		if err := pi.abortWorkItemLocked(ctx, id); err != nil {
			return err
		}
		pi.afterMutation()
		return nil
	})
	return pi.routeToChild(ctx, err, func(child *ProcessInstance) error {
		return child.AbortWorkItem(ctx, id)
	})
}

// routeToChild retries a work item operation that missed locally against the
// live child instances, recursing through sub-process levels. It runs with
// no lock held so the child is free to notify the parent on completion.
func (pi *ProcessInstance) routeToChild(ctx context.Context, err error, op func(child *ProcessInstance) error) error {
	var notFound *WorkItemNotFoundError
	if !errors.As(err, &notFound) {
		return err
	}
	for _, childID := range pi.Children() {
		child, findErr := pi.engine.FindInstanceByID(ctx, childID)
		if findErr != nil {
			continue
		}
		childErr := op(child)
		if !errors.As(childErr, &notFound) {
			return childErr
		}
	}
	return err
}

// TransitionWorkItem moves the work item through a named phase. The
// complete and abort phases close it; any other phase is recorded together
// with the results while the task stays open.
func (pi *ProcessInstance) TransitionWorkItem(ctx context.Context, id string, phase string, results map[string]any) error {
	err := pi.withLock(ctx, "flowrun.instance.transitionWorkItem", func(ctx context.Context) error {
		switch phase {
		case WorkItemPhaseComplete:
			if err := pi.completeWorkItemLocked(ctx, id, results); err != nil {
				return err
			}
		case WorkItemPhaseAbort:
			if err := pi.abortWorkItemLocked(ctx, id); err != nil {
				return err
			}
		default:
			wi, ok := pi.workItems[id]
			if !ok {
				return &WorkItemNotFoundError{InstanceID: pi.id, WorkItemID: id}
			}
			if wi.State != runtime.WorkItemStatePending {
				return &IllegalStateError{Op: "transition work item", State: string(wi.State)}
			}
			wi.Phase = phase
			if results != nil {
				if wi.Results == nil {
					wi.Results = map[string]any{}
				}
				for k, v := range results {
					wi.Results[k] = v
				}
			}
		}
		pi.afterMutation()
		return nil
	})
	return pi.routeToChild(ctx, err, func(child *ProcessInstance) error {
		return child.TransitionWorkItem(ctx, id, phase, results)
	})
}

func (pi *ProcessInstance) completeWorkItemLocked(ctx context.Context, id string, results map[string]any) error {
	wi, ok := pi.workItems[id]
	if !ok {
		return &WorkItemNotFoundError{InstanceID: pi.id, WorkItemID: id}
	}
	if wi.State != runtime.WorkItemStatePending {
		return &IllegalStateError{Op: "complete work item", State: string(wi.State)}
	}
	wi.State = runtime.WorkItemStateCompleted
	wi.Phase = WorkItemPhaseComplete
	wi.Results = results
	if caller, ok := appcontext.CallerFromContext(ctx); ok {
		pi.engine.logger.Debug("work item completed", "instance", pi.id, "workItem", id, "caller", caller)
	}

	ni := pi.root.findNodeInstance(wi.NodeInstanceID)
	if ni == nil {
		return nil
	}
	if results != nil {
		ni.container.scope.SetVariables(results)
	}
	ni.triggerCompleted(ctx, model.ConnectionTypeDefault)
	return nil
}

func (pi *ProcessInstance) abortWorkItemLocked(ctx context.Context, id string) error {
	wi, ok := pi.workItems[id]
	if !ok {
		return &WorkItemNotFoundError{InstanceID: pi.id, WorkItemID: id}
	}
	if wi.State != runtime.WorkItemStatePending {
		return &IllegalStateError{Op: "abort work item", State: string(wi.State)}
	}
	wi.State = runtime.WorkItemStateAborted
	wi.Phase = WorkItemPhaseAbort

	ni := pi.root.findNodeInstance(wi.NodeInstanceID)
	if ni == nil {
		return nil
	}
	cont := ni.container
	ni.cancel(ctx)
	cont.checkAutoComplete(ctx)
	return nil
}
