package orchestrator

import (
	"context"

	"opnxt/pkg/eventlog"
	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
)

// ListPlans lists patch plans, optionally filtered by status.
func (o *Orchestrator) ListPlans(ctx context.Context, projectID string, status model.PlanStatus) ([]model.PatchPlan, error) {
	if status != "" {
		switch status {
		case model.PlanPending, model.PlanApplied, model.PlanLogged, model.PlanRejected:
		default:
			return nil, orcherrors.New(orcherrors.CodeInvalidRequest, "unknown plan status %q", status).
				WithHint("use one of: pending, applied, logged, rejected")
		}
	}
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	plans, err := o.store.ListPlans(ctx, projectID, status)
	if err != nil {
		return nil, err
	}
	return nonNilPlans(plans), nil
}

// ApprovePlan applies a pending plan.
func (o *Orchestrator) ApprovePlan(ctx context.Context, projectID, planID, actor string) (*model.PatchPlan, []orcherrors.Warning, error) {
	unlock, err := o.lock(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	plan, warnings, err := o.changes.ApprovePlan(ctx, projectID, planID, actor)
	if err != nil {
		return nil, nil, err
	}
	o.metrics.IncPatchPlan(string(plan.ChangeType), string(plan.Severity), string(plan.Status))
	o.recordDisposition(plan, actor, "")
	return plan, nonNilWarnings(warnings), nil
}

// RejectPlan closes a pending plan without edits.
func (o *Orchestrator) RejectPlan(ctx context.Context, projectID, planID, actor string) (*model.PatchPlan, error) {
	unlock, err := o.lock(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	plan, err := o.changes.RejectPlan(ctx, projectID, planID, actor)
	if err != nil {
		return nil, err
	}
	o.metrics.IncPatchPlan(string(plan.ChangeType), string(plan.Severity), string(plan.Status))
	o.recordDisposition(plan, actor, "")
	return plan, nil
}

func (o *Orchestrator) recordDisposition(plan *model.PatchPlan, actor, requestID string) {
	ev := eventlog.NewEvent(eventlog.KindPatchDisposition, plan.ProjectID).
		With("plan_id", plan.ID).
		With("status", string(plan.Status)).
		With("change_type", string(plan.ChangeType)).
		With("severity", string(plan.Severity)).
		With("requirement_id", plan.SourceRef.RequirementID).
		With("document", plan.SourceRef.Document)
	ev.Actor = actor
	ev.RequestID = requestID
	o.record(ev)
}
