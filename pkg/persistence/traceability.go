package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
)

const requirementColumns = `project_id, id, source_document, statement, status, superseded_by, removed_by_plan, implements, tested_by, updated_at`

func scanRequirement(row interface{ Scan(...any) error }) (*model.RequirementRecord, error) {
	var (
		rec                           model.RequirementRecord
		status, impl, tested, updated string
	)
	if err := row.Scan(&rec.ProjectID, &rec.ID, &rec.SourceDocument, &rec.Statement, &status, &rec.SupersededBy, &rec.RemovedByPlan, &impl, &tested, &updated); err != nil {
		return nil, err //nolint:wrapcheck // callers distinguish sql.ErrNoRows
	}
	rec.Status = model.RequirementStatus(status)
	rec.UpdatedAt = parseTime(updated)
	if err := json.Unmarshal([]byte(impl), &rec.Implements); err != nil {
		return nil, fmt.Errorf("failed to unmarshal implements of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(tested), &rec.TestedBy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tested_by of %s: %w", rec.ID, err)
	}
	return &rec, nil
}

// GetRequirement loads one traceability record.
func (ops *DatabaseOperations) GetRequirement(ctx context.Context, projectID, requirementID string) (*model.RequirementRecord, error) {
	row := ops.db.QueryRowContext(ctx, `SELECT `+requirementColumns+` FROM requirements WHERE project_id = ? AND id = ?`,
		projectID, requirementID)
	rec, err := scanRequirement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orcherrors.New(orcherrors.CodeNotFound, "requirement %s not found", requirementID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get requirement %s: %w", requirementID, err)
	}
	return rec, nil
}

// PutRequirement inserts or updates a traceability record.
func (ops *DatabaseOperations) PutRequirement(ctx context.Context, rec model.RequirementRecord) error {
	impl, err := json.Marshal(nonNil(rec.Implements))
	if err != nil {
		return fmt.Errorf("failed to marshal implements of %s: %w", rec.ID, err)
	}
	tested, err := json.Marshal(nonNil(rec.TestedBy))
	if err != nil {
		return fmt.Errorf("failed to marshal tested_by of %s: %w", rec.ID, err)
	}
	_, err = ops.db.ExecContext(ctx, `
		INSERT INTO requirements (`+requirementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, id) DO UPDATE SET
			source_document = excluded.source_document,
			statement = excluded.statement,
			status = excluded.status,
			superseded_by = excluded.superseded_by,
			removed_by_plan = excluded.removed_by_plan,
			implements = excluded.implements,
			tested_by = excluded.tested_by,
			updated_at = excluded.updated_at`,
		rec.ProjectID, rec.ID, rec.SourceDocument, rec.Statement, string(rec.Status), rec.SupersededBy, rec.RemovedByPlan,
		string(impl), string(tested), formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert requirement %s: %w", rec.ID, err)
	}
	return nil
}

// ListRequirements returns a project's records ordered by id.
func (ops *DatabaseOperations) ListRequirements(ctx context.Context, projectID string) ([]model.RequirementRecord, error) {
	rows, err := ops.db.QueryContext(ctx, `SELECT `+requirementColumns+` FROM requirements WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list requirements for %s: %w", projectID, err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]model.RequirementRecord, 0)
	for rows.Next() {
		rec, err := scanRequirement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan requirement: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate requirements: %w", err)
	}
	return records, nil
}

// PutPlan inserts or replaces a patch plan. The full plan is kept as JSON beside its
// filterable columns.
func (ops *DatabaseOperations) PutPlan(ctx context.Context, plan model.PatchPlan) error {
	document, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan %s: %w", plan.ID, err)
	}
	_, err = ops.db.ExecContext(ctx, `
		INSERT INTO patch_plans (id, project_id, request_id, change_type, severity, status, plan, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			severity = excluded.severity,
			plan = excluded.plan`,
		plan.ID, plan.ProjectID, plan.RequestID, string(plan.ChangeType), string(plan.Severity), string(plan.Status),
		string(document), formatTime(plan.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert plan %s: %w", plan.ID, err)
	}
	return nil
}

// GetPlan loads one plan.
func (ops *DatabaseOperations) GetPlan(ctx context.Context, projectID, planID string) (*model.PatchPlan, error) {
	var document string
	err := ops.db.QueryRowContext(ctx, `SELECT plan FROM patch_plans WHERE project_id = ? AND id = ?`, projectID, planID).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orcherrors.New(orcherrors.CodeNotFound, "patch plan %s not found", planID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %s: %w", planID, err)
	}
	var plan model.PatchPlan
	if err := json.Unmarshal([]byte(document), &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan %s: %w", planID, err)
	}
	return &plan, nil
}

// ListPlans lists plans by creation time, optionally filtered by status.
func (ops *DatabaseOperations) ListPlans(ctx context.Context, projectID string, status model.PlanStatus) ([]model.PatchPlan, error) {
	query := `SELECT plan FROM patch_plans WHERE project_id = ?`
	args := []any{projectID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := ops.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans for %s: %w", projectID, err)
	}
	defer func() { _ = rows.Close() }()

	plans := make([]model.PatchPlan, 0)
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		var plan model.PatchPlan
		if err := json.Unmarshal([]byte(document), &plan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return plans, nil
}

// CountPendingBreaking counts unresolved breaking plans, which block phase advancement.
func (ops *DatabaseOperations) CountPendingBreaking(ctx context.Context, projectID string) (int, error) {
	var n int
	err := ops.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM patch_plans WHERE project_id = ? AND status = ? AND severity = ?`,
		projectID, string(model.PlanPending), string(model.SeverityBreaking)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending plans for %s: %w", projectID, err)
	}
	return n, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
