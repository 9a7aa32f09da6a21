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

func projectNotFound(projectID string) error {
	return orcherrors.New(orcherrors.CodeProjectNotFound, "project %s not found", projectID)
}

// CreateProject inserts the project row and its initial context in one transaction.
func (ops *DatabaseOperations) CreateProject(ctx context.Context, project *model.Project, pctx *model.ProjectContext) (err error) {
	if pctx == nil {
		pctx = model.NewProjectContext(project.ID)
	}
	metadata, err := json.Marshal(project.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal project metadata: %w", err)
	}
	document, err := json.Marshal(pctx)
	if err != nil {
		return fmt.Errorf("failed to marshal project context: %w", err)
	}

	tx, err := ops.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE id = ?`, project.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check project %s: %w", project.ID, err)
	}
	if exists > 0 {
		err = orcherrors.New(orcherrors.CodeInvalidRequest, "project %s already exists", project.ID)
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, current_phase, change_policy, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		project.ID, project.Name, string(project.CurrentPhase), string(project.ChangePolicy), string(metadata), formatTime(project.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert project %s: %w", project.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO project_contexts (project_id, revision, document, updated_at) VALUES (?, ?, ?, ?)`,
		project.ID, pctx.Revision, string(document), formatTime(ops.now()))
	if err != nil {
		return fmt.Errorf("failed to insert context for %s: %w", project.ID, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit project %s: %w", project.ID, err)
	}
	return nil
}

func scanProject(row interface{ Scan(...any) error }) (*model.Project, error) {
	var (
		p                              model.Project
		phase, policy, meta, createdAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &phase, &policy, &meta, &createdAt); err != nil {
		return nil, err //nolint:wrapcheck // callers distinguish sql.ErrNoRows
	}
	p.CurrentPhase = model.Phase(phase)
	p.ChangePolicy = model.ChangePolicy(policy)
	p.CreatedAt = parseTime(createdAt)
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

const projectColumns = `id, name, current_phase, change_policy, metadata, created_at`

// GetProject loads one project.
func (ops *DatabaseOperations) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	row := ops.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, projectID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, projectNotFound(projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", projectID, err)
	}
	return p, nil
}

// ListProjects returns all projects by creation time.
func (ops *DatabaseOperations) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := ops.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	projects := make([]model.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// RecordTransition appends the transition row and moves the project in one transaction.
func (ops *DatabaseOperations) RecordTransition(ctx context.Context, t model.Transition) (err error) {
	tx, err := ops.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `UPDATE projects SET current_phase = ? WHERE id = ?`, string(t.To), t.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to update phase for %s: %w", t.ProjectID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		err = projectNotFound(t.ProjectID)
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transitions (project_id, from_phase, to_phase, actor, ts) VALUES (?, ?, ?, ?, ?)`,
		t.ProjectID, string(t.From), string(t.To), t.Actor, formatTime(t.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to record transition for %s: %w", t.ProjectID, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition for %s: %w", t.ProjectID, err)
	}
	return nil
}

// ListTransitions returns the phase history in insertion order.
func (ops *DatabaseOperations) ListTransitions(ctx context.Context, projectID string) ([]model.Transition, error) {
	rows, err := ops.db.QueryContext(ctx, `
		SELECT project_id, from_phase, to_phase, actor, ts FROM transitions
		WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions for %s: %w", projectID, err)
	}
	defer func() { _ = rows.Close() }()

	history := make([]model.Transition, 0)
	for rows.Next() {
		var (
			t            model.Transition
			from, to, ts string
		)
		if err := rows.Scan(&t.ProjectID, &from, &to, &t.Actor, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.From, t.To, t.Timestamp = model.Phase(from), model.Phase(to), parseTime(ts)
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transitions: %w", err)
	}
	return history, nil
}

// GetContext loads the project context document.
func (ops *DatabaseOperations) GetContext(ctx context.Context, projectID string) (*model.ProjectContext, error) {
	var (
		document, updatedAt string
		revision            int64
	)
	err := ops.db.QueryRowContext(ctx, `
		SELECT document, revision, updated_at FROM project_contexts WHERE project_id = ?`, projectID).
		Scan(&document, &revision, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, projectNotFound(projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get context for %s: %w", projectID, err)
	}

	pctx := model.NewProjectContext(projectID)
	if err := json.Unmarshal([]byte(document), pctx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context for %s: %w", projectID, err)
	}
	// Columns are authoritative over the document copy.
	pctx.ProjectID = projectID
	pctx.Revision = revision
	pctx.UpdatedAt = parseTime(updatedAt)
	if pctx.Answers == nil {
		pctx.Answers = make(map[string][]string)
	}
	if pctx.Summaries == nil {
		pctx.Summaries = make(map[string]string)
	}
	if pctx.Approvals == nil {
		pctx.Approvals = make(map[string]model.Approval)
	}
	if pctx.ConversationHistory == nil {
		pctx.ConversationHistory = make([]model.Message, 0)
	}
	return pctx, nil
}

// PutContext replaces the document and increments its revision.
func (ops *DatabaseOperations) PutContext(ctx context.Context, pctx *model.ProjectContext) (err error) {
	tx, err := ops.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var revision int64
	err = tx.QueryRowContext(ctx, `SELECT revision FROM project_contexts WHERE project_id = ?`, pctx.ProjectID).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		err = projectNotFound(pctx.ProjectID)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to read revision for %s: %w", pctx.ProjectID, err)
	}

	stored := pctx.Clone()
	stored.Revision = revision + 1
	stored.UpdatedAt = ops.now()
	document, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal context for %s: %w", pctx.ProjectID, err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE project_contexts SET document = ?, revision = ?, updated_at = ? WHERE project_id = ?`,
		string(document), stored.Revision, formatTime(stored.UpdatedAt), pctx.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to write context for %s: %w", pctx.ProjectID, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit context for %s: %w", pctx.ProjectID, err)
	}

	pctx.Revision = stored.Revision
	pctx.UpdatedAt = stored.UpdatedAt
	return nil
}
