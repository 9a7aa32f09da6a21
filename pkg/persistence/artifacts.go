package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
	"opnxt/pkg/store"
)

// AppendArtifactVersion allocates the next version inside a transaction so concurrent
// writers never produce gaps or duplicates.
func (ops *DatabaseOperations) AppendArtifactVersion(ctx context.Context, projectID, filename, content, createdBy, requestID string) (meta model.VersionMeta, err error) {
	tx, err := ops.db.BeginTx(ctx, nil)
	if err != nil {
		return model.VersionMeta{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE id = ?`, projectID).Scan(&exists); err != nil {
		return model.VersionMeta{}, fmt.Errorf("failed to check project %s: %w", projectID, err)
	}
	if exists == 0 {
		err = projectNotFound(projectID)
		return model.VersionMeta{}, err
	}

	if requestID != "" {
		row := tx.QueryRowContext(ctx, `
			SELECT `+versionColumns+` FROM artifacts
			WHERE project_id = ? AND filename = ? AND request_id = ?`, projectID, filename, requestID)
		existing, scanErr := scanVersion(row)
		if scanErr == nil {
			err = tx.Commit()
			return existing.VersionMeta, err
		}
		if !errors.Is(scanErr, sql.ErrNoRows) {
			err = fmt.Errorf("failed to look up request %s: %w", requestID, scanErr)
			return model.VersionMeta{}, err
		}
	}

	var latest int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM artifacts WHERE project_id = ? AND filename = ?`,
		projectID, filename).Scan(&latest)
	if err != nil {
		return model.VersionMeta{}, fmt.Errorf("failed to read latest version of %s: %w", filename, err)
	}

	meta = model.VersionMeta{
		ProjectID: projectID,
		Filename:  filename,
		Version:   latest + 1,
		CreatedAt: ops.now(),
		CreatedBy: createdBy,
		Digest:    store.Digest(content),
		RequestID: requestID,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (project_id, filename, version, content, digest, created_by, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ProjectID, meta.Filename, meta.Version, content, meta.Digest, meta.CreatedBy, meta.RequestID, formatTime(meta.CreatedAt))
	if err != nil {
		return model.VersionMeta{}, fmt.Errorf("failed to insert %s v%d: %w", filename, meta.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return model.VersionMeta{}, fmt.Errorf("failed to commit %s v%d: %w", filename, meta.Version, err)
	}
	return meta, nil
}

const versionColumns = `project_id, filename, version, content, digest, created_by, request_id, created_at`

func scanVersion(row interface{ Scan(...any) error }) (*model.Artifact, error) {
	var (
		a         model.Artifact
		createdAt string
	)
	if err := row.Scan(&a.ProjectID, &a.Filename, &a.Version, &a.Content, &a.Digest, &a.CreatedBy, &a.RequestID, &createdAt); err != nil {
		return nil, err //nolint:wrapcheck // callers distinguish sql.ErrNoRows
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// ListVersions returns version metadata in ascending order.
func (ops *DatabaseOperations) ListVersions(ctx context.Context, projectID, filename string) ([]model.VersionMeta, error) {
	if _, err := ops.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	rows, err := ops.db.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM artifacts WHERE project_id = ? AND filename = ? ORDER BY version`,
		projectID, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", filename, err)
	}
	defer func() { _ = rows.Close() }()

	versions := make([]model.VersionMeta, 0)
	for rows.Next() {
		a, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, a.VersionMeta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}
	return versions, nil
}

// GetVersion returns one version with content; version 0 selects the latest.
func (ops *DatabaseOperations) GetVersion(ctx context.Context, projectID, filename string, version int) (*model.Artifact, error) {
	if _, err := ops.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	var row *sql.Row
	if version == 0 {
		row = ops.db.QueryRowContext(ctx, `
			SELECT `+versionColumns+` FROM artifacts WHERE project_id = ? AND filename = ?
			ORDER BY version DESC LIMIT 1`, projectID, filename)
	} else {
		row = ops.db.QueryRowContext(ctx, `
			SELECT `+versionColumns+` FROM artifacts WHERE project_id = ? AND filename = ? AND version = ?`,
			projectID, filename, version)
	}
	a, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orcherrors.New(orcherrors.CodeNotFound, "%s version %d not found", filename, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s v%d: %w", filename, version, err)
	}
	return a, nil
}
