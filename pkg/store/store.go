// Package store defines the persistence contracts of the orchestrator and an in-memory
// implementation used for development and tests. pkg/persistence provides the SQLite one.
package store

import (
	"context"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"opnxt/pkg/model"
)

// ProjectStore persists projects and their phase history.
type ProjectStore interface {
	// CreateProject stores a new project together with its empty context.
	CreateProject(ctx context.Context, project *model.Project, pctx *model.ProjectContext) error
	GetProject(ctx context.Context, projectID string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	// RecordTransition appends the transition and sets the project's phase atomically.
	RecordTransition(ctx context.Context, t model.Transition) error
	ListTransitions(ctx context.Context, projectID string) ([]model.Transition, error)
}

// ContextStore persists one ProjectContext document per project.
type ContextStore interface {
	GetContext(ctx context.Context, projectID string) (*model.ProjectContext, error)
	// PutContext replaces the stored document and bumps its revision.
	PutContext(ctx context.Context, pctx *model.ProjectContext) error
}

// ArtifactStore keeps the append-only version chain per (project, filename).
type ArtifactStore interface {
	// AppendArtifactVersion assigns the next version. A repeated non-empty requestID for the
	// same (project, filename) returns the version already written for it.
	AppendArtifactVersion(ctx context.Context, projectID, filename, content, createdBy, requestID string) (model.VersionMeta, error)
	ListVersions(ctx context.Context, projectID, filename string) ([]model.VersionMeta, error)
	// GetVersion returns one version; version 0 means the latest.
	GetVersion(ctx context.Context, projectID, filename string, version int) (*model.Artifact, error)
}

// RequirementStore persists traceability records, addressed by (project, requirement id).
type RequirementStore interface {
	GetRequirement(ctx context.Context, projectID, requirementID string) (*model.RequirementRecord, error)
	PutRequirement(ctx context.Context, rec model.RequirementRecord) error
	ListRequirements(ctx context.Context, projectID string) ([]model.RequirementRecord, error)
}

// PlanStore persists patch plans.
type PlanStore interface {
	// PutPlan inserts or replaces a plan by id.
	PutPlan(ctx context.Context, plan model.PatchPlan) error
	GetPlan(ctx context.Context, projectID, planID string) (*model.PatchPlan, error)
	// ListPlans filters by status; an empty status lists all.
	ListPlans(ctx context.Context, projectID string, status model.PlanStatus) ([]model.PatchPlan, error)
	CountPendingBreaking(ctx context.Context, projectID string) (int, error)
}

// Store is the full document store.
type Store interface {
	ProjectStore
	ContextStore
	ArtifactStore
	RequirementStore
	PlanStore
	Close() error
}

// Digest returns the hex BLAKE2b-256 digest of content.
func Digest(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
