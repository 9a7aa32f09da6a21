package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
)

type artifactKey struct {
	projectID string
	filename  string
}

// MemStore keeps everything in process memory. Values are copied on the way in and out.
type MemStore struct {
	projects     map[string]model.Project
	contexts     map[string]*model.ProjectContext
	transitions  map[string][]model.Transition
	artifacts    map[artifactKey][]model.Artifact
	requirements map[string]map[string]model.RequirementRecord
	plans        map[string]map[string]model.PatchPlan
	now          func() time.Time
	mu           sync.RWMutex
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		projects:     make(map[string]model.Project),
		contexts:     make(map[string]*model.ProjectContext),
		transitions:  make(map[string][]model.Transition),
		artifacts:    make(map[artifactKey][]model.Artifact),
		requirements: make(map[string]map[string]model.RequirementRecord),
		plans:        make(map[string]map[string]model.PatchPlan),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*MemStore)(nil)

func projectNotFound(projectID string) error {
	return orcherrors.New(orcherrors.CodeProjectNotFound, "project %s not found", projectID)
}

func copyProject(p model.Project) *model.Project {
	cp := p
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (m *MemStore) CreateProject(ctx context.Context, project *model.Project, pctx *model.ProjectContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projects[project.ID]; exists {
		return orcherrors.New(orcherrors.CodeInvalidRequest, "project %s already exists", project.ID)
	}
	m.projects[project.ID] = *copyProject(*project)
	if pctx == nil {
		pctx = model.NewProjectContext(project.ID)
	}
	m.contexts[project.ID] = pctx.Clone()
	return nil
}

func (m *MemStore) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, projectNotFound(projectID)
	}
	return copyProject(p), nil
}

func (m *MemStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, *copyProject(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemStore) RecordTransition(ctx context.Context, t model.Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[t.ProjectID]
	if !ok {
		return projectNotFound(t.ProjectID)
	}
	p.CurrentPhase = t.To
	m.projects[t.ProjectID] = p
	m.transitions[t.ProjectID] = append(m.transitions[t.ProjectID], t)
	return nil
}

func (m *MemStore) ListTransitions(ctx context.Context, projectID string) ([]model.Transition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Transition{}, m.transitions[projectID]...), nil
}

func (m *MemStore) GetContext(ctx context.Context, projectID string) (*model.ProjectContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	pctx, ok := m.contexts[projectID]
	if !ok {
		return nil, projectNotFound(projectID)
	}
	return pctx.Clone(), nil
}

func (m *MemStore) PutContext(ctx context.Context, pctx *model.ProjectContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.contexts[pctx.ProjectID]
	if !ok {
		return projectNotFound(pctx.ProjectID)
	}
	stored := pctx.Clone()
	stored.Revision = current.Revision + 1
	stored.UpdatedAt = m.now()
	m.contexts[pctx.ProjectID] = stored
	pctx.Revision = stored.Revision
	pctx.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m *MemStore) AppendArtifactVersion(ctx context.Context, projectID, filename, content, createdBy, requestID string) (model.VersionMeta, error) {
	if err := ctx.Err(); err != nil {
		return model.VersionMeta{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[projectID]; !ok {
		return model.VersionMeta{}, projectNotFound(projectID)
	}
	key := artifactKey{projectID, filename}
	chain := m.artifacts[key]
	if requestID != "" {
		for i := range chain {
			if chain[i].RequestID == requestID {
				return chain[i].VersionMeta, nil
			}
		}
	}
	a := model.Artifact{
		VersionMeta: model.VersionMeta{
			ProjectID: projectID,
			Filename:  filename,
			Version:   len(chain) + 1,
			CreatedAt: m.now(),
			CreatedBy: createdBy,
			Digest:    Digest(content),
			RequestID: requestID,
		},
		Content: content,
	}
	m.artifacts[key] = append(chain, a)
	return a.VersionMeta, nil
}

func (m *MemStore) ListVersions(ctx context.Context, projectID, filename string) ([]model.VersionMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.projects[projectID]; !ok {
		return nil, projectNotFound(projectID)
	}
	chain := m.artifacts[artifactKey{projectID, filename}]
	out := make([]model.VersionMeta, len(chain))
	for i := range chain {
		out[i] = chain[i].VersionMeta
	}
	return out, nil
}

func (m *MemStore) GetVersion(ctx context.Context, projectID, filename string, version int) (*model.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.projects[projectID]; !ok {
		return nil, projectNotFound(projectID)
	}
	chain := m.artifacts[artifactKey{projectID, filename}]
	if version == 0 {
		version = len(chain)
	}
	if version < 1 || version > len(chain) {
		return nil, orcherrors.New(orcherrors.CodeNotFound, "%s version %d not found", filename, version)
	}
	a := chain[version-1]
	return &a, nil
}

func (m *MemStore) GetRequirement(ctx context.Context, projectID, requirementID string) (*model.RequirementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.requirements[projectID][requirementID]
	if !ok {
		return nil, orcherrors.New(orcherrors.CodeNotFound, "requirement %s not found", requirementID)
	}
	cp := rec.Clone()
	return &cp, nil
}

func (m *MemStore) PutRequirement(ctx context.Context, rec model.RequirementRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requirements[rec.ProjectID]; !ok {
		m.requirements[rec.ProjectID] = make(map[string]model.RequirementRecord)
	}
	m.requirements[rec.ProjectID][rec.ID] = rec.Clone()
	return nil
}

func (m *MemStore) ListRequirements(ctx context.Context, projectID string) ([]model.RequirementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.requirements[projectID]
	out := make([]model.RequirementRecord, 0, len(recs))
	for _, id := range model.SortedKeys(recs) {
		out = append(out, recs[id].Clone())
	}
	return out, nil
}

func clonePlan(p model.PatchPlan) model.PatchPlan {
	p.ImpactedRefs = append([]string(nil), p.ImpactedRefs...)
	p.ProposedEdit.Implements = append([]string(nil), p.ProposedEdit.Implements...)
	p.ProposedEdit.TestedBy = append([]string(nil), p.ProposedEdit.TestedBy...)
	p.Previous.Implements = append([]string(nil), p.Previous.Implements...)
	p.Previous.TestedBy = append([]string(nil), p.Previous.TestedBy...)
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		p.ResolvedAt = &t
	}
	return p
}

func (m *MemStore) PutPlan(ctx context.Context, plan model.PatchPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.ProjectID]; !ok {
		m.plans[plan.ProjectID] = make(map[string]model.PatchPlan)
	}
	m.plans[plan.ProjectID][plan.ID] = clonePlan(plan)
	return nil
}

func (m *MemStore) GetPlan(ctx context.Context, projectID, planID string) (*model.PatchPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[projectID][planID]
	if !ok {
		return nil, orcherrors.New(orcherrors.CodeNotFound, "patch plan %s not found", planID)
	}
	cp := clonePlan(p)
	return &cp, nil
}

func (m *MemStore) ListPlans(ctx context.Context, projectID string, status model.PlanStatus) ([]model.PatchPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.PatchPlan, 0)
	for _, p := range m.plans[projectID] {
		if status == "" || p.Status == status {
			out = append(out, clonePlan(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemStore) CountPendingBreaking(ctx context.Context, projectID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.plans[projectID] {
		if p.Status == model.PlanPending && p.Severity == model.SeverityBreaking {
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (m *MemStore) Close() error {
	return nil
}
