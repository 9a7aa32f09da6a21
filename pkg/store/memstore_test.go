package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
)

func newProject(t *testing.T, s *MemStore, id string) {
	t.Helper()
	p := &model.Project{ID: id, Name: id, CurrentPhase: model.PhaseInitialization, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateProject(context.Background(), p, nil))
}

func TestDigestIsStable(t *testing.T) {
	assert.Equal(t, Digest("hello"), Digest("hello"))
	assert.NotEqual(t, Digest("hello"), Digest("hello "))
	assert.Len(t, Digest(""), 64)
}

func TestCreateProjectRejectsDuplicate(t *testing.T) {
	s := NewMemStore()
	newProject(t, s, "p1")
	err := s.CreateProject(context.Background(), &model.Project{ID: "p1"}, nil)
	assert.True(t, orcherrors.Is(err, orcherrors.CodeInvalidRequest))

	_, err = s.GetProject(context.Background(), "missing")
	assert.True(t, orcherrors.Is(err, orcherrors.CodeProjectNotFound))
}

func TestArtifactVersionsAreGapless(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	newProject(t, s, "p1")

	for i := 1; i <= 3; i++ {
		meta, err := s.AppendArtifactVersion(ctx, "p1", "SRS.md", "v", "agent", "")
		require.NoError(t, err)
		assert.Equal(t, i, meta.Version)
	}
	other, err := s.AppendArtifactVersion(ctx, "p1", "SDD.md", "x", "agent", "")
	require.NoError(t, err)
	assert.Equal(t, 1, other.Version)

	versions, err := s.ListVersions(ctx, "p1", "SRS.md")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, 3, versions[2].Version)
}

func TestAppendIsIdempotentPerRequestID(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	newProject(t, s, "p1")

	first, err := s.AppendArtifactVersion(ctx, "p1", "SRS.md", "a", "agent", "req-1")
	require.NoError(t, err)
	again, err := s.AppendArtifactVersion(ctx, "p1", "SRS.md", "different", "agent", "req-1")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	versions, err := s.ListVersions(ctx, "p1", "SRS.md")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestGetVersionLatestAndMissing(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	newProject(t, s, "p1")
	_, _ = s.AppendArtifactVersion(ctx, "p1", "SRS.md", "one", "a", "")
	_, _ = s.AppendArtifactVersion(ctx, "p1", "SRS.md", "two", "a", "")

	latest, err := s.GetVersion(ctx, "p1", "SRS.md", 0)
	require.NoError(t, err)
	assert.Equal(t, "two", latest.Content)
	assert.Equal(t, Digest("two"), latest.Digest)

	_, err = s.GetVersion(ctx, "p1", "SRS.md", 7)
	assert.True(t, orcherrors.Is(err, orcherrors.CodeNotFound))
}

func TestPutContextBumpsRevisionAndCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	newProject(t, s, "p1")

	pctx, err := s.GetContext(ctx, "p1")
	require.NoError(t, err)
	pctx.Answers["Requirements"] = []string{"a"}
	require.NoError(t, s.PutContext(ctx, pctx))
	assert.Equal(t, int64(1), pctx.Revision)

	pctx.Answers["Requirements"][0] = "mutated"
	stored, err := s.GetContext(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, stored.Answers["Requirements"])
	assert.Equal(t, int64(1), stored.Revision)
}

func TestRecordTransitionUpdatesPhase(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	newProject(t, s, "p1")

	require.NoError(t, s.RecordTransition(ctx, model.Transition{ProjectID: "p1", From: model.PhaseInitialization, To: model.PhaseCharter, Actor: "u"}))
	p, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCharter, p.CurrentPhase)

	history, err := s.ListTransitions(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPlansFilterAndCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()
	require.NoError(t, s.PutPlan(ctx, model.PatchPlan{ID: "a", ProjectID: "p1", Status: model.PlanPending, Severity: model.SeverityBreaking, CreatedAt: now}))
	require.NoError(t, s.PutPlan(ctx, model.PatchPlan{ID: "b", ProjectID: "p1", Status: model.PlanPending, Severity: model.SeverityNonBreaking, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.PutPlan(ctx, model.PatchPlan{ID: "c", ProjectID: "p1", Status: model.PlanApplied, Severity: model.SeverityBreaking, CreatedAt: now.Add(2 * time.Second)}))

	n, err := s.CountPendingBreaking(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := s.ListPlans(ctx, "p1", model.PlanPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)

	all, err := s.ListPlans(ctx, "p1", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRequirementsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	rec := model.RequirementRecord{ProjectID: "p1", ID: "FR-001", Statement: "s", Status: model.StatusApproved, Implements: []string{"SDD-1"}}
	require.NoError(t, s.PutRequirement(ctx, rec))

	got, err := s.GetRequirement(ctx, "p1", "FR-001")
	require.NoError(t, err)
	assert.Equal(t, []string{"SDD-1"}, got.Implements)

	_, err = s.GetRequirement(ctx, "p1", "FR-002")
	assert.True(t, orcherrors.Is(err, orcherrors.CodeNotFound))
}
