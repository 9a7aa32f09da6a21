package changes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opnxt/pkg/ledger"
	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
	"opnxt/pkg/store"
)

const projectID = "p1"

type fixture struct {
	store  *store.MemStore
	ledger *ledger.Ledger
	engine *Engine
	pctx   *model.ProjectContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemStore()
	p := &model.Project{ID: projectID, Name: "demo", CurrentPhase: model.PhaseRequirements, CreatedAt: time.Now()}
	require.NoError(t, s.CreateProject(context.Background(), p, nil))
	l := ledger.New(s, 0)
	return &fixture{store: s, ledger: l, engine: NewEngine(s, l), pctx: model.NewProjectContext(projectID)}
}

// write appends a version of filename and reconciles it.
func (f *fixture) write(t *testing.T, filename, content, requestID string, policy model.ChangePolicy) *Outcome {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.AppendArtifactVersion(ctx, projectID, filename, content, "agent", requestID)
	require.NoError(t, err)
	out, err := f.engine.Process(ctx, Input{
		Context: f.pctx, ProjectID: projectID, Filename: filename, Content: content,
		RequestID: requestID, Actor: "agent", Policy: policy,
	})
	require.NoError(t, err)
	return out
}

// approve baselines the latest version of filename.
func (f *fixture) approve(t *testing.T, filename string) {
	t.Helper()
	ctx := context.Background()
	latest, err := f.store.GetVersion(ctx, projectID, filename, 0)
	require.NoError(t, err)
	f.pctx.Approvals[filename] = model.Approval{Approved: true, Version: latest.Version, ApprovedAt: time.Now()}
	_, err = f.engine.Baseline(ctx, projectID, filename, latest.Content)
	require.NoError(t, err)
}

func TestNewRequirementIsNewInfo(t *testing.T) {
	f := newFixture(t)
	out := f.write(t, "SRS.md", "- FR-020: Users can reset passwords\n", "r1", model.PolicyReview)

	require.Len(t, out.Findings, 1)
	assert.Equal(t, model.ChangeNewInfo, out.Findings[0].Type)
	assert.Empty(t, out.Plans)
	assert.Equal(t, []string{"FR-020"}, out.NewIDs)

	rec, err := f.ledger.Get(context.Background(), projectID, "FR-020")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, rec.Status)
	assert.Equal(t, "SRS.md", rec.SourceDocument)
}

func TestRefinementAutoAppliedInPlace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "SRS.md", "- NFR-001: Response time ≤ 3s\n", "r1", model.PolicyAuto)
	f.approve(t, "SRS.md")

	out := f.write(t, "SRS.md", "- NFR-001: Response time ≤ 5s\n", "r2", model.PolicyAuto)
	require.Len(t, out.Plans, 1)
	plan := out.Plans[0]
	assert.Equal(t, model.ChangeRefinement, plan.ChangeType)
	assert.Equal(t, model.SeverityNonBreaking, plan.Severity)
	assert.Equal(t, model.PlanApplied, plan.Status)
	assert.NotNil(t, plan.ResolvedAt)

	rec, err := f.ledger.Get(ctx, projectID, "NFR-001")
	require.NoError(t, err)
	assert.Equal(t, "Response time ≤ 5s", rec.Statement)
	assert.Equal(t, model.StatusApproved, rec.Status)

	versions, err := f.store.ListVersions(ctx, projectID, "SRS.md")
	require.NoError(t, err)
	assert.Len(t, versions, 2, "the regenerated document is the only new version")
}

func TestLinkRemovalPendsUnderReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "SRS.md", "- BR-001: Reduce reporting effort\n- FR-003: Users export reports (implements: BR-001)\n", "r1", model.PolicyReview)
	f.approve(t, "SRS.md")

	out := f.write(t, "SRS.md", "- BR-001: Reduce reporting effort\n- FR-003: Users export reports\n", "r2", model.PolicyReview)
	require.Len(t, out.Plans, 1)
	plan := out.Plans[0]
	assert.Equal(t, model.ChangeConflict, plan.ChangeType)
	assert.Equal(t, model.SeverityBreaking, plan.Severity)
	assert.Equal(t, model.PlanPending, plan.Status)
	assert.Equal(t, []string{"BR-001"}, plan.Previous.Implements)
	assert.Empty(t, plan.ProposedEdit.Implements)

	n, err := f.store.CountPendingBreaking(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := f.ledger.Get(ctx, projectID, "FR-003")
	require.NoError(t, err)
	assert.Equal(t, []string{"BR-001"}, rec.Implements, "baselined links stay until the plan is resolved")

	approved, _, err := f.engine.ApprovePlan(ctx, projectID, plan.ID, "lead")
	require.NoError(t, err)
	assert.Equal(t, model.PlanApplied, approved.Status)

	rec, err = f.ledger.Get(ctx, projectID, "FR-003")
	require.NoError(t, err)
	assert.Empty(t, rec.Implements)

	_, _, err = f.engine.ApprovePlan(ctx, projectID, plan.ID, "lead")
	assert.True(t, orcherrors.Is(err, orcherrors.CodeInvalidRequest))
}

func TestRejectPlanLeavesBaseline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "SRS.md", "- FR-001: Users shall export data\n", "r1", model.PolicyReview)
	f.approve(t, "SRS.md")

	out := f.write(t, "SRS.md", "- FR-001: Users shall not export data\n", "r2", model.PolicyReview)
	require.Len(t, out.Plans, 1)

	rejected, err := f.engine.RejectPlan(ctx, projectID, out.Plans[0].ID, "lead")
	require.NoError(t, err)
	assert.Equal(t, model.PlanRejected, rejected.Status)

	rec, err := f.ledger.Get(ctx, projectID, "FR-001")
	require.NoError(t, err)
	assert.Equal(t, "Users shall export data", rec.Statement)
}

func TestPolicyNoneLogsDeviation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "SRS.md", "- FR-001: Login (implements: FR-002)\n- FR-002: Accounts\n", "r1", model.PolicyNone)
	f.approve(t, "SRS.md")

	out := f.write(t, "SRS.md", "- FR-001: Login\n- FR-002: Accounts\n", "r2", model.PolicyNone)
	require.Len(t, out.Plans, 1)
	assert.Equal(t, model.PlanLogged, out.Plans[0].Status)

	n, err := f.store.CountPendingBreaking(ctx, projectID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRemovedApprovedStatementIsConflict(t *testing.T) {
	f := newFixture(t)
	f.write(t, "SRS.md", "- FR-001: Login\n- FR-002: Logout\n", "r1", model.PolicyReview)
	f.approve(t, "SRS.md")

	out := f.write(t, "SRS.md", "- FR-001: Login\n", "r2", model.PolicyReview)
	require.Len(t, out.Plans, 1)
	assert.Equal(t, "FR-002", out.Plans[0].SourceRef.RequirementID)
	assert.Equal(t, "approved statement removed", out.Plans[0].Reason)
	assert.True(t, out.Findings[len(out.Findings)-1].Removed())

	applied, _, err := f.engine.ApprovePlan(context.Background(), projectID, out.Plans[0].ID, "bob")
	require.NoError(t, err)
	rec, err := f.ledger.Get(context.Background(), projectID, "FR-002")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeprecated, rec.Status)
	assert.Equal(t, applied.ID, rec.RemovedByPlan)
	assert.Empty(t, rec.SupersededBy)
	assert.Equal(t, "removed by patch plan "+applied.ID, rec.DeprecationNote())
}

func TestCrossDocumentEditPatchesOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "SRS.md", "## Reqs\n- NFR-001: Response time ≤ 3s\n", "r1", model.PolicyAuto)
	f.approve(t, "SRS.md")

	out := f.write(t, "SDD.md", "## Architecture\n- NFR-001: Response time ≤ 2s\n", "r2", model.PolicyAuto)
	require.Len(t, out.Plans, 1)
	assert.Equal(t, "SRS.md", out.Plans[0].SourceRef.Document)

	latest, err := f.store.GetVersion(ctx, projectID, "SRS.md", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Contains(t, latest.Content, "- NFR-001: Response time ≤ 2s")
}

func TestRetriedRequestReusesPlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "SRS.md", "- FR-001: Login\n", "r1", model.PolicyReview)
	f.approve(t, "SRS.md")

	first := f.write(t, "SRS.md", "- FR-001: Login with SSO\n", "r2", model.PolicyReview)
	second, err := f.engine.Process(ctx, Input{
		Context: f.pctx, ProjectID: projectID, Filename: "SRS.md", Content: "- FR-001: Login with SSO\n",
		RequestID: "r2", Policy: model.PolicyReview,
	})
	require.NoError(t, err)
	require.Len(t, second.Plans, 1)
	assert.Equal(t, first.Plans[0].ID, second.Plans[0].ID)

	plans, err := f.store.ListPlans(ctx, projectID, "")
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestUnknownLinksWarn(t *testing.T) {
	f := newFixture(t)
	out := f.write(t, "SRS.md", "- FR-001: Login (tested_by: TC-001)\n", "r1", model.PolicyReview)
	require.Len(t, out.Warnings, 1)
	assert.Equal(t, orcherrors.CodeUnknownReference, out.Warnings[0].Code)
}

func TestImplementsCycleWarningReturnedWithPlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	content := "- FR-001: Users log in (implements: FR-002)\n- FR-002: Sessions persist (implements: FR-001)\n"
	meta, err := f.store.AppendArtifactVersion(ctx, projectID, "SRS.md", content, "agent", "r1")
	require.NoError(t, err)
	// Written straight to the store: Link would refuse the forward reference.
	for _, r := range []model.RequirementRecord{
		{ProjectID: projectID, ID: "FR-001", SourceDocument: "SRS.md", Statement: "Users log in", Status: model.StatusApproved, Implements: []string{"FR-002"}},
		{ProjectID: projectID, ID: "FR-002", SourceDocument: "SRS.md", Statement: "Sessions persist", Status: model.StatusApproved, Implements: []string{"FR-001"}},
	} {
		require.NoError(t, f.store.PutRequirement(ctx, r))
	}
	f.pctx.Approvals["SRS.md"] = model.Approval{Approved: true, Version: meta.Version, ApprovedAt: time.Now()}

	out := f.write(t, "SRS.md", "- FR-001: Users log in with email (implements: FR-002)\n- FR-002: Sessions persist (implements: FR-001)\n", "r2", model.PolicyReview)
	require.Len(t, out.Plans, 1)
	assert.Equal(t, model.ChangeRefinement, out.Plans[0].ChangeType)

	var cycle *orcherrors.Warning
	for i := range out.Warnings {
		if out.Warnings[i].Code == orcherrors.CodeDataIntegrityWarning {
			cycle = &out.Warnings[i]
		}
	}
	require.NotNil(t, cycle, "warnings: %v", out.Warnings)
	assert.ElementsMatch(t, []string{"FR-001", "FR-002"}, cycle.IDs)
}
