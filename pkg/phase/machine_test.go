package phase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opnxt/pkg/keylock"
	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
	"opnxt/pkg/store"
)

func setup(t *testing.T, current model.Phase) (*Machine, *store.MemStore) {
	t.Helper()
	s := store.NewMemStore()
	p := &model.Project{ID: "p1", Name: "demo", CurrentPhase: current, ChangePolicy: model.PolicyReview, CreatedAt: time.Now()}
	require.NoError(t, s.CreateProject(context.Background(), p, nil))
	return NewMachine(s, keylock.New(), 3), s
}

func approve(t *testing.T, s *store.MemStore, filename string) {
	t.Helper()
	ctx := context.Background()
	pctx, err := s.GetContext(ctx, "p1")
	require.NoError(t, err)
	pctx.Approvals[filename] = model.Approval{Approved: true, ApprovedAt: time.Now()}
	require.NoError(t, s.PutContext(ctx, pctx))
}

func TestAdvanceWithoutApprovalIsBlocked(t *testing.T) {
	m, _ := setup(t, model.PhaseCharter)

	_, err := m.Advance(context.Background(), "p1", model.PhaseRequirements, "alice")
	require.Error(t, err)
	assert.True(t, orcherrors.Is(err, orcherrors.CodePrerequisiteNotMet))

	current, err := m.Current(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCharter, current)
}

func TestAdvanceRecordsTransition(t *testing.T) {
	m, s := setup(t, model.PhaseCharter)
	approve(t, s, "ProjectCharter.md")

	tr, err := m.Advance(context.Background(), "p1", model.PhaseRequirements, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCharter, tr.From)
	assert.Equal(t, model.PhaseRequirements, tr.To)
	assert.Equal(t, "alice", tr.Actor)

	history, err := m.History(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, tr.To, history[0].To)
}

func TestInvalidTransitionCarriesHint(t *testing.T) {
	m, _ := setup(t, model.PhaseCharter)

	_, err := m.Advance(context.Background(), "p1", model.PhaseDesign, "")
	oe, ok := orcherrors.As(err)
	require.True(t, ok)
	assert.Equal(t, orcherrors.CodeInvalidTransition, oe.Code)
	assert.Contains(t, oe.Hint, "Requirements")
}

func TestUnknownPhaseAndProject(t *testing.T) {
	m, _ := setup(t, model.PhaseCharter)

	_, err := m.Advance(context.Background(), "p1", model.Phase("QA"), "")
	assert.True(t, orcherrors.Is(err, orcherrors.CodeUnknownPhase))

	_, err = m.Advance(context.Background(), "ghost", model.PhaseRequirements, "")
	assert.True(t, orcherrors.Is(err, orcherrors.CodeProjectNotFound))
}

func TestRegressionSkipsPrerequisites(t *testing.T) {
	m, _ := setup(t, model.PhaseDesign)

	tr, err := m.Advance(context.Background(), "p1", model.PhaseRequirements, "")
	require.NoError(t, err)
	assert.Equal(t, "system", tr.Actor)
}

func TestPendingBreakingPlanBlocksAdvance(t *testing.T) {
	m, s := setup(t, model.PhaseCharter)
	approve(t, s, "ProjectCharter.md")
	require.NoError(t, s.PutPlan(context.Background(), model.PatchPlan{
		ID: "plan", ProjectID: "p1", Status: model.PlanPending, Severity: model.SeverityBreaking,
	}))

	_, err := m.Advance(context.Background(), "p1", model.PhaseRequirements, "")
	assert.True(t, orcherrors.Is(err, orcherrors.CodePrerequisiteNotMet))
}

func TestTerminalPhaseIsNotEligible(t *testing.T) {
	m, s := setup(t, model.PhaseMaintenance)
	project, err := s.GetProject(context.Background(), "p1")
	require.NoError(t, err)

	err = m.Eligible(context.Background(), project, model.NewProjectContext("p1"))
	assert.True(t, orcherrors.Is(err, orcherrors.CodeInvalidTransition))
}

func TestConcurrentAdvanceTakesOneStep(t *testing.T) {
	m, s := setup(t, model.PhaseCharter)
	approve(t, s, "ProjectCharter.md")

	const callers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Advance(context.Background(), "p1", model.PhaseRequirements, ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	history, err := m.History(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAdvanceCancelledWhileWaitingForLock(t *testing.T) {
	m, s := setup(t, model.PhaseCharter)
	approve(t, s, "ProjectCharter.md")

	unlock, err := m.locks.Lock(context.Background(), "p1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Advance(ctx, "p1", model.PhaseRequirements, "")
	assert.True(t, orcherrors.Is(err, orcherrors.CodeCancelled))
}
