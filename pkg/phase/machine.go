package phase

import (
	"context"
	"strings"
	"time"

	"opnxt/pkg/keylock"
	"opnxt/pkg/logx"
	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
)

// Store is the persistence the machine needs. RecordTransition must write the transition row
// and the project's new phase in one transaction.
type Store interface {
	GetProject(ctx context.Context, projectID string) (*model.Project, error)
	GetContext(ctx context.Context, projectID string) (*model.ProjectContext, error)
	CountPendingBreaking(ctx context.Context, projectID string) (int, error)
	RecordTransition(ctx context.Context, t model.Transition) error
	ListTransitions(ctx context.Context, projectID string) ([]model.Transition, error)
}

// Machine is the authoritative owner of each project's current phase.
type Machine struct {
	store      Store
	locks      *keylock.KeyedLock
	logger     *logx.Logger
	now        func() time.Time
	minAnswers int
}

// NewMachine creates a machine. locks must be the same keyed lock the pipeline uses so phase
// changes serialize with other per-project writes.
func NewMachine(store Store, locks *keylock.KeyedLock, minAnswers int) *Machine {
	return &Machine{
		store:      store,
		locks:      locks,
		logger:     logx.NewLogger("phase"),
		now:        func() time.Time { return time.Now().UTC() },
		minAnswers: minAnswers,
	}
}

// Current returns the project's committed phase.
func (m *Machine) Current(ctx context.Context, projectID string) (model.Phase, error) {
	project, err := m.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	return project.CurrentPhase, nil
}

// History returns the recorded transitions, oldest first.
func (m *Machine) History(ctx context.Context, projectID string) ([]model.Transition, error) {
	if _, err := m.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return m.store.ListTransitions(ctx, projectID)
}

// Advance moves the project to target under the project lock.
func (m *Machine) Advance(ctx context.Context, projectID string, target model.Phase, actor string) (model.Transition, error) {
	if !target.Valid() {
		return model.Transition{}, orcherrors.New(orcherrors.CodeUnknownPhase, "unknown phase %q", target)
	}

	unlock, err := m.locks.Lock(ctx, projectID)
	if err != nil {
		return model.Transition{}, orcherrors.Wrap(orcherrors.CodeCancelled, err, "advance %s", projectID)
	}
	defer unlock()

	return m.AdvanceLocked(ctx, projectID, target, actor)
}

// AdvanceLocked is Advance for callers already holding the project lock.
func (m *Machine) AdvanceLocked(ctx context.Context, projectID string, target model.Phase, actor string) (model.Transition, error) {
	project, err := m.store.GetProject(ctx, projectID)
	if err != nil {
		return model.Transition{}, err
	}
	from := project.CurrentPhase

	if !IsValidTransition(from, target) {
		return model.Transition{}, orcherrors.New(orcherrors.CodeInvalidTransition,
			"cannot move from %s to %s", from, target).
			WithHint(transitionHint(from))
	}

	if IsForward(from, target) {
		if err := m.checkExit(ctx, project); err != nil {
			m.logger.Info("⛔ %s: %s → %s blocked: %v", projectID, from, target, err)
			return model.Transition{}, err
		}
	}

	if actor == "" {
		actor = "system"
	}
	t := model.Transition{
		ProjectID: projectID,
		From:      from,
		To:        target,
		Actor:     actor,
		Timestamp: m.now(),
	}
	if err := m.store.RecordTransition(ctx, t); err != nil {
		return model.Transition{}, err
	}

	m.logger.Info("🔄 Project %s phase transition: %s → %s (by %s)", projectID, from, target, actor)
	return t, nil
}

// Eligible reports whether the project could take its forward step right now.
// The caller must hold the project lock for the answer to stay true.
func (m *Machine) Eligible(ctx context.Context, project *model.Project, pctx *model.ProjectContext) error {
	if _, ok := Next(project.CurrentPhase); !ok {
		return orcherrors.New(orcherrors.CodeInvalidTransition, "%s is terminal", project.CurrentPhase)
	}
	if err := CheckPrerequisites(project.CurrentPhase, pctx, m.minAnswers); err != nil {
		return err
	}
	pending, err := m.store.CountPendingBreaking(ctx, project.ID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return orcherrors.New(orcherrors.CodePrerequisiteNotMet,
			"%d breaking patch plan(s) await review", pending).
			WithHint("approve or reject the pending breaking patch plans before advancing")
	}
	return nil
}

func (m *Machine) checkExit(ctx context.Context, project *model.Project) error {
	pctx, err := m.store.GetContext(ctx, project.ID)
	if err != nil {
		return err
	}
	return m.Eligible(ctx, project, pctx)
}

func transitionHint(from model.Phase) string {
	targets := AllowedTargets(from)
	if len(targets) == 0 {
		return "no transitions are allowed from " + string(from)
	}
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = string(t)
	}
	return "allowed targets from " + string(from) + ": " + strings.Join(names, ", ")
}
