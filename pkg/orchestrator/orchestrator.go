// Package orchestrator drives projects through the lifecycle: it resolves the agent for the
// current phase, generates and validates its document, versions the result, reconciles it with
// the traceability ledger and reports whether the project may advance.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"opnxt/pkg/changes"
	"opnxt/pkg/contextmgr"
	"opnxt/pkg/eventlog"
	"opnxt/pkg/keylock"
	"opnxt/pkg/ledger"
	"opnxt/pkg/llm"
	"opnxt/pkg/logx"
	"opnxt/pkg/metrics"
	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
	"opnxt/pkg/phase"
	"opnxt/pkg/registry"
	"opnxt/pkg/store"
)

// DefaultMinRequirementAnswers is the number of captured requirement statements that lets a
// project leave Requirements without an approved SRS.
const DefaultMinRequirementAnswers = 3

// ResponseCache replays completed Process results by request id.
type ResponseCache interface {
	Get(scope, requestID string, out any) (bool, error)
	Put(scope, requestID string, v any) error
}

// Options carries the optional collaborators. Zero values select no-op or default behavior.
type Options struct {
	Cache                 ResponseCache
	Audit                 eventlog.Recorder
	Metrics               metrics.Recorder
	Contexts              *contextmgr.ContextManager
	Locks                 *keylock.KeyedLock
	DefaultPolicy         model.ChangePolicy
	MinRequirementAnswers int
	LedgerMaxDepth        int
}

// Orchestrator is the root component. It is safe for concurrent use; writes to one project are
// serialized by a per-project lock and different projects never contend.
type Orchestrator struct {
	store     store.Store
	registry  *registry.Registry
	generator llm.Generator
	machine   *phase.Machine
	ledger    *ledger.Ledger
	changes   *changes.Engine
	contexts  *contextmgr.ContextManager
	locks     *keylock.KeyedLock
	cache     ResponseCache
	audit     eventlog.Recorder
	metrics   metrics.Recorder
	logger    *logx.Logger
	now       func() time.Time
	inflight  singleflight.Group
	policy    model.ChangePolicy
}

// New wires an orchestrator over s.
func New(s store.Store, reg *registry.Registry, gen llm.Generator, opts Options) *Orchestrator {
	if opts.Locks == nil {
		opts.Locks = keylock.New()
	}
	if opts.Contexts == nil {
		opts.Contexts = contextmgr.NewContextManager(contextmgr.DefaultConfig(), nil)
	}
	if opts.Audit == nil {
		opts.Audit = eventlog.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	if !opts.DefaultPolicy.Valid() {
		opts.DefaultPolicy = model.PolicyReview
	}
	if opts.MinRequirementAnswers == 0 {
		opts.MinRequirementAnswers = DefaultMinRequirementAnswers
	}

	l := ledger.New(s, opts.LedgerMaxDepth)
	return &Orchestrator{
		store:     s,
		registry:  reg,
		generator: gen,
		machine:   phase.NewMachine(s, opts.Locks, opts.MinRequirementAnswers),
		ledger:    l,
		changes:   changes.NewEngine(s, l),
		contexts:  opts.Contexts,
		locks:     opts.Locks,
		cache:     opts.Cache,
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		logger:    logx.NewLogger("orchestrator"),
		now:       func() time.Time { return time.Now().UTC() },
		policy:    opts.DefaultPolicy,
	}
}

// Registry returns the agent registry.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Ledger returns the traceability ledger.
func (o *Orchestrator) Ledger() *ledger.Ledger {
	return o.ledger
}

// lock acquires the project lock, mapping a cancelled wait to Cancelled.
func (o *Orchestrator) lock(ctx context.Context, projectID string) (func(), error) {
	unlock, err := o.locks.Lock(ctx, projectID)
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.CodeCancelled, err, "waiting for project %s", projectID)
	}
	return unlock, nil
}

func (o *Orchestrator) record(ev *eventlog.Event) {
	if err := o.audit.Record(ev); err != nil {
		o.logger.Warn("⚠️ failed to write audit event %s: %v", ev.Kind, err)
	}
}

// CreateProjectRequest describes a new project.
type CreateProjectRequest struct {
	Metadata     map[string]string  `json:"metadata,omitempty"`
	Name         string             `json:"name" validate:"required,max=200"`
	ChangePolicy model.ChangePolicy `json:"change_policy,omitempty" validate:"omitempty,oneof=auto review none"`
}

// CreateProject stores a project in Initialization with an empty context.
func (o *Orchestrator) CreateProject(ctx context.Context, req CreateProjectRequest) (*model.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, orcherrors.New(orcherrors.CodeInvalidRequest, "project name is required")
	}
	policy := req.ChangePolicy
	if policy == "" {
		policy = o.policy
	}
	if !policy.Valid() {
		return nil, orcherrors.New(orcherrors.CodeInvalidRequest, "unknown change policy %q", policy).
			WithHint("use one of: auto, review, none")
	}

	project := &model.Project{
		ID:           uuid.NewString(),
		Name:         name,
		CurrentPhase: model.PhaseInitialization,
		ChangePolicy: policy,
		CreatedAt:    o.now(),
		Metadata:     req.Metadata,
	}
	if err := o.store.CreateProject(ctx, project, model.NewProjectContext(project.ID)); err != nil {
		return nil, err
	}
	o.logger.Info("📦 Created project %s (%s, policy=%s)", project.ID, project.Name, project.ChangePolicy)
	return project, nil
}

// GetProject returns one project.
func (o *Orchestrator) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	return o.store.GetProject(ctx, projectID)
}

// ListProjects returns every project.
func (o *Orchestrator) ListProjects(ctx context.Context) ([]model.Project, error) {
	return o.store.ListProjects(ctx)
}

// Advance moves the project to target (a phase name) on behalf of actor.
func (o *Orchestrator) Advance(ctx context.Context, projectID, target, actor string) (model.Transition, error) {
	to, err := phase.Parse(target)
	if err != nil {
		return model.Transition{}, err
	}
	t, err := o.machine.Advance(ctx, projectID, to, actor)
	if err != nil {
		return model.Transition{}, err
	}

	o.metrics.IncTransition(string(t.From), string(t.To))
	ev := eventlog.NewEvent(eventlog.KindTransition, projectID).
		With("from", string(t.From)).
		With("to", string(t.To))
	ev.Actor = t.Actor
	o.record(ev)
	return t, nil
}

// Transitions returns the project's phase history, oldest first.
func (o *Orchestrator) Transitions(ctx context.Context, projectID string) ([]model.Transition, error) {
	return o.machine.History(ctx, projectID)
}

// ListVersions lists the versions of one document.
func (o *Orchestrator) ListVersions(ctx context.Context, projectID, filename string) ([]model.VersionMeta, error) {
	return o.store.ListVersions(ctx, projectID, filename)
}

// GetVersion returns one document version; 0 selects the latest.
func (o *Orchestrator) GetVersion(ctx context.Context, projectID, filename string, version int) (*model.Artifact, error) {
	if version < 0 {
		return nil, orcherrors.New(orcherrors.CodeInvalidRequest, "version must be positive")
	}
	return o.store.GetVersion(ctx, projectID, filename, version)
}

// Impacts reports what depends on the given requirements.
func (o *Orchestrator) Impacts(ctx context.Context, projectID string, ids []string) ([]ledger.ImpactEntry, []orcherrors.Warning, error) {
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return nil, nil, err
	}
	if len(ids) == 0 {
		return nil, nil, orcherrors.New(orcherrors.CodeInvalidRequest, "at least one requirement id is required")
	}
	return o.ledger.Impacts(ctx, projectID, ids)
}

// Requirements lists the project's ledger records.
func (o *Orchestrator) Requirements(ctx context.Context, projectID string) ([]model.RequirementRecord, error) {
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return o.ledger.List(ctx, projectID)
}

// Agents lists the phase bindings.
func (o *Orchestrator) Agents() []registry.AgentDescriptor {
	return o.registry.Snapshot()
}

// RegisterAgent rebinds phase to descriptor. In-flight calls keep the snapshot they resolved.
func (o *Orchestrator) RegisterAgent(phaseName string, descriptor registry.AgentDescriptor, actor string) error {
	p, err := phase.Parse(phaseName)
	if err != nil {
		return err
	}
	if err := o.registry.Register(p, descriptor); err != nil {
		return err
	}
	ev := eventlog.NewEvent(eventlog.KindAgentRebound, "").
		With("phase", string(p)).
		With("agent_id", descriptor.ID).
		With("kind", string(descriptor.Kind))
	ev.Actor = actor
	o.record(ev)
	return nil
}
