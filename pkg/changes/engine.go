package changes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"opnxt/pkg/ledger"
	"opnxt/pkg/logx"
	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
	"opnxt/pkg/store"
)

// Store is the persistence the engine needs.
type Store interface {
	store.ArtifactStore
	store.PlanStore
}

// Engine detects changes, plans patches and keeps the ledger in step with generated documents.
type Engine struct {
	store  Store
	ledger *ledger.Ledger
	logger *logx.Logger
	now    func() time.Time
}

// NewEngine creates an engine.
func NewEngine(s Store, l *ledger.Ledger) *Engine {
	return &Engine{
		store:  s,
		ledger: l,
		logger: logx.NewLogger("changes"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Input is one freshly persisted document version to reconcile.
type Input struct {
	Context   *model.ProjectContext
	ProjectID string
	Filename  string
	Content   string
	RequestID string
	Actor     string
	Policy    model.ChangePolicy
}

// Outcome is what reconciliation produced.
type Outcome struct {
	Findings []Finding
	Plans    []model.PatchPlan
	Warnings []orcherrors.Warning
	NewIDs   []string
}

// planNamespace scopes derived plan ids.
//
//nolint:gochecknoglobals // Fixed UUID namespace
var planNamespace = uuid.MustParse("6f0c2d6e-9a51-4b8e-9d0e-2f3c1b7a4e10")

// PlanID derives a stable plan id so a retried request upserts the same plan.
func PlanID(projectID, requestID string, ref model.SourceRef) string {
	key := strings.Join([]string{projectID, requestID, ref.Document, ref.RequirementID}, "\x00")
	return uuid.NewSHA1(planNamespace, []byte(key)).String()
}

// Process detects changes in the new content, stores a plan per non-trivial finding according
// to the project's policy and updates the ledger with the document's statements.
func (e *Engine) Process(ctx context.Context, in Input) (*Outcome, error) {
	policy := in.Policy
	if policy == "" {
		policy = model.PolicyReview
	}

	findings, warnings, err := e.Detect(ctx, in.ProjectID, in.Context, in.Filename, in.Content)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Findings: findings, Warnings: warnings}

	// Ids whose baselined record must not be touched until their plan is resolved.
	held := make(map[string]bool)
	for _, f := range findings {
		if f.Type == model.ChangeNewInfo {
			out.NewIDs = append(out.NewIDs, f.ID)
			continue
		}
		plan, planWarnings, err := e.plan(ctx, in, policy, f)
		if err != nil {
			return nil, err
		}
		out.Warnings = append(out.Warnings, planWarnings...)
		out.Plans = append(out.Plans, *plan)
		if plan.Status != model.PlanApplied {
			held[f.ID] = true
		}
	}

	syncWarnings, err := e.sync(ctx, in, held)
	if err != nil {
		return nil, err
	}
	out.Warnings = append(out.Warnings, syncWarnings...)
	return out, nil
}

func (e *Engine) plan(ctx context.Context, in Input, policy model.ChangePolicy, f Finding) (*model.PatchPlan, []orcherrors.Warning, error) {
	ref := model.SourceRef{Document: f.Document, Section: f.Previous.Section, RequirementID: f.ID}
	id := PlanID(in.ProjectID, in.RequestID, ref)

	// A retried request finds its plan already resolved.
	if existing, err := e.store.GetPlan(ctx, in.ProjectID, id); err == nil {
		return existing, nil, nil
	} else if !orcherrors.Is(err, orcherrors.CodeNotFound) {
		return nil, nil, err
	}

	plan := &model.PatchPlan{
		ID:         id,
		ProjectID:  in.ProjectID,
		RequestID:  in.RequestID,
		SourceRef:  ref,
		ChangeType: f.Type,
		Severity:   f.Severity,
		Previous:   f.Previous.Statement(),
		Reason:     f.Reason,
		Status:     model.PlanPending,
		CreatedAt:  e.now(),
	}
	if !f.Removed() {
		plan.ProposedEdit = f.Requirement.Statement()
	}
	impacted, warnings, err := e.impacted(ctx, in.ProjectID, f.ID)
	if err != nil {
		return nil, nil, err
	}
	plan.ImpactedRefs = impacted

	switch policy {
	case model.PolicyAuto:
		applyWarnings, err := e.apply(ctx, plan, in.Actor, in.RequestID, in.Filename)
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, applyWarnings...)
	case model.PolicyNone:
		plan.Status = model.PlanLogged
		e.logger.Info("📦 Logged deviation %s on %s (%s)", f.ID, f.Document, f.Reason)
	default:
		e.logger.Info("⚠️ Patch plan %s for %s awaits review (%s, %s)", plan.ID, f.ID, plan.ChangeType, plan.Severity)
	}
	if err := e.store.PutPlan(ctx, *plan); err != nil {
		return nil, nil, err
	}
	return plan, warnings, nil
}

// impacted lists the refs a change to id reaches, with any integrity warnings found on the way.
func (e *Engine) impacted(ctx context.Context, projectID, id string) ([]string, []orcherrors.Warning, error) {
	impact, err := e.ledger.ImpactOf(ctx, projectID, id)
	if orcherrors.Is(err, orcherrors.CodeUnknownReference) {
		return []string{}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	refs := make([]string, 0, len(impact.Direct)+len(impact.Indirect)+len(impact.Tests))
	refs = append(refs, impact.Direct...)
	refs = append(refs, impact.Indirect...)
	refs = append(refs, impact.Tests...)
	return refs, impact.Warnings, nil
}

// apply carries a plan into the ledger and, unless the target is skipDoc, into a new version
// of the target document.
func (e *Engine) apply(ctx context.Context, plan *model.PatchPlan, actor, requestID, skipDoc string) ([]orcherrors.Warning, error) {
	id := plan.SourceRef.RequirementID
	var warnings []orcherrors.Warning

	rec, err := e.ledger.Get(ctx, plan.ProjectID, id)
	if err != nil {
		return nil, err
	}
	if plan.ProposedEdit.Text == "" {
		rec.Status = model.StatusDeprecated
		rec.RemovedByPlan = plan.ID
		if err := e.ledger.Upsert(ctx, *rec); err != nil {
			return nil, err
		}
	} else {
		rec.Statement = plan.ProposedEdit.Text
		if err := e.ledger.Upsert(ctx, *rec); err != nil {
			return nil, err
		}
		unknown, err := e.ledger.LinkKnown(ctx, plan.ProjectID, id, plan.ProposedEdit.Implements, plan.ProposedEdit.TestedBy)
		if err != nil {
			return nil, err
		}
		if w, ok := unknownWarning(id, unknown); ok {
			warnings = append(warnings, w)
		}
	}

	if plan.Severity == model.SeverityBreaking {
		reopened, err := e.ledger.MarkDependentsDraft(ctx, plan.ProjectID, id)
		if err != nil {
			return nil, err
		}
		if len(reopened) > 0 {
			e.logger.Info("🔁 %s changed; dependents back to draft: %s", id, strings.Join(reopened, ", "))
		}
	}

	if target := plan.SourceRef.Document; target != "" && target != skipDoc {
		latest, err := e.store.GetVersion(ctx, plan.ProjectID, target, 0)
		switch {
		case orcherrors.Is(err, orcherrors.CodeNotFound):
		case err != nil:
			return nil, err
		default:
			edited := Rewrite(latest.Content, id, plan.ProposedEdit)
			if edited != latest.Content {
				meta, err := e.store.AppendArtifactVersion(ctx, plan.ProjectID, target, edited, actor, requestID+"/"+plan.ID)
				if err != nil {
					return nil, err
				}
				e.logger.Info("📦 Patched %s to v%d for %s", target, meta.Version, id)
			}
		}
	}

	now := e.now()
	plan.Status = model.PlanApplied
	plan.ResolvedAt = &now
	return warnings, nil
}

// sync records the statements of the new document in the ledger. Held ids keep their
// baselined record until their plan is resolved.
func (e *Engine) sync(ctx context.Context, in Input, held map[string]bool) ([]orcherrors.Warning, error) {
	var (
		warnings []orcherrors.Warning
		linkable []Requirement
	)
	for _, r := range Parse(in.Content) {
		if held[r.ID] {
			continue
		}
		rec, err := e.ledger.Get(ctx, in.ProjectID, r.ID)
		switch {
		case orcherrors.Is(err, orcherrors.CodeNotFound):
			rec = &model.RequirementRecord{
				ProjectID:      in.ProjectID,
				ID:             r.ID,
				SourceDocument: in.Filename,
				Status:         model.StatusDraft,
			}
		case err != nil:
			return nil, err
		case rec.Status == model.StatusDeprecated:
			continue
		case rec.SourceDocument != "" && rec.SourceDocument != in.Filename:
			// Statements owned by another document change only through a plan.
			continue
		}
		rec.Statement = r.Text
		if err := e.ledger.Upsert(ctx, *rec); err != nil {
			if orcherrors.Is(err, orcherrors.CodeInvalidRequest) {
				continue
			}
			return nil, err
		}
		linkable = append(linkable, r)
	}

	for _, r := range linkable {
		unknown, err := e.ledger.LinkKnown(ctx, in.ProjectID, r.ID, r.Implements, r.TestedBy)
		if err != nil {
			return nil, err
		}
		if w, ok := unknownWarning(r.ID, unknown); ok {
			warnings = append(warnings, w)
		}
	}
	return warnings, nil
}

// Baseline marks every statement of an approved document version as approved in the ledger.
func (e *Engine) Baseline(ctx context.Context, projectID, filename, content string) ([]orcherrors.Warning, error) {
	var (
		warnings []orcherrors.Warning
		approved []Requirement
	)
	for _, r := range Parse(content) {
		rec, err := e.ledger.Get(ctx, projectID, r.ID)
		switch {
		case orcherrors.Is(err, orcherrors.CodeNotFound):
			rec = &model.RequirementRecord{ProjectID: projectID, ID: r.ID, SourceDocument: filename}
		case err != nil:
			return nil, err
		case rec.Status == model.StatusDeprecated:
			continue
		}
		if rec.SourceDocument == "" {
			rec.SourceDocument = filename
		}
		if rec.SourceDocument != filename {
			continue
		}
		rec.Statement = r.Text
		if rec.Status != model.StatusImplemented {
			rec.Status = model.StatusApproved
		}
		if err := e.ledger.Upsert(ctx, *rec); err != nil {
			return nil, err
		}
		approved = append(approved, r)
	}
	for _, r := range approved {
		unknown, err := e.ledger.LinkKnown(ctx, projectID, r.ID, r.Implements, r.TestedBy)
		if err != nil {
			return nil, err
		}
		if w, ok := unknownWarning(r.ID, unknown); ok {
			warnings = append(warnings, w)
		}
	}
	return warnings, nil
}

// ApprovePlan applies a pending plan.
func (e *Engine) ApprovePlan(ctx context.Context, projectID, planID, actor string) (*model.PatchPlan, []orcherrors.Warning, error) {
	plan, err := e.pending(ctx, projectID, planID)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := e.apply(ctx, plan, actor, "approve", "")
	if err != nil {
		return nil, nil, err
	}
	if err := e.store.PutPlan(ctx, *plan); err != nil {
		return nil, nil, err
	}
	e.logger.Info("🎯 Patch plan %s approved by %s", planID, actor)
	return plan, warnings, nil
}

// RejectPlan closes a pending plan without edits.
func (e *Engine) RejectPlan(ctx context.Context, projectID, planID, actor string) (*model.PatchPlan, error) {
	plan, err := e.pending(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	plan.Status = model.PlanRejected
	plan.ResolvedAt = &now
	if err := e.store.PutPlan(ctx, *plan); err != nil {
		return nil, err
	}
	e.logger.Info("⛔ Patch plan %s rejected by %s", planID, actor)
	return plan, nil
}

func (e *Engine) pending(ctx context.Context, projectID, planID string) (*model.PatchPlan, error) {
	plan, err := e.store.GetPlan(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != model.PlanPending {
		return nil, orcherrors.New(orcherrors.CodeInvalidRequest, "patch plan %s is already %s", planID, plan.Status).
			WithHint("only pending patch plans can be approved or rejected")
	}
	return plan, nil
}

func unknownWarning(id string, unknown []string) (orcherrors.Warning, bool) {
	if len(unknown) == 0 {
		return orcherrors.Warning{}, false
	}
	return orcherrors.Warning{
		Code:    orcherrors.CodeUnknownReference,
		Message: fmt.Sprintf("%s references ids not in the ledger: %s", id, strings.Join(unknown, ", ")),
		IDs:     unknown,
	}, true
}
