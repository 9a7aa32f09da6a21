package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"opnxt/pkg/changes"
	"opnxt/pkg/eventlog"
	"opnxt/pkg/llm"
	"opnxt/pkg/llmerrors"
	"opnxt/pkg/metrics"
	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
	"opnxt/pkg/registry"
	"opnxt/pkg/validator"
)

// ProcessRequest is one user turn against a project's current phase.
type ProcessRequest struct {
	ProjectID string `json:"project_id"`
	UserInput string `json:"user_input" validate:"max=65536"`
	RequestID string `json:"request_id,omitempty" validate:"omitempty,max=128"`
	Actor     string `json:"actor,omitempty" validate:"omitempty,max=128"`
}

// ProcessResult is what a successful Process call produced.
type ProcessResult struct {
	Artifact          model.Artifact       `json:"artifact"`
	PatchPlans        []model.PatchPlan    `json:"patch_plans"`
	Warnings          []orcherrors.Warning `json:"warnings"`
	QualityWarnings   []string             `json:"quality_warnings,omitempty"`
	NotReadyReason    string               `json:"not_ready_reason,omitempty"`
	RequestID         string               `json:"request_id"`
	ReadyToAdvance    bool                 `json:"ready_to_advance"`
	HistoryCompressed bool                 `json:"history_compressed"`
	Replayed          bool                 `json:"replayed"`
}

// Process runs the pipeline for the project's current phase. Repeating a request id returns the
// first result without generating again; concurrent duplicates share one execution.
func (o *Orchestrator) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, orcherrors.New(orcherrors.CodeInvalidRequest, "project id is required")
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	for {
		if cached, ok := o.cached(req); ok {
			o.metrics.ObserveProcess("", metrics.OutcomeReplayed, 0)
			return cached, nil
		}

		v, err, shared := o.inflight.Do(req.ProjectID+"/"+req.RequestID, func() (any, error) {
			return o.process(ctx, req)
		})
		// A shared run ends with the context of whichever caller started it. Callers whose
		// own context is still live run the request again.
		if shared && ctx.Err() == nil && orcherrors.Is(err, orcherrors.CodeCancelled) {
			o.logger.Info("🔁 %s for project %s: shared run was cancelled, retrying", req.RequestID, req.ProjectID)
			continue
		}
		if err != nil {
			return nil, err //nolint:wrapcheck // classified by process
		}
		result := *v.(*ProcessResult) //nolint:forcetypeassert // process always returns *ProcessResult
		return &result, nil
	}
}

func (o *Orchestrator) cached(req ProcessRequest) (*ProcessResult, bool) {
	if o.cache == nil {
		return nil, false
	}
	var result ProcessResult
	found, err := o.cache.Get(req.ProjectID, req.RequestID, &result)
	if err != nil {
		o.logger.Warn("⚠️ response cache read failed for %s: %v", req.RequestID, err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	result.Replayed = true
	o.logger.Info("🔁 Replaying %s for project %s", req.RequestID, req.ProjectID)
	return &result, true
}

func (o *Orchestrator) process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	start := time.Now()
	phaseLabel := ""
	outcome := metrics.OutcomeError
	defer func() {
		o.metrics.ObserveProcess(phaseLabel, outcome, time.Since(start))
	}()

	unlock, err := o.lock(ctx, req.ProjectID)
	if err != nil {
		outcome = metrics.OutcomeCancelled
		return nil, err
	}
	defer unlock()

	// 1. Phase.
	project, err := o.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	current := project.CurrentPhase
	phaseLabel = string(current)

	// 2. Agent snapshot.
	agent, err := o.registry.Resolve(current)
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.CodeNoAgentBound, err, "no agent is bound to %s", current)
	}

	// 3. Context, staged on a copy and committed last.
	committed, err := o.store.GetContext(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	staged := committed.Clone()

	compressed, err := o.contexts.CompactIfNeeded(ctx, staged)
	if err != nil {
		if ctx.Err() != nil {
			outcome = metrics.OutcomeCancelled
			return nil, cancelled(ctx, req)
		}
		o.logger.Warn("⚠️ history compression failed for %s: %v", req.ProjectID, err)
	}
	if compressed {
		o.metrics.IncCompression(phaseLabel)
	}

	// 4. Generate.
	resp, err := o.generator.Generate(ctx, llm.Request{
		Prompt:   buildPrompt(agent, staged, req.UserInput),
		Context:  o.contexts.Render(staged),
		Title:    agent.OutputFile,
		Sections: agent.Sections,
		Profile:  agent.Profile,
	})
	if err != nil {
		if ctx.Err() != nil {
			outcome = metrics.OutcomeCancelled
			return nil, cancelled(ctx, req)
		}
		outcome = metrics.OutcomeUnavailable
		return nil, o.generationFailed(ctx, req, agent, staged, err)
	}

	// 5. Validate.
	check := validator.Validate(resp.Text, agent.Sections)
	if !check.Valid {
		outcome = metrics.OutcomeValidationFailed
		return nil, o.validationFailed(ctx, req, agent, staged, check)
	}

	if err := ctx.Err(); err != nil {
		outcome = metrics.OutcomeCancelled
		return nil, cancelled(ctx, req)
	}

	// 6. Version.
	createdBy := req.Actor
	if createdBy == "" {
		createdBy = agent.ID
	}
	meta, err := o.store.AppendArtifactVersion(ctx, req.ProjectID, agent.OutputFile, resp.Text, createdBy, req.RequestID)
	if err != nil {
		return nil, err
	}

	// 7. Change detection and ledger.
	policy := project.ChangePolicy
	if policy == "" {
		policy = o.policy
	}
	reconciled, err := o.changes.Process(ctx, changes.Input{
		Context:   staged,
		ProjectID: req.ProjectID,
		Filename:  agent.OutputFile,
		Content:   resp.Text,
		RequestID: req.RequestID,
		Actor:     createdBy,
		Policy:    policy,
	})
	if err != nil {
		return nil, err
	}
	for _, plan := range reconciled.Plans {
		o.metrics.IncPatchPlan(string(plan.ChangeType), string(plan.Severity), string(plan.Status))
		if plan.Status == model.PlanApplied || plan.Status == model.PlanLogged {
			o.recordDisposition(&plan, createdBy, req.RequestID)
		}
	}

	// 8. Context.
	now := o.now()
	appendOnce(staged, model.Message{Role: model.RoleUser, Content: req.UserInput, Timestamp: now, RequestID: req.RequestID})
	appendOnce(staged, model.Message{
		Role:      model.RoleAssistant,
		Content:   fmt.Sprintf("Drafted %s v%d (%s)", meta.Filename, meta.Version, resp.Provider),
		Timestamp: now,
		RequestID: req.RequestID,
	})
	captureAnswers(staged, current, req.UserInput)
	if summary := summarizeDraft(resp.Text); summary != "" {
		staged.Summaries[string(current)] = summary
	}
	if err := ctx.Err(); err != nil {
		outcome = metrics.OutcomeCancelled
		return nil, cancelled(ctx, req)
	}
	if err := o.store.PutContext(ctx, staged); err != nil {
		return nil, err
	}

	// 9. Readiness. Never advances on its own.
	result := &ProcessResult{
		Artifact:          model.Artifact{VersionMeta: meta, Content: resp.Text},
		PatchPlans:        nonNilPlans(reconciled.Plans),
		Warnings:          nonNilWarnings(reconciled.Warnings),
		QualityWarnings:   check.Warnings,
		RequestID:         req.RequestID,
		HistoryCompressed: compressed,
	}
	if err := o.machine.Eligible(ctx, project, staged); err != nil {
		result.NotReadyReason = err.Error()
	} else {
		result.ReadyToAdvance = true
	}

	if o.cache != nil {
		if err := o.cache.Put(req.ProjectID, req.RequestID, result); err != nil {
			o.logger.Warn("⚠️ response cache write failed for %s: %v", req.RequestID, err)
		}
	}

	outcome = metrics.OutcomeSuccess
	o.logger.Info("🎯 %s: %s v%d (%d plan(s), ready=%v, compressed=%v)",
		req.ProjectID, meta.Filename, meta.Version, len(result.PatchPlans), result.ReadyToAdvance, compressed)
	return result, nil
}

func cancelled(ctx context.Context, req ProcessRequest) error {
	return orcherrors.Wrap(orcherrors.CodeCancelled, ctx.Err(), "request %s for project %s was cancelled", req.RequestID, req.ProjectID)
}

// generationFailed records the failed attempt in history and returns GeneratorUnavailable.
func (o *Orchestrator) generationFailed(ctx context.Context, req ProcessRequest, agent registry.AgentDescriptor, staged *model.ProjectContext, cause error) error {
	now := o.now()
	appendOnce(staged, model.Message{Role: model.RoleUser, Content: req.UserInput, Timestamp: now, RequestID: req.RequestID})
	appendOnce(staged, model.Message{
		Role:      model.RoleSystem,
		Content:   fmt.Sprintf("Generation of %s failed: %v", agent.OutputFile, cause),
		Timestamp: now,
		RequestID: req.RequestID,
	})
	if err := o.store.PutContext(ctx, staged); err != nil {
		o.logger.Error("failed to record failed attempt for %s: %v", req.ProjectID, err)
	}

	ev := eventlog.NewEvent(eventlog.KindGeneratorExhausted, req.ProjectID).
		With("document", agent.OutputFile).
		With("error_type", llmerrors.TypeOf(cause).String()).
		With("error", cause.Error())
	ev.RequestID = req.RequestID
	ev.Actor = req.Actor
	o.record(ev)

	o.logger.Warn("⚠️ %s: generation of %s failed: %v", req.ProjectID, agent.OutputFile, cause)
	hint := "the generation backend is unavailable; retry later or configure a secondary provider"
	var llmErr *llmerrors.Error
	if errors.As(cause, &llmErr) && !llmErr.IsRetryable() && llmErr.Type != llmerrors.ErrorTypeUnavailable {
		hint = "the provider rejected the request (" + llmErr.Type.String() + "); check credentials and agent profile"
	}
	return orcherrors.Wrap(orcherrors.CodeGeneratorUnavailable, cause, "could not generate %s", agent.OutputFile).WithHint(hint)
}

// validationFailed records the rejected draft in history and returns ValidationFailed.
// Nothing else is persisted.
func (o *Orchestrator) validationFailed(ctx context.Context, req ProcessRequest, agent registry.AgentDescriptor, staged *model.ProjectContext, check validator.Result) error {
	now := o.now()
	appendOnce(staged, model.Message{Role: model.RoleUser, Content: req.UserInput, Timestamp: now, RequestID: req.RequestID})
	appendOnce(staged, model.Message{
		Role:      model.RoleSystem,
		Content:   fmt.Sprintf("Draft of %s rejected; missing sections: %s", agent.OutputFile, strings.Join(check.Missing, ", ")),
		Timestamp: now,
		RequestID: req.RequestID,
	})
	if err := o.store.PutContext(ctx, staged); err != nil {
		o.logger.Error("failed to record rejected draft for %s: %v", req.ProjectID, err)
	}

	ev := eventlog.NewEvent(eventlog.KindValidationFailed, req.ProjectID).
		With("document", agent.OutputFile).
		With("missing", check.Missing)
	ev.RequestID = req.RequestID
	ev.Actor = req.Actor
	o.record(ev)

	o.logger.Warn("⚠️ %s: draft of %s missing %v", req.ProjectID, agent.OutputFile, check.Missing)
	return orcherrors.ValidationFailed(agent.OutputFile, check.Missing)
}

// appendOnce appends msg unless history already holds an entry of the same role for its request.
func appendOnce(pctx *model.ProjectContext, msg model.Message) {
	if msg.RequestID != "" {
		for _, m := range pctx.ConversationHistory {
			if m.RequestID == msg.RequestID && m.Role == msg.Role {
				return
			}
		}
	}
	pctx.ConversationHistory = append(pctx.ConversationHistory, msg)
}

func nonNilPlans(plans []model.PatchPlan) []model.PatchPlan {
	if plans == nil {
		return []model.PatchPlan{}
	}
	return plans
}

func nonNilWarnings(warnings []orcherrors.Warning) []orcherrors.Warning {
	if warnings == nil {
		return []orcherrors.Warning{}
	}
	return warnings
}
