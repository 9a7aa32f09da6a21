package orchestrator

import (
	"context"

	"opnxt/pkg/eventlog"
	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
)

// ContextUpdate replaces the editable parts of a project context. Nil fields are left alone.
// BaseRevision, when set, is the revision the caller last read; a stale base still wins but the
// overwritten revision is audited.
type ContextUpdate struct {
	Answers      map[string][]string       `json:"answers,omitempty"`
	Summaries    map[string]string         `json:"summaries,omitempty"`
	Approvals    map[string]model.Approval `json:"approvals,omitempty"`
	BaseRevision *int64                    `json:"base_revision,omitempty"`
	Actor        string                    `json:"actor,omitempty"`
}

// GetContext returns the committed context.
func (o *Orchestrator) GetContext(ctx context.Context, projectID string) (*model.ProjectContext, error) {
	return o.store.GetContext(ctx, projectID)
}

// PutContext applies update under the project lock. Conversation history and its digest are
// never replaced.
func (o *Orchestrator) PutContext(ctx context.Context, projectID string, update ContextUpdate) (*model.ProjectContext, error) {
	unlock, err := o.lock(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	pctx, err := o.store.GetContext(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if update.BaseRevision != nil && *update.BaseRevision != pctx.Revision {
		o.logger.Warn("⚠️ %s: context write based on revision %d supersedes revision %d",
			projectID, *update.BaseRevision, pctx.Revision)
		ev := eventlog.NewEvent(eventlog.KindContextSuperseded, projectID).
			With("base_revision", *update.BaseRevision).
			With("superseded_revision", pctx.Revision).
			With("superseded_answers", pctx.Answers).
			With("superseded_summaries", pctx.Summaries).
			With("superseded_approvals", pctx.Approvals)
		ev.Actor = update.Actor
		o.record(ev)
	}

	if update.Answers != nil {
		pctx.Answers = update.Answers
	}
	if update.Summaries != nil {
		pctx.Summaries = update.Summaries
	}
	if update.Approvals != nil {
		approvals, err := o.resolveApprovals(ctx, projectID, pctx.Approvals, update.Approvals, update.Actor)
		if err != nil {
			return nil, err
		}
		pctx.Approvals = approvals
	}
	if err := o.store.PutContext(ctx, pctx); err != nil {
		return nil, err
	}
	return pctx, nil
}

// resolveApprovals pins every newly approved document to a stored version and baselines it.
// Version 0 means the latest version at write time. An approval that repeats the current one
// keeps its pinned version. Unknown documents or versions reject the whole write.
func (o *Orchestrator) resolveApprovals(ctx context.Context, projectID string, current, next map[string]model.Approval, actor string) (map[string]model.Approval, error) {
	resolved := make(map[string]model.Approval, len(next))
	pinned := make(map[string]*model.Artifact)
	for _, filename := range model.SortedKeys(next) {
		a := next[filename]
		if prev, ok := current[filename]; ok && a.Approved && prev.Approved && (a.Version == 0 || a.Version == prev.Version) {
			a.Version = prev.Version
			resolved[filename] = a
			continue
		}
		if !a.Approved {
			resolved[filename] = a
			continue
		}
		artifact, err := o.store.GetVersion(ctx, projectID, filename, a.Version)
		if err != nil {
			return nil, err
		}
		a.Version = artifact.Version
		if a.ApprovedAt.IsZero() {
			a.ApprovedAt = o.now()
		}
		if a.ApprovedBy == "" {
			a.ApprovedBy = actor
		}
		resolved[filename] = a
		pinned[filename] = artifact
	}

	for _, filename := range model.SortedKeys(pinned) {
		artifact := pinned[filename]
		warnings, err := o.changes.Baseline(ctx, projectID, filename, artifact.Content)
		if err != nil {
			return nil, err
		}
		for _, w := range warnings {
			o.logger.Warn("⚠️ %s: baselining %s: %s", projectID, filename, w.Message)
		}

		ev := eventlog.NewEvent(eventlog.KindArtifactApproved, projectID).
			With("document", filename).
			With("version", artifact.Version).
			With("digest", artifact.Digest)
		ev.Actor = resolved[filename].ApprovedBy
		o.record(ev)
		o.logger.Info("🎯 %s: %s v%d approved through context update", projectID, filename, artifact.Version)
	}
	return resolved, nil
}

// ApproveRequest approves one document version.
type ApproveRequest struct {
	ApprovedBy string `json:"approved_by" validate:"omitempty,max=128"`
	Version    int    `json:"version" validate:"gte=0"`
}

// ApproveResult is the recorded approval and any ledger warnings from baselining.
type ApproveResult struct {
	Approval model.Approval       `json:"approval"`
	Warnings []orcherrors.Warning `json:"warnings"`
}

// Approve records that a document version is approved and baselines its statements in the
// ledger. Version 0 approves the latest version.
func (o *Orchestrator) Approve(ctx context.Context, projectID, filename string, req ApproveRequest) (*ApproveResult, error) {
	if req.Version < 0 {
		return nil, orcherrors.New(orcherrors.CodeInvalidRequest, "version must be positive")
	}
	unlock, err := o.lock(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	artifact, err := o.store.GetVersion(ctx, projectID, filename, req.Version)
	if err != nil {
		return nil, err
	}
	pctx, err := o.store.GetContext(ctx, projectID)
	if err != nil {
		return nil, err
	}

	warnings, err := o.changes.Baseline(ctx, projectID, filename, artifact.Content)
	if err != nil {
		return nil, err
	}

	approval := model.Approval{
		Approved:   true,
		ApprovedAt: o.now(),
		ApprovedBy: req.ApprovedBy,
		Version:    artifact.Version,
	}
	pctx.Approvals[filename] = approval
	if err := o.store.PutContext(ctx, pctx); err != nil {
		return nil, err
	}

	ev := eventlog.NewEvent(eventlog.KindArtifactApproved, projectID).
		With("document", filename).
		With("version", artifact.Version).
		With("digest", artifact.Digest)
	ev.Actor = req.ApprovedBy
	o.record(ev)

	o.logger.Info("🎯 %s: %s v%d approved by %s", projectID, filename, artifact.Version, req.ApprovedBy)
	return &ApproveResult{Approval: approval, Warnings: nonNilWarnings(warnings)}, nil
}
