package changes

import (
	"context"
	"fmt"

	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
)

// Finding is the classification of one requirement in new content.
type Finding struct {
	Previous    *Requirement     `json:"-"`
	Requirement Requirement      `json:"-"`
	ID          string           `json:"requirement_id"`
	Document    string           `json:"document,omitempty"`
	Type        model.ChangeType `json:"change_type"`
	Severity    model.Severity   `json:"severity,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Version     int              `json:"baseline_version,omitempty"`
}

// Removed reports whether the finding is an approved statement missing from new content.
func (f Finding) Removed() bool {
	return f.Previous != nil && f.Requirement.ID == ""
}

// Classify compares a baselined statement with its new form. ok is false when nothing changed.
func Classify(prev, next Requirement) (changeType model.ChangeType, severity model.Severity, reason string, ok bool) {
	switch {
	case !SameLinks(prev.Implements, next.Implements):
		return model.ChangeConflict, model.SeverityBreaking, "implements links changed", true
	case !SameLinks(prev.TestedBy, next.TestedBy):
		return model.ChangeConflict, model.SeverityBreaking, "tested_by links changed", true
	case Contradicts(prev.Text, next.Text):
		return model.ChangeConflict, model.SeverityBreaking, "contradicts the approved statement", true
	case !SameWording(prev.Text, next.Text):
		return model.ChangeRefinement, model.SeverityNonBreaking, "wording refined", true
	default:
		return "", "", "", false
	}
}

type baseline struct {
	statements map[string]Requirement
	version    int
}

// detection carries per-call caches.
type detection struct {
	engine    *Engine
	pctx      *model.ProjectContext
	baselines map[string]*baseline
	projectID string
}

// baseline loads the most recently approved version of doc, or nil when doc has none.
func (d *detection) baseline(ctx context.Context, doc string) (*baseline, error) {
	if b, ok := d.baselines[doc]; ok {
		return b, nil
	}
	approval, ok := d.pctx.Approvals[doc]
	if !ok || !approval.Approved {
		d.baselines[doc] = nil
		return nil, nil
	}
	artifact, err := d.engine.store.GetVersion(ctx, d.projectID, doc, approval.Version)
	if orcherrors.Is(err, orcherrors.CodeNotFound) {
		d.baselines[doc] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b := &baseline{statements: ByID(Parse(artifact.Content)), version: artifact.Version}
	d.baselines[doc] = b
	return b, nil
}

// Detect classifies every statement in content, written to filename, against the approved
// version of the document that owns each id.
func (e *Engine) Detect(ctx context.Context, projectID string, pctx *model.ProjectContext, filename, content string) ([]Finding, []orcherrors.Warning, error) {
	d := &detection{engine: e, pctx: pctx, projectID: projectID, baselines: make(map[string]*baseline)}
	var (
		findings []Finding
		warnings []orcherrors.Warning
	)

	reqs := Parse(content)
	present := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		present[r.ID] = true

		rec, err := e.ledger.Get(ctx, projectID, r.ID)
		if orcherrors.Is(err, orcherrors.CodeNotFound) {
			findings = append(findings, Finding{ID: r.ID, Requirement: r, Document: filename, Type: model.ChangeNewInfo})
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if rec.Status == model.StatusDeprecated {
			warnings = append(warnings, orcherrors.Warning{
				Code:    orcherrors.CodeDeprecatedID,
				Message: fmt.Sprintf("%s is deprecated (%s) and was not updated", r.ID, rec.DeprecationNote()),
				IDs:     []string{r.ID},
			})
			continue
		}

		owner := rec.SourceDocument
		if owner == "" {
			owner = filename
		}
		b, err := d.baseline(ctx, owner)
		if err != nil {
			return nil, nil, err
		}
		if b == nil {
			continue
		}
		prev, ok := b.statements[r.ID]
		if !ok {
			continue
		}
		changeType, severity, reason, changed := Classify(prev, r)
		if !changed {
			continue
		}
		p := prev
		findings = append(findings, Finding{
			ID: r.ID, Requirement: r, Previous: &p, Document: owner, Version: b.version,
			Type: changeType, Severity: severity, Reason: reason,
		})
	}

	// Approved statements the regenerated document no longer carries.
	b, err := d.baseline(ctx, filename)
	if err != nil {
		return nil, nil, err
	}
	if b != nil {
		for _, prev := range sortedStatements(b.statements) {
			if present[prev.ID] {
				continue
			}
			rec, err := e.ledger.Get(ctx, projectID, prev.ID)
			if err == nil && rec.Status == model.StatusDeprecated {
				continue
			}
			p := prev
			findings = append(findings, Finding{
				ID: prev.ID, Previous: &p, Document: filename, Version: b.version,
				Type: model.ChangeConflict, Severity: model.SeverityBreaking, Reason: "approved statement removed",
			})
		}
	}
	return findings, warnings, nil
}

func sortedStatements(m map[string]Requirement) []Requirement {
	out := make([]Requirement, 0, len(m))
	for _, id := range model.SortedKeys(m) {
		out = append(out, m[id])
	}
	return out
}
