// Package phase owns the per-project lifecycle state machine: which phase changes are legal and
// what each phase must produce before a project may leave it.
package phase

import (
	"strings"

	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
)

// backEdges are the change-driven regressions. No other backward move is legal.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var backEdges = map[model.Phase]model.Phase{
	model.PhaseRequirements:   model.PhaseCharter,
	model.PhaseDesign:         model.PhaseRequirements,
	model.PhaseImplementation: model.PhaseDesign,
	model.PhaseTesting:        model.PhaseImplementation,
}

// requiredArtifacts maps a phase to the document that must be approved before leaving it.
//
//nolint:gochecknoglobals // Intentional package-level lookup table
var requiredArtifacts = map[model.Phase]string{
	model.PhaseCharter:        "ProjectCharter.md",
	model.PhaseRequirements:   "SRS.md",
	model.PhaseSpecifications: "Specifications.md",
	model.PhaseDesign:         "SDD.md",
	model.PhaseImplementation: "ImplementationPlan.md",
	model.PhaseTesting:        "TestPlan.md",
	model.PhaseDeployment:     "DeploymentGuide.md",
}

// Parse resolves a phase name case-insensitively.
func Parse(name string) (model.Phase, error) {
	trimmed := strings.TrimSpace(name)
	for _, p := range model.Phases {
		if strings.EqualFold(string(p), trimmed) {
			return p, nil
		}
	}
	return "", orcherrors.New(orcherrors.CodeUnknownPhase, "unknown phase %q", name)
}

// Next returns the forward successor of p, or false for the terminal phase.
func Next(p model.Phase) (model.Phase, bool) {
	i := p.Index()
	if i < 0 || i+1 >= len(model.Phases) {
		return "", false
	}
	return model.Phases[i+1], true
}

// IsForward reports whether from -> to is the single forward step.
func IsForward(from, to model.Phase) bool {
	next, ok := Next(from)
	return ok && next == to
}

// IsValidTransition reports whether from -> to is the forward step or a regression edge.
func IsValidTransition(from, to model.Phase) bool {
	if IsForward(from, to) {
		return true
	}
	back, ok := backEdges[from]
	return ok && back == to
}

// AllowedTargets lists the legal targets from p.
func AllowedTargets(p model.Phase) []model.Phase {
	var out []model.Phase
	if next, ok := Next(p); ok {
		out = append(out, next)
	}
	if back, ok := backEdges[p]; ok {
		out = append(out, back)
	}
	return out
}

// RequiredArtifact returns the document a phase must have approved before advancing.
func RequiredArtifact(p model.Phase) (string, bool) {
	name, ok := requiredArtifacts[p]
	return name, ok
}

// CheckPrerequisites verifies the current phase's exit criteria against the project context.
// Requirements is also satisfied by minAnswers captured requirement statements.
func CheckPrerequisites(current model.Phase, pctx *model.ProjectContext, minAnswers int) error {
	artifact, ok := RequiredArtifact(current)
	if !ok {
		return nil
	}
	if pctx != nil && pctx.IsApproved(artifact) {
		return nil
	}
	if current == model.PhaseRequirements && minAnswers > 0 && pctx != nil && pctx.AnswerCount() >= minAnswers {
		return nil
	}
	return orcherrors.New(orcherrors.CodePrerequisiteNotMet,
		"%s must be approved before leaving %s", artifact, current).
		WithHint("complete and approve " + artifact + " before advancing")
}
