// Package registry binds each lifecycle phase to the agent that drafts its document.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"opnxt/pkg/llm"
	"opnxt/pkg/logx"
	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
)

// Kind is the closed set of agent kinds. Each kind serves exactly one phase.
type Kind string

const (
	KindCharter        Kind = "charter"
	KindRequirements   Kind = "requirements"
	KindSpecifications Kind = "specifications"
	KindDesign         Kind = "design"
	KindImplementation Kind = "implementation"
	KindTesting        Kind = "testing"
	KindDeployment     Kind = "deployment"
	KindMaintenance    Kind = "maintenance"
)

//nolint:gochecknoglobals // Fixed kind-to-phase table
var kindPhases = map[Kind]model.Phase{
	KindCharter:        model.PhaseCharter,
	KindRequirements:   model.PhaseRequirements,
	KindSpecifications: model.PhaseSpecifications,
	KindDesign:         model.PhaseDesign,
	KindImplementation: model.PhaseImplementation,
	KindTesting:        model.PhaseTesting,
	KindDeployment:     model.PhaseDeployment,
	KindMaintenance:    model.PhaseMaintenance,
}

// Phase returns the phase this kind serves.
func (k Kind) Phase() (model.Phase, bool) {
	p, ok := kindPhases[k]
	return p, ok
}

// KindFor returns the kind serving phase p.
func KindFor(p model.Phase) (Kind, bool) {
	for k, phase := range kindPhases {
		if phase == p {
			return k, true
		}
	}
	return "", false
}

// AgentDescriptor describes how an agent drafts its phase document.
type AgentDescriptor struct {
	Profile        llm.Profile `json:"profile" yaml:"profile"`
	Kind           Kind        `json:"kind" yaml:"kind"`
	ID             string      `json:"id" yaml:"id"`
	Phase          model.Phase `json:"phase" yaml:"phase"`
	OutputFile     string      `json:"output_file" yaml:"output_file"`
	Instructions   string      `json:"instructions" yaml:"instructions"`
	RequiredInputs []string    `json:"required_inputs" yaml:"required_inputs"`
	Sections       []string    `json:"sections" yaml:"sections"`
}

// Clone returns a deep copy.
func (d AgentDescriptor) Clone() AgentDescriptor {
	d.RequiredInputs = append([]string(nil), d.RequiredInputs...)
	d.Sections = append([]string(nil), d.Sections...)
	return d
}

// Validate checks that the descriptor is internally consistent.
func (d AgentDescriptor) Validate() error {
	phase, ok := d.Kind.Phase()
	if !ok {
		return fmt.Errorf("unknown agent kind %q", d.Kind)
	}
	if d.Phase != "" && d.Phase != phase {
		return fmt.Errorf("agent kind %s serves %s, not %s", d.Kind, phase, d.Phase)
	}
	if d.ID == "" {
		return fmt.Errorf("agent %s has no id", d.Kind)
	}
	if d.OutputFile == "" {
		return fmt.Errorf("agent %s has no output file", d.ID)
	}
	if len(d.Sections) == 0 {
		return fmt.Errorf("agent %s declares no sections", d.ID)
	}
	return nil
}

// Registry maps phases to agent descriptors. Readers get snapshots, so a concurrent
// Register never changes a descriptor a pipeline run is already using.
type Registry struct {
	bindings map[model.Phase]AgentDescriptor
	logger   *logx.Logger
	mu       sync.RWMutex
}

// New creates a registry from an initial set of descriptors.
func New(descriptors ...AgentDescriptor) (*Registry, error) {
	r := &Registry{
		bindings: make(map[model.Phase]AgentDescriptor),
		logger:   logx.NewLogger("registry"),
	}
	for i := range descriptors {
		if err := r.register(descriptors[i]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Resolve returns a snapshot of the descriptor bound to p.
func (r *Registry) Resolve(p model.Phase) (AgentDescriptor, error) {
	if !p.Valid() {
		return AgentDescriptor{}, orcherrors.New(orcherrors.CodeUnknownPhase, "unknown phase %q", p)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.bindings[p]
	if !ok {
		return AgentDescriptor{}, orcherrors.New(orcherrors.CodeUnknownPhase, "no agent is bound to phase %s", p)
	}
	return d.Clone(), nil
}

// Register binds descriptor to phase p, replacing any previous binding.
func (r *Registry) Register(p model.Phase, descriptor AgentDescriptor) error {
	if !p.Valid() {
		return orcherrors.New(orcherrors.CodeUnknownPhase, "unknown phase %q", p)
	}
	if descriptor.Phase == "" {
		descriptor.Phase = p
	}
	if descriptor.Phase != p {
		return orcherrors.New(orcherrors.CodeInvalidRequest, "descriptor for %s cannot be bound to %s", descriptor.Phase, p)
	}
	if err := r.register(descriptor); err != nil {
		return orcherrors.Wrap(orcherrors.CodeInvalidRequest, err, "invalid agent descriptor")
	}
	return nil
}

func (r *Registry) register(d AgentDescriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	phase, _ := d.Kind.Phase()
	d.Phase = phase
	d = d.Clone()

	r.mu.Lock()
	_, replaced := r.bindings[phase]
	r.bindings[phase] = d
	r.mu.Unlock()

	if replaced {
		r.logger.Info("🔁 Rebound %s to agent %s", phase, d.ID)
	} else {
		r.logger.Debug("Bound %s to agent %s", phase, d.ID)
	}
	return nil
}

// Snapshot lists every binding in lifecycle order.
func (r *Registry) Snapshot() []AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentDescriptor, 0, len(r.bindings))
	for _, d := range r.bindings {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phase.Index() < out[j].Phase.Index() })
	return out
}
