// Package model defines the data shared by the orchestrator, its stores and its ledgers.
package model

// Phase is one stage of the fixed SDLC sequence a project moves through.
type Phase string

const (
	PhaseInitialization Phase = "Initialization"
	PhaseCharter        Phase = "Charter"
	PhaseRequirements   Phase = "Requirements"
	PhaseSpecifications Phase = "Specifications"
	PhaseDesign         Phase = "Design"
	PhaseImplementation Phase = "Implementation"
	PhaseTesting        Phase = "Testing"
	PhaseDeployment     Phase = "Deployment"
	PhaseMaintenance    Phase = "Maintenance"
)

// Phases lists every phase in lifecycle order.
//
//nolint:gochecknoglobals // Fixed lifecycle ordering
var Phases = []Phase{
	PhaseInitialization,
	PhaseCharter,
	PhaseRequirements,
	PhaseSpecifications,
	PhaseDesign,
	PhaseImplementation,
	PhaseTesting,
	PhaseDeployment,
	PhaseMaintenance,
}

func (p Phase) String() string {
	return string(p)
}

// Index returns the position of p in the lifecycle, or -1 when p is not a phase.
func (p Phase) Index() int {
	for i, candidate := range Phases {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is one of the lifecycle phases.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Terminal reports whether p has no forward successor.
func (p Phase) Terminal() bool {
	return p == PhaseMaintenance
}
