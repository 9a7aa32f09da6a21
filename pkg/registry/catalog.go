package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"opnxt/pkg/llm"
)

// DefaultCatalog returns the built-in agents. Initialization has no agent: projects leave it
// by an explicit Advance.
func DefaultCatalog() []AgentDescriptor {
	return []AgentDescriptor{
		{
			Kind:           KindCharter,
			ID:             "charter-agent",
			OutputFile:     "ProjectCharter.md",
			RequiredInputs: []string{"project goals"},
			Sections:       []string{"Purpose", "Objectives", "Scope", "Stakeholders", "Success Criteria", "Risks"},
			Instructions:   "Draft a project charter from the conversation so far.",
		},
		{
			Kind:           KindRequirements,
			ID:             "requirements-agent",
			OutputFile:     "SRS.md",
			RequiredInputs: []string{"ProjectCharter.md"},
			Sections:       []string{"Introduction", "Functional Requirements", "Non-Functional Requirements", "Constraints"},
			Instructions: "Draft a software requirements specification. List each requirement as " +
				"`- ID: statement (implements: ...; tested_by: ...)` with IDs such as FR-001 and NFR-001.",
		},
		{
			Kind:           KindSpecifications,
			ID:             "specifications-agent",
			OutputFile:     "Specifications.md",
			RequiredInputs: []string{"SRS.md"},
			Sections:       []string{"Overview", "Interfaces", "Data", "Acceptance Criteria"},
			Instructions:   "Refine the approved requirements into detailed specifications.",
		},
		{
			Kind:           KindDesign,
			ID:             "design-agent",
			OutputFile:     "SDD.md",
			RequiredInputs: []string{"SRS.md", "Specifications.md"},
			Sections:       []string{"Architecture", "Components", "Data Model", "Interfaces", "Traceability"},
			Instructions:   "Draft a software design description. Reference the requirement IDs each component implements.",
		},
		{
			Kind:           KindImplementation,
			ID:             "implementation-agent",
			OutputFile:     "ImplementationPlan.md",
			RequiredInputs: []string{"SDD.md"},
			Sections:       []string{"Work Breakdown", "Milestones", "Dependencies"},
			Instructions:   "Draft an implementation plan for the approved design.",
		},
		{
			Kind:           KindTesting,
			ID:             "testing-agent",
			OutputFile:     "TestPlan.md",
			RequiredInputs: []string{"SRS.md", "SDD.md"},
			Sections:       []string{"Strategy", "Test Cases", "Coverage"},
			Instructions:   "Draft a test plan. Give each test case an ID such as TC-001 and the requirements it verifies.",
		},
		{
			Kind:           KindDeployment,
			ID:             "deployment-agent",
			OutputFile:     "DeploymentGuide.md",
			RequiredInputs: []string{"ImplementationPlan.md"},
			Sections:       []string{"Environments", "Procedure", "Rollback"},
			Instructions:   "Draft a deployment guide.",
		},
		{
			Kind:           KindMaintenance,
			ID:             "maintenance-agent",
			OutputFile:     "MaintenancePlan.md",
			RequiredInputs: []string{"DeploymentGuide.md"},
			Sections:       []string{"Monitoring", "Support", "Change Management"},
			Instructions:   "Draft a maintenance plan.",
		},
	}
}

// catalogFile is the YAML layout of an agent catalog override.
type catalogFile struct {
	Defaults llm.Profile       `yaml:"defaults"`
	Agents   []AgentDescriptor `yaml:"agents"`
}

// LoadCatalog reads descriptors from a YAML file and merges them over DefaultCatalog by kind.
// The file's defaults profile applies to every agent that does not set its own.
func LoadCatalog(path string) ([]AgentDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog is LoadCatalog for in-memory YAML.
func ParseCatalog(data []byte) ([]AgentDescriptor, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agent catalog: %w", err)
	}

	catalog := DefaultCatalog()
	index := make(map[Kind]int, len(catalog))
	for i := range catalog {
		index[catalog[i].Kind] = i
	}

	for i := range file.Agents {
		override := file.Agents[i]
		pos, ok := index[override.Kind]
		if !ok {
			return nil, fmt.Errorf("agent catalog entry %d: unknown kind %q", i, override.Kind)
		}
		merged := catalog[pos]
		if override.ID != "" {
			merged.ID = override.ID
		}
		if override.OutputFile != "" {
			merged.OutputFile = override.OutputFile
		}
		if override.Instructions != "" {
			merged.Instructions = override.Instructions
		}
		if len(override.Sections) > 0 {
			merged.Sections = override.Sections
		}
		if len(override.RequiredInputs) > 0 {
			merged.RequiredInputs = override.RequiredInputs
		}
		if override.Profile != (llm.Profile{}) {
			merged.Profile = override.Profile
		}
		catalog[pos] = merged
	}

	for i := range catalog {
		if catalog[i].Profile == (llm.Profile{}) {
			catalog[i].Profile = file.Defaults
		}
		if err := catalog[i].Validate(); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}
