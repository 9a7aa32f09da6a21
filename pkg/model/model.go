package model

import (
	"sort"
	"time"
)

// ChangePolicy controls what happens to patch plans produced by change detection.
type ChangePolicy string

const (
	PolicyAuto   ChangePolicy = "auto"
	PolicyReview ChangePolicy = "review"
	PolicyNone   ChangePolicy = "none"
)

// Valid reports whether the policy is known.
func (p ChangePolicy) Valid() bool {
	switch p {
	case PolicyAuto, PolicyReview, PolicyNone:
		return true
	default:
		return false
	}
}

// Project is the unit the orchestrator drives through the lifecycle.
type Project struct {
	CreatedAt    time.Time         `json:"created_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ID           string            `json:"project_id"`
	Name         string            `json:"name"`
	CurrentPhase Phase             `json:"current_phase"`
	ChangePolicy ChangePolicy      `json:"change_policy"`
}

// Transition is one recorded phase change.
type Transition struct {
	Timestamp time.Time `json:"timestamp"`
	ProjectID string    `json:"project_id"`
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	Actor     string    `json:"actor"`
}

// Approval records whether an artifact has been approved and which version.
type Approval struct {
	ApprovedAt time.Time `json:"approved_at"`
	ApprovedBy string    `json:"approved_by,omitempty"`
	Version    int       `json:"version,omitempty"`
	Approved   bool      `json:"approved"`
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry of the append-only conversation history.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	RequestID string    `json:"request_id,omitempty"`
}

// HistoryDigest is a derived summary of the oldest history entries.
// It is stored beside the log; the log itself is never shortened.
type HistoryDigest struct {
	CreatedAt     time.Time `json:"created_at"`
	Summary       string    `json:"summary"`
	Marker        string    `json:"marker"`
	CoversThrough int       `json:"covers_through"` // number of leading history entries summarized
}

// ProjectContext is the accumulated knowledge for one project.
type ProjectContext struct {
	UpdatedAt           time.Time           `json:"updated_at"`
	Answers             map[string][]string `json:"answers"`
	Summaries           map[string]string   `json:"summaries"`
	Approvals           map[string]Approval `json:"approvals"`
	HistoryDigest       *HistoryDigest      `json:"history_digest,omitempty"`
	ProjectID           string              `json:"project_id"`
	ConversationHistory []Message           `json:"conversation_history"`
	Revision            int64               `json:"revision"`
}

// NewProjectContext returns an empty context for projectID.
func NewProjectContext(projectID string) *ProjectContext {
	return &ProjectContext{
		ProjectID:           projectID,
		Answers:             make(map[string][]string),
		Summaries:           make(map[string]string),
		Approvals:           make(map[string]Approval),
		ConversationHistory: make([]Message, 0),
	}
}

// Clone returns a deep copy so callers can stage mutations without touching the original.
func (c *ProjectContext) Clone() *ProjectContext {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Answers = make(map[string][]string, len(c.Answers))
	for k, v := range c.Answers {
		cp.Answers[k] = append([]string(nil), v...)
	}
	cp.Summaries = make(map[string]string, len(c.Summaries))
	for k, v := range c.Summaries {
		cp.Summaries[k] = v
	}
	cp.Approvals = make(map[string]Approval, len(c.Approvals))
	for k, v := range c.Approvals {
		cp.Approvals[k] = v
	}
	cp.ConversationHistory = append(make([]Message, 0, len(c.ConversationHistory)), c.ConversationHistory...)
	if c.HistoryDigest != nil {
		digest := *c.HistoryDigest
		cp.HistoryDigest = &digest
	}
	return &cp
}

// AnswerCount returns the total number of captured answer statements.
func (c *ProjectContext) AnswerCount() int {
	n := 0
	for _, statements := range c.Answers {
		n += len(statements)
	}
	return n
}

// HasRequest reports whether history already contains an entry for requestID.
func (c *ProjectContext) HasRequest(requestID string) bool {
	if requestID == "" {
		return false
	}
	for i := range c.ConversationHistory {
		if c.ConversationHistory[i].RequestID == requestID {
			return true
		}
	}
	return false
}

// IsApproved reports whether filename is approved.
func (c *ProjectContext) IsApproved(filename string) bool {
	a, ok := c.Approvals[filename]
	return ok && a.Approved
}

// VersionMeta describes one artifact version without its content.
type VersionMeta struct {
	CreatedAt time.Time `json:"created_at"`
	ProjectID string    `json:"project_id"`
	Filename  string    `json:"filename"`
	CreatedBy string    `json:"created_by"`
	Digest    string    `json:"digest"`
	RequestID string    `json:"request_id,omitempty"`
	Version   int       `json:"version"`
}

// Artifact is one generated, versioned document.
type Artifact struct {
	VersionMeta
	Content string `json:"content"`
}

// RequirementStatus is the lifecycle status of a requirement.
type RequirementStatus string

const (
	StatusDraft       RequirementStatus = "draft"
	StatusApproved    RequirementStatus = "approved"
	StatusImplemented RequirementStatus = "implemented"
	StatusDeprecated  RequirementStatus = "deprecated"
)

// RequirementRecord is a traceable requirement and its links.
type RequirementRecord struct {
	UpdatedAt      time.Time         `json:"updated_at"`
	ProjectID      string            `json:"project_id"`
	ID             string            `json:"requirement_id"`
	SourceDocument string            `json:"source_document"`
	Statement      string            `json:"statement"`
	SupersededBy   string            `json:"superseded_by,omitempty"`
	RemovedByPlan  string            `json:"removed_by_plan,omitempty"`
	Status         RequirementStatus `json:"status"`
	Implements     []string          `json:"implements"`
	TestedBy       []string          `json:"tested_by"`
}

// DeprecationNote says what retired a deprecated record: its replacement id or the patch plan
// that removed its statement.
func (r RequirementRecord) DeprecationNote() string {
	switch {
	case r.SupersededBy != "":
		return "superseded by " + r.SupersededBy
	case r.RemovedByPlan != "":
		return "removed by patch plan " + r.RemovedByPlan
	default:
		return "deprecated"
	}
}

// Clone returns a deep copy of the record.
func (r RequirementRecord) Clone() RequirementRecord {
	r.Implements = append([]string(nil), r.Implements...)
	r.TestedBy = append([]string(nil), r.TestedBy...)
	return r
}

// ChangeType classifies new input against baselined content.
type ChangeType string

const (
	ChangeNewInfo    ChangeType = "new_info"
	ChangeRefinement ChangeType = "refinement"
	ChangeConflict   ChangeType = "conflict"
)

// Severity of a classified change.
type Severity string

const (
	SeverityNonBreaking Severity = "non_breaking"
	SeverityBreaking    Severity = "breaking_change"
)

// PlanStatus is the disposition of a patch plan.
type PlanStatus string

const (
	PlanPending  PlanStatus = "pending"
	PlanApplied  PlanStatus = "applied"
	PlanLogged   PlanStatus = "logged"
	PlanRejected PlanStatus = "rejected"
)

// SourceRef points at the baselined content a plan edits.
type SourceRef struct {
	Document      string `json:"document"`
	Section       string `json:"section,omitempty"`
	RequirementID string `json:"requirement_id"`
}

// Statement is a requirement line with its links.
type Statement struct {
	Text       string   `json:"text"`
	Implements []string `json:"implements,omitempty"`
	TestedBy   []string `json:"tested_by,omitempty"`
}

// PatchPlan is a proposed, classified edit to baselined content.
type PatchPlan struct {
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ProposedEdit Statement  `json:"proposed_edit"`
	Previous     Statement  `json:"previous"`
	SourceRef    SourceRef  `json:"source_ref"`
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	RequestID    string     `json:"request_id,omitempty"`
	ChangeType   ChangeType `json:"change_type"`
	Severity     Severity   `json:"severity"`
	Status       PlanStatus `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	ImpactedRefs []string   `json:"impacted_refs"`
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
