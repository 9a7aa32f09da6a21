// Package ledger maintains requirement traceability: which records implement which, what tests
// them, and what a change to one record reaches.
package ledger

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"opnxt/pkg/logx"
	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
	"opnxt/pkg/store"
)

// DefaultMaxDepth bounds impact traversal when no depth is configured.
const DefaultMaxDepth = 8

//nolint:gochecknoglobals // Compiled once
var idPattern = regexp.MustCompile(`^[A-Z]{2,5}-\d{3,}$`)

// ValidID reports whether id has the PREFIX-NNN form.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Prefix returns the document-type prefix of id ("FR" for "FR-003").
func Prefix(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return ""
}

// Ledger is the traceability service over a requirement store.
type Ledger struct {
	store    store.RequirementStore
	logger   *logx.Logger
	now      func() time.Time
	maxDepth int
}

// New creates a ledger. maxDepth <= 0 selects DefaultMaxDepth.
func New(s store.RequirementStore, maxDepth int) *Ledger {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Ledger{
		store:    s,
		logger:   logx.NewLogger("ledger"),
		now:      func() time.Time { return time.Now().UTC() },
		maxDepth: maxDepth,
	}
}

// Get returns one record.
func (l *Ledger) Get(ctx context.Context, projectID, id string) (*model.RequirementRecord, error) {
	return l.store.GetRequirement(ctx, projectID, id)
}

// List returns every record of a project.
func (l *Ledger) List(ctx context.Context, projectID string) ([]model.RequirementRecord, error) {
	return l.store.ListRequirements(ctx, projectID)
}

// Upsert writes a record. A deprecated id can never be brought back to life.
func (l *Ledger) Upsert(ctx context.Context, rec model.RequirementRecord) error {
	if !ValidID(rec.ID) {
		return orcherrors.New(orcherrors.CodeInvalidRequest, "requirement id %q must look like FR-001", rec.ID)
	}
	if rec.Status == "" {
		rec.Status = model.StatusDraft
	}
	existing, err := l.lookup(ctx, rec.ProjectID, rec.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == model.StatusDeprecated && rec.Status != model.StatusDeprecated {
		return orcherrors.New(orcherrors.CodeDeprecatedID, "%s is %s", rec.ID, existing.DeprecationNote())
	}
	if rec.Status == model.StatusDeprecated && rec.SupersededBy == "" && rec.RemovedByPlan == "" && existing != nil {
		rec.SupersededBy = existing.SupersededBy
		rec.RemovedByPlan = existing.RemovedByPlan
	}
	rec.UpdatedAt = l.now()
	return l.store.PutRequirement(ctx, rec)
}

// Link replaces the link sets of id. Repeating the same call is a no-op. Every referenced id
// must already be in the ledger.
func (l *Ledger) Link(ctx context.Context, projectID, id string, implements, testedBy []string) error {
	rec, err := l.store.GetRequirement(ctx, projectID, id)
	if err != nil {
		if orcherrors.Is(err, orcherrors.CodeNotFound) {
			return orcherrors.New(orcherrors.CodeUnknownReference, "requirement %s is not in the ledger", id)
		}
		return err
	}
	unknown, err := l.unknownRefs(ctx, projectID, append(append([]string{}, implements...), testedBy...))
	if err != nil {
		return err
	}
	if len(unknown) > 0 {
		return orcherrors.New(orcherrors.CodeUnknownReference, "%s references unknown ids: %s", id, strings.Join(unknown, ", ")).
			WithHint("create " + strings.Join(unknown, ", ") + " before linking to it")
	}
	return l.setLinks(ctx, rec, implements, testedBy)
}

// LinkKnown links only the references that resolve and returns the ones that do not.
// The pipeline uses it so a draft citing a test that does not exist yet still records its
// other links.
func (l *Ledger) LinkKnown(ctx context.Context, projectID, id string, implements, testedBy []string) ([]string, error) {
	rec, err := l.store.GetRequirement(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	unknown, err := l.unknownRefs(ctx, projectID, append(append([]string{}, implements...), testedBy...))
	if err != nil {
		return nil, err
	}
	missing := make(map[string]bool, len(unknown))
	for _, u := range unknown {
		missing[u] = true
	}
	keep := func(ids []string) []string {
		out := make([]string, 0, len(ids))
		for _, ref := range ids {
			if !missing[ref] {
				out = append(out, ref)
			}
		}
		return out
	}
	return unknown, l.setLinks(ctx, rec, keep(implements), keep(testedBy))
}

func (l *Ledger) setLinks(ctx context.Context, rec *model.RequirementRecord, implements, testedBy []string) error {
	implements, testedBy = dedupe(implements), dedupe(testedBy)
	if equalSets(rec.Implements, implements) && equalSets(rec.TestedBy, testedBy) {
		return nil
	}
	rec.Implements = implements
	rec.TestedBy = testedBy
	rec.UpdatedAt = l.now()
	return l.store.PutRequirement(ctx, *rec)
}

// Supersede deprecates oldID in favour of newID. Both must exist.
func (l *Ledger) Supersede(ctx context.Context, projectID, oldID, newID string) error {
	old, err := l.store.GetRequirement(ctx, projectID, oldID)
	if err != nil {
		return err
	}
	if _, err := l.store.GetRequirement(ctx, projectID, newID); err != nil {
		if orcherrors.Is(err, orcherrors.CodeNotFound) {
			return orcherrors.New(orcherrors.CodeUnknownReference, "replacement %s is not in the ledger", newID)
		}
		return err
	}
	old.Status = model.StatusDeprecated
	old.SupersededBy = newID
	old.UpdatedAt = l.now()
	l.logger.Info("📦 %s superseded by %s in project %s", oldID, newID, projectID)
	return l.store.PutRequirement(ctx, *old)
}

// MarkDependentsDraft sends every record that directly implements id back to draft and
// returns their ids.
func (l *Ledger) MarkDependentsDraft(ctx context.Context, projectID, id string) ([]string, error) {
	records, err := l.store.ListRequirements(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var changed []string
	for i := range records {
		rec := records[i]
		if rec.Status == model.StatusDeprecated || rec.Status == model.StatusDraft || !contains(rec.Implements, id) {
			continue
		}
		rec.Status = model.StatusDraft
		rec.UpdatedAt = l.now()
		if err := l.store.PutRequirement(ctx, rec); err != nil {
			return changed, err
		}
		changed = append(changed, rec.ID)
	}
	return changed, nil
}

func (l *Ledger) lookup(ctx context.Context, projectID, id string) (*model.RequirementRecord, error) {
	rec, err := l.store.GetRequirement(ctx, projectID, id)
	if orcherrors.Is(err, orcherrors.CodeNotFound) {
		return nil, nil
	}
	return rec, err
}

func (l *Ledger) unknownRefs(ctx context.Context, projectID string, ids []string) ([]string, error) {
	var unknown []string
	for _, ref := range dedupe(ids) {
		rec, err := l.lookup(ctx, projectID, ref)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			unknown = append(unknown, ref)
		}
	}
	return unknown, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func equalSets(a, b []string) bool {
	a, b = dedupe(a), dedupe(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
