package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
)

// Impact is the reach of a change to one requirement.
type Impact struct {
	depth     map[string]int
	byID      map[string]*model.RequirementRecord
	Root      string               `json:"requirement_id"`
	Direct    []string             `json:"direct"`
	Indirect  []string             `json:"indirect"`
	Tests     []string             `json:"tests"`
	Documents []string             `json:"documents"`
	Warnings  []orcherrors.Warning `json:"warnings,omitempty"`
}

// ImpactKind classifies a flattened impact entry.
type ImpactKind string

const (
	ImpactRequirement ImpactKind = "requirement"
	ImpactTest        ImpactKind = "test"
	ImpactDocument    ImpactKind = "document"
)

// ImpactEntry is one flattened impact with a confidence in [0.25, 1].
type ImpactEntry struct {
	Kind       ImpactKind `json:"kind"`
	ID         string     `json:"id"`
	Confidence float64    `json:"confidence"`
}

// Confidence for an item first reached at depth hops from the changed record.
func Confidence(depth int) float64 {
	c := 1.0 - 0.25*float64(depth-1)
	if c < 0.25 {
		return 0.25
	}
	return c
}

// dependents indexes the reverse implements graph: id -> records implementing it.
func dependents(records []model.RequirementRecord) map[string][]string {
	rev := make(map[string][]string)
	for i := range records {
		for _, target := range records[i].Implements {
			rev[target] = append(rev[target], records[i].ID)
		}
	}
	for k := range rev {
		sort.Strings(rev[k])
	}
	return rev
}

// ImpactOf walks the reverse implements graph breadth-first from id, up to the configured
// depth. Cycles never stop the walk; their members are reported once as a warning.
func (l *Ledger) ImpactOf(ctx context.Context, projectID, id string) (*Impact, error) {
	records, err := l.store.ListRequirements(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return l.walk(projectID, records, id)
}

func (l *Ledger) walk(projectID string, records []model.RequirementRecord, id string) (*Impact, error) {
	byID := make(map[string]*model.RequirementRecord, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}
	if _, ok := byID[id]; !ok {
		return nil, orcherrors.New(orcherrors.CodeUnknownReference, "requirement %s is not in the ledger", id)
	}
	rev := dependents(records)

	impact := &Impact{Root: id, depth: map[string]int{id: 0}}
	queue := []string{id}
	truncated := false
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		depth := impact.depth[current]
		for _, dep := range rev[current] {
			if _, seen := impact.depth[dep]; seen {
				continue
			}
			if depth+1 > l.maxDepth {
				truncated = true
				continue
			}
			impact.depth[dep] = depth + 1
			if depth == 0 {
				impact.Direct = append(impact.Direct, dep)
			} else {
				impact.Indirect = append(impact.Indirect, dep)
			}
			queue = append(queue, dep)
		}
	}
	if truncated {
		l.logger.Warn("⚠️ impact of %s truncated at depth %d", id, l.maxDepth)
	}

	if cycle := findCycle(id, rev, l.maxDepth); len(cycle) > 0 {
		w := orcherrors.Warning{
			Code:    orcherrors.CodeDataIntegrityWarning,
			Message: fmt.Sprintf("implements cycle detected: %s", strings.Join(cycle, ", ")),
			IDs:     cycle,
		}
		impact.Warnings = append(impact.Warnings, w)
		l.logger.Warn("⚠️ project %s: %s", projectID, w.Message)
	}

	tests := make(map[string]bool)
	docs := make(map[string]bool)
	for member := range impact.depth {
		rec := byID[member]
		for _, tc := range rec.TestedBy {
			tests[tc] = true
		}
		if member != id && rec.SourceDocument != "" {
			docs[rec.SourceDocument] = true
		}
	}
	impact.Tests = model.SortedKeys(tests)
	impact.Documents = model.SortedKeys(docs)
	impact.byID = byID
	return impact, nil
}

// findCycle returns the sorted members of every cycle reachable from start, found with the
// visiting/visited depth-first walk.
func findCycle(start string, rev map[string][]string, maxDepth int) []string {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	inCycle := make(map[string]bool)
	var stack []string

	var visit func(id string, depth int)
	visit = func(id string, depth int) {
		if visiting[id] {
			for i := len(stack) - 1; i >= 0; i-- {
				inCycle[stack[i]] = true
				if stack[i] == id {
					break
				}
			}
			return
		}
		if visited[id] || depth > maxDepth+1 {
			return
		}
		visiting[id] = true
		stack = append(stack, id)
		for _, next := range rev[id] {
			visit(next, depth+1)
		}
		stack = stack[:len(stack)-1]
		visiting[id] = false
		visited[id] = true
	}
	visit(start, 0)
	return model.SortedKeys(inCycle)
}

// Impacts flattens the impact of several ids into entries, keeping the highest confidence
// seen for each item. Tests of a changed record itself get full confidence.
func (l *Ledger) Impacts(ctx context.Context, projectID string, ids []string) ([]ImpactEntry, []orcherrors.Warning, error) {
	type key struct {
		kind ImpactKind
		id   string
	}
	best := make(map[key]float64)
	add := func(kind ImpactKind, id string, c float64) {
		k := key{kind, id}
		if c > best[k] {
			best[k] = c
		}
	}
	var warnings []orcherrors.Warning
	seenWarning := make(map[string]bool)

	records, err := l.store.ListRequirements(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range dedupe(ids) {
		impact, err := l.walk(projectID, records, id)
		if err != nil {
			return nil, nil, err
		}
		for _, w := range impact.Warnings {
			if !seenWarning[w.Message] {
				seenWarning[w.Message] = true
				warnings = append(warnings, w)
			}
		}
		for member, depth := range impact.depth {
			rec := impact.byID[member]
			c := 1.0
			if depth > 0 {
				c = Confidence(depth)
				add(ImpactRequirement, member, c)
				if rec.SourceDocument != "" {
					add(ImpactDocument, rec.SourceDocument, c)
				}
			}
			for _, tc := range rec.TestedBy {
				add(ImpactTest, tc, c)
			}
		}
	}

	entries := make([]ImpactEntry, 0, len(best))
	for k, c := range best {
		entries = append(entries, ImpactEntry{Kind: k.kind, ID: k.id, Confidence: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Confidence != entries[j].Confidence {
			return entries[i].Confidence > entries[j].Confidence
		}
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, warnings, nil
}
