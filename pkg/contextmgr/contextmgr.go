// Package contextmgr renders a project's accumulated context for the generator and keeps it
// inside the model's window by summarizing old conversation history into a separate digest.
package contextmgr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"opnxt/pkg/logx"
	"opnxt/pkg/model"
	"opnxt/pkg/tokens"
)

// Config is the token budget for rendered context.
type Config struct {
	MaxContextTokens int `json:"max_tokens" koanf:"max_tokens"`
	MaxReplyTokens   int `json:"max_reply_tokens" koanf:"max_reply_tokens"`
	CompactionBuffer int `json:"compaction_buffer" koanf:"compaction_buffer"`
	KeepRecent       int `json:"keep_recent" koanf:"keep_recent"`
}

// DefaultConfig returns the budget used when none is configured.
func DefaultConfig() Config {
	return Config{
		MaxContextTokens: 32000,
		MaxReplyTokens:   4096,
		CompactionBuffer: 2000,
		KeepRecent:       8,
	}
}

// Marker labels rendered context whose oldest history entries were summarized.
func Marker(summarized int) string {
	return fmt.Sprintf("[history-compressed: %d entries summarized]", summarized)
}

// ContextManager renders and compacts project contexts.
type ContextManager struct {
	summarizer Summarizer
	counter    *tokens.Counter
	logger     *logx.Logger
	now        func() time.Time
	cfg        Config
}

// NewContextManager creates a manager. A nil summarizer selects the extractive one.
func NewContextManager(cfg Config, summarizer Summarizer) *ContextManager {
	def := DefaultConfig()
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = def.MaxContextTokens
	}
	if cfg.MaxReplyTokens < 0 {
		cfg.MaxReplyTokens = 0
	}
	if cfg.CompactionBuffer < 0 {
		cfg.CompactionBuffer = 0
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = def.KeepRecent
	}
	if summarizer == nil {
		summarizer = ExtractiveSummarizer{}
	}
	return &ContextManager{
		summarizer: summarizer,
		counter:    tokens.ForModel(""),
		logger:     logx.NewLogger("contextmgr"),
		now:        func() time.Time { return time.Now().UTC() },
		cfg:        cfg,
	}
}

// Render formats the context as system text: answers, summaries and approvals verbatim, then
// conversation history, with summarized entries replaced by the digest and its marker.
func (cm *ContextManager) Render(pctx *model.ProjectContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Project %s context\n", pctx.ProjectID)

	if len(pctx.Answers) > 0 {
		b.WriteString("\n## Captured requirements\n")
		for _, section := range model.SortedKeys(pctx.Answers) {
			fmt.Fprintf(&b, "\n### %s\n", section)
			for _, statement := range pctx.Answers[section] {
				fmt.Fprintf(&b, "%s\n", statement)
			}
		}
	}
	if len(pctx.Summaries) > 0 {
		b.WriteString("\n## Phase summaries\n")
		for _, phase := range model.SortedKeys(pctx.Summaries) {
			fmt.Fprintf(&b, "\n### %s\n%s\n", phase, pctx.Summaries[phase])
		}
	}
	if len(pctx.Approvals) > 0 {
		b.WriteString("\n## Approvals\n")
		for _, filename := range model.SortedKeys(pctx.Approvals) {
			a := pctx.Approvals[filename]
			state := "not approved"
			if a.Approved {
				state = fmt.Sprintf("approved v%d", a.Version)
			}
			fmt.Fprintf(&b, "- %s: %s\n", filename, state)
		}
	}

	history := pctx.ConversationHistory
	if len(history) > 0 || pctx.HistoryDigest != nil {
		b.WriteString("\n## Conversation\n")
		start := 0
		if d := pctx.HistoryDigest; d != nil && d.CoversThrough > 0 {
			fmt.Fprintf(&b, "%s\n%s\n", d.Marker, d.Summary)
			start = d.CoversThrough
			if start > len(history) {
				start = len(history)
			}
		}
		for _, m := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	return b.String()
}

// CountTokens returns the token size of the rendered context.
func (cm *ContextManager) CountTokens(pctx *model.ProjectContext) int {
	return cm.counter.Count(cm.Render(pctx))
}

// threshold is the largest rendered size that still leaves room for a reply.
func (cm *ContextManager) threshold() int {
	return cm.cfg.MaxContextTokens - cm.cfg.MaxReplyTokens - cm.cfg.CompactionBuffer
}

// ShouldCompact checks if compaction is needed without performing it.
func (cm *ContextManager) ShouldCompact(pctx *model.ProjectContext) bool {
	return cm.CountTokens(pctx) > cm.threshold()
}

// CompactIfNeeded summarizes the oldest history entries into pctx.HistoryDigest until the
// rendered context fits, keeping progressively fewer recent entries verbatim. History itself,
// answers and approvals are never modified. It reports whether the digest now covers more
// entries than before.
func (cm *ContextManager) CompactIfNeeded(ctx context.Context, pctx *model.ProjectContext) (bool, error) {
	if !cm.ShouldCompact(pctx) {
		return false, nil
	}

	before := cm.CountTokens(pctx)
	compacted := false
	for keep := cm.cfg.KeepRecent; ; keep /= 2 {
		cover := len(pctx.ConversationHistory) - keep
		covered := 0
		if pctx.HistoryDigest != nil {
			covered = pctx.HistoryDigest.CoversThrough
		}
		if cover <= covered {
			if keep == 0 {
				break
			}
			continue
		}

		digest, err := cm.digest(ctx, pctx, cover)
		if err != nil {
			return compacted, err
		}
		pctx.HistoryDigest = digest
		compacted = true

		if !cm.ShouldCompact(pctx) || keep == 0 {
			break
		}
	}

	if compacted {
		cm.logger.Info("🔁 Compressed context for %s: %d → %d tokens (%s)",
			pctx.ProjectID, before, cm.CountTokens(pctx), pctx.HistoryDigest.Marker)
	}
	if cm.ShouldCompact(pctx) {
		cm.logger.Warn("⚠️ Context for %s still exceeds %d tokens after compression", pctx.ProjectID, cm.threshold())
	}
	return compacted, nil
}

// digest summarizes history[:cover], extending any existing digest.
func (cm *ContextManager) digest(ctx context.Context, pctx *model.ProjectContext, cover int) (*model.HistoryDigest, error) {
	previous := ""
	from := 0
	if d := pctx.HistoryDigest; d != nil {
		previous = d.Summary
		from = d.CoversThrough
	}
	summary, err := cm.summarizer.Summarize(ctx, previous, pctx.ConversationHistory[from:cover])
	if err != nil {
		return nil, fmt.Errorf("failed to summarize history: %w", err)
	}
	return &model.HistoryDigest{
		CoversThrough: cover,
		Summary:       summary,
		Marker:        Marker(cover),
		CreatedAt:     cm.now(),
	}, nil
}

// GetCompactionInfo returns information about context state and compaction thresholds.
func (cm *ContextManager) GetCompactionInfo(pctx *model.ProjectContext) map[string]any {
	current := cm.CountTokens(pctx)
	info := map[string]any{
		"current_tokens":        current,
		"message_count":         len(pctx.ConversationHistory),
		"should_compact":        current > cm.threshold(),
		"max_context_tokens":    cm.cfg.MaxContextTokens,
		"max_reply_tokens":      cm.cfg.MaxReplyTokens,
		"compaction_buffer":     cm.cfg.CompactionBuffer,
		"compaction_threshold":  cm.threshold(),
		"tokens_over_threshold": current - cm.threshold(),
	}
	if d := pctx.HistoryDigest; d != nil {
		info["summarized_entries"] = d.CoversThrough
	}
	return info
}

// GetContextSummary returns a brief summary of the context state.
func (cm *ContextManager) GetContextSummary(pctx *model.ProjectContext) string {
	if len(pctx.ConversationHistory) == 0 && len(pctx.Answers) == 0 {
		return "Empty context"
	}
	roleCounts := make(map[string]int)
	for _, m := range pctx.ConversationHistory {
		roleCounts[m.Role]++
	}
	roles := make([]string, 0, len(roleCounts))
	for role, count := range roleCounts {
		roles = append(roles, fmt.Sprintf("%s: %d", role, count))
	}
	sort.Strings(roles)
	return fmt.Sprintf("%d messages, %d answers (%d tokens) - %s",
		len(pctx.ConversationHistory), pctx.AnswerCount(), cm.CountTokens(pctx), strings.Join(roles, ", "))
}
