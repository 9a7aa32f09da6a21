package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"opnxt/pkg/llm"
	"opnxt/pkg/logx"
	"opnxt/pkg/model"
	"opnxt/pkg/tokens"
)

// Summarizer condenses conversation entries, extending a previous summary.
type Summarizer interface {
	Summarize(ctx context.Context, previous string, entries []model.Message) (string, error)
}

// maxLineChars bounds each entry's contribution to an extractive summary.
const maxLineChars = 160

// ExtractiveSummarizer keeps the first line of every entry, truncated. It is deterministic
// and never fails.
type ExtractiveSummarizer struct{}

// Summarize implements Summarizer.
func (ExtractiveSummarizer) Summarize(_ context.Context, previous string, entries []model.Message) (string, error) {
	var b strings.Builder
	if previous != "" {
		b.WriteString(previous)
		b.WriteString("\n")
	}
	for _, m := range entries {
		line := strings.TrimSpace(m.Content)
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		line = tokens.Truncate(line, maxLineChars)
		fmt.Fprintf(&b, "- %s: %s\n", m.Role, line)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// GeneratorSummarizer asks a generator for an abstractive summary and falls back to the
// extractive one when the generator fails.
type GeneratorSummarizer struct {
	Generator llm.Generator
	Profile   llm.Profile
	logger    *logx.Logger
}

// NewGeneratorSummarizer creates a summarizer backed by gen.
func NewGeneratorSummarizer(gen llm.Generator, profile llm.Profile) *GeneratorSummarizer {
	return &GeneratorSummarizer{Generator: gen, Profile: profile, logger: logx.NewLogger("contextmgr")}
}

// Summarize implements Summarizer.
func (s *GeneratorSummarizer) Summarize(ctx context.Context, previous string, entries []model.Message) (string, error) {
	var transcript strings.Builder
	for _, m := range entries {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}
	prompt := "Summarize this project conversation in a few bullet points. Keep every decision, " +
		"requirement id and open question.\n\n"
	if previous != "" {
		prompt += "Earlier summary:\n" + previous + "\n\n"
	}
	prompt += "Conversation:\n" + transcript.String()

	resp, err := s.Generator.Generate(ctx, llm.Request{Prompt: prompt, Title: "Summary", Sections: []string{"Summary"}, Profile: s.Profile})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Warn("⚠️ summary generation failed, using extractive summary: %v", err)
		return ExtractiveSummarizer{}.Summarize(ctx, previous, entries)
	}
	return strings.TrimSpace(resp.Text), nil
}
