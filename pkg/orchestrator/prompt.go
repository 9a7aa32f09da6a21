package orchestrator

import (
	"strings"

	"opnxt/pkg/changes"
	"opnxt/pkg/model"
	"opnxt/pkg/registry"
	"opnxt/pkg/tokens"
)

const maxSummaryChars = 240

// buildPrompt is the agent's instructions, the statements captured so far and the new input.
// Captured statements come first so that a restated id in the input is the latest one.
func buildPrompt(agent registry.AgentDescriptor, pctx *model.ProjectContext, input string) string {
	var b strings.Builder
	b.WriteString(agent.Instructions)
	b.WriteString("\n\n# Required sections\n")
	for _, s := range agent.Sections {
		b.WriteString("# - ")
		b.WriteString(s)
		b.WriteString("\n")
	}

	if len(pctx.Answers) > 0 {
		b.WriteString("\n# Captured statements\n")
		for _, section := range model.SortedKeys(pctx.Answers) {
			for _, statement := range pctx.Answers[section] {
				b.WriteString(statement)
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\n# User input\n")
	b.WriteString(strings.TrimSpace(input))
	b.WriteString("\n")
	return b.String()
}

// captureAnswers records every requirement statement in input under its section, or under the
// current phase when the input has no headings. A statement replaces an earlier one with the
// same id wherever it was captured.
func captureAnswers(pctx *model.ProjectContext, current model.Phase, input string) {
	for _, r := range changes.Parse(input) {
		section := r.Section
		if section == "" {
			section = string(current)
		}
		line := changes.Render(r.ID, r.Statement())

		replaced := false
		for _, key := range model.SortedKeys(pctx.Answers) {
			var kept []string
			for _, existing := range pctx.Answers[key] {
				if statementID(existing) != r.ID {
					kept = append(kept, existing)
					continue
				}
				if key == section && !replaced {
					kept = append(kept, line)
					replaced = true
				}
			}
			if len(kept) == 0 {
				delete(pctx.Answers, key)
			} else {
				pctx.Answers[key] = kept
			}
		}
		if !replaced {
			pctx.Answers[section] = append(pctx.Answers[section], line)
		}
	}
}

func statementID(line string) string {
	parsed := changes.Parse(line)
	if len(parsed) == 0 {
		return ""
	}
	return parsed[0].ID
}

// summarizeDraft returns the first prose line of a draft, shortened.
func summarizeDraft(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") {
			continue
		}
		return tokens.Truncate(line, maxSummaryChars)
	}
	return ""
}
