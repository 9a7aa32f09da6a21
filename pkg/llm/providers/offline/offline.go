// Package offline is a deterministic generator that drafts documents without calling a model.
// It lets the service run and be exercised end to end without provider credentials.
package offline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"opnxt/pkg/llm"
	"opnxt/pkg/llmerrors"
	"opnxt/pkg/tokens"
)

// Name is the provider identifier.
const Name = "offline"

var requirementLine = regexp.MustCompile(`^\s*[-*]\s+([A-Z]{2,5}-\d{3,})\s*:`)

// Generator renders every required section from the statements found in the prompt.
type Generator struct{}

// New creates the offline generator.
func New() *Generator {
	return &Generator{}
}

// Name implements llm.Generator.
func (g *Generator) Name() string {
	return Name
}

// Generate emits a Markdown document with one heading per required section. Requirement lines
// from the prompt are placed in the first section whose heading mentions requirements (or the
// first section); every other section gets a short deterministic paragraph.
func (g *Generator) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	if len(req.Sections) == 0 {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "offline generator needs the required sections")
	}

	// A later statement for the same id replaces the earlier one in place.
	var requirements, prose []string
	position := make(map[string]int)
	for _, line := range strings.Split(req.Prompt, "\n") {
		trimmed := strings.TrimSpace(line)
		m := requirementLine.FindStringSubmatch(line)
		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
		case m != nil:
			if i, ok := position[m[1]]; ok {
				requirements[i] = trimmed
				continue
			}
			position[m[1]] = len(requirements)
			requirements = append(requirements, trimmed)
		default:
			prose = append(prose, trimmed)
		}
	}

	target := 0
	for i, s := range req.Sections {
		if strings.Contains(strings.ToLower(s), "requirement") {
			target = i
			break
		}
	}

	var b strings.Builder
	title := req.Title
	if title == "" {
		title = "Document"
	}
	fmt.Fprintf(&b, "# %s\n\n", strings.TrimSuffix(title, ".md"))
	for i, section := range req.Sections {
		fmt.Fprintf(&b, "## %s\n\n", section)
		if i == target && len(requirements) > 0 {
			for _, r := range requirements {
				b.WriteString(r)
				b.WriteString("\n")
			}
			b.WriteString("\n")
			continue
		}
		fmt.Fprintf(&b, "%s for %s.\n\n", section, summarize(prose))
	}

	text := b.String()
	return llm.Response{
		Text:     text,
		Provider: Name,
		Model:    Name,
	}, nil
}

func summarize(lines []string) string {
	if len(lines) == 0 {
		return "this project"
	}
	return strings.TrimRight(tokens.Truncate(lines[len(lines)-1], 120), ".")
}
