// Package changes classifies new requirement statements against baselined documents and turns
// the differences into patch plans.
package changes

import (
	"bufio"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"opnxt/pkg/model"
)

var (
	// - FR-003: text (implements: BR-001; tested_by: TC-001, TC-002)
	statementPattern = regexp.MustCompile(`^\s*[-*]\s+(?:\*\*)?([A-Z]{2,5}-\d{3,})(?:\*\*)?\s*:\s*(.*?)\s*$`)
	linksPattern     = regexp.MustCompile(`(?i)\s*\(\s*((?:implements|tested[_ ]by)\s*:[^()]*)\)\s*$`)
	headingPattern   = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*#*\s*$`)
	negationPattern  = regexp.MustCompile(`(?i)\b(?:shall|must|will|should|may)\s+not\b|\bcannot\b|\bcan't\b|\bnever\b`)
)

// Requirement is one requirement statement parsed from a document.
type Requirement struct {
	ID         string
	Text       string
	Section    string
	Implements []string
	TestedBy   []string
	Line       int
}

// Statement converts the parsed line into its model form.
func (r Requirement) Statement() model.Statement {
	return model.Statement{
		Text:       r.Text,
		Implements: append([]string(nil), r.Implements...),
		TestedBy:   append([]string(nil), r.TestedBy...),
	}
}

// Render formats the statement back into its Markdown list form.
func Render(id string, s model.Statement) string {
	var links []string
	if len(s.Implements) > 0 {
		links = append(links, "implements: "+strings.Join(s.Implements, ", "))
	}
	if len(s.TestedBy) > 0 {
		links = append(links, "tested_by: "+strings.Join(s.TestedBy, ", "))
	}
	line := fmt.Sprintf("- %s: %s", id, s.Text)
	if len(links) > 0 {
		line += " (" + strings.Join(links, "; ") + ")"
	}
	return line
}

// Parse extracts requirement statements. A repeated id keeps its last statement.
func Parse(content string) []Requirement {
	var (
		out     []Requirement
		index   = make(map[string]int)
		section string
		fenced  bool
		lineNo  int
	)
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenced = !fenced
			continue
		}
		if fenced {
			continue
		}
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			section = m[1]
			continue
		}
		m := statementPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		req := Requirement{ID: m[1], Section: section, Line: lineNo}
		text := m[2]
		if lm := linksPattern.FindStringSubmatchIndex(text); lm != nil {
			req.Implements, req.TestedBy = parseLinks(text[lm[2]:lm[3]])
			text = text[:lm[0]]
		}
		req.Text = strings.TrimSpace(text)

		if i, ok := index[req.ID]; ok {
			out[i] = req
			continue
		}
		index[req.ID] = len(out)
		out = append(out, req)
	}
	return out
}

// ByID indexes parsed statements.
func ByID(reqs []Requirement) map[string]Requirement {
	m := make(map[string]Requirement, len(reqs))
	for _, r := range reqs {
		m[r.ID] = r
	}
	return m
}

func parseLinks(body string) (implements, testedBy []string) {
	for _, part := range strings.Split(body, ";") {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		ids := splitIDs(value)
		switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_") {
		case "implements":
			implements = append(implements, ids...)
		case "tested_by":
			testedBy = append(testedBy, ids...)
		}
	}
	return implements, testedBy
}

func splitIDs(value string) []string {
	var ids []string
	for _, id := range strings.Split(value, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Rewrite replaces the statement line for id with s, or removes it when s.Text is empty.
// Content without a line for id is returned unchanged.
func Rewrite(content, id string, s model.Statement) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		m := statementPattern.FindStringSubmatch(line)
		if m == nil || m[1] != id {
			out = append(out, line)
			continue
		}
		if s.Text == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		out = append(out, indent+Render(id, s))
	}
	return strings.Join(out, "\n")
}

// SameWording compares statement text ignoring case and whitespace differences.
func SameWording(a, b string) bool {
	return normalizeWording(a) == normalizeWording(b)
}

func normalizeWording(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, ". ")
}

// Contradicts reports whether one statement negates the other.
func Contradicts(a, b string) bool {
	return negationPattern.MatchString(a) != negationPattern.MatchString(b)
}

// SameLinks compares link sets ignoring order and duplicates.
func SameLinks(a, b []string) bool {
	return strings.Join(normalizeIDs(a), ",") == strings.Join(normalizeIDs(b), ",")
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
