// Package validator checks generated Markdown drafts against a required-section schema.
//
// The check is structural: every required heading must be present (matched case-insensitively)
// and carry at least one line of body text. It is a pure function of its inputs.
package validator

import (
	"regexp"
	"strings"
)

// Result is the outcome of validating one draft.
type Result struct {
	Missing  []string `json:"missing_sections"`
	Warnings []string `json:"warnings,omitempty"`
	Valid    bool     `json:"valid"`
}

// Heading is one ATX heading found in a draft.
type Heading struct {
	Title string
	Level int
	Line  int
	Body  bool // at least one non-blank, non-heading line before the next heading of equal or higher level
}

var (
	numberingPrefix = regexp.MustCompile(`^(\d+(\.\d+)*\.?|[ivxlcdm]+\.|[a-z]\))\s+`)
	placeholder     = regexp.MustCompile(`(?i)\b(TBD|TODO|lorem ipsum|to be determined)\b`)
	fence           = regexp.MustCompile("^\\s*(```|~~~)")
)

// Validate reports which schema sections are missing or empty in draft.
// Missing preserves schema order; warnings never affect Valid.
func Validate(draft string, schema []string) Result {
	headings := Headings(draft)

	present := make(map[string]bool, len(headings))
	for _, h := range headings {
		key := Normalize(h.Title)
		// A repeated heading counts when any occurrence has a body.
		present[key] = present[key] || h.Body
	}

	res := Result{Missing: []string{}}
	seen := make(map[string]bool, len(schema))
	for _, section := range schema {
		key := Normalize(section)
		if seen[key] {
			continue
		}
		seen[key] = true
		if !present[key] {
			res.Missing = append(res.Missing, section)
		}
	}
	res.Valid = len(res.Missing) == 0
	res.Warnings = qualityWarnings(draft)
	return res
}

// Headings parses ATX headings outside fenced code blocks.
func Headings(draft string) []Heading {
	lines := strings.Split(strings.ReplaceAll(draft, "\r\n", "\n"), "\n")
	var headings []Heading
	inFence := false
	for i, line := range lines {
		if fence.MatchString(line) {
			inFence = !inFence
			markBody(headings)
			continue
		}
		if inFence {
			markBody(headings)
			continue
		}
		level, title, ok := parseHeading(line)
		if ok {
			headings = append(headings, Heading{Title: title, Level: level, Line: i + 1})
			continue
		}
		if strings.TrimSpace(line) != "" {
			markBody(headings)
		}
	}
	return headings
}

// markBody flags the headings whose scope contains the current line: the innermost heading
// and each enclosing heading of strictly lower level.
func markBody(headings []Heading) {
	if len(headings) == 0 {
		return
	}
	minLevel := headings[len(headings)-1].Level + 1
	for i := len(headings) - 1; i >= 0; i-- {
		if headings[i].Level < minLevel {
			headings[i].Body = true
			minLevel = headings[i].Level
		}
	}
}

func parseHeading(line string) (int, string, bool) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return 0, "", false
	}
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	title := strings.TrimSpace(rest)
	title = strings.TrimSpace(strings.TrimRight(title, "#"))
	return level, title, true
}

// Normalize folds a heading for comparison: lower-cased, whitespace collapsed, leading
// numbering ("2.", "2.1", "iv.") and trailing ":" removed.
func Normalize(title string) string {
	s := strings.ToLower(strings.Join(strings.Fields(title), " "))
	s = strings.TrimSpace(strings.TrimRight(s, "#"))
	s = numberingPrefix.ReplaceAllString(s, "")
	s = strings.TrimSpace(strings.TrimRight(s, ":"))
	return s
}

func qualityWarnings(draft string) []string {
	var warnings []string
	seen := map[string]bool{}
	for _, m := range placeholder.FindAllString(draft, -1) {
		key := strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		warnings = append(warnings, "draft contains placeholder text: "+m)
	}
	if strings.TrimSpace(draft) != "" && len(Headings(draft)) == 0 {
		warnings = append(warnings, "draft has no Markdown headings")
	}
	return warnings
}
