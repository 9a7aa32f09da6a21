package changes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opnxt/pkg/model"
)

const srs = `# SRS

## Functional Requirements

- FR-001: Users can log in (implements: BR-001; tested_by: TC-001, TC-002)
- **FR-002**: Users can export reports
* FR-003: Admins shall not delete audit logs (Implements: BR-002)

` + "```" + `
- FR-999: inside a code fence
` + "```" + `

## Non-Functional Requirements

- NFR-001: Response time ≤ 3s
- FR-002: Users can export reports as CSV
`

func TestParseStatements(t *testing.T) {
	reqs := Parse(srs)
	require.Len(t, reqs, 4)

	byID := ByID(reqs)
	fr1 := byID["FR-001"]
	assert.Equal(t, "Users can log in", fr1.Text)
	assert.Equal(t, []string{"BR-001"}, fr1.Implements)
	assert.Equal(t, []string{"TC-001", "TC-002"}, fr1.TestedBy)
	assert.Equal(t, "Functional Requirements", fr1.Section)

	assert.Equal(t, "Users can export reports as CSV", byID["FR-002"].Text, "last statement wins")
	assert.Equal(t, []string{"BR-002"}, byID["FR-003"].Implements)
	assert.Equal(t, "Non-Functional Requirements", byID["NFR-001"].Section)
	_, fenced := byID["FR-999"]
	assert.False(t, fenced)
}

func TestRenderRoundTrips(t *testing.T) {
	s := model.Statement{Text: "Users can log in", Implements: []string{"BR-001"}, TestedBy: []string{"TC-001"}}
	line := Render("FR-001", s)
	assert.Equal(t, "- FR-001: Users can log in (implements: BR-001; tested_by: TC-001)", line)

	parsed := Parse(line)
	require.Len(t, parsed, 1)
	assert.Equal(t, s, parsed[0].Statement())
}

func TestRewrite(t *testing.T) {
	content := "## Reqs\n- NFR-001: Response time ≤ 3s\n- FR-001: Login\n"

	edited := Rewrite(content, "NFR-001", model.Statement{Text: "Response time ≤ 5s"})
	assert.Contains(t, edited, "- NFR-001: Response time ≤ 5s")
	assert.Contains(t, edited, "- FR-001: Login")

	removed := Rewrite(content, "FR-001", model.Statement{})
	assert.NotContains(t, removed, "FR-001")

	assert.Equal(t, content, Rewrite(content, "FR-404", model.Statement{Text: "x"}))
}

func TestClassify(t *testing.T) {
	base := Requirement{ID: "FR-003", Text: "Users can export reports", Implements: []string{"BR-001"}}

	tests := []struct {
		name     string
		next     Requirement
		typ      model.ChangeType
		severity model.Severity
		changed  bool
	}{
		{"unchanged", Requirement{Text: "users can export  reports.", Implements: []string{"BR-001"}}, "", "", false},
		{"refinement", Requirement{Text: "Users can export reports as PDF", Implements: []string{"BR-001"}}, model.ChangeRefinement, model.SeverityNonBreaking, true},
		{"link removed", Requirement{Text: "Users can export reports"}, model.ChangeConflict, model.SeverityBreaking, true},
		{"tests added", Requirement{Text: "Users can export reports", Implements: []string{"BR-001"}, TestedBy: []string{"TC-9"}}, model.ChangeConflict, model.SeverityBreaking, true},
		{"negated", Requirement{Text: "Users shall not export reports", Implements: []string{"BR-001"}}, model.ChangeConflict, model.SeverityBreaking, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, severity, _, changed := Classify(base, tt.next)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, tt.typ, typ)
			assert.Equal(t, tt.severity, severity)
		})
	}
}
