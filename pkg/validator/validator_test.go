package validator

import (
	"reflect"
	"testing"
)

const srs = `# Software Requirements Specification

## 1. Introduction
This document describes the portal.

## Functional Requirements:
- FR-001: The system shall authenticate users.

### Login
Details.

## Constraints
`

func TestValidateReportsEmptyAndMissing(t *testing.T) {
	schema := []string{"Introduction", "functional requirements", "Constraints", "Glossary"}
	res := Validate(srs, schema)

	if res.Valid {
		t.Fatal("expected invalid draft")
	}
	want := []string{"Constraints", "Glossary"}
	if !reflect.DeepEqual(res.Missing, want) {
		t.Errorf("expected missing %v, got %v", want, res.Missing)
	}
}

func TestValidatePasses(t *testing.T) {
	res := Validate(srs, []string{"INTRODUCTION", "Functional Requirements", "Login"})
	if !res.Valid || len(res.Missing) != 0 {
		t.Errorf("expected valid, got %+v", res)
	}
}

func TestParentCountsSubsectionContent(t *testing.T) {
	draft := "# Design\n## Architecture\n### Components\nAPI and worker.\n## Data\nTables.\n"
	res := Validate(draft, []string{"Architecture", "Design"})
	if !res.Valid {
		t.Errorf("parent with populated child should be non-empty, missing %v", res.Missing)
	}
}

func TestSiblingContentDoesNotLeak(t *testing.T) {
	draft := "## Scope\n## Risks\nSupply chain.\n"
	res := Validate(draft, []string{"Scope", "Risks"})
	if res.Valid || !reflect.DeepEqual(res.Missing, []string{"Scope"}) {
		t.Errorf("expected Scope missing, got %+v", res)
	}
}

func TestHeadingsInsideFencesIgnored(t *testing.T) {
	draft := "## Example\n```\n## Glossary\n```\n"
	res := Validate(draft, []string{"Example", "Glossary"})
	if !reflect.DeepEqual(res.Missing, []string{"Glossary"}) {
		t.Errorf("fenced heading should not count, got %v", res.Missing)
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	schema := []string{"Constraints", "Introduction", "Glossary"}
	first := Validate(srs, schema)
	for i := 0; i < 50; i++ {
		if got := Validate(srs, schema); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestWarningsDoNotAffectValidity(t *testing.T) {
	res := Validate("## Scope\nTBD\n", []string{"Scope"})
	if !res.Valid {
		t.Fatal("placeholder text should not invalidate")
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", res.Warnings)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"2.1 Scope":            "scope",
		"  Functional   Reqs:": "functional reqs",
		"Overview ##":          "overview",
		"iv. Appendix":         "appendix",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
