package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opnxt/pkg/llm/providers/offline"
	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
	"opnxt/pkg/orchestrator"
	"opnxt/pkg/registry"
	"opnxt/pkg/store"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	reg, err := registry.New(registry.DefaultCatalog()...)
	require.NoError(t, err)
	orch := orchestrator.New(store.NewMemStore(), reg, offline.New(), orchestrator.Options{})
	server, err := NewServer(orch, Config{}, opts...)
	require.NoError(t, err)
	return server
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createProject(t *testing.T, s *Server) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/projects", `{"name":"Bakery shop"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.Project](t, rec).ID
}

func TestNewServerRequiresOrchestrator(t *testing.T) {
	_, err := NewServer(nil, Config{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)

	down := newTestServer(t, WithReadiness(func(context.Context) error { return errors.New("database locked") }))
	rec = do(t, down, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database locked")
}

func TestProjectLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := createProject(t, s)

	rec := do(t, s, http.MethodGet, "/projects/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[model.Project](t, rec)
	assert.Equal(t, model.PhaseInitialization, p.CurrentPhase)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = do(t, s, http.MethodGet, "/projects", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Project](t, rec), 1)

	rec = do(t, s, http.MethodPost, "/projects/"+id+"/advance", `{"target_phase":"Charter","actor":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	adv := decode[AdvanceResponse](t, rec)
	assert.Equal(t, model.PhaseCharter, adv.Phase)
	assert.Equal(t, "alice", adv.Transition.Actor)

	rec = do(t, s, http.MethodPost, "/projects/"+id+"/process",
		`{"user_input":"An online shop for local bakeries.\n- BR-001: Customers can order online","actor":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[orchestrator.ProcessResult](t, rec)
	assert.Equal(t, "ProjectCharter.md", result.Artifact.Filename)
	assert.Equal(t, 1, result.Artifact.Version)

	rec = do(t, s, http.MethodGet, "/projects/"+id+"/documents/ProjectCharter.md/versions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.VersionMeta](t, rec), 1)

	rec = do(t, s, http.MethodGet, "/projects/"+id+"/documents/ProjectCharter.md/versions/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[model.Artifact](t, rec).Content, "BR-001")

	rec = do(t, s, http.MethodPost, "/projects/"+id+"/advance", `{"target_phase":"Requirements"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, orcherrors.CodePrerequisiteNotMet, decode[ErrorResponse](t, rec).Code)

	rec = do(t, s, http.MethodPost, "/projects/"+id+"/documents/ProjectCharter.md/approve", `{"approved_by":"bob"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[orchestrator.ApproveResult](t, rec)
	assert.True(t, approved.Approval.Approved)
	assert.Equal(t, 1, approved.Approval.Version)

	rec = do(t, s, http.MethodPost, "/projects/"+id+"/advance", `{"target_phase":"requirements"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/projects/"+id+"/transitions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Transition](t, rec), 2)

	rec = do(t, s, http.MethodGet, "/projects/"+id+"/requirements", "")
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode[[]model.RequirementRecord](t, rec)
	require.Len(t, records, 1)
	assert.Equal(t, "BR-001", records[0].ID)

	rec = do(t, s, http.MethodPost, "/projects/"+id+"/impacts", `{"requirement_ids":["BR-001"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, decode[ImpactsResponse](t, rec).Impacts)

	rec = do(t, s, http.MethodGet, "/projects/"+id+"/patches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.PatchPlan](t, rec))
}

func TestProcessUsesIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	id := createProject(t, s)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/projects/"+id+"/advance", `{"target_phase":"Charter"}`).Code)

	send := func() orchestrator.ProcessResult {
		req := httptest.NewRequest(http.MethodPost, "/projects/"+id+"/process", strings.NewReader(`{"user_input":"A shop"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderIdempotencyKey, "req-42")
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[orchestrator.ProcessResult](t, rec)
	}
	first := send()
	second := send()
	assert.Equal(t, "req-42", first.RequestID)
	assert.Equal(t, first.Artifact.Version, second.Artifact.Version)
}

func TestContextRoundTrip(t *testing.T) {
	s := newTestServer(t)
	id := createProject(t, s)

	rec := do(t, s, http.MethodPut, "/projects/"+id+"/context",
		`{"answers":{"Functional Requirements":["FR-001: Users can log in"]},"actor":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/projects/"+id+"/context", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pctx := decode[model.ProjectContext](t, rec)
	assert.Equal(t, []string{"FR-001: Users can log in"}, pctx.Answers["Functional Requirements"])
}

func TestAgents(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	agents := decode[[]registry.AgentDescriptor](t, rec)
	assert.Len(t, agents, len(registry.DefaultCatalog()))

	body := `{"actor":"ops","agent":{"kind":"charter","id":"charter-v2","output_file":"ProjectCharter.md","sections":["Vision","Scope"]}}`
	rec = do(t, s, http.MethodPut, "/agents/Charter", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "charter-v2")

	rec = do(t, s, http.MethodPut, "/agents/Nowhere", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, orcherrors.CodeUnknownPhase, decode[ErrorResponse](t, rec).Code)
}

func TestErrorResponses(t *testing.T) {
	s := newTestServer(t)
	id := createProject(t, s)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   orcherrors.Code
	}{
		{"unknown project", http.MethodGet, "/projects/missing", "", http.StatusNotFound, orcherrors.CodeProjectNotFound},
		{"missing name", http.MethodPost, "/projects", `{}`, http.StatusBadRequest, orcherrors.CodeInvalidRequest},
		{"bad policy", http.MethodPost, "/projects", `{"name":"x","change_policy":"yolo"}`, http.StatusBadRequest, orcherrors.CodeInvalidRequest},
		{"malformed json", http.MethodPost, "/projects", `{"name":`, http.StatusBadRequest, orcherrors.CodeInvalidRequest},
		{"unknown phase", http.MethodPost, "/projects/" + id + "/advance", `{"target_phase":"Nowhere"}`, http.StatusBadRequest, orcherrors.CodeUnknownPhase},
		{"skipped phase", http.MethodPost, "/projects/" + id + "/advance", `{"target_phase":"Design"}`, http.StatusConflict, orcherrors.CodeInvalidTransition},
		{"no agent", http.MethodPost, "/projects/" + id + "/process", `{"user_input":"hi"}`, http.StatusConflict, orcherrors.CodeNoAgentBound},
		{"bad version", http.MethodGet, "/projects/" + id + "/documents/SRS.md/versions/abc", "", http.StatusBadRequest, orcherrors.CodeInvalidRequest},
		{"missing version", http.MethodGet, "/projects/" + id + "/documents/SRS.md/versions/3", "", http.StatusNotFound, orcherrors.CodeNotFound},
		{"empty impacts", http.MethodPost, "/projects/" + id + "/impacts", `{"requirement_ids":[]}`, http.StatusBadRequest, orcherrors.CodeInvalidRequest},
		{"bad plan status", http.MethodGet, "/projects/" + id + "/patches?status=maybe", "", http.StatusBadRequest, orcherrors.CodeInvalidRequest},
		{"unknown plan", http.MethodPost, "/projects/" + id + "/patches/nope/approve", "", http.StatusNotFound, orcherrors.CodeNotFound},
		{"unknown route", http.MethodGet, "/nowhere", "", http.StatusNotFound, orcherrors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestValidationFailureListsMissingSections(t *testing.T) {
	resp := ErrorResponse{}
	err := orcherrors.ValidationFailed("ProjectCharter.md", []string{"Scope", "Risks"})
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	c := s.echo.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	s.handleError(err, c)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, orcherrors.CodeValidationFailed, resp.Code)
	assert.Equal(t, []string{"Scope", "Risks"}, resp.MissingSections)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(orcherrors.CodeGeneratorUnavailable))
	assert.Equal(t, statusClientClosedRequest, StatusFor(orcherrors.CodeCancelled))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(orcherrors.CodeUnknownReference))
	assert.Equal(t, http.StatusConflict, StatusFor(orcherrors.CodeDeprecatedID))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(orcherrors.CodeInternal))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "opnxt_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := newTestServer(t, WithGatherer(reg))
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "opnxt_test_total 1")
}
