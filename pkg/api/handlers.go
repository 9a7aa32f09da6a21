package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"opnxt/pkg/ledger"
	"opnxt/pkg/model"
	"opnxt/pkg/orcherrors"
	"opnxt/pkg/orchestrator"
	"opnxt/pkg/registry"
)

// HeaderIdempotencyKey carries the request id for POST /projects/:id/process.
const HeaderIdempotencyKey = "Idempotency-Key"

func (s *Server) handleCreateProject(c echo.Context) error {
	var req orchestrator.CreateProjectRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	project, err := s.orch.CreateProject(c.Request().Context(), req)
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	return c.JSON(http.StatusCreated, project)
}

func (s *Server) handleListProjects(c echo.Context) error {
	projects, err := s.orch.ListProjects(c.Request().Context())
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	if projects == nil {
		projects = []model.Project{}
	}
	return c.JSON(http.StatusOK, projects)
}

func (s *Server) handleGetProject(c echo.Context) error {
	project, err := s.orch.GetProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	return c.JSON(http.StatusOK, project)
}

func (s *Server) handleProcess(c echo.Context) error {
	var req orchestrator.ProcessRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	req.ProjectID = c.Param("id")
	if req.RequestID == "" {
		req.RequestID = c.Request().Header.Get(HeaderIdempotencyKey)
	}
	result, err := s.orch.Process(c.Request().Context(), req)
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	return c.JSON(http.StatusOK, result)
}

// AdvanceRequest is the body of POST /projects/:id/advance.
type AdvanceRequest struct {
	TargetPhase string `json:"target_phase" validate:"required"`
	Actor       string `json:"actor,omitempty" validate:"omitempty,max=128"`
}

// AdvanceResponse reports the project's phase after a transition.
type AdvanceResponse struct {
	Phase      model.Phase      `json:"phase"`
	Transition model.Transition `json:"transition"`
}

func (s *Server) handleAdvance(c echo.Context) error {
	var req AdvanceRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	t, err := s.orch.Advance(c.Request().Context(), c.Param("id"), req.TargetPhase, req.Actor)
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	return c.JSON(http.StatusOK, AdvanceResponse{Phase: t.To, Transition: t})
}

func (s *Server) handleTransitions(c echo.Context) error {
	transitions, err := s.orch.Transitions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	if transitions == nil {
		transitions = []model.Transition{}
	}
	return c.JSON(http.StatusOK, transitions)
}

func (s *Server) handleGetContext(c echo.Context) error {
	pctx, err := s.orch.GetContext(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	return c.JSON(http.StatusOK, pctx)
}

func (s *Server) handlePutContext(c echo.Context) error {
	var update orchestrator.ContextUpdate
	if err := bindBody(c, &update); err != nil {
		return err
	}
	pctx, err := s.orch.PutContext(c.Request().Context(), c.Param("id"), update)
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	return c.JSON(http.StatusOK, pctx)
}

func (s *Server) handleListVersions(c echo.Context) error {
	versions, err := s.orch.ListVersions(c.Request().Context(), c.Param("id"), c.Param("filename"))
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	if versions == nil {
		versions = []model.VersionMeta{}
	}
	return c.JSON(http.StatusOK, versions)
}

func (s *Server) handleGetVersion(c echo.Context) error {
	version, err := intParam(c, "version")
	if err != nil {
		return err
	}
	artifact, err := s.orch.GetVersion(c.Request().Context(), c.Param("id"), c.Param("filename"), version)
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	return c.JSON(http.StatusOK, artifact)
}

func (s *Server) handleApprove(c echo.Context) error {
	var req orchestrator.ApproveRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	result, err := s.orch.Approve(c.Request().Context(), c.Param("id"), c.Param("filename"), req)
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleRequirements(c echo.Context) error {
	records, err := s.orch.Requirements(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	if records == nil {
		records = []model.RequirementRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

// ImpactsRequest is the body of POST /projects/:id/impacts.
type ImpactsRequest struct {
	RequirementIDs []string `json:"requirement_ids" validate:"required,min=1,dive,required"`
}

// ImpactsResponse lists what depends on the requested requirements.
type ImpactsResponse struct {
	Impacts  []ledger.ImpactEntry `json:"impacts"`
	Warnings []orcherrors.Warning `json:"warnings"`
}

func (s *Server) handleImpacts(c echo.Context) error {
	var req ImpactsRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	impacts, warnings, err := s.orch.Impacts(c.Request().Context(), c.Param("id"), req.RequirementIDs)
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	if impacts == nil {
		impacts = []ledger.ImpactEntry{}
	}
	if warnings == nil {
		warnings = []orcherrors.Warning{}
	}
	return c.JSON(http.StatusOK, ImpactsResponse{Impacts: impacts, Warnings: warnings})
}

func (s *Server) handleListPatches(c echo.Context) error {
	plans, err := s.orch.ListPlans(c.Request().Context(), c.Param("id"), model.PlanStatus(c.QueryParam("status")))
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	return c.JSON(http.StatusOK, plans)
}

// PlanDecision is the optional body of a patch plan approve or reject.
type PlanDecision struct {
	Actor string `json:"actor,omitempty" validate:"omitempty,max=128"`
}

// PlanResponse reports a plan after a decision.
type PlanResponse struct {
	Plan     *model.PatchPlan     `json:"plan"`
	Warnings []orcherrors.Warning `json:"warnings,omitempty"`
}

func (s *Server) bindDecision(c echo.Context) (PlanDecision, error) {
	var d PlanDecision
	if c.Request().ContentLength == 0 {
		return d, nil
	}
	return d, bindBody(c, &d)
}

func (s *Server) handleApprovePatch(c echo.Context) error {
	d, err := s.bindDecision(c)
	if err != nil {
		return err
	}
	plan, warnings, err := s.orch.ApprovePlan(c.Request().Context(), c.Param("id"), c.Param("plan"), d.Actor)
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	return c.JSON(http.StatusOK, PlanResponse{Plan: plan, Warnings: warnings})
}

func (s *Server) handleRejectPatch(c echo.Context) error {
	d, err := s.bindDecision(c)
	if err != nil {
		return err
	}
	plan, err := s.orch.RejectPlan(c.Request().Context(), c.Param("id"), c.Param("plan"), d.Actor)
	if err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	return c.JSON(http.StatusOK, PlanResponse{Plan: plan})
}

func (s *Server) handleListAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.Agents())
}

// RegisterAgentRequest is the body of PUT /agents/:phase.
type RegisterAgentRequest struct {
	Actor string                   `json:"actor,omitempty" validate:"omitempty,max=128"`
	Agent registry.AgentDescriptor `json:"agent"`
}

func (s *Server) handleRegisterAgent(c echo.Context) error {
	var req RegisterAgentRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if err := s.orch.RegisterAgent(c.Param("phase"), req.Agent, req.Actor); err != nil {
		return err //nolint:wrapcheck // rendered by handleError
	}
	return c.JSON(http.StatusOK, s.orch.Agents())
}
