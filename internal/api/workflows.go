package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mpataki/textflow/internal/actions"
	"github.com/mpataki/textflow/internal/definition"
	"github.com/mpataki/textflow/internal/llm"
	"github.com/mpataki/textflow/internal/models"
	"github.com/mpataki/textflow/internal/orchestrator"
	"github.com/mpataki/textflow/internal/storage"
)

type workflowRequest struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Steps       []models.Step `json:"steps"`
}

type workflowResponse struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Steps       []models.Step `json:"steps"`
}

func newWorkflowResponse(wf *models.Workflow) workflowResponse {
	return workflowResponse{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		Steps:       wf.Steps,
	}
}

type runRequest struct {
	InputText string `json:"input_text"`
}

// createWorkflow handles POST /api/workflows.
func (s *Server) createWorkflow(c echo.Context) error {
	var req workflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing input data")
	}

	wf := &models.Workflow{
		Name:        req.Name,
		Description: req.Description,
		Steps:       req.Steps,
	}
	if err := definition.Validate(wf, s.Registry); err != nil {
		s.Log.Warn().Err(err).Msg("workflow validation failed")
		return echo.NewHTTPError(http.StatusBadRequest, validationMessage(err))
	}

	if err := s.Store.CreateWorkflow(c.Request().Context(), wf); err != nil {
		return err
	}

	s.Log.Info().Str("workflow_id", wf.ID).Str("name", wf.Name).Msg("workflow created")
	return c.JSON(http.StatusCreated, newWorkflowResponse(wf))
}

// listWorkflows handles GET /api/workflows.
func (s *Server) listWorkflows(c echo.Context) error {
	workflows, err := s.Store.ListWorkflows(c.Request().Context(), queryLimit(c, 50))
	if err != nil {
		return err
	}

	resp := make([]workflowResponse, 0, len(workflows))
	for _, wf := range workflows {
		resp = append(resp, newWorkflowResponse(wf))
	}
	return c.JSON(http.StatusOK, resp)
}

// getWorkflow handles GET /api/workflows/:id.
func (s *Server) getWorkflow(c echo.Context) error {
	wf, err := s.loadWorkflow(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newWorkflowResponse(wf))
}

func (s *Server) loadWorkflow(c echo.Context) (*models.Workflow, error) {
	wf, err := s.Store.GetWorkflow(c.Request().Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "Workflow not found")
	}
	return wf, err
}

// prepareRun resolves everything a run needs before its record is created,
// so a rejected request never leaves a run behind.
func (s *Server) prepareRun(c echo.Context) (*models.Workflow, string, llm.Client, error) {
	wf, err := s.loadWorkflow(c)
	if err != nil {
		return nil, "", nil, err
	}

	var req runRequest
	if err := c.Bind(&req); err != nil || req.InputText == "" {
		return nil, "", nil, echo.NewHTTPError(http.StatusBadRequest, "Missing input_text")
	}
	input, err := definition.ValidateInput(req.InputText)
	if err != nil {
		return nil, "", nil, echo.NewHTTPError(http.StatusBadRequest, validationMessage(err))
	}

	client, err := s.Clients.Client(c.Request().Header.Get(HeaderAPIKey))
	if err != nil {
		return nil, "", nil, echo.NewHTTPError(http.StatusBadRequest, orchestrator.HumanizeError(err))
	}
	return wf, input, client, nil
}

// runWorkflow handles POST /api/workflows/:id/run and blocks until the run
// finishes.
func (s *Server) runWorkflow(c echo.Context) error {
	wf, input, client, err := s.prepareRun(c)
	if err != nil {
		return err
	}

	result, err := s.Orchestrator.Run(c.Request().Context(), wf, input, client, nil)
	if err != nil {
		return echo.NewHTTPError(runErrorStatus(err), orchestrator.HumanizeError(err))
	}
	return c.JSON(http.StatusOK, result)
}

// streamWorkflow handles POST /api/workflows/:id/run_stream, writing one
// NDJSON event per line as the run progresses.
func (s *Server) streamWorkflow(c echo.Context) error {
	wf, input, client, err := s.prepareRun(c)
	if err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	res.Header().Set("Cache-Control", "no-cache")
	res.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(res)
	enc.SetEscapeHTML(false)
	emit := func(ev orchestrator.Event) {
		if err := enc.Encode(ev); err != nil {
			s.Log.Warn().Err(err).Msg("failed to write stream event")
			return
		}
		res.Flush()
	}

	if _, err := s.Orchestrator.Run(c.Request().Context(), wf, input, client, emit); err != nil {
		s.Log.Debug().Err(err).Msg("streamed run failed")
	}
	return nil
}

func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, llm.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, actions.ErrUnknownAction), errors.Is(err, llm.ErrMissingCredential):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// validationMessage drops the sentinel prefix from validation errors.
func validationMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{definition.ErrInvalidWorkflow, definition.ErrInvalidInput} {
		msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	}
	return msg
}
