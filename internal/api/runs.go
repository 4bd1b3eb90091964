package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mpataki/textflow/internal/models"
	"github.com/mpataki/textflow/internal/storage"
)

const maxListLimit = 100

type stepRunResponse struct {
	Step     int           `json:"step"`
	Action   models.Action `json:"action"`
	Output   string        `json:"output"`
	Attempts int           `json:"attempts"`
}

type runResponse struct {
	ID          string            `json:"id"`
	WorkflowID  string            `json:"workflow_id"`
	InputText   string            `json:"input_text"`
	Status      models.RunStatus  `json:"status"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	StepRuns    []stepRunResponse `json:"step_runs"`
}

func newRunResponse(run *models.Run) runResponse {
	resp := runResponse{
		ID:          run.ID,
		WorkflowID:  run.WorkflowID,
		InputText:   run.InputText,
		Status:      run.Status,
		Error:       run.Error,
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt,
		StepRuns:    make([]stepRunResponse, 0, len(run.StepRuns)),
	}
	for _, s := range run.StepRuns {
		resp.StepRuns = append(resp.StepRuns, stepRunResponse{
			Step:     s.StepOrder,
			Action:   s.Action,
			Output:   s.OutputText,
			Attempts: s.Attempts,
		})
	}
	return resp
}

// listRuns handles GET /api/runs?limit=N, newest first.
func (s *Server) listRuns(c echo.Context) error {
	runs, err := s.Orchestrator.ListRuns(c.Request().Context(), queryLimit(c, 5))
	if err != nil {
		s.Log.Error().Err(err).Msg("failed to fetch runs")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch run history")
	}

	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, newRunResponse(run))
	}
	return c.JSON(http.StatusOK, resp)
}

// getRun handles GET /api/runs/:id.
func (s *Server) getRun(c echo.Context) error {
	run, err := s.Orchestrator.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Run not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newRunResponse(run))
}

// deleteRun handles DELETE /api/runs/:id.
func (s *Server) deleteRun(c echo.Context) error {
	err := s.Orchestrator.DeleteRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Run not found")
	}
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// queryLimit reads ?limit=, falling back to def for missing or invalid
// values and capping at maxListLimit.
func queryLimit(c echo.Context, def int) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxListLimit)
}
