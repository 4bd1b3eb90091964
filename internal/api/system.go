package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mpataki/textflow/internal/models"
)

const maxAPIKeyLength = 256

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Error    string `json:"error,omitempty"`
}

// health handles GET /api/health.
func (s *Server) health(c echo.Context) error {
	if err := s.Store.Ping(c.Request().Context()); err != nil {
		s.Log.Error().Err(err).Msg("health check failed")
		return c.JSON(http.StatusInternalServerError, healthResponse{Status: "unhealthy", Error: "Service unavailable"})
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "healthy", Database: "connected"})
}

type validateKeyRequest struct {
	APIKey *string `json:"api_key"`
}

type validateKeyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// validateKey handles POST /api/validate-key.
func (s *Server) validateKey(c echo.Context) error {
	var req validateKeyRequest
	if err := c.Bind(&req); err != nil || req.APIKey == nil {
		return c.JSON(http.StatusBadRequest, validateKeyResponse{Error: "API key missing"})
	}

	key := strings.TrimSpace(*req.APIKey)
	switch {
	case key == "":
		return c.JSON(http.StatusBadRequest, validateKeyResponse{Error: "API key empty"})
	case len(key) > maxAPIKeyLength:
		return c.JSON(http.StatusBadRequest, validateKeyResponse{Error: "API key exceeds maximum length"})
	}

	if err := s.Clients.ValidateKey(c.Request().Context(), key); err != nil {
		s.Log.Warn().Err(err).Msg("API key validation failed")
		return c.JSON(http.StatusUnauthorized, validateKeyResponse{Error: "Invalid API Key or connection failed"})
	}

	s.Log.Info().Msg("API key validated")
	return c.JSON(http.StatusOK, validateKeyResponse{Valid: true})
}

type actionResponse struct {
	Action  models.Action `json:"action"`
	Fields  []string      `json:"fields"`
	Generic bool          `json:"generic"`
}

// listActions handles GET /api/actions.
func (s *Server) listActions(c echo.Context) error {
	var resp []actionResponse
	for _, a := range s.Registry.Actions() {
		schema, err := s.Registry.Schema(a)
		if err != nil {
			return err
		}
		resp = append(resp, actionResponse{Action: a, Fields: schema.Fields(), Generic: schema.Generic})
	}
	return c.JSON(http.StatusOK, resp)
}
