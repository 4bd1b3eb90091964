// Package api serves workflows and runs over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/mpataki/textflow/internal/actions"
	"github.com/mpataki/textflow/internal/llm"
	"github.com/mpataki/textflow/internal/metrics"
	"github.com/mpataki/textflow/internal/orchestrator"
	"github.com/mpataki/textflow/internal/storage"
)

// HeaderAPIKey carries the caller's LLM provider credential.
const HeaderAPIKey = "x-groq-api-key"

const tracingService = "textflow-api"

// ClientFactory resolves the LLM client for a request credential.
type ClientFactory interface {
	Client(credential string) (llm.Client, error)
	ValidateKey(ctx context.Context, credential string) error
}

type Deps struct {
	Store        storage.Store
	Orchestrator *orchestrator.Orchestrator
	Registry     *actions.Registry
	Clients      ClientFactory
	Metrics      *metrics.Recorder
	Log          zerolog.Logger
}

type Options struct {
	// RateLimitPerMinute applies per client IP to the run endpoints.
	RateLimitPerMinute int
	CORSOrigins        []string
	// TracerProvider enables a server span per request when set.
	TracerProvider trace.TracerProvider
}

type Server struct {
	Deps
	echo *echo.Echo
}

func NewServer(deps Deps, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{Deps: deps, echo: e}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if opts.TracerProvider != nil {
		e.Use(otelecho.Middleware(tracingService, otelecho.WithTracerProvider(opts.TracerProvider)))
	}
	e.Use(s.requestLogger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: opts.CORSOrigins,
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept, HeaderAPIKey},
	}))

	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	g := e.Group("/api")
	g.GET("/health", s.health, rateLimit(30))
	g.POST("/validate-key", s.validateKey, rateLimit(10))

	g.GET("/actions", s.listActions)
	g.POST("/workflows", s.createWorkflow)
	g.GET("/workflows", s.listWorkflows)
	g.GET("/workflows/:id", s.getWorkflow)

	runLimit := rateLimit(opts.RateLimitPerMinute)
	g.POST("/workflows/:id/run", s.runWorkflow, runLimit)
	g.POST("/workflows/:id/run_stream", s.streamWorkflow, runLimit)

	g.GET("/runs", s.listRuns, rateLimit(60))
	g.GET("/runs/:id", s.getRun)
	g.DELETE("/runs/:id", s.deleteRun)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.Log.Info().Str("addr", addr).Msg("server starting")
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleError renders every error as {"error": message}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	} else {
		s.Log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, errorResponse{Error: msg})
	}
	if err != nil {
		s.Log.Error().Err(err).Msg("failed to write error response")
	}
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.Log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = s.Log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}

// rateLimit allows perMinute requests per client IP, with the whole
// minute's allowance available as a burst. Zero disables limiting.
func rateLimit(perMinute int) echo.MiddlewareFunc {
	if perMinute <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(perMinute) / 60),
		Burst:     perMinute,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "Unable to identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
		},
	})
}
