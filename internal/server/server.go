package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/petrijr/contentflow/internal/instances"
	"github.com/petrijr/contentflow/internal/queue"
	"github.com/petrijr/contentflow/internal/templates"
	"github.com/petrijr/contentflow/pkg/api"
)

type (
	// Schedules reports when an instance runs next.
	Schedules interface {
		NextRun(ctx context.Context, instanceID string) (*time.Time, error)
	}

	// Services are the operations the API exposes.
	Services struct {
		Templates *templates.Service
		Instances *instances.Service
		Queue     *queue.Service
		Engine    api.Engine
		Schedules Schedules

		// ProblemThreshold is the default threshold of /problems.
		ProblemThreshold func() int
	}

	// Server implements the HTTP API
	Server struct {
		svc    Services
		logger *slog.Logger
	}

	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	MessageResponse struct {
		Message string `json:"message"`
	}
)

var ErrInvalidJSON = errors.New("invalid JSON request")

// NewServer creates a new HTTP API server
func NewServer(svc Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if svc.ProblemThreshold == nil {
		svc.ProblemThreshold = func() int { return 0 }
	}
	return &Server{svc: svc, logger: logger}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return s.logger
		}),
	))

	router.GET("/health", s.handleHealth)

	v1 := router.Group("/api")
	{
		v1.GET("/templates", s.listTemplates)
		v1.POST("/templates", s.createTemplate)
		v1.GET("/templates/:templateID", s.getTemplate)
		v1.DELETE("/templates/:templateID", s.deleteTemplate)
		v1.POST("/templates/:templateID/steps", s.addStep)
		v1.PUT("/templates/:templateID/steps", s.reorderSteps)
		v1.DELETE("/templates/:templateID/steps/:stepID", s.removeStep)
		v1.PUT("/templates/:templateID/steps/:stepID/config", s.updateStepConfig)

		v1.GET("/instances", s.listInstances)
		v1.POST("/instances", s.createInstance)
		v1.GET("/instances/:instanceID", s.getInstance)
		v1.DELETE("/instances/:instanceID", s.deleteInstance)
		v1.PUT("/instances/:instanceID/name", s.renameInstance)
		v1.PUT("/instances/:instanceID/schedule", s.updateSchedule)
		v1.PUT("/instances/:instanceID/steps/:stepRefID", s.updateStep)
		v1.POST("/instances/:instanceID/duplicate", s.duplicateInstance)
		v1.POST("/instances/:instanceID/runs", s.runInstance)

		q := v1.Group("/instances/:instanceID/steps/:stepRefID/queue")
		q.GET("", s.listQueue)
		q.POST("", s.addPrompt)
		q.DELETE("", s.clearQueue)
		q.PUT("/:index", s.updatePrompt)
		q.DELETE("/:index", s.removePrompt)
		q.POST("/move", s.movePrompt)
		q.PUT("/enabled", s.setQueueEnabled)
		q.POST("/validate", s.validateQueue)

		v1.GET("/runs", s.listRuns)
		v1.GET("/runs/:runID", s.getRun)
		v1.POST("/runs/direct", s.runDirect)
		v1.GET("/problems", s.listProblems)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, api.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrDuplicate),
		errors.Is(err, api.ErrIncompatibleStructure),
		errors.Is(err, api.ErrRunNotPending):
		return http.StatusConflict
	case errors.Is(err, api.ErrValidation),
		errors.Is(err, api.ErrOutOfRange),
		errors.Is(err, api.ErrInvalidOrder):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Status: status})
}

func (s *Server) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  ErrInvalidJSON.Error() + ": " + err.Error(),
			Status: http.StatusBadRequest,
		})
		return false
	}
	return true
}
