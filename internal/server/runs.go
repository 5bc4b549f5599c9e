package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/petrijr/contentflow/internal/engine"
	"github.com/petrijr/contentflow/pkg/api"
)

type (
	RunsListResponse struct {
		Runs  []*api.Run `json:"runs"`
		Count int        `json:"count"`
	}

	ProblemsResponse struct {
		Threshold int                   `json:"threshold"`
		Problems  []api.ProblemInstance `json:"problems"`
	}
)

func (s *Server) listRuns(c *gin.Context) {
	opts := api.RunListOptions{
		InstanceID: c.Query("instance_id"),
		Status:     api.RunStatus(c.Query("status")),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(c, fmt.Errorf("%w: invalid limit %q", api.ErrValidation, v))
			return
		}
		opts.Limit = n
	}

	runs, err := s.svc.Engine.ListRuns(c.Request.Context(), opts)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, RunsListResponse{Runs: runs, Count: len(runs)})
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.svc.Engine.GetRun(c.Request.Context(), c.Param("runID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// runDirect executes a transient snapshot without touching instances.
func (s *Server) runDirect(c *gin.Context) {
	var snap api.Snapshot
	if !s.bind(c, &snap) {
		return
	}
	run, err := s.svc.Engine.RunDirect(c.Request.Context(), snap)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) listProblems(c *gin.Context) {
	threshold := s.svc.ProblemThreshold()
	if threshold <= 0 {
		threshold = engine.DefaultProblemThreshold
	}
	if v := c.Query("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(c, fmt.Errorf("%w: invalid threshold %q", api.ErrValidation, v))
			return
		}
		threshold = n
	}

	problems, err := s.svc.Engine.ProblemInstances(c.Request.Context(), threshold)
	if err != nil {
		s.fail(c, err)
		return
	}
	if problems == nil {
		problems = []api.ProblemInstance{}
	}
	c.JSON(http.StatusOK, ProblemsResponse{Threshold: threshold, Problems: problems})
}
