package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/petrijr/contentflow/internal/queue"
	"github.com/petrijr/contentflow/pkg/api"
)

type (
	AddPromptRequest struct {
		Prompt           string `json:"prompt"`
		SkipContentCheck bool   `json:"skip_content_check,omitempty"`
	}

	AddPromptResponse struct {
		Index int `json:"index"`
	}

	UpdatePromptRequest struct {
		Prompt string `json:"prompt"`
	}

	MovePromptRequest struct {
		From int `json:"from"`
		To   int `json:"to"`
	}

	QueueEnabledRequest struct {
		Enabled bool `json:"enabled"`
	}

	QueueResponse struct {
		Items []api.QueueItem `json:"items"`
		Count int             `json:"count"`
	}

	ClearResponse struct {
		Removed int `json:"removed"`
	}

	// DuplicateResponse describes a refused prompt.
	DuplicateResponse struct {
		ErrorResponse
		QueueIndex int    `json:"queue_index"`
		Title      string `json:"title,omitempty"`
		MatchKind  string `json:"match_kind,omitempty"`
	}
)

func queueKey(c *gin.Context) (string, string) {
	return c.Param("instanceID"), c.Param("stepRefID")
}

func (s *Server) index(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		s.fail(c, fmt.Errorf("%w: index %q is not a number", api.ErrValidation, c.Param("index")))
		return 0, false
	}
	return i, true
}

func (s *Server) listQueue(c *gin.Context) {
	inst, ref := queueKey(c)
	items, err := s.svc.Queue.List(c.Request.Context(), inst, ref)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, QueueResponse{Items: items, Count: len(items)})
}

func (s *Server) addPrompt(c *gin.Context) {
	var req AddPromptRequest
	if !s.bind(c, &req) {
		return
	}
	inst, ref := queueKey(c)
	idx, err := s.svc.Queue.Add(c.Request.Context(), inst, ref, req.Prompt, queue.AddOptions{
		SkipContentCheck: req.SkipContentCheck,
	})
	var dup *queue.DuplicateError
	if errors.As(err, &dup) {
		resp := DuplicateResponse{
			ErrorResponse: ErrorResponse{Error: dup.Error(), Status: http.StatusConflict},
			QueueIndex:    dup.QueueIndex,
		}
		if dup.Content != nil {
			resp.Title = dup.Content.Record.Title
			resp.MatchKind = string(dup.Content.Kind)
		}
		c.JSON(http.StatusConflict, resp)
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, AddPromptResponse{Index: idx})
}

func (s *Server) clearQueue(c *gin.Context) {
	inst, ref := queueKey(c)
	n, err := s.svc.Queue.Clear(c.Request.Context(), inst, ref)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ClearResponse{Removed: n})
}

func (s *Server) updatePrompt(c *gin.Context) {
	i, ok := s.index(c)
	if !ok {
		return
	}
	var req UpdatePromptRequest
	if !s.bind(c, &req) {
		return
	}
	inst, ref := queueKey(c)
	if err := s.svc.Queue.Update(c.Request.Context(), inst, ref, i, req.Prompt); err != nil {
		s.fail(c, err)
		return
	}
	s.listQueue(c)
}

func (s *Server) removePrompt(c *gin.Context) {
	i, ok := s.index(c)
	if !ok {
		return
	}
	inst, ref := queueKey(c)
	if err := s.svc.Queue.Remove(c.Request.Context(), inst, ref, i); err != nil {
		s.fail(c, err)
		return
	}
	s.listQueue(c)
}

func (s *Server) movePrompt(c *gin.Context) {
	var req MovePromptRequest
	if !s.bind(c, &req) {
		return
	}
	inst, ref := queueKey(c)
	if err := s.svc.Queue.Move(c.Request.Context(), inst, ref, req.From, req.To); err != nil {
		s.fail(c, err)
		return
	}
	s.listQueue(c)
}

func (s *Server) setQueueEnabled(c *gin.Context) {
	var req QueueEnabledRequest
	if !s.bind(c, &req) {
		return
	}
	inst, ref := queueKey(c)
	if err := s.svc.Queue.SetQueueEnabled(c.Request.Context(), inst, ref, req.Enabled); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: fmt.Sprintf("Queue enabled: %t", req.Enabled)})
}

// validateQueue checks queued prompts against produced content. Matches
// are removed unless dry_run=true.
func (s *Server) validateQueue(c *gin.Context) {
	dryRun, _ := strconv.ParseBool(c.Query("dry_run"))
	inst, ref := queueKey(c)
	report, err := s.svc.Queue.Validate(c.Request.Context(), inst, ref, dryRun)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
