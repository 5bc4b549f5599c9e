package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/petrijr/contentflow/pkg/api"
)

type (
	CreateTemplateRequest struct {
		Name  string               `json:"name"`
		Steps []api.StepDefinition `json:"steps"`
	}

	AddStepRequest struct {
		Step api.StepDefinition `json:"step"`

		// Position is the zero-based insert position; omitted appends.
		Position *int `json:"position,omitempty"`
	}

	ReorderStepsRequest struct {
		Order []string `json:"order"`
	}

	StepConfigRequest struct {
		Config map[string]any `json:"config"`
	}

	TemplatesListResponse struct {
		Templates []*api.Template `json:"templates"`
		Count     int             `json:"count"`
	}
)

func (s *Server) listTemplates(c *gin.Context) {
	list, err := s.svc.Templates.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, TemplatesListResponse{Templates: list, Count: len(list)})
}

func (s *Server) createTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if !s.bind(c, &req) {
		return
	}
	tpl, err := s.svc.Templates.Create(c.Request.Context(), req.Name, req.Steps)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

func (s *Server) getTemplate(c *gin.Context) {
	tpl, err := s.svc.Templates.Get(c.Request.Context(), c.Param("templateID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (s *Server) deleteTemplate(c *gin.Context) {
	if err := s.svc.Templates.Delete(c.Request.Context(), c.Param("templateID")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "Template deleted"})
}

func (s *Server) addStep(c *gin.Context) {
	var req AddStepRequest
	if !s.bind(c, &req) {
		return
	}
	pos := -1
	if req.Position != nil {
		pos = *req.Position
	}
	tpl, err := s.svc.Templates.AddStep(c.Request.Context(), c.Param("templateID"), req.Step, pos)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (s *Server) reorderSteps(c *gin.Context) {
	var req ReorderStepsRequest
	if !s.bind(c, &req) {
		return
	}
	tpl, err := s.svc.Templates.ReorderSteps(c.Request.Context(), c.Param("templateID"), req.Order)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (s *Server) removeStep(c *gin.Context) {
	tpl, err := s.svc.Templates.RemoveStep(c.Request.Context(), c.Param("templateID"), c.Param("stepID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (s *Server) updateStepConfig(c *gin.Context) {
	var req StepConfigRequest
	if !s.bind(c, &req) {
		return
	}
	tpl, err := s.svc.Templates.UpdateStepConfig(c.Request.Context(), c.Param("templateID"), c.Param("stepID"), req.Config)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}
