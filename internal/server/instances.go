package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/petrijr/contentflow/internal/instances"
	"github.com/petrijr/contentflow/pkg/api"
)

type (
	CreateInstanceRequest struct {
		TemplateID  string                          `json:"template_id"`
		Name        string                          `json:"name"`
		Schedule    *api.ScheduleSpec               `json:"schedule,omitempty"`
		StepConfigs map[string]instances.StepConfig `json:"step_configs,omitempty"`
	}

	RenameRequest struct {
		Name string `json:"name"`
	}

	UpdateStepRequest struct {
		Handler      *string        `json:"handler,omitempty"`
		Settings     map[string]any `json:"settings,omitempty"`
		Prompt       *string        `json:"prompt,omitempty"`
		EnabledTools []string       `json:"enabled_tools,omitempty"`
	}

	DuplicateRequest struct {
		TargetTemplateID string                            `json:"target_template_id,omitempty"`
		Name             string                            `json:"name,omitempty"`
		Overrides        map[string]instances.StepOverride `json:"overrides,omitempty"`
	}

	InstanceResponse struct {
		Instance  *api.Instance `json:"instance"`
		NextRunAt *time.Time    `json:"next_run_at,omitempty"`
	}

	InstancesListResponse struct {
		Instances []*api.Instance `json:"instances"`
		Count     int             `json:"count"`
	}
)

func scheduleOf(spec *api.ScheduleSpec) (api.Schedule, error) {
	if spec == nil {
		return api.ScheduleManual{}, nil
	}
	return spec.Schedule()
}

func (s *Server) listInstances(c *gin.Context) {
	list, err := s.svc.Instances.List(c.Request.Context(), c.Query("template_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, InstancesListResponse{Instances: list, Count: len(list)})
}

func (s *Server) createInstance(c *gin.Context) {
	var req CreateInstanceRequest
	if !s.bind(c, &req) {
		return
	}
	schedule, err := scheduleOf(req.Schedule)
	if err != nil {
		s.fail(c, err)
		return
	}
	inst, err := s.svc.Instances.Create(c.Request.Context(), instances.CreateParams{
		TemplateID:  req.TemplateID,
		Name:        req.Name,
		Schedule:    schedule,
		StepConfigs: req.StepConfigs,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

func (s *Server) getInstance(c *gin.Context) {
	ctx := c.Request.Context()
	inst, err := s.svc.Instances.Get(ctx, c.Param("instanceID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := InstanceResponse{Instance: inst}
	if s.svc.Schedules != nil {
		next, err := s.svc.Schedules.NextRun(ctx, inst.ID)
		if err != nil {
			s.fail(c, err)
			return
		}
		resp.NextRunAt = next
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) deleteInstance(c *gin.Context) {
	if err := s.svc.Instances.Delete(c.Request.Context(), c.Param("instanceID")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "Instance deleted"})
}

func (s *Server) renameInstance(c *gin.Context) {
	var req RenameRequest
	if !s.bind(c, &req) {
		return
	}
	inst, err := s.svc.Instances.Rename(c.Request.Context(), c.Param("instanceID"), req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) updateSchedule(c *gin.Context) {
	var spec api.ScheduleSpec
	if !s.bind(c, &spec) {
		return
	}
	schedule, err := spec.Schedule()
	if err != nil {
		s.fail(c, err)
		return
	}
	inst, err := s.svc.Instances.UpdateSchedule(c.Request.Context(), c.Param("instanceID"), schedule)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) updateStep(c *gin.Context) {
	var req UpdateStepRequest
	if !s.bind(c, &req) {
		return
	}
	inst, err := s.svc.Instances.UpdateStep(c.Request.Context(), c.Param("instanceID"), c.Param("stepRefID"), instances.StepUpdate{
		Handler:      req.Handler,
		Settings:     req.Settings,
		Prompt:       req.Prompt,
		EnabledTools: req.EnabledTools,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) duplicateInstance(c *gin.Context) {
	var req DuplicateRequest
	if c.Request.ContentLength != 0 && !s.bind(c, &req) {
		return
	}
	inst, err := s.svc.Instances.Duplicate(c.Request.Context(), c.Param("instanceID"), instances.DuplicateParams{
		TargetTemplateID: req.TargetTemplateID,
		Name:             req.Name,
		Overrides:        req.Overrides,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

// runInstance executes a run synchronously and returns it.
func (s *Server) runInstance(c *gin.Context) {
	run, err := s.svc.Engine.RunInstance(c.Request.Context(), c.Param("instanceID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
