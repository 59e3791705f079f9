package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/template"
	"github.com/fleetforge/fleetforge/pkg/model"
)

type createTemplateRequest struct {
	Name          string              `json:"name"`
	VCPU          int                 `json:"vcpu"`
	MemMiB        int                 `json:"mem_mib"`
	KernelRef     string              `json:"kernel_ref"`
	RootfsRef     string              `json:"rootfs_ref"`
	BootArgs      string              `json:"boot_args"`
	SMT           bool                `json:"smt"`
	CPUTemplate   string              `json:"cpu_template"`
	TrackDirty    bool                `json:"track_dirty"`
	RestartPolicy model.RestartPolicy `json:"restart_policy"`
	Kind          model.TemplateKind  `json:"kind"`
}

func (s *Server) createTemplate(c echo.Context) error {
	var req createTemplateRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	t, err := s.templates.Create(c.Request().Context(), template.CreateRequest{
		Name:          req.Name,
		VCPU:          req.VCPU,
		MemMiB:        req.MemMiB,
		KernelRef:     req.KernelRef,
		RootfsRef:     req.RootfsRef,
		BootArgs:      req.BootArgs,
		SMT:           req.SMT,
		CPUTemplate:   req.CPUTemplate,
		TrackDirty:    req.TrackDirty,
		RestartPolicy: req.RestartPolicy,
		Kind:          req.Kind,
	})
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (s *Server) listTemplates(c echo.Context) error {
	ts, err := s.templates.List(c.Request().Context())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, ts)
}

func (s *Server) getTemplate(c echo.Context) error {
	t, err := s.templates.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) deleteTemplate(c echo.Context) error {
	if err := s.templates.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
