package agentapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/hostexec"
)

type mountRequest struct {
	VolumePath string `json:"volume_path"`
	MountPoint string `json:"mount_point"`
}

func (s *Server) mount(c echo.Context) error {
	var req mountRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.VolumePath == "" || req.MountPoint == "" {
		return respondErr(c, apierr.Validation("volume_path and mount_point are required"))
	}
	if err := hostexec.Mount(req.VolumePath, req.MountPoint); err != nil {
		return respondErr(c, apierr.Internal("mount volume", err))
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) unmount(c echo.Context) error {
	var req struct {
		MountPoint string `json:"mount_point"`
	}
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.MountPoint == "" {
		return respondErr(c, apierr.Validation("mount_point is required"))
	}
	if err := hostexec.Unmount(req.MountPoint); err != nil {
		return respondErr(c, apierr.Internal("unmount volume", err))
	}
	return c.NoContent(http.StatusNoContent)
}
