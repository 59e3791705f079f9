package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
)

type attachDriveRequest struct {
	VolumeID string `json:"volume_id"`
	Order    int    `json:"order"`
}

func (s *Server) attachDrive(c echo.Context) error {
	var req attachDriveRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.VolumeID == "" {
		return respondErr(c, apierr.Validation("volume_id is required"))
	}
	if err := s.vms.AttachVolume(c.Request().Context(), c.Param("id"), req.VolumeID, req.Order); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) detachDrive(c echo.Context) error {
	if err := s.vms.DetachVolume(c.Request().Context(), c.Param("id"), c.Param("driveId")); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listDrives(c echo.Context) error {
	attachments, err := s.st.ListAttachmentsByVM(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, attachments)
}
