package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/pkg/model"
)

type createVolumeRequest struct {
	Name      string           `json:"name"`
	Path      string           `json:"path"`
	SizeBytes int64            `json:"size_bytes"`
	Type      model.VolumeType `json:"type"`
	HostID    string           `json:"host_id"`
}

func (s *Server) createVolume(c echo.Context) error {
	var req createVolumeRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.Name == "" || req.Path == "" || req.HostID == "" {
		return respondErr(c, apierr.Validation("name, path and host_id are required"))
	}
	if req.Type == "" {
		req.Type = model.VolumeExt4
	}
	v := &model.Volume{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Path:      req.Path,
		SizeBytes: req.SizeBytes,
		Type:      req.Type,
		HostID:    req.HostID,
		Status:    model.VolumeAvailable,
		CreatedAt: time.Now(),
	}
	if err := s.st.CreateVolume(c.Request().Context(), v); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (s *Server) listVolumes(c echo.Context) error {
	vols, err := s.st.ListVolumesByHost(c.Request().Context(), c.QueryParam("host_id"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, vols)
}

func (s *Server) getVolume(c echo.Context) error {
	v, err := s.st.GetVolume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondErr(c, mapNotFound(err, "volume not found"))
	}
	return c.JSON(http.StatusOK, v)
}

func (s *Server) deleteVolume(c echo.Context) error {
	if err := s.st.DeleteVolume(c.Request().Context(), c.Param("id")); err != nil {
		return respondErr(c, mapNotFound(err, "volume not found"))
	}
	return c.NoContent(http.StatusNoContent)
}
