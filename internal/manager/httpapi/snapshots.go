package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/snapshot"
	"github.com/fleetforge/fleetforge/pkg/model"
)

type createSnapshotRequest struct {
	Name     string             `json:"name"`
	Type     model.SnapshotType `json:"type"`
	ParentID *string            `json:"parent_id,omitempty"`
	Resume   bool               `json:"resume"`
}

func (s *Server) createSnapshot(c echo.Context) error {
	var req createSnapshotRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.Type == "" {
		req.Type = model.SnapshotFull
	}
	sn, err := s.snapshots.Create(c.Request().Context(), snapshot.CreateRequest{
		VMID:     c.Param("id"),
		Name:     req.Name,
		Type:     req.Type,
		ParentID: req.ParentID,
		Resume:   req.Resume,
	})
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, sn)
}

func (s *Server) listSnapshots(c echo.Context) error {
	snaps, err := s.snapshots.ListByVM(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, snaps)
}

func (s *Server) getSnapshot(c echo.Context) error {
	sn, err := s.snapshots.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, sn)
}

func (s *Server) deleteSnapshot(c echo.Context) error {
	if err := s.snapshots.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type instantiateSnapshotRequest struct {
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

func (s *Server) instantiateSnapshot(c echo.Context) error {
	var req instantiateSnapshotRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.Name == "" || req.OwnerID == "" {
		return respondErr(c, apierr.Validation("name and owner_id are required"))
	}
	vm, err := s.snapshots.Instantiate(c.Request().Context(), snapshot.InstantiateRequest{
		SnapshotID: c.Param("id"),
		Name:       req.Name,
		OwnerID:    req.OwnerID,
	})
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, vm)
}
