package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/pkg/model"
)

type registerHostRequest struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	CPUs    int    `json:"cpus"`
	MemMiB  int    `json:"mem_mib"`
	DiskMiB int    `json:"disk_mib"`
}

// registerHost and hostHeartbeat give the literal register/heartbeat
// endpoints spec.md §6 names, complementing (not replacing) the
// Redis-backed publish/subscribe discovery internal/hostregistry runs
// continuously — both paths converge on the same UpsertHost/
// UpdateHeartbeat store calls, so either one alone keeps a host current.
func (s *Server) registerHost(c echo.Context) error {
	var req registerHostRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.ID == "" || req.Address == "" {
		return respondErr(c, apierr.Validation("id and address are required"))
	}
	h := &model.Host{
		ID:              req.ID,
		Address:         req.Address,
		CPUs:            req.CPUs,
		MemMiB:          req.MemMiB,
		DiskMiB:         req.DiskMiB,
		LastHeartbeatAt: time.Now(),
		Status:          model.HostHealthy,
		CreatedAt:       time.Now(),
	}
	if err := s.st.UpsertHost(c.Request().Context(), h); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, h)
}

type heartbeatRequest struct {
	CPUs    int `json:"cpus"`
	MemMiB  int `json:"mem_mib"`
	DiskMiB int `json:"disk_mib"`
}

func (s *Server) hostHeartbeat(c echo.Context) error {
	var req heartbeatRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if err := s.st.UpdateHeartbeat(c.Request().Context(), c.Param("id"), req.CPUs, req.MemMiB, req.DiskMiB, time.Now()); err != nil {
		return respondErr(c, mapNotFound(err, "host not found"))
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listHosts(c echo.Context) error {
	hosts, err := s.st.ListHosts(c.Request().Context())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, hosts)
}

func (s *Server) getHost(c echo.Context) error {
	h, err := s.st.GetHost(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondErr(c, mapNotFound(err, "host not found"))
	}
	return c.JSON(http.StatusOK, h)
}
