package agentapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/hostexec"
)

type ensureBridgeRequest struct {
	BridgeName string `json:"bridge_name"`
	VLANID     *int   `json:"vlan_id,omitempty"`
	CIDR       string `json:"cidr"`
}

func (s *Server) ensureBridge(c echo.Context) error {
	var req ensureBridgeRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.BridgeName == "" {
		return respondErr(c, apierr.Validation("bridge_name is required"))
	}
	if err := hostexec.EnsureBridge(req.BridgeName, req.CIDR, req.VLANID); err != nil {
		return respondErr(c, apierr.Internal("ensure bridge", err))
	}
	return c.NoContent(http.StatusNoContent)
}

type createTapRequest struct {
	TAPName    string `json:"tap_name"`
	BridgeName string `json:"bridge_name"`
	VLANID     *int   `json:"vlan_id,omitempty"`

	// VMID lets the Agent record which TAP belongs to which VM's scope,
	// for the reconciler's tap-liveness check; optional only because
	// some callers (e.g. a future standalone network CLI) may not have
	// a VM in play.
	VMID string `json:"vm_id,omitempty"`
}

func (s *Server) createTap(c echo.Context) error {
	var req createTapRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.TAPName == "" || req.BridgeName == "" {
		return respondErr(c, apierr.Validation("tap_name and bridge_name are required"))
	}
	if err := hostexec.CreateTap(req.TAPName, req.BridgeName, req.VLANID); err != nil {
		return respondErr(c, apierr.Internal("create tap", err))
	}
	if req.VMID != "" {
		if err := s.inv.SetTap(req.VMID, req.TAPName); err != nil {
			return respondErr(c, apierr.Internal("record tap", err))
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteTap(c echo.Context) error {
	if err := hostexec.DeleteTap(c.Param("tapName")); err != nil {
		return respondErr(c, apierr.Internal("delete tap", err))
	}
	return c.NoContent(http.StatusNoContent)
}
