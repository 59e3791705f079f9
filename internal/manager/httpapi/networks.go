package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/network"
)

type createNetworkRequest struct {
	HostID     string `json:"host_id"`
	BridgeName string `json:"bridge_name"`
	VLANID     *int   `json:"vlan_id,omitempty"`
}

// createNetwork exposes Network registration as an explicit operator
// action for the standard-CRUD surface spec.md names, even though most
// Networks come into being implicitly via AttachNic's GetOrCreateNetwork
// call during VM creation (spec.md §4.8).
func (s *Server) createNetwork(c echo.Context) error {
	var req createNetworkRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.HostID == "" || req.BridgeName == "" {
		return respondErr(c, apierr.Validation("host_id and bridge_name are required"))
	}
	if err := network.ValidateVLANID(req.VLANID); err != nil {
		return respondErr(c, err)
	}
	nw, err := s.st.GetOrCreateNetwork(c.Request().Context(), req.HostID, req.BridgeName, req.VLANID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, nw)
}

func (s *Server) listNetworks(c echo.Context) error {
	nws, err := s.st.ListNetworks(c.Request().Context())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, nws)
}

func (s *Server) getNetwork(c echo.Context) error {
	nw, err := s.st.GetNetwork(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondErr(c, mapNotFound(err, "network not found"))
	}
	return c.JSON(http.StatusOK, nw)
}
