package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/network"
	"github.com/fleetforge/fleetforge/internal/vmservice"
	"github.com/fleetforge/fleetforge/pkg/model"
)

func (s *Server) attachNic(c echo.Context) error {
	var req nicSpecDTO
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.BridgeName == "" {
		return respondErr(c, apierr.Validation("bridge_name is required"))
	}
	if err := network.ValidateVLANID(req.VLANID); err != nil {
		return respondErr(c, err)
	}
	nic, err := s.vms.AttachNic(c.Request().Context(), c.Param("id"), vmservice.NICSpec{
		BridgeName: req.BridgeName,
		VLANID:     req.VLANID,
		RxLimit:    req.RxLimit,
		TxLimit:    req.TxLimit,
	})
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, nic)
}

func (s *Server) detachNic(c echo.Context) error {
	if err := s.vms.DetachNic(c.Request().Context(), c.Param("id"), c.Param("nicId")); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listNics(c echo.Context) error {
	nics, err := s.st.ListNicsByVM(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondErr(c, err)
	}
	if nics == nil {
		nics = []*model.VmNic{}
	}
	return c.JSON(http.StatusOK, nics)
}
