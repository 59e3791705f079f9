package agentapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
)

type inventoryEntry struct {
	VMID      string `json:"vm_id"`
	UnitName  string `json:"unit_name"`
	APISocket string `json:"api_socket"`
	TAPName   string `json:"tap_name"`
	Running   bool   `json:"running"`
}

// inventory enumerates every scope this Agent believes it owns, letting
// the reconciler diff desired state against what's actually alive on the
// host without re-deriving it from scratch each tick.
func (s *Server) inventory(c echo.Context) error {
	scopes, err := s.inv.List()
	if err != nil {
		return respondErr(c, apierr.Internal("list inventory", err))
	}
	out := make([]inventoryEntry, 0, len(scopes))
	for _, sc := range scopes {
		out = append(out, inventoryEntry{
			VMID:      sc.VMID,
			UnitName:  sc.UnitName,
			APISocket: sc.APISocket,
			TAPName:   sc.TAPName,
			Running:   sc.Running,
		})
	}
	return c.JSON(http.StatusOK, out)
}
