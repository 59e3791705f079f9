package agentapi

import (
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/agentinventory"
	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/hostexec"
)

const spawnSocketDeadline = 5 * time.Second

type spawnRequest struct {
	VMID      string `json:"vm_id"`
	UnitName  string `json:"unit_name"`
	APISocket string `json:"api_socket"`
}

type spawnResponse struct {
	PID int `json:"pid"`
}

// spawn launches Firecracker under a detached screen session and blocks
// until its API socket exists or spawnSocketDeadline elapses, matching
// the Manager's expectation that Spawn returning success means the
// socket is already dialable.
func (s *Server) spawn(c echo.Context) error {
	var req spawnRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.VMID == "" || req.UnitName == "" || req.APISocket == "" {
		return respondErr(c, apierr.Validation("vm_id, unit_name and api_socket are required"))
	}

	pid, err := hostexec.Spawn(req.VMID, s.cfg.FirecrackerBin, req.APISocket)
	if err != nil {
		return respondErr(c, apierr.Internal("spawn firecracker", err))
	}

	if !waitForSocket(req.APISocket, spawnSocketDeadline) {
		_ = hostexec.Stop(req.APISocket)
		return respondErr(c, apierr.Precondition("firecracker did not open its api socket before the spawn deadline"))
	}

	// Preserve whatever TAP create-tap already recorded for this VM — it
	// runs earlier in the pre-boot sequence and Put would otherwise blank
	// tap_name back out, since spawnRequest doesn't carry it.
	existing, _, _ := s.inv.Get(req.VMID)
	if err := s.inv.Put(agentinventory.Scope{
		VMID:      req.VMID,
		UnitName:  req.UnitName,
		APISocket: req.APISocket,
		TAPName:   existing.TAPName,
		Running:   true,
	}); err != nil {
		return respondErr(c, apierr.Internal("record vmm scope", err))
	}

	return c.JSON(http.StatusCreated, spawnResponse{PID: pid})
}

// stop terminates the scope recorded for unitName and marks it not
// running in the inventory. The scope row itself is kept so a later
// start can resume from the same api_socket path.
func (s *Server) stop(c echo.Context) error {
	unitName := c.Param("unitName")
	scope, ok := s.findByUnitName(unitName)
	if !ok {
		return c.NoContent(http.StatusNoContent) // already gone, stop is idempotent
	}
	if err := hostexec.Stop(scope.APISocket); err != nil {
		return respondErr(c, apierr.Internal("stop firecracker", err))
	}
	if err := s.inv.SetRunning(scope.VMID, false); err != nil {
		return respondErr(c, apierr.Internal("update vmm scope", err))
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) findByUnitName(unitName string) (agentinventory.Scope, bool) {
	scopes, err := s.inv.List()
	if err != nil {
		return agentinventory.Scope{}, false
	}
	for _, sc := range scopes {
		if sc.UnitName == unitName {
			return sc, true
		}
	}
	return agentinventory.Scope{}, false
}

func (s *Server) prepareMetricsFifo(c echo.Context) error {
	var req struct {
		Path string `json:"path"`
	}
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.Path == "" {
		return respondErr(c, apierr.Validation("path is required"))
	}
	if err := hostexec.PrepareMetricsFifo(req.Path); err != nil {
		return respondErr(c, apierr.Internal("prepare metrics fifo", err))
	}
	return c.NoContent(http.StatusNoContent)
}

func waitForSocket(path string, deadline time.Duration) bool {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	_, err := os.Stat(path)
	return err == nil
}
