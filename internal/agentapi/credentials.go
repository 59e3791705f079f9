package agentapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/hostexec"
)

type injectCredentialsRequest struct {
	VMID       string `json:"vm_id"`
	RootfsPath string `json:"rootfs_path"`
	CredUser   string `json:"cred_user"`
	CredHash   string `json:"cred_hash"`
	ManagerURL string `json:"manager_url"`

	FunctionSourcePath string   `json:"function_source_path,omitempty"`
	ReloadCommand      []string `json:"reload_command,omitempty"`
}

// injectCredentials mounts rootfsPath at a scratch mount point under the
// VM's own directory, delegating the shadow-entry overwrite and
// guest-agent-unit install to hostexec.InjectCredentials, which unmounts
// on every exit path.
func (s *Server) injectCredentials(c echo.Context) error {
	var req injectCredentialsRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.VMID == "" || req.RootfsPath == "" {
		return respondErr(c, apierr.Validation("vm_id and rootfs_path are required"))
	}

	mountPoint := s.cfg.StorageRoot + "/" + req.VMID + "/mnt"
	if err := hostexec.InjectCredentials(
		req.RootfsPath, mountPoint, req.CredUser, req.CredHash,
		req.ManagerURL, req.VMID, req.FunctionSourcePath, req.ReloadCommand,
	); err != nil {
		return respondErr(c, apierr.Internal("inject credentials", err))
	}
	return c.NoContent(http.StatusNoContent)
}
