package agentapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/hostexec"
)

type prepareStorageRequest struct {
	VMID            string `json:"vm_id"`
	RootfsImagePath string `json:"rootfs_image_path"`
}

type prepareStorageResponse struct {
	VMDir           string `json:"vm_dir"`
	RootfsPath      string `json:"rootfs_path"`
	APISocket       string `json:"api_socket"`
	LogPath         string `json:"log_path"`
	MetricsFifoPath string `json:"metrics_fifo_path"`
}

func (s *Server) prepareStorage(c echo.Context) error {
	var req prepareStorageRequest
	if err := c.Bind(&req); err != nil {
		return bindErr(c, err)
	}
	if req.VMID == "" || req.RootfsImagePath == "" {
		return respondErr(c, apierr.Validation("vm_id and rootfs_image_path are required"))
	}
	layout, err := hostexec.PrepareStorage(s.cfg.StorageRoot, req.VMID, req.RootfsImagePath)
	if err != nil {
		return respondErr(c, apierr.Internal("prepare storage", err))
	}
	return c.JSON(http.StatusCreated, prepareStorageResponse{
		VMDir:           layout.VMDir,
		RootfsPath:      layout.RootfsPath,
		APISocket:       layout.APISocket,
		LogPath:         layout.LogPath,
		MetricsFifoPath: layout.MetricsFifoPath,
	})
}

func (s *Server) deleteStorage(c echo.Context) error {
	if err := hostexec.DeleteStorage(s.cfg.StorageRoot, c.Param("id")); err != nil {
		return respondErr(c, apierr.Internal("delete storage", err))
	}
	return c.NoContent(http.StatusNoContent)
}

type storageDirEntry struct {
	VMID    string    `json:"vm_id"`
	ModTime time.Time `json:"mod_time"`
}

// listStorageDirs backs the reconciler's orphan sweep: every directory
// under the storage root, independent of any VM row the Manager still
// has, so the caller can diff against its own known-VM set.
func (s *Server) listStorageDirs(c echo.Context) error {
	entries, err := hostexec.ListStorageDirs(s.cfg.StorageRoot)
	if err != nil {
		return respondErr(c, apierr.Internal("list storage dirs", err))
	}
	out := make([]storageDirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, storageDirEntry{VMID: e.VMID, ModTime: e.ModTime})
	}
	return c.JSON(http.StatusOK, out)
}
