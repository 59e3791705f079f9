// Package agentclient is the Manager-side HTTP client for the Agent API:
// bridge/TAP setup, VMM spawn/stop, rootfs mount/unmount, and inventory
// queries, each call wrapped in the same retry-with-backoff envelope so
// a transient Agent_Unreachable failure does not abort a whole pre-boot
// protocol run.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/obsmetrics"
)

// Client talks to one Agent's HTTP API at baseURL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

// New returns a Client for the Agent reachable at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
	}
}

// EnsureBridgeRequest asks the Agent to create a bridge (and VLAN
// sub-bridge, if VLANID is set) if it does not already exist.
type EnsureBridgeRequest struct {
	BridgeName string `json:"bridge_name"`
	VLANID     *int   `json:"vlan_id,omitempty"`
	CIDR       string `json:"cidr"`
}

func (c *Client) EnsureBridge(ctx context.Context, req EnsureBridgeRequest) error {
	return c.call(ctx, "ensure_bridge", http.MethodPost, "/v1/networks/bridges", req, nil)
}

// CreateTapRequest asks the Agent to create a TAP device attached to a
// bridge (or its VLAN sub-bridge, when VLANID is set). VMID lets the
// Agent's inventory track which TAP belongs to which VM, for the
// reconciler's tap-liveness check.
type CreateTapRequest struct {
	TAPName    string `json:"tap_name"`
	BridgeName string `json:"bridge_name"`
	VLANID     *int   `json:"vlan_id,omitempty"`
	VMID       string `json:"vm_id,omitempty"`
}

func (c *Client) CreateTap(ctx context.Context, req CreateTapRequest) error {
	return c.call(ctx, "create_tap", http.MethodPost, "/v1/networks/taps", req, nil)
}

func (c *Client) DeleteTap(ctx context.Context, tapName string) error {
	return c.call(ctx, "delete_tap", http.MethodDelete, "/v1/networks/taps/"+tapName, nil, nil)
}

// SpawnRequest asks the Agent to start a transient supervision scope
// running a Firecracker process with the given API socket path.
type SpawnRequest struct {
	VMID      string `json:"vm_id"`
	UnitName  string `json:"unit_name"`
	APISocket string `json:"api_socket"`
}

type SpawnResponse struct {
	PID int `json:"pid"`
}

func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (*SpawnResponse, error) {
	var resp SpawnResponse
	if err := c.call(ctx, "spawn", http.MethodPost, "/v1/vmm", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Stop(ctx context.Context, unitName string) error {
	return c.call(ctx, "stop", http.MethodDelete, "/v1/vmm/"+unitName, nil, nil)
}

// PrepareStorageRequest asks the Agent to allocate a VM's on-disk layout
// and copy its rootfs image into a private, never-shared file.
type PrepareStorageRequest struct {
	VMID            string `json:"vm_id"`
	RootfsImagePath string `json:"rootfs_image_path"`
}

// PrepareStorageResponse carries the host paths the Manager threads
// through the rest of the pre-boot protocol.
type PrepareStorageResponse struct {
	VMDir           string `json:"vm_dir"`
	RootfsPath      string `json:"rootfs_path"`
	APISocket       string `json:"api_socket"`
	LogPath         string `json:"log_path"`
	MetricsFifoPath string `json:"metrics_fifo_path"`
}

func (c *Client) PrepareStorage(ctx context.Context, req PrepareStorageRequest) (*PrepareStorageResponse, error) {
	var resp PrepareStorageResponse
	if err := c.call(ctx, "prepare_storage", http.MethodPost, "/v1/vms/storage", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteStorage removes a VM's on-disk directory. Called on delete, after
// the VMM is stopped and the TAP removed.
func (c *Client) DeleteStorage(ctx context.Context, vmID string) error {
	return c.call(ctx, "delete_storage", http.MethodDelete, "/v1/vms/"+vmID+"/storage", nil, nil)
}

// InjectCredentialsRequest asks the Agent to loopback-mount a rootfs,
// overwrite the configured user's shadow entry, drop a guest-agent config
// and unit file, then unmount — with guaranteed cleanup on every exit path.
type InjectCredentialsRequest struct {
	VMID       string `json:"vm_id"`
	RootfsPath string `json:"rootfs_path"`
	CredUser   string `json:"cred_user"`
	CredHash   string `json:"cred_hash"`
	ManagerURL string `json:"manager_url"`

	// FunctionSourcePath and ReloadCommand are set only for VMs booted
	// from a function-vm template, wiring the guest agent's write-code
	// endpoint to the runtime's fixed source path and reload command.
	FunctionSourcePath string   `json:"function_source_path,omitempty"`
	ReloadCommand      []string `json:"reload_command,omitempty"`
}

func (c *Client) InjectCredentials(ctx context.Context, req InjectCredentialsRequest) error {
	return c.call(ctx, "inject_credentials", http.MethodPost, "/v1/vms/credentials", req, nil)
}

// MountRequest asks the Agent to loopback-mount a rootfs volume so the
// Manager can inject credentials before boot.
type MountRequest struct {
	VolumePath string `json:"volume_path"`
	MountPoint string `json:"mount_point"`
}

func (c *Client) Mount(ctx context.Context, req MountRequest) error {
	return c.call(ctx, "mount", http.MethodPost, "/v1/volumes/mount", req, nil)
}

func (c *Client) Unmount(ctx context.Context, mountPoint string) error {
	return c.call(ctx, "unmount", http.MethodPost, "/v1/volumes/unmount", map[string]string{"mount_point": mountPoint}, nil)
}

func (c *Client) PrepareMetricsFifo(ctx context.Context, fifoPath string) error {
	return c.call(ctx, "prepare_metrics_fifo", http.MethodPost, "/v1/vmm/metrics-fifo", map[string]string{"path": fifoPath}, nil)
}

// InventoryEntry is one VMM scope the Agent's local durable cache knows about.
type InventoryEntry struct {
	VMID      string `json:"vm_id"`
	UnitName  string `json:"unit_name"`
	APISocket string `json:"api_socket"`
	TAPName   string `json:"tap_name"`
	Running   bool   `json:"running"`
}

func (c *Client) Inventory(ctx context.Context) ([]InventoryEntry, error) {
	var entries []InventoryEntry
	if err := c.call(ctx, "inventory", http.MethodGet, "/v1/inventory", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// StorageDirEntry mirrors hostexec.StorageDirEntry over the wire.
type StorageDirEntry struct {
	VMID    string    `json:"vm_id"`
	ModTime time.Time `json:"mod_time"`
}

// ListStorageDirs lists every per-VM directory the Agent's storage root
// currently holds, for the reconciler's orphan sweep.
func (c *Client) ListStorageDirs(ctx context.Context) ([]StorageDirEntry, error) {
	var entries []StorageDirEntry
	if err := c.call(ctx, "list_storage_dirs", http.MethodGet, "/v1/vms/storage", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// call performs one HTTP round trip with exponential backoff, retrying
// only on apierr.KindUnreachable (a dead or unreachable Agent) — 4xx/5xx
// application errors are returned immediately since retrying won't help.
func (c *Client) call(ctx context.Context, operation, method, path string, reqBody, respBody any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		start := time.Now()
		err := c.doOnce(ctx, method, path, reqBody, respBody)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		obsmetrics.ObserveAgentCall(operation, outcome, time.Since(start))

		if err == nil {
			return nil
		}
		lastErr = err

		apiErr, ok := apierr.As(err)
		if !ok || apiErr.Kind != apierr.KindUnreachable {
			return err
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal agent request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build agent request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierr.Unreachable(fmt.Sprintf("agent %s %s unreachable", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		var envelope apierr.Envelope
		_ = json.Unmarshal(data, &envelope)
		msg := envelope.Error
		if msg == "" {
			msg = string(data)
		}
		if resp.StatusCode == http.StatusServiceUnavailable {
			return apierr.Unreachable(msg, nil)
		}
		return &apierr.Error{Kind: apierr.KindUpstream, Message: msg, Suggestion: envelope.Suggestion, FaultMessage: envelope.FaultMessage}
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode agent response: %w", err)
		}
	}
	return nil
}
