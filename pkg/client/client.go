// Package client is an HTTP client for the fleetforge Manager API, used
// by cmd/fleetctl and suitable for other Go callers that want to drive
// the fleet programmatically instead of shelling out.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fleetforge/fleetforge/pkg/model"
)

// Client is an HTTP client for the fleetforge Manager API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Manager API client. apiKey, if non-empty, is
// sent as the X-API-Key header on every request.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// apiError mirrors internal/apierr.Envelope just enough to surface the
// Manager's error message in a CLI-friendly form.
type apiError struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func decodeInto(resp *http.Response, okStatuses []int, out interface{}) error {
	defer resp.Body.Close()

	for _, ok := range okStatuses {
		if resp.StatusCode == ok {
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}
	}

	body, _ := io.ReadAll(resp.Body)
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		if apiErr.RequestID != "" {
			return fmt.Errorf("API error (status %d, request %s): %s", resp.StatusCode, apiErr.RequestID, apiErr.Error)
		}
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
}

// --- VMs ---

type NICSpec struct {
	BridgeName string           `json:"bridge_name"`
	VLANID     *int             `json:"vlan_id,omitempty"`
	RxLimit    *model.RateLimit `json:"rx_limit,omitempty"`
	TxLimit    *model.RateLimit `json:"tx_limit,omitempty"`
}

type VolumeSpec struct {
	VolumeID string `json:"volume_id"`
	Order    int    `json:"order"`
}

type CreateVMRequest struct {
	Name          string              `json:"name"`
	OwnerID       string              `json:"owner_id"`
	VCPU          int                 `json:"vcpu"`
	MemMiB        int                 `json:"mem_mib"`
	KernelImageID string              `json:"kernel_image_id"`
	RootfsImageID string              `json:"rootfs_image_id"`
	CredUser      string              `json:"cred_user"`
	CredHash      string              `json:"cred_hash"`
	BootArgs      string              `json:"boot_args"`
	SMT           bool                `json:"smt"`
	CPUTemplate   string              `json:"cpu_template"`
	RestartPolicy model.RestartPolicy `json:"restart_policy"`
	TemplateID    *string             `json:"template_id,omitempty"`
	NICs          []NICSpec           `json:"nics,omitempty"`
	Volumes       []VolumeSpec        `json:"volumes,omitempty"`
	UserData      string              `json:"user_data,omitempty"`
}

func (c *Client) CreateVM(ctx context.Context, req CreateVMRequest) (*model.VM, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/vms", req)
	if err != nil {
		return nil, err
	}
	var vm model.VM
	if err := decodeInto(resp, []int{http.StatusCreated}, &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}

func (c *Client) ListVMs(ctx context.Context, ownerID string) ([]model.VM, error) {
	path := "/vms"
	if ownerID != "" {
		path += "?owner_id=" + url.QueryEscape(ownerID)
	}
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var vms []model.VM
	if err := decodeInto(resp, []int{http.StatusOK}, &vms); err != nil {
		return nil, err
	}
	return vms, nil
}

func (c *Client) GetVM(ctx context.Context, id string) (*model.VM, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/vms/"+id, nil)
	if err != nil {
		return nil, err
	}
	var vm model.VM
	if err := decodeInto(resp, []int{http.StatusOK}, &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}

func (c *Client) DeleteVM(ctx context.Context, id string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, "/vms/"+id, nil)
	if err != nil {
		return err
	}
	return decodeInto(resp, []int{http.StatusNoContent}, nil)
}

func (c *Client) vmAction(ctx context.Context, id, action string) (*model.VM, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/vms/"+id+"/"+action, nil)
	if err != nil {
		return nil, err
	}
	var vm model.VM
	if err := decodeInto(resp, []int{http.StatusOK}, &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}

func (c *Client) StartVM(ctx context.Context, id string) (*model.VM, error) { return c.vmAction(ctx, id, "start") }
func (c *Client) StopVM(ctx context.Context, id string) (*model.VM, error)  { return c.vmAction(ctx, id, "stop") }
func (c *Client) PauseVM(ctx context.Context, id string) (*model.VM, error) { return c.vmAction(ctx, id, "pause") }
func (c *Client) ResumeVM(ctx context.Context, id string) (*model.VM, error) {
	return c.vmAction(ctx, id, "resume")
}
func (c *Client) CtrlAltDelVM(ctx context.Context, id string) (*model.VM, error) {
	return c.vmAction(ctx, id, "ctrl-alt-del")
}

func (c *Client) FlushMetrics(ctx context.Context, id string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/vms/"+id+"/flush-metrics", nil)
	if err != nil {
		return err
	}
	return decodeInto(resp, []int{http.StatusNoContent}, nil)
}

// ShellURL returns the WebSocket URL to open for an interactive console
// onto vmID. The caller is expected to dial it with a WebSocket client
// and pass the shell token fleetctl obtained separately.
func (c *Client) ShellURL(id string) string {
	return c.baseURL + "/vms/" + id + "/shell/ws"
}

// --- Images ---

type CreateImageRequest struct {
	Kind          model.ImageKind `json:"kind"`
	Name          string          `json:"name"`
	CanonicalPath string          `json:"canonical_path"`
	SizeBytes     int64           `json:"size_bytes"`
	SHA256        string          `json:"sha256,omitempty"`
}

func (c *Client) CreateImage(ctx context.Context, req CreateImageRequest) (*model.Image, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/images", req)
	if err != nil {
		return nil, err
	}
	var img model.Image
	if err := decodeInto(resp, []int{http.StatusCreated}, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

func (c *Client) ListImages(ctx context.Context, kind model.ImageKind) ([]model.Image, error) {
	path := "/images"
	if kind != "" {
		path += "?kind=" + url.QueryEscape(string(kind))
	}
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var imgs []model.Image
	if err := decodeInto(resp, []int{http.StatusOK}, &imgs); err != nil {
		return nil, err
	}
	return imgs, nil
}

func (c *Client) GetImage(ctx context.Context, id string) (*model.Image, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/images/"+id, nil)
	if err != nil {
		return nil, err
	}
	var img model.Image
	if err := decodeInto(resp, []int{http.StatusOK}, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

func (c *Client) DeleteImage(ctx context.Context, id string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, "/images/"+id, nil)
	if err != nil {
		return err
	}
	return decodeInto(resp, []int{http.StatusNoContent}, nil)
}

// --- Volumes ---

type CreateVolumeRequest struct {
	Name      string           `json:"name"`
	Path      string           `json:"path"`
	SizeBytes int64            `json:"size_bytes"`
	Type      model.VolumeType `json:"type,omitempty"`
	HostID    string           `json:"host_id"`
}

func (c *Client) CreateVolume(ctx context.Context, req CreateVolumeRequest) (*model.Volume, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/volumes", req)
	if err != nil {
		return nil, err
	}
	var v model.Volume
	if err := decodeInto(resp, []int{http.StatusCreated}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) ListVolumes(ctx context.Context, hostID string) ([]model.Volume, error) {
	path := "/volumes"
	if hostID != "" {
		path += "?host_id=" + url.QueryEscape(hostID)
	}
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var vols []model.Volume
	if err := decodeInto(resp, []int{http.StatusOK}, &vols); err != nil {
		return nil, err
	}
	return vols, nil
}

func (c *Client) GetVolume(ctx context.Context, id string) (*model.Volume, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/volumes/"+id, nil)
	if err != nil {
		return nil, err
	}
	var v model.Volume
	if err := decodeInto(resp, []int{http.StatusOK}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) DeleteVolume(ctx context.Context, id string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, "/volumes/"+id, nil)
	if err != nil {
		return err
	}
	return decodeInto(resp, []int{http.StatusNoContent}, nil)
}

// --- Networks ---

type CreateNetworkRequest struct {
	HostID     string `json:"host_id"`
	BridgeName string `json:"bridge_name"`
	VLANID     *int   `json:"vlan_id,omitempty"`
}

func (c *Client) CreateNetwork(ctx context.Context, req CreateNetworkRequest) (*model.Network, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/networks", req)
	if err != nil {
		return nil, err
	}
	var nw model.Network
	if err := decodeInto(resp, []int{http.StatusCreated}, &nw); err != nil {
		return nil, err
	}
	return &nw, nil
}

func (c *Client) ListNetworks(ctx context.Context) ([]model.Network, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/networks", nil)
	if err != nil {
		return nil, err
	}
	var nws []model.Network
	if err := decodeInto(resp, []int{http.StatusOK}, &nws); err != nil {
		return nil, err
	}
	return nws, nil
}

func (c *Client) GetNetwork(ctx context.Context, id string) (*model.Network, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/networks/"+id, nil)
	if err != nil {
		return nil, err
	}
	var nw model.Network
	if err := decodeInto(resp, []int{http.StatusOK}, &nw); err != nil {
		return nil, err
	}
	return &nw, nil
}

// --- Templates ---

type CreateTemplateRequest struct {
	Name          string              `json:"name"`
	VCPU          int                 `json:"vcpu"`
	MemMiB        int                 `json:"mem_mib"`
	KernelRef     string              `json:"kernel_ref"`
	RootfsRef     string              `json:"rootfs_ref"`
	BootArgs      string              `json:"boot_args,omitempty"`
	SMT           bool                `json:"smt,omitempty"`
	CPUTemplate   string              `json:"cpu_template,omitempty"`
	TrackDirty    bool                `json:"track_dirty,omitempty"`
	RestartPolicy model.RestartPolicy `json:"restart_policy,omitempty"`
	Kind          model.TemplateKind  `json:"kind,omitempty"`
}

func (c *Client) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*model.Template, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/templates", req)
	if err != nil {
		return nil, err
	}
	var t model.Template
	if err := decodeInto(resp, []int{http.StatusCreated}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) ListTemplates(ctx context.Context) ([]model.Template, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/templates", nil)
	if err != nil {
		return nil, err
	}
	var ts []model.Template
	if err := decodeInto(resp, []int{http.StatusOK}, &ts); err != nil {
		return nil, err
	}
	return ts, nil
}

func (c *Client) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/templates/"+id, nil)
	if err != nil {
		return nil, err
	}
	var t model.Template
	if err := decodeInto(resp, []int{http.StatusOK}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, "/templates/"+id, nil)
	if err != nil {
		return err
	}
	return decodeInto(resp, []int{http.StatusNoContent}, nil)
}

// --- Hosts ---

func (c *Client) ListHosts(ctx context.Context) ([]model.Host, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/hosts", nil)
	if err != nil {
		return nil, err
	}
	var hosts []model.Host
	if err := decodeInto(resp, []int{http.StatusOK}, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

func (c *Client) GetHost(ctx context.Context, id string) (*model.Host, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/hosts/"+id, nil)
	if err != nil {
		return nil, err
	}
	var h model.Host
	if err := decodeInto(resp, []int{http.StatusOK}, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// --- Snapshots ---

type CreateSnapshotRequest struct {
	Name     string             `json:"name"`
	Type     model.SnapshotType `json:"type,omitempty"`
	ParentID *string            `json:"parent_id,omitempty"`
	Resume   bool               `json:"resume,omitempty"`
}

func (c *Client) CreateSnapshot(ctx context.Context, vmID string, req CreateSnapshotRequest) (*model.Snapshot, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/vms/"+vmID+"/snapshots", req)
	if err != nil {
		return nil, err
	}
	var sn model.Snapshot
	if err := decodeInto(resp, []int{http.StatusCreated}, &sn); err != nil {
		return nil, err
	}
	return &sn, nil
}

func (c *Client) ListSnapshots(ctx context.Context, vmID string) ([]model.Snapshot, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/vms/"+vmID+"/snapshots", nil)
	if err != nil {
		return nil, err
	}
	var snaps []model.Snapshot
	if err := decodeInto(resp, []int{http.StatusOK}, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

func (c *Client) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/snapshots/"+id, nil)
	if err != nil {
		return nil, err
	}
	var sn model.Snapshot
	if err := decodeInto(resp, []int{http.StatusOK}, &sn); err != nil {
		return nil, err
	}
	return &sn, nil
}

func (c *Client) DeleteSnapshot(ctx context.Context, id string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, "/snapshots/"+id, nil)
	if err != nil {
		return err
	}
	return decodeInto(resp, []int{http.StatusNoContent}, nil)
}

type InstantiateSnapshotRequest struct {
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

func (c *Client) InstantiateSnapshot(ctx context.Context, snapshotID string, req InstantiateSnapshotRequest) (*model.VM, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/snapshots/"+snapshotID+"/instantiate", req)
	if err != nil {
		return nil, err
	}
	var vm model.VM
	if err := decodeInto(resp, []int{http.StatusCreated}, &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}
