// Package fcapi is a client for the Firecracker VMM's UDS HTTP API: the
// ordered PUT/PATCH calls that configure a microVM before boot and
// drive its pause/resume/snapshot lifecycle after.
package fcapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/pkg/model"
)

// Client is a minimal HTTP client over a Firecracker API socket. It is
// built around a plain http.RoundTripper so tests can substitute an
// in-memory transport instead of a real Unix socket.
type Client struct {
	httpClient *http.Client
	socketPath string
}

// unixSocketTransport dials a Unix domain socket for every HTTP request,
// ignoring the requested host — the Firecracker API is addressed purely
// by path on a per-VM socket.
func unixSocketTransport(socketPath string) http.RoundTripper {
	return &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
}

// New returns a Client that dials socketPath for every call.
func New(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{Transport: unixSocketTransport(socketPath), Timeout: 30 * time.Second},
	}
}

// NewWithRoundTripper lets callers supply their own transport, e.g. a
// fake for unit tests that never touches a real socket.
func NewWithRoundTripper(rt http.RoundTripper) *Client {
	return &Client{httpClient: &http.Client{Transport: rt, Timeout: 30 * time.Second}}
}

// WaitForSocket polls until the API socket file exists on disk.
func (c *Client) WaitForSocket(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := os.Stat(c.socketPath); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return apierr.Unreachable(fmt.Sprintf("firecracker API socket %s not ready after %v", c.socketPath, timeout), nil)
}

// PutMachineConfig sets vCPU count, memory size, SMT, and CPU template.
func (c *Client) PutMachineConfig(ctx context.Context, vcpuCount, memSizeMib int, smt bool, cpuTemplate string) error {
	body := map[string]any{
		"vcpu_count":   vcpuCount,
		"mem_size_mib": memSizeMib,
		"smt":          smt,
	}
	if cpuTemplate != "" {
		body["cpu_template"] = cpuTemplate
	}
	return c.put(ctx, "/machine-config", body)
}

// PutBootSource configures the kernel boot source.
func (c *Client) PutBootSource(ctx context.Context, kernelPath, bootArgs string) error {
	return c.put(ctx, "/boot-source", map[string]string{
		"kernel_image_path": kernelPath,
		"boot_args":         bootArgs,
	})
}

// PutDrive attaches a block device at the declared order, optionally
// rate-limited.
func (c *Client) PutDrive(ctx context.Context, driveID, pathOnHost string, isRootDevice, isReadOnly bool, rateLimiter *model.RateLimit) error {
	body := map[string]any{
		"drive_id":       driveID,
		"path_on_host":   pathOnHost,
		"is_root_device": isRootDevice,
		"is_read_only":   isReadOnly,
	}
	if rateLimiter != nil {
		body["rate_limiter"] = rateLimiterBody(rateLimiter)
	}
	return c.putWithID(ctx, "/drives", driveID, body)
}

// PutNetworkInterface attaches a TAP-backed network interface, optionally
// rate-limited per direction.
func (c *Client) PutNetworkInterface(ctx context.Context, ifaceID, guestMAC, hostDevName string, rx, tx *model.RateLimit) error {
	body := map[string]any{
		"iface_id":      ifaceID,
		"guest_mac":     guestMAC,
		"host_dev_name": hostDevName,
	}
	if rx != nil {
		body["rx_rate_limiter"] = rateLimiterBody(rx)
	}
	if tx != nil {
		body["tx_rate_limiter"] = rateLimiterBody(tx)
	}
	return c.putWithID(ctx, "/network-interfaces", ifaceID, body)
}

func rateLimiterBody(rl *model.RateLimit) map[string]any {
	return map[string]any{
		"bandwidth": map[string]any{
			"size":         rl.SizeBytes,
			"refill_time":  rl.RefillTimeMs,
			"one_time_burst": rl.OneTimeBurst,
		},
	}
}

// PutLogger configures Firecracker's own structured log sink.
func (c *Client) PutLogger(ctx context.Context, logPath string, level string) error {
	return c.put(ctx, "/logger", map[string]any{
		"log_path":       logPath,
		"level":          level,
		"show_level":     true,
		"show_log_origin": true,
	})
}

// PutMetrics configures Firecracker's own metrics FIFO sink.
func (c *Client) PutMetrics(ctx context.Context, metricsPath string) error {
	return c.put(ctx, "/metrics", map[string]string{"metrics_path": metricsPath})
}

// PutMmds seeds the microVM metadata service with an opaque document,
// used alongside (not instead of) a mounted credentials file.
func (c *Client) PutMmds(ctx context.Context, data map[string]any) error {
	return c.put(ctx, "/mmds", data)
}

// StartInstance boots the configured VM. This must be the final step of
// the ordered pre-boot protocol.
func (c *Client) StartInstance(ctx context.Context) error {
	return c.put(ctx, "/actions", map[string]string{"action_type": "InstanceStart"})
}

// SendCtrlAltDel asks the guest kernel to perform an orderly power-off via
// the i8042 controller, without tearing down the VMM process itself.
func (c *Client) SendCtrlAltDel(ctx context.Context) error {
	return c.put(ctx, "/actions", map[string]string{"action_type": "SendCtrlAltDel"})
}

// FlushMetrics asks Firecracker to write one metrics sample to the
// configured metrics FIFO immediately, instead of waiting for its
// periodic emission.
func (c *Client) FlushMetrics(ctx context.Context) error {
	return c.put(ctx, "/actions", map[string]string{"action_type": "FlushMetrics"})
}

// PauseVM pauses a running VM in preparation for a snapshot.
func (c *Client) PauseVM(ctx context.Context) error {
	return c.patch(ctx, "/vm", map[string]string{"state": "Paused"})
}

// ResumeVM resumes a paused VM.
func (c *Client) ResumeVM(ctx context.Context) error {
	return c.patch(ctx, "/vm", map[string]string{"state": "Resumed"})
}

// CreateSnapshot captures memory + device state. The VM must already be paused.
func (c *Client) CreateSnapshot(ctx context.Context, snapshotPath, memFilePath string, snapshotType model.SnapshotType) error {
	typ := "Full"
	if snapshotType == model.SnapshotDiff {
		typ = "Diff"
	}
	return c.put(ctx, "/snapshot/create", map[string]string{
		"snapshot_type": typ,
		"snapshot_path": snapshotPath,
		"mem_file_path": memFilePath,
	})
}

// LoadSnapshot restores a VM from a snapshot. Per the non-obvious
// ordering this protocol allows, LoadSnapshot may be called before any
// drive or network-interface PUTs — Firecracker accepts either order as
// long as the load precedes StartInstance (which a loaded-and-resumed
// snapshot never needs, since resumeVM already starts it running).
func (c *Client) LoadSnapshot(ctx context.Context, snapshotPath, memFilePath string, resumeVM bool) error {
	return c.put(ctx, "/snapshot/load", map[string]any{
		"snapshot_path": snapshotPath,
		"mem_backend": map[string]string{
			"backend_path": memFilePath,
			"backend_type": "File",
		},
		"enable_diff_snapshots": false,
		"resume_vm":             resumeVM,
	})
}

func (c *Client) put(ctx context.Context, path string, body any) error {
	return c.doRequest(ctx, http.MethodPut, path, body)
}

func (c *Client) putWithID(ctx context.Context, basePath, id string, body any) error {
	return c.doRequest(ctx, http.MethodPut, basePath+"/"+id, body)
}

func (c *Client) patch(ctx context.Context, path string, body any) error {
	return c.doRequest(ctx, http.MethodPatch, path, body)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://fc-vmm"+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierr.Unreachable(fmt.Sprintf("firecracker API %s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return apierr.Upstream(fmt.Sprintf("firecracker API %s %s returned %d", method, path, resp.StatusCode), string(respBody))
	}

	return nil
}
