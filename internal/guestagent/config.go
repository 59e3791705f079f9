// Package guestagent implements the single-endpoint HTTP server that runs
// inside each Firecracker microVM: liveness and resource metrics for the
// Manager to poll, a network-configuration endpoint the Agent calls during
// boot, and (on function-VM templates) a code-injection endpoint for the
// runtime supervisor. It also runs the outbound loop that reports the
// guest's IP back to the Manager.
//
// Grounded on the teacher's internal/agent package (a Server type holding
// long-lived state with methods per RPC), re-expressed over net/http and
// echo instead of gRPC-over-vsock, since this tree's Firecracker setup
// exposes virtio-net rather than vsock to the guest.
package guestagent

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultPort is the fixed port the guest agent listens on inside the VM.
const DefaultPort = 8426

// DefaultReportInterval is T_report, the interval between unconditional
// guest-IP reports (the agent also reports immediately on any IP change).
const DefaultReportInterval = 30 * time.Second

// Config is read from a known path baked into the rootfs image at VM
// creation time (internal/hostexec.writeGuestAgentConfig writes the
// matching file on the host side before first boot).
type Config struct {
	VMID           string
	ManagerURL     string
	ListenAddr     string
	ReportInterval time.Duration

	// FunctionSourcePath and ReloadCommand are only present in
	// function-VM templates' baked config; both empty means write-code
	// is disabled, per FunctionRuntimeConfig.
	FunctionSourcePath string
	ReloadCommand      []string
}

// DefaultConfigPath is where the Agent's InjectCredentials step writes the
// config file inside the rootfs, and where the guest agent binary reads it
// from on startup.
const DefaultConfigPath = "/etc/fleetforge/guestagent.conf"

// LoadConfig parses the simple key=value config file written by the host
// Agent. Unknown keys are ignored so the format can grow without breaking
// older guest agent binaries baked into existing rootfs images.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cfg := Config{
		ListenAddr:     fmt.Sprintf(":%d", DefaultPort),
		ReportInterval: DefaultReportInterval,
	}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "vm_id":
			cfg.VMID = strings.TrimSpace(v)
		case "manager_url":
			cfg.ManagerURL = strings.TrimSpace(v)
		case "listen_addr":
			cfg.ListenAddr = strings.TrimSpace(v)
		case "report_interval_seconds":
			if secs, err := time.ParseDuration(strings.TrimSpace(v) + "s"); err == nil {
				cfg.ReportInterval = secs
			}
		case "function_source_path":
			cfg.FunctionSourcePath = strings.TrimSpace(v)
		case "reload_command":
			cfg.ReloadCommand = strings.Fields(v)
		}
	}
	if err := sc.Err(); err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	if cfg.VMID == "" || cfg.ManagerURL == "" {
		return Config{}, fmt.Errorf("%s missing required vm_id or manager_url", path)
	}
	return cfg, nil
}
