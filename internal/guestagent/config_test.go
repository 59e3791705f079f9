package guestagent

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigParsesKnownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guestagent.conf")
	content := "vm_id=vm-123\nmanager_url=http://10.0.0.1:8080\nreport_interval_seconds=5\nfunction_source_path=/opt/fn/index.js\nreload_command=systemctl restart fleetforge-function\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.VMID != "vm-123" || cfg.ManagerURL != "http://10.0.0.1:8080" {
		t.Fatalf("unexpected identity fields: %+v", cfg)
	}
	if cfg.ReportInterval != 5*time.Second {
		t.Fatalf("expected 5s report interval, got %v", cfg.ReportInterval)
	}
	if cfg.FunctionSourcePath != "/opt/fn/index.js" {
		t.Fatalf("expected function source path, got %q", cfg.FunctionSourcePath)
	}
	if len(cfg.ReloadCommand) != 3 || cfg.ReloadCommand[0] != "systemctl" {
		t.Fatalf("unexpected reload command: %v", cfg.ReloadCommand)
	}
}

func TestLoadConfigDefaultsListenAddrAndInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guestagent.conf")
	if err := os.WriteFile(path, []byte("vm_id=vm-1\nmanager_url=http://mgr\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr == "" {
		t.Fatal("expected a default listen addr")
	}
	if cfg.ReportInterval != DefaultReportInterval {
		t.Fatalf("expected default report interval, got %v", cfg.ReportInterval)
	}
}

func TestLoadConfigRequiresVMIDAndManagerURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guestagent.conf")
	if err := os.WriteFile(path, []byte("listen_addr=:9000\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for missing vm_id/manager_url")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/guestagent.conf"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
