package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("FLEETFORGE_PORT")
	os.Unsetenv("FLEETFORGE_API_KEY")
	os.Unsetenv("FLEETFORGE_MODE")
	os.Unsetenv("FLEETFORGE_ALLOW_RAW_PATHS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.Mode != "all" {
		t.Errorf("expected mode all, got %s", cfg.Mode)
	}
	if cfg.AllowRawPaths {
		t.Error("expected AllowRawPaths to default off")
	}
	if cfg.HeartbeatInterval.Seconds() != 10 {
		t.Errorf("expected 10s heartbeat interval, got %v", cfg.HeartbeatInterval)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("FLEETFORGE_PORT", "9999")
	os.Setenv("FLEETFORGE_API_KEY", "test-key")
	os.Setenv("FLEETFORGE_MODE", "manager")
	defer func() {
		os.Unsetenv("FLEETFORGE_PORT")
		os.Unsetenv("FLEETFORGE_API_KEY")
		os.Unsetenv("FLEETFORGE_MODE")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Port)
	}
	if cfg.APIKey != "test-key" {
		t.Errorf("expected API key test-key, got %s", cfg.APIKey)
	}
	if cfg.Mode != "manager" {
		t.Errorf("expected mode manager, got %s", cfg.Mode)
	}
}

func TestLoadInvalidPort(t *testing.T) {
	os.Setenv("FLEETFORGE_PORT", "not-a-number")
	defer os.Unsetenv("FLEETFORGE_PORT")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestHeartbeatThresholds(t *testing.T) {
	os.Setenv("FLEETFORGE_HEARTBEAT_INTERVAL", "5s")
	defer os.Unsetenv("FLEETFORGE_HEARTBEAT_INTERVAL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.HeartbeatStaleAfter().Seconds() != 10 {
		t.Errorf("expected stale-after 10s, got %v", cfg.HeartbeatStaleAfter())
	}
	if cfg.HeartbeatDownAfter().Seconds() != 30 {
		t.Errorf("expected down-after 30s, got %v", cfg.HeartbeatDownAfter())
	}
}
