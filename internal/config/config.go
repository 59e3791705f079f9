// Package config loads process configuration from environment variables,
// the way the upstream system this repo is modeled on does: a flat struct,
// manual os.Getenv/strconv conversions, and sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the Manager, an Agent, or the combined
// single-binary "all" mode used in development.
type Config struct {
	Port     int
	APIKey   string
	Mode     string // "manager", "agent", "all"
	LogLevel string

	// Database (Manager only)
	DatabaseURL string

	// ManagerPublicURL is the base URL a VM's guest agent posts its
	// liveness/IP reports back to (Manager only, but threaded through
	// credential injection so it ends up inside the guest).
	ManagerPublicURL string

	// Agent-local state (Agent only)
	AgentStateDB string // directory holding the Agent's sqlite inventory cache (inventory.db)

	// Auth
	JWTSecret string

	// NATS event bus
	NATSURL string

	// Redis (host registry / heartbeat)
	RedisURL string

	// Host identity (Agent only)
	HostID      string
	HostAddr    string // this Agent's externally-reachable base URL
	MaxCapacity int

	// Storage roots (Agent only — these directories are local to the host)
	StorageRoot     string // {storage_root}/{vm_id}/...
	ImageRoot       string // read-only template images
	AllowRawPaths   bool   // "allow raw image paths" toggle; must default off

	FirecrackerBin string

	DefaultBridge string

	HeartbeatInterval time.Duration
	ReconcileInterval time.Duration
	OrphanAge         time.Duration
	SpawnDeadline     time.Duration
	GuestAwaitDeadline time.Duration
	StopInactivityWindow time.Duration

	// Default VM sizing, overridable per request
	DefaultVCPU   int
	DefaultMemMiB int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		APIKey:   os.Getenv("FLEETFORGE_API_KEY"),
		Mode:     envOrDefault("FLEETFORGE_MODE", "all"),
		LogLevel: envOrDefault("FLEETFORGE_LOG_LEVEL", "info"),

		DatabaseURL:      envOrDefault("FLEETFORGE_DATABASE_URL", os.Getenv("DATABASE_URL")),
		ManagerPublicURL: envOrDefault("FLEETFORGE_MANAGER_PUBLIC_URL", "http://localhost:8080"),
		AgentStateDB: envOrDefault("FLEETFORGE_AGENT_STATE_DB", "/var/lib/fleetforge/agent.db"),

		JWTSecret: os.Getenv("FLEETFORGE_JWT_SECRET"),
		NATSURL:   envOrDefault("FLEETFORGE_NATS_URL", "nats://localhost:4222"),
		RedisURL:  envOrDefault("FLEETFORGE_REDIS_URL", "redis://localhost:6379/0"),

		HostID:      envOrDefault("FLEETFORGE_HOST_ID", "host-local-1"),
		HostAddr:    envOrDefault("FLEETFORGE_HOST_ADDR", "http://localhost:7777"),
		MaxCapacity: envOrDefaultInt("FLEETFORGE_MAX_CAPACITY", 32),

		StorageRoot:   envOrDefault("FLEETFORGE_STORAGE_ROOT", "/var/lib/fleetforge/vms"),
		ImageRoot:     envOrDefault("FLEETFORGE_IMAGE_ROOT", "/var/lib/fleetforge/images"),
		AllowRawPaths: os.Getenv("FLEETFORGE_ALLOW_RAW_PATHS") == "true",

		FirecrackerBin: envOrDefault("FLEETFORGE_FIRECRACKER_BIN", "firecracker"),
		DefaultBridge:  envOrDefault("FLEETFORGE_DEFAULT_BRIDGE", "fcbr0"),

		HeartbeatInterval:  envOrDefaultDuration("FLEETFORGE_HEARTBEAT_INTERVAL", 10*time.Second),
		ReconcileInterval:  envOrDefaultDuration("FLEETFORGE_RECONCILE_INTERVAL", 15*time.Second),
		OrphanAge:          envOrDefaultDuration("FLEETFORGE_ORPHAN_AGE", 10*time.Minute),
		SpawnDeadline:      envOrDefaultDuration("FLEETFORGE_SPAWN_DEADLINE", 10*time.Second),
		GuestAwaitDeadline: envOrDefaultDuration("FLEETFORGE_GUEST_AWAIT_DEADLINE", 60*time.Second),
		StopInactivityWindow: envOrDefaultDuration("FLEETFORGE_STOP_INACTIVITY_WINDOW", 2*time.Second),

		DefaultVCPU:   envOrDefaultInt("FLEETFORGE_DEFAULT_VCPU", 1),
		DefaultMemMiB: envOrDefaultInt("FLEETFORGE_DEFAULT_MEM_MIB", 256),
	}

	if portStr := os.Getenv("FLEETFORGE_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid FLEETFORGE_PORT %q: %w", portStr, err)
		}
		cfg.Port = port
	}

	return cfg, nil
}

// HeartbeatStaleAfter is the age at which a host's status becomes "stale".
func (c *Config) HeartbeatStaleAfter() time.Duration { return c.HeartbeatInterval * 2 }

// HeartbeatDownAfter is the age at which a host's status becomes "down".
func (c *Config) HeartbeatDownAfter() time.Duration { return c.HeartbeatInterval * 6 }

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
