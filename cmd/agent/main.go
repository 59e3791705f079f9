// Command agent runs on each Firecracker-capable host: it exposes the
// privileged bridge/TAP/mount/spawn operations the Manager drives a VM's
// pre-boot protocol through, proxies Firecracker API calls over each VM's
// Unix socket, and announces this host's capacity to the Manager fleet.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/procfs"

	"github.com/fleetforge/fleetforge/internal/agentapi"
	"github.com/fleetforge/fleetforge/internal/agentinventory"
	"github.com/fleetforge/fleetforge/internal/auth"
	"github.com/fleetforge/fleetforge/internal/config"
	"github.com/fleetforge/fleetforge/internal/hostregistry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("fleetforge-agent: failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("fleetforge-agent: FLEETFORGE_JWT_SECRET is required")
	}

	log.Printf("fleetforge-agent: starting (host_id=%s, addr=%s)", cfg.HostID, cfg.HostAddr)

	inv, err := agentinventory.Open(cfg.AgentStateDB)
	if err != nil {
		log.Fatalf("fleetforge-agent: failed to open inventory db: %v", err)
	}
	defer inv.Close()

	if scopes, err := inv.List(); err != nil {
		log.Printf("fleetforge-agent: failed to list existing scopes: %v", err)
	} else {
		log.Printf("fleetforge-agent: rediscovered %d vmm scope(s) from a prior run", len(scopes))
	}

	jwtIssuer := auth.NewJWTIssuer(cfg.JWTSecret)

	srv := agentapi.NewServer(agentapi.Opts{
		Config:    cfg,
		Inventory: inv,
		JWTIssuer: jwtIssuer,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		log.Printf("fleetforge-agent: listening on %s", addr)
		if err := srv.Start(addr); err != nil {
			log.Printf("fleetforge-agent: http server stopped: %v", err)
		}
	}()

	if cfg.RedisURL != "" {
		pub, err := hostregistry.NewPublisher(cfg.RedisURL, cfg.HostID, cfg.HostAddr, cfg.HeartbeatInterval)
		if err != nil {
			log.Printf("fleetforge-agent: redis not available, heartbeat disabled: %v", err)
		} else {
			pub.Start(cfg.HeartbeatInterval, hostStats)
			defer pub.Stop()
			log.Println("fleetforge-agent: heartbeat publisher started")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("fleetforge-agent: shutting down...")
	if err := srv.Close(); err != nil {
		log.Printf("fleetforge-agent: error closing http server: %v", err)
	}
}

// hostStats reports this host's current capacity for the heartbeat
// payload: the CPU count and the total memory from /proc/meminfo. Free
// memory is not reported, and disk is always reported as 0.
func hostStats() (cpus, memMiB, diskMiB int) {
	cpus = runtime.NumCPU()

	if fs, err := procfs.NewDefaultFS(); err == nil {
		if meminfo, err := fs.Meminfo(); err == nil && meminfo.MemTotal != nil {
			memMiB = int(*meminfo.MemTotal / 1024)
		}
	}

	return cpus, memMiB, 0
}
