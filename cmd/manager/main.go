// Command manager runs the fleetforge control plane: the Postgres-backed
// VM/host/image/volume/network/template store, the pre-boot and action
// pipelines, the reconciler, and the public HTTP+WebSocket API.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetforge/fleetforge/internal/auth"
	"github.com/fleetforge/fleetforge/internal/config"
	"github.com/fleetforge/fleetforge/internal/events"
	"github.com/fleetforge/fleetforge/internal/hostregistry"
	"github.com/fleetforge/fleetforge/internal/jobs"
	"github.com/fleetforge/fleetforge/internal/manager/httpapi"
	"github.com/fleetforge/fleetforge/internal/reconciler"
	"github.com/fleetforge/fleetforge/internal/snapshot"
	"github.com/fleetforge/fleetforge/internal/store/postgres"
	"github.com/fleetforge/fleetforge/internal/template"
	"github.com/fleetforge/fleetforge/internal/vmservice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("fleetforge-manager: failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("fleetforge-manager: FLEETFORGE_JWT_SECRET is required")
	}

	ctx := context.Background()

	st, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("fleetforge-manager: failed to connect to database: %v", err)
	}
	log.Println("fleetforge-manager: connected to postgres")

	var bus *events.Bus
	if cfg.NATSURL != "" {
		bus, err = events.Connect(cfg.NATSURL)
		if err != nil {
			log.Printf("fleetforge-manager: NATS not available (continuing without event publishing): %v", err)
		} else {
			defer bus.Close()
			log.Println("fleetforge-manager: connected to NATS")
		}
	}

	jwtIssuer := auth.NewJWTIssuer(cfg.JWTSecret)

	vms := vmservice.New(st, bus, cfg)
	snapshots := snapshot.New(st, bus, cfg, vmservice.FCClientFor)
	templates := template.New(st)

	recon := reconciler.New(st, bus, cfg, vms)

	// The reconcile tick is normally driven durably through Asynq's
	// scheduler (survives a Manager restart mid-tick); if Redis isn't
	// reachable this falls back to a plain in-process ticker so
	// reconciliation still runs in single-binary/dev deployments.
	reconcileDurably := false
	if cfg.RedisURL != "" {
		if opts, err := redis.ParseURL(cfg.RedisURL); err != nil {
			log.Printf("fleetforge-manager: invalid redis url, falling back to in-process reconcile ticker: %v", err)
		} else {
			runner := jobs.New(opts.Addr, 10)
			runner.Handle(jobs.TypeReconcileTick, 3, 30*time.Second, func(ctx context.Context, _ []byte) error {
				return recon.Tick(ctx)
			})
			if err := runner.ScheduleRecurring(fmt.Sprintf("@every %s", cfg.ReconcileInterval), jobs.TypeReconcileTick); err != nil {
				log.Printf("fleetforge-manager: failed to schedule recurring reconcile job: %v", err)
			} else {
				go func() {
					if err := runner.Run(ctx); err != nil {
						log.Printf("fleetforge-manager: job runner stopped: %v", err)
					}
				}()
				defer runner.Shutdown()
				log.Println("fleetforge-manager: durable reconcile job scheduled")
				reconcileDurably = true
			}
		}

		registry, err := hostregistry.New(cfg.RedisURL, st, cfg.HeartbeatStaleAfter(), cfg.HeartbeatDownAfter())
		if err != nil {
			log.Printf("fleetforge-manager: redis not available, host registry disabled: %v", err)
		} else {
			registry.Start(cfg.HeartbeatInterval)
			defer registry.Stop()
			log.Println("fleetforge-manager: host registry started")
		}
	}

	if !reconcileDurably {
		go func() {
			ticker := time.NewTicker(cfg.ReconcileInterval)
			defer ticker.Stop()
			for range ticker.C {
				if err := recon.Tick(ctx); err != nil {
					log.Printf("fleetforge-manager: reconcile tick error: %v", err)
				}
			}
		}()
		log.Printf("fleetforge-manager: reconciler running every %s (in-process)", cfg.ReconcileInterval)
	}

	srv := httpapi.NewServer(httpapi.Opts{
		Store:     st,
		VMs:       vms,
		Snapshots: snapshots,
		Templates: templates,
		Config:    cfg,
		JWTIssuer: jwtIssuer,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		log.Printf("fleetforge-manager: listening on %s", addr)
		if err := srv.Start(addr); err != nil {
			log.Printf("fleetforge-manager: http server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("fleetforge-manager: shutting down...")
	if err := srv.Close(); err != nil {
		log.Printf("fleetforge-manager: error closing http server: %v", err)
	}
}
