// fleetforge-guestagent is the in-VM process that runs inside every
// Firecracker microVM managed by fleetforge. It serves liveness and
// metrics over HTTP, accepts network configuration from the Agent, and
// reports its IP back to the Manager on a timer.
//
// Build: CGO_ENABLED=0 GOOS=linux go build -o fleetforge-guestagent ./cmd/guestagent
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetforge/fleetforge/internal/guestagent"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Printf("fleetforge-guestagent %s starting", version)

	configPath := guestagent.DefaultConfigPath
	if v := os.Getenv("FLEETFORGE_GUESTAGENT_CONFIG"); v != "" {
		configPath = v
	}
	cfg, err := guestagent.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("guestagent: load config: %v", err)
	}

	collector, err := guestagent.NewCollector()
	if err != nil {
		log.Fatalf("guestagent: init metrics collector: %v", err)
	}

	fnRuntime := guestagent.FunctionRuntimeConfig{
		SourcePath:    cfg.FunctionSourcePath,
		ReloadCommand: cfg.ReloadCommand,
	}
	srv := guestagent.NewServer(collector, fnRuntime)

	ctx, cancel := context.WithCancel(context.Background())
	reporter := guestagent.NewReporter(cfg)
	go reporter.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("guestagent: received %v, shutting down", sig)
		cancel()
		if err := srv.Shutdown(); err != nil {
			log.Printf("guestagent: shutdown: %v", err)
		}
	}()

	if err := srv.Start(cfg.ListenAddr); err != nil {
		log.Printf("guestagent: server stopped: %v", err)
	}
}
