package hostregistry

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

// Registry runs on the Manager. It subscribes to the heartbeat channel
// for fast first-detection and periodically scans host:* keys as the
// source of truth, writing every observation into the Store and
// deriving HostStatus from heartbeat recency.
type Registry struct {
	rdb         *redis.Client
	st          store.Store
	staleAfter  time.Duration
	downAfter   time.Duration
	stop        chan struct{}
}

// New connects to Redis and returns a Registry backed by st.
func New(redisURL string, st store.Store, staleAfter, downAfter time.Duration) (*Registry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	return &Registry{
		rdb:        rdb,
		st:         st,
		staleAfter: staleAfter,
		downAfter:  downAfter,
		stop:       make(chan struct{}),
	}, nil
}

// Start launches the subscribe loop, the periodic scan, and the status
// sweep (marking hosts stale/down purely from elapsed time, independent
// of whether Redis still holds their key).
func (r *Registry) Start(scanInterval time.Duration) {
	go r.subscribeLoop()
	go r.scanLoop(scanInterval)
	go r.statusSweepLoop(scanInterval)
}

func (r *Registry) subscribeLoop() {
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		pubsub := r.rdb.Subscribe(context.Background(), heartbeatChannel)
		ch := pubsub.Channel()

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					goto reconnect
				}
				r.handlePayload(msg.Payload)
			case <-r.stop:
				pubsub.Close()
				return
			}
		}

	reconnect:
		pubsub.Close()
		log.Println("hostregistry: pub/sub channel closed, reconnecting")
		time.Sleep(2 * time.Second)
	}
}

func (r *Registry) scanLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.scanOnce()
	for {
		select {
		case <-ticker.C:
			r.scanOnce()
		case <-r.stop:
			return
		}
	}
}

func (r *Registry) scanOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, "fleetforge:host:*", 100).Result()
		if err != nil {
			log.Printf("hostregistry: SCAN failed: %v", err)
			return
		}
		for _, key := range keys {
			val, err := r.rdb.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			r.handlePayload(val)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
}

func (r *Registry) handlePayload(raw string) {
	var p heartbeatPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		log.Printf("hostregistry: invalid heartbeat payload: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := r.st.GetHost(ctx, p.HostID); err == store.ErrNotFound {
		if err := r.st.UpsertHost(ctx, &model.Host{
			ID:      p.HostID,
			Address: p.Address,
			CPUs:    p.CPUs,
			MemMiB:  p.MemMiB,
			DiskMiB: p.DiskMiB,
			Status:  model.HostHealthy,
		}); err != nil {
			log.Printf("hostregistry: register host %s failed: %v", p.HostID, err)
			return
		}
	}

	if err := r.st.UpdateHeartbeat(ctx, p.HostID, p.CPUs, p.MemMiB, p.DiskMiB, time.Now()); err != nil {
		log.Printf("hostregistry: update heartbeat for %s failed: %v", p.HostID, err)
	}
}

// statusSweepLoop derives each host's status from heartbeat age,
// matching the healthy/stale/down thresholds.
func (r *Registry) statusSweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepOnce()
		case <-r.stop:
			return
		}
	}
}

func (r *Registry) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hosts, err := r.st.ListHosts(ctx)
	if err != nil {
		log.Printf("hostregistry: list hosts failed: %v", err)
		return
	}
	now := time.Now()
	for _, h := range hosts {
		age := now.Sub(h.LastHeartbeatAt)
		want := model.HostHealthy
		switch {
		case age >= r.downAfter:
			want = model.HostDown
		case age >= r.staleAfter:
			want = model.HostStale
		}
		if want != h.Status {
			if err := r.st.UpdateHostStatus(ctx, h.ID, want); err != nil {
				log.Printf("hostregistry: update status for %s failed: %v", h.ID, err)
			}
		}
	}
}

// Stop closes the Redis connection.
func (r *Registry) Stop() {
	close(r.stop)
	r.rdb.Close()
}
