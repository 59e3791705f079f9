// Package hostregistry publishes and consumes Agent heartbeats over
// Redis: each Agent SETs a TTL'd key and PUBLISHes on every heartbeat,
// and the Manager subscribes for fast discovery while periodically
// scanning as the source of truth.
package hostregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const heartbeatChannel = "fleetforge:hosts:heartbeat"

func hostKey(hostID string) string { return "fleetforge:host:" + hostID }

// heartbeatPayload is the JSON structure published to Redis by an Agent.
type heartbeatPayload struct {
	HostID  string `json:"host_id"`
	Address string `json:"address"`
	CPUs    int    `json:"cpus"`
	MemMiB  int    `json:"mem_mib"`
	DiskMiB int    `json:"disk_mib"`
}

// Publisher runs on the Agent and periodically announces this host's
// capacity snapshot to the Manager fleet.
type Publisher struct {
	rdb     *redis.Client
	hostID  string
	address string
	ttl     time.Duration
	getStats func() (cpus, memMiB, diskMiB int)
	stop    chan struct{}
}

// NewPublisher dials Redis and returns a Publisher for this host.
func NewPublisher(redisURL, hostID, address string, interval time.Duration) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Publisher{
		rdb:     rdb,
		hostID:  hostID,
		address: address,
		ttl:     interval * 6, // matches the "down" threshold so the key always outlives a healthy host
		stop:    make(chan struct{}),
	}, nil
}

// Start begins publishing heartbeats at the given interval until Stop is called.
func (p *Publisher) Start(interval time.Duration, getStats func() (int, int, int)) {
	p.getStats = getStats
	go func() {
		p.publish()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-p.stop:
				return
			}
		}
	}()
}

func (p *Publisher) publish() {
	cpus, memMiB, diskMiB := p.getStats()
	payload := heartbeatPayload{
		HostID:  p.hostID,
		Address: p.address,
		CPUs:    cpus,
		MemMiB:  memMiB,
		DiskMiB: diskMiB,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("hostregistry: marshal error: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.rdb.Set(ctx, hostKey(p.hostID), data, p.ttl).Err(); err != nil {
		log.Printf("hostregistry: SET failed: %v", err)
	}
	if err := p.rdb.Publish(ctx, heartbeatChannel, data).Err(); err != nil {
		log.Printf("hostregistry: PUBLISH failed: %v", err)
	}
}

// Stop stops publishing and removes this host's key immediately.
func (p *Publisher) Stop() {
	close(p.stop)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.rdb.Del(ctx, hostKey(p.hostID))
	p.rdb.Close()
}
