// Package scheduler picks which host a new VM lands on.
package scheduler

import (
	"context"
	"fmt"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

// Pick returns the healthy host with the fewest currently-running VMs,
// breaking ties by host ID for determinism. Returns a capacity error if no
// host is healthy.
func Pick(ctx context.Context, st store.Store) (*model.Host, error) {
	hosts, err := st.ListHosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}

	var best *model.Host
	bestCount := -1
	for _, h := range hosts {
		if h.Status != model.HostHealthy {
			continue
		}
		count, err := st.CountRunningVMsByHost(ctx, h.ID)
		if err != nil {
			return nil, fmt.Errorf("count running vms on host %s: %w", h.ID, err)
		}
		if best == nil || count < bestCount || (count == bestCount && h.ID < best.ID) {
			best = h
			bestCount = count
		}
	}
	if best == nil {
		return nil, apierr.Capacity("no healthy host available")
	}
	return best, nil
}
