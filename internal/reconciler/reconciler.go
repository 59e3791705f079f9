// Package reconciler implements the background loop that compares
// persisted desired state against Agent inventory and heals drift:
// restarting a VM whose scope disappeared, terminating a scope for a
// VM the owner asked to stop, sweeping orphaned storage directories,
// and deriving host health from heartbeat recency. It never changes a
// VM's desired-state — only observed-state and host status.
package reconciler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fleetforge/fleetforge/internal/agentclient"
	"github.com/fleetforge/fleetforge/internal/config"
	"github.com/fleetforge/fleetforge/internal/events"
	"github.com/fleetforge/fleetforge/internal/obsmetrics"
	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

// restarter is the subset of vmservice.Service the reconciler drives a
// restart through; narrowed to an interface so tests can supply a fake
// without standing up a real Service.
type restarter interface {
	Restart(ctx context.Context, vmID string) error
}

// Service runs one reconciliation pass at a time per VM, via an
// in-process try-lock — no distributed lock exists anywhere else in
// this tree, and a single Manager process is the only writer of
// observed-state, so a plain mutex-guarded set is sufficient.
type Service struct {
	st  store.Store
	cfg *config.Config
	bus *events.Bus
	vms restarter

	agentFor func(host *model.Host) *agentclient.Client

	mu      sync.Mutex
	inFlight map[string]struct{}
}

// New returns a Service. vms drives the single-restart step; it is
// ordinarily a *vmservice.Service, passed as the narrower restarter
// interface to avoid this package needing anything else from it.
func New(st store.Store, bus *events.Bus, cfg *config.Config, vms restarter) *Service {
	return &Service{
		st:  st,
		cfg: cfg,
		bus: bus,
		vms: vms,
		agentFor: func(h *model.Host) *agentclient.Client {
			return agentclient.New(h.Address)
		},
		inFlight: make(map[string]struct{}),
	}
}

// tryLock claims id for the duration of one VM's reconciliation, or
// reports false if another tick is still processing it.
func (s *Service) tryLock(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Service) unlock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// Tick runs one reconciliation pass: drift detection and healing per
// VM, an orphan sweep, and host health derivation, per spec's ordered
// steps. A single pass's duration is exported so T_reconcile can be
// tuned against observed P99 pass time.
func (s *Service) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		obsmetrics.ReconcileLoopDuration.Observe(time.Since(start).Seconds())
	}()

	hosts, err := s.st.ListHosts(ctx)
	if err != nil {
		return fmt.Errorf("list hosts: %w", err)
	}
	s.reconcileHostHealth(ctx, hosts)

	vms, err := s.st.ListAllVMs(ctx)
	if err != nil {
		return fmt.Errorf("list vms: %w", err)
	}

	byHost := make(map[string]*model.Host, len(hosts))
	for _, h := range hosts {
		byHost[h.ID] = h
	}

	for _, vm := range vms {
		if vm.Desired == model.DesiredDeleted {
			continue
		}
		if !s.tryLock(vm.ID) {
			continue
		}
		s.reconcileVM(ctx, vm, byHost)
		s.unlock(vm.ID)
	}

	s.orphanSweep(ctx, hosts, vms)
	return nil
}

// reconcileVM implements steps 1-3: inventory check, restart-or-error
// for drifted desired=running VMs, and termination requests for
// desired=stopped VMs whose scope is still alive.
func (s *Service) reconcileVM(ctx context.Context, vm *model.VM, byHost map[string]*model.Host) {
	if vm.HostID == nil {
		return
	}
	host, ok := byHost[*vm.HostID]
	if !ok || host.Status == model.HostDown {
		// Host unreachable: leave the VM in its last observed-state,
		// no auto-reschedule, per spec.
		return
	}

	ac := s.agentFor(host)
	inventory, err := ac.Inventory(ctx)
	if err != nil {
		return
	}

	var entry *agentclient.InventoryEntry
	for i := range inventory {
		if inventory[i].VMID == vm.ID {
			entry = &inventory[i]
			break
		}
	}
	alive := entry != nil && entry.Running && s.tapAttached(ctx, vm, entry)

	switch vm.Desired {
	case model.DesiredRunning:
		if alive {
			return
		}
		s.healMissingScope(ctx, vm, host)
	case model.DesiredStopped:
		if alive {
			s.requestTermination(ctx, vm, host, ac)
		}
	}
}

// tapAttached reports whether the VM's expected TAP is the one the
// Agent's inventory has recorded as attached — one of the three drift
// signals alongside scope and socket. A VM with no NICs has no TAP to
// check and is never considered drifted on this basis. The Agent's
// inventory tracks one TAP name per scope (the last one create-tap
// recorded), so only the highest-order NIC is checked.
func (s *Service) tapAttached(ctx context.Context, vm *model.VM, entry *agentclient.InventoryEntry) bool {
	nics, err := s.st.ListNicsByVM(ctx, vm.ID)
	if err != nil || len(nics) == 0 {
		return true
	}
	sort.Slice(nics, func(i, j int) bool { return nics[i].Order < nics[j].Order })
	expected := nics[len(nics)-1].HostDevName
	return entry.TAPName == expected
}

// healMissingScope attempts a single restart for a desired=running VM
// whose scope or socket has gone missing, honoring restart_policy:
// RestartNo skips straight to error, the other two policies attempt
// one restart and fall back to error on failure.
func (s *Service) healMissingScope(ctx context.Context, vm *model.VM, host *model.Host) {
	if vm.RestartPolicy == model.RestartNo {
		s.markError(ctx, vm, host, "restart_policy=no: drift detected, not restarting")
		return
	}

	if err := s.vms.Restart(ctx, vm.ID); err != nil {
		log.Printf("reconciler: restart of vm %s failed: %v", vm.ID, err)
		obsmetrics.ReconcileDriftHealed.WithLabelValues("restart_failed").Inc()
		s.markError(ctx, vm, host, err.Error())
		return
	}
	obsmetrics.ReconcileDriftHealed.WithLabelValues("restarted").Inc()
}

func (s *Service) markError(ctx context.Context, vm *model.VM, host *model.Host, msg string) {
	vm.Observed = model.ObservedError
	vm.LastErrorStep = "reconcile"
	vm.ErrorMessage = msg
	if err := s.st.UpdateVM(ctx, vm); err != nil {
		log.Printf("reconciler: failed to persist error state for vm %s: %v", vm.ID, err)
		return
	}
	hostID := ""
	if host != nil {
		hostID = host.ID
	}
	s.publish(events.TypeVMStateChanged, vm.ID, hostID, map[string]string{"observed": string(model.ObservedError)})
}

// requestTermination asks the Agent to stop a scope left running for a
// VM whose owner asked it to stop — idempotent, since Stop on an
// already-stopped scope is a no-op at the Agent.
func (s *Service) requestTermination(ctx context.Context, vm *model.VM, host *model.Host, ac *agentclient.Client) {
	if err := ac.Stop(ctx, vm.UnitName); err != nil {
		log.Printf("reconciler: termination request for vm %s failed: %v", vm.ID, err)
		return
	}
	obsmetrics.ReconcileDriftHealed.WithLabelValues("terminated").Inc()
	vm.Observed = model.ObservedStopped
	if err := s.st.UpdateVM(ctx, vm); err != nil {
		log.Printf("reconciler: failed to persist stopped state for vm %s: %v", vm.ID, err)
		return
	}
	s.publish(events.TypeVMStateChanged, vm.ID, host.ID, map[string]string{"observed": string(model.ObservedStopped)})
}

// orphanSweep deletes any Firecracker storage directory older than
// OrphanAge that no VM row references, bounded per tick so a host with
// many orphans doesn't monopolize one pass.
const orphanSweepLimit = 50

func (s *Service) orphanSweep(ctx context.Context, hosts []*model.Host, vms []*model.VM) {
	known := make(map[string]struct{}, len(vms))
	for _, vm := range vms {
		known[vm.ID] = struct{}{}
	}

	cutoff := time.Now().Add(-s.cfg.OrphanAge)
	swept := 0
	for _, host := range hosts {
		if host.Status == model.HostDown {
			continue
		}
		ac := s.agentFor(host)
		dirs, err := ac.ListStorageDirs(ctx)
		if err != nil {
			continue
		}
		for _, d := range dirs {
			if swept >= orphanSweepLimit {
				return
			}
			if _, ok := known[d.VMID]; ok {
				continue
			}
			if d.ModTime.After(cutoff) {
				continue
			}
			if err := ac.DeleteStorage(ctx, d.VMID); err != nil {
				log.Printf("reconciler: orphan sweep failed to delete storage for %s: %v", d.VMID, err)
				continue
			}
			obsmetrics.ReconcileOrphansCleaned.Inc()
			swept++
		}
	}
}

// reconcileHostHealth marks a host down once its heartbeat is stale
// enough; VMs on a down host are left in their last observed-state by
// reconcileVM's short-circuit above.
func (s *Service) reconcileHostHealth(ctx context.Context, hosts []*model.Host) {
	downAfter := s.cfg.HeartbeatDownAfter()
	staleAfter := s.cfg.HeartbeatStaleAfter()
	now := time.Now()

	for _, host := range hosts {
		age := now.Sub(host.LastHeartbeatAt)
		var status model.HostStatus
		switch {
		case age >= downAfter:
			status = model.HostDown
		case age >= staleAfter:
			status = model.HostStale
		default:
			status = model.HostHealthy
		}
		if status == host.Status {
			continue
		}
		if err := s.st.UpdateHostStatus(ctx, host.ID, status); err != nil {
			log.Printf("reconciler: failed to update host %s status: %v", host.ID, err)
			continue
		}
		host.Status = status
	}
}

func (s *Service) publish(eventType, vmID, hostID string, payload any) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(eventType, vmID, hostID, payload)
}
