// Package snapshot implements spec.md §4.5's Snapshot Engine: pause →
// snapshot-create → optional resume, and instantiate-from-snapshot — a new
// VM whose memory and device state start exactly where the source VM's did.
//
// Grounded on the teacher's internal/firecracker/snapshot.go doHibernate/
// doWake pair, re-expressed against the Manager/Agent/Store split instead
// of a single in-process VM map, and stripped of the teacher's S3 archive/
// upload path (this system keeps snapshot files on the owning host's
// local disk only — cross-host snapshot transfer is a named Non-goal).
package snapshot

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/fleetforge/fleetforge/internal/agentclient"
	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/config"
	"github.com/fleetforge/fleetforge/internal/events"
	"github.com/fleetforge/fleetforge/internal/fcapi"
	"github.com/fleetforge/fleetforge/internal/scheduler"
	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

// fcClientFactory builds a Firecracker API client proxied through one
// Agent for one VM. vmservice.Service implements the same shape; it is
// injected rather than imported to avoid a dependency cycle between the
// two packages.
type fcClientFactory func(agentAddr, vmID string) *fcapi.Client

// Service implements the Snapshot Engine against the store.
type Service struct {
	st     store.Store
	cfg    *config.Config
	bus    *events.Bus
	fcFor  fcClientFactory

	agentFor func(host *model.Host) *agentclient.Client
}

func New(st store.Store, bus *events.Bus, cfg *config.Config, fcFor fcClientFactory) *Service {
	return &Service{
		st:    st,
		cfg:   cfg,
		bus:   bus,
		fcFor: fcFor,
		agentFor: func(h *model.Host) *agentclient.Client {
			return agentclient.New(h.Address)
		},
	}
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	VMID     string
	Name     string
	Type     model.SnapshotType
	ParentID *string
	Resume   bool // whether to resume the source VM after the snapshot is captured
}

// Create pauses the VM (if running), writes a memory+state snapshot to
// its VM directory via the Firecracker API, optionally resumes it, and
// persists a Snapshot row. A diff snapshot requires the VM was last
// resumed with track_dirty_pages set.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Snapshot, error) {
	vm, err := s.st.GetVM(ctx, req.VMID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apierr.NotFound("vm not found")
		}
		return nil, err
	}
	if vm.Observed != model.ObservedRunning && vm.Observed != model.ObservedPaused {
		return nil, apierr.Precondition(fmt.Sprintf("cannot snapshot vm in state %q", vm.Observed))
	}
	if req.Type == model.SnapshotDiff && !vm.TrackDirty {
		return nil, apierr.Precondition("diff snapshot requires the vm to have been resumed with track_dirty_pages")
	}
	if req.ParentID != nil {
		if _, err := s.st.GetSnapshot(ctx, *req.ParentID); err != nil {
			if err == store.ErrNotFound {
				return nil, apierr.Validation("unknown parent snapshot " + *req.ParentID)
			}
			return nil, err
		}
	}
	if vm.HostID == nil {
		return nil, apierr.Internal("vm has no assigned host", nil)
	}
	host, err := s.st.GetHost(ctx, *vm.HostID)
	if err != nil {
		return nil, fmt.Errorf("look up host: %w", err)
	}

	wasRunning := vm.Observed == model.ObservedRunning
	fc := s.fcFor(host.Address, vm.ID)

	if wasRunning {
		if err := fc.PauseVM(ctx); err != nil {
			return nil, fmt.Errorf("pause vm for snapshot: %w", err)
		}
		vm.Observed = model.ObservedPaused
		if err := s.st.UpdateVM(ctx, vm); err != nil {
			return nil, fmt.Errorf("persist paused state: %w", err)
		}
	}

	vmDir := path.Dir(vm.APISocket)
	snapshotID := uuid.NewString()
	statePath := path.Join(vmDir, "snapshots", snapshotID, "vmstate")
	memPath := path.Join(vmDir, "snapshots", snapshotID, "mem")

	if err := fc.CreateSnapshot(ctx, statePath, memPath, req.Type); err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}

	if req.Resume && wasRunning {
		if err := fc.ResumeVM(ctx); err != nil {
			return nil, fmt.Errorf("resume vm after snapshot: %w", err)
		}
		vm.Observed = model.ObservedRunning
		if err := s.st.UpdateVM(ctx, vm); err != nil {
			return nil, fmt.Errorf("persist running state: %w", err)
		}
	}

	sn := &model.Snapshot{
		ID:        snapshotID,
		VMID:      vm.ID,
		Name:      req.Name,
		StatePath: statePath,
		MemPath:   memPath,
		ParentID:  req.ParentID,
		Type:      req.Type,
		CreatedAt: time.Now(),
	}
	if err := s.st.CreateSnapshot(ctx, sn); err != nil {
		return nil, fmt.Errorf("persist snapshot row: %w", err)
	}
	s.publish(events.TypeVMStateChanged, vm.ID, host.ID, map[string]string{"snapshot_id": sn.ID})
	return sn, nil
}

// InstantiateRequest is the input to Instantiate.
type InstantiateRequest struct {
	SnapshotID string
	Name       string
	OwnerID    string
}

// Instantiate boots a brand new VM from a snapshot: a fresh row, a fresh
// storage directory with the rootfs copied again (never shared with the
// source VM's file), a freshly spawned Firecracker process, then the
// snapshot is loaded before any drive or network-interface configuration —
// matching the load-before-drives ordering spec.md's test suite
// discovered and requires this engine to preserve.
func (s *Service) Instantiate(ctx context.Context, req InstantiateRequest) (*model.VM, error) {
	sn, err := s.st.GetSnapshot(ctx, req.SnapshotID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apierr.NotFound("snapshot not found")
		}
		return nil, err
	}
	srcVM, err := s.st.GetVM(ctx, sn.VMID)
	if err != nil {
		return nil, fmt.Errorf("look up source vm: %w", err)
	}

	host, err := scheduler.Pick(ctx, s.st)
	if err != nil {
		return nil, err
	}

	vm := &model.VM{
		ID:             uuid.NewString(),
		Name:           req.Name,
		OwnerID:        req.OwnerID,
		Desired:        model.DesiredRunning,
		Observed:       model.ObservedCreating,
		VCPU:           srcVM.VCPU,
		MemMiB:         srcVM.MemMiB,
		KernelRef:      srcVM.KernelRef,
		RootfsRef:      srcVM.RootfsRef,
		HostID:         &host.ID,
		UnitName:       "fc-" + uuid.NewString()[:8],
		SourceSnapshot: &sn.ID,
		BootArgs:       srcVM.BootArgs,
		SMT:            srcVM.SMT,
		CPUTemplate:    srcVM.CPUTemplate,
		RestartPolicy:  srcVM.RestartPolicy,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := s.st.CreateVM(ctx, vm); err != nil {
		return nil, fmt.Errorf("create vm row: %w", err)
	}

	if err := s.runInstantiate(ctx, vm, host, sn); err != nil {
		vm.Observed = model.ObservedError
		vm.LastErrorStep = "snapshot_instantiate"
		vm.ErrorMessage = err.Error()
		_ = s.st.UpdateVM(ctx, vm)
		return nil, err
	}

	return s.st.GetVM(ctx, vm.ID)
}

func (s *Service) runInstantiate(ctx context.Context, vm *model.VM, host *model.Host, sn *model.Snapshot) error {
	ac := s.agentFor(host)

	img, err := s.st.GetImage(ctx, vm.RootfsRef)
	if err != nil {
		return fmt.Errorf("look up rootfs image: %w", err)
	}
	layout, err := ac.PrepareStorage(ctx, agentclient.PrepareStorageRequest{VMID: vm.ID, RootfsImagePath: img.CanonicalPath})
	if err != nil {
		return fmt.Errorf("prepare storage: %w", err)
	}
	vm.APISocket = layout.APISocket
	vm.RootfsPath = layout.RootfsPath

	deadline := s.cfg.SpawnDeadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	spawnCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	if _, err := ac.Spawn(spawnCtx, agentclient.SpawnRequest{VMID: vm.ID, UnitName: vm.UnitName, APISocket: vm.APISocket}); err != nil {
		return fmt.Errorf("spawn: %w", err)
	}

	fc := s.fcFor(host.Address, vm.ID)

	// machine-config doubles as the readiness probe for the fresh socket,
	// matching runPreboot's equivalent step.
	if err := retryUnreachable(ctx, deadline, func() error {
		return fc.PutMachineConfig(ctx, vm.VCPU, vm.MemMiB, vm.SMT, vm.CPUTemplate)
	}); err != nil {
		return fmt.Errorf("put machine config: %w", err)
	}

	// Per spec.md §4.5, load may precede drive/network-interface PUTs —
	// this ordering was discovered by test against the real API and is
	// preserved here rather than re-derived.
	if err := fc.LoadSnapshot(ctx, sn.StatePath, sn.MemPath, false); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	if err := fc.PutDrive(ctx, "rootfs", layout.RootfsPath, true, false, nil); err != nil {
		return fmt.Errorf("put rootfs drive: %w", err)
	}

	if err := fc.StartInstance(ctx); err != nil {
		return fmt.Errorf("start instance: %w", err)
	}

	vm.Observed = model.ObservedRunning
	return s.st.UpdateVM(ctx, vm)
}

// Delete removes a snapshot's row; its files are left for the Agent's
// storage cleanup path. The row refuses deletion while children exist
// (store.DeleteSnapshot enforces this).
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.st.DeleteSnapshot(ctx, id); err != nil {
		if err == store.ErrNotFound {
			return apierr.NotFound("snapshot not found")
		}
		return err
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Snapshot, error) {
	sn, err := s.st.GetSnapshot(ctx, id)
	if err == store.ErrNotFound {
		return nil, apierr.NotFound("snapshot not found")
	}
	return sn, err
}

func (s *Service) ListByVM(ctx context.Context, vmID string) ([]*model.Snapshot, error) {
	return s.st.ListSnapshotsByVM(ctx, vmID)
}

func (s *Service) publish(eventType, vmID, hostID string, payload any) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(eventType, vmID, hostID, payload)
}

// retryUnreachable retries fn while it returns apierr.KindUnreachable,
// until deadline elapses. Mirrors vmservice's identically-named helper —
// duplicated rather than exported across packages to avoid coupling the
// Snapshot Engine's retry policy to the pre-boot protocol's.
func retryUnreachable(ctx context.Context, deadline time.Duration, fn func() error) error {
	cutoff := time.Now().Add(deadline)
	delay := 50 * time.Millisecond
	for {
		err := fn()
		if err == nil {
			return nil
		}
		apiErr, ok := apierr.As(err)
		if !ok || apiErr.Kind != apierr.KindUnreachable || time.Now().After(cutoff) {
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if delay < 500*time.Millisecond {
			delay *= 2
		}
	}
}
