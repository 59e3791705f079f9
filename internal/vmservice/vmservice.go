// Package vmservice implements the Manager's core VM lifecycle: the
// ordered pre-boot configuration protocol, the VM state machine, and the
// public create/list/get/delete/attach operations spec.md §4.1 names.
package vmservice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetforge/fleetforge/internal/agentclient"
	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/config"
	"github.com/fleetforge/fleetforge/internal/events"
	"github.com/fleetforge/fleetforge/internal/network"
	"github.com/fleetforge/fleetforge/internal/obsmetrics"
	"github.com/fleetforge/fleetforge/internal/scheduler"
	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

// Service orchestrates VM lifecycle operations against the store and the
// Agents that carry them out.
type Service struct {
	st  store.Store
	cfg *config.Config
	bus *events.Bus // nil is fine — events become best-effort no-ops

	// agentFor is overridable in tests to avoid real HTTP calls.
	agentFor func(host *model.Host) *agentclient.Client
}

// New returns a Service backed by st and configured per cfg. bus may be
// nil, in which case lifecycle events are simply not published.
func New(st store.Store, bus *events.Bus, cfg *config.Config) *Service {
	return &Service{
		st:  st,
		cfg: cfg,
		bus: bus,
		agentFor: func(h *model.Host) *agentclient.Client {
			return agentclient.New(h.Address)
		},
	}
}

// NICSpec declares one NIC a VM should boot with, in attachment order.
type NICSpec struct {
	BridgeName string
	VLANID     *int
	RxLimit    *model.RateLimit
	TxLimit    *model.RateLimit
}

// VolumeSpec declares one additional data volume a VM should boot with,
// beyond its rootfs (which is always drive order 0).
type VolumeSpec struct {
	VolumeID string
	Order    int
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	Name          string
	OwnerID       string
	VCPU          int
	MemMiB        int
	KernelImageID string
	RootfsImageID string
	CredUser      string
	CredHash      string
	BootArgs      string
	SMT           bool
	CPUTemplate   string
	RestartPolicy model.RestartPolicy
	TemplateID    *string
	NICs          []NICSpec
	Volumes       []VolumeSpec

	// UserData is an opaque cloud-init/MMDS document seeded into the
	// guest via Firecracker's metadata service, alongside (not instead
	// of) rootfs-mount credential injection.
	UserData string
}

func (r CreateRequest) validate() error {
	if r.Name == "" {
		return apierr.Validation("name is required")
	}
	if r.OwnerID == "" {
		return apierr.Validation("owner_id is required")
	}
	if r.VCPU <= 0 {
		return apierr.Validation("vcpu must be positive")
	}
	if r.MemMiB <= 0 {
		return apierr.Validation("mem_mib must be positive")
	}
	if r.KernelImageID == "" || r.RootfsImageID == "" {
		return apierr.Validation("kernel and rootfs images are required")
	}
	return nil
}

// Create runs the full ordered pre-boot protocol (spec.md §4.1 steps
// 1-8) and returns once the VM is running, or rolls back everything it
// allocated and returns the failing step's error.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.VM, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if existing, err := s.st.GetVMByName(ctx, req.OwnerID, req.Name); err == nil && existing != nil {
		return nil, apierr.Conflict(fmt.Sprintf("vm %q already exists", req.Name))
	} else if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("check existing vm: %w", err)
	}

	host, err := scheduler.Pick(ctx, s.st)
	if err != nil {
		return nil, err
	}

	restartPolicy := req.RestartPolicy
	if restartPolicy == "" {
		restartPolicy = model.RestartOnFailure
	}

	vm := &model.VM{
		ID:            uuid.NewString(),
		Name:          req.Name,
		OwnerID:       req.OwnerID,
		Desired:       model.DesiredRunning,
		Observed:      model.ObservedCreating,
		VCPU:          req.VCPU,
		MemMiB:        req.MemMiB,
		KernelRef:     req.KernelImageID,
		RootfsRef:     req.RootfsImageID,
		HostID:        &host.ID,
		UnitName:      "fc-" + shortID(req.Name),
		CredUser:      req.CredUser,
		CredHash:      req.CredHash,
		BootArgs:      req.BootArgs,
		SMT:           req.SMT,
		CPUTemplate:   req.CPUTemplate,
		RestartPolicy: restartPolicy,
		TemplateID:    req.TemplateID,
		UserData:      req.UserData,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := s.st.CreateVM(ctx, vm); err != nil {
		return nil, fmt.Errorf("create vm row: %w", err)
	}

	for _, v := range req.Volumes {
		role := model.DriveRoleData
		if err := s.st.CreateAttachment(ctx, &model.VolumeAttachment{VolumeID: v.VolumeID, VMID: vm.ID, DriveRole: role, Order: v.Order}); err != nil {
			s.st.DeleteVM(ctx, vm.ID)
			return nil, fmt.Errorf("attach volume %s: %w", v.VolumeID, err)
		}
	}

	for i, n := range req.NICs {
		nw, err := network.Resolve(ctx, s.st, host.ID, n.BridgeName, n.VLANID)
		if err != nil {
			s.st.DeleteVM(ctx, vm.ID)
			return nil, fmt.Errorf("resolve network %s: %w", n.BridgeName, err)
		}
		mac, err := network.RandomMAC()
		if err != nil {
			s.st.DeleteVM(ctx, vm.ID)
			return nil, fmt.Errorf("generate mac: %w", err)
		}
		nic := &model.VmNic{
			VMID:        vm.ID,
			IfaceID:     fmt.Sprintf("eth%d", i),
			HostDevName: network.TAPName(vm.ID, i),
			GuestMAC:    mac,
			NetworkID:   &nw.ID,
			Order:       i,
			RxRateLimit: n.RxLimit,
			TxRateLimit: n.TxLimit,
		}
		if err := s.st.CreateNic(ctx, nic); err != nil {
			s.st.DeleteVM(ctx, vm.ID)
			return nil, fmt.Errorf("create nic %s: %w", nic.IfaceID, err)
		}
	}

	s.publish(events.TypeVMCreated, vm.ID, host.ID, map[string]string{"name": vm.Name})

	if err := s.runPreboot(ctx, vm, host); err != nil {
		return nil, err
	}

	return s.st.GetVM(ctx, vm.ID)
}

func (s *Service) Get(ctx context.Context, id string) (*model.VM, error) {
	vm, err := s.st.GetVM(ctx, id)
	if err == store.ErrNotFound {
		return nil, apierr.NotFound("vm not found")
	}
	return vm, err
}

func (s *Service) List(ctx context.Context, ownerID string) ([]*model.VM, error) {
	return s.st.ListVMs(ctx, ownerID)
}

func (s *Service) publish(eventType, vmID, hostID string, payload any) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(eventType, vmID, hostID, payload)
}

func (s *Service) observeStep(step string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	obsmetrics.VMLifecycleStepDuration.WithLabelValues(step, outcome).Observe(time.Since(start).Seconds())
}

func shortID(name string) string {
	h := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
