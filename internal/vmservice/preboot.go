package vmservice

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"time"

	"github.com/fleetforge/fleetforge/internal/agentclient"
	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/events"
	"github.com/fleetforge/fleetforge/internal/fcapi"
	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/internal/template"
	"github.com/fleetforge/fleetforge/pkg/model"
)

// runPreboot drives spec.md §4.1 steps 2-8 for a freshly-inserted VM row
// (step 1 already happened in Create): storage, credential injection,
// networking, spawn, the Firecracker configuration sequence, start, and
// await-guest. Any failure tears down everything allocated so far, in
// reverse order, and marks the VM observed=error.
func (s *Service) runPreboot(ctx context.Context, vm *model.VM, host *model.Host) error {
	ac := s.agentFor(host)
	var tornDown teardown

	layout, err := s.prebootStorage(ctx, ac, vm)
	if err != nil {
		return s.fail(ctx, vm, "storage", err, tornDown)
	}
	tornDown.storagePrepared = true
	vm.APISocket = layout.APISocket
	vm.RootfsPath = layout.RootfsPath

	if err := s.prebootCredentials(ctx, ac, vm, layout); err != nil {
		return s.fail(ctx, vm, "credential_injection", err, tornDown)
	}

	nics, err := s.st.ListNicsByVM(ctx, vm.ID)
	if err != nil {
		return s.fail(ctx, vm, "networking", fmt.Errorf("list nics: %w", err), tornDown)
	}
	createdTaps, err := s.prebootNetworking(ctx, ac, vm.ID, host, nics)
	tornDown.tapsCreated = createdTaps
	if err != nil {
		return s.fail(ctx, vm, "networking", err, tornDown)
	}

	if err := s.prebootSpawn(ctx, ac, vm); err != nil {
		return s.fail(ctx, vm, "spawn", err, tornDown)
	}
	tornDown.spawned = true

	fc := fcapi.NewWithRoundTripper(newProxyTransport(host.Address, vm.ID))
	if err := s.prebootConfigure(ctx, ac, fc, vm, layout, nics); err != nil {
		return s.fail(ctx, vm, "firecracker_configuration", err, tornDown)
	}

	if err := fc.StartInstance(ctx); err != nil {
		return s.fail(ctx, vm, "start", err, tornDown)
	}

	vm.Observed = model.ObservedBooting
	if err := s.st.UpdateVM(ctx, vm); err != nil {
		return fmt.Errorf("persist booting state: %w", err)
	}
	s.publish(events.TypeVMStateChanged, vm.ID, host.ID, map[string]string{"observed": string(model.ObservedBooting)})

	s.awaitGuest(ctx, vm)

	vm.Observed = model.ObservedRunning
	if err := s.st.UpdateVM(ctx, vm); err != nil {
		return fmt.Errorf("persist running state: %w", err)
	}
	s.publish(events.TypeVMStateChanged, vm.ID, host.ID, map[string]string{"observed": string(model.ObservedRunning)})
	return nil
}

type teardown struct {
	storagePrepared bool
	tapsCreated     []string
	spawned         bool
}

// layoutFromVM reconstructs a VM's on-disk layout from its persisted
// fields, without asking the Agent to allocate anything. APISocket and
// RootfsPath are the only layout paths that aren't deterministic from
// {storage_root}/{vm_id} (RootfsPath carries a random suffix so no two
// VMs, past or present, ever share a rootfs file); log and metrics-fifo
// paths are siblings of the socket's directory and can always be derived.
func layoutFromVM(vm *model.VM) *agentclient.PrepareStorageResponse {
	vmDir := filepath.Dir(filepath.Dir(vm.APISocket))
	return &agentclient.PrepareStorageResponse{
		VMDir:           vmDir,
		RootfsPath:      vm.RootfsPath,
		APISocket:       vm.APISocket,
		LogPath:         filepath.Join(vmDir, "logs", "firecracker.log"),
		MetricsFifoPath: filepath.Join(vmDir, "logs", "metrics.fifo"),
	}
}

// resumeBoot re-spawns and reconfigures a VM against its already-
// allocated storage, skipping prebootStorage and prebootCredentials
// entirely — both ran once at first boot, and the rootfs file they
// produced must never be re-provisioned (spec's one-live-rootfs-per-VM
// invariant). Used by the Start action on a stopped VM, and by the
// reconciler's single-restart-on-drift step for a VM whose scope
// disappeared while desired=running.
func (s *Service) resumeBoot(ctx context.Context, vm *model.VM, host *model.Host) error {
	ac := s.agentFor(host)
	layout := layoutFromVM(vm)

	nics, err := s.st.ListNicsByVM(ctx, vm.ID)
	if err != nil {
		return s.fail(ctx, vm, "networking", fmt.Errorf("list nics: %w", err), teardown{})
	}
	if _, err := s.prebootNetworking(ctx, ac, vm.ID, host, nics); err != nil {
		return s.fail(ctx, vm, "networking", err, teardown{})
	}

	if err := s.prebootSpawn(ctx, ac, vm); err != nil {
		return s.fail(ctx, vm, "spawn", err, teardown{})
	}

	fc := fcapi.NewWithRoundTripper(newProxyTransport(host.Address, vm.ID))
	if err := s.prebootConfigure(ctx, ac, fc, vm, layout, nics); err != nil {
		return s.fail(ctx, vm, "firecracker_configuration", err, teardown{spawned: true})
	}

	if err := fc.StartInstance(ctx); err != nil {
		return s.fail(ctx, vm, "start", err, teardown{spawned: true})
	}

	vm.Observed = model.ObservedBooting
	if err := s.st.UpdateVM(ctx, vm); err != nil {
		return fmt.Errorf("persist booting state: %w", err)
	}
	s.publish(events.TypeVMStateChanged, vm.ID, host.ID, map[string]string{"observed": string(model.ObservedBooting)})

	s.awaitGuest(ctx, vm)

	vm.Observed = model.ObservedRunning
	if err := s.st.UpdateVM(ctx, vm); err != nil {
		return fmt.Errorf("persist running state: %w", err)
	}
	s.publish(events.TypeVMStateChanged, vm.ID, host.ID, map[string]string{"observed": string(model.ObservedRunning)})
	return nil
}

// Restart re-spawns and reconfigures a VM whose scope has gone missing,
// for the reconciler's single-restart-on-drift step. It does not touch
// desired-state; callers decide what happens to observed-state if this
// returns an error (the reconciler transitions the VM to error).
func (s *Service) Restart(ctx context.Context, vmID string) error {
	vm, err := s.Get(ctx, vmID)
	if err != nil {
		return err
	}
	if vm.HostID == nil {
		return apierr.Internal("vm has no assigned host", nil)
	}
	host, err := s.st.GetHost(ctx, *vm.HostID)
	if err != nil {
		return fmt.Errorf("look up host: %w", err)
	}
	return s.resumeBoot(ctx, vm, host)
}

// fail tears down whatever runPreboot allocated, in reverse order, marks
// the VM observed=error with the failing step recorded, and returns the
// original error wrapped with an actionable suggestion.
func (s *Service) fail(ctx context.Context, vm *model.VM, step string, cause error, t teardown) error {
	host, hostErr := s.hostOf(ctx, vm)
	if hostErr == nil && host != nil {
		ac := s.agentFor(host)
		if t.spawned {
			_ = ac.Stop(ctx, vm.UnitName)
		}
		for _, tap := range t.tapsCreated {
			_ = ac.DeleteTap(ctx, tap)
		}
		if t.storagePrepared {
			_ = ac.DeleteStorage(ctx, vm.ID)
		}
	}

	vm.Observed = model.ObservedError
	vm.LastErrorStep = step
	vm.ErrorMessage = cause.Error()
	_ = s.st.UpdateVM(ctx, vm)

	if apiErr, ok := apierr.As(cause); ok {
		return apiErr.WithSuggestion(fmt.Sprintf("pre-boot step %q failed; VM marked error and rolled back", step))
	}
	return fmt.Errorf("pre-boot step %q failed: %w", step, cause)
}

func (s *Service) hostOf(ctx context.Context, vm *model.VM) (*model.Host, error) {
	if vm.HostID == nil {
		return nil, fmt.Errorf("vm has no assigned host")
	}
	return s.st.GetHost(ctx, *vm.HostID)
}

func (s *Service) prebootStorage(ctx context.Context, ac *agentclient.Client, vm *model.VM) (*agentclient.PrepareStorageResponse, error) {
	img, err := s.st.GetImage(ctx, vm.RootfsRef)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apierr.Validation("unknown rootfs image " + vm.RootfsRef)
		}
		return nil, fmt.Errorf("look up rootfs image: %w", err)
	}
	return ac.PrepareStorage(ctx, agentclient.PrepareStorageRequest{VMID: vm.ID, RootfsImagePath: img.CanonicalPath})
}

// prebootCredentials always runs, even with no vm.CredUser set, because it
// is also how every guest gets its guest-agent config (vm_id, manager_url)
// baked into the rootfs before first boot — without it the guest agent has
// nothing to report its IP to. VMs booted from a function-vm template also
// get the write-code convention wired in here.
func (s *Service) prebootCredentials(ctx context.Context, ac *agentclient.Client, vm *model.VM, layout *agentclient.PrepareStorageResponse) error {
	req := agentclient.InjectCredentialsRequest{
		VMID:       vm.ID,
		RootfsPath: layout.RootfsPath,
		CredUser:   vm.CredUser,
		CredHash:   vm.CredHash,
		ManagerURL: s.cfg.ManagerPublicURL,
	}

	if vm.TemplateID != nil {
		tmpl, err := s.st.GetTemplate(ctx, *vm.TemplateID)
		if err != nil && err != store.ErrNotFound {
			return fmt.Errorf("look up template: %w", err)
		}
		if tmpl != nil && tmpl.Kind == model.TemplateFunction {
			req.FunctionSourcePath = template.FunctionSourcePath
			req.ReloadCommand = template.FunctionReloadCommand
		}
	}

	return ac.InjectCredentials(ctx, req)
}

// prebootNetworking ensures every NIC's bridge (and VLAN sub-bridge, if
// the Network declares one) and TAP exist, attaching each TAP to the
// VLAN-isolated sub-bridge rather than the base bridge whenever the NIC's
// Network has a vlan_id — two NICs sharing a bridge_name but declaring
// different vlan_id values must never land on the same L2 domain. It
// returns the TAP names it created even on a partial failure, so the
// caller can tear down exactly what succeeded.
func (s *Service) prebootNetworking(ctx context.Context, ac *agentclient.Client, vmID string, host *model.Host, nics []*model.VmNic) ([]string, error) {
	sort.Slice(nics, func(i, j int) bool { return nics[i].Order < nics[j].Order })

	var created []string
	for _, n := range nics {
		nw, err := s.st.GetNetwork(ctx, strVal(n.NetworkID))
		if err != nil {
			return created, fmt.Errorf("look up network for nic %s: %w", n.IfaceID, err)
		}
		if err := ac.EnsureBridge(ctx, agentclient.EnsureBridgeRequest{BridgeName: nw.BridgeName, VLANID: nw.VLANID, CIDR: nw.CIDR}); err != nil {
			return created, fmt.Errorf("ensure bridge %s: %w", nw.BridgeName, err)
		}
		if err := ac.CreateTap(ctx, agentclient.CreateTapRequest{
			TAPName:    n.HostDevName,
			BridgeName: nw.BridgeName,
			VLANID:     nw.VLANID,
			VMID:       vmID,
		}); err != nil {
			return created, fmt.Errorf("create tap %s: %w", n.HostDevName, err)
		}
		created = append(created, n.HostDevName)
	}
	return created, nil
}

func (s *Service) prebootSpawn(ctx context.Context, ac *agentclient.Client, vm *model.VM) error {
	deadline := s.cfg.SpawnDeadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	spawnCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	_, err := ac.Spawn(spawnCtx, agentclient.SpawnRequest{VMID: vm.ID, UnitName: vm.UnitName, APISocket: vm.APISocket})
	return err
}

func (s *Service) prebootConfigure(ctx context.Context, ac *agentclient.Client, fc *fcapi.Client, vm *model.VM, layout *agentclient.PrepareStorageResponse, nics []*model.VmNic) error {
	kernelImg, err := s.st.GetImage(ctx, vm.KernelRef)
	if err != nil {
		return fmt.Errorf("look up kernel image: %w", err)
	}

	// (a) machine-config doubles as the readiness probe for the freshly
	// spawned process's API socket: the ordered sequence cannot proceed
	// until this succeeds, so retry through transient Agent/socket
	// unreachability instead of failing the whole VM on a race.
	if err := retryUnreachable(ctx, s.cfg.SpawnDeadline, func() error {
		return fc.PutMachineConfig(ctx, vm.VCPU, vm.MemMiB, vm.SMT, vm.CPUTemplate)
	}); err != nil {
		return err
	}

	// (b) boot-source
	if err := fc.PutBootSource(ctx, kernelImg.CanonicalPath, vm.BootArgs); err != nil {
		return err
	}

	// (c) drives: rootfs first, then declared data drives in order
	if err := fc.PutDrive(ctx, "rootfs", layout.RootfsPath, true, false, nil); err != nil {
		return err
	}
	attachments, err := s.st.ListAttachmentsByVM(ctx, vm.ID)
	if err != nil {
		return fmt.Errorf("list volume attachments: %w", err)
	}
	sort.Slice(attachments, func(i, j int) bool { return attachments[i].Order < attachments[j].Order })
	for _, a := range attachments {
		if a.DriveRole == model.DriveRoleRootfs {
			continue
		}
		vol, err := s.st.GetVolume(ctx, a.VolumeID)
		if err != nil {
			return fmt.Errorf("look up volume %s: %w", a.VolumeID, err)
		}
		driveID := fmt.Sprintf("data%d", a.Order)
		if err := fc.PutDrive(ctx, driveID, vol.Path, false, false, nil); err != nil {
			return err
		}
	}

	// (d) network-interfaces, declared order
	for _, n := range nics {
		if err := fc.PutNetworkInterface(ctx, n.IfaceID, n.GuestMAC, n.HostDevName, n.RxRateLimit, n.TxRateLimit); err != nil {
			return err
		}
	}

	// (e) logger
	if err := fc.PutLogger(ctx, layout.LogPath, "Info"); err != nil {
		return err
	}

	// (f) metrics — the Agent must create the FIFO before Firecracker is
	// told to write to it.
	if err := ac.PrepareMetricsFifo(ctx, layout.MetricsFifoPath); err != nil {
		return fmt.Errorf("prepare metrics fifo: %w", err)
	}
	if err := fc.PutMetrics(ctx, layout.MetricsFifoPath); err != nil {
		return err
	}

	// (g) MMDS — an optional cloud-init-style document alongside the
	// rootfs-mount credential injection prebootCredentials already ran.
	// Unlike every PUT above, this one is best-effort: the mount path is
	// the only guest-bootstrap mechanism create cannot succeed without.
	if vm.UserData != "" {
		if err := fc.PutMmds(ctx, map[string]any{"user_data": vm.UserData}); err != nil {
			log.Printf("vmservice: mmds seed failed for vm %s: %v", vm.ID, err)
		}
	}

	return nil
}

// awaitGuest waits up to GuestAwaitDeadline for the guest agent to report
// its IP over the event bus. Timing out is not itself a failure — the
// reconciler can still observe the VMM alive and promote it later — so
// this never returns an error.
func (s *Service) awaitGuest(ctx context.Context, vm *model.VM) {
	deadline := s.cfg.GuestAwaitDeadline
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	if s.bus == nil {
		return
	}

	done := make(chan struct{})
	sub, err := s.bus.SubscribeVM(vm.ID, func(evt events.Event) {
		if evt.Type == events.TypeVMGuestIP {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return
	}
	defer sub.Unsubscribe()

	select {
	case <-done:
	case <-time.After(deadline):
	case <-ctx.Done():
	}
}

// retryUnreachable retries fn while it returns apierr.KindUnreachable,
// until deadline elapses. Any other error returns immediately.
func retryUnreachable(ctx context.Context, deadline time.Duration, fn func() error) error {
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
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

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
