package vmservice

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/events"
	"github.com/fleetforge/fleetforge/internal/fcapi"
	"github.com/fleetforge/fleetforge/internal/network"
	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

// admitsAction reports whether action is legal from the VM's current
// observed state, per spec.md §4.1's state machine rejection rules.
func admitsAction(action string, observed model.ObservedState) bool {
	switch action {
	case "start":
		return observed == model.ObservedStopped
	case "pause":
		return observed == model.ObservedRunning
	case "resume":
		return observed == model.ObservedPaused
	case "send-reset":
		return observed == model.ObservedRunning
	case "stop":
		return observed == model.ObservedRunning || observed == model.ObservedPaused
	case "delete":
		return observed != model.ObservedCreating && observed != model.ObservedBooting && observed != model.ObservedStopping
	default:
		return false
	}
}

func (s *Service) fcClientFor(vm *model.VM, host *model.Host) *fcapi.Client {
	return FCClientFor(host.Address, vm.ID)
}

// FCClientFor builds a Firecracker API client proxied through the named
// Agent for one VM. Exported so other lifecycle-adjacent packages (e.g.
// internal/snapshot) can reuse the exact same proxy wiring without
// importing vmservice's internals or re-implementing proxyTransport.
func FCClientFor(agentAddr, vmID string) *fcapi.Client {
	return fcapi.NewWithRoundTripper(newProxyTransport(agentAddr, vmID))
}

// Pause transitions a running VM to paused in preparation for a
// snapshot or a planned stop.
func (s *Service) Pause(ctx context.Context, id string) (*model.VM, error) {
	vm, host, err := s.loadForAction(ctx, id, "pause")
	if err != nil {
		return nil, err
	}
	fc := s.fcClientFor(vm, host)
	if err := fc.PauseVM(ctx); err != nil {
		return nil, err
	}
	vm.Observed = model.ObservedPaused
	if err := s.st.UpdateVM(ctx, vm); err != nil {
		return nil, fmt.Errorf("persist paused state: %w", err)
	}
	s.publish(events.TypeVMStateChanged, vm.ID, host.ID, map[string]string{"observed": string(model.ObservedPaused)})
	return vm, nil
}

// Resume transitions a paused VM back to running.
func (s *Service) Resume(ctx context.Context, id string) (*model.VM, error) {
	vm, host, err := s.loadForAction(ctx, id, "resume")
	if err != nil {
		return nil, err
	}
	fc := s.fcClientFor(vm, host)
	if err := fc.ResumeVM(ctx); err != nil {
		return nil, err
	}
	vm.Observed = model.ObservedRunning
	if err := s.st.UpdateVM(ctx, vm); err != nil {
		return nil, fmt.Errorf("persist running state: %w", err)
	}
	s.publish(events.TypeVMStateChanged, vm.ID, host.ID, map[string]string{"observed": string(model.ObservedRunning)})
	return vm, nil
}

// SendReset asks the guest to reboot via Firecracker's SendCtrlAltDel
// action, without tearing down the VMM supervision scope.
func (s *Service) SendReset(ctx context.Context, id string) (*model.VM, error) {
	vm, host, err := s.loadForAction(ctx, id, "send-reset")
	if err != nil {
		return nil, err
	}
	fc := s.fcClientFor(vm, host)
	if err := fc.SendCtrlAltDel(ctx); err != nil {
		return nil, err
	}
	return vm, nil
}

// Stop sends a graceful reset then, after an inactivity window, asks the
// Agent to terminate the supervision scope. The reset is best-effort: a VM
// that never acknowledges it still gets torn down once the window elapses.
func (s *Service) Stop(ctx context.Context, id string) (*model.VM, error) {
	vm, host, err := s.loadForAction(ctx, id, "stop")
	if err != nil {
		return nil, err
	}
	wasRunning := vm.Observed == model.ObservedRunning

	vm.Observed = model.ObservedStopping
	if err := s.st.UpdateVM(ctx, vm); err != nil {
		return nil, fmt.Errorf("persist stopping state: %w", err)
	}

	if wasRunning {
		fc := s.fcClientFor(vm, host)
		_ = fc.SendCtrlAltDel(ctx)
		s.waitInactive(ctx, s.cfg.StopInactivityWindow)
	}

	ac := s.agentFor(host)
	if err := ac.Stop(ctx, vm.UnitName); err != nil {
		vm.Observed = model.ObservedError
		vm.LastErrorStep = "stop"
		vm.ErrorMessage = err.Error()
		_ = s.st.UpdateVM(ctx, vm)
		return nil, err
	}

	vm.Observed = model.ObservedStopped
	if err := s.st.UpdateVM(ctx, vm); err != nil {
		return nil, fmt.Errorf("persist stopped state: %w", err)
	}
	s.publish(events.TypeVMStateChanged, vm.ID, host.ID, map[string]string{"observed": string(model.ObservedStopped)})
	return vm, nil
}

// Start boots a stopped VM back up by re-running the pre-boot protocol
// against its already-allocated storage and rootfs.
func (s *Service) Start(ctx context.Context, id string) (*model.VM, error) {
	vm, host, err := s.loadForAction(ctx, id, "start")
	if err != nil {
		return nil, err
	}
	vm.Observed = model.ObservedCreating
	if err := s.st.UpdateVM(ctx, vm); err != nil {
		return nil, fmt.Errorf("persist creating state: %w", err)
	}
	if err := s.resumeBoot(ctx, vm, host); err != nil {
		return nil, err
	}
	return s.st.GetVM(ctx, vm.ID)
}

// Delete stops the VM if needed, removes its TAPs, drops its socket,
// unlinks its directory, clears volume attachments, then removes the row.
func (s *Service) Delete(ctx context.Context, id string) error {
	vm, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !admitsAction("delete", vm.Observed) {
		return apierr.Precondition(fmt.Sprintf("cannot delete vm in state %q", vm.Observed))
	}

	var host *model.Host
	if vm.HostID != nil {
		host, err = s.st.GetHost(ctx, *vm.HostID)
		if err != nil && err != store.ErrNotFound {
			return fmt.Errorf("look up host: %w", err)
		}
	}

	if host != nil {
		ac := s.agentFor(host)
		if vm.Observed == model.ObservedRunning || vm.Observed == model.ObservedPaused {
			_ = ac.Stop(ctx, vm.UnitName)
		}

		nics, err := s.st.ListNicsByVM(ctx, vm.ID)
		if err == nil {
			for _, n := range nics {
				_ = ac.DeleteTap(ctx, n.HostDevName)
			}
		}
		_ = ac.DeleteStorage(ctx, vm.ID)
	}

	_ = s.st.DeleteNicsByVM(ctx, vm.ID)

	attachments, err := s.st.ListAttachmentsByVM(ctx, vm.ID)
	if err == nil {
		for _, a := range attachments {
			_ = s.st.DeleteAttachment(ctx, a.VolumeID, vm.ID)
		}
	}

	if err := s.st.DeleteVM(ctx, vm.ID); err != nil {
		return fmt.Errorf("delete vm row: %w", err)
	}
	hostID := ""
	if vm.HostID != nil {
		hostID = *vm.HostID
	}
	s.publish(events.TypeVMDeleted, vm.ID, hostID, nil)
	return nil
}

// waitInactive gives a guest that just received a reset request a chance
// to shut down cleanly before the Agent is asked to kill the VMM outright.
func (s *Service) waitInactive(ctx context.Context, window time.Duration) {
	if window <= 0 {
		return
	}
	select {
	case <-time.After(window):
	case <-ctx.Done():
	}
}

func (s *Service) loadForAction(ctx context.Context, id, action string) (*model.VM, *model.Host, error) {
	vm, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !admitsAction(action, vm.Observed) {
		return nil, nil, apierr.Precondition(fmt.Sprintf("cannot %s vm in state %q", action, vm.Observed))
	}
	if vm.HostID == nil {
		return nil, nil, apierr.Internal("vm has no assigned host", nil)
	}
	host, err := s.st.GetHost(ctx, *vm.HostID)
	if err != nil {
		return nil, nil, fmt.Errorf("look up host: %w", err)
	}
	return vm, host, nil
}

// FlushMetrics asks Firecracker to emit one metrics sample immediately,
// for callers that want a fresh reading rather than waiting for the
// periodic one.
func (s *Service) FlushMetrics(ctx context.Context, id string) error {
	vm, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if vm.Observed != model.ObservedRunning {
		return apierr.Precondition(fmt.Sprintf("cannot flush metrics for vm in state %q", vm.Observed))
	}
	if vm.HostID == nil {
		return apierr.Internal("vm has no assigned host", nil)
	}
	host, err := s.st.GetHost(ctx, *vm.HostID)
	if err != nil {
		return fmt.Errorf("look up host: %w", err)
	}
	return s.fcClientFor(vm, host).FlushMetrics(ctx)
}

// SetGuestIP records the IP address the guest agent reported over its
// liveness channel, so the Manager can surface a VM's address without
// depending on DHCP lease inspection on the host.
func (s *Service) SetGuestIP(ctx context.Context, id, ip string) error {
	vm, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	vm.GuestIP = &ip
	if err := s.st.UpdateVM(ctx, vm); err != nil {
		return err
	}
	hostID := ""
	if vm.HostID != nil {
		hostID = *vm.HostID
	}
	s.publish(events.TypeVMGuestIP, vm.ID, hostID, map[string]string{"ip": ip})
	return nil
}

// AttachVolume declares an additional data volume for a stopped VM. It
// takes effect on the next start.
func (s *Service) AttachVolume(ctx context.Context, vmID, volumeID string, order int) error {
	vm, err := s.Get(ctx, vmID)
	if err != nil {
		return err
	}
	if vm.Observed != model.ObservedStopped && vm.Observed != model.ObservedCreating {
		return apierr.Precondition("can only attach a volume while the vm is stopped")
	}
	return s.st.CreateAttachment(ctx, &model.VolumeAttachment{VolumeID: volumeID, VMID: vmID, DriveRole: model.DriveRoleData, Order: order})
}

// DetachVolume removes a declared data volume from a stopped VM.
func (s *Service) DetachVolume(ctx context.Context, vmID, volumeID string) error {
	vm, err := s.Get(ctx, vmID)
	if err != nil {
		return err
	}
	if vm.Observed != model.ObservedStopped {
		return apierr.Precondition("can only detach a volume while the vm is stopped")
	}
	return s.st.DeleteAttachment(ctx, volumeID, vmID)
}

// AttachNic declares an additional NIC for a stopped VM, resolving its
// bridge/VLAN into a registered Network and assigning a TAP name.
func (s *Service) AttachNic(ctx context.Context, vmID string, spec NICSpec) (*model.VmNic, error) {
	vm, err := s.Get(ctx, vmID)
	if err != nil {
		return nil, err
	}
	if vm.Observed != model.ObservedStopped && vm.Observed != model.ObservedCreating {
		return nil, apierr.Precondition("can only attach a nic while the vm is stopped")
	}
	if vm.HostID == nil {
		return nil, apierr.Internal("vm has no assigned host", nil)
	}

	existing, err := s.st.ListNicsByVM(ctx, vmID)
	if err != nil {
		return nil, fmt.Errorf("list existing nics: %w", err)
	}
	order := len(existing)

	nw, err := s.resolveNetwork(ctx, *vm.HostID, spec)
	if err != nil {
		return nil, err
	}
	mac, err := network.RandomMAC()
	if err != nil {
		return nil, err
	}
	nic := &model.VmNic{
		VMID:        vmID,
		IfaceID:     fmt.Sprintf("eth%d", order),
		HostDevName: network.TAPName(vmID, order),
		GuestMAC:    mac,
		NetworkID:   &nw.ID,
		Order:       order,
		RxRateLimit: spec.RxLimit,
		TxRateLimit: spec.TxLimit,
	}
	if err := s.st.CreateNic(ctx, nic); err != nil {
		return nil, fmt.Errorf("create nic: %w", err)
	}
	return nic, nil
}

// DetachNic removes a NIC from a stopped VM.
func (s *Service) DetachNic(ctx context.Context, vmID, ifaceID string) error {
	vm, err := s.Get(ctx, vmID)
	if err != nil {
		return err
	}
	if vm.Observed != model.ObservedStopped {
		return apierr.Precondition("can only detach a nic while the vm is stopped")
	}
	nics, err := s.st.ListNicsByVM(ctx, vmID)
	if err != nil {
		return fmt.Errorf("list nics: %w", err)
	}
	var found bool
	for _, n := range nics {
		if n.IfaceID == ifaceID {
			found = true
			if vm.HostID != nil {
				_ = s.agentFor(&model.Host{ID: *vm.HostID, Address: s.hostAddress(ctx, *vm.HostID)}).DeleteTap(ctx, n.HostDevName)
			}
		}
	}
	if !found {
		return apierr.NotFound(fmt.Sprintf("nic %q not found", ifaceID))
	}
	return s.st.DeleteNic(ctx, vmID, ifaceID)
}

func (s *Service) hostAddress(ctx context.Context, hostID string) string {
	h, err := s.st.GetHost(ctx, hostID)
	if err != nil {
		return ""
	}
	return h.Address
}

func (s *Service) resolveNetwork(ctx context.Context, hostID string, spec NICSpec) (*model.Network, error) {
	return network.Resolve(ctx, s.st, hostID, spec.BridgeName, spec.VLANID)
}
