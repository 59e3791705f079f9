package memstore

import (
	"context"
	"testing"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

func TestCreateVMDuplicateNameRejected(t *testing.T) {
	s := New()
	ctx := context.Background()

	vm1 := &model.VM{Name: "web-1", OwnerID: "owner-a"}
	if err := s.CreateVM(ctx, vm1); err != nil {
		t.Fatalf("first create: %v", err)
	}

	vm2 := &model.VM{Name: "web-1", OwnerID: "owner-a"}
	err := s.CreateVM(ctx, vm2)
	if err == nil {
		t.Fatal("expected conflict creating duplicate vm name for same owner")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}

	vm3 := &model.VM{Name: "web-1", OwnerID: "owner-b"}
	if err := s.CreateVM(ctx, vm3); err != nil {
		t.Fatalf("same name for a different owner should succeed: %v", err)
	}
}

func TestGetVMNotFound(t *testing.T) {
	s := New()
	_, err := s.GetVM(context.Background(), "nonexistent")
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOnlyOneRootfsAttachmentPerVM(t *testing.T) {
	s := New()
	ctx := context.Background()

	vm := &model.VM{Name: "vm-1", OwnerID: "owner-a"}
	if err := s.CreateVM(ctx, vm); err != nil {
		t.Fatal(err)
	}
	vol1 := &model.Volume{Name: "root-1", Path: "/a", HostID: "host-1"}
	vol2 := &model.Volume{Name: "root-2", Path: "/b", HostID: "host-1"}
	if err := s.CreateVolume(ctx, vol1); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateVolume(ctx, vol2); err != nil {
		t.Fatal(err)
	}

	if err := s.CreateAttachment(ctx, &model.VolumeAttachment{VolumeID: vol1.ID, VMID: vm.ID, DriveRole: model.DriveRoleRootfs}); err != nil {
		t.Fatalf("first rootfs attachment: %v", err)
	}
	err := s.CreateAttachment(ctx, &model.VolumeAttachment{VolumeID: vol2.ID, VMID: vm.ID, DriveRole: model.DriveRoleRootfs})
	if err == nil {
		t.Fatal("expected conflict attaching a second rootfs volume")
	}

	// a data-role attachment for the same VM is fine
	if err := s.CreateAttachment(ctx, &model.VolumeAttachment{VolumeID: vol2.ID, VMID: vm.ID, DriveRole: model.DriveRoleData}); err != nil {
		t.Fatalf("data attachment should succeed: %v", err)
	}
}

func TestDeleteVolumeWithAttachmentConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()

	vm := &model.VM{Name: "vm-1", OwnerID: "owner-a"}
	_ = s.CreateVM(ctx, vm)
	vol := &model.Volume{Name: "root-1", Path: "/a", HostID: "host-1"}
	_ = s.CreateVolume(ctx, vol)
	_ = s.CreateAttachment(ctx, &model.VolumeAttachment{VolumeID: vol.ID, VMID: vm.ID, DriveRole: model.DriveRoleRootfs})

	if err := s.DeleteVolume(ctx, vol.ID); err == nil {
		t.Fatal("expected conflict deleting an attached volume")
	}

	if err := s.DeleteAttachment(ctx, vol.ID, vm.ID); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if err := s.DeleteVolume(ctx, vol.ID); err != nil {
		t.Fatalf("delete after detach: %v", err)
	}
}

func TestSnapshotParentChildDeleteOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	vm := &model.VM{Name: "vm-1", OwnerID: "owner-a"}
	_ = s.CreateVM(ctx, vm)

	parent := &model.Snapshot{VMID: vm.ID, Name: "base"}
	if err := s.CreateSnapshot(ctx, parent); err != nil {
		t.Fatal(err)
	}
	child := &model.Snapshot{VMID: vm.ID, Name: "incremental", ParentID: &parent.ID}
	if err := s.CreateSnapshot(ctx, child); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSnapshot(ctx, parent.ID); err == nil {
		t.Fatal("expected conflict deleting a snapshot with children")
	}
	if err := s.DeleteSnapshot(ctx, child.ID); err != nil {
		t.Fatalf("delete child: %v", err)
	}
	if err := s.DeleteSnapshot(ctx, parent.ID); err != nil {
		t.Fatalf("delete parent after child removed: %v", err)
	}
}

func TestGetOrCreateNetworkIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	n1, err := s.GetOrCreateNetwork(ctx, "host-1", "fcbr0", nil)
	if err != nil {
		t.Fatal(err)
	}
	n2, err := s.GetOrCreateNetwork(ctx, "host-1", "fcbr0", nil)
	if err != nil {
		t.Fatal(err)
	}
	if n1.ID != n2.ID {
		t.Fatalf("expected same network id, got %s and %s", n1.ID, n2.ID)
	}

	vlan := 42
	n3, err := s.GetOrCreateNetwork(ctx, "host-1", "fcbr0", &vlan)
	if err != nil {
		t.Fatal(err)
	}
	if n3.ID == n1.ID {
		t.Fatal("expected a distinct network for a different vlan tag")
	}
	if n3.Type != model.NetworkVLAN {
		t.Fatalf("expected vlan network type, got %s", n3.Type)
	}
}

func TestCountRunningVMsByHostExcludesTerminalStates(t *testing.T) {
	s := New()
	ctx := context.Background()

	hostID := "host-1"
	running := &model.VM{Name: "running", OwnerID: "o", Observed: model.ObservedRunning, HostID: &hostID}
	stopped := &model.VM{Name: "stopped", OwnerID: "o", Observed: model.ObservedStopped, HostID: &hostID}
	_ = s.CreateVM(ctx, running)
	_ = s.CreateVM(ctx, stopped)

	n, err := s.CountRunningVMsByHost(ctx, hostID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 running vm, got %d", n)
	}
}
