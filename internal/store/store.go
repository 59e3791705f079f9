// Package store defines the Persistent Store Interface: the contract
// every component above it programs against. It says nothing about the
// SQL dialect — internal/store/postgres is the reference implementation
// against PostgreSQL, internal/store/memstore is an in-memory fake used
// by unit tests across the rest of the tree.
package store

import (
	"context"
	"time"

	"github.com/fleetforge/fleetforge/pkg/model"
)

// Store is the single source of truth. Every field of VM/Network/Volume/
// Snapshot/Template/Image is written by exactly one component (the
// Manager); Agents never write to the store directly.
type Store interface {
	// VMs
	CreateVM(ctx context.Context, vm *model.VM) error
	GetVM(ctx context.Context, id string) (*model.VM, error)
	GetVMByName(ctx context.Context, ownerID, name string) (*model.VM, error)
	ListVMs(ctx context.Context, ownerID string) ([]*model.VM, error)
	ListAllVMs(ctx context.Context) ([]*model.VM, error)
	ListVMsByHost(ctx context.Context, hostID string) ([]*model.VM, error)
	UpdateVM(ctx context.Context, vm *model.VM) error
	DeleteVM(ctx context.Context, id string) error

	// Hosts
	UpsertHost(ctx context.Context, h *model.Host) error
	GetHost(ctx context.Context, id string) (*model.Host, error)
	ListHosts(ctx context.Context) ([]*model.Host, error)
	UpdateHeartbeat(ctx context.Context, id string, cpus, memMiB, diskMiB int, at time.Time) error
	UpdateHostStatus(ctx context.Context, id string, status model.HostStatus) error
	CountRunningVMsByHost(ctx context.Context, hostID string) (int, error)

	// Images
	CreateImage(ctx context.Context, img *model.Image) error
	GetImage(ctx context.Context, id string) (*model.Image, error)
	ListImages(ctx context.Context, kind model.ImageKind) ([]*model.Image, error)
	DeleteImage(ctx context.Context, id string) error

	// Volumes
	CreateVolume(ctx context.Context, v *model.Volume) error
	GetVolume(ctx context.Context, id string) (*model.Volume, error)
	GetVolumeByPath(ctx context.Context, path string) (*model.Volume, error)
	ListVolumesByHost(ctx context.Context, hostID string) ([]*model.Volume, error)
	UpdateVolumeStatus(ctx context.Context, id string, status model.VolumeStatus) error
	DeleteVolume(ctx context.Context, id string) error

	// Volume attachments
	CreateAttachment(ctx context.Context, a *model.VolumeAttachment) error
	ListAttachmentsByVM(ctx context.Context, vmID string) ([]*model.VolumeAttachment, error)
	ListAttachmentsByVolume(ctx context.Context, volumeID string) ([]*model.VolumeAttachment, error)
	DeleteAttachment(ctx context.Context, volumeID, vmID string) error

	// Networks
	GetOrCreateNetwork(ctx context.Context, hostID, bridgeName string, vlanID *int) (*model.Network, error)
	GetNetwork(ctx context.Context, id string) (*model.Network, error)
	ListNetworks(ctx context.Context) ([]*model.Network, error)

	// VM NICs
	CreateNic(ctx context.Context, n *model.VmNic) error
	ListNicsByVM(ctx context.Context, vmID string) ([]*model.VmNic, error)
	DeleteNic(ctx context.Context, vmID, ifaceID string) error
	DeleteNicsByVM(ctx context.Context, vmID string) error

	// Snapshots
	CreateSnapshot(ctx context.Context, s *model.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)
	ListSnapshotsByVM(ctx context.Context, vmID string) ([]*model.Snapshot, error)
	ListSnapshotChildren(ctx context.Context, parentID string) ([]*model.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error

	// Templates
	CreateTemplate(ctx context.Context, t *model.Template) error
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	ListTemplates(ctx context.Context) ([]*model.Template, error)
	DeleteTemplate(ctx context.Context, id string) error

	Close()
}

// ErrNotFound is returned by Get* methods when no row matches.
var ErrNotFound = notFoundErr{}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }
