// Package memstore is an in-memory fake of the Persistent Store
// Interface, used by unit tests elsewhere in the tree instead of a real
// PostgreSQL instance.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

// Store is a mutex-guarded map-backed implementation of store.Store.
type Store struct {
	mu sync.Mutex

	vms         map[string]*model.VM
	hosts       map[string]*model.Host
	images      map[string]*model.Image
	volumes     map[string]*model.Volume
	attachments map[string]*model.VolumeAttachment // keyed "volumeID/vmID"
	networks    map[string]*model.Network
	nics        map[string]*model.VmNic // keyed "vmID/ifaceID"
	snapshots   map[string]*model.Snapshot
	templates   map[string]*model.Template
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		vms:         map[string]*model.VM{},
		hosts:       map[string]*model.Host{},
		images:      map[string]*model.Image{},
		volumes:     map[string]*model.Volume{},
		attachments: map[string]*model.VolumeAttachment{},
		networks:    map[string]*model.Network{},
		nics:        map[string]*model.VmNic{},
		snapshots:   map[string]*model.Snapshot{},
		templates:   map[string]*model.Template{},
	}
}

func (s *Store) Close() {}

// --- VMs ---

func (s *Store) CreateVM(ctx context.Context, vm *model.VM) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.vms {
		if existing.OwnerID == vm.OwnerID && existing.Name == vm.Name {
			return apierr.Conflict("a vm with this name already exists for this owner")
		}
	}
	if vm.ID == "" {
		vm.ID = uuid.NewString()
	}
	now := time.Now()
	vm.CreatedAt, vm.UpdatedAt = now, now
	cp := *vm
	s.vms[vm.ID] = &cp
	return nil
}

func (s *Store) GetVM(ctx context.Context, id string) (*model.VM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) GetVMByName(ctx context.Context, ownerID, name string) (*model.VM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vms {
		if v.OwnerID == ownerID && v.Name == name {
			cp := *v
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListVMs(ctx context.Context, ownerID string) ([]*model.VM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.VM
	for _, v := range s.vms {
		if v.OwnerID == ownerID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListAllVMs(ctx context.Context) ([]*model.VM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.VM
	for _, v := range s.vms {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) ListVMsByHost(ctx context.Context, hostID string) ([]*model.VM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.VM
	for _, v := range s.vms {
		if v.HostID != nil && *v.HostID == hostID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) UpdateVM(ctx context.Context, vm *model.VM) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.vms[vm.ID]
	if !ok {
		return store.ErrNotFound
	}
	vm.CreatedAt = existing.CreatedAt
	vm.UpdatedAt = time.Now()
	cp := *vm
	s.vms[vm.ID] = &cp
	return nil
}

func (s *Store) DeleteVM(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vms[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.vms, id)
	return nil
}

// --- Hosts ---

func (s *Store) UpsertHost(ctx context.Context, h *model.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.hosts[h.ID]; ok {
		h.CreatedAt = existing.CreatedAt
		h.LastHeartbeatAt = existing.LastHeartbeatAt
		h.Status = existing.Status
	} else {
		h.CreatedAt = time.Now()
		if h.Status == "" {
			h.Status = model.HostDown
		}
	}
	cp := *h
	s.hosts[h.ID] = &cp
	return nil
}

func (s *Store) GetHost(ctx context.Context, id string) (*model.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hosts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *Store) ListHosts(ctx context.Context) ([]*model.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Host
	for _, h := range s.hosts {
		cp := *h
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) UpdateHeartbeat(ctx context.Context, id string, cpus, memMiB, diskMiB int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hosts[id]
	if !ok {
		return store.ErrNotFound
	}
	h.CPUs, h.MemMiB, h.DiskMiB = cpus, memMiB, diskMiB
	h.LastHeartbeatAt = at
	h.Status = model.HostHealthy
	return nil
}

func (s *Store) UpdateHostStatus(ctx context.Context, id string, status model.HostStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hosts[id]
	if !ok {
		return store.ErrNotFound
	}
	h.Status = status
	return nil
}

func (s *Store) CountRunningVMsByHost(ctx context.Context, hostID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.vms {
		if v.HostID != nil && *v.HostID == hostID &&
			v.Observed != model.ObservedStopped && v.Observed != model.ObservedDeleted && v.Observed != model.ObservedError {
			n++
		}
	}
	return n, nil
}

// --- Images ---

func (s *Store) CreateImage(ctx context.Context, img *model.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.images {
		if existing.Name == img.Name && existing.Kind == img.Kind {
			return apierr.Conflict("an image with this name and kind already exists")
		}
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	img.CreatedAt = time.Now()
	cp := *img
	s.images[img.ID] = &cp
	return nil
}

func (s *Store) GetImage(ctx context.Context, id string) (*model.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (s *Store) ListImages(ctx context.Context, kind model.ImageKind) ([]*model.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Image
	for _, img := range s.images {
		if kind == "" || img.Kind == kind {
			cp := *img
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) DeleteImage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.images, id)
	return nil
}

// --- Volumes ---

func (s *Store) CreateVolume(ctx context.Context, v *model.Volume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.volumes {
		if existing.Path == v.Path {
			return apierr.Conflict("a volume already exists at this path")
		}
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.CreatedAt = time.Now()
	cp := *v
	s.volumes[v.ID] = &cp
	return nil
}

func (s *Store) GetVolume(ctx context.Context, id string) (*model.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.volumes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) GetVolumeByPath(ctx context.Context, path string) (*model.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.volumes {
		if v.Path == path {
			cp := *v
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListVolumesByHost(ctx context.Context, hostID string) ([]*model.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Volume
	for _, v := range s.volumes {
		if v.HostID == hostID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) UpdateVolumeStatus(ctx context.Context, id string, status model.VolumeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.volumes[id]
	if !ok {
		return store.ErrNotFound
	}
	v.Status = status
	return nil
}

func (s *Store) DeleteVolume(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.volumes[id]; !ok {
		return store.ErrNotFound
	}
	for _, a := range s.attachments {
		if a.VolumeID == id {
			return apierr.Conflict("volume has active attachments")
		}
	}
	delete(s.volumes, id)
	return nil
}

// --- Volume attachments ---

func attachmentKey(volumeID, vmID string) string { return volumeID + "/" + vmID }

func (s *Store) CreateAttachment(ctx context.Context, a *model.VolumeAttachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.DriveRole == model.DriveRoleRootfs {
		for _, existing := range s.attachments {
			if existing.VMID == a.VMID && existing.DriveRole == model.DriveRoleRootfs {
				return apierr.Conflict("this vm already has a rootfs attachment")
			}
		}
	}
	cp := *a
	s.attachments[attachmentKey(a.VolumeID, a.VMID)] = &cp
	return nil
}

func (s *Store) ListAttachmentsByVM(ctx context.Context, vmID string) ([]*model.VolumeAttachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.VolumeAttachment
	for _, a := range s.attachments {
		if a.VMID == vmID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListAttachmentsByVolume(ctx context.Context, volumeID string) ([]*model.VolumeAttachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.VolumeAttachment
	for _, a := range s.attachments {
		if a.VolumeID == volumeID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) DeleteAttachment(ctx context.Context, volumeID, vmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attachmentKey(volumeID, vmID)
	if _, ok := s.attachments[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.attachments, key)
	return nil
}

// --- Networks ---

func (s *Store) GetOrCreateNetwork(ctx context.Context, hostID, bridgeName string, vlanID *int) (*model.Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.networks {
		if n.HostID == hostID && n.BridgeName == bridgeName && sameVLAN(n.VLANID, vlanID) {
			cp := *n
			return &cp, nil
		}
	}
	typ := model.NetworkBridge
	if vlanID != nil {
		typ = model.NetworkVLAN
	}
	n := &model.Network{
		ID:         uuid.NewString(),
		Type:       typ,
		BridgeName: bridgeName,
		VLANID:     vlanID,
		HostID:     hostID,
		CreatedAt:  time.Now(),
	}
	s.networks[n.ID] = n
	cp := *n
	return &cp, nil
}

func sameVLAN(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Store) GetNetwork(ctx context.Context, id string) (*model.Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.networks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *Store) ListNetworks(ctx context.Context) ([]*model.Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Network
	for _, n := range s.networks {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

// --- VM NICs ---

func nicKey(vmID, ifaceID string) string { return vmID + "/" + ifaceID }

func (s *Store) CreateNic(ctx context.Context, n *model.VmNic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.nics[nicKey(n.VMID, n.IfaceID)] = &cp
	return nil
}

func (s *Store) ListNicsByVM(ctx context.Context, vmID string) ([]*model.VmNic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.VmNic
	for _, n := range s.nics {
		if n.VMID == vmID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) DeleteNic(ctx context.Context, vmID, ifaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nics, nicKey(vmID, ifaceID))
	return nil
}

func (s *Store) DeleteNicsByVM(ctx context.Context, vmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, n := range s.nics {
		if n.VMID == vmID {
			delete(s.nics, k)
		}
	}
	return nil
}

// --- Snapshots ---

func (s *Store) CreateSnapshot(ctx context.Context, sn *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.snapshots {
		if existing.VMID == sn.VMID && existing.Name == sn.Name {
			return apierr.Conflict("a snapshot with this name already exists for this vm")
		}
	}
	if sn.ID == "" {
		sn.ID = uuid.NewString()
	}
	sn.CreatedAt = time.Now()
	cp := *sn
	s.snapshots[sn.ID] = &cp
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn, ok := s.snapshots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sn
	return &cp, nil
}

func (s *Store) ListSnapshotsByVM(ctx context.Context, vmID string) ([]*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Snapshot
	for _, sn := range s.snapshots {
		if sn.VMID == vmID {
			cp := *sn
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListSnapshotChildren(ctx context.Context, parentID string) ([]*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Snapshot
	for _, sn := range s.snapshots {
		if sn.ParentID != nil && *sn.ParentID == parentID {
			cp := *sn
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[id]; !ok {
		return store.ErrNotFound
	}
	for _, sn := range s.snapshots {
		if sn.ParentID != nil && *sn.ParentID == id {
			return apierr.Conflict("snapshot has child snapshots")
		}
	}
	delete(s.snapshots, id)
	return nil
}

// --- Templates ---

func (s *Store) CreateTemplate(ctx context.Context, t *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.templates {
		if existing.Name == t.Name {
			return apierr.Conflict("a template with this name already exists")
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now()
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Template
	for _, t := range s.templates {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.templates, id)
	return nil
}
