// Package model holds the data types shared by the Manager, Agent, and
// Guest Agent: VMs, hosts, images, volumes, networks, snapshots, and
// templates.
package model

import "time"

// DesiredState is the state a VM's owner has asked for.
type DesiredState string

const (
	DesiredRunning DesiredState = "running"
	DesiredStopped DesiredState = "stopped"
	DesiredPaused  DesiredState = "paused"
	DesiredDeleted DesiredState = "deleted"
)

// ObservedState is the state the system believes a VM is actually in.
type ObservedState string

const (
	ObservedCreating ObservedState = "creating"
	ObservedBooting  ObservedState = "booting"
	ObservedRunning  ObservedState = "running"
	ObservedPaused   ObservedState = "paused"
	ObservedStopping ObservedState = "stopping"
	ObservedStopped  ObservedState = "stopped"
	ObservedError    ObservedState = "error"
	ObservedDeleted  ObservedState = "deleted"
)

// VM is the authoritative record for one microVM.
type VM struct {
	ID             string
	Name           string
	OwnerID        string
	Desired        DesiredState
	Observed       ObservedState
	VCPU           int
	MemMiB         int
	KernelRef      string // registry image id, or a validated raw path
	RootfsRef      string
	HostID         *string
	UnitName       string // transient supervision scope name, e.g. "fc-{id}"
	APISocket      string // path to the Firecracker API socket inside the VM dir
	RootfsPath     string // private rootfs file allocated once at first boot, never re-copied
	TAPName        string
	GuestIP        *string
	TemplateID     *string
	SourceSnapshot *string
	CredHash       string // hashed injected password
	CredUser       string
	BootArgs       string
	SMT            bool
	CPUTemplate    string
	TrackDirty     bool
	RestartPolicy  RestartPolicy
	UserData       string // opaque cloud-init/MMDS document seeded at boot, if any
	ErrorMessage   string
	LastErrorStep  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RestartPolicy controls what the reconciler does when a desired=running
// VM's scope disappears.
type RestartPolicy string

const (
	RestartNo        RestartPolicy = "no"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartAlways    RestartPolicy = "always"
)

// HostStatus derives from heartbeat recency.
type HostStatus string

const (
	HostHealthy HostStatus = "healthy"
	HostStale   HostStatus = "stale"
	HostDown    HostStatus = "down"
)

// Host is one Agent-managed Linux/KVM machine.
type Host struct {
	ID              string
	Address         string // Agent base URL, e.g. "http://10.1.2.3:7777"
	CPUs            int
	MemMiB          int
	DiskMiB         int
	LastHeartbeatAt time.Time
	Status          HostStatus
	CreatedAt       time.Time
}

// ImageKind enumerates the kinds of images the Image registry tracks.
type ImageKind string

const (
	ImageKernel           ImageKind = "kernel"
	ImageRootfs           ImageKind = "rootfs"
	ImageData             ImageKind = "data"
	ImageContainerRuntime ImageKind = "container-runtime"
	ImageFunctionRuntime  ImageKind = "function-runtime"
)

// Image is a read-only template artifact (kernel, rootfs, ...).
type Image struct {
	ID            string
	Kind          ImageKind
	Name          string
	CanonicalPath string
	SizeBytes     int64
	SHA256        string
	CreatedAt     time.Time
}

// VolumeType enumerates the on-disk formats a Volume may have.
type VolumeType string

const (
	VolumeExt4  VolumeType = "ext4"
	VolumeQcow2 VolumeType = "qcow2"
	VolumeRaw   VolumeType = "raw"
)

// VolumeStatus derives from attachment count.
type VolumeStatus string

const (
	VolumeAvailable VolumeStatus = "available"
	VolumeAttached  VolumeStatus = "attached"
	VolumeInUse     VolumeStatus = "in-use"
)

// Volume is a disk file (rootfs or data) living on one host.
type Volume struct {
	ID        string
	Name      string
	Path      string
	SizeBytes int64
	Type      VolumeType
	HostID    string
	Status    VolumeStatus
	CreatedAt time.Time
}

// DriveRole names the role a volume plays when attached to a VM.
type DriveRole string

const (
	DriveRoleRootfs DriveRole = "rootfs"
	DriveRoleData   DriveRole = "data"
)

// VolumeAttachment binds a Volume to a VM in a declared drive role/order.
type VolumeAttachment struct {
	VolumeID  string
	VMID      string
	DriveRole DriveRole
	Order     int
}

// NetworkType distinguishes a plain bridge from a VLAN sub-bridge.
type NetworkType string

const (
	NetworkBridge NetworkType = "bridge"
	NetworkVLAN   NetworkType = "vlan"
)

// Network is a registered bridge (optionally VLAN-tagged) on one host.
type Network struct {
	ID         string
	Type       NetworkType
	BridgeName string
	VLANID     *int
	HostID     string
	CIDR       string
	Gateway    string
	CreatedAt  time.Time
}

// RateLimit is a Firecracker token-bucket rate limiter spec.
type RateLimit struct {
	SizeBytes     int64
	RefillTimeMs  int64
	OneTimeBurst  int64
}

// VmNic is one network interface attached to a VM.
type VmNic struct {
	VMID        string
	IfaceID     string
	HostDevName string // the TAP device name
	GuestMAC    string
	NetworkID   *string
	Order       int
	RxRateLimit *RateLimit
	TxRateLimit *RateLimit
}

// SnapshotType distinguishes full memory snapshots from dirty-page diffs.
type SnapshotType string

const (
	SnapshotFull SnapshotType = "full"
	SnapshotDiff SnapshotType = "diff"
)

// Snapshot is a point-in-time VM memory+state capture.
type Snapshot struct {
	ID        string
	VMID      string
	Name      string
	StatePath string
	MemPath   string
	ParentID  *string
	Type      SnapshotType
	SizeBytes int64
	CreatedAt time.Time
}

// Template is a reusable VM recipe (including Container-VM / Function-VM
// variants, which differ only in rootfs source and post-boot injection).
type Template struct {
	ID            string
	Name          string
	VCPU          int
	MemMiB        int
	KernelRef     string
	RootfsRef     string
	BootArgs      string
	SMT           bool
	CPUTemplate   string
	TrackDirty    bool
	RestartPolicy RestartPolicy
	Kind          TemplateKind
	CreatedAt     time.Time
}

// TemplateKind distinguishes the generic-VM recipe from the Container-VM
// and Function-VM recipes, which are configuration of the same pipeline.
type TemplateKind string

const (
	TemplateGeneric  TemplateKind = "vm"
	TemplateContainer TemplateKind = "container-vm"
	TemplateFunction  TemplateKind = "function-vm"
)
