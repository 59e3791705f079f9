package hostexec

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// VMLayout is the on-disk directory structure the Agent allocates for one
// VM, grounded on the teacher's per-sandbox directory (sock/, logs/,
// storage/) but rooted under storageRoot/{vmID} instead of a flat
// data-dir-per-sandbox, since this Agent owns many VMs at once.
type VMLayout struct {
	VMDir           string
	RootfsPath      string
	APISocket       string
	LogPath         string
	MetricsFifoPath string
}

// PrepareStorage allocates a VM's directory tree and copies sourceRootfs
// into a private file nothing else will ever share — spec.md's
// one-rootfs-per-VM invariant is a copy, never a reference.
func PrepareStorage(storageRoot, vmID, sourceRootfs string) (*VMLayout, error) {
	vmDir := filepath.Join(storageRoot, vmID)
	for _, sub := range []string{"sock", "logs", "storage"} {
		if err := os.MkdirAll(filepath.Join(vmDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}

	ext := filepath.Ext(sourceRootfs)
	if ext == "" {
		ext = ".ext4"
	}
	rootfsPath := filepath.Join(vmDir, "storage", fmt.Sprintf("rootfs-%s%s", uuid.NewString(), ext))
	if err := copyReflink(sourceRootfs, rootfsPath); err != nil {
		os.RemoveAll(vmDir)
		return nil, fmt.Errorf("copy rootfs: %w", err)
	}

	return &VMLayout{
		VMDir:           vmDir,
		RootfsPath:      rootfsPath,
		APISocket:       filepath.Join(vmDir, "sock", "firecracker.sock"),
		LogPath:         filepath.Join(vmDir, "logs", "firecracker.log"),
		MetricsFifoPath: filepath.Join(vmDir, "logs", "metrics.fifo"),
	}, nil
}

// DeleteStorage removes a VM's entire directory tree.
func DeleteStorage(storageRoot, vmID string) error {
	return os.RemoveAll(filepath.Join(storageRoot, vmID))
}

// StorageDirEntry is one VM directory found directly under storageRoot,
// named after the vm_id whose storage it holds.
type StorageDirEntry struct {
	VMID    string
	ModTime time.Time
}

// ListStorageDirs lists every per-VM directory under storageRoot with its
// modification time, independent of any in-memory or database tracking —
// the reconciler's orphan sweep compares this list against known VM rows
// to find directories nothing references anymore.
func ListStorageDirs(storageRoot string) ([]StorageDirEntry, error) {
	entries, err := os.ReadDir(storageRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read storage root: %w", err)
	}

	var out []StorageDirEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, StorageDirEntry{VMID: e.Name(), ModTime: info.ModTime()})
	}
	return out, nil
}

// copyReflink copies src to dst, using a reflink (copy-on-write) clone
// when the underlying filesystem supports it and falling back to a plain
// copy otherwise.
func copyReflink(src, dst string) error {
	if err := run("cp", "--reflink=auto", src, dst); err != nil {
		return err
	}
	return nil
}
