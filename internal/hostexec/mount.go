package hostexec

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// Mount loopback-attaches a volume image and mounts it read-write at
// mountPoint so the Manager can inject credentials before a VM boots. It
// uses the unix package's Mount syscall directly rather than shelling out
// to mount(8), since callers need a guaranteed Unmount on every exit path
// and a syscall-level error is easier to reason about than parsing mount(8)
// output.
func Mount(volumePath, mountPoint string) error {
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return fmt.Errorf("create mount point %s: %w", mountPoint, err)
	}

	loopDev, err := attachLoop(volumePath)
	if err != nil {
		return fmt.Errorf("attach loop device for %s: %w", volumePath, err)
	}

	if err := unix.Mount(loopDev, mountPoint, "ext4", 0, ""); err != nil {
		_ = detachLoop(loopDev)
		return fmt.Errorf("mount %s at %s: %w", loopDev, mountPoint, err)
	}
	return nil
}

// Unmount unmounts mountPoint and detaches its backing loop device. It is
// safe to call even if the mount point is already gone.
func Unmount(mountPoint string) error {
	loopDev, err := loopDeviceFor(mountPoint)
	if err != nil {
		return fmt.Errorf("find loop device for %s: %w", mountPoint, err)
	}

	if err := unix.Unmount(mountPoint, 0); err != nil && err != unix.EINVAL {
		return fmt.Errorf("unmount %s: %w", mountPoint, err)
	}

	if loopDev != "" {
		if err := detachLoop(loopDev); err != nil {
			return fmt.Errorf("detach loop device %s: %w", loopDev, err)
		}
	}
	return nil
}

// attachLoop associates volumePath with a free loop device and returns its
// path, e.g. "/dev/loop0".
func attachLoop(volumePath string) (string, error) {
	cmd := runOutput("losetup", "-f", "--show", volumePath)
	return strings.TrimSpace(cmd.stdout), cmd.err
}

func detachLoop(loopDev string) error {
	return run("losetup", "-d", loopDev)
}

// loopDeviceFor reads /proc/mounts to find the device backing mountPoint.
// Returns "" with no error if mountPoint is not currently mounted.
func loopDeviceFor(mountPoint string) (string, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[1] == mountPoint {
			return fields[0], nil
		}
	}
	return "", sc.Err()
}

type commandResult struct {
	stdout string
	err    error
}

func runOutput(name string, args ...string) commandResult {
	out, err := exec.Command(name, args...).Output()
	if err != nil {
		return commandResult{err: fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)}
	}
	return commandResult{stdout: string(out)}
}
