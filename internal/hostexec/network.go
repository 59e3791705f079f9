// Package hostexec performs the privileged host-side operations the Agent
// exposes over its HTTP API: bridge/TAP wiring, rootfs mounts, and VMM
// process supervision. Network and mount state are changed by shelling out
// to the same tools the teacher used (ip, iptables, losetup), generalized
// from a flat per-VM subnet to the declared-bridge/VLAN model a Network row
// describes.
package hostexec

import (
	"fmt"
	"os/exec"
	"strings"
)

// SubBridgeName returns the name of the VLAN-isolated sub-bridge
// ensure-bridge creates for (bridgeName, vlanID): a bridge device of its
// own, not an 802.1Q sub-interface, so that two VLANs sharing a base
// bridge name land their TAPs on genuinely separate L2 domains.
func SubBridgeName(bridgeName string, vlanID int) string {
	return fmt.Sprintf("br%sv%d", bridgeName, vlanID)
}

// EnsureBridge creates a Linux bridge with the given CIDR assigned if it
// does not already exist, and a VLAN-isolated sub-bridge on top of it
// when vlanID is non-nil. Safe to call repeatedly — existing devices are
// left alone.
func EnsureBridge(bridgeName, cidr string, vlanID *int) error {
	if !deviceExists(bridgeName) {
		if err := run("ip", "link", "add", "name", bridgeName, "type", "bridge"); err != nil {
			return fmt.Errorf("create bridge %s: %w", bridgeName, err)
		}
		if cidr != "" {
			if err := run("ip", "addr", "add", cidr, "dev", bridgeName); err != nil {
				return fmt.Errorf("assign %s to bridge %s: %w", cidr, bridgeName, err)
			}
		}
		if err := run("ip", "link", "set", bridgeName, "up"); err != nil {
			return fmt.Errorf("bring up bridge %s: %w", bridgeName, err)
		}
	}

	if vlanID == nil {
		return nil
	}

	sub := SubBridgeName(bridgeName, *vlanID)
	if deviceExists(sub) {
		return nil
	}
	if err := run("ip", "link", "add", "name", sub, "type", "bridge"); err != nil {
		return fmt.Errorf("create vlan sub-bridge %s: %w", sub, err)
	}
	if err := run("ip", "link", "set", sub, "up"); err != nil {
		return fmt.Errorf("bring up vlan sub-bridge %s: %w", sub, err)
	}
	return nil
}

// CreateTap creates a TAP device and attaches it to bridgeName, or to
// its VLAN sub-bridge (SubBridgeName) when vlanID is set — the sub-bridge
// must already exist, via EnsureBridge. Any stale device left over from a
// prior generation of this VM's NIC is torn down and recreated, unlike
// EnsureBridge, which leaves existing devices alone.
func CreateTap(tapName, bridgeName string, vlanID *int) error {
	target := bridgeName
	if vlanID != nil {
		target = SubBridgeName(bridgeName, *vlanID)
	}
	if deviceExists(tapName) {
		if err := DeleteTap(tapName); err != nil {
			return err
		}
	}
	if err := run("ip", "tuntap", "add", "dev", tapName, "mode", "tap"); err != nil {
		return fmt.Errorf("create tap %s: %w", tapName, err)
	}
	if err := run("ip", "link", "set", tapName, "master", target); err != nil {
		DeleteTap(tapName)
		return fmt.Errorf("attach %s to bridge %s: %w", tapName, target, err)
	}
	if err := run("ip", "link", "set", tapName, "up"); err != nil {
		DeleteTap(tapName)
		return fmt.Errorf("bring up tap %s: %w", tapName, err)
	}
	return nil
}

// DeleteTap removes a TAP device. Not an error if it is already gone.
func DeleteTap(tapName string) error {
	if !deviceExists(tapName) {
		return nil
	}
	if err := run("ip", "link", "del", tapName); err != nil {
		return fmt.Errorf("delete tap %s: %w", tapName, err)
	}
	return nil
}

func deviceExists(name string) bool {
	return exec.Command("ip", "link", "show", name).Run() == nil
}

// run executes a command and returns an error with stderr attached on failure.
func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w (%s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
