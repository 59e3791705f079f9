package guestagent

import (
	"fmt"
	"net"
	"os/exec"

	"github.com/vishvananda/netlink"
)

// NetworkConfig is the POST /network request body. Mode "static" uses
// Address/Netmask/Gateway directly; mode "dhcp" shells out to udhcpc,
// which every Firecracker-oriented minimal rootfs (busybox-based or not)
// ships, rather than reimplementing a DHCP client.
type NetworkConfig struct {
	Interface string `json:"interface"`
	Mode      string `json:"mode"`
	Address   string `json:"address"`
	Netmask   string `json:"netmask"`
	Gateway   string `json:"gateway"`
}

// ConfigureNetwork brings up the named interface per cfg. It is grounded
// on the same netlink primitives (LinkByName, AddrAdd, RouteAdd) the
// original hypervisor's guest-side network plumbing uses for a TAP/veth
// pair, applied here to the guest's own primary interface instead.
func ConfigureNetwork(cfg NetworkConfig) error {
	if cfg.Interface == "" {
		return fmt.Errorf("interface is required")
	}

	link, err := netlink.LinkByName(cfg.Interface)
	if err != nil {
		return fmt.Errorf("lookup link %s: %w", cfg.Interface, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("bring up %s: %w", cfg.Interface, err)
	}

	switch cfg.Mode {
	case "dhcp":
		return runDHCP(cfg.Interface)
	case "static", "":
		return configureStatic(link, cfg)
	default:
		return fmt.Errorf("unknown network mode %q", cfg.Mode)
	}
}

func configureStatic(link netlink.Link, cfg NetworkConfig) error {
	if cfg.Address == "" || cfg.Netmask == "" {
		return fmt.Errorf("address and netmask are required for static mode")
	}

	addr, err := netlink.ParseAddr(cidrFromMask(cfg.Address, cfg.Netmask))
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	if err := netlink.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("set address on %s: %w", link.Attrs().Name, err)
	}

	if cfg.Gateway == "" {
		return nil
	}
	gw, err := netlink.ParseAddr(cfg.Gateway + "/32")
	if err != nil {
		return fmt.Errorf("parse gateway: %w", err)
	}
	route := netlink.Route{LinkIndex: link.Attrs().Index, Gw: gw.IP}
	if err := netlink.RouteReplace(&route); err != nil {
		return fmt.Errorf("set default route via %s: %w", cfg.Gateway, err)
	}
	return nil
}

func runDHCP(iface string) error {
	cmd := exec.Command("udhcpc", "-i", iface, "-n", "-q")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("udhcpc -i %s: %w: %s", iface, err, out)
	}
	return nil
}

// cidrFromMask converts a dotted netmask to CIDR bits for netlink.ParseAddr,
// which only accepts address/prefixlen form.
func cidrFromMask(addr, mask string) string {
	return fmt.Sprintf("%s/%d", addr, netMaskOnes(mask))
}

func netMaskOnes(mask string) int {
	m := net.ParseIP(mask)
	if m == nil {
		return 32
	}
	if v4 := m.To4(); v4 != nil {
		ones, _ := net.IPMask(v4).Size()
		return ones
	}
	ones, _ := net.IPMask(m).Size()
	return ones
}
