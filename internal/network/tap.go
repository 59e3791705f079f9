// Package network derives the deterministic naming and bridge/VLAN
// wiring the Manager hands to Agents when it configures a VM's network
// interfaces, and the Network auto-registration that backs it.
package network

import (
	"context"
	"crypto/rand"
	"fmt"
	"hash/fnv"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

// TAPName derives a deterministic per-(VM, NIC order) TAP device name so
// the same VM always gets the same host-side device name across
// restarts and reconciler-driven reconfiguration.
func TAPName(vmID string, order int) string {
	h := fnv.New32a()
	h.Write([]byte(vmID))
	return fmt.Sprintf("fctap%x%d", h.Sum32(), order)
}

// RandomMAC returns a locally-administered unicast MAC address for a
// guest NIC.
func RandomMAC() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate mac: %w", err)
	}
	buf[0] = (buf[0] | 0x02) & 0xfe // locally administered, unicast
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", buf[0], buf[1], buf[2], buf[3], buf[4], buf[5]), nil
}

// ValidateVLANID rejects a VLAN tag outside the 802.1Q range Firecracker
// sub-bridges are given: 0 and 4095 are reserved and never accepted, 1-4094
// are valid. A nil id (untagged) always passes.
func ValidateVLANID(vlanID *int) error {
	if vlanID == nil {
		return nil
	}
	if *vlanID < 1 || *vlanID > 4094 {
		return apierr.Validation(fmt.Sprintf("vlan_id %d out of range: must be 1-4094", *vlanID))
	}
	return nil
}

// Resolve ensures a (hostID, bridgeName, vlanID) tuple is registered as
// a Network and returns it, auto-registering on first use the way a VM's
// NIC configuration implicitly declares its network.
func Resolve(ctx context.Context, st store.Store, hostID, bridgeName string, vlanID *int) (*model.Network, error) {
	if err := ValidateVLANID(vlanID); err != nil {
		return nil, err
	}
	return st.GetOrCreateNetwork(ctx, hostID, bridgeName, vlanID)
}
