// Package events publishes the Manager's VM lifecycle events to NATS
// JetStream, including the guest IP report the "await guest" step of the
// pre-boot protocol waits for.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const streamName = "FLEETFORGE_VM_EVENTS"

// Event types published on the bus.
const (
	TypeVMCreated      = "vm.created"
	TypeVMStateChanged = "vm.state_changed"
	TypeVMGuestIP      = "vm.guest_ip"
	TypeVMDeleted      = "vm.deleted"
)

// Event is the envelope published for every VM lifecycle transition.
type Event struct {
	Type      string          `json:"type"`
	VMID      string          `json:"vm_id"`
	HostID    string          `json:"host_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus is a thin wrapper over a JetStream connection shared by publishers
// and subscribers.
type Bus struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// Connect dials NATS and ensures the VM events stream exists.
func Connect(natsURL string) (*Bus, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"vm.events.>"},
		MaxAge:   24 * time.Hour,
	})
	if err != nil {
		// Stream may already exist from another Manager process; that's fine.
		if _, lookupErr := js.StreamInfo(streamName); lookupErr != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create or find stream: %w", err)
		}
	}

	return &Bus{nc: nc, js: js}, nil
}

func subject(eventType, vmID string) string { return "vm.events." + eventType + "." + vmID }

// Publish sends one VM lifecycle event.
func (b *Bus) Publish(eventType, vmID, hostID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	evt := Event{Type: eventType, VMID: vmID, HostID: hostID, Payload: raw, Timestamp: time.Now()}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = b.js.Publish(subject(eventType, vmID), data)
	return err
}

// SubscribeVM subscribes to every lifecycle event for one VM, used by the
// ordered pre-boot protocol to await the guest agent's first IP report.
func (b *Bus) SubscribeVM(vmID string, handler func(Event)) (*nats.Subscription, error) {
	return b.js.Subscribe("vm.events.vm.*."+vmID, func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err == nil {
			handler(evt)
		}
		msg.Ack()
	}, nats.DeliverNew())
}

// Close closes the underlying NATS connection.
func (b *Bus) Close() { b.nc.Close() }
