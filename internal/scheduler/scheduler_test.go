package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/store/memstore"
	"github.com/fleetforge/fleetforge/pkg/model"
)

func mustUpsertHost(t *testing.T, st *memstore.Store, id string, status model.HostStatus) {
	t.Helper()
	if err := st.UpsertHost(context.Background(), &model.Host{ID: id, Address: "http://" + id, Status: status, LastHeartbeatAt: time.Now()}); err != nil {
		t.Fatalf("UpsertHost: %v", err)
	}
}

func TestPickPrefersFewestRunningVMs(t *testing.T) {
	st := memstore.New()
	mustUpsertHost(t, st, "host-a", model.HostHealthy)
	mustUpsertHost(t, st, "host-b", model.HostHealthy)

	busy := &model.VM{ID: "vm-1", Name: "busy", OwnerID: "o", Desired: model.DesiredRunning, Observed: model.ObservedRunning, HostID: strPtr("host-a")}
	if err := st.CreateVM(context.Background(), busy); err != nil {
		t.Fatalf("CreateVM: %v", err)
	}

	picked, err := Pick(context.Background(), st)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if picked.ID != "host-b" {
		t.Fatalf("expected host-b (fewer running vms), got %s", picked.ID)
	}
}

func TestPickSkipsUnhealthyHosts(t *testing.T) {
	st := memstore.New()
	mustUpsertHost(t, st, "host-a", model.HostDown)
	mustUpsertHost(t, st, "host-b", model.HostHealthy)

	picked, err := Pick(context.Background(), st)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if picked.ID != "host-b" {
		t.Fatalf("expected host-b, got %s", picked.ID)
	}
}

func TestPickReturnsCapacityErrorWhenNoHealthyHost(t *testing.T) {
	st := memstore.New()
	mustUpsertHost(t, st, "host-a", model.HostDown)

	_, err := Pick(context.Background(), st)
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindCapacity {
		t.Fatalf("expected capacity error, got %v", err)
	}
}

func strPtr(s string) *string { return &s }
