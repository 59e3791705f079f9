package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestSpawnRetriesOnUnreachableThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(SpawnResponse{PID: 1234})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Spawn(context.Background(), SpawnRequest{VMID: "vm-1", UnitName: "fc-vm-1", APISocket: "/tmp/x.sock"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if resp.PID != 1234 {
		t.Fatalf("expected pid 1234, got %d", resp.PID)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls (2 failures + success), got %d", calls)
	}
}

func TestStopDoesNotRetryOnValidationError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown unit"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Stop(context.Background(), "fc-vm-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call (no retry on 4xx), got %d", calls)
	}
}

func TestInventoryDecodesEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]InventoryEntry{{VMID: "vm-1", UnitName: "fc-vm-1", Running: true}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	entries, err := c.Inventory(context.Background())
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if len(entries) != 1 || entries[0].VMID != "vm-1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
