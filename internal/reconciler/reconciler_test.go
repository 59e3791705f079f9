package reconciler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleetforge/fleetforge/internal/agentclient"
	"github.com/fleetforge/fleetforge/internal/config"
	"github.com/fleetforge/fleetforge/internal/store/memstore"
	"github.com/fleetforge/fleetforge/pkg/model"
)

// fakeRestarter records Restart calls and returns a canned error.
type fakeRestarter struct {
	err   error
	calls []string
}

func (f *fakeRestarter) Restart(ctx context.Context, vmID string) error {
	f.calls = append(f.calls, vmID)
	return f.err
}

// fakeAgentServer answers inventory, stop, and storage-dir routes with
// canned responses, recording which were hit.
type fakeAgentServer struct {
	inventory []agentclient.InventoryEntry
	dirs      []agentclient.StorageDirEntry
	stopped   []string
	deleted   []string
}

func (f *fakeAgentServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/inventory", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.inventory)
	})
	mux.HandleFunc("/v1/vms/storage", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.dirs)
	})
	mux.HandleFunc("/v1/vmm/", func(w http.ResponseWriter, r *http.Request) {
		unit := r.URL.Path[len("/v1/vmm/"):]
		f.stopped = append(f.stopped, unit)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/vms/", func(w http.ResponseWriter, r *http.Request) {
		// matches /v1/vms/{id}/storage (DeleteStorage)
		path := r.URL.Path[len("/v1/vms/"):]
		f.deleted = append(f.deleted, path)
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func newTestReconciler(t *testing.T, agentURL string, vms restarter) (*Service, *memstore.Store, *model.Host) {
	t.Helper()
	st := memstore.New()
	host := &model.Host{ID: "host-a", Address: agentURL, Status: model.HostHealthy, LastHeartbeatAt: time.Now()}
	if err := st.UpsertHost(context.Background(), host); err != nil {
		t.Fatalf("UpsertHost: %v", err)
	}
	cfg := &config.Config{
		HeartbeatInterval: 10 * time.Second,
		OrphanAge:         time.Hour,
	}
	return New(st, nil, cfg, vms), st, host
}

func createVM(t *testing.T, st *memstore.Store, host *model.Host, desired model.DesiredState, policy model.RestartPolicy) *model.VM {
	t.Helper()
	vm := &model.VM{
		ID:            "vm-1",
		Name:          "test",
		OwnerID:       "owner-1",
		Desired:       desired,
		Observed:      model.ObservedRunning,
		VCPU:          1,
		MemMiB:        256,
		KernelRef:     "kernel-1",
		RootfsRef:     "rootfs-1",
		HostID:        &host.ID,
		UnitName:      "fc-vm-1",
		APISocket:     "/var/lib/fleetforge/vms/vm-1/sock/firecracker.sock",
		RestartPolicy: policy,
	}
	if err := st.CreateVM(context.Background(), vm); err != nil {
		t.Fatalf("CreateVM: %v", err)
	}
	return vm
}

func TestTickRestartsMissingScope(t *testing.T) {
	agent := &fakeAgentServer{inventory: nil}
	srv := agent.start(t)
	defer srv.Close()

	fr := &fakeRestarter{}
	svc, st, host := newTestReconciler(t, srv.URL, fr)
	createVM(t, st, host, model.DesiredRunning, model.RestartOnFailure)

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(fr.calls) != 1 || fr.calls[0] != "vm-1" {
		t.Fatalf("expected one restart call for vm-1, got %v", fr.calls)
	}
}

func TestTickDoesNotRestartWhenAlive(t *testing.T) {
	agent := &fakeAgentServer{inventory: []agentclient.InventoryEntry{{VMID: "vm-1", Running: true}}}
	srv := agent.start(t)
	defer srv.Close()

	fr := &fakeRestarter{}
	svc, st, host := newTestReconciler(t, srv.URL, fr)
	createVM(t, st, host, model.DesiredRunning, model.RestartOnFailure)

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(fr.calls) != 0 {
		t.Fatalf("expected no restart calls, got %v", fr.calls)
	}
}

func TestTickMarksErrorWhenRestartFails(t *testing.T) {
	agent := &fakeAgentServer{inventory: nil}
	srv := agent.start(t)
	defer srv.Close()

	fr := &fakeRestarter{err: context.DeadlineExceeded}
	svc, st, host := newTestReconciler(t, srv.URL, fr)
	createVM(t, st, host, model.DesiredRunning, model.RestartOnFailure)

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	vm, err := st.GetVM(context.Background(), "vm-1")
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if vm.Observed != model.ObservedError {
		t.Fatalf("expected observed=error, got %s", vm.Observed)
	}
}

func TestTickSkipsRestartWhenPolicyIsNo(t *testing.T) {
	agent := &fakeAgentServer{inventory: nil}
	srv := agent.start(t)
	defer srv.Close()

	fr := &fakeRestarter{}
	svc, st, host := newTestReconciler(t, srv.URL, fr)
	createVM(t, st, host, model.DesiredRunning, model.RestartNo)

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(fr.calls) != 0 {
		t.Fatalf("expected no restart attempt with restart_policy=no, got %v", fr.calls)
	}
	vm, err := st.GetVM(context.Background(), "vm-1")
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if vm.Observed != model.ObservedError {
		t.Fatalf("expected observed=error, got %s", vm.Observed)
	}
}

func TestTickRequestsTerminationForStoppedButAliveVM(t *testing.T) {
	agent := &fakeAgentServer{inventory: []agentclient.InventoryEntry{{VMID: "vm-1", Running: true}}}
	srv := agent.start(t)
	defer srv.Close()

	svc, st, host := newTestReconciler(t, srv.URL, &fakeRestarter{})
	createVM(t, st, host, model.DesiredStopped, model.RestartOnFailure)

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(agent.stopped) != 1 || agent.stopped[0] != "fc-vm-1" {
		t.Fatalf("expected termination request for fc-vm-1, got %v", agent.stopped)
	}
	vm, err := st.GetVM(context.Background(), "vm-1")
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if vm.Observed != model.ObservedStopped {
		t.Fatalf("expected observed=stopped, got %s", vm.Observed)
	}
}

func TestTickSkipsVMsOnDownHost(t *testing.T) {
	agent := &fakeAgentServer{}
	srv := agent.start(t)
	defer srv.Close()

	fr := &fakeRestarter{}
	svc, st, host := newTestReconciler(t, srv.URL, fr)
	if err := st.UpdateHostStatus(context.Background(), host.ID, model.HostDown); err != nil {
		t.Fatalf("UpdateHostStatus: %v", err)
	}
	createVM(t, st, host, model.DesiredRunning, model.RestartOnFailure)

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(fr.calls) != 0 {
		t.Fatalf("expected no restart attempts against a down host, got %v", fr.calls)
	}
}

func TestOrphanSweepDeletesOldUnknownDirs(t *testing.T) {
	agent := &fakeAgentServer{
		dirs: []agentclient.StorageDirEntry{
			{VMID: "vm-orphan", ModTime: time.Now().Add(-2 * time.Hour)},
			{VMID: "vm-recent", ModTime: time.Now()},
		},
	}
	srv := agent.start(t)
	defer srv.Close()

	svc, st, host := newTestReconciler(t, srv.URL, &fakeRestarter{})
	createVM(t, st, host, model.DesiredRunning, model.RestartOnFailure)
	agent.inventory = []agentclient.InventoryEntry{{VMID: "vm-1", Running: true}}

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(agent.deleted) != 1 || agent.deleted[0] != "vm-orphan/storage" {
		t.Fatalf("expected orphan vm-orphan's storage to be deleted, got %v", agent.deleted)
	}
}

func TestReconcileHostHealthMarksDown(t *testing.T) {
	agent := &fakeAgentServer{}
	srv := agent.start(t)
	defer srv.Close()

	svc, st, host := newTestReconciler(t, srv.URL, &fakeRestarter{})
	if err := st.UpdateHeartbeat(context.Background(), host.ID, 4, 4096, 102400, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got, err := st.GetHost(context.Background(), host.ID)
	if err != nil {
		t.Fatalf("GetHost: %v", err)
	}
	if got.Status != model.HostDown {
		t.Fatalf("expected host marked down, got %s", got.Status)
	}
}
