package vmservice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleetforge/fleetforge/internal/agentclient"
	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/config"
	"github.com/fleetforge/fleetforge/internal/store/memstore"
	"github.com/fleetforge/fleetforge/pkg/model"
)

// fakeAgent answers every Agent route and every proxied fcapi call with a
// minimal success response, and records which paths were hit.
func fakeAgent(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/vms/storage", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(agentclient.PrepareStorageResponse{
			VMDir:           "/var/lib/fleetforge/vms/vm-1",
			RootfsPath:      "/var/lib/fleetforge/vms/vm-1/rootfs-x.ext4",
			APISocket:       "/var/lib/fleetforge/vms/vm-1/api.sock",
			LogPath:         "/var/lib/fleetforge/vms/vm-1/fc.log",
			MetricsFifoPath: "/var/lib/fleetforge/vms/vm-1/metrics.fifo",
		})
	})
	mux.HandleFunc("/v1/vms/credentials", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/v1/networks/bridges", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/v1/networks/taps", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/v1/vmm", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(agentclient.SpawnResponse{PID: 4242})
	})
	mux.HandleFunc("/v1/vmm/metrics-fifo", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	// proxied Firecracker UDS calls and direct VMM stop/delete all funnel
	// through this prefix; a bare 200 satisfies every put/patch/delete.
	mux.HandleFunc("/v1/vmm/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/v1/vms/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/v1/networks/taps/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return httptest.NewServer(mux)
}

func newTestService(t *testing.T, agentURL string) (*Service, *memstore.Store, *model.Host) {
	t.Helper()
	st := memstore.New()
	host := &model.Host{ID: "host-a", Address: agentURL, Status: model.HostHealthy, LastHeartbeatAt: time.Now()}
	if err := st.UpsertHost(context.Background(), host); err != nil {
		t.Fatalf("UpsertHost: %v", err)
	}
	if err := st.CreateImage(context.Background(), &model.Image{ID: "kernel-1", Kind: model.ImageKernel, Name: "vmlinux", CanonicalPath: "/images/vmlinux"}); err != nil {
		t.Fatalf("CreateImage kernel: %v", err)
	}
	if err := st.CreateImage(context.Background(), &model.Image{ID: "rootfs-1", Kind: model.ImageRootfs, Name: "base", CanonicalPath: "/images/base.ext4"}); err != nil {
		t.Fatalf("CreateImage rootfs: %v", err)
	}

	cfg := &config.Config{
		SpawnDeadline:         2 * time.Second,
		GuestAwaitDeadline:    50 * time.Millisecond,
		StopInactivityWindow:  1 * time.Millisecond,
		ManagerPublicURL:      "http://manager.local",
	}
	svc := New(st, nil, cfg)
	return svc, st, host
}

func baseCreateRequest() CreateRequest {
	return CreateRequest{
		Name:          "test-vm",
		OwnerID:       "owner-1",
		VCPU:          1,
		MemMiB:        256,
		KernelImageID: "kernel-1",
		RootfsImageID: "rootfs-1",
	}
}

func TestCreateRunsFullPrebootProtocol(t *testing.T) {
	agent := fakeAgent(t)
	defer agent.Close()
	svc, _, _ := newTestService(t, agent.URL)

	vm, err := svc.Create(context.Background(), baseCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if vm.Observed != model.ObservedRunning {
		t.Fatalf("expected observed=running, got %s", vm.Observed)
	}
	if vm.APISocket == "" {
		t.Fatal("expected api socket to be recorded")
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	agent := fakeAgent(t)
	defer agent.Close()
	svc, _, _ := newTestService(t, agent.URL)

	if _, err := svc.Create(context.Background(), baseCreateRequest()); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, err := svc.Create(context.Background(), baseCreateRequest())
	if err == nil {
		t.Fatal("expected conflict on duplicate name")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestCreateRollsBackOnStorageFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/vms/storage", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "disk full"})
	})
	mux.HandleFunc("/v1/vms/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	agent := httptest.NewServer(mux)
	defer agent.Close()

	svc, st, _ := newTestService(t, agent.URL)
	_, err := svc.Create(context.Background(), baseCreateRequest())
	if err == nil {
		t.Fatal("expected create to fail")
	}

	vms, err := st.ListVMs(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("ListVMs: %v", err)
	}
	if len(vms) != 1 || vms[0].Observed != model.ObservedError {
		t.Fatalf("expected one vm marked error, got %+v", vms)
	}
	if vms[0].LastErrorStep != "storage" {
		t.Fatalf("expected last error step storage, got %q", vms[0].LastErrorStep)
	}
}

func TestPauseRejectsFromWrongState(t *testing.T) {
	agent := fakeAgent(t)
	defer agent.Close()
	svc, st, host := newTestService(t, agent.URL)

	vm := &model.VM{ID: "vm-1", Name: "v", OwnerID: "o", Desired: model.DesiredRunning, Observed: model.ObservedStopped, HostID: &host.ID}
	if err := st.CreateVM(context.Background(), vm); err != nil {
		t.Fatalf("CreateVM: %v", err)
	}

	_, err := svc.Pause(context.Background(), vm.ID)
	if err == nil {
		t.Fatal("expected precondition error")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindPrecondition {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestAttachNicThenDetachNic(t *testing.T) {
	agent := fakeAgent(t)
	defer agent.Close()
	svc, st, host := newTestService(t, agent.URL)

	vm := &model.VM{ID: "vm-1", Name: "v", OwnerID: "o", Desired: model.DesiredRunning, Observed: model.ObservedStopped, HostID: &host.ID}
	if err := st.CreateVM(context.Background(), vm); err != nil {
		t.Fatalf("CreateVM: %v", err)
	}

	nic, err := svc.AttachNic(context.Background(), vm.ID, NICSpec{BridgeName: "fcbr0"})
	if err != nil {
		t.Fatalf("AttachNic: %v", err)
	}
	if nic.IfaceID != "eth0" {
		t.Fatalf("expected eth0, got %s", nic.IfaceID)
	}

	if err := svc.DetachNic(context.Background(), vm.ID, nic.IfaceID); err != nil {
		t.Fatalf("DetachNic: %v", err)
	}

	nics, err := st.ListNicsByVM(context.Background(), vm.ID)
	if err != nil {
		t.Fatalf("ListNicsByVM: %v", err)
	}
	if len(nics) != 0 {
		t.Fatalf("expected no nics left, got %d", len(nics))
	}
}

func TestDetachNicUnknownIfaceReturnsNotFound(t *testing.T) {
	agent := fakeAgent(t)
	defer agent.Close()
	svc, st, host := newTestService(t, agent.URL)

	vm := &model.VM{ID: "vm-1", Name: "v", OwnerID: "o", Desired: model.DesiredRunning, Observed: model.ObservedStopped, HostID: &host.ID}
	if err := st.CreateVM(context.Background(), vm); err != nil {
		t.Fatalf("CreateVM: %v", err)
	}

	err := svc.DetachNic(context.Background(), vm.ID, "eth9")
	if err == nil {
		t.Fatal("expected not found error")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestAdmitsActionStateMachine(t *testing.T) {
	cases := []struct {
		action   string
		observed model.ObservedState
		want     bool
	}{
		{"start", model.ObservedStopped, true},
		{"start", model.ObservedRunning, false},
		{"pause", model.ObservedRunning, true},
		{"pause", model.ObservedStopped, false},
		{"resume", model.ObservedPaused, true},
		{"send-reset", model.ObservedRunning, true},
		{"send-reset", model.ObservedPaused, false},
		{"stop", model.ObservedPaused, true},
		{"delete", model.ObservedCreating, false},
		{"delete", model.ObservedError, true},
	}
	for _, c := range cases {
		if got := admitsAction(c.action, c.observed); got != c.want {
			t.Errorf("admitsAction(%q, %q) = %v, want %v", c.action, c.observed, got, c.want)
		}
	}
}

func TestStartReusesExistingRootfsWithoutReprovisioning(t *testing.T) {
	agent := fakeAgent(t)
	defer agent.Close()
	svc, st, _ := newTestService(t, agent.URL)

	vm, err := svc.Create(context.Background(), baseCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	originalRootfs := vm.RootfsPath
	if originalRootfs == "" {
		t.Fatal("expected RootfsPath to be recorded by Create")
	}

	vm.Observed = model.ObservedStopped
	if err := st.UpdateVM(context.Background(), vm); err != nil {
		t.Fatalf("UpdateVM: %v", err)
	}

	restarted, err := svc.Start(context.Background(), vm.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if restarted.RootfsPath != originalRootfs {
		t.Fatalf("expected Start to reuse rootfs %q, got %q", originalRootfs, restarted.RootfsPath)
	}
	if restarted.Observed != model.ObservedRunning {
		t.Fatalf("expected observed=running after Start, got %s", restarted.Observed)
	}
}

func TestRestartReconfiguresWithoutTouchingDesiredState(t *testing.T) {
	agent := fakeAgent(t)
	defer agent.Close()
	svc, st, _ := newTestService(t, agent.URL)

	vm, err := svc.Create(context.Background(), baseCreateRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Restart(context.Background(), vm.ID); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	got, err := st.GetVM(context.Background(), vm.ID)
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if got.Desired != model.DesiredRunning {
		t.Fatalf("expected desired-state untouched, got %s", got.Desired)
	}
	if got.Observed != model.ObservedRunning {
		t.Fatalf("expected observed=running after Restart, got %s", got.Observed)
	}
}
