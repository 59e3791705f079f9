package snapshot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/config"
	"github.com/fleetforge/fleetforge/internal/fcapi"
	"github.com/fleetforge/fleetforge/internal/store/memstore"
	"github.com/fleetforge/fleetforge/pkg/model"
)

func newTestService(t *testing.T, agentURL string) (*Service, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	cfg := &config.Config{SpawnDeadline: 2 * time.Second}
	svc := New(st, nil, cfg, func(agentAddr, vmID string) *fcapi.Client {
		return fcapi.NewWithRoundTripper(httpRoundTripperTo(agentURL))
	})
	return svc, st
}

// httpRoundTripperTo rewrites every request's scheme/host to point at a
// local httptest.Server, since fcapi.Client always issues requests against
// the fixed pseudo-host "http://fc-vmm".
type rewriteHostTransport struct{ target string }

func httpRoundTripperTo(target string) http.RoundTripper {
	return &rewriteHostTransport{target: target}
}

func (t *rewriteHostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u := *req.URL
	tu, _ := http.NewRequest(req.Method, t.target+u.Path, req.Body)
	tu.Header = req.Header
	return http.DefaultTransport.RoundTrip(tu)
}

func TestCreateSnapshotPausesAndResumes(t *testing.T) {
	var sawPause, sawResume, sawCreate bool
	mux := http.NewServeMux()
	mux.HandleFunc("/vm", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			if sawPause {
				sawResume = true
			} else {
				sawPause = true
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/snapshot/create", func(w http.ResponseWriter, r *http.Request) {
		sawCreate = true
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc, st := newTestService(t, srv.URL)

	host := &model.Host{ID: "host-a", Address: srv.URL, Status: model.HostHealthy, LastHeartbeatAt: time.Now()}
	if err := st.UpsertHost(context.Background(), host); err != nil {
		t.Fatalf("UpsertHost: %v", err)
	}
	vm := &model.VM{ID: "vm-1", Name: "v", OwnerID: "o", Desired: model.DesiredRunning, Observed: model.ObservedRunning, HostID: &host.ID, APISocket: "/var/lib/fleetforge/vms/vm-1/api.sock"}
	if err := st.CreateVM(context.Background(), vm); err != nil {
		t.Fatalf("CreateVM: %v", err)
	}

	sn, err := svc.Create(context.Background(), CreateRequest{VMID: vm.ID, Name: "s1", Type: model.SnapshotFull, Resume: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !sawPause || !sawCreate || !sawResume {
		t.Fatalf("expected pause+create+resume sequence, got pause=%v create=%v resume=%v", sawPause, sawCreate, sawResume)
	}
	if sn.VMID != vm.ID || sn.Type != model.SnapshotFull {
		t.Fatalf("unexpected snapshot: %+v", sn)
	}

	got, err := st.GetVM(context.Background(), vm.ID)
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if got.Observed != model.ObservedRunning {
		t.Fatalf("expected vm resumed to running, got %s", got.Observed)
	}
}

func TestCreateDiffSnapshotRequiresTrackDirty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer srv.Close()
	svc, st := newTestService(t, srv.URL)

	host := &model.Host{ID: "host-a", Address: srv.URL, Status: model.HostHealthy, LastHeartbeatAt: time.Now()}
	if err := st.UpsertHost(context.Background(), host); err != nil {
		t.Fatalf("UpsertHost: %v", err)
	}
	vm := &model.VM{ID: "vm-1", Name: "v", OwnerID: "o", Desired: model.DesiredRunning, Observed: model.ObservedRunning, HostID: &host.ID, TrackDirty: false}
	if err := st.CreateVM(context.Background(), vm); err != nil {
		t.Fatalf("CreateVM: %v", err)
	}

	_, err := svc.Create(context.Background(), CreateRequest{VMID: vm.ID, Name: "s1", Type: model.SnapshotDiff})
	if err == nil {
		t.Fatal("expected precondition error")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindPrecondition {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestDeleteSnapshotWithChildrenConflicts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer srv.Close()
	svc, st := newTestService(t, srv.URL)

	parent := &model.Snapshot{ID: "snap-parent", VMID: "vm-1", Name: "parent", StatePath: "/a", MemPath: "/b", Type: model.SnapshotFull}
	if err := st.CreateSnapshot(context.Background(), parent); err != nil {
		t.Fatalf("CreateSnapshot parent: %v", err)
	}
	child := &model.Snapshot{ID: "snap-child", VMID: "vm-1", Name: "child", StatePath: "/c", MemPath: "/d", ParentID: &parent.ID, Type: model.SnapshotFull}
	if err := st.CreateSnapshot(context.Background(), child); err != nil {
		t.Fatalf("CreateSnapshot child: %v", err)
	}

	err := svc.Delete(context.Background(), parent.ID)
	if err == nil {
		t.Fatal("expected conflict deleting a snapshot with children")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
}
