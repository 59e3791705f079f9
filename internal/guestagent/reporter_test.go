package guestagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReportPostsDetectedIP(t *testing.T) {
	var got guestIPReport
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewReporter(Config{VMID: "vm-1", ManagerURL: srv.URL})
	r.ipFunc = func() (string, error) { return "192.168.1.5", nil }

	r.report(context.Background())

	if path != "/vms/vm-1/guest-ip" {
		t.Fatalf("unexpected path: %s", path)
	}
	if got.IP != "192.168.1.5" {
		t.Fatalf("unexpected reported ip: %q", got.IP)
	}
}

func TestReportSkipsWhenNoIPDetected(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewReporter(Config{VMID: "vm-1", ManagerURL: srv.URL})
	r.ipFunc = func() (string, error) { return "", nil }

	r.report(context.Background())

	if called {
		t.Fatal("expected no request when no ip detected")
	}
}
