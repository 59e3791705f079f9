package fcapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/fleetforge/fleetforge/internal/apierr"
)

type fakeTransport struct {
	requests []*http.Request
	bodies   []map[string]any
	status   int
	respBody string
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		f.bodies = append(f.bodies, body)
	}
	status := f.status
	if status == 0 {
		status = http.StatusNoContent
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(f.respBody)),
		Header:     make(http.Header),
	}, nil
}

func TestPutMachineConfigSendsExpectedBody(t *testing.T) {
	ft := &fakeTransport{}
	c := NewWithRoundTripper(ft)

	if err := c.PutMachineConfig(context.Background(), 2, 512, true, "T2"); err != nil {
		t.Fatalf("PutMachineConfig: %v", err)
	}

	if len(ft.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ft.requests))
	}
	req := ft.requests[0]
	if req.Method != http.MethodPut || req.URL.Path != "/machine-config" {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	body := ft.bodies[0]
	if body["vcpu_count"].(float64) != 2 || body["mem_size_mib"].(float64) != 512 {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["cpu_template"] != "T2" {
		t.Fatalf("expected cpu_template T2, got %v", body["cpu_template"])
	}
}

func TestDriveIDAppearsInPath(t *testing.T) {
	ft := &fakeTransport{}
	c := NewWithRoundTripper(ft)

	if err := c.PutDrive(context.Background(), "rootfs", "/vm/root.ext4", true, false, nil); err != nil {
		t.Fatalf("PutDrive: %v", err)
	}
	if ft.requests[0].URL.Path != "/drives/rootfs" {
		t.Fatalf("expected /drives/rootfs, got %s", ft.requests[0].URL.Path)
	}
}

func TestUpstreamErrorCarriesFaultMessage(t *testing.T) {
	ft := &fakeTransport{status: http.StatusBadRequest, respBody: `{"fault_message":"invalid kernel path"}`}
	c := NewWithRoundTripper(ft)

	err := c.PutBootSource(context.Background(), "/bad/path", "")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if apiErr.FaultMessage == "" {
		t.Fatal("expected fault message to be preserved")
	}
}

func TestStartInstanceIsPut(t *testing.T) {
	ft := &fakeTransport{}
	c := NewWithRoundTripper(ft)
	if err := c.StartInstance(context.Background()); err != nil {
		t.Fatalf("StartInstance: %v", err)
	}
	if ft.requests[0].URL.Path != "/actions" {
		t.Fatalf("expected /actions, got %s", ft.requests[0].URL.Path)
	}
}

func TestPauseResumeUsePatch(t *testing.T) {
	ft := &fakeTransport{}
	c := NewWithRoundTripper(ft)
	if err := c.PauseVM(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ft.requests[0].Method != http.MethodPatch {
		t.Fatalf("expected PATCH, got %s", ft.requests[0].Method)
	}
}
