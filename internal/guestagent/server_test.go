package guestagent

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newTestServer(t *testing.T, fnRuntime FunctionRuntimeConfig) (*Server, *Collector) {
	t.Helper()
	c, err := NewCollector()
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return NewServer(c, fnRuntime), c
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthReturnsOK(t *testing.T) {
	s, _ := newTestServer(t, FunctionRuntimeConfig{})
	rec := doRequest(s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsReturnsShape(t *testing.T) {
	s, _ := newTestServer(t, FunctionRuntimeConfig{})
	rec := doRequest(s, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var m Metrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if m.CPUPercent != 0 {
		t.Fatalf("expected 0 cpu on first sample, got %v", m.CPUPercent)
	}
}

func TestNetworkRejectsMissingInterface(t *testing.T) {
	s, _ := newTestServer(t, FunctionRuntimeConfig{})
	body, _ := json.Marshal(NetworkConfig{Mode: "static", Address: "10.0.0.2", Netmask: "255.255.255.0"})
	rec := doRequest(s, http.MethodPost, "/network", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWriteCodeDisabledWithoutFunctionRuntime(t *testing.T) {
	s, _ := newTestServer(t, FunctionRuntimeConfig{})
	body, _ := json.Marshal(writeCodeRequest{Source: "console.log(1)"})
	rec := doRequest(s, http.MethodPost, "/write-code", body)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestWriteCodeWritesSourceWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "fn", "index.js")
	s, _ := newTestServer(t, FunctionRuntimeConfig{SourcePath: srcPath})

	body, _ := json.Marshal(writeCodeRequest{Source: "console.log('hi')"})
	rec := doRequest(s, http.MethodPost, "/write-code", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got, err := os.ReadFile(srcPath)
	if err != nil {
		t.Fatalf("read written source: %v", err)
	}
	if string(got) != "console.log('hi')" {
		t.Fatalf("unexpected source content: %q", got)
	}
}

func TestWriteCodeReportsReloadFailure(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "index.js")
	s, _ := newTestServer(t, FunctionRuntimeConfig{
		SourcePath:    srcPath,
		ReloadCommand: []string{"/bin/sh", "-c", "exit 1"},
	})

	body, _ := json.Marshal(writeCodeRequest{Source: "x"})
	rec := doRequest(s, http.MethodPost, "/write-code", body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on reload failure, got %d", rec.Code)
	}
}
