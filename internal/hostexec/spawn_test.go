package hostexec

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPidfileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := pidfilePath(dir)

	if err := writePidfile(path, 4242); err != nil {
		t.Fatalf("writePidfile: %v", err)
	}
	pid, err := readPidfile(path)
	if err != nil {
		t.Fatalf("readPidfile: %v", err)
	}
	if pid != 4242 {
		t.Fatalf("expected pid 4242, got %d", pid)
	}
}

func TestReadPidfileMissingReturnsZero(t *testing.T) {
	pid, err := readPidfile(filepath.Join(t.TempDir(), "missing.pid"))
	if err != nil {
		t.Fatalf("readPidfile: %v", err)
	}
	if pid != 0 {
		t.Fatalf("expected 0, got %d", pid)
	}
}

func TestPrepareMetricsFifoCreatesPipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.fifo")
	if err := PrepareMetricsFifo(path); err != nil {
		t.Fatalf("PrepareMetricsFifo: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat fifo: %v", err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		t.Fatal("expected a named pipe")
	}

	// Calling again must not fail.
	if err := PrepareMetricsFifo(path); err != nil {
		t.Fatalf("PrepareMetricsFifo (second call): %v", err)
	}
}

func TestStopWithNoPidfileIsNoop(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "fc.sock")
	if err := Stop(sock); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
