package hostexec

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoopDeviceForReturnsEmptyWhenNotMounted(t *testing.T) {
	dev, err := loopDeviceFor(filepath.Join(os.TempDir(), "not-a-real-mount-point"))
	if err != nil {
		t.Fatalf("loopDeviceFor: %v", err)
	}
	if dev != "" {
		t.Fatalf("expected empty device, got %q", dev)
	}
}
