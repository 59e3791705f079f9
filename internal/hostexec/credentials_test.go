package hostexec

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOverwriteShadowEntryReplacesExistingUser(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow")
	initial := "root:!:19000:0:99999:7:::\napp:$6$old:19000:0:99999:7:::\n"
	if err := os.WriteFile(path, []byte(initial), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := overwriteShadowEntry(path, "app", "$6$new"); err != nil {
		t.Fatalf("overwriteShadowEntry: %v", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "app:$6$new:") {
		t.Fatalf("expected app's hash to be updated, got %q", text)
	}
	if !strings.Contains(text, "root:!:19000") {
		t.Fatalf("expected root's entry untouched, got %q", text)
	}
}

func TestOverwriteShadowEntryAppendsMissingUser(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow")
	if err := os.WriteFile(path, []byte("root:!:19000:0:99999:7:::\n"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := overwriteShadowEntry(path, "app", "$6$fresh"); err != nil {
		t.Fatalf("overwriteShadowEntry: %v", err)
	}

	out, _ := os.ReadFile(path)
	if !strings.Contains(string(out), "app:$6$fresh:") {
		t.Fatalf("expected appended entry, got %q", string(out))
	}
}
