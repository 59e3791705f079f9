package hostexec

import "testing"

func TestDeviceExistsReturnsFalseForUnknownDevice(t *testing.T) {
	if deviceExists("fctap-does-not-exist-xyz") {
		t.Fatal("expected nonexistent device to report false")
	}
}
