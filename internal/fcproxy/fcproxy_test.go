package fcproxy

import "testing"

func TestCanonicalizeClampsTraversalAtRoot(t *testing.T) {
	// A leading "/" is always forced before path.Clean runs, so ".."
	// segments can only ever climb back to "/" and never escape it —
	// every input resolves to some path still rooted at "/".
	cases := []struct {
		in   string
		want string
	}{
		{"/machine-config", "/machine-config"},
		{"", "/"},
		{"machine-config", "/machine-config"},
		{"/../../etc/passwd", "/etc/passwd"},
		{"../secret", "/secret"},
		{"/drives/../../etc", "/etc"},
		{"/drives/rootfs", "/drives/rootfs"},
	}
	for _, tc := range cases {
		got, ok := canonicalize(tc.in)
		if !ok {
			t.Errorf("canonicalize(%q): expected ok=true", tc.in)
			continue
		}
		if got != tc.want {
			t.Errorf("canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
