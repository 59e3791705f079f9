package guestagent

import (
	"testing"
	"time"
)

// These tests read the real /proc of the machine running the test, the
// way the teacher's own stats.go does — there is no portable fixture for
// /proc/stat's field layout worth faking, and every Linux CI runner has a
// real one.

func TestCollectorFirstSnapshotReportsZeroCPU(t *testing.T) {
	c, err := NewCollector()
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	m, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if m.CPUPercent != 0 {
		t.Fatalf("expected 0%% CPU on first sample, got %v", m.CPUPercent)
	}
	if m.MemTotal == 0 {
		t.Fatalf("expected nonzero mem total")
	}
}

func TestCollectorSecondSnapshotReportsBoundedCPU(t *testing.T) {
	c, err := NewCollector()
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	if _, err := c.Snapshot(); err != nil {
		t.Fatalf("first Snapshot: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	m, err := c.Snapshot()
	if err != nil {
		t.Fatalf("second Snapshot: %v", err)
	}
	if m.CPUPercent < 0 || m.CPUPercent > 100 {
		t.Fatalf("expected cpu percent in [0,100], got %v", m.CPUPercent)
	}
	if m.UptimeSeconds <= 0 {
		t.Fatalf("expected positive uptime, got %v", m.UptimeSeconds)
	}
}
