package agentinventory

import "testing"

func TestPutGetListDelete(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	s := Scope{VMID: "vm-1", UnitName: "fc-vm-1", APISocket: "/tmp/vm-1.sock", TAPName: "fctap1", Running: true}
	if err := db.Put(s); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := db.Get("vm-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.UnitName != s.UnitName || got.APISocket != s.APISocket || !got.Running {
		t.Fatalf("unexpected scope: %+v", got)
	}

	if err := db.SetRunning("vm-1", false); err != nil {
		t.Fatalf("SetRunning: %v", err)
	}
	got, _, _ = db.Get("vm-1")
	if got.Running {
		t.Fatal("expected running=false after SetRunning")
	}

	list, err := db.List()
	if err != nil || len(list) != 1 {
		t.Fatalf("List: %v %+v", err, list)
	}

	if err := db.Delete("vm-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, _ = db.Get("vm-1")
	if ok {
		t.Fatal("expected scope to be gone after Delete")
	}
}

func TestGetUnknownScopeReturnsFalse(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	_, ok, err := db.Get("missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for unknown scope")
	}
}
