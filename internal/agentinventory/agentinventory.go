// Package agentinventory is the Agent's local durable record of the VMM
// scopes it owns: API sockets, TAP devices, and unit names, surviving an
// Agent process restart so reconciliation can rediscover what's already
// running instead of leaking orphaned Firecracker processes.
package agentinventory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS vmm_scopes (
    vm_id      TEXT PRIMARY KEY,
    unit_name  TEXT NOT NULL,
    api_socket TEXT NOT NULL,
    tap_name   TEXT NOT NULL DEFAULT '',
    running    INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// DB is the Agent's local inventory store.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the inventory database at dataDir/inventory.db.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create inventory dir: %w", err)
	}
	path := filepath.Join(dataDir, "inventory.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open inventory db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply inventory schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Scope is one VMM the Agent is responsible for.
type Scope struct {
	VMID      string
	UnitName  string
	APISocket string
	TAPName   string
	Running   bool
}

// Put records or updates a scope.
func (d *DB) Put(s Scope) error {
	_, err := d.db.Exec(
		`INSERT INTO vmm_scopes (vm_id, unit_name, api_socket, tap_name, running)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(vm_id) DO UPDATE SET
		     unit_name = excluded.unit_name,
		     api_socket = excluded.api_socket,
		     tap_name = excluded.tap_name,
		     running = excluded.running`,
		s.VMID, s.UnitName, s.APISocket, s.TAPName, boolToInt(s.Running),
	)
	if err != nil {
		return fmt.Errorf("put scope %s: %w", s.VMID, err)
	}
	return nil
}

// SetTap records the TAP device attached to vmID's scope, creating a
// placeholder row if spawn hasn't recorded one yet — create-tap runs
// before spawn in the pre-boot sequence, so the scope row frequently
// doesn't exist the first time this is called.
func (d *DB) SetTap(vmID, tapName string) error {
	_, err := d.db.Exec(
		`INSERT INTO vmm_scopes (vm_id, unit_name, api_socket, tap_name, running)
		 VALUES (?, '', '', ?, 0)
		 ON CONFLICT(vm_id) DO UPDATE SET tap_name = excluded.tap_name`,
		vmID, tapName,
	)
	if err != nil {
		return fmt.Errorf("set tap for %s: %w", vmID, err)
	}
	return nil
}

// SetRunning flips the running flag for a recorded scope.
func (d *DB) SetRunning(vmID string, running bool) error {
	_, err := d.db.Exec(`UPDATE vmm_scopes SET running = ? WHERE vm_id = ?`, boolToInt(running), vmID)
	if err != nil {
		return fmt.Errorf("set running for %s: %w", vmID, err)
	}
	return nil
}

// Delete removes a scope, e.g. after its VMM has been stopped and torn down.
func (d *DB) Delete(vmID string) error {
	_, err := d.db.Exec(`DELETE FROM vmm_scopes WHERE vm_id = ?`, vmID)
	if err != nil {
		return fmt.Errorf("delete scope %s: %w", vmID, err)
	}
	return nil
}

// List returns every scope the Agent currently believes it owns, in no
// particular order. Called on Agent startup to rediscover state from a
// prior process, and to answer inventory requests from the Manager.
func (d *DB) List() ([]Scope, error) {
	rows, err := d.db.Query(`SELECT vm_id, unit_name, api_socket, tap_name, running FROM vmm_scopes`)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []Scope
	for rows.Next() {
		var s Scope
		var running int
		if err := rows.Scan(&s.VMID, &s.UnitName, &s.APISocket, &s.TAPName, &running); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		s.Running = running != 0
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}

// Get returns the scope for a single VM, or (Scope{}, false) if unknown.
func (d *DB) Get(vmID string) (Scope, bool, error) {
	row := d.db.QueryRow(`SELECT vm_id, unit_name, api_socket, tap_name, running FROM vmm_scopes WHERE vm_id = ?`, vmID)
	var s Scope
	var running int
	if err := row.Scan(&s.VMID, &s.UnitName, &s.APISocket, &s.TAPName, &running); err != nil {
		if err == sql.ErrNoRows {
			return Scope{}, false, nil
		}
		return Scope{}, false, fmt.Errorf("get scope %s: %w", vmID, err)
	}
	s.Running = running != 0
	return s, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
