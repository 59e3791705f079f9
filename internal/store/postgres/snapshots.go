package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

const snapshotColumns = `id, vm_id, name, state_path, mem_path, parent_id, type, size_bytes, created_at`

func scanSnapshot(row pgx.Row) (*model.Snapshot, error) {
	sn := &model.Snapshot{}
	err := row.Scan(&sn.ID, &sn.VMID, &sn.Name, &sn.StatePath, &sn.MemPath, &sn.ParentID, &sn.Type, &sn.SizeBytes, &sn.CreatedAt)
	if err != nil {
		return nil, err
	}
	return sn, nil
}

func (s *Store) CreateSnapshot(ctx context.Context, sn *model.Snapshot) error {
	out, err := scanSnapshot(s.pool.QueryRow(ctx,
		`INSERT INTO snapshots (id, vm_id, name, state_path, mem_path, parent_id, type, size_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+snapshotColumns,
		sn.ID, sn.VMID, sn.Name, sn.StatePath, sn.MemPath, sn.ParentID, sn.Type, sn.SizeBytes,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.Conflict(fmt.Sprintf("a snapshot named %q already exists for this vm", sn.Name))
		}
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	*sn = *out
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	sn, err := scanSnapshot(s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return sn, nil
}

func (s *Store) ListSnapshotsByVM(ctx context.Context, vmID string) ([]*model.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE vm_id = $1 ORDER BY created_at`, vmID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*model.Snapshot
	for rows.Next() {
		sn, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (s *Store) ListSnapshotChildren(ctx context.Context, parentID string) ([]*model.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE parent_id = $1`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot children: %w", err)
	}
	defer rows.Close()

	var out []*model.Snapshot
	for rows.Next() {
		sn, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM snapshots WHERE parent_id = $1`, id).Scan(&n); err != nil {
		return fmt.Errorf("failed to check snapshot children: %w", err)
	}
	if n > 0 {
		return apierr.Conflict("snapshot has child snapshots")
	}
	ct, err := s.pool.Exec(ctx, `DELETE FROM snapshots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
