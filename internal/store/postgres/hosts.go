package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

const hostColumns = `id, address, cpus, mem_mib, disk_mib, last_heartbeat_at, status, created_at`

func scanHost(row pgx.Row) (*model.Host, error) {
	h := &model.Host{}
	var lastHeartbeat *time.Time
	err := row.Scan(&h.ID, &h.Address, &h.CPUs, &h.MemMiB, &h.DiskMiB, &lastHeartbeat, &h.Status, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastHeartbeat != nil {
		h.LastHeartbeatAt = *lastHeartbeat
	}
	return h, nil
}

func (s *Store) UpsertHost(ctx context.Context, h *model.Host) error {
	out, err := scanHost(s.pool.QueryRow(ctx,
		`INSERT INTO hosts (id, address, cpus, mem_mib, disk_mib, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET address = $2, cpus = $3, mem_mib = $4, disk_mib = $5, status = $6
		 RETURNING `+hostColumns,
		h.ID, h.Address, h.CPUs, h.MemMiB, h.DiskMiB, h.Status,
	))
	if err != nil {
		return fmt.Errorf("failed to upsert host: %w", err)
	}
	*h = *out
	return nil
}

func (s *Store) GetHost(ctx context.Context, id string) (*model.Host, error) {
	h, err := scanHost(s.pool.QueryRow(ctx, `SELECT `+hostColumns+` FROM hosts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get host: %w", err)
	}
	return h, nil
}

func (s *Store) ListHosts(ctx context.Context) ([]*model.Host, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+hostColumns+` FROM hosts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var out []*model.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) UpdateHeartbeat(ctx context.Context, id string, cpus, memMiB, diskMiB int, at time.Time) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE hosts SET cpus = $1, mem_mib = $2, disk_mib = $3, last_heartbeat_at = $4, status = 'healthy' WHERE id = $5`,
		cpus, memMiB, diskMiB, at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateHostStatus(ctx context.Context, id string, status model.HostStatus) error {
	ct, err := s.pool.Exec(ctx, `UPDATE hosts SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update host status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountRunningVMsByHost(ctx context.Context, hostID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM vms WHERE host_id = $1 AND observed NOT IN ('stopped', 'deleted', 'error')`,
		hostID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count running vms: %w", err)
	}
	return n, nil
}
