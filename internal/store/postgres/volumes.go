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

const volumeColumns = `id, name, path, size_bytes, type, host_id, status, created_at`

func scanVolume(row pgx.Row) (*model.Volume, error) {
	v := &model.Volume{}
	err := row.Scan(&v.ID, &v.Name, &v.Path, &v.SizeBytes, &v.Type, &v.HostID, &v.Status, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) CreateVolume(ctx context.Context, v *model.Volume) error {
	out, err := scanVolume(s.pool.QueryRow(ctx,
		`INSERT INTO volumes (id, name, path, size_bytes, type, host_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+volumeColumns,
		v.ID, v.Name, v.Path, v.SizeBytes, v.Type, v.HostID, v.Status,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.Conflict(fmt.Sprintf("a volume already exists at path %q", v.Path))
		}
		return fmt.Errorf("failed to create volume: %w", err)
	}
	*v = *out
	return nil
}

func (s *Store) GetVolume(ctx context.Context, id string) (*model.Volume, error) {
	v, err := scanVolume(s.pool.QueryRow(ctx, `SELECT `+volumeColumns+` FROM volumes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get volume: %w", err)
	}
	return v, nil
}

func (s *Store) GetVolumeByPath(ctx context.Context, path string) (*model.Volume, error) {
	v, err := scanVolume(s.pool.QueryRow(ctx, `SELECT `+volumeColumns+` FROM volumes WHERE path = $1`, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get volume by path: %w", err)
	}
	return v, nil
}

func (s *Store) ListVolumesByHost(ctx context.Context, hostID string) ([]*model.Volume, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+volumeColumns+` FROM volumes WHERE host_id = $1 ORDER BY name`, hostID)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}
	defer rows.Close()

	var out []*model.Volume
	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) UpdateVolumeStatus(ctx context.Context, id string, status model.VolumeStatus) error {
	ct, err := s.pool.Exec(ctx, `UPDATE volumes SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update volume status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteVolume(ctx context.Context, id string) error {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM volume_attachments WHERE volume_id = $1`, id).Scan(&n); err != nil {
		return fmt.Errorf("failed to check volume attachments: %w", err)
	}
	if n > 0 {
		return apierr.Conflict("volume has active attachments")
	}
	ct, err := s.pool.Exec(ctx, `DELETE FROM volumes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete volume: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- Volume attachments ---

func (s *Store) CreateAttachment(ctx context.Context, a *model.VolumeAttachment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO volume_attachments (volume_id, vm_id, drive_role, "order") VALUES ($1, $2, $3, $4)`,
		a.VolumeID, a.VMID, a.DriveRole, a.Order,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.Conflict("this vm already has a rootfs attachment")
		}
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	return nil
}

func scanAttachment(row pgx.Row) (*model.VolumeAttachment, error) {
	a := &model.VolumeAttachment{}
	err := row.Scan(&a.VolumeID, &a.VMID, &a.DriveRole, &a.Order)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) ListAttachmentsByVM(ctx context.Context, vmID string) ([]*model.VolumeAttachment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT volume_id, vm_id, drive_role, "order" FROM volume_attachments WHERE vm_id = $1 ORDER BY "order"`, vmID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var out []*model.VolumeAttachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListAttachmentsByVolume(ctx context.Context, volumeID string) ([]*model.VolumeAttachment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT volume_id, vm_id, drive_role, "order" FROM volume_attachments WHERE volume_id = $1`, volumeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var out []*model.VolumeAttachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAttachment(ctx context.Context, volumeID, vmID string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM volume_attachments WHERE volume_id = $1 AND vm_id = $2`, volumeID, vmID)
	if err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
