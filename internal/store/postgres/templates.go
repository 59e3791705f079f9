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

const templateColumns = `id, name, vcpu, mem_mib, kernel_ref, rootfs_ref, boot_args, smt, cpu_template,
	track_dirty, restart_policy, kind, created_at`

func scanTemplate(row pgx.Row) (*model.Template, error) {
	t := &model.Template{}
	err := row.Scan(&t.ID, &t.Name, &t.VCPU, &t.MemMiB, &t.KernelRef, &t.RootfsRef, &t.BootArgs, &t.SMT,
		&t.CPUTemplate, &t.TrackDirty, &t.RestartPolicy, &t.Kind, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t *model.Template) error {
	out, err := scanTemplate(s.pool.QueryRow(ctx,
		`INSERT INTO templates (id, name, vcpu, mem_mib, kernel_ref, rootfs_ref, boot_args, smt, cpu_template,
			track_dirty, restart_policy, kind)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 RETURNING `+templateColumns,
		t.ID, t.Name, t.VCPU, t.MemMiB, t.KernelRef, t.RootfsRef, t.BootArgs, t.SMT, t.CPUTemplate,
		t.TrackDirty, t.RestartPolicy, t.Kind,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.Conflict(fmt.Sprintf("a template named %q already exists", t.Name))
		}
		return fmt.Errorf("failed to create template: %w", err)
	}
	*t = *out
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	t, err := scanTemplate(s.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]*model.Template, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []*model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
