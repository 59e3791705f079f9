package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

const vmColumns = `id, name, owner_id, desired, observed, vcpu, mem_mib, kernel_ref, rootfs_ref,
	host_id, unit_name, api_socket, rootfs_path, tap_name, guest_ip, template_id, source_snapshot,
	cred_hash, cred_user, boot_args, smt, cpu_template, track_dirty, restart_policy, user_data,
	error_message, last_error_step, created_at, updated_at`

func scanVM(row pgx.Row) (*model.VM, error) {
	v := &model.VM{}
	err := row.Scan(
		&v.ID, &v.Name, &v.OwnerID, &v.Desired, &v.Observed, &v.VCPU, &v.MemMiB, &v.KernelRef, &v.RootfsRef,
		&v.HostID, &v.UnitName, &v.APISocket, &v.RootfsPath, &v.TAPName, &v.GuestIP, &v.TemplateID, &v.SourceSnapshot,
		&v.CredHash, &v.CredUser, &v.BootArgs, &v.SMT, &v.CPUTemplate, &v.TrackDirty, &v.RestartPolicy, &v.UserData,
		&v.ErrorMessage, &v.LastErrorStep, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) CreateVM(ctx context.Context, vm *model.VM) error {
	v, err := scanVM(s.pool.QueryRow(ctx,
		`INSERT INTO vms (id, name, owner_id, desired, observed, vcpu, mem_mib, kernel_ref, rootfs_ref,
			host_id, unit_name, api_socket, rootfs_path, tap_name, guest_ip, template_id, source_snapshot,
			cred_hash, cred_user, boot_args, smt, cpu_template, track_dirty, restart_policy, user_data,
			error_message, last_error_step)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
		 RETURNING `+vmColumns,
		vm.ID, vm.Name, vm.OwnerID, vm.Desired, vm.Observed, vm.VCPU, vm.MemMiB, vm.KernelRef, vm.RootfsRef,
		vm.HostID, vm.UnitName, vm.APISocket, vm.RootfsPath, vm.TAPName, vm.GuestIP, vm.TemplateID, vm.SourceSnapshot,
		vm.CredHash, vm.CredUser, vm.BootArgs, vm.SMT, vm.CPUTemplate, vm.TrackDirty, vm.RestartPolicy, vm.UserData,
		vm.ErrorMessage, vm.LastErrorStep,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.Conflict(fmt.Sprintf("a vm named %q already exists for this owner", vm.Name))
		}
		return fmt.Errorf("failed to create vm: %w", err)
	}
	*vm = *v
	return nil
}

func (s *Store) GetVM(ctx context.Context, id string) (*model.VM, error) {
	v, err := scanVM(s.pool.QueryRow(ctx, `SELECT `+vmColumns+` FROM vms WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get vm: %w", err)
	}
	return v, nil
}

func (s *Store) GetVMByName(ctx context.Context, ownerID, name string) (*model.VM, error) {
	v, err := scanVM(s.pool.QueryRow(ctx,
		`SELECT `+vmColumns+` FROM vms WHERE owner_id = $1 AND name = $2`, ownerID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get vm by name: %w", err)
	}
	return v, nil
}

func (s *Store) listVMs(ctx context.Context, query string, args ...any) ([]*model.VM, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list vms: %w", err)
	}
	defer rows.Close()

	var out []*model.VM
	for rows.Next() {
		v, err := scanVM(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) ListVMs(ctx context.Context, ownerID string) ([]*model.VM, error) {
	return s.listVMs(ctx, `SELECT `+vmColumns+` FROM vms WHERE owner_id = $1 ORDER BY created_at`, ownerID)
}

func (s *Store) ListAllVMs(ctx context.Context) ([]*model.VM, error) {
	return s.listVMs(ctx, `SELECT `+vmColumns+` FROM vms ORDER BY created_at`)
}

func (s *Store) ListVMsByHost(ctx context.Context, hostID string) ([]*model.VM, error) {
	return s.listVMs(ctx, `SELECT `+vmColumns+` FROM vms WHERE host_id = $1 ORDER BY created_at`, hostID)
}

func (s *Store) UpdateVM(ctx context.Context, vm *model.VM) error {
	v, err := scanVM(s.pool.QueryRow(ctx,
		`UPDATE vms SET
			desired = $1, observed = $2, vcpu = $3, mem_mib = $4, kernel_ref = $5, rootfs_ref = $6,
			host_id = $7, unit_name = $8, api_socket = $9, rootfs_path = $10, tap_name = $11, guest_ip = $12,
			template_id = $13, source_snapshot = $14, cred_hash = $15, cred_user = $16,
			boot_args = $17, smt = $18, cpu_template = $19, track_dirty = $20, restart_policy = $21,
			user_data = $22, error_message = $23, last_error_step = $24, updated_at = now()
		 WHERE id = $25
		 RETURNING `+vmColumns,
		vm.Desired, vm.Observed, vm.VCPU, vm.MemMiB, vm.KernelRef, vm.RootfsRef,
		vm.HostID, vm.UnitName, vm.APISocket, vm.RootfsPath, vm.TAPName, vm.GuestIP,
		vm.TemplateID, vm.SourceSnapshot, vm.CredHash, vm.CredUser,
		vm.BootArgs, vm.SMT, vm.CPUTemplate, vm.TrackDirty, vm.RestartPolicy,
		vm.UserData, vm.ErrorMessage, vm.LastErrorStep, vm.ID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to update vm: %w", err)
	}
	*vm = *v
	return nil
}

func (s *Store) DeleteVM(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM vms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete vm: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
