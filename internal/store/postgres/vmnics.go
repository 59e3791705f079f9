package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fleetforge/fleetforge/pkg/model"
)

func scanNic(row pgx.Row) (*model.VmNic, error) {
	n := &model.VmNic{}
	var rx, tx []byte
	err := row.Scan(&n.VMID, &n.IfaceID, &n.HostDevName, &n.GuestMAC, &n.NetworkID, &n.Order, &rx, &tx)
	if err != nil {
		return nil, err
	}
	if rx != nil {
		n.RxRateLimit = &model.RateLimit{}
		if err := json.Unmarshal(rx, n.RxRateLimit); err != nil {
			return nil, fmt.Errorf("failed to decode rx rate limit: %w", err)
		}
	}
	if tx != nil {
		n.TxRateLimit = &model.RateLimit{}
		if err := json.Unmarshal(tx, n.TxRateLimit); err != nil {
			return nil, fmt.Errorf("failed to decode tx rate limit: %w", err)
		}
	}
	return n, nil
}

func (s *Store) CreateNic(ctx context.Context, n *model.VmNic) error {
	rx, err := json.Marshal(n.RxRateLimit)
	if err != nil {
		return fmt.Errorf("failed to encode rx rate limit: %w", err)
	}
	tx, err := json.Marshal(n.TxRateLimit)
	if err != nil {
		return fmt.Errorf("failed to encode tx rate limit: %w", err)
	}
	if n.RxRateLimit == nil {
		rx = nil
	}
	if n.TxRateLimit == nil {
		tx = nil
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO vm_nics (vm_id, iface_id, host_dev_name, guest_mac, network_id, "order", rx_rate_limit, tx_rate_limit)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.VMID, n.IfaceID, n.HostDevName, n.GuestMAC, n.NetworkID, n.Order, rx, tx,
	)
	if err != nil {
		return fmt.Errorf("failed to create nic: %w", err)
	}
	return nil
}

func (s *Store) ListNicsByVM(ctx context.Context, vmID string) ([]*model.VmNic, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT vm_id, iface_id, host_dev_name, guest_mac, network_id, "order", rx_rate_limit, tx_rate_limit
		 FROM vm_nics WHERE vm_id = $1 ORDER BY "order"`, vmID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nics: %w", err)
	}
	defer rows.Close()

	var out []*model.VmNic
	for rows.Next() {
		n, err := scanNic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) DeleteNic(ctx context.Context, vmID, ifaceID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM vm_nics WHERE vm_id = $1 AND iface_id = $2`, vmID, ifaceID)
	if err != nil {
		return fmt.Errorf("failed to delete nic: %w", err)
	}
	return nil
}

func (s *Store) DeleteNicsByVM(ctx context.Context, vmID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM vm_nics WHERE vm_id = $1`, vmID)
	if err != nil {
		return fmt.Errorf("failed to delete nics: %w", err)
	}
	return nil
}
