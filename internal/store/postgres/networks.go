package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fleetforge/fleetforge/internal/store"
	"github.com/fleetforge/fleetforge/pkg/model"
)

const networkColumns = `id, type, bridge_name, vlan_id, host_id, cidr, gateway, created_at`

func scanNetwork(row pgx.Row) (*model.Network, error) {
	n := &model.Network{}
	err := row.Scan(&n.ID, &n.Type, &n.BridgeName, &n.VLANID, &n.HostID, &n.CIDR, &n.Gateway, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// GetOrCreateNetwork auto-registers a bridge+VLAN pair the first time a
// VM's NIC configuration references it.
func (s *Store) GetOrCreateNetwork(ctx context.Context, hostID, bridgeName string, vlanID *int) (*model.Network, error) {
	typ := model.NetworkBridge
	if vlanID != nil {
		typ = model.NetworkVLAN
	}

	existing, err := s.pool.Query(ctx,
		`SELECT `+networkColumns+` FROM networks WHERE host_id = $1 AND bridge_name = $2 AND vlan_id IS NOT DISTINCT FROM $3`,
		hostID, bridgeName, vlanID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to look up network: %w", err)
	}
	if existing.Next() {
		n, err := scanNetwork(existing)
		existing.Close()
		return n, err
	}
	existing.Close()

	n, err := scanNetwork(s.pool.QueryRow(ctx,
		`INSERT INTO networks (id, type, bridge_name, vlan_id, host_id)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (host_id, bridge_name, vlan_id) DO UPDATE SET bridge_name = $3
		 RETURNING `+networkColumns,
		newID(), typ, bridgeName, vlanID, hostID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}
	return n, nil
}

func (s *Store) GetNetwork(ctx context.Context, id string) (*model.Network, error) {
	n, err := scanNetwork(s.pool.QueryRow(ctx, `SELECT `+networkColumns+` FROM networks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get network: %w", err)
	}
	return n, nil
}

func (s *Store) ListNetworks(ctx context.Context) ([]*model.Network, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+networkColumns+` FROM networks ORDER BY host_id, bridge_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}
	defer rows.Close()

	var out []*model.Network
	for rows.Next() {
		n, err := scanNetwork(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
