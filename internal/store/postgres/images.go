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

const imageColumns = `id, kind, name, canonical_path, size_bytes, sha256, created_at`

func scanImage(row pgx.Row) (*model.Image, error) {
	img := &model.Image{}
	err := row.Scan(&img.ID, &img.Kind, &img.Name, &img.CanonicalPath, &img.SizeBytes, &img.SHA256, &img.CreatedAt)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (s *Store) CreateImage(ctx context.Context, img *model.Image) error {
	out, err := scanImage(s.pool.QueryRow(ctx,
		`INSERT INTO images (id, kind, name, canonical_path, size_bytes, sha256)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+imageColumns,
		img.ID, img.Kind, img.Name, img.CanonicalPath, img.SizeBytes, img.SHA256,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.Conflict(fmt.Sprintf("an image named %q of kind %q already exists", img.Name, img.Kind))
		}
		return fmt.Errorf("failed to create image: %w", err)
	}
	*img = *out
	return nil
}

func (s *Store) GetImage(ctx context.Context, id string) (*model.Image, error) {
	img, err := scanImage(s.pool.QueryRow(ctx, `SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return img, nil
}

func (s *Store) ListImages(ctx context.Context, kind model.ImageKind) ([]*model.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images`
	var rows pgx.Rows
	var err error
	if kind != "" {
		query += ` WHERE kind = $1 ORDER BY name`
		rows, err = s.pool.Query(ctx, query, kind)
	} else {
		query += ` ORDER BY name`
		rows, err = s.pool.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	var out []*model.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func (s *Store) DeleteImage(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
