package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
)

// ImageGet resolves a boot image catalog entry by its key.
func (s *Store) ImageGet(ctx context.Context, image string) (*domain.Image, error) {
	var img domain.Image
	err := s.pool.QueryRow(ctx, `
		SELECT image, system_image, data_image, android_version
		  FROM images WHERE image = $1
	`, image).Scan(&img.Image, &img.SystemImage, &img.DataImage, &img.AndroidVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("image %s: %w", image, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return &img, nil
}

// ImageList returns the boot image catalog.
func (s *Store) ImageList(ctx context.Context) ([]domain.Image, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT image, system_image, data_image, android_version
		  FROM images ORDER BY image
	`)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var out []domain.Image
	for rows.Next() {
		var img domain.Image
		if err := rows.Scan(&img.Image, &img.SystemImage, &img.DataImage,
			&img.AndroidVersion); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}
