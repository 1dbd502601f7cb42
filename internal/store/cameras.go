package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
)

// CameraInsert records an uploaded camera video in QUEUED status.
func (s *Store) CameraInsert(ctx context.Context, cameraID, projectID, filename string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO project_camera (camera_id, project_id, filename, status)
		VALUES ($1, $2, $3, 'QUEUED')
	`, cameraID, projectID, filename)
	if err != nil {
		return fmt.Errorf("insert camera: %w", err)
	}
	return nil
}

// CameraGet returns the camera file if its project is visible to the user.
func (s *Store) CameraGet(ctx context.Context, userid, cameraID string) (*domain.Camera, error) {
	var c domain.Camera
	err := s.pool.QueryRow(ctx, `
		SELECT c.camera_id, c.project_id, c.filename, c.status
		  FROM project_camera c
		  JOIN permission_projects perm
		    ON perm.project_id = c.project_id AND perm.userid = $1
		 WHERE c.camera_id = $2
	`, userid, cameraID).Scan(&c.CameraID, &c.ProjectID, &c.Filename, &c.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("camera %s: %w", cameraID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get camera: %w", err)
	}
	return &c, nil
}

// CameraList returns the project's non-deleted camera files.
func (s *Store) CameraList(ctx context.Context, userid, projectID string) ([]domain.Camera, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.camera_id, c.project_id, c.filename, c.status
		  FROM project_camera c
		  JOIN permission_projects perm
		    ON perm.project_id = c.project_id AND perm.userid = $1
		 WHERE c.project_id = $2 AND c.status <> 'DELETED'
		 ORDER BY c.filename
	`, userid, projectID)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	var out []domain.Camera
	for rows.Next() {
		var c domain.Camera
		if err := rows.Scan(&c.CameraID, &c.ProjectID, &c.Filename, &c.Status); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
