package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
)

// APKInsert records an uploaded or to-be-compiled package in the given
// initial status.
func (s *Store) APKInsert(ctx context.Context, apkID, projectID, filename, status string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO project_apks (apk_id, project_id, filename, status)
		VALUES ($1, $2, $3, $4)
	`, apkID, projectID, filename, status)
	if err != nil {
		return fmt.Errorf("insert apk: %w", err)
	}
	return nil
}

// APKSetPackage records the Android package name extracted from the binary.
func (s *Store) APKSetPackage(ctx context.Context, apkID, pkg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE project_apks SET package = $2 WHERE apk_id = $1
	`, apkID, pkg)
	if err != nil {
		return fmt.Errorf("set apk package: %w", err)
	}
	return nil
}

// APKUnlinkTestsources clears the apk_id reference on any test source that
// pointed at a deleted APK.
func (s *Store) APKUnlinkTestsources(ctx context.Context, apkID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE testsources SET apk_id = NULL WHERE apk_id = $1
	`, apkID)
	if err != nil {
		return fmt.Errorf("unlink testsources: %w", err)
	}
	return nil
}

// APKGet returns the APK if its project is visible to the user.
func (s *Store) APKGet(ctx context.Context, userid, apkID string) (*domain.APK, error) {
	var a domain.APK
	err := s.pool.QueryRow(ctx, `
		SELECT a.apk_id, a.project_id, a.filename, a.package,
		       COALESCE(t.testsource_id, ''), a.status, a.status_reason
		  FROM project_apks a
		  JOIN permission_projects perm
		    ON perm.project_id = a.project_id AND perm.userid = $1
		  LEFT JOIN testsources t ON t.apk_id = a.apk_id
		 WHERE a.apk_id = $2
	`, userid, apkID).Scan(&a.APKID, &a.ProjectID, &a.Filename, &a.Package,
		&a.TestsourceID, &a.Status, &a.StatusReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("apk %s: %w", apkID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get apk: %w", err)
	}
	return &a, nil
}

// APKList returns the project's non-deleted APKs.
func (s *Store) APKList(ctx context.Context, userid, projectID string) ([]domain.APK, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.apk_id, a.project_id, a.filename, a.package,
		       COALESCE(t.testsource_id, ''), a.status, a.status_reason
		  FROM project_apks a
		  JOIN permission_projects perm
		    ON perm.project_id = a.project_id AND perm.userid = $1
		  LEFT JOIN testsources t ON t.apk_id = a.apk_id
		 WHERE a.project_id = $2 AND a.status <> 'DELETED'
		 ORDER BY a.filename
	`, userid, projectID)
	if err != nil {
		return nil, fmt.Errorf("list apks: %w", err)
	}
	defer rows.Close()

	var out []domain.APK
	for rows.Next() {
		var a domain.APK
		if err := rows.Scan(&a.APKID, &a.ProjectID, &a.Filename, &a.Package,
			&a.TestsourceID, &a.Status, &a.StatusReason); err != nil {
			return nil, fmt.Errorf("scan apk: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
