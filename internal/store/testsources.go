package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
)

// TestsourceInsert stores the DSL source text in READY status. Compilation
// state lives on the produced APK, not on the source.
func (s *Store) TestsourceInsert(ctx context.Context, testsourceID, projectID, filename, content string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO testsources (testsource_id, project_id, filename, content)
		VALUES ($1, $2, $3, $4)
	`, testsourceID, projectID, filename, content)
	if err != nil {
		return fmt.Errorf("insert testsource: %w", err)
	}
	return nil
}

// TestsourceGet returns the test source with the status of the APK compiled
// from it, when one exists.
func (s *Store) TestsourceGet(ctx context.Context, userid, testsourceID string) (*domain.Testsource, error) {
	var t domain.Testsource
	err := s.pool.QueryRow(ctx, `
		SELECT t.testsource_id, t.project_id, t.filename,
		       COALESCE(t.apk_id, ''), t.status,
		       COALESCE(a.status, ''), COALESCE(a.status_reason, '')
		  FROM testsources t
		  JOIN permission_projects perm
		    ON perm.project_id = t.project_id AND perm.userid = $1
		  LEFT JOIN project_apks a ON a.apk_id = t.apk_id
		 WHERE t.testsource_id = $2
	`, userid, testsourceID).Scan(&t.TestsourceID, &t.ProjectID, &t.Filename,
		&t.APKID, &t.Status, &t.APKStatus, &t.APKStatusReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("testsource %s: %w", testsourceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get testsource: %w", err)
	}
	return &t, nil
}

// TestsourceContent returns the raw DSL text for compilation.
func (s *Store) TestsourceContent(ctx context.Context, testsourceID string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx, `
		SELECT content FROM testsources WHERE testsource_id = $1
	`, testsourceID).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("testsource %s: %w", testsourceID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get testsource content: %w", err)
	}
	return content, nil
}

// TestsourceList returns the project's test sources.
func (s *Store) TestsourceList(ctx context.Context, userid, projectID string) ([]domain.Testsource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.testsource_id, t.project_id, t.filename,
		       COALESCE(t.apk_id, ''), t.status,
		       COALESCE(a.status, ''), COALESCE(a.status_reason, '')
		  FROM testsources t
		  JOIN permission_projects perm
		    ON perm.project_id = t.project_id AND perm.userid = $1
		  LEFT JOIN project_apks a ON a.apk_id = t.apk_id
		 WHERE t.project_id = $2
		 ORDER BY t.filename
	`, userid, projectID)
	if err != nil {
		return nil, fmt.Errorf("list testsources: %w", err)
	}
	defer rows.Close()

	var out []domain.Testsource
	for rows.Next() {
		var t domain.Testsource
		if err := rows.Scan(&t.TestsourceID, &t.ProjectID, &t.Filename,
			&t.APKID, &t.Status, &t.APKStatus, &t.APKStatusReason); err != nil {
			return nil, fmt.Errorf("scan testsource: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TestsourceUpdate replaces the stored source text.
func (s *Store) TestsourceUpdate(ctx context.Context, testsourceID, filename, content string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE testsources SET filename = $2, content = $3
		 WHERE testsource_id = $1
	`, testsourceID, filename, content)
	if err != nil {
		return fmt.Errorf("update testsource: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("testsource %s: %w", testsourceID, ErrNotFound)
	}
	return nil
}

// TestsourceSetAPK links the compiled APK to its source.
func (s *Store) TestsourceSetAPK(ctx context.Context, testsourceID, apkID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE testsources SET apk_id = $2 WHERE testsource_id = $1
	`, testsourceID, apkID)
	if err != nil {
		return fmt.Errorf("set testsource apk: %w", err)
	}
	return nil
}

// TestsourceDelete removes the row. Source content is the one entity that
// is physically deleted.
func (s *Store) TestsourceDelete(ctx context.Context, userid, testsourceID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM testsources
		 WHERE testsource_id = $2
		   AND project_id IN (SELECT project_id FROM permission_projects WHERE userid = $1)
	`, userid, testsourceID)
	if err != nil {
		return fmt.Errorf("delete testsource: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("testsource %s: %w", testsourceID, ErrNotFound)
	}
	return nil
}
