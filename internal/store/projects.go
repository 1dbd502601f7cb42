package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
)

// ProjectInsert creates a project in CREATING status.
func (s *Store) ProjectInsert(ctx context.Context, p domain.Project) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects (project_id, project_name, uid_owner, status)
		VALUES ($1, $2, $3, $4)
	`, p.ProjectID, p.ProjectName, p.UIDOwner, domain.StatusCreating)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// ProjectGet returns the project if the user owns it or it is shared with
// them. A row the user cannot see is ErrNotFound, never forbidden.
func (s *Store) ProjectGet(ctx context.Context, userid, projectID string) (*domain.Project, error) {
	var p domain.Project
	err := s.pool.QueryRow(ctx, `
		SELECT p.project_id, p.project_name, p.uid_owner, p.status,
		       iso_timestamp(p.status_ts), p.status_reason
		  FROM projects p
		  JOIN permission_projects perm
		    ON perm.project_id = p.project_id AND perm.userid = $1
		 WHERE p.project_id = $2
	`, userid, projectID).Scan(
		&p.ProjectID, &p.ProjectName, &p.UIDOwner, &p.Status, &p.StatusTS, &p.StatusReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// ProjectList returns every non-deleted project visible to the user.
func (s *Store) ProjectList(ctx context.Context, userid string) ([]domain.Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.project_id, p.project_name, p.uid_owner, p.status,
		       iso_timestamp(p.status_ts), p.status_reason
		  FROM projects p
		  JOIN permission_projects perm
		    ON perm.project_id = p.project_id AND perm.userid = $1
		 WHERE p.status <> 'DELETED'
		 ORDER BY p.project_name
	`, userid)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ProjectID, &p.ProjectName, &p.UIDOwner, &p.Status,
			&p.StatusTS, &p.StatusReason); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProjectRename updates the display name.
func (s *Store) ProjectRename(ctx context.Context, userid, projectID, name string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE projects
		   SET project_name = $3
		 WHERE project_id = $2
		   AND project_id IN (SELECT project_id FROM permission_projects WHERE userid = $1)
	`, userid, projectID, name)
	if err != nil {
		return fmt.Errorf("rename project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return nil
}

// ProjectShareAdd grants another user read access to the project.
func (s *Store) ProjectShareAdd(ctx context.Context, projectID, userid string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO project_shares (project_id, userid)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, projectID, userid)
	if err != nil {
		return fmt.Errorf("share project: %w", err)
	}
	return nil
}

// ProjectShareRemove revokes a share.
func (s *Store) ProjectShareRemove(ctx context.Context, projectID, userid string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM project_shares WHERE project_id = $1 AND userid = $2
	`, projectID, userid)
	if err != nil {
		return fmt.Errorf("unshare project: %w", err)
	}
	return nil
}

// ProjectDeletable reports whether the project may be deleted: it must own
// no live AVMs and no queued or running campaigns.
func (s *Store) ProjectDeletable(ctx context.Context, projectID string) (bool, string, error) {
	var liveAVMs, activeCampaigns int
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM avms
		         WHERE project_id = $1 AND status NOT IN ('DELETED', 'ERROR')),
		       (SELECT COUNT(*) FROM campaigns
		         WHERE project_id = $1 AND status IN ('QUEUED', 'RUNNING'))
	`, projectID).Scan(&liveAVMs, &activeCampaigns)
	if err != nil {
		return false, "", fmt.Errorf("check project deletable: %w", err)
	}
	if liveAVMs > 0 {
		return false, fmt.Sprintf("project has %d active VMs", liveAVMs), nil
	}
	if activeCampaigns > 0 {
		return false, fmt.Sprintf("project has %d active campaigns", activeCampaigns), nil
	}
	return true, "", nil
}
