package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
)

// ErrNotFound is returned when a row does not exist or the requesting user
// has no permission to see it. The two cases are indistinguishable on
// purpose.
var ErrNotFound = errors.New("not found")

// Ref identifies an entity table and its primary key column. The dispatcher
// uses refs to run the obsolescence check and to project errors without a
// per-entity code path.
type Ref struct {
	Table string
	Key   string
}

var (
	RefProject = Ref{"projects", "project_id"}
	RefAVM     = Ref{"avms", "avm_id"}
	RefCommand = Ref{"avm_commands", "command_id"}
	RefAPK     = Ref{"project_apks", "apk_id"}
	RefCamera  = Ref{"project_camera", "camera_id"}
)

// IsDeleted reports whether the row is in DELETED status. A missing row
// counts as deleted: the task targeting it is obsolete either way.
func (s *Store) IsDeleted(ctx context.Context, ref Ref, id string) (bool, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT status FROM %s WHERE %s = $1`, ref.Table, ref.Key),
		id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("check %s %s: %w", ref.Table, id, err)
	}
	return status == domain.StatusDeleted, nil
}

// SetStatus stamps status, status_ts and status_reason on one row.
func (s *Store) SetStatus(ctx context.Context, ref Ref, id, status, reason string) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`
		UPDATE %s
		   SET status = $2,
		       status_ts = transaction_timestamp(),
		       status_reason = $3
		 WHERE %s = $1
		`, ref.Table, ref.Key),
		id, status, reason)
	if err != nil {
		return fmt.Errorf("set %s %s status: %w", ref.Table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set %s %s status: %w", ref.Table, id, ErrNotFound)
	}
	return nil
}

// SetError projects a failure reason onto the entity.
func (s *Store) SetError(ctx context.Context, ref Ref, id, reason string) error {
	return s.SetStatus(ctx, ref, id, domain.StatusError, reason)
}
