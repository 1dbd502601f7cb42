package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
)

// AVMInsert creates the AVM row together with its OTP secret in one
// transaction. Every AVM has exactly one avmotp row.
func (s *Store) AVMInsert(ctx context.Context, avm domain.AVM, vncSecret string) error {
	hwconfig, err := json.Marshal(avm.HWConfig)
	if err != nil {
		return fmt.Errorf("encode hwconfig: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin avm insert: %w", err)
	}
	defer tx.Rollback(ctx)

	var testrunID any
	if avm.TestrunID != "" {
		testrunID = avm.TestrunID
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO avms (avm_id, avm_name, uid_owner, project_id, image,
		                  hwconfig, testrun_id, status, ts_created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, transaction_timestamp())
	`, avm.AVMID, avm.AVMName, avm.UIDOwner, avm.ProjectID, avm.Image,
		hwconfig, testrunID, domain.StatusCreating)
	if err != nil {
		return fmt.Errorf("insert avm: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO avmotp (avm_id, vnc_secret) VALUES ($1, $2)
	`, avm.AVMID, vncSecret)
	if err != nil {
		return fmt.Errorf("insert avm otp: %w", err)
	}

	return tx.Commit(ctx)
}

const avmColumns = `
		a.avm_id, a.avm_name, a.uid_owner, a.project_id, a.image, a.hwconfig,
		COALESCE(a.testrun_id, ''), COALESCE(a.stack_name, ''),
		a.status, iso_timestamp(a.status_ts), a.status_reason,
		iso_timestamp(a.ts_created),
		COALESCE(u.uptime, 0), COALESCE(t.campaign_id, '')`

const avmJoins = `
		  FROM avms a
		  LEFT JOIN avms_uptime u ON u.avm_id = a.avm_id
		  LEFT JOIN testruns t ON t.testrun_id = a.testrun_id`

func scanAVM(row pgx.Row) (*domain.AVM, error) {
	var avm domain.AVM
	var hwconfig []byte
	err := row.Scan(&avm.AVMID, &avm.AVMName, &avm.UIDOwner, &avm.ProjectID,
		&avm.Image, &hwconfig, &avm.TestrunID, &avm.StackName,
		&avm.Status, &avm.StatusTS, &avm.StatusReason, &avm.TSCreated,
		&avm.Uptime, &avm.CampaignID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(hwconfig, &avm.HWConfig); err != nil {
		return nil, fmt.Errorf("decode hwconfig: %w", err)
	}
	return &avm, nil
}

// AVMGet returns the AVM if it is visible to the user.
func (s *Store) AVMGet(ctx context.Context, userid, avmID string) (*domain.AVM, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+avmColumns+avmJoins+`
		  JOIN permission_avms perm ON perm.avm_id = a.avm_id AND perm.userid = $1
		 WHERE a.avm_id = $2
	`, userid, avmID)
	avm, err := scanAVM(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("avm %s: %w", avmID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get avm: %w", err)
	}
	return avm, nil
}

// AVMFetch returns the AVM without a permission filter. Task handlers use it
// after the dispatcher's obsolescence check; the user already passed the
// permission gate when the task was accepted.
func (s *Store) AVMFetch(ctx context.Context, avmID string) (*domain.AVM, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+avmColumns+avmJoins+`
		 WHERE a.avm_id = $1
	`, avmID)
	avm, err := scanAVM(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("avm %s: %w", avmID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch avm: %w", err)
	}
	return avm, nil
}

// AVMList returns the user's visible live AVMs, optionally filtered by
// project. Campaign-spawned VMs are included; the caller filters by
// testrun_id if it wants only interactive ones.
func (s *Store) AVMList(ctx context.Context, userid, projectID string) ([]domain.AVM, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+avmColumns+avmJoins+`
		  JOIN permission_avms perm ON perm.avm_id = a.avm_id AND perm.userid = $1
		 WHERE a.status <> 'DELETED'
		   AND ($2 = '' OR a.project_id = $2)
		 ORDER BY a.ts_created
	`, userid, projectID)
	if err != nil {
		return nil, fmt.Errorf("list avms: %w", err)
	}
	defer rows.Close()

	var out []domain.AVM
	for rows.Next() {
		avm, err := scanAVM(rows)
		if err != nil {
			return nil, fmt.Errorf("scan avm: %w", err)
		}
		out = append(out, *avm)
	}
	return out, rows.Err()
}

// AVMRename updates the display name.
func (s *Store) AVMRename(ctx context.Context, userid, avmID, name string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE avms
		   SET avm_name = $3
		 WHERE avm_id = $2
		   AND avm_id IN (SELECT avm_id FROM permission_avms WHERE userid = $1)
	`, userid, avmID, name)
	if err != nil {
		return fmt.Errorf("rename avm: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("avm %s: %w", avmID, ErrNotFound)
	}
	return nil
}

// AVMSetStackName records the Heat stack name. The name is written once;
// a second write is an error because deletion relies on the stored value.
func (s *Store) AVMSetStackName(ctx context.Context, avmID, stackName string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE avms SET stack_name = $2
		 WHERE avm_id = $1 AND stack_name IS NULL
	`, avmID, stackName)
	if err != nil {
		return fmt.Errorf("set stack name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("avm %s already has a stack name", avmID)
	}
	return nil
}

// AVMVNCSecret returns the TOTP seed for the user's AVM.
func (s *Store) AVMVNCSecret(ctx context.Context, userid, avmID string) (string, error) {
	var secret string
	err := s.pool.QueryRow(ctx, `
		SELECT o.vnc_secret
		  FROM avmotp o
		  JOIN permission_avms perm ON perm.avm_id = o.avm_id AND perm.userid = $1
		 WHERE o.avm_id = $2
	`, userid, avmID).Scan(&secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("avm %s: %w", avmID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get vnc secret: %w", err)
	}
	return secret, nil
}

// QuotaUsage returns the owner's count of live (interactive) and async
// (campaign-spawned) VMs in CREATING or READY status.
func (s *Store) QuotaUsage(ctx context.Context, uidOwner string) (live, async int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT live_current, async_current FROM quota_usage WHERE uid_owner = $1
	`, uidOwner).Scan(&live, &async)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("quota usage: %w", err)
	}
	return live, async, nil
}

// BillingOpen starts the billing period for the AVM. Re-delivery of the
// containers-create task must not reset ts_started, hence the guard.
func (s *Store) BillingOpen(ctx context.Context, avmID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing (avm_id, ts_started)
		SELECT $1, transaction_timestamp()
		 WHERE NOT EXISTS (SELECT 1 FROM billing WHERE avm_id = $1)
	`, avmID)
	if err != nil {
		return fmt.Errorf("open billing: %w", err)
	}
	return nil
}

// BillingClose stops the billing period. Closing an already-closed or
// never-opened record is a no-op.
func (s *Store) BillingClose(ctx context.Context, avmID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE billing SET ts_stopped = transaction_timestamp()
		 WHERE avm_id = $1 AND ts_stopped IS NULL
	`, avmID)
	if err != nil {
		return fmt.Errorf("close billing: %w", err)
	}
	return nil
}
