package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
)

// CommandInsert records a requested execution. The row starts QUEUED;
// re-delivery of the same command_id is a silent no-op.
func (s *Store) CommandInsert(ctx context.Context, commandID, avmID, command string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO avm_commands (command_id, avm_id, ts_request, command)
		VALUES ($1, $2, transaction_timestamp(), $3)
		ON CONFLICT (command_id) DO NOTHING
	`, commandID, avmID, command)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

// CommandBegin records the rendered command line, stamps ts_begin and marks
// the command RUNNING.
func (s *Store) CommandBegin(ctx context.Context, commandID, command string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE avm_commands
		   SET command = $2,
		       ts_begin = transaction_timestamp(),
		       status = 'RUNNING',
		       status_ts = transaction_timestamp()
		 WHERE command_id = $1
	`, commandID, command)
	if err != nil {
		return fmt.Errorf("begin command: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("command %s: %w", commandID, ErrNotFound)
	}
	return nil
}

// CommandFinish records the captured process result. The status transition
// is separate: a finished install that did not report success must not read
// as READY.
func (s *Store) CommandFinish(ctx context.Context, commandID string, returncode int, stdout, stderr string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE avm_commands
		   SET ts_end = transaction_timestamp(),
		       proc_returncode = $2,
		       proc_stdout = $3,
		       proc_stderr = $4
		 WHERE command_id = $1
	`, commandID, returncode, stdout, stderr)
	if err != nil {
		return fmt.Errorf("finish command: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("command %s: %w", commandID, ErrNotFound)
	}
	return nil
}

// CommandGet returns the command if its AVM is visible to the user.
func (s *Store) CommandGet(ctx context.Context, userid, commandID string) (*domain.Command, error) {
	var c domain.Command
	var returncode *int
	err := s.pool.QueryRow(ctx, `
		SELECT c.command_id, c.avm_id, iso_timestamp(c.ts_request),
		       COALESCE(iso_timestamp(c.ts_begin), ''),
		       COALESCE(iso_timestamp(c.ts_end), ''),
		       c.command, c.proc_returncode, c.proc_stdout, c.proc_stderr,
		       c.status, c.status_reason
		  FROM avm_commands c
		  JOIN permission_avms perm ON perm.avm_id = c.avm_id AND perm.userid = $1
		 WHERE c.command_id = $2
	`, userid, commandID).Scan(
		&c.CommandID, &c.AVMID, &c.TSRequest, &c.TSBegin, &c.TSEnd,
		&c.Command, &returncode, &c.ProcStdout, &c.ProcStderr,
		&c.Status, &c.StatusReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("command %s: %w", commandID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get command: %w", err)
	}
	if returncode != nil {
		c.ProcReturncode = *returncode
	}
	return &c, nil
}

// CommandList returns the commands recorded against one AVM.
func (s *Store) CommandList(ctx context.Context, userid, avmID string) ([]domain.Command, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.command_id, c.avm_id, iso_timestamp(c.ts_request),
		       COALESCE(iso_timestamp(c.ts_begin), ''),
		       COALESCE(iso_timestamp(c.ts_end), ''),
		       c.command, c.proc_returncode, c.proc_stdout, c.proc_stderr,
		       c.status, c.status_reason
		  FROM avm_commands c
		  JOIN permission_avms perm ON perm.avm_id = c.avm_id AND perm.userid = $1
		 WHERE c.avm_id = $2
		 ORDER BY c.ts_request
	`, userid, avmID)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var out []domain.Command
	for rows.Next() {
		var c domain.Command
		var returncode *int
		if err := rows.Scan(&c.CommandID, &c.AVMID, &c.TSRequest, &c.TSBegin,
			&c.TSEnd, &c.Command, &returncode, &c.ProcStdout, &c.ProcStderr,
			&c.Status, &c.StatusReason); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		if returncode != nil {
			c.ProcReturncode = *returncode
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
