package store

import (
	"context"
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kyaraben/kyaraben/internal/logging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    singleton INTEGER DEFAULT 0 PRIMARY KEY CHECK (singleton=0),
    version INTEGER DEFAULT 0
);
INSERT INTO schema_version SELECT 0, 0 WHERE NOT EXISTS (SELECT * FROM schema_version);
`

var migrationNumRE = regexp.MustCompile(`^(\d+)`)

// migrationScripts returns the embedded scripts keyed by their numeric
// prefix.
func migrationScripts() (map[int]string, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	scripts := map[int]string{}
	for _, entry := range entries {
		m := migrationNumRE.FindString(entry.Name())
		if m == "" {
			return nil, fmt.Errorf("migration %s has no numeric prefix", entry.Name())
		}
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil, err
		}
		if _, dup := scripts[n]; dup {
			return nil, fmt.Errorf("duplicate migration number %d", n)
		}
		data, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, err
		}
		scripts[n] = string(data)
	}
	return scripts, nil
}

func latestVersion(scripts map[int]string) int {
	max := 0
	for n := range scripts {
		if n > max {
			max = n
		}
	}
	return max
}

// Update applies pending migration scripts in sequence, inside a single
// transaction. A gap in the numbering is an error.
func (s *Store) Update(ctx context.Context) error {
	scripts, err := migrationScripts()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("ensure schema_version: %w", err)
	}

	var current int
	if err := tx.QueryRow(ctx, `SELECT version FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	target := latestVersion(scripts)
	for current < target {
		current++
		script, ok := scripts[current]
		if !ok {
			return fmt.Errorf("missing migration script %d", current)
		}

		logging.Op().Info("applying migration", "version", current)
		if strings.TrimSpace(script) != "" {
			if _, err := tx.Exec(ctx, script); err != nil {
				return fmt.Errorf("apply migration %d: %w", current, err)
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE schema_version SET version=$1`, current); err != nil {
			return fmt.Errorf("record migration %d: %w", current, err)
		}
	}

	return tx.Commit(ctx)
}

// RequireLatest fails when the schema is older or newer than this build
// expects. A mismatch is a fatal startup condition.
func (s *Store) RequireLatest(ctx context.Context) error {
	scripts, err := migrationScripts()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	required := latestVersion(scripts)

	var current int
	err = s.pool.QueryRow(ctx, `SELECT COALESCE(version, -1) FROM schema_version`).Scan(&current)
	if err != nil {
		return fmt.Errorf("database schema has not been initialized, run with --db-update: %w", err)
	}

	if current < required {
		return fmt.Errorf("database schema is at version %d, but version %d is required; run with --db-update", current, required)
	}
	if current > required {
		return fmt.Errorf("database schema is at version %d, which is unsupported; upgrade the application", current)
	}
	return nil
}

// migrationNumbers exists for tests: the sorted list of script numbers.
func migrationNumbers() ([]int, error) {
	scripts, err := migrationScripts()
	if err != nil {
		return nil, err
	}
	nums := make([]int, 0, len(scripts))
	for n := range scripts {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}
