package store

import "testing"

func TestMigrationNumbering(t *testing.T) {
	nums, err := migrationNumbers()
	if err != nil {
		t.Fatalf("migrationNumbers: %v", err)
	}
	if len(nums) == 0 {
		t.Fatal("no migration scripts embedded")
	}
	for i, n := range nums {
		if n != i+1 {
			t.Fatalf("migration numbering has a gap: got %v", nums)
		}
	}
}

func TestLatestVersion(t *testing.T) {
	scripts, err := migrationScripts()
	if err != nil {
		t.Fatalf("migrationScripts: %v", err)
	}
	if got := latestVersion(scripts); got != len(scripts) {
		t.Errorf("latestVersion = %d, want %d", got, len(scripts))
	}
}
