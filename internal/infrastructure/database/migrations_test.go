package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/gray-logic-dispatch/migrations"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_first.up.sql":    {Data: []byte("CREATE TABLE first (id TEXT PRIMARY KEY);")},
		"20260101_000000_first.down.sql":  {Data: []byte("DROP TABLE first;")},
		"20260102_000000_second.up.sql":   {Data: []byte("CREATE TABLE second (id TEXT PRIMARY KEY);")},
		"README.md":                       {Data: []byte("ignored")},
		"20260103_000000_broken.down.txt": {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.Migrate(ctx, testMigrations())
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("applied = %d, want 2", n)
	}
	if !tableExists(t, db, "first") || !tableExists(t, db, "second") {
		t.Error("tables not created")
	}

	n, err = db.Migrate(ctx, testMigrations())
	if err != nil || n != 0 {
		t.Errorf("second Migrate() = %d, %v; want 0, nil", n, err)
	}
}

func TestMigrate_FailureStopsAtBrokenMigration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	src := testMigrations()
	src["20260102_000000_second.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE broken (")}
	src["20260104_000000_third.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE third (id TEXT);")}

	n, err := db.Migrate(ctx, src)
	if err == nil {
		t.Fatal("Migrate() error = nil")
	}
	if n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
	if tableExists(t, db, "third") {
		t.Error("migration after failure was applied")
	}

	applied, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 2 {
		t.Errorf("status = %d applied, %d pending; want 1, 2", len(applied), len(pending))
	}
}

func TestRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Rollback(ctx, testMigrations()); err != nil {
		t.Fatalf("Rollback() on empty database error = %v", err)
	}

	if _, err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// second has no down script
	if err := db.Rollback(ctx, testMigrations()); !errors.Is(err, ErrNoDownMigration) {
		t.Fatalf("Rollback() error = %v, want ErrNoDownMigration", err)
	}

	src := testMigrations()
	src["20260102_000000_second.down.sql"] = &fstest.MapFile{Data: []byte("DROP TABLE second;")}
	if err := db.Rollback(ctx, src); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if tableExists(t, db, "second") {
		t.Error("second table still exists")
	}
	if !tableExists(t, db, "first") {
		t.Error("first table dropped")
	}

	applied, err := db.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations() error = %v", err)
	}
	if len(applied) != 1 || applied[0].Version != "20260101_000000" {
		t.Errorf("applied = %+v", applied)
	}
}

func TestLoadMigrations(t *testing.T) {
	got, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Name != "first" || got[0].DownSQL == "" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Version != "20260102_000000" || got[1].DownSQL != "" {
		t.Errorf("got[1] = %+v", got[1])
	}

	orphan := fstest.MapFS{"20260101_000000_x.down.sql": {Data: []byte("x")}}
	if _, err := LoadMigrations(orphan); err == nil {
		t.Error("orphan down script accepted")
	}

	if got, err := LoadMigrations(nil); err != nil || got != nil {
		t.Errorf("LoadMigrations(nil) = %v, %v", got, err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		file    string
		version string
		name    string
		up      bool
		ok      bool
	}{
		{"20261017_120000_items.up.sql", "20261017_120000", "items", true, true},
		{"20261017_120000_items.down.sql", "20261017_120000", "items", false, true},
		{"20261017_120000_item_state.up.sql", "20261017_120000", "item_state", true, true},
		{"20261017_120000.up.sql", "20261017_120000", "20261017_120000", true, true},
		{"20261017_120000_items.sql", "", "", false, false},
		{"items.up.sql", "", "", false, false},
		{"2026_1200_items.up.sql", "", "", false, false},
		{"20261017_120000_items.up.txt", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.file)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if version != tt.version || name != tt.name || up != tt.up {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)", version, name, up, tt.version, tt.name, tt.up)
			}
		})
	}
}

func TestMigrate_ShippedSchema(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate(migrations.FS) error = %v", err)
	}
	if !tableExists(t, db, "items") {
		t.Error("items table missing")
	}
}
