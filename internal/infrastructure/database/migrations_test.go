package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"0001_kv.sql":     {Data: []byte("CREATE TABLE kv (k TEXT PRIMARY KEY, v BLOB);")},
		"0002_extra.sql":  {Data: []byte("CREATE TABLE extra (id INTEGER PRIMARY KEY);")},
		"README.md":       {Data: []byte("not a migration")},
		"sub/0003_x.sql":  {Data: []byte("CREATE TABLE nested (id INTEGER);")},
		"bad_version.sql": {Data: []byte("CREATE TABLE never (id INTEGER);")},
	}
}

// TestMigrate verifies migration application and idempotency.
func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fsys := testMigrations()
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"kv", "extra"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	pending, err := db.Pending(ctx, fsys)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

// TestMigrate_FailureRollsBack verifies a broken migration leaves no record.
func TestMigrate_FailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	fsys := fstest.MapFS{
		"0001_ok.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"0002_broken.sql": {Data: []byte("CREATE TABLE;")},
	}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}

	pending, err := db.Pending(ctx, fsys)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Errorf("pending = %+v, want only version 2", pending)
	}
}

func TestLoadMigrations_Ordering(t *testing.T) {
	migrations, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("got %d migrations, want 2", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Errorf("versions = %d, %d", migrations[0].Version, migrations[1].Version)
	}
	if migrations[0].Name != "kv" {
		t.Errorf("Name = %q, want %q", migrations[0].Name, "kv")
	}
}

func TestLoadMigrations_Duplicate(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":    {Data: []byte("SELECT 1;")},
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Error("LoadMigrations() expected duplicate version error")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion int
		wantName    string
		wantOk      bool
	}{
		{"0001_blobs.sql", 1, "blobs", true},
		{"0012_add_index.sql", 12, "add_index", true},
		{"readme.txt", 0, "", false},
		{"0001.sql", 0, "", false},
		{"0001_.sql", 0, "", false},
		{"abc_blobs.sql", 0, "", false},
		{"0000_zero.sql", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && (version != tt.wantVersion || name != tt.wantName) {
				t.Errorf("got (%d, %q), want (%d, %q)", version, name, tt.wantVersion, tt.wantName)
			}
		})
	}
}
