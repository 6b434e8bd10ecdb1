package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
)

const (
	probeUp   = "CREATE TABLE probe (id INTEGER PRIMARY KEY, label TEXT NOT NULL);"
	probeDown = "DROP TABLE IF EXISTS probe;"
	indexUp   = "CREATE INDEX idx_probe_label ON probe (label);"
)

// useMigrations registers fsys for the duration of a test.
func useMigrations(t *testing.T, fsys fstest.MapFS) {
	t.Helper()
	prev := migrations()
	t.Cleanup(func() { SetMigrations(prev) })
	if fsys == nil {
		SetMigrations(nil)
		return
	}
	SetMigrations(fsys)
}

func probeFS() fstest.MapFS {
	return fstest.MapFS{
		"sqlite/20260301_090000_create_probe.up.sql":   {Data: []byte(probeUp)},
		"sqlite/20260301_090000_create_probe.down.sql": {Data: []byte(probeDown)},
		"sqlite/20260301_090100_probe_index.up.sql":    {Data: []byte(indexUp)},
		"sqlite/README.md":                             {Data: []byte("not a migration")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	if err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'index') AND name = ?", name,
	).Scan(&n); err != nil {
		t.Fatalf("sqlite_master: %v", err)
	}
	return n > 0
}

func versions(applied []AppliedMigration) []string {
	out := make([]string, 0, len(applied))
	for _, a := range applied {
		out = append(out, a.Version)
	}
	return out
}

func TestMigrate(t *testing.T) {
	useMigrations(t, probeFS())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "probe") || !tableExists(t, db, "idx_probe_label") {
		t.Fatal("schema not created")
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	status, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	want := []string{"20260301_090000", "20260301_090100"}
	if diff := cmp.Diff(want, versions(status.Applied)); diff != "" {
		t.Errorf("applied (-want +got):\n%s", diff)
	}
	if len(status.Pending) != 0 {
		t.Errorf("pending = %d, want 0", len(status.Pending))
	}
	if status.Applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}
}

func TestMigrate_FailureStopsAndResumes(t *testing.T) {
	fsys := probeFS()
	fsys["sqlite/20260301_090100_probe_index.up.sql"] = &fstest.MapFile{Data: []byte("CREATE INDEX broken ON missing_table (x);")}
	useMigrations(t, fsys)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() = nil, want error from broken migration")
	}
	status, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if diff := cmp.Diff([]string{"20260301_090000"}, versions(status.Applied)); diff != "" {
		t.Errorf("applied (-want +got):\n%s", diff)
	}

	fsys["sqlite/20260301_090100_probe_index.up.sql"] = &fstest.MapFile{Data: []byte(indexUp)}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() after fix error = %v", err)
	}
	if !tableExists(t, db, "idx_probe_label") {
		t.Error("resumed migration not applied")
	}
}

func TestRollback(t *testing.T) {
	fsys := probeFS()
	delete(fsys, "sqlite/20260301_090100_probe_index.up.sql")
	useMigrations(t, fsys)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() with nothing applied error = %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if tableExists(t, db, "probe") {
		t.Error("probe table still present after rollback")
	}
	status, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(status.Applied) != 0 || len(status.Pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 0 and 1", len(status.Applied), len(status.Pending))
	}
}

func TestRollback_Irreversible(t *testing.T) {
	useMigrations(t, probeFS())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Rollback(ctx); !errors.Is(err, ErrIrreversibleMigration) {
		t.Errorf("Rollback() error = %v, want ErrIrreversibleMigration", err)
	}
}

func TestMigrate_NothingRegistered(t *testing.T) {
	useMigrations(t, nil)
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
}

func TestLoadMigrations(t *testing.T) {
	t.Run("pairs files and sorts by version", func(t *testing.T) {
		useMigrations(t, probeFS())
		got, err := loadMigrations(DialectSQLite)
		if err != nil {
			t.Fatalf("loadMigrations() error = %v", err)
		}
		want := []Migration{
			{Version: "20260301_090000", Name: "create_probe", Up: probeUp, Down: probeDown},
			{Version: "20260301_090100", Name: "probe_index", Up: indexUp},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("migrations (-want +got):\n%s", diff)
		}
	})

	t.Run("other dialect is isolated", func(t *testing.T) {
		useMigrations(t, probeFS())
		got, err := loadMigrations(DialectPostgres)
		if err != nil || len(got) != 0 {
			t.Errorf("loadMigrations(postgres) = %d, %v; want none", len(got), err)
		}
	})

	t.Run("duplicate version", func(t *testing.T) {
		fsys := probeFS()
		fsys["sqlite/20260301_090000_other.up.sql"] = &fstest.MapFile{Data: []byte("SELECT 1;")}
		useMigrations(t, fsys)
		if _, err := loadMigrations(DialectSQLite); !errors.Is(err, ErrDuplicateMigration) {
			t.Errorf("loadMigrations() error = %v, want ErrDuplicateMigration", err)
		}
	})

	t.Run("orphan down file ignored", func(t *testing.T) {
		useMigrations(t, fstest.MapFS{
			"sqlite/20260301_090000_gone.down.sql": {Data: []byte(probeDown)},
		})
		got, err := loadMigrations(DialectSQLite)
		if err != nil || len(got) != 0 {
			t.Errorf("loadMigrations() = %d, %v; want none", len(got), err)
		}
	})
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		file    string
		version string
		desc    string
		up      bool
		ok      bool
	}{
		{"20260301_090000_temp_data.up.sql", "20260301_090000", "temp_data", true, true},
		{"20260301_090100_device_events.down.sql", "20260301_090100", "device_events", false, true},
		{"readme.txt", "", "", false, false},
		{"20260301_090000_temp_data.sql", "", "", false, false},
		{"invalid.up.sql", "", "", false, false},
		{"2026_0900_short.up.sql", "", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, desc, up, ok := parseMigrationFilename(tt.file)
			if version != tt.version || desc != tt.desc || up != tt.up || ok != tt.ok {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v, %v), want (%q, %q, %v, %v)",
					tt.file, version, desc, up, ok, tt.version, tt.desc, tt.up, tt.ok)
			}
		})
	}
}
