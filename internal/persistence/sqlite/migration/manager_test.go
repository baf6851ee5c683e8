package migration

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestScan(t *testing.T) {
	t.Parallel()

	t.Run("orders by version", func(t *testing.T) {
		t.Parallel()
		source := fstest.MapFS{
			"010_indexes.sql":  {Data: []byte("CREATE INDEX idx_a ON a(name);")},
			"002_create_a.sql": {Data: []byte("-- table a\nCREATE TABLE a (name TEXT);")},
			"README.md":        {Data: []byte("ignored")},
		}
		migrations, err := Scan(source)
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		if len(migrations) != 2 || migrations[0].Version != 2 || migrations[1].Version != 10 {
			t.Fatalf("unexpected migrations %+v", migrations)
		}
		if migrations[0].Description != "create_a" || migrations[0].Checksum == "" {
			t.Fatalf("metadata missing: %+v", migrations[0])
		}
	})

	cases := []struct {
		name   string
		source fstest.MapFS
		want   error
	}{
		{
			name:   "bad name",
			source: fstest.MapFS{"create.sql": {Data: []byte("SELECT 1;")}},
			want:   ErrInvalidMigrationFile,
		},
		{
			name: "duplicate version",
			source: fstest.MapFS{
				"001_a.sql":  {Data: []byte("SELECT 1;")},
				"0001_b.sql": {Data: []byte("SELECT 2;")},
			},
			want: ErrDuplicateVersion,
		},
		{
			name:   "comments only",
			source: fstest.MapFS{"001_empty.sql": {Data: []byte("-- nothing\n;")}},
			want:   ErrInvalidMigrationFile,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Scan(tc.source); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	got := SplitStatements("-- header\nCREATE TABLE a (x INTEGER);\n\n  -- note\nINSERT INTO a VALUES (1);\n")
	if len(got) != 2 || got[0] != "CREATE TABLE a (x INTEGER)" || got[1] != "INSERT INTO a VALUES (1)" {
		t.Fatalf("unexpected statements %q", got)
	}
}

func TestDialectRebind(t *testing.T) {
	t.Parallel()

	query := "INSERT INTO t (a, b) VALUES (?, ?)"
	if got := DialectSQLite.Rebind(query); got != query {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
	if got := DialectPostgres.Rebind(query); got != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Fatalf("postgres rebind = %q", got)
	}
}

func TestManagerRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db := openTestDB(t)
	source := fstest.MapFS{
		"001_create_items.sql": {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")},
		"002_seed_items.sql":   {Data: []byte("INSERT INTO items (name) VALUES ('a');\nINSERT INTO items (name) VALUES ('b');")},
	}
	manager := NewManager(source, NewExecutor(db, DialectSQLite), nil)

	if err := manager.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := manager.Run(ctx); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		t.Fatalf("count items: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected seed to run once, got %d rows", count)
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.CurrentVersion != 2 || len(status.Pending) != 0 || len(status.Applied) != 2 {
		t.Fatalf("unexpected status %+v", status)
	}

	source["002_seed_items.sql"] = &fstest.MapFile{Data: []byte("INSERT INTO items (name) VALUES ('c');")}
	if _, err := manager.Status(ctx); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestManagerRunRollsBackFailedMigration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db := openTestDB(t)
	source := fstest.MapFS{
		"001_create.sql": {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY);")},
		"002_broken.sql": {Data: []byte("INSERT INTO items (id) VALUES (1);\nINSERT INTO missing (id) VALUES (1);")},
	}
	manager := NewManager(source, NewExecutor(db, DialectSQLite), nil)

	err := manager.Run(ctx)
	var migErr *MigrationError
	if !errors.As(err, &migErr) || migErr.Version != 2 || !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("expected failure in migration 2, got %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		t.Fatalf("count items: %v", err)
	}
	if count != 0 {
		t.Fatalf("partial migration committed %d rows", count)
	}
	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.CurrentVersion != 1 || len(status.Pending) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
}
