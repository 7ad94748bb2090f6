package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestUpSQLCoversRequiredTables(t *testing.T) {
	sql, err := UpSQL()
	if err != nil {
		t.Fatalf("UpSQL err: %v", err)
	}
	for _, table := range RequiredTables {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Fatalf("expected DDL for table %s", table)
		}
	}
	if !strings.HasPrefix(sql, "-- 0001_init.up.sql") {
		t.Fatalf("expected migration header, got %q", sql[:30])
	}
}

func TestDriverURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/app?sslmode=disable": "pgx5://u:p@db:5432/app?sslmode=disable",
		"postgresql://db/app":                        "pgx5://db/app",
		"pgx5://db/app":                              "pgx5://db/app",
	}
	for in, want := range cases {
		got, err := DriverURL(in)
		if err != nil {
			t.Fatalf("DriverURL(%q) err: %v", in, err)
		}
		if got != want {
			t.Fatalf("DriverURL(%q) = %q, want %q", in, got, want)
		}
	}

	_, err := DriverURL("mysql://root:secret@db/app")
	if err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("credentials leaked in error: %v", err)
	}
}

func TestDownFilesMatchUpFiles(t *testing.T) {
	ups, _ := fs.Glob(FS, "*.up.sql")
	downs, _ := fs.Glob(FS, "*.down.sql")
	if len(ups) == 0 || len(ups) != len(downs) {
		t.Fatalf("expected paired migrations, got %d up and %d down", len(ups), len(downs))
	}
}
