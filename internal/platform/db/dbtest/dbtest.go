// Package dbtest gives repository tests a migrated, isolated Postgres schema.
// Tests are skipped when no DATABASE_URL is configured.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/healthsync/healthsync/internal/platform/db"
)

// MigrationsDir locates the repository's migrations directory.
func MigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	// internal/platform/db/dbtest -> repo root
	return filepath.Join(filepath.Dir(filename), "..", "..", "..", "..", "migrations")
}

// Pool returns a pool whose connections use a fresh schema with all
// migrations applied. The schema is dropped when the test ends.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load(filepath.Join(MigrationsDir(), "..", ".env"))
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	schema := "test_" + uuid.New().String()[:8]

	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer admin.Close()

	if _, err := db.NewMigrator(admin, MigrationsDir()).Up(ctx, schema); err != nil {
		t.Fatalf("migrate %s: %v", schema, err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect to %s: %v", schema, err)
	}

	t.Cleanup(func() {
		pool.Close()
		cleanup, err := pgxpool.New(context.Background(), dsn)
		if err != nil {
			t.Logf("warning: drop schema %s: %v", schema, err)
			return
		}
		defer cleanup.Close()
		drop := fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pgx.Identifier{schema}.Sanitize())
		if _, err := cleanup.Exec(context.Background(), drop); err != nil {
			t.Logf("warning: drop schema %s: %v", schema, err)
		}
	})
	return pool
}
