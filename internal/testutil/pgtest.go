// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/database"
)

// PostgresImage is the image started when PGTEST_CONTAINER=1.
const PostgresImage = "postgres:16-alpine"

// PGTest opens a test database connection, applies the embedded goose
// migrations, and returns the *sql.DB plus a cleanup function.
//
// Tests should call this at the top:
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// The database comes from POSTGRES_URL, or from a throwaway container when
// PGTEST_CONTAINER=1. With neither set the test is skipped.
// The cleanup function truncates all application tables (not system tables).
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()
	dbURL := os.Getenv("POSTGRES_URL")
	terminate := func() {}

	if dbURL == "" {
		if os.Getenv("PGTEST_CONTAINER") != "1" {
			t.Skip("POSTGRES_URL not set, skipping integration test")
		}
		var err error
		dbURL, terminate, err = startContainer(ctx)
		if err != nil {
			t.Fatalf("pgtest: start container: %v", err)
		}
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		terminate()
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		terminate()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		terminate()
		t.Fatalf("pgtest: run migrations: %v", err)
	}

	cleanup := func() {
		truncateAll(ctx, db)
		_ = db.Close()
		terminate()
	}

	return db, cleanup
}

func startContainer(ctx context.Context) (string, func(), error) {
	ctr, err := postgres.Run(ctx, PostgresImage,
		postgres.WithDatabase("cerberus_test"),
		postgres.WithUsername("cerberus"),
		postgres.WithPassword("cerberus"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return "", func() {}, err
	}
	terminate := func() { _ = testcontainers.TerminateContainer(ctr) }

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		return "", func() {}, err
	}
	return dsn, terminate, nil
}

// truncateAll truncates all application tables to provide a clean slate
// between tests. goose's version table is left alone.
func truncateAll(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		  AND tablename NOT LIKE 'pg_%'
		  AND tablename NOT LIKE 'sql_%'
		  AND tablename <> 'goose_db_version'
	`)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}

	if len(tables) > 0 {
		// Table names come from pg_tables system catalog, not user input.
		stmt := "TRUNCATE " + strings.Join(tables, ", ") + " RESTART IDENTITY CASCADE" // #nosec G202 -- table names from pg_tables
		_, _ = db.ExecContext(ctx, stmt)                                                 // #nosec G104 -- best-effort cleanup in test teardown
	}
}
