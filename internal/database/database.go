// Package database owns the shared PostgreSQL handle: opening the pool,
// applying migrations and classifying driver errors for the stores.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/retry"
	"github.com/Ramsey-Javan/cerberus-defense-suite/migrations"
)

// Pool settings shared by the server and the CLI.
const (
	MaxOpenConns    = 25
	MaxIdleConns    = 5
	ConnMaxLifetime = 5 * time.Minute
)

// Open opens a PostgreSQL pool and waits for it to answer a ping, backing off
// with retry.Startup while the database comes up.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	db.SetMaxOpenConns(MaxOpenConns)
	db.SetMaxIdleConns(MaxIdleConns)
	db.SetConnMaxLifetime(ConnMaxLifetime)

	policy := retry.Startup
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("database not ready, retrying",
			"attempt", attempt, "wait", wait, "url", MaskDSN(dsn), "error", err)
	}

	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping: %w", Classify(err))
	}

	return db, nil
}

// Migrate applies every pending embedded migration.
func Migrate(ctx context.Context, db *sql.DB) error {
	if err := Goose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}
	return nil
}

// Goose points goose at the embedded migrations. Callers that run goose
// commands directly (cmd/migrate) call this first and use "." as the dir.
func Goose() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("database: goose dialect: %w", err)
	}
	return nil
}

// MaskDSN hides the password in a connection string for logging.
func MaskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
