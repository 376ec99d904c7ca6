// Command migrate runs the embedded database migrations via goose.
//
// Usage:
//
//	go run ./cmd/migrate up          # Apply all pending migrations
//	go run ./cmd/migrate down        # Roll back the last migration
//	go run ./cmd/migrate status      # Show migration status
//	go run ./cmd/migrate version     # Show current schema version
//	go run ./cmd/migrate redo        # Roll back and re-apply last migration
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/database"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/logging"
)

var commands = map[string]bool{
	"up": true, "down": true, "status": true, "version": true, "redo": true,
	"up-to": true, "down-to": true,
}

func main() {
	if len(os.Args) < 2 || !commands[os.Args[1]] {
		fmt.Println("Usage: migrate <command>")
		fmt.Println("Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
		os.Exit(1)
	}

	_ = godotenv.Load()
	logger := logging.New("info", "text")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := database.Open(ctx, dbURL, logger)
	if err != nil {
		logger.Error("failed to connect to database", "url", database.MaskDSN(dbURL), "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.Goose(); err != nil {
		logger.Error("goose setup failed", "error", err)
		os.Exit(1)
	}

	command := os.Args[1]
	if err := goose.RunContext(ctx, command, db, ".", os.Args[2:]...); err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
}
