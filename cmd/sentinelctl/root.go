package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/database"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/decoy"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/logging"
)

var errNoDatabase = errors.New("DATABASE_URL (or --database-url) is required")

// app carries what the commands share. openDecoys is swapped out in tests.
type app struct {
	out         io.Writer
	databaseURL string
	logLevel    string
	logger      *slog.Logger
	openDecoys  func(ctx context.Context) (*decoy.Engine, func(), error)
}

func newApp(out io.Writer) *app {
	a := &app{out: out}
	a.openDecoys = a.postgresDecoys
	return a
}

func (a *app) postgresDecoys(ctx context.Context) (*decoy.Engine, func(), error) {
	if a.databaseURL == "" {
		return nil, nil, errNoDatabase
	}
	db, err := database.Open(ctx, a.databaseURL, a.logger)
	if err != nil {
		return nil, nil, err
	}
	engine := decoy.NewEngine(decoy.NewPostgresStore(db)).WithLogger(a.logger)
	return engine, func() { _ = db.Close() }, nil
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sentinelctl",
		Short: "Operate the Cerberus credential sentinel",
		Long: `sentinelctl scores login attempts offline and inspects decoy sessions.

Examples:
  sentinelctl score --user alice --ip 9.9.9.9 --time 2026-03-14T03:15:00Z --password-pasted
  sentinelctl sessions active
  sentinelctl sessions show 3f6c1f4e-1d2b-4c55-9a7e-2b1f0a9c8d7e
  sentinelctl sessions terminate 3f6c1f4e-1d2b-4c55-9a7e-2b1f0a9c8d7e --reason analyst
  sentinelctl watermark 3f6c1f4e-1d2b-4c55-9a7e-2b1f0a9c8d7e --template "CONFIDENTIAL {{session_id}}"`,
		Version:       Version + " (" + Commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := logging.ParseLevel(a.logLevel); !ok {
				return fmt.Errorf("unknown log level %q", a.logLevel)
			}
			a.logger = logging.NewWithWriter(cmd.ErrOrStderr(), a.logLevel, "text")
			return nil
		},
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.SetOut(a.out)

	root.PersistentFlags().StringVar(&a.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "debug, info, warn or error")

	root.AddGroup(&cobra.Group{ID: "risk", Title: "Risk Commands:"})
	root.AddGroup(&cobra.Group{ID: "decoy", Title: "Decoy Commands:"})

	score := newScoreCmd(a)
	score.GroupID = "risk"
	sessions := newSessionsCmd(a)
	sessions.GroupID = "decoy"
	watermark := newWatermarkCmd(a)
	watermark.GroupID = "decoy"

	root.AddCommand(score, sessions, watermark)
	return root
}
