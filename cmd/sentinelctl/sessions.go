package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/decoy"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/idgen"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and end decoy sessions",
	}
	cmd.AddCommand(newSessionsActiveCmd(a), newSessionsShowCmd(a), newSessionsTerminateCmd(a))
	return cmd
}

func newSessionsActiveCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "active",
		Short: "List sessions that still accept attacker activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, closeFn, err := a.openDecoys(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			list, err := engine.ListActive(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				out := make([]*decoy.Session, len(list))
				for i, s := range list {
					out[i] = s.Redacted()
				}
				return a.printJSON(out)
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tSOURCE\tATTACKER IP\tEXPIRES\tPAGES\tCAPTURED")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%t\n",
					s.ID, s.Metadata["source"], s.AttackerIP,
					s.ExpiresAt.UTC().Format(time.RFC3339), len(s.VisitedPages), s.Capture != nil)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newSessionsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print one session with the captured password redacted",
		Args:  sessionIDArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := a.openDecoys(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			s, ok, err := engine.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("session %s not found", args[0])
			}
			return a.printJSON(s.Redacted())
		},
	}
}

func newSessionsTerminateCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "terminate <session-id>",
		Short: "End an active session",
		Args:  sessionIDArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := a.openDecoys(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			ok, err := engine.Terminate(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("session %s is not active", args[0])
			}
			fmt.Fprintf(a.out, "terminated %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "operator", "termination reason recorded in metadata")
	return cmd
}

func sessionIDArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	if !idgen.Valid(args[0]) {
		return fmt.Errorf("%q is not a session id", args[0])
	}
	return nil
}
