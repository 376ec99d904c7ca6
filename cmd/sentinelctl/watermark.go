package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/decoy"
)

func newWatermarkCmd(a *app) *cobra.Command {
	var doc decoy.Document
	cmd := &cobra.Command{
		Use:   "watermark <session-id>",
		Short: "Render the watermark a decoy document carries for a session",
		Long: `Watermark renders a template for a stored session. Placeholders:
{{session_id}}, {{attacker_ip}}, {{username}} and {{timestamp}}.`,
		Args: sessionIDArg,
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
			fmt.Fprintln(a.out, engine.Watermark(s, doc))
			return nil
		},
	}
	cmd.Flags().StringVar(&doc.WatermarkTemplate, "template", decoy.DefaultWatermarkTemplate, "watermark template")
	return cmd
}
