package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/risk"
)

func newScoreCmd(a *app) *cobra.Command {
	var (
		req          risk.Request
		profilesPath string
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a login attempt without acting on it",
		Long: `Score runs the biometric and context rules against one attempt and prints
the assessment. Paste flags left unset are inferred from typing speed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profiles := risk.StaticProfiles{}
			if profilesPath != "" {
				p, err := risk.LoadProfiles(profilesPath)
				if err != nil {
					return err
				}
				profiles = p
			}

			flags := cmd.Flags()
			if flags.Changed("username-pasted") {
				v, _ := flags.GetBool("username-pasted")
				req.Biometric.UsernamePasted = &v
			}
			if flags.Changed("password-pasted") {
				v, _ := flags.GetBool("password-pasted")
				req.Biometric.PasswordPasted = &v
			}
			if req.LoginTime == "" {
				req.LoginTime = time.Now().UTC().Format(time.RFC3339)
			}

			assessment, err := risk.NewEngine(profiles).WithLogger(a.logger).Evaluate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.printJSON(assessment)
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Username, "user", "", "username the attempt targets")
	f.StringVar(&req.ClientIP, "ip", "", "client IP address")
	f.StringVar(&req.LoginTime, "time", "", "login time, RFC 3339 (default now)")
	f.StringVar(&profilesPath, "profiles", "", "YAML profile directory")
	f.IntVar(&req.Biometric.UsernameDurationMS, "username-duration", 0, "ms spent entering the username")
	f.IntVar(&req.Biometric.UsernameLength, "username-len", 0, "username length in characters")
	f.IntVar(&req.Biometric.PasswordDurationMS, "password-duration", 0, "ms spent entering the password")
	f.IntVar(&req.Biometric.PasswordLength, "password-len", 0, "password length in characters")
	f.Bool("username-pasted", false, "client reported a pasted username")
	f.Bool("password-pasted", false, "client reported a pasted password")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
