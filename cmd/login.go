package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/internal/config"
)

const loginPollInterval = 2 * time.Second

func newLoginCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open the client and wait until the user has logged in",
		Long: `Opens the client (for the browser backend: navigates to the web client in a
persistent profile) and waits until one of the logged_in strategies resolves.
Log in by scanning the QR code; the session is kept in the profile directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				wait := timeout
				if wait <= 0 {
					wait = s.cfg.Browser.LoginTimeout
				}
				if s.cfg.App.Backend == config.BackendBrowser {
					s.logger.Info("Waiting for login; scan the QR code in the browser window.", zap.Duration("timeout", wait))
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), wait)
				defer cancel()
				if err := s.dispatcher.WaitUntilReady(ctx, loginPollInterval); err != nil {
					return fmt.Errorf("login not detected within %s: %w", wait, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "logged in")
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait (default browser.login_timeout)")
	return cmd
}
