package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
	"github.com/xkilldash9x/chatpilot-cli/internal/store"
)

// explain appends remediation text to permission failures.
func explain(step string, err error) error {
	if hint := backend.Remediation(err); hint != "" {
		return fmt.Errorf("%s: %w (%s)", step, err, hint)
	}
	return fmt.Errorf("%s: %w", step, err)
}

func printJSON(w io.Writer, v any) error {
	data, err := store.MarshalReport(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// withSession loads the config, builds a session for the selected backend
// and closes it after fn returns.
func withSession(cmd *cobra.Command, fn func(s *session) error) error {
	cfg, err := getConfig(cmd)
	if err != nil {
		return err
	}
	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Launch or activate the client and take a screenshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				ctx := cmd.Context()
				if err := s.adapter.Launch(ctx); err != nil {
					return explain("open", err)
				}
				if err := s.sleep(ctx, s.cfg.Pacing.Activate); err != nil {
					return err
				}
				s.logger.Info("Client is in the foreground.", zap.String("backend", s.adapter.Name()))
				if path := s.screenshot(ctx, nil, "qq_open"); path != "" {
					fmt.Fprintln(cmd.OutOrStdout(), path)
				}
				return nil
			})
		},
	}
}

type readResult struct {
	ChatWindow string `json:"chat_window,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "Capture the current conversation surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				ctx := cmd.Context()
				if err := s.adapter.EnsureRunning(ctx); err != nil {
					return explain("read", err)
				}
				if err := s.adapter.Foreground(ctx, ""); err != nil {
					return explain("read", err)
				}
				if err := s.sleep(ctx, s.cfg.Pacing.Settle); err != nil {
					return err
				}
				surfaces, err := s.adapter.ListTopLevelSurfaces(ctx)
				if err != nil {
					return explain("read", err)
				}

				var (
					res    readResult
					region *schemas.Region
				)
				for _, w := range surfaces {
					if !s.dispatcher.IsReserved(w.Identity) {
						r := w.Region()
						res.ChatWindow, region = w.Identity, &r
						break
					}
				}
				if region == nil {
					s.logger.Warn("No conversation surface open; capturing the whole client.")
				}
				res.Screenshot = s.screenshot(ctx, region, "chat_read")
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Switch to the conversation list and take a screenshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				ctx := cmd.Context()
				if err := s.dispatcher.ShowConversationList(ctx); err != nil {
					return err
				}
				if path := s.screenshot(ctx, nil, "chat_list"); path != "" {
					fmt.Fprintln(cmd.OutOrStdout(), path)
				}
				return nil
			})
		},
	}
}

func newSearchCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search for a contact or group and open the conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				handle, err := s.dispatcher.OpenConversation(cmd.Context(), name)
				if err != nil {
					if perr := printJSON(cmd.OutOrStdout(), schemas.SearchReport{Name: name, Error: err.Error()}); perr != nil {
						s.logger.Warn("Failed to print report.", zap.Error(perr))
					}
					return err
				}
				return printJSON(cmd.OutOrStdout(), handle.Report(name))
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "contact or group name to search for")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newReplyCmd() *cobra.Command {
	var (
		message string
		target  string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "reply",
		Short: "Type a message into the open conversation and send it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				report, sendErr := s.dispatcher.SendText(cmd.Context(), target, message, dryRun)
				if report == nil {
					report = &schemas.SendReport{Message: message, DryRun: dryRun, Error: sendErr.Error()}
				}
				path, err := store.WriteReport(s.cfg.App.LogDir, "reply", report, time.Now())
				if err != nil {
					s.logger.Warn("Failed to write reply report.", zap.Error(err))
				} else {
					s.logger.Info("Reply report written.", zap.String("path", path))
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				return sendErr
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message text")
	cmd.Flags().StringVarP(&target, "target", "t", "", "exact title of the conversation surface (default: first open conversation)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "type the message without sending it")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}
