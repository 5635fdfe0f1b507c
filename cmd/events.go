package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
	"github.com/xkilldash9x/chatpilot-cli/internal/store"
)

func newEventsCmd() *cobra.Command {
	var (
		file    string
		follow  bool
		newOnly bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the activity events of the latest (or given) monitor session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			path := file
			if path == "" {
				if path, err = store.LatestEventLog(cfg.App.LogDir); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if follow {
				return followEvents(cmd, path, newOnly, out)
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open event log: %w", err)
			}
			defer f.Close()
			events, err := store.DecodeEvents(f)
			for _, ev := range events {
				fmt.Fprintln(out, formatEvent(ev))
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "event log to read (default: newest in the log directory)")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep printing events as they are appended")
	cmd.Flags().BoolVar(&newOnly, "new-only", false, "with --follow, skip events already in the file")
	return cmd
}

func followEvents(cmd *cobra.Command, path string, newOnly bool, out io.Writer) error {
	cfg := tail.Config{Follow: true, ReOpen: true, MustExist: true, Logger: tail.DiscardingLogger}
	if newOnly {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}
	t, err := tail.TailFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to follow event log: %w", err)
	}
	defer t.Cleanup()

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			_ = t.Stop()
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			ev, ok, err := store.DecodeEventLine(line.Text)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipping malformed event: %v\n", err)
				continue
			}
			if ok {
				fmt.Fprintln(out, formatEvent(ev))
			}
		}
	}
}

// formatEvent renders one event as a single human readable line.
func formatEvent(ev schemas.ActivityEvent) string {
	var b strings.Builder
	b.WriteString(ev.Timestamp.Format("2006-01-02 15:04:05"))
	b.WriteString("  ")
	b.WriteString(string(ev.Kind))
	switch ev.Kind {
	case schemas.ActivityBadgeIncrease:
		fmt.Fprintf(&b, "  %d -> %d", ev.BadgeFrom, ev.BadgeTo)
	default:
		fmt.Fprintf(&b, "  %s", ev.SourceIdentity)
	}
	if ev.Replied {
		fmt.Fprintf(&b, "  replied: %s", ev.ReplyText)
	}
	if ev.Note != "" {
		fmt.Fprintf(&b, "  (%s)", ev.Note)
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, "  error: %s", ev.Error)
	}
	return b.String()
}
