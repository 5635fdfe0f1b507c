package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/internal/config"
	"github.com/xkilldash9x/chatpilot-cli/internal/detector"
	"github.com/xkilldash9x/chatpilot-cli/internal/monitor"
	"github.com/xkilldash9x/chatpilot-cli/internal/store"
)

// monitorOptions lets tests replace the loop's waits.
var monitorOptions []monitor.Option

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch for new conversations and optionally auto-reply",
		Long: `Polls the client for new conversation surfaces and unread badge changes.
Every detected event is appended to an events_*.jsonl file in the log
directory. With --reply, each new source gets one reply after a jittered delay.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				return runMonitor(cmd, s)
			})
		},
	}

	f := cmd.Flags()
	f.StringP("target", "t", "", "only react to surfaces whose title contains this text")
	f.StringP("reply", "r", "", "auto-reply text (events are only recorded when empty)")
	f.Duration("delay", 0, "base delay before replying (default 15s)")
	f.Duration("jitter", 0, "random jitter added to the delay, +/- (default 5s)")
	f.Duration("poll", 0, "poll interval (default 5s)")
	f.Int("max-replies", 0, "stop after this many sent replies (0 = unlimited)")
	f.Bool("dry-run", false, "type replies without sending them")
	f.Bool("reply-on-badge", false, "treat a badge increase as activity of the first open conversation")

	for flag, key := range map[string]string{
		"target":         "monitor.target",
		"reply":          "monitor.auto_reply",
		"delay":          "monitor.delay",
		"jitter":         "monitor.jitter",
		"poll":           "monitor.poll_interval",
		"max-replies":    "monitor.max_replies",
		"dry-run":        "monitor.dry_run",
		"reply-on-badge": "monitor.reply_on_badge",
	} {
		bindFlag(f, flag, key)
	}
	return cmd
}

func runMonitor(cmd *cobra.Command, s *session) error {
	ctx := cmd.Context()
	sessionID := uuid.NewString()

	sink, err := openEventSinks(ctx, s.cfg, sessionID, s.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			s.logger.Warn("Failed to close event sink.", zap.Error(err))
		}
	}()

	det := detector.New(s.adapter, s.cfg.ReservedSurfaces(), s.logger)
	opts := append([]monitor.Option{monitor.WithSessionID(sessionID)}, monitorOptions...)
	mon := monitor.New(s.adapter, det, s.dispatcher, sink, s.cfg.Monitor, s.logger, opts...)

	summary, runErr := mon.Run(ctx)
	if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
		s.logger.Warn("Failed to print summary.", zap.Error(err))
	}
	return runErr
}

// openEventSinks opens the session's JSONL log and, when database.url is
// set, the Postgres mirror. A database that cannot be reached is logged and
// skipped so that monitoring still runs.
func openEventSinks(ctx context.Context, cfg *config.Config, sessionID string, logger *zap.Logger) (store.EventSink, error) {
	path := filepath.Join(cfg.App.LogDir, store.EventFileName(sessionID, time.Now()))
	jsonl, err := store.OpenJSONL(path)
	if err != nil {
		return nil, err
	}
	logger.Info("Recording events.", zap.String("path", path))

	if cfg.Database.URL == "" {
		return jsonl, nil
	}
	pg, err := openPostgres(ctx, cfg.Database.URL, logger)
	if err != nil {
		logger.Warn("Event database unavailable; recording to file only.", zap.Error(err))
		return jsonl, nil
	}
	return store.MultiSink{jsonl, pg}, nil
}

// pooledStore closes its pool together with the store.
type pooledStore struct {
	*store.Store
	pool *pgxpool.Pool
}

func (p pooledStore) Close() error {
	p.pool.Close()
	return nil
}

func openPostgres(ctx context.Context, url string, logger *zap.Logger) (store.EventSink, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pooledStore{Store: st, pool: pool}, nil
}
