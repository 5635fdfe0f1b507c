// Package monitor runs the long-lived detect, filter, delay, reply loop.
package monitor

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
	"github.com/xkilldash9x/chatpilot-cli/internal/config"
	"github.com/xkilldash9x/chatpilot-cli/internal/detector"
	"github.com/xkilldash9x/chatpilot-cli/internal/store"
)

// NoteWindowClosed is recorded when a source vanished before its reply.
const NoteWindowClosed = "window closed"

const noteDryRun = "dry_run"

// NoteFromBadge marks a reply candidate that came from a badge increase
// rather than a new surface.
const NoteFromBadge = "attributed_from_badge"

// minDelay is the floor applied to a jittered reply delay.
const minDelay = time.Second

// Backend is what the loop needs from the adapter directly.
type Backend interface {
	detector.Source
	EnsureRunning(ctx context.Context) error
}

// Replier sends a reply into a conversation surface.
type Replier interface {
	SendText(ctx context.Context, target, text string, dryRun bool) (*schemas.SendReport, error)
}

// Summary is logged and returned when the loop ends.
type Summary struct {
	SessionID string        `json:"session_id"`
	Started   time.Time     `json:"started"`
	Elapsed   time.Duration `json:"elapsed"`
	Cycles    int           `json:"cycles"`
	Events    int           `json:"events"`
	// Replies counts messages actually sent. Dry runs are in Typed.
	Replies int `json:"replies"`
	Typed   int `json:"typed"`
	Failed  int `json:"failed"`
	// BudgetReached is true when the loop stopped on max_replies.
	BudgetReached bool `json:"budget_reached"`
}

// Monitor owns the loop state. It is not safe for concurrent Run calls.
type Monitor struct {
	backend  Backend
	detector *detector.Detector
	replier  Replier
	sink     store.EventSink
	cfg      config.MonitorConfig
	logger   *zap.Logger

	sessionID string
	sleep     func(context.Context, time.Duration) error
	random    func() float64
	now       func() time.Time

	// replied holds sources already answered (or attempted) this session.
	replied    map[string]struct{}
	replyCount int
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithSleep replaces the blocking wait used for polling and reply delays.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(m *Monitor) { m.sleep = fn }
}

// WithRandom replaces the uniform [0,1) source used for jitter.
func WithRandom(fn func() float64) Option {
	return func(m *Monitor) { m.random = fn }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(m *Monitor) { m.now = fn }
}

// WithSessionID fixes the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(m *Monitor) { m.sessionID = id }
}

// New creates a Monitor. sink may be nil, in which case events are only logged.
func New(b Backend, det *detector.Detector, replier Replier, sink store.EventSink, cfg config.MonitorConfig, logger *zap.Logger, opts ...Option) *Monitor {
	if sink == nil {
		sink = store.Discard{}
	}
	m := &Monitor{
		backend:   b,
		detector:  det,
		replier:   replier,
		sink:      sink,
		cfg:       cfg,
		logger:    logger.Named("monitor"),
		sessionID: uuid.NewString(),
		sleep:     backend.Sleep,
		random:    rand.Float64,
		now:       time.Now,
		replied:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SessionID identifies this run in events and file names.
func (m *Monitor) SessionID() string { return m.sessionID }

// ComputeDelay returns max(1s, base + (2u-1)*jitter) for u in [0,1).
func ComputeDelay(base, jitter time.Duration, u float64) time.Duration {
	d := base + time.Duration((2*u-1)*float64(jitter))
	if d < minDelay {
		return minDelay
	}
	return d
}

// Run polls until ctx is cancelled or the reply budget is spent. Cancellation
// is a clean stop and returns a nil error. The summary is logged either way.
func (m *Monitor) Run(ctx context.Context) (Summary, error) {
	sum := Summary{SessionID: m.sessionID, Started: m.now()}
	defer func() {
		sum.Elapsed = m.now().Sub(sum.Started)
		m.logger.Info("Monitoring stopped.",
			zap.String("session", sum.SessionID),
			zap.Int("replies", sum.Replies),
			zap.Int("typed", sum.Typed),
			zap.Int("failed", sum.Failed),
			zap.Int("events", sum.Events),
			zap.Int("cycles", sum.Cycles),
			zap.Duration("elapsed", sum.Elapsed),
		)
	}()

	m.logger.Info("Monitoring started.",
		zap.String("session", m.sessionID),
		zap.String("target", targetLabel(m.cfg.Target)),
		zap.Bool("auto_reply", m.cfg.AutoReply != ""),
		zap.Duration("delay", m.cfg.Delay),
		zap.Duration("jitter", m.cfg.Jitter),
		zap.Duration("poll_interval", m.cfg.PollInterval),
		zap.Int("max_replies", m.cfg.MaxReplies),
		zap.Bool("dry_run", m.cfg.DryRun),
	)

	state, err := m.baseline(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return sum, nil
		}
		return sum, err
	}

	for {
		if ctx.Err() != nil {
			return sum, nil
		}
		if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
			return sum, nil
		}
		sum.Cycles++

		if err := m.backend.EnsureRunning(ctx); err != nil {
			if ctx.Err() != nil {
				return sum, nil
			}
			m.logger.Warn("Target application not running; waiting.", zap.Error(err))
			continue
		}

		obs, err := m.detector.Poll(ctx, state)
		if err != nil {
			if ctx.Err() != nil {
				return sum, nil
			}
			m.logger.Warn("Poll failed; will retry next cycle.", zap.Error(err))
			continue
		}

		done := m.process(ctx, obs, &sum)
		state.Advance(obs)
		if done {
			sum.BudgetReached = true
			m.logger.Info("Reply budget reached; stopping.", zap.Int("max_replies", m.cfg.MaxReplies))
			return sum, nil
		}
	}
}

// baseline seeds the detector state, waiting while the app is not running.
func (m *Monitor) baseline(ctx context.Context) (*detector.State, error) {
	for {
		st, err := m.detector.Baseline(ctx)
		if err == nil {
			m.logger.Debug("Baseline recorded.", zap.Int("known", len(st.Known)), zap.Int("badge", st.LastBadge))
			return st, nil
		}
		if !errors.Is(err, backend.ErrBackendUnavailable) {
			return nil, err
		}
		m.logger.Warn("Target application not running; waiting before baseline.", zap.Error(err))
		if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
			return nil, err
		}
	}
}

// process handles one observation and reports whether the reply budget is spent.
func (m *Monitor) process(ctx context.Context, obs detector.Observation, sum *Summary) bool {
	if !obs.HasActivity() {
		return false
	}

	candidates := obs.NewSurfaces
	fromBadge := false
	if obs.BadgeIncrease {
		m.logger.Info("Unread badge increased.", zap.Int("from", obs.PrevBadge), zap.Int("to", obs.Badge))
		m.record(ctx, schemas.ActivityEvent{
			Timestamp: obs.At,
			Kind:      schemas.ActivityBadgeIncrease,
			BadgeFrom: obs.PrevBadge,
			BadgeTo:   obs.Badge,
		}, sum)
		if len(candidates) == 0 && m.cfg.ReplyOnBadge {
			if w, ok := m.firstConversation(obs.Current); ok {
				m.logger.Debug("Attributing badge increase to surface.", zap.String("surface", w.Identity))
				candidates = []schemas.WindowDescriptor{w}
				fromBadge = true
			}
		}
	}

	for _, w := range candidates {
		if ctx.Err() != nil {
			return false
		}
		source := w.Identity
		if m.cfg.Target != "" && !strings.Contains(source, m.cfg.Target) {
			m.logger.Info("Ignoring non-target surface.", zap.String("surface", source))
			continue
		}
		if _, done := m.replied[source]; done {
			m.logger.Info("Already replied; skipping.", zap.String("surface", source))
			continue
		}

		m.logger.Info("New message detected.", zap.String("surface", source))
		ev := schemas.ActivityEvent{Timestamp: obs.At, SourceIdentity: source, Kind: schemas.ActivityNewWindow}
		if fromBadge {
			ev.Note = NoteFromBadge
		}
		if m.cfg.AutoReply != "" {
			if !m.reply(ctx, source, &ev, sum) {
				// Cancelled during the delay: nothing was sent, nothing is recorded.
				return false
			}
		}
		m.record(ctx, ev, sum)

		if m.cfg.MaxReplies > 0 && m.replyCount >= m.cfg.MaxReplies {
			return true
		}
	}
	return false
}

// reply waits the jittered delay, re-checks the source and sends. It
// returns false only when ctx ended during the delay.
func (m *Monitor) reply(ctx context.Context, source string, ev *schemas.ActivityEvent, sum *Summary) bool {
	delay := ComputeDelay(m.cfg.Delay, m.cfg.Jitter, m.random())
	m.logger.Info("Waiting before reply.", zap.String("surface", source), zap.Duration("delay", delay))
	if err := m.sleep(ctx, delay); err != nil {
		return false
	}

	if !m.stillOpen(ctx, source) {
		m.logger.Warn("Surface closed before reply; skipping.", zap.String("surface", source))
		ev.Error = NoteWindowClosed
		sum.Failed++
		return true
	}

	m.replied[source] = struct{}{}
	report, err := m.replier.SendText(ctx, source, m.cfg.AutoReply, m.cfg.DryRun)
	switch {
	case err != nil:
		sum.Failed++
		if report != nil && report.Error != "" {
			ev.Error = report.Error
		} else {
			ev.Error = err.Error()
		}
		m.logger.Warn("Reply failed.", zap.String("surface", source), zap.Error(err))
	case report.Sent():
		m.replyCount++
		sum.Replies++
		ev.Replied = true
		ev.ReplyText = m.cfg.AutoReply
		m.logger.Info("Replied.", zap.String("surface", source), zap.Int("count", m.replyCount))
	default:
		sum.Typed++
		ev.Note = addNote(ev.Note, noteDryRun)
		m.logger.Info("[DRY RUN] Reply typed but not sent.", zap.String("surface", source))
	}
	return true
}

func addNote(note, more string) string {
	if note == "" {
		return more
	}
	return note + "; " + more
}

func (m *Monitor) stillOpen(ctx context.Context, source string) bool {
	current, err := m.backend.ListTopLevelSurfaces(ctx)
	if err != nil {
		m.logger.Warn("Could not re-list surfaces before reply.", zap.Error(err))
		return false
	}
	for _, w := range current {
		if w.Identity == source {
			return true
		}
	}
	return false
}

func (m *Monitor) firstConversation(current []schemas.WindowDescriptor) (schemas.WindowDescriptor, bool) {
	for _, w := range current {
		if !m.detector.IsReserved(w.Identity) {
			return w, true
		}
	}
	return schemas.WindowDescriptor{}, false
}

func (m *Monitor) record(ctx context.Context, ev schemas.ActivityEvent, sum *Summary) {
	ev.SessionID = m.sessionID
	sum.Events++
	// Recording must survive a cancelled loop context.
	if err := m.sink.Append(context.WithoutCancel(ctx), ev); err != nil {
		m.logger.Error("Failed to record event.", zap.String("surface", ev.SourceIdentity), zap.Error(err))
	}
}

func targetLabel(target string) string {
	if target == "" {
		return "all"
	}
	return target
}
