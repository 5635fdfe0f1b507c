// Package dispatcher performs the multi-step UI procedures (open a
// conversation, send a message) on top of a backend adapter and the
// resilient locator.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
	"github.com/xkilldash9x/chatpilot-cli/internal/capture"
	"github.com/xkilldash9x/chatpilot-cli/internal/config"
	"github.com/xkilldash9x/chatpilot-cli/internal/locator"
)

// Options configures a Dispatcher.
type Options struct {
	Chains          backend.Chains
	StrategyTimeout time.Duration
	Pacing          config.PacingConfig
	// Reserved identities are never picked as a conversation target.
	Reserved         []string
	CaptureOnActions bool
	CaptureTimeout   time.Duration
	// SingleSurface is set for backends that show one conversation at a
	// time. An empty send target then means the conversation already open,
	// never the first listed one.
	SingleSurface bool
}

// OptionsFromConfig builds Options for the configured backend.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	chains, err := backend.ChainsFromConfig(cfg.ActiveStrategies())
	if err != nil {
		return Options{}, fmt.Errorf("invalid %s strategies: %w", cfg.App.Backend, err)
	}
	return Options{
		Chains:           chains,
		StrategyTimeout:  cfg.Locator.StrategyTimeout,
		Pacing:           cfg.Pacing,
		Reserved:         cfg.ReservedSurfaces(),
		CaptureOnActions: cfg.Capture.OnActions,
		CaptureTimeout:   cfg.Capture.Timeout,
		SingleSurface:    cfg.App.Backend == config.BackendBrowser,
	}, nil
}

// Dispatcher sequences adapter calls. It holds no UI state between calls.
type Dispatcher struct {
	adapter  backend.Adapter
	locator  *locator.Locator
	capture  capture.Service
	opts     Options
	reserved map[string]struct{}
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithSleep replaces the pacing sleep, for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = fn }
}

// New creates a Dispatcher. capSvc may be nil.
func New(adapter backend.Adapter, capSvc capture.Service, opts Options, logger *zap.Logger, options ...Option) *Dispatcher {
	reserved := make(map[string]struct{}, len(opts.Reserved))
	for _, r := range opts.Reserved {
		reserved[r] = struct{}{}
	}
	logger = logger.Named("dispatcher")
	d := &Dispatcher{
		adapter:  adapter,
		locator:  locator.New(adapter, opts.StrategyTimeout, logger),
		capture:  capSvc,
		opts:     opts,
		reserved: reserved,
		logger:   logger,
		sleep:    backend.Sleep,
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// ConversationHandle is the outcome of OpenConversation.
type ConversationHandle struct {
	// Identity of the surface believed to show the conversation, if any.
	Identity string
	// Confirmed is false when no matching surface could be seen afterwards.
	Confirmed bool
	Note      string
}

// Report renders the handle as a search report.
func (h *ConversationHandle) Report(query string) schemas.SearchReport {
	return schemas.SearchReport{Success: true, Name: query, ChatWindow: h.Identity, Note: h.Note}
}

// IsReserved reports whether identity is a structural surface.
func (d *Dispatcher) IsReserved(identity string) bool {
	_, ok := d.reserved[identity]
	return ok
}

func (d *Dispatcher) settle(ctx context.Context, dur time.Duration) error {
	return d.sleep(ctx, dur)
}

func (d *Dispatcher) snapshot(ctx context.Context, region *schemas.Region, name string) {
	if !d.opts.CaptureOnActions {
		return
	}
	if img, ok := capture.Opportunistic(ctx, d.capture, d.opts.CaptureTimeout, region, name, d.logger); ok {
		d.logger.Debug("Captured screenshot.", zap.String("path", img.Path))
	}
}

// fail classifies err and escalates permission problems loudly.
func (d *Dispatcher) fail(step string, err error) *ActionError {
	ae := classify(step, err)
	if errors.Is(err, backend.ErrPermissionDenied) {
		d.logger.Error("Automation permission denied.", zap.String("step", step), zap.String("remediation", ae.Hint()), zap.Error(err))
	}
	return ae
}

// step runs one mutating action followed by a settle delay.
func (d *Dispatcher) step(ctx context.Context, name string, pause time.Duration, fn func() error) error {
	if err := fn(); err != nil {
		return d.fail(name, err)
	}
	if err := d.settle(ctx, pause); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) activate(ctx context.Context) error {
	if err := d.adapter.EnsureRunning(ctx); err != nil {
		return d.fail("ensure running", err)
	}
	return d.step(ctx, "activate", d.opts.Pacing.Activate, func() error {
		return d.adapter.Foreground(ctx, "")
	})
}

// OpenConversation searches for query and opens the first result. It
// succeeds once the input was dispatched even if no conversation surface
// can be confirmed afterwards; the handle's Note says so.
func (d *Dispatcher) OpenConversation(ctx context.Context, query string) (*ConversationHandle, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("search query must not be empty")
	}
	if err := d.activate(ctx); err != nil {
		return nil, err
	}

	vars := map[string]string{backend.VarQuery: query}
	search, err := d.locator.Resolve(ctx, backend.BindAll(d.opts.Chains.Search, vars))
	if err != nil {
		return nil, d.fail("locate search box", err)
	}
	d.snapshot(ctx, nil, "before_search")

	pace := d.opts.Pacing
	if err := d.step(ctx, "click search box", pace.Settle, func() error { return d.adapter.Click(ctx, search) }); err != nil {
		return nil, err
	}
	if err := d.step(ctx, "clear search box", pace.Settle, func() error { return d.adapter.Clear(ctx, search) }); err != nil {
		return nil, err
	}
	d.logger.Info("Searching for conversation.", zap.String("query", query))
	if err := d.step(ctx, "type query", pace.SearchSettle, func() error { return d.adapter.TypeText(ctx, search, query) }); err != nil {
		return nil, err
	}

	if err := d.pickFirstResult(ctx, vars); err != nil {
		return nil, err
	}

	handle := &ConversationHandle{}
	surfaces, err := d.adapter.ListTopLevelSurfaces(ctx)
	if err != nil {
		d.logger.Warn("Could not list surfaces after search.", zap.Error(err))
	}
	if w, ok := d.pickOpened(surfaces, query); ok {
		handle.Identity, handle.Confirmed = w.Identity, true
		d.logger.Info("Conversation opened.", zap.String("surface", w.Identity), zap.Int("width", w.Width), zap.Int("height", w.Height))
	} else {
		handle.Note = "search dispatched but no conversation surface was detected"
		d.logger.Warn("No conversation surface detected after search; it may not have opened.", zap.String("query", query))
	}
	d.snapshot(ctx, nil, "after_search")
	return handle, nil
}

// pickFirstResult clicks the first result strategy that resolves, or
// confirms the search with Return when none does.
func (d *Dispatcher) pickFirstResult(ctx context.Context, vars map[string]string) error {
	pace := d.opts.Pacing
	if len(d.opts.Chains.SearchResult) > 0 {
		result, err := d.locator.Resolve(ctx, backend.BindAll(d.opts.Chains.SearchResult, vars))
		switch {
		case err == nil:
			return d.step(ctx, "open search result", pace.SearchSettle, func() error { return d.adapter.Click(ctx, result) })
		case backend.IsFatal(err) || ctx.Err() != nil:
			return d.fail("locate search result", err)
		}
		d.logger.Debug("No search result control found; confirming with Return.", zap.Error(err))
	}
	return d.step(ctx, "confirm search", pace.SearchSettle, func() error {
		return d.adapter.SendKey(ctx, schemas.KeyReturn, schemas.ModNone)
	})
}

// pickOpened prefers a surface whose identity contains query, then any
// non-reserved surface.
func (d *Dispatcher) pickOpened(surfaces []schemas.WindowDescriptor, query string) (schemas.WindowDescriptor, bool) {
	var fallback *schemas.WindowDescriptor
	for i := range surfaces {
		w := surfaces[i]
		if d.IsReserved(w.Identity) {
			continue
		}
		if strings.Contains(w.Identity, query) {
			return w, true
		}
		if fallback == nil {
			fallback = &surfaces[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return schemas.WindowDescriptor{}, false
}

// pickTarget returns the surface with the exact identity, or the first
// non-reserved surface when target is empty.
func (d *Dispatcher) pickTarget(surfaces []schemas.WindowDescriptor, target string) (schemas.WindowDescriptor, bool) {
	for _, w := range surfaces {
		if target != "" && w.Identity == target {
			return w, true
		}
		if target == "" && !d.IsReserved(w.Identity) {
			return w, true
		}
	}
	return schemas.WindowDescriptor{}, false
}

// SendText types text into the conversation shown by target (or, when
// target is empty, the first open conversation window, or the open
// conversation on single surface backends) and, unless dryRun, presses
// Return. The report is always returned; on failure it has Success=false
// and Error set, and err is the classified *ActionError.
func (d *Dispatcher) SendText(ctx context.Context, target, text string, dryRun bool) (*schemas.SendReport, error) {
	report := &schemas.SendReport{Message: text, DryRun: dryRun}
	failWith := func(err error) (*schemas.SendReport, error) {
		report.Success = false
		report.Status = ""
		var ae *ActionError
		if errors.As(err, &ae) {
			report.Error = ae.Reason
			if hint := ae.Hint(); hint != "" {
				report.Error += ": " + hint
			}
		} else {
			report.Error = err.Error()
		}
		return report, err
	}

	if err := d.activate(ctx); err != nil {
		return failWith(err)
	}

	var region *schemas.Region
	identity := ""
	if target == "" && d.opts.SingleSurface {
		d.logger.Info("Sending into the open conversation.")
	} else {
		surfaces, err := d.adapter.ListTopLevelSurfaces(ctx)
		if err != nil {
			return failWith(d.fail("list surfaces", err))
		}
		if w, ok := d.pickTarget(surfaces, target); ok {
			identity = w.Identity
			r := w.Region()
			region = &r
			d.logger.Info("Using conversation surface.", zap.String("surface", identity))
			if err := d.step(ctx, "raise surface", d.opts.Pacing.Settle, func() error { return d.adapter.Foreground(ctx, identity) }); err != nil {
				return failWith(err)
			}
			report.ChatWindow = identity
		} else if target != "" {
			return failWith(d.fail("find surface", fmt.Errorf("surface %q is not open: %w", target, backend.ErrElementNotFound)))
		} else {
			d.logger.Warn("No conversation surface open; sending to the focused surface.")
		}
	}

	input, err := d.locator.Resolve(ctx, backend.BindAll(d.opts.Chains.MessageInput, map[string]string{backend.VarWindow: identity}))
	if err != nil {
		return failWith(d.fail("locate message input", err))
	}
	d.snapshot(ctx, region, "before_send")

	pace := d.opts.Pacing
	if err := d.step(ctx, "focus input", pace.Settle, func() error { return d.adapter.Click(ctx, input) }); err != nil {
		return failWith(err)
	}
	if err := d.step(ctx, "clear input", pace.Settle, func() error { return d.adapter.Clear(ctx, input) }); err != nil {
		return failWith(err)
	}
	d.logger.Info("Typing message.", zap.String("preview", preview(text, 50)))
	if err := d.step(ctx, "type message", pace.Settle, func() error { return d.adapter.TypeText(ctx, input, text) }); err != nil {
		return failWith(err)
	}

	if dryRun {
		d.logger.Info("[DRY RUN] Message typed but not sent.")
		report.Success = true
		report.Status = schemas.StatusTypedNotSent
		d.snapshot(ctx, region, "dry_run")
		return report, nil
	}

	if err := d.step(ctx, "send", pace.SendSettle, func() error {
		return d.adapter.SendKey(ctx, schemas.KeyReturn, schemas.ModNone)
	}); err != nil {
		return failWith(err)
	}
	d.logger.Info("Message sent.")
	report.Success = true
	report.Status = schemas.StatusSent
	d.snapshot(ctx, region, "after_send")
	return report, nil
}

// ShowConversationList switches the client to its message list (Cmd+1).
func (d *Dispatcher) ShowConversationList(ctx context.Context) error {
	if err := d.activate(ctx); err != nil {
		return err
	}
	return d.step(ctx, "show message list", d.opts.Pacing.SendSettle, func() error {
		return d.adapter.SendKey(ctx, "1", schemas.ModMeta)
	})
}

// WaitUntilReady polls the logged-in strategy chain until one resolves. An
// empty chain is ready at once.
func (d *Dispatcher) WaitUntilReady(ctx context.Context, every time.Duration) error {
	if len(d.opts.Chains.LoggedIn) == 0 {
		return nil
	}
	if err := d.adapter.EnsureRunning(ctx); err != nil {
		return d.fail("ensure running", err)
	}
	for {
		_, err := d.locator.Resolve(ctx, d.opts.Chains.LoggedIn)
		if err == nil {
			return nil
		}
		if backend.IsFatal(err) || ctx.Err() != nil {
			return d.fail("wait for login", err)
		}
		d.logger.Info("Waiting for login to complete.")
		if err := d.sleep(ctx, every); err != nil {
			return d.fail("wait for login", err)
		}
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
