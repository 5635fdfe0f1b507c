// internal/backend/native/adapter.go
package native

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/atotto/clipboard"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
	"github.com/xkilldash9x/chatpilot-cli/internal/config"
)

// Clipboard is the system pasteboard.
type Clipboard interface {
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// Adapter drives the desktop client through System Events. Every call
// re-reads the UI; nothing is cached between calls.
type Adapter struct {
	appName    string
	mainWindow string
	pasteDelay time.Duration

	runner ScriptRunner
	clip   Clipboard
	logger *zap.Logger
	closed atomic.Bool
}

var _ backend.Adapter = (*Adapter)(nil)

// Option customises an Adapter.
type Option func(*Adapter)

// WithRunner replaces the osascript runner.
func WithRunner(r ScriptRunner) Option { return func(a *Adapter) { a.runner = r } }

// WithClipboard replaces the system clipboard.
func WithClipboard(c Clipboard) Option { return func(a *Adapter) { a.clip = c } }

// WithPasteDelay sets the pause between writing the clipboard and pasting.
func WithPasteDelay(d time.Duration) Option { return func(a *Adapter) { a.pasteDelay = d } }

// New creates a native adapter for the configured application.
func New(logger *zap.Logger, cfg config.NativeConfig, opts ...Option) *Adapter {
	a := &Adapter{
		appName:    cfg.AppName,
		mainWindow: cfg.MainWindow,
		pasteDelay: 100 * time.Millisecond,
		clip:       systemClipboard{},
		logger:     logger.Named("native"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.runner == nil {
		a.runner = NewOsascriptRunner(logger, cfg.ScriptTimeout, cfg.ActionsPerSecond)
	}
	return a
}

func (a *Adapter) Name() string { return config.BackendNative }

func (a *Adapter) run(ctx context.Context, script string) (string, error) {
	if a.closed.Load() {
		return "", backend.ErrClosed
	}
	return a.runner.Run(ctx, script)
}

// EnsureRunning checks the process list for the application.
func (a *Adapter) EnsureRunning(ctx context.Context) error {
	out, err := a.run(ctx, isRunningScript(a.appName))
	if err != nil {
		return fmt.Errorf("failed to query process list: %w", err)
	}
	if out != "true" {
		return fmt.Errorf("%s is not running: %w", a.appName, backend.ErrBackendUnavailable)
	}
	return nil
}

// Launch starts the application if needed and activates it.
func (a *Adapter) Launch(ctx context.Context) error {
	if err := a.EnsureRunning(ctx); err == nil {
		return a.Foreground(ctx, "")
	}
	a.logger.Info("Launching application.", zap.String("app", a.appName))
	if _, err := a.run(ctx, launchScript(a.appName)); err != nil {
		return fmt.Errorf("failed to launch %s: %w", a.appName, err)
	}
	return nil
}

func (a *Adapter) Foreground(ctx context.Context, identity string) error {
	script := activateScript(a.appName)
	if identity != "" {
		script = raiseScript(a.appName, identity)
	}
	if _, err := a.run(ctx, script); err != nil {
		if identity == "" {
			return fmt.Errorf("failed to activate %s: %w", a.appName, err)
		}
		return fmt.Errorf("failed to raise window %q: %w", identity, err)
	}
	return nil
}

func (a *Adapter) ListTopLevelSurfaces(ctx context.Context) ([]schemas.WindowDescriptor, error) {
	out, err := a.run(ctx, listWindowsScript(a.appName))
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}
	return parseWindowList(out), nil
}

func (a *Adapter) ReadBadgeCount(ctx context.Context) (int, error) {
	out, err := a.run(ctx, dockBadgeScript(a.appName))
	if err != nil {
		return 0, fmt.Errorf("failed to read dock badge: %w", err)
	}
	return parseBadge(out), nil
}

// Window returns the current geometry of one window; "" selects the main
// window, falling back to the front window.
func (a *Adapter) Window(ctx context.Context, identity string) (schemas.WindowDescriptor, error) {
	out, err := a.run(ctx, windowGeometryScript(a.appName, a.mainWindow, identity))
	if err != nil {
		return schemas.WindowDescriptor{}, fmt.Errorf("failed to read window %q: %w", identity, err)
	}
	w, ok := parseWindowRecord(out)
	if !ok || w.Region().Empty() {
		return schemas.WindowDescriptor{}, fmt.Errorf("window %q has no usable geometry: %w", identity, backend.ErrElementNotFound)
	}
	return w, nil
}

// Locate supports accessibility, text and geometry strategies. CSS
// selectors have no meaning outside a DOM.
func (a *Adapter) Locate(ctx context.Context, s backend.Strategy) (*backend.ElementHandle, error) {
	switch s.Kind {
	case backend.ByFixedGeometry:
		w, err := a.Window(ctx, s.Window)
		if err != nil {
			return nil, err
		}
		x, y := w.Point(s.Anchor.XRatio, s.Anchor.YRatio, s.Anchor.XOffset, s.Anchor.YOffset)
		return &backend.ElementHandle{Strategy: s, X: x, Y: y, Ref: w}, nil

	case backend.ByAccessibilityName, backend.ByTextContent:
		script := findElementScript(a.appName, a.mainWindow, s.Window, s.Value, s.Index, s.Kind == backend.ByAccessibilityName)
		out, err := a.run(ctx, script)
		if err != nil {
			return nil, fmt.Errorf("accessibility lookup %s: %w", s, err)
		}
		frame, ok := parseFrame(out)
		if !ok {
			return nil, fmt.Errorf("no element for %s: %w", s, backend.ErrElementNotFound)
		}
		return &backend.ElementHandle{
			Strategy: s,
			X:        frame.X + frame.Width/2,
			Y:        frame.Y + frame.Height/2,
			Ref:      frame,
		}, nil
	}
	return nil, fmt.Errorf("%s: %w", s, backend.ErrUnsupportedStrategy)
}

func (a *Adapter) Click(ctx context.Context, el *backend.ElementHandle) error {
	if el == nil {
		return fmt.Errorf("click: nil element: %w", backend.ErrElementNotFound)
	}
	return a.ClickAt(ctx, el.X, el.Y)
}

func (a *Adapter) ClickAt(ctx context.Context, x, y int) error {
	if _, err := a.run(ctx, clickAtScript(a.appName, x, y)); err != nil {
		return fmt.Errorf("failed to click at (%d,%d): %w", x, y, err)
	}
	return nil
}

// Clear selects everything in the focused control and deletes it.
func (a *Adapter) Clear(ctx context.Context, el *backend.ElementHandle) error {
	if el != nil {
		if err := a.Click(ctx, el); err != nil {
			return err
		}
	}
	if err := a.SendKey(ctx, "a", schemas.ModMeta); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return a.SendKey(ctx, schemas.KeyBackspace, schemas.ModNone)
}

// TypeText pastes text through the clipboard so that any script survives
// the trip into the client.
func (a *Adapter) TypeText(ctx context.Context, _ *backend.ElementHandle, text string) error {
	if a.closed.Load() {
		return backend.ErrClosed
	}
	if err := a.clip.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	if err := backend.Sleep(ctx, a.pasteDelay); err != nil {
		return err
	}
	if err := a.SendKey(ctx, "v", schemas.ModMeta); err != nil {
		return fmt.Errorf("paste: %w", err)
	}
	return nil
}

func (a *Adapter) SendKey(ctx context.Context, key schemas.Key, mods schemas.KeyModifier) error {
	if _, err := a.run(ctx, keyScript(a.appName, key, mods)); err != nil {
		return fmt.Errorf("failed to send key %q: %w", key, err)
	}
	return nil
}

// Close marks the adapter closed. osascript holds no resources between calls.
func (a *Adapter) Close() error {
	a.closed.Store(true)
	return nil
}
