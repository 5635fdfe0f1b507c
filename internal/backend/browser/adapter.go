// internal/backend/browser/adapter.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
	"github.com/xkilldash9x/chatpilot-cli/internal/config"
)

// startupTimeout bounds launching Chromium and opening the first tab.
const startupTimeout = 30 * time.Second

// locatePollInterval is the pause between DOM lookups while waiting for an
// element to render.
const locatePollInterval = 100 * time.Millisecond

// Adapter drives the QQ web client in a Chromium tab over CDP. The browser
// is started lazily on first use and keeps its profile in UserDataDir, so a
// login survives restarts.
type Adapter struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	closed      bool
}

var _ backend.Adapter = (*Adapter)(nil)

// New creates a browser adapter. No process is started until the first call.
func New(logger *zap.Logger, cfg config.BrowserConfig) *Adapter {
	return &Adapter{cfg: cfg, logger: logger.Named("browser")}
}

func (a *Adapter) Name() string { return config.BackendBrowser }

// tab returns the live tab context, launching the browser if needed.
func (a *Adapter) tab(ctx context.Context) (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, backend.ErrClosed
	}
	if a.tabCtx != nil && a.tabCtx.Err() == nil {
		return a.tabCtx, nil
	}
	a.shutdownLocked()

	a.logger.Info("Launching browser.", zap.String("profile", a.cfg.UserDataDir), zap.Bool("headless", a.cfg.Headless))
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(a.cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(a.logger.Sugar().Debugf),
		chromedp.WithErrorf(a.logger.Sugar().Debugf),
	)

	// The first Run starts Chrome bound to tabCtx itself. The startup budget
	// and the caller's ctx may only tear it down while startup is pending.
	timer := time.AfterFunc(startupTimeout, tabCancel)
	stopWatch := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, a.startupActions()...)
	timedOut := !timer.Stop()
	cancelled := !stopWatch()
	if err == nil && (timedOut || cancelled) {
		err = context.Canceled
	}
	if err == nil {
		err = pageContextErr(tabCtx)
	}
	if err != nil {
		tabCancel()
		allocCancel()
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case timedOut:
			return nil, fmt.Errorf("browser did not start within %v: %w", startupTimeout, backend.ErrBackendUnavailable)
		case errors.Is(err, backend.ErrPermissionDenied):
			a.logger.Error("Browser exposed no page to drive.", zap.Error(err))
			return nil, err
		}
		return nil, fmt.Errorf("browser failed to start: %v: %w", err, backend.ErrBackendUnavailable)
	}

	a.allocCancel, a.tabCtx, a.tabCancel = allocCancel, tabCtx, tabCancel
	a.logger.Info("Browser launched successfully and is responsive.")
	return tabCtx, nil
}

func (a *Adapter) startupActions() []chromedp.Action {
	w, h := viewport(a.cfg)
	actions := []chromedp.Action{chromedp.EmulateViewport(int64(w), int64(h))}
	if a.cfg.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(a.cfg.Locale))
	}
	return actions
}

// pageContextErr reports a started browser that has no page target attached.
func pageContextErr(ctx context.Context) error {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return fmt.Errorf("browser: %w", backend.ErrNoPageContext)
	}
	return nil
}

// run executes actions in the tab, bounded by ctx.
func (a *Adapter) run(ctx context.Context, actions ...chromedp.Action) error {
	tabCtx, err := a.tab(ctx)
	if err != nil {
		return err
	}
	opCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()

	err = chromedp.Run(opCtx, actions...)
	switch {
	case err == nil:
		return nil
	case tabCtx.Err() != nil:
		return fmt.Errorf("browser tab is gone: %v: %w", err, backend.ErrBackendUnavailable)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%v: %w", err, backend.ErrTimeout)
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

func (a *Adapter) eval(ctx context.Context, expr string, res any) error {
	return a.run(ctx, chromedp.Evaluate(expr, res))
}

// EnsureRunning makes sure the tab is alive and showing the web client,
// navigating only when the current page is not on the client's host.
func (a *Adapter) EnsureRunning(ctx context.Context) error {
	var location string
	if err := a.run(ctx, chromedp.Location(&location)); err != nil {
		return fmt.Errorf("failed to read page location: %w", err)
	}
	if a.cfg.HostMatch != "" && strings.Contains(location, a.cfg.HostMatch) {
		return nil
	}

	a.logger.Info("Navigating to web client.", zap.String("url", a.cfg.URL))
	navCtx := ctx
	if a.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, a.cfg.NavigationTimeout)
		defer cancel()
	}
	if err := a.run(navCtx, chromedp.Navigate(a.cfg.URL)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to load %s: %v: %w", a.cfg.URL, err, backend.ErrBackendUnavailable)
	}
	return backend.Sleep(ctx, a.cfg.PostLoadWait)
}

func (a *Adapter) Launch(ctx context.Context) error {
	if err := a.EnsureRunning(ctx); err != nil {
		return err
	}
	return a.Foreground(ctx, "")
}

// Foreground brings the tab to the front, or opens the conversation item
// whose identity matches.
func (a *Adapter) Foreground(ctx context.Context, identity string) error {
	if identity == "" {
		if err := a.run(ctx, page.BringToFront()); err != nil {
			return fmt.Errorf("failed to bring tab to front: %w", err)
		}
		return nil
	}
	var ok bool
	if err := a.eval(ctx, call(raiseJS, surfaceArgs{Selectors: a.cfg.SurfaceSelectors, Identity: identity}), &ok); err != nil {
		return fmt.Errorf("failed to open conversation %q: %w", identity, err)
	}
	if !ok {
		return fmt.Errorf("conversation %q not listed: %w", identity, backend.ErrElementNotFound)
	}
	return nil
}

func (a *Adapter) ListTopLevelSurfaces(ctx context.Context) ([]schemas.WindowDescriptor, error) {
	var items []surfaceResult
	if err := a.eval(ctx, call(surfacesJS, surfaceArgs{Selectors: a.cfg.SurfaceSelectors}), &items); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	out := make([]schemas.WindowDescriptor, 0, len(items))
	for _, it := range items {
		out = append(out, schemas.WindowDescriptor{
			Identity: it.Identity,
			X:        int(it.X),
			Y:        int(it.Y),
			Width:    int(it.Width),
			Height:   int(it.Height),
		})
	}
	return out, nil
}

// ReadBadgeCount sums the configured unread badges. Without badge selectors
// the web client has no aggregate indicator and 0 is reported.
func (a *Adapter) ReadBadgeCount(ctx context.Context) (int, error) {
	if len(a.cfg.BadgeSelectors) == 0 {
		return 0, nil
	}
	var total int
	if err := a.eval(ctx, call(badgeJS, surfaceArgs{Selectors: a.cfg.BadgeSelectors}), &total); err != nil {
		return 0, fmt.Errorf("failed to read badges: %w", err)
	}
	return total, nil
}

func kindName(k backend.StrategyKind) string {
	switch k {
	case backend.ByCSSSelector:
		return config.KindCSS
	case backend.ByTextContent:
		return config.KindText
	case backend.ByAccessibilityName:
		return config.KindAccessibility
	}
	return ""
}

// Locate evaluates DOM strategies in the page, waiting for the element to
// appear until ctx's deadline. Geometry strategies are resolved against the
// viewport; the Window field is ignored since the web client is a single page.
func (a *Adapter) Locate(ctx context.Context, s backend.Strategy) (*backend.ElementHandle, error) {
	if s.Kind == backend.ByFixedGeometry {
		var size [2]int
		if err := a.eval(ctx, viewportJS, &size); err != nil {
			return nil, fmt.Errorf("failed to read viewport: %w", err)
		}
		w := schemas.WindowDescriptor{Width: size[0], Height: size[1]}
		x, y := w.Point(s.Anchor.XRatio, s.Anchor.YRatio, s.Anchor.XOffset, s.Anchor.YOffset)
		return &backend.ElementHandle{Strategy: s, X: x, Y: y}, nil
	}

	kind := kindName(s.Kind)
	if kind == "" {
		return nil, fmt.Errorf("%s: %w", s, backend.ErrUnsupportedStrategy)
	}
	// A client rendered page may add the control later, so the lookup is
	// repeated until ctx's deadline. Without a deadline it runs once.
	for {
		var res locateResult
		if err := a.eval(ctx, call(locateJS, locateArgs{Kind: kind, Value: s.Value, Index: s.Index}), &res); err != nil {
			return nil, fmt.Errorf("locate %s: %w", s, err)
		}
		if res.Error != "" {
			a.logger.Debug("Selector rejected by page.", zap.Stringer("strategy", s), zap.String("error", res.Error))
			return nil, fmt.Errorf("no element for %s: %s: %w", s, res.Error, backend.ErrElementNotFound)
		}
		if res.Found {
			return &backend.ElementHandle{Strategy: s, X: int(res.X), Y: int(res.Y), Ref: res.Ref}, nil
		}
		if _, ok := ctx.Deadline(); !ok {
			return nil, fmt.Errorf("no element for %s: %w", s, backend.ErrElementNotFound)
		}
		if err := backend.Sleep(ctx, locatePollInterval); err != nil {
			return nil, fmt.Errorf("no element for %s before deadline: %w", s, backend.ErrElementNotFound)
		}
	}
}

func (a *Adapter) Click(ctx context.Context, el *backend.ElementHandle) error {
	if el == nil {
		return fmt.Errorf("click: nil element: %w", backend.ErrElementNotFound)
	}
	return a.ClickAt(ctx, el.X, el.Y)
}

func (a *Adapter) ClickAt(ctx context.Context, x, y int) error {
	if err := a.run(ctx, chromedp.MouseClickXY(float64(x), float64(y))); err != nil {
		return fmt.Errorf("failed to click at (%d,%d): %w", x, y, err)
	}
	return nil
}

func refOf(el *backend.ElementHandle) string {
	if el == nil {
		return ""
	}
	ref, _ := el.Ref.(string)
	return ref
}

// Clear empties the referenced control in the page, falling back to
// select-all and Backspace for elements located by geometry.
func (a *Adapter) Clear(ctx context.Context, el *backend.ElementHandle) error {
	if ref := refOf(el); ref != "" {
		var ok bool
		if err := a.eval(ctx, call(clearJS, refArgs{Ref: ref}), &ok); err != nil {
			return fmt.Errorf("failed to clear element: %w", err)
		}
		if ok {
			return nil
		}
	}
	if el != nil {
		if err := a.Click(ctx, el); err != nil {
			return err
		}
	}
	if err := a.SendKey(ctx, "a", selectAllModifier()); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return a.SendKey(ctx, schemas.KeyBackspace, schemas.ModNone)
}

// TypeText commits text in one IME insertion, which keeps CJK text intact
// and fires a single input event.
func (a *Adapter) TypeText(ctx context.Context, el *backend.ElementHandle, text string) error {
	if ref := refOf(el); ref != "" {
		var ok bool
		if err := a.eval(ctx, call(focusJS, refArgs{Ref: ref}), &ok); err != nil {
			return fmt.Errorf("failed to focus element: %w", err)
		}
		if !ok {
			return fmt.Errorf("element %s detached from page: %w", ref, backend.ErrElementNotFound)
		}
	}
	if err := a.run(ctx, input.InsertText(text)); err != nil {
		return fmt.Errorf("failed to insert text: %w", err)
	}
	return nil
}

var namedKeys = map[schemas.Key]string{
	schemas.KeyReturn:    kb.Enter,
	schemas.KeyEscape:    kb.Escape,
	schemas.KeyTab:       kb.Tab,
	schemas.KeyBackspace: kb.Backspace,
}

func cdpModifiers(mods schemas.KeyModifier) []input.Modifier {
	var out []input.Modifier
	if mods.Has(schemas.ModAlt) {
		out = append(out, input.ModifierAlt)
	}
	if mods.Has(schemas.ModCtrl) {
		out = append(out, input.ModifierCtrl)
	}
	if mods.Has(schemas.ModMeta) {
		out = append(out, input.ModifierMeta)
	}
	if mods.Has(schemas.ModShift) {
		out = append(out, input.ModifierShift)
	}
	return out
}

func (a *Adapter) SendKey(ctx context.Context, key schemas.Key, mods schemas.KeyModifier) error {
	k, ok := namedKeys[key]
	if !ok {
		k = string(key)
	}
	var opts []chromedp.KeyOption
	if m := cdpModifiers(mods); len(m) > 0 {
		opts = append(opts, chromedp.KeyModifiers(m...))
	}
	if err := a.run(ctx, chromedp.KeyEvent(k, opts...)); err != nil {
		return fmt.Errorf("failed to send key %q: %w", key, err)
	}
	return nil
}

// Close terminates the browser. The profile directory is kept.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.shutdownLocked()
	return nil
}

func (a *Adapter) shutdownLocked() {
	if a.tabCancel != nil {
		a.tabCancel()
	}
	if a.allocCancel != nil {
		a.allocCancel()
	}
	a.tabCtx, a.tabCancel, a.allocCancel = nil, nil, nil
}
