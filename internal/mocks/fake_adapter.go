package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
)

// Action is one input operation recorded by FakeAdapter.
type Action struct {
	Op   string // foreground, click, click_at, clear, type, key, launch
	Arg  string // identity, typed text or key name
	X, Y int
	Mods schemas.KeyModifier
}

// FakeAdapter is an in-memory backend whose UI state is scripted by the test.
// Surface lists and badge values are consumed in order; the last entry
// repeats once the script runs out.
type FakeAdapter struct {
	mu sync.Mutex

	runningErr  error
	surfaces    [][]schemas.WindowDescriptor
	surfacesErr error
	badges      []int
	badgeErr    error
	found       map[string]*backend.ElementHandle
	locateErr   map[string]error
	actionErr   error
	onAction    func(Action)

	actions    []Action
	locates    []backend.Strategy
	listCalls  int
	badgeCalls int
	closed     bool
}

var _ backend.Adapter = (*FakeAdapter)(nil)

// NewFakeAdapter returns a running fake with no surfaces and a zero badge.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		found:     map[string]*backend.ElementHandle{},
		locateErr: map[string]error{},
	}
}

// -- Scripting --

// SetRunningErr makes EnsureRunning fail with err (nil restores).
func (f *FakeAdapter) SetRunningErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runningErr = err
}

// QueueSurfaces appends one ListTopLevelSurfaces result.
func (f *FakeAdapter) QueueSurfaces(ws ...schemas.WindowDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.surfaces = append(f.surfaces, ws)
}

// SetSurfaces replaces the script with a single, repeating surface list.
func (f *FakeAdapter) SetSurfaces(ws ...schemas.WindowDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.surfaces = [][]schemas.WindowDescriptor{ws}
}

// SetSurfacesErr makes ListTopLevelSurfaces fail.
func (f *FakeAdapter) SetSurfacesErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.surfacesErr = err
}

// QueueBadges appends ReadBadgeCount results.
func (f *FakeAdapter) QueueBadges(values ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badges = append(f.badges, values...)
}

// SetBadge replaces the badge script with a single repeating value.
func (f *FakeAdapter) SetBadge(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badges = []int{v}
}

// SetBadgeErr makes ReadBadgeCount fail.
func (f *FakeAdapter) SetBadgeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badgeErr = err
}

// Place makes Locate succeed for s (matched on its String form).
func (f *FakeAdapter) Place(s backend.Strategy, x, y int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.found[s.String()] = &backend.ElementHandle{Strategy: s, X: x, Y: y}
}

// FailLocate makes Locate return err for s.
func (f *FakeAdapter) FailLocate(s backend.Strategy, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locateErr[s.String()] = err
}

// SetActionErr makes every input action fail with err.
func (f *FakeAdapter) SetActionErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actionErr = err
}

// OnAction registers a hook called after each recorded action, outside the lock.
func (f *FakeAdapter) OnAction(fn func(Action)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAction = fn
}

// -- Inspection --

// Actions returns a copy of the recorded input actions.
func (f *FakeAdapter) Actions() []Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Action(nil), f.actions...)
}

// Located returns the strategies passed to Locate, in call order.
func (f *FakeAdapter) Located() []backend.Strategy {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Strategy(nil), f.locates...)
}

// Count returns how many actions with op (and arg, when non-empty) were recorded.
func (f *FakeAdapter) Count(op, arg string) int {
	n := 0
	for _, a := range f.Actions() {
		if a.Op == op && (arg == "" || a.Arg == arg) {
			n++
		}
	}
	return n
}

// ListCalls returns how many times the surfaces were enumerated.
func (f *FakeAdapter) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// Closed reports whether Close was called.
func (f *FakeAdapter) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// -- backend.Adapter --

func (f *FakeAdapter) Name() string { return "fake" }

func (f *FakeAdapter) EnsureRunning(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return backend.ErrClosed
	}
	return f.runningErr
}

func (f *FakeAdapter) Launch(ctx context.Context) error {
	f.SetRunningErr(nil)
	return f.record(Action{Op: "launch"})
}

func (f *FakeAdapter) Foreground(_ context.Context, identity string) error {
	return f.record(Action{Op: "foreground", Arg: identity})
}

func (f *FakeAdapter) ListTopLevelSurfaces(context.Context) ([]schemas.WindowDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.surfacesErr != nil {
		return nil, f.surfacesErr
	}
	if len(f.surfaces) == 0 {
		return nil, nil
	}
	current := f.surfaces[0]
	if len(f.surfaces) > 1 {
		f.surfaces = f.surfaces[1:]
	}
	return append([]schemas.WindowDescriptor(nil), current...), nil
}

func (f *FakeAdapter) ReadBadgeCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badgeCalls++
	if f.badgeErr != nil {
		return 0, f.badgeErr
	}
	if len(f.badges) == 0 {
		return 0, nil
	}
	v := f.badges[0]
	if len(f.badges) > 1 {
		f.badges = f.badges[1:]
	}
	return v, nil
}

func (f *FakeAdapter) Locate(ctx context.Context, s backend.Strategy) (*backend.ElementHandle, error) {
	f.mu.Lock()
	f.locates = append(f.locates, s)
	err, hasErr := f.locateErr[s.String()]
	el, ok := f.found[s.String()]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hasErr {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fake: %s: %w", s, backend.ErrElementNotFound)
	}
	copied := *el
	return &copied, nil
}

func (f *FakeAdapter) Click(_ context.Context, el *backend.ElementHandle) error {
	if el == nil {
		return backend.ErrElementNotFound
	}
	return f.record(Action{Op: "click", X: el.X, Y: el.Y})
}

func (f *FakeAdapter) ClickAt(_ context.Context, x, y int) error {
	return f.record(Action{Op: "click_at", X: x, Y: y})
}

func (f *FakeAdapter) Clear(context.Context, *backend.ElementHandle) error {
	return f.record(Action{Op: "clear"})
}

func (f *FakeAdapter) TypeText(_ context.Context, _ *backend.ElementHandle, text string) error {
	return f.record(Action{Op: "type", Arg: text})
}

func (f *FakeAdapter) SendKey(_ context.Context, key schemas.Key, mods schemas.KeyModifier) error {
	return f.record(Action{Op: "key", Arg: string(key), Mods: mods})
}

func (f *FakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeAdapter) record(a Action) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return backend.ErrClosed
	}
	if f.actionErr != nil {
		err := f.actionErr
		f.mu.Unlock()
		return err
	}
	f.actions = append(f.actions, a)
	hook := f.onAction
	f.mu.Unlock()

	if hook != nil {
		hook(a)
	}
	return nil
}
