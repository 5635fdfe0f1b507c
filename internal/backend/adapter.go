// Package backend defines the contract every UI automation backend fulfils and
// the vocabulary (strategies, element handles, failure classes) shared by the
// locator, the detector and the dispatcher.
package backend

import (
	"context"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
)

// ElementHandle is a backend opaque reference to a located control. Handles are
// only valid within the polling iteration that produced them.
type ElementHandle struct {
	// Strategy is the strategy that found the element, kept for diagnostics.
	Strategy Strategy
	// X and Y are the screen (native) or viewport (browser) coordinates of
	// the point an input action should target.
	X, Y int
	// Ref carries backend private data such as a DOM node id.
	Ref any
}

// Adapter is a uniform capability surface over one automation backend.
// Actions are fire-and-verify-nothing: a nil error only means the input was
// dispatched, never that the UI reacted to it.
type Adapter interface {
	// Name identifies the backend in logs ("native", "browser").
	Name() string

	// EnsureRunning verifies the target app or page is reachable. Returns an
	// error wrapping ErrBackendUnavailable otherwise.
	EnsureRunning(ctx context.Context) error
	// Launch starts the target when it is not running and brings it forward.
	Launch(ctx context.Context) error
	// Foreground activates the app when identity is empty, otherwise raises
	// the surface with that identity.
	Foreground(ctx context.Context, identity string) error

	// ListTopLevelSurfaces enumerates the conversation capable surfaces.
	// Safe to call at any cadence; it performs no input.
	ListTopLevelSurfaces(ctx context.Context) ([]schemas.WindowDescriptor, error)
	// ReadBadgeCount returns the aggregate unread indicator, 0 when absent.
	ReadBadgeCount(ctx context.Context) (int, error)

	// Locate resolves a single strategy. It must honour the ctx deadline.
	Locate(ctx context.Context, s Strategy) (*ElementHandle, error)

	Click(ctx context.Context, el *ElementHandle) error
	ClickAt(ctx context.Context, x, y int) error
	// Clear empties a text control.
	Clear(ctx context.Context, el *ElementHandle) error
	// TypeText inserts text into the focused control as a single paste or IME
	// commit so that non-ASCII text survives.
	TypeText(ctx context.Context, el *ElementHandle, text string) error
	SendKey(ctx context.Context, key schemas.Key, mods schemas.KeyModifier) error

	// Close releases backend resources. Safe to call more than once.
	Close() error
}
