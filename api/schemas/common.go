package schemas

import (
	"fmt"
	"time"
)

// -- Input Schemas --

// Key names a key that can be dispatched to the target UI. Printable keys are
// given as their single character ("v", "1"); named keys use the constants below.
type Key string

const (
	KeyReturn    Key = "Return"
	KeyEscape    Key = "Escape"
	KeyTab       Key = "Tab"
	KeyBackspace Key = "Backspace"
)

// KeyModifier represents keyboard modifiers (Ctrl, Alt, Shift, Meta).
// These values correspond directly to the CDP input.DispatchKeyEvent modifiers bitfield.
type KeyModifier int

const (
	ModNone  KeyModifier = 0
	ModAlt   KeyModifier = 1 // Corresponds to CDP modifier 1
	ModCtrl  KeyModifier = 2 // Corresponds to CDP modifier 2
	ModMeta  KeyModifier = 4 // Corresponds to CDP modifier 4 (Command on macOS)
	ModShift KeyModifier = 8 // Corresponds to CDP modifier 8
)

// Has reports whether all bits of other are set.
func (m KeyModifier) Has(other KeyModifier) bool {
	return other != ModNone && m&other == other
}

// -- Geometry Schemas --

// WindowDescriptor describes one top level surface (window or pane) of the target app.
// Identity is the only field used for matching; the geometry is only valid at the
// moment it was read and must be re-read before every interaction.
type WindowDescriptor struct {
	Identity string `json:"identity"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Region returns the screen rectangle covered by the window.
func (w WindowDescriptor) Region() Region {
	return Region{X: w.X, Y: w.Y, Width: w.Width, Height: w.Height}
}

// Point returns the coordinate at the given fractions of the window size plus a
// pixel offset.
func (w WindowDescriptor) Point(xRatio, yRatio float64, xOffset, yOffset int) (int, int) {
	x := w.X + int(float64(w.Width)*xRatio) + xOffset
	y := w.Y + int(float64(w.Height)*yRatio) + yOffset
	return x, y
}

// Region is a screen rectangle in the coordinate space of the backend.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the region has no area.
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Region) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
}

// ImageHandle references a screenshot produced by the capture service. The core
// never inspects image contents; the handle is passed on to external consumers.
type ImageHandle struct {
	Path       string    `json:"path"`
	CapturedAt time.Time `json:"captured_at"`
}
