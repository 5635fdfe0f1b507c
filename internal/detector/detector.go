// Package detector notices new conversation activity by diffing successive
// snapshots of the surface list and the unread badge.
package detector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
)

// Source is the part of a backend the detector reads. Neither call performs input.
type Source interface {
	ListTopLevelSurfaces(ctx context.Context) ([]schemas.WindowDescriptor, error)
	ReadBadgeCount(ctx context.Context) (int, error)
}

// State is what the detector remembers between polls. It is owned by the
// monitor loop and only changes through Advance.
type State struct {
	Known     map[string]struct{}
	LastBadge int
}

// Observation is the result of one poll.
type Observation struct {
	At time.Time
	// Current is the full surface list in enumeration order.
	Current []schemas.WindowDescriptor
	// NewSurfaces are the identities in Current that were neither known nor
	// reserved, in enumeration order, without duplicates.
	NewSurfaces []schemas.WindowDescriptor
	Badge       int
	// BadgeOK is false when the badge could not be read; the badge channel
	// then reports no change and LastBadge is kept.
	BadgeOK       bool
	BadgeIncrease bool
	PrevBadge     int
}

// HasActivity reports whether either channel fired.
func (o Observation) HasActivity() bool {
	return len(o.NewSurfaces) > 0 || o.BadgeIncrease
}

// Events renders the observation as activity events, new surfaces first.
func (o Observation) Events() []schemas.ActivityEvent {
	events := make([]schemas.ActivityEvent, 0, len(o.NewSurfaces)+1)
	for _, w := range o.NewSurfaces {
		events = append(events, schemas.ActivityEvent{
			Timestamp:      o.At,
			SourceIdentity: w.Identity,
			Kind:           schemas.ActivityNewWindow,
		})
	}
	if o.BadgeIncrease {
		events = append(events, schemas.ActivityEvent{
			Timestamp: o.At,
			Kind:      schemas.ActivityBadgeIncrease,
			BadgeFrom: o.PrevBadge,
			BadgeTo:   o.Badge,
		})
	}
	return events
}

// Detector computes observations against a State.
type Detector struct {
	source   Source
	reserved map[string]struct{}
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Detector. Identities in reserved are structural surfaces
// (the main panel, global search) and never count as activity.
func New(source Source, reserved []string, logger *zap.Logger) *Detector {
	set := make(map[string]struct{}, len(reserved))
	for _, r := range reserved {
		set[r] = struct{}{}
	}
	return &Detector{source: source, reserved: set, logger: logger.Named("detector"), now: time.Now}
}

// IsReserved reports whether identity names a structural surface.
func (d *Detector) IsReserved(identity string) bool {
	_, ok := d.reserved[identity]
	return ok
}

// Baseline records the surfaces and badge present at startup so that they
// are not reported as new.
func (d *Detector) Baseline(ctx context.Context) (*State, error) {
	current, err := d.source.ListTopLevelSurfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list surfaces for baseline: %w", err)
	}
	st := &State{Known: make(map[string]struct{}, len(current))}
	for _, w := range current {
		st.Known[w.Identity] = struct{}{}
	}
	if badge, err := d.source.ReadBadgeCount(ctx); err != nil {
		d.logger.Warn("Could not read badge for baseline; assuming zero.", zap.Error(err))
	} else {
		st.LastBadge = badge
	}
	return st, nil
}

// Poll takes one snapshot and diffs it against st without modifying st. A
// surface enumeration failure is returned; a badge failure is logged and
// treated as no change.
func (d *Detector) Poll(ctx context.Context, st *State) (Observation, error) {
	current, err := d.source.ListTopLevelSurfaces(ctx)
	if err != nil {
		return Observation{}, fmt.Errorf("failed to list surfaces: %w", err)
	}

	obs := Observation{At: d.now(), Current: current, PrevBadge: st.LastBadge, Badge: st.LastBadge}
	obs.NewSurfaces = d.Diff(st.Known, current)

	badge, err := d.source.ReadBadgeCount(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Observation{}, ctx.Err()
		}
		d.logger.Warn("Badge read failed; treating as unchanged.", zap.Error(err))
		return obs, nil
	}
	obs.Badge = badge
	obs.BadgeOK = true
	obs.BadgeIncrease = badge > st.LastBadge
	return obs, nil
}

// Diff returns current minus known minus reserved, preserving order and
// collapsing duplicate identities.
func (d *Detector) Diff(known map[string]struct{}, current []schemas.WindowDescriptor) []schemas.WindowDescriptor {
	var out []schemas.WindowDescriptor
	seen := make(map[string]struct{})
	for _, w := range current {
		if _, ok := known[w.Identity]; ok {
			continue
		}
		if d.IsReserved(w.Identity) {
			continue
		}
		if _, dup := seen[w.Identity]; dup {
			continue
		}
		seen[w.Identity] = struct{}{}
		out = append(out, w)
	}
	return out
}

// Advance folds a processed observation into the state. Every current
// identity becomes known whether or not it was replied to, and surfaces that
// disappeared are forgotten so a reopened conversation is new again.
func (st *State) Advance(obs Observation) {
	known := make(map[string]struct{}, len(obs.Current))
	for _, w := range obs.Current {
		known[w.Identity] = struct{}{}
	}
	st.Known = known
	if obs.BadgeOK {
		st.LastBadge = obs.Badge
	}
}
