// Package store persists activity events and per-operation reports.
package store

import (
	"context"
	"errors"

	"github.com/xkilldash9x/chatpilot-cli/api/schemas"
)

// EventSink receives activity events. Events are appended only; a sink
// never rewrites or drops what it already accepted.
type EventSink interface {
	Append(ctx context.Context, ev schemas.ActivityEvent) error
	Close() error
}

// MultiSink fans events out to several sinks. A failing sink does not stop
// the others; their errors are joined.
type MultiSink []EventSink

func (m MultiSink) Append(ctx context.Context, ev schemas.ActivityEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard accepts and forgets every event.
type Discard struct{}

func (Discard) Append(context.Context, schemas.ActivityEvent) error { return nil }
func (Discard) Close() error                                        { return nil }
