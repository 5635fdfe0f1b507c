// Package locator resolves a control through an ordered chain of strategies,
// so that a UI change breaking one strategy degrades to the next instead of
// failing outright.
package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
)

// Finder is the part of a backend the locator needs.
type Finder interface {
	Locate(ctx context.Context, s backend.Strategy) (*backend.ElementHandle, error)
}

// Locator tries strategies strictly in order, each under its own deadline.
type Locator struct {
	finder  Finder
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Locator. perStrategyTimeout bounds every single attempt.
func New(finder Finder, perStrategyTimeout time.Duration, logger *zap.Logger) *Locator {
	return &Locator{finder: finder, timeout: perStrategyTimeout, logger: logger.Named("locator")}
}

// Resolve returns the element found by the first strategy that succeeds.
//
// Not-found, unsupported and per-attempt timeouts move on to the next
// strategy. Permission denial, an unavailable backend and cancellation of
// ctx abort at once. When every strategy fails the error is an
// *backend.ElementNotFoundError listing what was tried.
func (l *Locator) Resolve(ctx context.Context, strategies []backend.Strategy) (*backend.ElementHandle, error) {
	return Resolve(ctx, l.finder, strategies, l.timeout, l.logger)
}

// Resolve is the function form of Locator.Resolve.
func Resolve(ctx context.Context, finder Finder, strategies []backend.Strategy, perStrategyTimeout time.Duration, logger *zap.Logger) (*backend.ElementHandle, error) {
	causes := make([]error, 0, len(strategies))
	attempted := make([]backend.Strategy, 0, len(strategies))

	for i, s := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		el, err := attempt(ctx, finder, s, perStrategyTimeout)
		attempted = append(attempted, s)
		if err == nil && el != nil {
			if i > 0 {
				logger.Debug("Resolved by fallback strategy.", zap.Int("position", i), zap.Stringer("strategy", s))
			}
			return el, nil
		}
		if err == nil {
			err = backend.ErrElementNotFound
		}

		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case backend.IsFatal(err):
			return nil, err
		case backend.IsNotFoundClass(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, backend.ErrTimeout):
			logger.Debug("Strategy missed.", zap.Stringer("strategy", s), zap.Error(err))
		default:
			// Unclassified failures (a rejected selector, a script error) are
			// still local to this strategy.
			logger.Debug("Strategy failed.", zap.Stringer("strategy", s), zap.Error(err))
		}
		causes = append(causes, fmt.Errorf("%s: %w", s, err))
	}

	return nil, &backend.ElementNotFoundError{Attempted: attempted, Causes: causes}
}

func attempt(ctx context.Context, finder Finder, s backend.Strategy, timeout time.Duration) (*backend.ElementHandle, error) {
	if timeout <= 0 {
		return finder.Locate(ctx, s)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return finder.Locate(attemptCtx, s)
}
