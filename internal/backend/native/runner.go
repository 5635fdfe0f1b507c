// internal/backend/native/runner.go
package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
)

// ScriptRunner executes one AppleScript program and returns its trimmed stdout.
type ScriptRunner interface {
	Run(ctx context.Context, script string) (string, error)
}

// osascriptRunner shells out to /usr/bin/osascript. Every invocation is
// throttled by limiter and bounded by timeout.
type osascriptRunner struct {
	binary  string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOsascriptRunner creates the production runner. A non-positive
// actionsPerSecond disables throttling.
func NewOsascriptRunner(logger *zap.Logger, timeout time.Duration, actionsPerSecond float64) ScriptRunner {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if actionsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(actionsPerSecond), 1)
	}
	return &osascriptRunner{
		binary:  "osascript",
		timeout: timeout,
		limiter: limiter,
		logger:  logger.Named("osascript"),
	}
}

func (r *osascriptRunner) Run(ctx context.Context, script string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("osascript throttled: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(opCtx, r.binary, "-e", script)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			r.logger.Debug("osascript timed out.", zap.Duration("timeout", r.timeout))
			return "", fmt.Errorf("osascript timed out after %v: %w", r.timeout, backend.ErrTimeout)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", fmt.Errorf("osascript not available: %v: %w", execErr, backend.ErrBackendUnavailable)
		}
		msg := strings.TrimSpace(stderr.String())
		r.logger.Warn("AppleScript error.", zap.String("stderr", msg))
		return "", classifyScriptError(msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// scriptErrorCode matches the error number osascript appends to its
// message, e.g. "... Invalid index. (-1719)". Window titles appear earlier
// in the message and must never be mistaken for the code.
var scriptErrorCode = regexp.MustCompile(`\((-?\d+)\)\s*$`)

// axErrorCode matches Accessibility API failures printed as "AXError -25211".
var axErrorCode = regexp.MustCompile(`^AXError (-?\d+)\s*$`)

// Codes by class. -1719 is shared by "Invalid index" lookups and missing
// assistive access, so the index case is checked first.
var (
	permissionCodes  = map[string]bool{"1002": true, "-1719": true, "-25211": true, "-1743": true}
	unavailableCodes = map[string]bool{"-600": true, "-10810": true}
	notFoundCodes    = map[string]bool{"-1728": true}
)

const (
	missingIndex    = "Invalid index."
	assistiveAccess = "not allowed assistive access"
)

// errorCode returns the trailing osascript error number, or "".
func errorCode(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if m := scriptErrorCode.FindStringSubmatch(stderr); m != nil {
		return m[1]
	}
	if m := axErrorCode.FindStringSubmatch(stderr); m != nil {
		return m[1]
	}
	return ""
}

func classifyScriptError(stderr string) error {
	code := errorCode(stderr)
	switch {
	case code == "-1719" && strings.Contains(stderr, missingIndex):
		return fmt.Errorf("osascript: %s: %w", stderr, backend.ErrElementNotFound)
	case permissionCodes[code]:
		return fmt.Errorf("osascript: %s: %w", stderr, backend.ErrPermissionDenied)
	case unavailableCodes[code]:
		return fmt.Errorf("osascript: %s: %w", stderr, backend.ErrBackendUnavailable)
	case notFoundCodes[code]:
		return fmt.Errorf("osascript: %s: %w", stderr, backend.ErrElementNotFound)
	case code == "" && strings.Contains(stderr, assistiveAccess):
		return fmt.Errorf("osascript: %s: %w", stderr, backend.ErrPermissionDenied)
	}
	return fmt.Errorf("osascript failed: %s", stderr)
}
