package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Failure classes shared by every backend. Implementations wrap these with
// context using fmt.Errorf("...: %w", ...).
var (
	// ErrBackendUnavailable means the target app or page is not running.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrPermissionDenied means the OS refused automation (accessibility not granted).
	ErrPermissionDenied = errors.New("automation permission denied")
	// ErrTimeout means an enumerate or read call exceeded its budget.
	ErrTimeout = errors.New("backend operation timed out")
	// ErrElementNotFound means no strategy located the requested control.
	ErrElementNotFound = errors.New("element not found")
	// ErrUnsupportedStrategy is returned by Locate for kinds the backend cannot
	// evaluate. It is treated like a not-found result.
	ErrUnsupportedStrategy = errors.New("strategy not supported by backend")
	// ErrClosed is returned by adapters used after Close.
	ErrClosed = errors.New("backend closed")
	// ErrNoPageContext is the browser form of a permission failure: the
	// browser started but exposed no page to drive.
	ErrNoPageContext = fmt.Errorf("no page context: %w", ErrPermissionDenied)
)

// PermissionRemediation tells the operator how to grant the missing permission.
const PermissionRemediation = "grant Accessibility access to this terminal in System Settings > Privacy & Security > Accessibility, then restart it"

// PageRemediation is the browser counterpart of PermissionRemediation.
const PageRemediation = "close any other Chrome using the browser profile directory, then run 'chatpilot login' again"

// Remediation returns operator guidance for permission failures, or "".
func Remediation(err error) string {
	switch {
	case errors.Is(err, ErrNoPageContext):
		return PageRemediation
	case errors.Is(err, ErrPermissionDenied):
		return PermissionRemediation
	}
	return ""
}

// ElementNotFoundError is returned when a strategy chain is exhausted.
type ElementNotFoundError struct {
	Attempted []Strategy
	Causes    []error
}

func (e *ElementNotFoundError) Error() string {
	names := make([]string, len(e.Attempted))
	for i, s := range e.Attempted {
		names[i] = s.String()
	}
	return fmt.Sprintf("element not found after %d strategies [%s]", len(e.Attempted), strings.Join(names, "; "))
}

// Is makes errors.Is(err, ErrElementNotFound) hold for the typed error.
func (e *ElementNotFoundError) Is(target error) bool {
	return target == ErrElementNotFound
}

func (e *ElementNotFoundError) Unwrap() []error {
	return e.Causes
}

// IsNotFoundClass reports whether err means "try the next strategy".
func IsNotFoundClass(err error) bool {
	return errors.Is(err, ErrElementNotFound) || errors.Is(err, ErrUnsupportedStrategy)
}

// IsFatal reports whether err must abort the current operation rather than
// fall through to an alternative.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrClosed)
}
