package dispatcher

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/chatpilot-cli/internal/backend"
)

// Reasons reported to the operator, one per failure class. Everything that
// is neither a permission problem nor a missing control is ReasonFailed.
const (
	ReasonPermission = "automation permission missing"
	ReasonNotFound   = "could not find expected control"
	ReasonFailed     = "action failed"
)

// ActionError is a failed dispatcher step with its operator facing reason.
type ActionError struct {
	Step   string
	Reason string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Reason, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Hint returns remediation text for failures the operator can fix, or "".
func (e *ActionError) Hint() string {
	return backend.Remediation(e.Err)
}

func classify(step string, err error) *ActionError {
	var existing *ActionError
	if errors.As(err, &existing) {
		return existing
	}
	reason := ReasonFailed
	switch {
	case errors.Is(err, backend.ErrPermissionDenied):
		reason = ReasonPermission
	case errors.Is(err, backend.ErrElementNotFound):
		reason = ReasonNotFound
	}
	return &ActionError{Step: step, Reason: reason, Err: err}
}
