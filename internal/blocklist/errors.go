package blocklist

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrAlreadyBlocked       = errors.New("ip already blocked")
	ErrNotBlocked           = errors.New("ip not blocked")
	ErrReconciliationFailed = errors.New("firewall reconciliation failed")
)

// Failure is one firewall action that did not succeed.
type Failure struct {
	IP     string
	Action string
	Err    error
}

// ReconcileError reports the actions that failed. The store mutation that
// triggered them is kept.
type ReconcileError struct {
	Failures []Failure
}

func (e *ReconcileError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s: %v", f.Action, f.IP, f.Err))
	}
	return fmt.Sprintf("%v: %s", ErrReconciliationFailed, strings.Join(parts, "; "))
}

func (e *ReconcileError) Is(target error) bool {
	return target == ErrReconciliationFailed
}

// Unwrap exposes the underlying firewall errors to errors.As.
func (e *ReconcileError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
