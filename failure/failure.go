// Package failure defines the error kinds a verification run can produce.
// Stages return *Error values; the coordinator inspects the Kind to decide
// whether a problem ends the run or is only reported.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// RequestFailed means the remote call itself errored (transport, auth,
	// permissions). The affected stage aborts immediately.
	RequestFailed Kind = "REQUEST_FAILED"
	// TimeoutExceeded means no positive evidence was observed before the
	// deadline.
	TimeoutExceeded Kind = "TIMEOUT_EXCEEDED"
	// VerificationFailed means a single-shot check answered negatively.
	VerificationFailed Kind = "VERIFICATION_FAILED"
	// BestEffortWarning covers non-essential operations. Never fatal.
	BestEffortWarning Kind = "BEST_EFFORT_WARNING"
)

// Error is a classified failure of one operation.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "s3:ListObjectsV2"
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fatal reports whether the failure should end the run.
func (e *Error) Fatal() bool {
	return e != nil && e.Kind != BestEffortWarning
}

// Request wraps a provider error returned by op.
func Request(op string, err error) *Error {
	return &Error{Kind: RequestFailed, Op: op, Err: err}
}

// Timeout reports that op saw no evidence within wait.
func Timeout(op string, wait fmt.Stringer) *Error {
	return &Error{Kind: TimeoutExceeded, Op: op, Err: fmt.Errorf("no evidence after %s", wait)}
}

// Verification reports a negative answer from op.
func Verification(op string, reason string) *Error {
	return &Error{Kind: VerificationFailed, Op: op, Err: errors.New(reason)}
}

// Warning wraps a non-fatal error from op.
func Warning(op string, err error) *Error {
	return &Error{Kind: BestEffortWarning, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries a failure of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
