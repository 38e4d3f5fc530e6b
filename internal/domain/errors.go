package domain

import "fmt"

// Sentinel errors for the domain layer. Handlers map these onto HTTP
// status codes; everything else is an internal error.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrAuthInvalid  = fmt.Errorf("authentication failed")
	ErrInvalidInput = fmt.Errorf("invalid input")

	// ErrBrowserFailure marks errors raised by the automation backend.
	// These are never surfaced synchronously; the runner captures them
	// into the record's error phase for later polling.
	ErrBrowserFailure = fmt.Errorf("browser automation failed")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g. "ProfileStore.Archive")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp wraps err with an operation prefix, preserving nil.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
