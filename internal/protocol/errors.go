package protocol

import (
	"errors"
	"fmt"
)

// Reject reasons for inbound frames that fail envelope validation.
// Rejections are non-fatal: the frame is dropped and the session continues.
var (
	ErrNotAnObject     = errors.New("not-an-object")
	ErrVersionMismatch = errors.New("version-mismatch")
	ErrMissingType     = errors.New("missing-type")
)

// RejectError carries a reject reason together with frame detail for the
// warning log. Unwrap exposes the reason sentinel for errors.Is checks.
type RejectError struct {
	Reason error
	Detail string
}

// Error implements the error interface.
func (e *RejectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("envelope rejected: %v", e.Reason)
	}
	return fmt.Sprintf("envelope rejected: %v (%s)", e.Reason, e.Detail)
}

// Unwrap returns the reject reason sentinel.
func (e *RejectError) Unwrap() error {
	return e.Reason
}
