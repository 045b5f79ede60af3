package chain

import (
	"errors"
	"fmt"
)

// RejectCode categorizes why a candidate capsule was refused.
type RejectCode string

const (
	// CodeMalformed means the claimed id does not match the recomputed
	// hash (tamper or corruption). Never queued, never retried.
	CodeMalformed RejectCode = "MALFORMED"

	// CodeUnknownParent means prev_id matches no accepted capsule. The
	// candidate is held pending arrival of its parent, bounded by the
	// queue's retry ceiling.
	CodeUnknownParent RejectCode = "UNKNOWN_PARENT"

	// CodeStaleTimestamp means sequence_time precedes the parent's by
	// more than the skew tolerance. Will never become valid; not retried.
	CodeStaleTimestamp RejectCode = "STALE_TIMESTAMP"

	// CodeDuplicate means the capsule is already accepted or already
	// recorded as an orphan. Re-delivery is a no-op.
	CodeDuplicate RejectCode = "DUPLICATE"
)

// ValidationError is a domain rejection from the chain validator.
// It is a local decision, never an aborting error: batch integration
// records it in the outcome list and continues.
type ValidationError struct {
	Code      RejectCode
	CapsuleID string
	Message   string
}

func (e *ValidationError) Error() string {
	if e.CapsuleID != "" {
		return fmt.Sprintf("%s: %s (capsule=%s)", e.Code, e.Message, e.CapsuleID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf extracts the reject code from a wrapped validation error, or
// "" if err is not a validation error.
func CodeOf(err error) RejectCode {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// IsUnknownParent reports whether err is an orphan-hold rejection.
func IsUnknownParent(err error) bool {
	return CodeOf(err) == CodeUnknownParent
}

// IsDuplicate reports whether err is a duplicate rejection.
func IsDuplicate(err error) bool {
	return CodeOf(err) == CodeDuplicate
}
