package ledger

import (
	"errors"
	"fmt"
)

// Domain errors. Callers branch on these with errors.Is; detail is carried
// in the wrapping message.
var (
	// ErrNotFound means the referenced transaction, split or category does
	// not exist or belongs to another user.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument means the request violates a ledger invariant
	// (split sum mismatch, split count below two, unsplitting a non-split
	// transaction). Nothing was written.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict means a concurrent writer already claimed one side of a
	// transfer link. The caller may retry or skip.
	ErrConflict = errors.New("conflict")
)

// InvalidArgumentf wraps ErrInvalidArgument with a formatted detail message.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
