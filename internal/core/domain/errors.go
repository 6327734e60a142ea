package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEntryNotFound      = errors.New("journal entry not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTemporary          = errors.New("temporary failure")
	ErrDuplicateHash      = errors.New("duplicate content hash")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrExtractionFailed   = errors.New("text extraction failed")
	ErrEmbeddingFailed    = errors.New("embedding failed")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrStatusConflict     = errors.New("status changed concurrently")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsRetryable reports whether an operation failing with err may succeed when
// repeated later without any change in input.
func IsRetryable(err error) bool {
	return IsKind(err, ErrStorageUnavailable) || IsKind(err, ErrTemporary)
}
