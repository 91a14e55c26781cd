package persistence

import (
	"errors"
	"fmt"
)

// Common persistence errors
var (
	// ErrUnsupportedDriver is returned for a database driver other than postgres or sqlite.
	ErrUnsupportedDriver = errors.New("unsupported database driver")

	// ErrConnectionFailed is returned when the database cannot be opened or pinged.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrSaveFailed is returned when an invoice transaction is rolled back.
	ErrSaveFailed = errors.New("invoice save failed")

	// ErrQueryFailed is returned when a read query fails.
	ErrQueryFailed = errors.New("database query failed")
)

// RepositoryError wraps a database error with the operation that failed
type RepositoryError struct {
	Op      string
	Err     error
	Details string
}

func (e *RepositoryError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("persistence: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("persistence: %s failed: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

func (e *RepositoryError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRepositoryError creates a new RepositoryError
func NewRepositoryError(op string, err error, details string) *RepositoryError {
	return &RepositoryError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapRepositoryError wraps err as a RepositoryError if it isn't already one
func WrapRepositoryError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var repoErr *RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}

	return NewRepositoryError(op, err, details)
}
