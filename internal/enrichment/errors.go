package enrichment

import (
	"errors"
	"fmt"
)

// Common enrichment errors
var (
	// ErrUnsupportedFormat is returned when the document is neither a PDF nor a supported image.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrProcessingFailed is returned when Document AI processing fails.
	ErrProcessingFailed = errors.New("document AI processing failed")

	// ErrInvalidCredentials is returned when Google Cloud credentials are invalid
	// or do not have the necessary permissions.
	ErrInvalidCredentials = errors.New("invalid Google Cloud credentials")

	// ErrMissingCredentials is returned when Google Cloud credentials are not configured.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials")

	// ErrInvalidConfiguration is returned when the Document AI configuration is invalid.
	ErrInvalidConfiguration = errors.New("invalid Document AI configuration")

	// ErrProcessorNotFound is returned when the configured processor cannot be found or accessed.
	ErrProcessorNotFound = errors.New("Document AI processor not found")

	// ErrQuotaExceeded is returned when Document AI API quota limits are exceeded.
	ErrQuotaExceeded = errors.New("Document AI API quota exceeded")

	// ErrDocumentTooLarge is returned when the document exceeds size limits.
	ErrDocumentTooLarge = errors.New("document exceeds maximum size limit")

	// ErrContextCanceled is returned when enrichment is canceled via context.
	ErrContextCanceled = errors.New("enrichment was canceled")
)

// EnrichmentError wraps errors with the operation that failed
type EnrichmentError struct {
	// Op is the operation that failed (e.g., "Enrich").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

func (e *EnrichmentError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("enrichment: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("enrichment: %s failed: %v", e.Op, e.Err)
}

func (e *EnrichmentError) Unwrap() error {
	return e.Err
}

func (e *EnrichmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEnrichmentError creates a new EnrichmentError
func NewEnrichmentError(op string, err error, details string) *EnrichmentError {
	return &EnrichmentError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapEnrichmentError wraps an error as an EnrichmentError if it isn't already one
func WrapEnrichmentError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var enrichErr *EnrichmentError
	if errors.As(err, &enrichErr) {
		return err
	}

	return NewEnrichmentError(op, err, details)
}
