package pipeline

import (
	"errors"
	"fmt"
)

// Pipeline error kinds
var (
	// ErrExtractionFailed is recorded when a stage panicked on malformed input. The caller still
	// receives a minimal record.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrPersistence is returned when the assembled record could not be stored.
	ErrPersistence = errors.New("invoice could not be persisted")
)

// PipelineError wraps a pipeline failure with the stage it happened in
type PipelineError struct {
	Op      string
	Stage   string
	Err     error
	Details string
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("pipeline: %s failed", e.Op)
	if e.Stage != "" {
		msg += fmt.Sprintf(" at %s", e.Stage)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(op, stage string, err error, details string) *PipelineError {
	return &PipelineError{
		Op:      op,
		Stage:   stage,
		Err:     err,
		Details: details,
	}
}
