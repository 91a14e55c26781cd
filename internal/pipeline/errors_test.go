package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineError(t *testing.T) {
	cause := errors.New("duplicate key")
	err := NewPipelineError("ProcessAndStore", StagePersistence, errors.Join(ErrPersistence, cause), "F2025-001")

	assert.Equal(t, "pipeline: ProcessAndStore failed at "+StagePersistence+": F2025-001: invoice could not be persisted\nduplicate key", err.Error())
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrExtractionFailed)

	bare := NewPipelineError("ProcessDocument", "", ErrExtractionFailed, "")
	assert.Equal(t, "pipeline: ProcessDocument failed: extraction failed", bare.Error())
}
