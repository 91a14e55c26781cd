package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_InvalidLevel(t *testing.T) {
	err := Setup(LogConfig{Level: "loud", Output: "stderr"})
	assert.Error(t, err)
}

func TestSetup_FileOutput(t *testing.T) {
	previous := log.Logger
	t.Cleanup(func() {
		log.Logger = previous
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	})

	path := filepath.Join(t.TempDir(), "invoiceocr.log")
	require.NoError(t, Setup(LogConfig{Level: "debug", Format: "json", Output: path}))

	l := WithComponent("pipeline")
	l.Info().Str("invoice_number", "F2025-001").Msg("Invoice assembled")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"component":"pipeline"`)
	assert.Contains(t, string(content), `"invoice_number":"F2025-001"`)
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).With().Str("request_id", "req-1").Logger()

	ctx := IntoContext(context.Background(), l)
	FromContext(ctx).Info().Msg("hello")

	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	assert.Equal(t, &log.Logger, FromContext(context.Background()))
}
