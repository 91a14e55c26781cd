package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceocr/internal/reference"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "fra", cfg.OCRLanguage)
	assert.Equal(t, []string{"png", "jpg", "jpeg", "pdf"}, cfg.AllowedExtensions)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxFileSizeBytes())
	assert.Equal(t, 0.8, cfg.ConfidenceThreshold)
	assert.Equal(t, 60*time.Second, cfg.ReferenceCacheTTL)
	assert.Equal(t, 4, cfg.BatchWorkers)
	assert.Equal(t, reference.DefaultOptions(), cfg.GetReferenceOptions())
	assert.Equal(t, "France", cfg.GetExtractionOptions().DefaultCountry)
	assert.Equal(t, "0.2", cfg.GetExtractionOptions().DefaultVATRate.String())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("DATABASE_DSN", "file:invoices.db")
	t.Setenv("ALLOWED_EXTENSIONS", " .PNG, pdf ,")
	t.Setenv("COMPANY_FALLBACK", "first-record")
	t.Setenv("SIMILARITY_THRESHOLD", "0.45")
	t.Setenv("DEFAULT_VAT_RATE", "0.055")
	t.Setenv("GOOGLE_PROJECT_ID", "proj")
	t.Setenv("DOCUMENT_AI_PROCESSOR_ID", "abc")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.HasDatabase())
	assert.Equal(t, []string{"png", "pdf"}, cfg.AllowedExtensions)
	assert.Equal(t, reference.FallbackFirstRecord, cfg.GetReferenceOptions().CompanyFallback)
	assert.Equal(t, 0.45, cfg.GetReferenceOptions().SimilarityThreshold)
	assert.Equal(t, "0.055", cfg.GetExtractionOptions().DefaultVATRate.String())
	assert.True(t, cfg.HasDocumentAI())
	assert.Equal(t, "proj", cfg.GetEnrichmentConfig().ProjectID)
	assert.Equal(t, cfg.GoogleCredentialsFile, cfg.GetSheetsCredentials().File)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"DATABASE_DRIVER", "mysql"},
		{"OCR_PROVIDER", "tesseract"},
		{"MAX_FILE_SIZE_MB", "-1"},
		{"CONFIDENCE_THRESHOLD", "1.5"},
		{"SIMILARITY_THRESHOLD", "1"},
		{"COMPANY_FALLBACK", "random"},
		{"DEFAULT_VAT_RATE", "twenty"},
		{"DEFAULT_CURRENCY", "EURO"},
		{"BATCH_WORKERS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestConfig_GetFileValidator(t *testing.T) {
	t.Setenv("MAX_FILE_SIZE_MB", "2")
	t.Setenv("ALLOWED_EXTENSIONS", ".PDF, png")

	cfg, err := Load()
	require.NoError(t, err)

	v := cfg.GetFileValidator()
	assert.Equal(t, int64(2*1024*1024), v.MaxBytes)
	assert.Equal(t, []string{"pdf", "png"}, v.AllowedExtensions)
	assert.NoError(t, v.Validate("facture.pdf", 1024))
}
