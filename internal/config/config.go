package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"invoiceocr/internal/enrichment"
	"invoiceocr/internal/extraction"
	"invoiceocr/internal/logger"
	"invoiceocr/internal/ocr"
	"invoiceocr/internal/reference"
	"invoiceocr/internal/sheets"
)

type Config struct {
	// Database Configuration
	Database DatabaseConfig

	// OCR Configuration
	OCRProvider       string
	OCRLanguage       string
	MaxFileSizeMB     int
	AllowedExtensions []string

	// Pipeline Configuration
	ConfidenceThreshold float64
	DefaultCountry      string
	DefaultCurrency     string
	DefaultVATRate      string
	CompanyFallback     string
	SimilarityThreshold float64
	ReferenceCacheTTL   time.Duration
	DocumentBaseURL     string

	// HTTP Configuration
	HTTPAddr string

	// Batch Configuration
	BatchWorkers   int
	GoogleSheetURL string

	// Google Cloud Configuration
	GoogleCloudProject         string
	GoogleCloudLocation        string
	DocumentAIProcessorID      string
	DocumentAIProcessorVersion string
	GoogleCredentialsJSON      string
	GoogleCredentialsFile      string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// DatabaseConfig holds the connection settings of the reference and invoice database
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // minutes
}

func Load() (*Config, error) {
	config := &Config{
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
			DSN:             getEnv("DATABASE_DSN", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		},
		OCRProvider:                strings.ToLower(getEnv("OCR_PROVIDER", "vision")),
		OCRLanguage:                getEnv("OCR_LANGUAGE", "fra"),
		MaxFileSizeMB:              getEnvInt("MAX_FILE_SIZE_MB", 10),
		AllowedExtensions:          getEnvList("ALLOWED_EXTENSIONS", "png,jpg,jpeg,pdf"),
		ConfidenceThreshold:        getEnvFloat("CONFIDENCE_THRESHOLD", 0.8),
		DefaultCountry:             getEnv("DEFAULT_COUNTRY", "France"),
		DefaultCurrency:            strings.ToUpper(getEnv("DEFAULT_CURRENCY", "EUR")),
		DefaultVATRate:             getEnv("DEFAULT_VAT_RATE", "0.20"),
		CompanyFallback:            getEnv("COMPANY_FALLBACK", string(reference.FallbackSentinel)),
		SimilarityThreshold:        getEnvFloat("SIMILARITY_THRESHOLD", 0.3),
		ReferenceCacheTTL:          time.Duration(getEnvInt("REFERENCE_CACHE_TTL_SECONDS", 60)) * time.Second,
		DocumentBaseURL:            getEnv("DOCUMENT_BASE_URL", ""),
		HTTPAddr:                   getEnv("HTTP_ADDR", ":8080"),
		BatchWorkers:               getEnvInt("BATCH_WORKERS", 4),
		GoogleSheetURL:             getEnv("GOOGLE_SHEET_URL", ""),
		GoogleCloudProject:         getEnv("GOOGLE_CLOUD_PROJECT", getEnv("GOOGLE_PROJECT_ID", "")),
		GoogleCloudLocation:        getEnv("GOOGLE_CLOUD_LOCATION", "eu"),
		DocumentAIProcessorID:      getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocumentAIProcessorVersion: getEnv("DOCUMENT_AI_PROCESSOR_VERSION", ""),
		GoogleCredentialsJSON:      getEnv("GOOGLE_CREDENTIALS", ""),
		GoogleCredentialsFile:      getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		LogFormat:                  getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:              getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:                  getEnv("LOG_OUTPUT", "stderr"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.OCRProvider != "vision" {
		return fmt.Errorf("OCR_PROVIDER %q is not supported", c.OCRProvider)
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE_MB must be positive")
	}
	if len(c.AllowedExtensions) == 0 {
		return fmt.Errorf("ALLOWED_EXTENSIONS is required")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be between 0 and 1")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold >= 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be between 0 and 1")
	}
	switch reference.CompanyFallback(c.CompanyFallback) {
	case reference.FallbackSentinel, reference.FallbackFirstRecord:
	default:
		return fmt.Errorf("COMPANY_FALLBACK must be %s or %s", reference.FallbackSentinel, reference.FallbackFirstRecord)
	}
	if _, err := decimal.NewFromString(c.DefaultVATRate); err != nil {
		return fmt.Errorf("DEFAULT_VAT_RATE is not a number: %w", err)
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be positive")
	}
	if len(c.DefaultCurrency) != 3 {
		return fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter code")
	}
	return nil
}

// HasDatabase reports whether a database is configured
func (c *Config) HasDatabase() bool {
	return c.Database.DSN != ""
}

// HasDocumentAI reports whether the Document AI enrichment is configured
func (c *Config) HasDocumentAI() bool {
	return c.GoogleCloudProject != "" && c.DocumentAIProcessorID != ""
}

// MaxFileSizeBytes returns the upload limit in bytes
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// GetExtractionOptions returns the field extractor options
func (c *Config) GetExtractionOptions() extraction.Options {
	opts := extraction.DefaultOptions()
	opts.DefaultCountry = c.DefaultCountry
	if rate, err := decimal.NewFromString(c.DefaultVATRate); err == nil {
		opts.DefaultVATRate = rate
	}
	return opts
}

// GetReferenceOptions returns the resolver options
func (c *Config) GetReferenceOptions() reference.Options {
	return reference.Options{
		SimilarityThreshold: c.SimilarityThreshold,
		CompanyFallback:     reference.CompanyFallback(c.CompanyFallback),
	}
}

// GetEnrichmentConfig returns the Document AI configuration
func (c *Config) GetEnrichmentConfig() enrichment.Config {
	return enrichment.Config{
		ProjectID:        c.GoogleCloudProject,
		Location:         c.GoogleCloudLocation,
		ProcessorID:      c.DocumentAIProcessorID,
		ProcessorVersion: c.DocumentAIProcessorVersion,
		CredentialsJSON:  c.GoogleCredentialsJSON,
		CredentialsFile:  c.GoogleCredentialsFile,
	}
}

// GetOCRCredentials returns the Google Vision credentials
func (c *Config) GetOCRCredentials() ocr.Credentials {
	return ocr.Credentials{
		JSON: c.GoogleCredentialsJSON,
		File: c.GoogleCredentialsFile,
	}
}

// GetFileValidator returns the upload checks
func (c *Config) GetFileValidator() ocr.FileValidator {
	return ocr.FileValidator{
		MaxBytes:          c.MaxFileSizeBytes(),
		AllowedExtensions: c.AllowedExtensions,
	}
}

// GetSheetsCredentials returns the service account used for the Google Sheets export
func (c *Config) GetSheetsCredentials() sheets.Credentials {
	return sheets.Credentials{
		JSON: c.GoogleCredentialsJSON,
		File: c.GoogleCredentialsFile,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, defaultValue), ",") {
		if item = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(item), "."))); item != "" {
			out = append(out, item)
		}
	}
	return out
}
