package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoiceocr/internal/config"
	"invoiceocr/internal/enrichment"
	"invoiceocr/internal/logger"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich [file]",
	Short: "Read invoice fields with the Google Document AI invoice parser",
	Long: `Send a PDF or image to a Document AI invoice processor and print the fields it
recognized: invoice number, supplier, customer, dates, amounts and currency, with
the confidence of each field.

"invoiceocr process --enrich" combines these fields with the pattern extraction.

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT - Your Google Cloud project ID
  GOOGLE_CLOUD_LOCATION - Processing location (us, eu)
  DOCUMENT_AI_PROCESSOR_ID - Your Document AI invoice processor ID`,
	Example: `  invoiceocr enrich facture.pdf
  invoiceocr enrich facture.pdf -o fields.json`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrich,
}

func init() {
	rootCmd.AddCommand(enrichCmd)

	enrichCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	enrichCmd.Flags().Int("timeout", 120, "Processing timeout in seconds")
}

func runEnrich(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("enrich")

	outputPath, _ := cmd.Flags().GetString("output")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := args[0]
	if _, err := validateInputFile(path, cfg.GetFileValidator(), log); err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	enricher, err := createEnricher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer enricher.Close()

	result, err := enricher.Enrich(ctx, content, "")
	if err != nil {
		return handleEnrichmentError(err, log)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	return writeOutput(data, outputPath, log)
}

// createEnricher creates the Document AI client
func createEnricher(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*enrichment.DocumentAIEnricher, error) {
	if !cfg.HasDocumentAI() {
		return nil, fmt.Errorf("Document AI is not configured. Please set GOOGLE_CLOUD_PROJECT and DOCUMENT_AI_PROCESSOR_ID")
	}

	enricher, err := enrichment.NewDocumentAIEnricher(ctx, cfg.GetEnrichmentConfig())
	if err != nil {
		if errors.Is(err, enrichment.ErrMissingCredentials) || errors.Is(err, enrichment.ErrInvalidCredentials) {
			log.Error().Err(err).Msg("Google Cloud credentials validation failed")
			return nil, fmt.Errorf("Google Cloud credentials validation failed. Please verify:\n\n" +
				"1. Credentials file exists and is readable\n" +
				"2. JSON format is valid\n" +
				"3. Service account has the 'Document AI API User' role\n\n" +
				"Original error: %w", err)
		}
		if errors.Is(err, enrichment.ErrInvalidConfiguration) {
			return nil, fmt.Errorf("invalid Document AI configuration: %w", err)
		}
		return nil, fmt.Errorf("failed to create Document AI client: %w", err)
	}
	return enricher, nil
}

// handleEnrichmentError provides user-friendly error messages for Document AI failures
func handleEnrichmentError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Document AI processing failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("invoice processing timed out. Try increasing --timeout")
	case errors.Is(err, context.Canceled), errors.Is(err, enrichment.ErrContextCanceled):
		return fmt.Errorf("invoice processing was canceled")
	case errors.Is(err, enrichment.ErrUnsupportedFormat):
		return fmt.Errorf("unsupported document format. Use PDF, PNG or JPEG: %w", err)
	case errors.Is(err, enrichment.ErrDocumentTooLarge):
		return fmt.Errorf("document is too large (maximum 20MB)")
	case errors.Is(err, enrichment.ErrProcessorNotFound):
		return fmt.Errorf("Document AI processor not found. Check DOCUMENT_AI_PROCESSOR_ID and GOOGLE_CLOUD_LOCATION")
	case errors.Is(err, enrichment.ErrQuotaExceeded):
		return fmt.Errorf("Document AI quota exceeded. Check your project quotas in the Google Cloud Console")
	case errors.Is(err, enrichment.ErrInvalidCredentials), strings.Contains(err.Error(), "Unauthenticated"):
		return fmt.Errorf("Google Cloud authentication failed: %w", err)
	default:
		return fmt.Errorf("invoice processing failed: %w", err)
	}
}
