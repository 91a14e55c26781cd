package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoiceocr/internal/config"
	"invoiceocr/internal/logger"
	"invoiceocr/internal/ocr"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [file]",
	Short: "Extract text from a scanned invoice using Google Cloud Vision OCR",
	Long: `Run Google Cloud Vision document text detection on an image (PNG, JPEG) or a
PDF of up to 5 pages. Images are converted to grayscale, contrasted and sharpened
before detection unless --no-preprocess is set.

With --json the output carries the positioned words and the confidence, and can
be fed back to "invoiceocr process".

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string`,
	Example: `  # Extract text from scan.png to stdout
  invoiceocr ocr scan.png

  # Keep words and confidence for later processing
  invoiceocr ocr scan.png --json -o scan.json
  invoiceocr process scan.json`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

// OCROutput represents the JSON output structure when --json flag is used
type OCROutput struct {
	ocr.OCRResult
	ProcessingDuration string `json:"processing_duration,omitempty"`
	FileName           string `json:"file_name"`
	FileSize           int64  `json:"file_size"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().Bool("json", false, "Output as JSON with words and confidence")
	ocrCmd.Flags().String("language", "", "Language hint (default: OCR_LANGUAGE)")
	ocrCmd.Flags().Bool("no-preprocess", false, "Send images to the OCR engine unchanged")
	ocrCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	language, _ := cmd.Flags().GetString("language")
	noPreprocess, _ := cmd.Flags().GetBool("no-preprocess")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if language == "" {
		language = cfg.OCRLanguage
	}

	path := args[0]
	fileInfo, err := validateInputFile(path, cfg.GetFileValidator(), log)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	extractor, closeFn, err := createOCRService(ctx, cfg, !noPreprocess, log)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := runTextExtraction(ctx, extractor, path, language)
	if err != nil {
		return handleOCRError(err, log)
	}

	log.Info().
		Int("page_count", result.PageCount).
		Int("words", len(result.Words)).
		Float64("confidence", result.Confidence).
		Dur("duration", result.ProcessingDuration).
		Int("text_length", len(result.Text)).
		Msg("OCR processing completed successfully")

	if !jsonOutput {
		return writeOutput([]byte(strings.TrimRight(result.Text, "\n")), outputPath, log)
	}

	data, err := json.MarshalIndent(OCROutput{
		OCRResult:          *result,
		ProcessingDuration: result.ProcessingDuration.String(),
		FileName:           filepath.Base(fileInfo.Name()),
		FileSize:           fileInfo.Size(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	return writeOutput(data, outputPath, log)
}

func runTextExtraction(ctx context.Context, extractor ocr.TextExtractor, path, language string) (*ocr.OCRResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return extractor.ExtractText(ctx, file, language)
}

// validateInputFile checks that the file exists, is a regular file and passes the upload rules
func validateInputFile(path string, validator ocr.FileValidator, log zerolog.Logger) (os.FileInfo, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied accessing file: %s", path)
		}
		return nil, fmt.Errorf("error accessing file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		return nil, fmt.Errorf("path is not a regular file: %s", path)
	}
	if fileInfo.Size() == 0 {
		return nil, fmt.Errorf("file is empty: %s", path)
	}
	if err := validator.Validate(path, fileInfo.Size()); err != nil {
		log.Error().
			Err(err).
			Str("file", path).
			Int64("size", fileInfo.Size()).
			Msg("File rejected")
		return nil, err
	}
	return fileInfo, nil
}

// createOCRService creates the Vision extractor, wrapped with image preprocessing when asked
func createOCRService(ctx context.Context, cfg *config.Config, preprocess bool, log zerolog.Logger) (ocr.TextExtractor, func(), error) {
	service, err := ocr.NewGoogleVisionOCRService(ctx, cfg.GetOCRCredentials())
	if err != nil {
		if errors.Is(err, ocr.ErrMissingCredentials) {
			return nil, nil, fmt.Errorf("Google Cloud credentials not configured. Please set one of:\n\n" +
				"1. Export GOOGLE_APPLICATION_CREDENTIALS with path to service account JSON:\n" +
				"   export GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n\n" +
				"2. Export GOOGLE_CREDENTIALS with inline JSON\n\n" +
				"3. Use Application Default Credentials (if gcloud is configured):\n" +
				"   gcloud auth application-default login")
		}
		log.Error().Err(err).Msg("Failed to create OCR service")
		return nil, nil, fmt.Errorf("failed to create OCR service: %w", err)
	}

	closeFn := func() {
		if err := service.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close OCR client")
		}
	}

	var extractor ocr.TextExtractor = service
	if preprocess {
		extractor = ocr.NewPreprocessingExtractor(service)
	}
	log.Debug().Bool("preprocess", preprocess).Msg("OCR service created successfully")
	return extractor, closeFn, nil
}

// handleOCRError provides user-friendly error messages for OCR failures
func handleOCRError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("OCR processing failed")

	errStr := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("OCR processing timed out. Try increasing --timeout or processing a smaller file")
	case errors.Is(err, context.Canceled), errors.Is(err, ocr.ErrContextCanceled):
		return fmt.Errorf("OCR processing was canceled")
	case errors.Is(err, ocr.ErrFileTooLarge):
		return fmt.Errorf("file is too large (maximum %d bytes). Try compressing or splitting the file", ocr.MaxFileSizeBytes)
	case errors.Is(err, ocr.ErrTooManyPages):
		return fmt.Errorf("PDF has too many pages (maximum %d pages). Try splitting into smaller files", ocr.MaxPagesSync)
	case errors.Is(err, ocr.ErrInvalidImage):
		return fmt.Errorf("invalid or corrupted image. Please check the file integrity")
	case errors.Is(err, ocr.ErrEmptyDocument):
		return fmt.Errorf("no readable text found in the document")
	case strings.Contains(errStr, "Unauthenticated") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "auth:") ||
		strings.Contains(errStr, "transport: per-RPC creds failed"):
		return fmt.Errorf("Google Cloud authentication failed. Please check GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS: %v", err)
	case strings.Contains(errStr, "PERMISSION_DENIED") ||
		strings.Contains(errStr, "PermissionDenied"):
		return fmt.Errorf("permission denied. Please ensure your Google Cloud service account has the 'Cloud Vision API User' role")
	case strings.Contains(errStr, "QUOTA_EXCEEDED") ||
		strings.Contains(errStr, "ResourceExhausted"):
		return fmt.Errorf("Google Cloud Vision API quota exceeded. Check your project quotas in the Google Cloud Console")
	case errors.Is(err, ocr.ErrOCRFailed):
		return fmt.Errorf("OCR processing failed. This may be due to network issues or service unavailability: %w", err)
	default:
		return fmt.Errorf("OCR processing failed: %w", err)
	}
}

func durationSince(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
