// Package ocr turns scanned invoices into text with positioned words.
//
// Text detection runs on Google Cloud Vision. Images can be cleaned up first (grayscale, contrast,
// sharpening) by wrapping an extractor with NewPreprocessingExtractor.
//
// Required Environment Variables:
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//
// Cloud Vision API Limitations:
//   - Maximum file size: 20MB for synchronous processing
//   - Maximum pages: 5 pages for synchronous PDF processing
package ocr

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"invoiceocr/pkg/models"
)

// TextExtractor extracts text from a scanned document.
type TextExtractor interface {
	// ExtractText runs OCR on an image or PDF. language is an ISO 639 code ("fra" or "fr").
	ExtractText(ctx context.Context, image io.Reader, language string) (*OCRResult, error)
}

// OCRResult contains the results of OCR processing with metadata.
type OCRResult struct {
	// Text is the extracted text content from all pages, concatenated in reading order.
	Text string `json:"text"`

	// Words are the detected words with their page coordinates.
	Words []models.Word `json:"words,omitempty"`

	// Confidence is the average word confidence (0.0 to 1.0), zero when the engine reports none.
	Confidence float64 `json:"confidence"`

	PageCount     int      `json:"page_count"`
	LanguageCodes []string `json:"language_codes,omitempty"`

	ProcessedAt        time.Time     `json:"processed_at"`
	ProcessingDuration time.Duration `json:"processing_duration"`
}

// Document converts the result into the pipeline input
func (r *OCRResult) Document(language string) models.RawDocument {
	if len(r.LanguageCodes) > 0 {
		language = r.LanguageCodes[0]
	}
	return models.RawDocument{
		Text:       r.Text,
		Words:      r.Words,
		Confidence: r.Confidence,
		Language:   language,
	}
}

// FileValidator checks uploads before they reach the OCR engine
type FileValidator struct {
	MaxBytes          int64
	AllowedExtensions []string // Lowercase, without the dot
}

// Validate rejects files that are too large or have an extension outside the allowed list
func (v FileValidator) Validate(filename string, size int64) error {
	const op = "Validate"

	if v.MaxBytes > 0 && size > v.MaxBytes {
		return NewOCRError(op, ErrFileTooLarge, fmt.Sprintf("%s: %d bytes, limit %d", filename, size, v.MaxBytes))
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	for _, allowed := range v.AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return NewOCRError(op, ErrUnsupportedExtension, fmt.Sprintf("%q (allowed: %s)", ext, strings.Join(v.AllowedExtensions, ", ")))
}

// languageHint maps three-letter language codes to the two-letter hints Vision expects
func languageHint(language string) string {
	switch strings.ToLower(language) {
	case "":
		return ""
	case "fra", "fre":
		return "fr"
	case "eng":
		return "en"
	case "deu", "ger":
		return "de"
	case "spa":
		return "es"
	case "ita":
		return "it"
	case "nld", "dut":
		return "nl"
	default:
		return strings.ToLower(language)
	}
}
