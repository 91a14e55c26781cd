package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoiceocr/internal/enrichment"
	"invoiceocr/internal/logger"
	"invoiceocr/internal/ocr"
	"invoiceocr/pkg/models"
)

var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Extract, resolve and reconcile one invoice",
	Long: `Run the full pipeline on one document and print the invoice record as JSON.

The input can be:
  - an image or PDF, read with Google Cloud Vision OCR first
  - a .json file written by "invoiceocr ocr --json"
  - a .txt file holding OCR text, or "-" to read text from stdin

Supplier and company are resolved against the database when DATABASE_DSN is set,
otherwise against --reference when given.`,
	Example: `  # Process a scan and print the record
  invoiceocr process scan.png

  # Process OCR text with reference data from a file
  invoiceocr process facture.txt --reference reference.json

  # Combine OCR with Document AI fields and store the result
  invoiceocr process facture.pdf --enrich --save`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	processCmd.Flags().String("reference", "", "JSON file with companies and suppliers, used without a database")
	processCmd.Flags().Bool("save", false, "Store the record in the database")
	processCmd.Flags().Bool("enrich", false, "Also read the document with Document AI")
	processCmd.Flags().String("language", "", "OCR language hint (default: OCR_LANGUAGE)")
	processCmd.Flags().Bool("no-preprocess", false, "Send images to the OCR engine unchanged")
	processCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("process")
	start := time.Now()

	outputPath, _ := cmd.Flags().GetString("output")
	referenceFile, _ := cmd.Flags().GetString("reference")
	save, _ := cmd.Flags().GetBool("save")
	enrich, _ := cmd.Flags().GetBool("enrich")
	language, _ := cmd.Flags().GetString("language")
	noPreprocess, _ := cmd.Flags().GetBool("no-preprocess")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, appOptions{requireDB: save, referenceFile: referenceFile}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if language == "" {
		language = a.cfg.OCRLanguage
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	path := args[0]
	input, err := readInput(ctx, a, path, language, !noPreprocess, log)
	if err != nil {
		return err
	}

	var enriched *enrichment.Result
	if enrich {
		if input.content == nil {
			return fmt.Errorf("--enrich needs an image or PDF input")
		}
		enricher, err := createEnricher(ctx, a.cfg, log)
		if err != nil {
			return err
		}
		defer enricher.Close()

		enriched, err = enricher.Enrich(ctx, input.content, "")
		if err != nil {
			return handleEnrichmentError(err, log)
		}
	}

	var rec *models.InvoiceRecord
	if save {
		rec, err = a.processor.ProcessAndStore(ctx, a.repo, input.doc, enriched, input.filename)
		if err != nil {
			return err
		}
	} else {
		rec = a.processor.ProcessWithEnrichment(ctx, input.doc, enriched, input.filename)
	}

	log.Info().
		Str("invoice_number", rec.InvoiceNumber).
		Str("supplier", rec.SupplierName()).
		Float64("quality", rec.Verdict.DataQualityScore).
		Bool("accepted", a.processor.Accept(rec)).
		Bool("saved", save).
		Str("duration", durationSince(start)).
		Msg("Document processed")

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	return writeOutput(data, outputPath, log)
}

type processInput struct {
	doc      models.RawDocument
	content  []byte // Original image or PDF bytes, nil for text inputs
	filename string
}

func readInput(ctx context.Context, a *app, path, language string, preprocess bool, log zerolog.Logger) (*processInput, error) {
	if path == "-" {
		text, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return &processInput{doc: models.RawDocument{Text: string(text), Language: language}, filename: "stdin"}, nil
	}

	if isTextInput(path) {
		return readDocument(ctx, path, language, a.cfg.GetFileValidator(), nil, log)
	}

	extractor, closeFn, err := createOCRService(ctx, a.cfg, preprocess, log)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	return readDocument(ctx, path, language, a.cfg.GetFileValidator(), extractor, log)
}

// isTextInput reports whether the file holds OCR output rather than a scan
func isTextInput(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".json":
		return true
	}
	return false
}

// readDocument loads one input file. Images and PDFs go through the extractor.
func readDocument(ctx context.Context, path, language string, validator ocr.FileValidator, extractor ocr.TextExtractor, log zerolog.Logger) (*processInput, error) {
	filename := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read text file: %w", err)
		}
		return &processInput{doc: models.RawDocument{Text: string(text), Language: language}, filename: filename}, nil

	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read OCR result: %w", err)
		}
		var result ocr.OCRResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("invalid OCR result %s: %w", path, err)
		}
		var named struct {
			FileName string `json:"file_name"`
		}
		if json.Unmarshal(data, &named) == nil && named.FileName != "" {
			filename = named.FileName
		}
		return &processInput{doc: result.Document(language), filename: filename}, nil
	}

	if _, err := validateInputFile(path, validator, log); err != nil {
		return nil, err
	}
	if extractor == nil {
		return nil, fmt.Errorf("%s needs OCR but no OCR service is available", filename)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	result, err := extractor.ExtractText(ctx, bytes.NewReader(content), language)
	if err != nil {
		return nil, handleOCRError(err, log)
	}
	return &processInput{doc: result.Document(language), content: content, filename: filename}, nil
}
