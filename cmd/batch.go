package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoiceocr/internal/enrichment"
	"invoiceocr/internal/logger"
	"invoiceocr/internal/ocr"
	"invoiceocr/internal/sheets"
	"invoiceocr/pkg/models"
)

var batchCmd = &cobra.Command{
	Use:   "batch [folder-path]",
	Short: "Process every invoice of a folder in parallel",
	Long: `Run the pipeline on every supported file of a folder and print a summary.

Images and PDFs are read with Google Cloud Vision OCR. Text files and JSON files
written by "invoiceocr ocr --json" are processed without OCR.

With --sheet (or GOOGLE_SHEET_URL) one row per file is appended to a Google Sheet.

Optional environment variables:
  BATCH_WORKERS - Number of parallel workers (default: 4)
  GOOGLE_SHEET_URL - Google Sheets URL to write results`,
	Example: `  # Process a folder of scans and store the invoices
  invoiceocr batch ./factures --save

  # Process OCR text files against a reference file and export to a sheet
  invoiceocr batch ./ocr --reference reference.json --sheet https://docs.google.com/spreadsheets/d/<id>/edit`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

type batchJob struct {
	path  string
	index int
}

// batchDeps is what one worker needs to process a file
type batchDeps struct {
	app       *app
	extractor ocr.TextExtractor // nil when the folder holds text inputs only
	enricher  enrichment.Enricher
	language  string
	save      bool
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().String("reference", "", "JSON file with companies and suppliers, used without a database")
	batchCmd.Flags().Bool("save", false, "Store the records in the database")
	batchCmd.Flags().Bool("enrich", false, "Also read images and PDFs with Document AI")
	batchCmd.Flags().String("sheet", "", "Google Sheets URL to append results to (default: GOOGLE_SHEET_URL)")
	batchCmd.Flags().String("sheet-name", "Factures", "Name of the sheet tab")
	batchCmd.Flags().Int("workers", 0, "Number of parallel workers (default: BATCH_WORKERS)")
	batchCmd.Flags().String("language", "", "OCR language hint (default: OCR_LANGUAGE)")
	batchCmd.Flags().Bool("no-preprocess", false, "Send images to the OCR engine unchanged")
	batchCmd.Flags().Int("timeout", 1800, "Timeout for the whole batch in seconds")
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")
	start := time.Now()

	referenceFile, _ := cmd.Flags().GetString("reference")
	save, _ := cmd.Flags().GetBool("save")
	enrich, _ := cmd.Flags().GetBool("enrich")
	sheetURL, _ := cmd.Flags().GetString("sheet")
	sheetName, _ := cmd.Flags().GetString("sheet-name")
	numWorkers, _ := cmd.Flags().GetInt("workers")
	language, _ := cmd.Flags().GetString("language")
	noPreprocess, _ := cmd.Flags().GetBool("no-preprocess")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	folderPath := args[0]
	if info, err := os.Stat(folderPath); err != nil || !info.IsDir() {
		return fmt.Errorf("folder not found: %s", folderPath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sheetURL == "" {
		sheetURL = cfg.GoogleSheetURL
	}
	if numWorkers <= 0 {
		numWorkers = cfg.BatchWorkers
	}
	if language == "" {
		language = cfg.OCRLanguage
	}

	files, err := findInputFiles(folderPath, cfg.AllowedExtensions)
	if err != nil {
		return fmt.Errorf("failed to list input files: %w", err)
	}
	if len(files) == 0 {
		fmt.Println("No supported files found in folder.")
		return nil
	}

	a, err := newApp(cfg, appOptions{requireDB: save, referenceFile: referenceFile, cacheTTL: cfg.ReferenceCacheTTL}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	deps := batchDeps{app: a, language: language, save: save}

	if needsOCR(files) {
		extractor, closeFn, err := createOCRService(ctx, cfg, !noPreprocess, log)
		if err != nil {
			return err
		}
		defer closeFn()
		deps.extractor = extractor

		if enrich {
			enricher, err := createEnricher(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer enricher.Close()
			deps.enricher = enricher
		}
	}

	fmt.Printf("Processing %d files with %d parallel workers...\n\n", len(files), numWorkers)

	results := processFilesInParallel(ctx, files, deps, numWorkers, log)

	counts := map[string]int{}
	for _, result := range results {
		counts[result.Status]++
	}

	fmt.Println()
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("                 SUMMARY")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Complete: %d\n", counts[sheets.StatusComplete])
	if counts[sheets.StatusDraft] > 0 {
		fmt.Printf("Draft: %d\n", counts[sheets.StatusDraft])
	}
	if counts[sheets.StatusError] > 0 {
		fmt.Printf("Errors: %d\n", counts[sheets.StatusError])
	}

	if sheetURL != "" {
		fmt.Println("Writing results to Google Sheet...")

		sheetsService, err := sheets.NewSheetsService(ctx, sheetURL, cfg.GetSheetsCredentials())
		if err != nil {
			return fmt.Errorf("failed to create Google Sheets service: %w", err)
		}
		if err := sheetsService.WriteInvoices(ctx, results, sheetName); err != nil {
			return fmt.Errorf("failed to write to Google Sheet: %w", err)
		}

		fmt.Printf("Sheet: %s\n", sheetName)
		fmt.Printf("Rows added: %d\n", len(results))
		fmt.Printf("URL: %s\n", sheetURL)
	}
	fmt.Println(strings.Repeat("=", 50))

	log.Info().
		Int("total", len(files)).
		Int("complete", counts[sheets.StatusComplete]).
		Int("draft", counts[sheets.StatusDraft]).
		Int("errors", counts[sheets.StatusError]).
		Str("duration", durationSince(start)).
		Msg("Batch processing completed")

	return nil
}

// findInputFiles lists the files of a folder that the pipeline can read, in walk order
func findInputFiles(folderPath string, allowedExtensions []string) ([]string, error) {
	allowed := map[string]bool{"txt": true, "json": true}
	for _, ext := range allowedExtensions {
		allowed[ext] = true
	}

	var files []string
	err := filepath.Walk(folderPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(info.Name())), ".")
		if !info.IsDir() && allowed[ext] {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

func needsOCR(files []string) bool {
	for _, f := range files {
		if !isTextInput(f) {
			return true
		}
	}
	return false
}

func processFilesInParallel(ctx context.Context, files []string, deps batchDeps, numWorkers int, log zerolog.Logger) []sheets.Result {
	jobs := make(chan batchJob, len(files))
	results := make([]sheets.Result, len(files))

	var processedCount int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for job := range jobs {
				log.Debug().
					Int("worker", workerID).
					Str("file", job.path).
					Int("index", job.index+1).
					Msg("Worker processing file")

				result := processBatchFile(ctx, job.path, deps, log)
				results[job.index] = result

				mu.Lock()
				processedCount++
				fmt.Printf("[%d/%d] %s - %s", processedCount, len(files), result.Filename, result.Status)
				if result.Err != nil {
					fmt.Printf(" (%s)", result.Err.Error())
				} else if total := result.Record.Amounts.InclVAT; total.Valid {
					fmt.Printf(" (%s %s)", total.Decimal.StringFixed(2), result.Record.Currency)
				}
				fmt.Println()
				mu.Unlock()
			}
		}(w)
	}

	for i, path := range files {
		jobs <- batchJob{path: path, index: i}
	}
	close(jobs)

	wg.Wait()

	return results
}

// processBatchFile runs one file through the pipeline. Failures end up in the result, never in a panic.
func processBatchFile(ctx context.Context, path string, deps batchDeps, log zerolog.Logger) sheets.Result {
	result := sheets.Result{Filename: filepath.Base(path)}

	input, err := readDocument(ctx, path, deps.language, deps.app.cfg.GetFileValidator(), deps.extractor, log)
	if err != nil {
		result.Err = err
		result.Status = sheets.StatusError
		return result
	}
	result.Filename = input.filename

	var enriched *enrichment.Result
	if deps.enricher != nil && input.content != nil {
		enriched, err = deps.enricher.Enrich(ctx, input.content, "")
		if err != nil {
			log.Warn().Err(err).Str("file", result.Filename).Msg("Enrichment failed, using OCR only")
			enriched = nil
		}
	}

	var rec *models.InvoiceRecord
	if deps.save {
		rec, err = deps.app.processor.ProcessAndStore(ctx, deps.app.repo, input.doc, enriched, input.filename)
	} else {
		rec = deps.app.processor.ProcessWithEnrichment(ctx, input.doc, enriched, input.filename)
	}

	result.Record = rec
	result.Err = err
	result.Status = sheets.StatusOf(rec, err)
	return result
}
