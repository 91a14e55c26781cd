package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"invoiceocr/internal/api"
	"invoiceocr/internal/logger"
	"invoiceocr/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the invoice pipeline over HTTP",
	Long: `Start the HTTP server.

Endpoints:
  POST /api/v1/invoices/extract  OCR text or words as JSON
  POST /api/v1/invoices/upload   multipart "file" (image or PDF)
  GET  /health
  GET  /metrics                  Prometheus metrics

Uploads need Google Cloud credentials. Records are stored when DATABASE_DSN is set.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: HTTP_ADDR)")
	serveCmd.Flags().String("reference", "", "JSON file with companies and suppliers, used without a database")
	serveCmd.Flags().Bool("enrich", false, "Also read uploads with Document AI")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	addr, _ := cmd.Flags().GetString("addr")
	referenceFile, _ := cmd.Flags().GetString("reference")
	enrich, _ := cmd.Flags().GetBool("enrich")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.HTTPAddr
	}

	recorder := metrics.NewRecorder()
	a, err := newApp(cfg, appOptions{referenceFile: referenceFile, metrics: recorder, cacheTTL: cfg.ReferenceCacheTTL}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := api.Options{
		Processor: a.processor,
		Validator: a.cfg.GetFileValidator(),
		Metrics:   recorder,
		Language:  a.cfg.OCRLanguage,
	}
	if a.repo != nil {
		opts.Repo = a.repo
		opts.DB = a.db
	}

	extractor, closeOCR, err := createOCRService(ctx, a.cfg, true, log)
	if err != nil {
		log.Warn().Err(err).Msg("OCR unavailable, uploads are disabled")
	} else {
		defer closeOCR()
		opts.OCR = extractor
	}

	if enrich {
		enricher, err := createEnricher(ctx, a.cfg, log)
		if err != nil {
			return fmt.Errorf("enrichment requested: %w", err)
		}
		defer enricher.Close()
		opts.Enricher = enricher
	}

	return api.NewServer(opts).Run(ctx, addr)
}
