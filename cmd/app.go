package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"invoiceocr/internal/config"
	"invoiceocr/internal/extraction"
	"invoiceocr/internal/metrics"
	"invoiceocr/internal/persistence"
	"invoiceocr/internal/pipeline"
	"invoiceocr/internal/reconcile"
	"invoiceocr/internal/reference"
)

// app holds the collaborators shared by the commands
type app struct {
	cfg       *config.Config
	db        *persistence.Database
	store     reference.Store
	repo      *persistence.InvoiceRepository
	processor *pipeline.Processor
	log       zerolog.Logger
}

type appOptions struct {
	requireDB     bool
	referenceFile string // JSON seed used as an in-memory store when no database is configured
	cacheTTL      time.Duration
	metrics       *metrics.Recorder
}

// loadConfig reads and validates the environment configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newApp(cfg *config.Config, opts appOptions, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	var err error

	var history reconcile.VATHistory
	switch {
	case cfg.HasDatabase():
		a.db, err = persistence.NewDatabase(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.repo = persistence.NewInvoiceRepository(a.db, cfg.ConfidenceThreshold)
		a.store = persistence.NewReferenceStore(a.db)
		history = a.repo
		log.Debug().Str("driver", cfg.Database.Driver).Msg("Database connected")
	case opts.requireDB:
		return nil, fmt.Errorf("DATABASE_DSN is not set")
	case opts.referenceFile != "":
		seed, err := loadSeedFile(opts.referenceFile)
		if err != nil {
			return nil, err
		}
		a.store = seed.memoryStore()
		log.Info().
			Str("file", opts.referenceFile).
			Int("companies", len(seed.Companies)).
			Int("suppliers", len(seed.Suppliers)).
			Msg("Reference data loaded from file")
	default:
		log.Warn().Msg("No reference database configured, supplier and company resolve to their sentinels")
	}

	if a.store != nil && opts.cacheTTL > 0 {
		a.store = reference.NewCachedStore(a.store, opts.cacheTTL)
	}

	popts := pipeline.DefaultOptions()
	popts.Extractor = extraction.NewFieldExtractor(nil, cfg.GetExtractionOptions())
	popts.Resolver = reference.NewResolver(cfg.GetReferenceOptions())
	popts.History = history
	popts.Metrics = opts.metrics
	popts.ConfidenceThreshold = cfg.ConfidenceThreshold
	popts.Assembly.DefaultCurrency = cfg.DefaultCurrency
	popts.Assembly.DocumentBaseURL = cfg.DocumentBaseURL
	a.processor = pipeline.NewProcessor(a.store, popts)

	return a, nil
}

func (a *app) Close() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close database")
	}
}

// referenceSeed is the JSON layout of reference data files
type referenceSeed struct {
	Companies []struct {
		Code    string `json:"code"`
		Name    string `json:"name"`
		RCS     string `json:"rcs"`
		Address string `json:"address"`
	} `json:"companies"`
	Suppliers []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		TaxID   string `json:"tax_id"`
		Address string `json:"address"`
		Email   string `json:"email"`
		Phone   string `json:"phone"`
		Contact string `json:"contact"`
		Active  *bool  `json:"active"` // Defaults to true
	} `json:"suppliers"`
}

func loadSeedFile(path string) (*referenceSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference file: %w", err)
	}
	var seed referenceSeed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("invalid reference file %s: %w", path, err)
	}
	return &seed, nil
}

func (s *referenceSeed) companies() []reference.Company {
	out := make([]reference.Company, 0, len(s.Companies))
	for _, c := range s.Companies {
		out = append(out, reference.Company{Code: c.Code, Name: c.Name, RCS: c.RCS, Address: c.Address})
	}
	return out
}

func (s *referenceSeed) suppliers() []reference.Supplier {
	out := make([]reference.Supplier, 0, len(s.Suppliers))
	for i, sup := range s.Suppliers {
		id := sup.ID
		if id == "" {
			id = fmt.Sprintf("seed-%d", i+1)
		}
		out = append(out, reference.Supplier{
			ID:      id,
			Name:    sup.Name,
			TaxID:   sup.TaxID,
			Address: sup.Address,
			Email:   sup.Email,
			Phone:   sup.Phone,
			Contact: sup.Contact,
			Active:  sup.Active == nil || *sup.Active,
		})
	}
	return out
}

func (s *referenceSeed) memoryStore() *reference.MemoryStore {
	return reference.NewMemoryStore(s.companies(), s.suppliers())
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling processing")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// writeOutput writes data to path, or to stdout when path is empty
func writeOutput(data []byte, outputPath string, log zerolog.Logger) error {
	if outputPath == "" {
		if _, err := os.Stdout.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("output_file", outputPath).
			Msg("Failed to write output file")
		return fmt.Errorf("failed to write output file: %w", err)
	}
	log.Info().
		Str("output_file", outputPath).
		Int("bytes", len(data)).
		Msg("Results written to file")
	return nil
}
