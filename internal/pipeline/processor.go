// Package pipeline runs one document through extraction, reference resolution, amount
// reconciliation, scoring and assembly.
//
// ProcessDocument never fails on missing or malformed data: it always returns a complete record
// and leaves the accept or reject decision to the caller. Only storing the record can fail.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoiceocr/internal/assembly"
	"invoiceocr/internal/enrichment"
	"invoiceocr/internal/extraction"
	"invoiceocr/internal/logger"
	"invoiceocr/internal/metrics"
	"invoiceocr/internal/reconcile"
	"invoiceocr/internal/reference"
	"invoiceocr/internal/scoring"
	"invoiceocr/internal/textnorm"
	"invoiceocr/pkg/models"
)

// DefaultConfidenceThreshold is the data quality score an accepted record must reach
const DefaultConfidenceThreshold = 0.8

// Pipeline stages, used in logs, errors and metrics
const (
	StageExtraction  = "extraction"
	StageReference   = "reference"
	StageReconcile   = "reconciliation"
	StageScoring     = "scoring"
	StageAssembly    = "assembly"
	StagePersistence = "persistence"
)

// Repository stores assembled invoices. Save writes the record and its children atomically.
type Repository interface {
	Save(ctx context.Context, rec *models.InvoiceRecord) (uuid.UUID, error)
}

// Options wires the stages of a Processor. Nil stages get their defaults.
type Options struct {
	Extractor  *extraction.FieldExtractor
	Resolver   *reference.Resolver
	Reconciler *reconcile.Reconciler

	// History feeds the VAT rate estimate; nil skips it
	History reconcile.VATHistory
	// Metrics is optional
	Metrics *metrics.Recorder

	Assembly            assembly.Options
	ConfidenceThreshold float64
}

func DefaultOptions() Options {
	return Options{
		Assembly:            assembly.DefaultOptions(),
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
}

// Processor turns raw OCR output into invoice records
type Processor struct {
	store reference.Store
	opts  Options
	log   zerolog.Logger
}

// NewProcessor creates a processor resolving entities against store. A nil store resolves every
// entity to its sentinel.
func NewProcessor(store reference.Store, opts Options) *Processor {
	if opts.Extractor == nil {
		opts.Extractor = extraction.NewFieldExtractor(nil, extraction.DefaultOptions())
	}
	if opts.Resolver == nil {
		opts.Resolver = reference.NewResolver(reference.DefaultOptions())
	}
	if opts.Reconciler == nil {
		opts.Reconciler = reconcile.NewReconciler()
	}
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	defaults := assembly.DefaultOptions()
	if opts.Assembly.Clock == nil {
		opts.Assembly.Clock = defaults.Clock
	}
	if opts.Assembly.NewID == nil {
		opts.Assembly.NewID = defaults.NewID
	}
	if opts.Assembly.DefaultCurrency == "" {
		opts.Assembly.DefaultCurrency = defaults.DefaultCurrency
	}

	return &Processor{
		store: store,
		opts:  opts,
		log:   logger.WithComponent("pipeline"),
	}
}

// WithStore returns a processor sharing p's configuration but resolving against store
func (p *Processor) WithStore(store reference.Store) *Processor {
	cp := *p
	cp.store = store
	return &cp
}

// ProcessDocument extracts, resolves, reconciles, scores and assembles one document. When the
// document has no text, the text is rebuilt from its positioned words.
func (p *Processor) ProcessDocument(ctx context.Context, doc models.RawDocument, filename string) *models.InvoiceRecord {
	return p.process(ctx, doc, filename, nil)
}

// ProcessWithEnrichment runs the pipeline with the fields of a structured document parser.
// Its invoice number wins, its amounts are compared with the pattern totals, and the record is
// graded with the enriched strategy. A nil result behaves like ProcessDocument.
func (p *Processor) ProcessWithEnrichment(ctx context.Context, doc models.RawDocument, enriched *enrichment.Result, filename string) *models.InvoiceRecord {
	if enriched != nil && strings.TrimSpace(doc.Text) == "" && len(doc.Words) == 0 {
		doc.Text = enriched.Text
	}
	return p.process(ctx, doc, filename, enriched)
}

// ProcessAndStore processes the document and saves the record. The record is returned even when
// saving failed; the error then wraps ErrPersistence.
func (p *Processor) ProcessAndStore(ctx context.Context, repo Repository, doc models.RawDocument, enriched *enrichment.Result, filename string) (*models.InvoiceRecord, error) {
	const op = "ProcessAndStore"

	rec := p.process(ctx, doc, filename, enriched)

	id, err := repo.Save(ctx, rec)
	if err != nil {
		p.opts.Metrics.ObserveFailure(StagePersistence)
		p.log.Error().
			Err(err).
			Str("invoice_number", rec.InvoiceNumber).
			Str("filename", filename).
			Msg("Failed to persist invoice")
		return rec, NewPipelineError(op, StagePersistence, fmt.Errorf("%w: %w", ErrPersistence, err), rec.InvoiceNumber)
	}

	p.log.Info().
		Str("invoice_id", id.String()).
		Str("invoice_number", rec.InvoiceNumber).
		Msg("Invoice persisted")
	return rec, nil
}

// Accept reports whether rec passes the configured confidence threshold
func (p *Processor) Accept(rec *models.InvoiceRecord) bool {
	return scoring.Accept(rec.Verdict, p.opts.ConfidenceThreshold)
}

func (p *Processor) process(ctx context.Context, doc models.RawDocument, filename string, enriched *enrichment.Result) (rec *models.InvoiceRecord) {
	const op = "ProcessDocument"

	start := p.opts.Assembly.Clock()
	text := doc.Text
	if strings.TrimSpace(text) == "" && len(doc.Words) > 0 {
		text = textnorm.TextFromWords(doc.Words)
	}

	stage := StageExtraction
	defer func() {
		if r := recover(); r != nil {
			err := NewPipelineError(op, stage, ErrExtractionFailed, fmt.Sprint(r))
			p.log.Error().
				Err(err).
				Str("filename", filename).
				Bytes("stack", debug.Stack()).
				Msg("Pipeline stage panicked, returning minimal record")
			p.opts.Metrics.ObserveFailure(stage)
			rec = p.minimal(text, filename)
		}
	}()

	data := p.opts.Extractor.Extract(text)
	if enriched != nil {
		mergeEnrichment(data, enriched)
	}

	stage = StageReference
	supplier := p.resolveSupplier(ctx, data, enriched)
	company := p.resolveCompany(ctx, data, enriched)

	stage = StageReconcile
	extracted := data.Totals.Triple()
	if enriched != nil && enriched.Amounts.Present() > 0 {
		sel := p.opts.Reconciler.SelectAmounts(
			reconcile.AmountSource{Amounts: enriched.Amounts, Source: reconcile.SourceDocumentAI, Confidence: enriched.Confidence},
			reconcile.AmountSource{Amounts: extracted, Source: reconcile.SourcePattern, Confidence: patternConfidence(doc, text)},
		)
		extracted = sel.Amounts
	}
	res := p.opts.Reconciler.ReconcileWithHistory(ctx, extracted, p.opts.History)

	stage = StageScoring
	strategy := scoring.Strategy(scoring.BasicScore{})
	number := data.InvoiceNumber
	if enriched != nil {
		strategy = scoring.EnrichedScore{}
		if enriched.InvoiceNumber != "" {
			number = enriched.InvoiceNumber
		}
	}
	verdict := strategy.Score(scoring.Input{
		InvoiceNumber:  number,
		Extracted:      extracted,
		Reconciliation: res,
		AmountDue:      data.Totals.AmountDue,
		LineItems:      data.LineItems,
		SupplierName:   supplierName(supplier, data.Supplier),
		DateFound:      data.InvoiceDate != nil,
	})
	keywordConfidence := scoring.KeywordConfidence(text)

	stage = StageAssembly
	b := assembly.NewBuilder(p.opts.Assembly).
		WithExtraction(data).
		WithSupplier(supplier).
		WithCompany(company).
		WithReconciliation(res).
		WithVerdict(verdict, keywordConfidence).
		WithSource(filename, text)
	if enriched != nil {
		b.WithEnrichedNumber(enriched.InvoiceNumber)
	}
	if c, ok := ocrConfidence(doc); ok {
		b.WithOCRConfidence(c)
	}
	rec = b.WithProcessingTime(p.opts.Assembly.Clock().Sub(start)).Build()

	p.opts.Metrics.ObserveRecord(rec)
	p.log.Info().
		Str("filename", filename).
		Str("invoice_number", rec.InvoiceNumber).
		Str("strategy", verdict.Strategy).
		Float64("quality", verdict.DataQualityScore).
		Bool("accepted", scoring.Accept(verdict, p.opts.ConfidenceThreshold)).
		Int("corrections", len(rec.Corrections)).
		Dur("elapsed", rec.ProcessingTime).
		Msg("Document processed")

	return rec
}

func (p *Processor) resolveSupplier(ctx context.Context, data *extraction.PartialInvoiceData, enriched *enrichment.Result) models.EntityReference {
	if enriched != nil && enriched.SupplierName != "" {
		if ref := p.opts.Resolver.ResolveSupplier(ctx, p.store, enriched.SupplierName); !ref.Sentinel {
			return ref
		}
	}
	return p.opts.Resolver.ResolveSupplier(ctx, p.store, data.Supplier.Name)
}

// resolveCompany probes with the customer printed on the invoice, the invoice being addressed to
// one of our companies
func (p *Processor) resolveCompany(ctx context.Context, data *extraction.PartialInvoiceData, enriched *enrichment.Result) models.EntityReference {
	if enriched != nil && enriched.CustomerName != "" && enriched.CustomerName != data.Customer.Name {
		if ref := p.opts.Resolver.ResolveCompany(ctx, p.store, enriched.CustomerName); !ref.Sentinel && ref.Similarity > 0 {
			return ref
		}
	}
	return p.opts.Resolver.ResolveCompany(ctx, p.store, data.Customer.Name)
}

// minimal is the record returned when a stage panicked: sentinels, zero amounts, quality 0
func (p *Processor) minimal(text, filename string) *models.InvoiceRecord {
	return assembly.NewBuilder(p.opts.Assembly).
		Minimal().
		WithVerdict(models.ValidationVerdict{Strategy: scoring.StrategyBasic}, 0).
		WithSource(filename, text).
		Build()
}

// mergeEnrichment fills the fields the patterns missed with the enrichment values
func mergeEnrichment(data *extraction.PartialInvoiceData, enriched *enrichment.Result) {
	if data.InvoiceDate == nil {
		data.InvoiceDate = enriched.InvoiceDate
	}
	if data.DueDate == nil {
		data.DueDate = enriched.DueDate
	}
	if data.Supplier.Name == "" {
		data.Supplier.Name = enriched.SupplierName
	}
	if data.Customer.Name == "" {
		data.Customer.Name = enriched.CustomerName
	}
	if data.Currency == "" {
		data.Currency = enriched.Currency
	}
	if id := enriched.SupplierTaxID; id != "" {
		switch {
		case len(id) > 2 && id[0] >= 'A' && id[0] <= 'Z' && id[1] >= 'A' && id[1] <= 'Z':
			if data.Supplier.VATNumber == "" {
				data.Supplier.VATNumber = id
			}
		case data.Supplier.SIRET == "":
			data.Supplier.SIRET = id
		}
	}
	if !data.Totals.AmountDue.Valid {
		data.Totals.AmountDue = enriched.Amounts.InclVAT
	}
}

// supplierName is the name the record will carry for the supplier
func supplierName(ref models.EntityReference, printed models.Party) string {
	if !ref.Sentinel || printed.Name == "" {
		return ref.Name
	}
	return printed.Name
}

// ocrConfidence is the engine confidence, else the mean word confidence. It is unknown for text
// that did not come from OCR.
func ocrConfidence(doc models.RawDocument) (float64, bool) {
	if doc.Confidence > 0 {
		return doc.Confidence, true
	}
	if len(doc.Words) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, w := range doc.Words {
		sum += w.Confidence
	}
	return sum / float64(len(doc.Words)), true
}

// patternConfidence weighs the pattern totals against an enrichment source
func patternConfidence(doc models.RawDocument, text string) float64 {
	if c, ok := ocrConfidence(doc); ok {
		return c
	}
	return scoring.KeywordConfidence(text)
}
