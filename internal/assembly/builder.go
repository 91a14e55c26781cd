// Package assembly turns the outputs of the pipeline stages into one InvoiceRecord.
//
// Every part is optional while building. Build is the single place where missing identity fields
// are replaced by sentinels, so a finished record never carries an empty name or invoice number.
package assembly

import (
	"crypto/md5"
	"encoding/hex"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoiceocr/internal/extraction"
	"invoiceocr/internal/logger"
	"invoiceocr/internal/reconcile"
	"invoiceocr/pkg/models"
)

// LowOCRConfidence is the OCR confidence under which a record is flagged as low quality
const LowOCRConfidence = 0.5

// Options are shared by all builders of a process
type Options struct {
	DefaultCurrency string
	DocumentBaseURL string // Prefix of DocumentURL, the bare filename when empty

	Clock func() time.Time
	NewID func() uuid.UUID
}

func DefaultOptions() Options {
	return Options{
		DefaultCurrency: "EUR",
		Clock:           time.Now,
		NewID:           uuid.New,
	}
}

// Builder collects the parts of one invoice record
type Builder struct {
	opts Options
	log  zerolog.Logger

	data           *extraction.PartialInvoiceData
	enrichedNumber string
	supplier       models.EntityReference
	company        models.EntityReference
	reconciliation reconcile.Result
	verdict        models.ValidationVerdict
	confidence     float64
	ocrConfidence  *float64
	filename       string
	rawText        string
	elapsed        time.Duration
	minimal        bool
}

func NewBuilder(opts Options) *Builder {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}
	return &Builder{
		opts: opts,
		log:  logger.WithComponent("invoice-assembler"),
	}
}

func (b *Builder) WithExtraction(data *extraction.PartialInvoiceData) *Builder {
	b.data = data
	return b
}

// WithEnrichedNumber sets the invoice number found by the enrichment path; it wins over the pattern value
func (b *Builder) WithEnrichedNumber(number string) *Builder {
	b.enrichedNumber = number
	return b
}

func (b *Builder) WithSupplier(ref models.EntityReference) *Builder {
	b.supplier = ref
	return b
}

func (b *Builder) WithCompany(ref models.EntityReference) *Builder {
	b.company = ref
	return b
}

func (b *Builder) WithReconciliation(res reconcile.Result) *Builder {
	b.reconciliation = res
	return b
}

func (b *Builder) WithVerdict(v models.ValidationVerdict, keywordConfidence float64) *Builder {
	b.verdict = v
	b.confidence = keywordConfidence
	return b
}

// WithOCRConfidence records the confidence reported by the OCR engine
func (b *Builder) WithOCRConfidence(c float64) *Builder {
	b.ocrConfidence = &c
	return b
}

func (b *Builder) WithSource(filename, rawText string) *Builder {
	b.filename = filename
	b.rawText = rawText
	return b
}

func (b *Builder) WithProcessingTime(d time.Duration) *Builder {
	b.elapsed = d
	return b
}

// Minimal makes Build produce zero amounts instead of absent ones
func (b *Builder) Minimal() *Builder {
	b.minimal = true
	return b
}

// Build finalizes the record
func (b *Builder) Build() *models.InvoiceRecord {
	now := b.opts.Clock()
	data := b.data
	if data == nil {
		data = &extraction.PartialInvoiceData{}
	}

	rec := &models.InvoiceRecord{
		ID:             b.opts.NewID(),
		DueDate:        data.DueDate,
		Company:        b.company,
		Supplier:       b.supplier,
		SupplierInfo:   data.Supplier,
		CustomerInfo:   data.Customer,
		Amounts:        b.reconciliation.Amounts,
		Currency:       data.Currency,
		Corrections:    b.reconciliation.Corrections,
		LineItems:      append([]models.LineItem(nil), data.LineItems...),
		Confidence:     b.confidence,
		Verdict:        b.verdict,
		SourceFilename: b.filename,
		RawText:        b.rawText,
		ProcessedAt:    now,
		ProcessingTime: b.elapsed,
	}

	rec.InvoiceNumber, rec.InvoiceNumberSource = b.invoiceNumber(data, now)

	if data.InvoiceDate != nil {
		rec.InvoiceDate = *data.InvoiceDate
	} else {
		y, m, d := now.Date()
		rec.InvoiceDate = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		rec.InvoiceDateDefaulted = true
	}

	if rec.Company.Name == "" {
		rec.Company = models.DefaultCompany()
	}
	if rec.Supplier.Name == "" {
		rec.Supplier = models.UnknownSupplier()
	}
	if rec.SupplierInfo.Name == "" {
		rec.SupplierInfo.Name = rec.Supplier.Name
	}
	if rec.CustomerInfo.Name == "" {
		rec.CustomerInfo.Name = models.UnknownCustomerName
		if !rec.Company.Sentinel {
			rec.CustomerInfo.Name = rec.Company.Name
		}
	}

	if b.minimal {
		zero := decimal.NewNullDecimal(decimal.Zero)
		rec.Amounts = models.MonetaryTriple{ExclVAT: zero, VAT: zero, InclVAT: zero}
	}
	rec.AmountDue = amountDue(data.Totals.AmountDue, rec.Amounts.InclVAT, rec.Corrections)
	if rec.Currency == "" {
		rec.Currency = b.opts.DefaultCurrency
	}

	rec.Goals = []models.GoalAllocation{{Amount: goalAmount(rec)}}

	if b.ocrConfidence != nil {
		rec.OCRConfidence = *b.ocrConfidence
		rec.LowOCRQuality = *b.ocrConfidence < LowOCRConfidence
	}

	rec.IsComplete = rec.Verdict.RequiredFieldsPresent
	rec.IsDraft = !rec.IsComplete
	rec.PaymentState = models.PaymentPending
	if rec.IsDraft {
		rec.PaymentState = models.PaymentDraft
	}

	if b.filename != "" {
		rec.DocumentURL = b.filename
		if b.opts.DocumentBaseURL != "" {
			rec.DocumentURL = b.opts.DocumentBaseURL + "/" + path.Base(b.filename)
		}
	}

	b.log.Info().
		Str("invoice_id", rec.ID.String()).
		Str("invoice_number", rec.InvoiceNumber).
		Str("number_source", string(rec.InvoiceNumberSource)).
		Str("supplier", rec.SupplierName()).
		Str("company", rec.Company.Code).
		Bool("complete", rec.IsComplete).
		Float64("quality", rec.Verdict.DataQualityScore).
		Msg("Invoice assembled")

	return rec
}

func (b *Builder) invoiceNumber(data *extraction.PartialInvoiceData, now time.Time) (string, models.InvoiceNumberSource) {
	switch {
	case b.enrichedNumber != "":
		return b.enrichedNumber, models.NumberFromEnrichment
	case data.InvoiceNumber != "":
		return data.InvoiceNumber, models.NumberFromPattern
	default:
		return FallbackInvoiceNumber(now, b.rawText), models.NumberGenerated
	}
}

// FallbackInvoiceNumber builds INV-<yyyymmddHHMMSS>-<first 8 hex digits of md5(rawText)>
func FallbackInvoiceNumber(now time.Time, rawText string) string {
	sum := md5.Sum([]byte(rawText))
	return "INV-" + now.Format("20060102150405") + "-" + hex.EncodeToString(sum[:])[:8]
}

// goalAmount is the amount of the single goal allocation: the total, else the amount due
func goalAmount(rec *models.InvoiceRecord) decimal.Decimal {
	if rec.Amounts.InclVAT.Valid {
		return rec.Amounts.InclVAT.Decimal
	}
	if rec.AmountDue.Valid {
		return rec.AmountDue.Decimal
	}
	return decimal.Zero
}

// amountDue defaults to incl_vat. A printed amount due equal to an overwritten incl_vat follows the
// correction; a distinct one, such as a balance after a deposit, is kept.
func amountDue(printed, inclVAT decimal.NullDecimal, corrections []models.Correction) decimal.NullDecimal {
	if !printed.Valid {
		return inclVAT
	}
	for _, c := range corrections {
		if c.Field == reconcile.FieldInclVAT && c.Before.Valid && printed.Decimal.Equal(c.Before.Decimal) {
			return c.After
		}
	}
	return printed
}
