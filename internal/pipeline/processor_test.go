package pipeline

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceocr/internal/enrichment"
	"invoiceocr/internal/extraction"
	"invoiceocr/internal/metrics"
	"invoiceocr/internal/patterns"
	"invoiceocr/internal/reconcile"
	"invoiceocr/internal/reference"
	"invoiceocr/internal/scoring"
	"invoiceocr/pkg/models"
)

const headerText = "FACTURE F2025-001\nDate: 19/08/2025\nEntreprise ABC\nSIRET: 12345678901234\nTotal TTC 600.00"

var fixedNow = time.Date(2025, 8, 20, 14, 30, 5, 0, time.UTC)

func testStore() *reference.MemoryStore {
	return reference.NewMemoryStore(
		[]reference.Company{{Code: "MART01", Name: "Martin SA"}},
		[]reference.Supplier{{ID: "s-1", Name: "Entreprise ABC", TaxID: "12345678901234", Active: true}},
	)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Assembly.Clock = func() time.Time { return fixedNow }
	return opts
}

func newTestProcessor(store reference.Store) *Processor {
	return NewProcessor(store, testOptions())
}

func text(s string) models.RawDocument {
	return models.RawDocument{Text: s}
}

func amount(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

type staticHistory []decimal.Decimal

func (h staticHistory) RecentVATRatios(context.Context, int) ([]decimal.Decimal, error) {
	return h, nil
}

type failingStore struct{}

func (failingStore) FindCompanies(context.Context) ([]reference.Company, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) FindActiveSuppliers(context.Context) ([]reference.Supplier, error) {
	return nil, errors.New("connection refused")
}

type fakeRepository struct {
	saved []*models.InvoiceRecord
	err   error
}

func (r *fakeRepository) Save(_ context.Context, rec *models.InvoiceRecord) (uuid.UUID, error) {
	if r.err != nil {
		return uuid.Nil, r.err
	}
	r.saved = append(r.saved, rec)
	return rec.ID, nil
}

func TestProcessDocument_HeaderScenario(t *testing.T) {
	rec := newTestProcessor(testStore()).ProcessDocument(context.Background(), text(headerText), "scan.png")

	assert.Equal(t, "F2025-001", rec.InvoiceNumber)
	assert.Equal(t, models.NumberFromPattern, rec.InvoiceNumberSource)
	assert.Equal(t, time.Date(2025, 8, 19, 0, 0, 0, 0, time.UTC), rec.InvoiceDate)
	assert.False(t, rec.InvoiceDateDefaulted)
	assert.Contains(t, rec.SupplierInfo.Name, "Entreprise ABC")
	assert.Equal(t, "12345678901234", rec.SupplierInfo.SIRET)
	assert.Equal(t, "s-1", rec.Supplier.ID)
	assert.True(t, rec.Amounts.InclVAT.Decimal.Equal(decimal.NewFromInt(600)))
	assert.True(t, rec.Verdict.RequiredFieldsPresent)
	assert.Equal(t, scoring.StrategyBasic, rec.Verdict.Strategy)
	assert.InDelta(t, 0.4, rec.Verdict.DataQualityScore, 1e-9)
	assert.True(t, rec.IsComplete)
	assert.Equal(t, models.PaymentPending, rec.PaymentState)
	assert.Equal(t, models.DefaultCompany(), rec.Company, "no customer block means no company probe")
	assert.False(t, rec.LowOCRQuality, "plain text carries no OCR confidence")
}

func TestProcessDocument_TotalOnly(t *testing.T) {
	rec := newTestProcessor(testStore()).ProcessDocument(context.Background(), text("Total: 1200.00"), "")

	assert.False(t, rec.Verdict.RequiredFieldsPresent)
	assert.Less(t, rec.Verdict.DataQualityScore, 0.5)
	assert.Equal(t, models.UnknownSupplierName, rec.SupplierName())
	assert.True(t, rec.Supplier.Sentinel)
	assert.Equal(t, models.NumberGenerated, rec.InvoiceNumberSource)
	assert.Regexp(t, regexp.MustCompile(`^INV-20250820143005-[0-9a-f]{8}$`), rec.InvoiceNumber)
	assert.True(t, rec.InvoiceDateDefaulted)
	assert.True(t, rec.IsDraft)
	require.Len(t, rec.Goals, 1)
	assert.True(t, rec.Goals[0].Amount.Equal(decimal.NewFromInt(1200)))
}

func TestProcessDocument_DerivesMissingTotal(t *testing.T) {
	rec := newTestProcessor(nil).ProcessDocument(context.Background(), text("Sous-total HT: 1000.00\nTVA 20%: 200.00"), "")

	require.True(t, rec.Amounts.InclVAT.Valid)
	assert.True(t, rec.Amounts.InclVAT.Decimal.Equal(decimal.NewFromInt(1200)))
	require.Len(t, rec.Corrections, 1)
	assert.Equal(t, reconcile.FieldInclVAT, rec.Corrections[0].Field)
	assert.Equal(t, reconcile.ReasonDerived, rec.Corrections[0].Reason)
}

func TestProcessDocument_VATNumberHeaderLine(t *testing.T) {
	doc := text("FACTURE F-1001\nEntreprise ABC\nTVA FR12345678901\nTotal HT 1000.00\nTVA 20% 200.00\nTotal TTC 1200.00")

	rec := newTestProcessor(testStore()).ProcessDocument(context.Background(), doc, "")

	assert.True(t, rec.Amounts.ExclVAT.Decimal.Equal(decimal.NewFromInt(1000)))
	assert.True(t, rec.Amounts.VAT.Decimal.Equal(decimal.NewFromInt(200)))
	assert.True(t, rec.Amounts.InclVAT.Decimal.Equal(decimal.NewFromInt(1200)))
	assert.Empty(t, rec.Corrections, "the printed amounts agree")
	assert.True(t, rec.AmountDue.Decimal.Equal(decimal.NewFromInt(1200)))
	require.Len(t, rec.Goals, 1)
	assert.True(t, rec.Goals[0].Amount.Equal(decimal.NewFromInt(1200)))
	assert.Equal(t, "FR12345678901", rec.SupplierInfo.VATNumber)
}

func TestProcessDocument_TwoDates(t *testing.T) {
	rec := newTestProcessor(nil).ProcessDocument(context.Background(), text("Facture F-1001\nÉchéance : 18/09/2025\nDate : 19/08/2025"), "")

	assert.Equal(t, time.Date(2025, 8, 19, 0, 0, 0, 0, time.UTC), rec.InvoiceDate)
	require.NotNil(t, rec.DueDate)
	assert.Equal(t, time.Date(2025, 9, 18, 0, 0, 0, 0, time.UTC), *rec.DueDate)
}

func TestProcessDocument_IsIdempotent(t *testing.T) {
	p := newTestProcessor(testStore())

	a := p.ProcessDocument(context.Background(), text("Total: 1200.00"), "scan.png")
	b := p.ProcessDocument(context.Background(), text("Total: 1200.00"), "scan.png")

	assert.NotEqual(t, a.ID, b.ID)
	a.ID, b.ID = uuid.Nil, uuid.Nil
	assert.Equal(t, a, b)
}

func TestProcessDocument_StoreFailureUsesSentinels(t *testing.T) {
	rec := newTestProcessor(failingStore{}).ProcessDocument(context.Background(), text(headerText), "")

	assert.True(t, rec.Supplier.Sentinel)
	assert.True(t, rec.Company.Sentinel)
	assert.Equal(t, "Entreprise ABC", rec.SupplierName(), "the printed name is kept")
	assert.Equal(t, "F2025-001", rec.InvoiceNumber)
}

func TestProcessDocument_PanicYieldsMinimalRecord(t *testing.T) {
	lib := patterns.New().Add(patterns.Pattern{
		ID:       "boom",
		Field:    patterns.FieldInvoiceNumber,
		Expr:     regexp.MustCompile(`(\d+)`),
		Validate: func(string) bool { panic("malformed input") },
	})
	m := metrics.NewRecorder()
	opts := testOptions()
	opts.Extractor = extraction.NewFieldExtractor(lib, extraction.DefaultOptions())
	opts.Metrics = m

	rec := NewProcessor(testStore(), opts).ProcessDocument(context.Background(), text("Facture 42"), "scan.png")

	require.NotNil(t, rec)
	assert.True(t, rec.Supplier.Sentinel)
	assert.True(t, rec.Company.Sentinel)
	assert.Equal(t, 3, rec.Amounts.Present())
	assert.True(t, rec.Amounts.InclVAT.Decimal.IsZero())
	assert.Zero(t, rec.Verdict.DataQualityScore)
	assert.True(t, rec.IsDraft)
	assert.Equal(t, models.NumberGenerated, rec.InvoiceNumberSource)
	assert.Equal(t, "scan.png", rec.SourceFilename)

	n, err := testutil.GatherAndCount(m.Registry(), "invoiceocr_stage_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProcessDocument_WordsOnly(t *testing.T) {
	doc := models.RawDocument{Words: []models.Word{
		{Text: "600.00", Confidence: 0.3, Box: models.BoundingBox{X: 200, Y: 10, Width: 50, Height: 10}},
		{Text: "Total", Confidence: 0.5, Box: models.BoundingBox{X: 10, Y: 10, Width: 40, Height: 10}},
		{Text: "TTC", Confidence: 0.4, Box: models.BoundingBox{X: 60, Y: 11, Width: 30, Height: 10}},
	}}

	rec := newTestProcessor(nil).ProcessDocument(context.Background(), doc, "")

	assert.Equal(t, "Total TTC 600.00", rec.RawText)
	assert.True(t, rec.Amounts.InclVAT.Decimal.Equal(decimal.NewFromInt(600)))
	assert.InDelta(t, 0.4, rec.OCRConfidence, 1e-9)
	assert.True(t, rec.LowOCRQuality)
}

func TestProcessDocument_EstimatesVATFromHistory(t *testing.T) {
	opts := testOptions()
	opts.History = staticHistory{decimal.RequireFromString("0.2"), decimal.RequireFromString("0.2")}

	rec := NewProcessor(nil, opts).ProcessDocument(context.Background(), text("Sous-total HT: 1000.00"), "")

	assert.True(t, rec.Amounts.VAT.Decimal.Equal(decimal.NewFromInt(200)))
	assert.True(t, rec.Amounts.InclVAT.Decimal.Equal(decimal.NewFromInt(1200)))
	require.NotEmpty(t, rec.Corrections)
	assert.Equal(t, reconcile.ReasonEstimated, rec.Corrections[0].Reason)
}

func TestProcessWithEnrichment(t *testing.T) {
	invoiceDate := time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC)
	enriched := &enrichment.Result{
		InvoiceNumber: "DAI-77",
		SupplierName:  "Entreprise ABC SARL",
		InvoiceDate:   &invoiceDate,
		Amounts:       models.MonetaryTriple{ExclVAT: amount("500"), VAT: amount("100"), InclVAT: amount("600")},
		Confidence:    0.9,
	}

	rec := newTestProcessor(testStore()).ProcessWithEnrichment(context.Background(), text(headerText), enriched, "scan.pdf")

	assert.Equal(t, "DAI-77", rec.InvoiceNumber)
	assert.Equal(t, models.NumberFromEnrichment, rec.InvoiceNumberSource)
	assert.Equal(t, "s-1", rec.Supplier.ID)
	assert.Equal(t, time.Date(2025, 8, 19, 0, 0, 0, 0, time.UTC), rec.InvoiceDate, "a printed date is kept")
	assert.Equal(t, 3, rec.Amounts.Present())
	assert.Empty(t, rec.Corrections)
	assert.Equal(t, scoring.StrategyEnriched, rec.Verdict.Strategy)
	assert.InDelta(t, 1.0, rec.Verdict.DataQualityScore, 1e-9)
	assert.True(t, rec.Verdict.CalculationCheck)
}

func TestProcessWithEnrichment_DiscrepancyFavorsConfidentSource(t *testing.T) {
	enriched := &enrichment.Result{
		Amounts:    models.MonetaryTriple{ExclVAT: amount("500"), VAT: amount("100"), InclVAT: amount("700")},
		Confidence: 0.6,
	}
	doc := models.RawDocument{Text: headerText, Confidence: 0.95}

	rec := newTestProcessor(nil).ProcessWithEnrichment(context.Background(), doc, enriched, "")

	assert.True(t, rec.Amounts.InclVAT.Decimal.Equal(decimal.NewFromInt(600)))
	assert.Empty(t, rec.Corrections)
	assert.Equal(t, "F2025-001", rec.InvoiceNumber)
}

func TestProcessWithEnrichment_FillsMissingFields(t *testing.T) {
	invoiceDate := time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC)
	enriched := &enrichment.Result{
		SupplierName:  "Entreprise ABC",
		SupplierTaxID: "FR12345678901",
		InvoiceDate:   &invoiceDate,
		Currency:      "USD",
		Text:          "Total: 1200.00",
	}

	rec := newTestProcessor(testStore()).ProcessWithEnrichment(context.Background(), models.RawDocument{}, enriched, "")

	assert.Equal(t, "Total: 1200.00", rec.RawText)
	assert.Equal(t, invoiceDate, rec.InvoiceDate)
	assert.Equal(t, "FR12345678901", rec.SupplierInfo.VATNumber)
	assert.Equal(t, "USD", rec.Currency)
	assert.Equal(t, "s-1", rec.Supplier.ID)
	assert.Equal(t, models.NumberGenerated, rec.InvoiceNumberSource)
	assert.InDelta(t, 0.5, rec.Verdict.DataQualityScore, 1e-9)
}

func TestProcessAndStore(t *testing.T) {
	p := newTestProcessor(testStore())

	t.Run("saved", func(t *testing.T) {
		repo := &fakeRepository{}
		rec, err := p.ProcessAndStore(context.Background(), repo, text(headerText), nil, "scan.png")

		require.NoError(t, err)
		require.Len(t, repo.saved, 1)
		assert.Same(t, rec, repo.saved[0])
	})

	t.Run("persistence failure", func(t *testing.T) {
		dbErr := errors.New("deadlock detected")
		rec, err := p.ProcessAndStore(context.Background(), &fakeRepository{err: dbErr}, text(headerText), nil, "scan.png")

		require.Error(t, err)
		assert.NotNil(t, rec)
		assert.ErrorIs(t, err, ErrPersistence)
		assert.ErrorIs(t, err, dbErr)

		var pipelineErr *PipelineError
		require.ErrorAs(t, err, &pipelineErr)
		assert.Equal(t, StagePersistence, pipelineErr.Stage)
	})
}

func TestAccept(t *testing.T) {
	p := newTestProcessor(nil)

	assert.True(t, p.Accept(&models.InvoiceRecord{Verdict: models.ValidationVerdict{RequiredFieldsPresent: true, DataQualityScore: 0.8}}))
	assert.False(t, p.Accept(&models.InvoiceRecord{Verdict: models.ValidationVerdict{RequiredFieldsPresent: true, DataQualityScore: 0.4}}))
}
