package assembly

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceocr/internal/extraction"
	"invoiceocr/internal/reconcile"
	"invoiceocr/pkg/models"
)

var fixedNow = time.Date(2025, 8, 20, 14, 30, 5, 0, time.UTC)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Clock = func() time.Time { return fixedNow }
	return opts
}

func amount(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestBuild_EmptyIsComplete(t *testing.T) {
	rec := NewBuilder(testOptions()).WithSource("scan.png", "???").Build()

	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, models.NumberGenerated, rec.InvoiceNumberSource)
	assert.Equal(t, FallbackInvoiceNumber(fixedNow, "???"), rec.InvoiceNumber)
	assert.Equal(t, time.Date(2025, 8, 20, 0, 0, 0, 0, time.UTC), rec.InvoiceDate)
	assert.True(t, rec.InvoiceDateDefaulted)
	assert.Equal(t, models.UnknownSupplier(), rec.Supplier)
	assert.Equal(t, models.DefaultCompany(), rec.Company)
	assert.Equal(t, models.UnknownSupplierName, rec.SupplierInfo.Name)
	assert.Equal(t, models.UnknownCustomerName, rec.CustomerInfo.Name)
	assert.Equal(t, "EUR", rec.Currency)
	assert.Zero(t, rec.Amounts.Present())
	require.Len(t, rec.Goals, 1)
	assert.True(t, rec.Goals[0].Amount.IsZero())
	assert.True(t, rec.IsDraft)
	assert.False(t, rec.IsComplete)
	assert.Equal(t, models.PaymentDraft, rec.PaymentState)
	assert.Equal(t, "scan.png", rec.DocumentURL)
	assert.Equal(t, fixedNow, rec.ProcessedAt)
}

func TestBuild_InvoiceNumberPriority(t *testing.T) {
	data := &extraction.PartialInvoiceData{InvoiceNumber: "F2025-001"}

	rec := NewBuilder(testOptions()).WithExtraction(data).Build()
	assert.Equal(t, "F2025-001", rec.InvoiceNumber)
	assert.Equal(t, models.NumberFromPattern, rec.InvoiceNumberSource)

	rec = NewBuilder(testOptions()).WithExtraction(data).WithEnrichedNumber("DAI-77").Build()
	assert.Equal(t, "DAI-77", rec.InvoiceNumber)
	assert.Equal(t, models.NumberFromEnrichment, rec.InvoiceNumberSource)
}

func TestFallbackInvoiceNumber(t *testing.T) {
	a := FallbackInvoiceNumber(fixedNow, "Total: 1200.00")
	b := FallbackInvoiceNumber(fixedNow, "Total: 1200.00")
	c := FallbackInvoiceNumber(fixedNow, "Total: 1300.00")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^INV-20250820143005-[0-9a-f]{8}$`, a)
}

func TestBuild_FullRecord(t *testing.T) {
	invoiceDate := time.Date(2025, 8, 19, 0, 0, 0, 0, time.UTC)
	dueDate := time.Date(2025, 9, 18, 0, 0, 0, 0, time.UTC)
	data := &extraction.PartialInvoiceData{
		InvoiceNumber: "F2025-001",
		InvoiceDate:   &invoiceDate,
		DueDate:       &dueDate,
		Supplier:      models.Party{Name: "Entreprise ABC", SIRET: "12345678901234"},
		LineItems:     []models.LineItem{{LineNumber: 1, Description: "Conseil", AmountExclVAT: decimal.NewFromInt(1000)}},
		Currency:      "USD",
	}
	res := reconcile.NewReconciler().Reconcile(models.MonetaryTriple{ExclVAT: amount("1000"), VAT: amount("200")})
	company := models.EntityReference{Code: "MART01", Name: "Martin SA"}
	supplier := models.EntityReference{ID: "s-1", Name: "Entreprise ABC SARL", Similarity: 1}
	verdict := models.ValidationVerdict{RequiredFieldsPresent: true, DataQualityScore: 0.7, Strategy: "basic"}

	opts := testOptions()
	opts.DocumentBaseURL = "/uploads"
	rec := NewBuilder(opts).
		WithExtraction(data).
		WithSupplier(supplier).
		WithCompany(company).
		WithReconciliation(res).
		WithVerdict(verdict, 0.4).
		WithOCRConfidence(0.42).
		WithSource("/tmp/in/scan.pdf", "raw").
		WithProcessingTime(150 * time.Millisecond).
		Build()

	assert.Equal(t, invoiceDate, rec.InvoiceDate)
	assert.False(t, rec.InvoiceDateDefaulted)
	assert.Equal(t, &dueDate, rec.DueDate)
	assert.Equal(t, supplier, rec.Supplier)
	assert.Equal(t, "Entreprise ABC SARL", rec.SupplierName())
	assert.Equal(t, "Entreprise ABC", rec.SupplierInfo.Name)
	assert.Equal(t, "Martin SA", rec.CustomerInfo.Name, "customer name falls back to the resolved company")
	assert.True(t, rec.Amounts.InclVAT.Decimal.Equal(decimal.NewFromInt(1200)))
	assert.True(t, rec.AmountDue.Decimal.Equal(decimal.NewFromInt(1200)))
	assert.Len(t, rec.Corrections, 1)
	assert.Equal(t, "USD", rec.Currency)
	require.Len(t, rec.Goals, 1)
	assert.True(t, rec.Goals[0].Amount.Equal(decimal.NewFromInt(1200)))
	assert.Len(t, rec.LineItems, 1)
	assert.True(t, rec.IsComplete)
	assert.False(t, rec.IsDraft)
	assert.Equal(t, models.PaymentPending, rec.PaymentState)
	assert.Equal(t, 0.42, rec.OCRConfidence)
	assert.True(t, rec.LowOCRQuality)
	assert.Equal(t, 0.4, rec.Confidence)
	assert.Equal(t, "/uploads/scan.pdf", rec.DocumentURL)
	assert.Equal(t, 150*time.Millisecond, rec.ProcessingTime)
}

func TestBuild_GoalUsesAmountDueWithoutTotal(t *testing.T) {
	data := &extraction.PartialInvoiceData{Totals: extraction.Totals{AmountDue: amount("1200.00")}}

	rec := NewBuilder(testOptions()).WithExtraction(data).Build()

	assert.False(t, rec.Amounts.InclVAT.Valid)
	require.Len(t, rec.Goals, 1)
	assert.True(t, rec.Goals[0].Amount.Equal(decimal.NewFromInt(1200)))
}

func TestBuild_AmountDueFollowsCorrectedTotal(t *testing.T) {
	res := reconcile.NewReconciler().Reconcile(models.MonetaryTriple{
		ExclVAT: amount("1000"), VAT: amount("200"), InclVAT: amount("1300"),
	})
	require.Len(t, res.Corrections, 1)

	data := &extraction.PartialInvoiceData{Totals: extraction.Totals{TotalInclVAT: amount("1300"), AmountDue: amount("1300")}}
	rec := NewBuilder(testOptions()).WithExtraction(data).WithReconciliation(res).Build()

	assert.True(t, rec.Amounts.InclVAT.Decimal.Equal(decimal.NewFromInt(1200)))
	assert.True(t, rec.AmountDue.Decimal.Equal(decimal.NewFromInt(1200)))
	require.Len(t, rec.Goals, 1)
	assert.True(t, rec.Goals[0].Amount.Equal(decimal.NewFromInt(1200)))

	// A balance after a deposit is not the printed total
	data = &extraction.PartialInvoiceData{Totals: extraction.Totals{TotalInclVAT: amount("1300"), AmountDue: amount("500")}}
	rec = NewBuilder(testOptions()).WithExtraction(data).WithReconciliation(res).Build()

	assert.True(t, rec.AmountDue.Decimal.Equal(decimal.NewFromInt(500)))
}

func TestBuild_Minimal(t *testing.T) {
	rec := NewBuilder(testOptions()).Minimal().Build()

	assert.Equal(t, 3, rec.Amounts.Present())
	assert.True(t, rec.Amounts.InclVAT.Decimal.IsZero())
	assert.True(t, rec.AmountDue.Valid)
	assert.True(t, rec.Supplier.Sentinel)
}

func TestBuild_DoesNotShareLineItems(t *testing.T) {
	data := &extraction.PartialInvoiceData{LineItems: []models.LineItem{{Description: "a"}}}

	rec := NewBuilder(testOptions()).WithExtraction(data).Build()
	data.LineItems[0].Description = "b"

	assert.Equal(t, "a", rec.LineItems[0].Description)
}
