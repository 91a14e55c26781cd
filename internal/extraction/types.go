package extraction

import (
	"time"

	"github.com/shopspring/decimal"

	"invoiceocr/internal/patterns"
	"invoiceocr/pkg/models"
)

// PartialInvoiceData is what the pattern stage could read from the text.
// Absent values stay empty: empty strings, nil dates, invalid NullDecimals.
type PartialInvoiceData struct {
	CleanText string

	InvoiceNumber        string
	InvoiceNumberPattern string

	InvoiceDate *time.Time
	DueDate     *time.Time

	Supplier models.Party
	Customer models.Party

	LineItems []models.LineItem
	Totals    Totals
	VATRate   decimal.NullDecimal // Explicit rate printed on the invoice
	Currency  string              // Empty when no currency code was found

	// Candidates lists the invoice number and date candidates in priority order
	Candidates []patterns.Candidate
}

// Totals are the keyed amounts found by the totals scan
type Totals struct {
	Subtotal     decimal.NullDecimal `json:"subtotal_excl_vat"`
	VAT          decimal.NullDecimal `json:"total_vat"`
	TotalInclVAT decimal.NullDecimal `json:"total_incl_vat"`
	AmountDue    decimal.NullDecimal `json:"amount_due"`
}

// Triple returns the totals as a monetary triple
func (t Totals) Triple() models.MonetaryTriple {
	return models.MonetaryTriple{
		ExclVAT: t.Subtotal,
		VAT:     t.VAT,
		InclVAT: t.TotalInclVAT,
	}
}

// Any reports whether at least one total was found
func (t Totals) Any() bool {
	return t.Subtotal.Valid || t.VAT.Valid || t.TotalInclVAT.Valid || t.AmountDue.Valid
}
