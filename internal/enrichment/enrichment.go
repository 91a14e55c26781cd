// Package enrichment reads invoice fields with a structured document parser.
//
// The enrichment path runs next to the pattern extraction: its invoice number wins over the pattern
// value, its amounts are compared with the pattern totals, and records built from it are graded with
// the enriched scoring strategy.
package enrichment

import (
	"context"
	"time"

	"invoiceocr/pkg/models"
)

// Enricher extracts invoice fields from the original document bytes
type Enricher interface {
	Enrich(ctx context.Context, content []byte, mimeType string) (*Result, error)
}

// Result holds the fields an enricher found. Absent values stay empty.
type Result struct {
	InvoiceNumber string                `json:"invoice_number,omitempty"`
	SupplierName  string                `json:"supplier_name,omitempty"`
	SupplierTaxID string                `json:"supplier_tax_id,omitempty"`
	CustomerName  string                `json:"customer_name,omitempty"`
	InvoiceDate   *time.Time            `json:"invoice_date,omitempty"`
	DueDate       *time.Time            `json:"due_date,omitempty"`
	Amounts       models.MonetaryTriple `json:"amounts"`
	Currency      string                `json:"currency,omitempty"`

	// Text is the full document text as read by the enricher
	Text string `json:"-"`

	// FieldConfidence maps entity types to their confidence
	FieldConfidence map[string]float32 `json:"field_confidence,omitempty"`
	// Confidence is the mean entity confidence, 0 when nothing was found
	Confidence float64 `json:"confidence"`
}

// Empty reports whether no usable field was found
func (r *Result) Empty() bool {
	return r == nil || (r.InvoiceNumber == "" && r.SupplierName == "" && r.InvoiceDate == nil && r.Amounts.Present() == 0)
}
