package pipeline_test

import (
	"context"
	"fmt"

	"invoiceocr/internal/pipeline"
	"invoiceocr/internal/reference"
	"invoiceocr/pkg/models"
)

func ExampleProcessor_ProcessDocument() {
	store := reference.NewMemoryStore(nil, []reference.Supplier{
		{ID: "s-1", Name: "Entreprise ABC", Active: true},
	})
	p := pipeline.NewProcessor(store, pipeline.DefaultOptions())

	doc := models.RawDocument{Text: "FACTURE F2025-001\nDate: 19/08/2025\nEntreprise ABC\nSous-total HT 500,00\nTVA 20% 100,00"}
	rec := p.ProcessDocument(context.Background(), doc, "scan.png")

	fmt.Println(rec.InvoiceNumber, rec.Supplier.ID)
	fmt.Println(rec.Amounts.InclVAT.Decimal.StringFixed(2), rec.IsComplete)
	// Output:
	// F2025-001 s-1
	// 600.00 true
}
