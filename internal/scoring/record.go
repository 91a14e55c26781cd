package scoring

import (
	"invoiceocr/internal/reconcile"
	"invoiceocr/pkg/models"
)

// InputFromRecord rebuilds the scoring input of an assembled record. The totals as read are
// recovered by undoing the recorded corrections.
func InputFromRecord(rec *models.InvoiceRecord) Input {
	extracted := rec.Amounts
	consistent := true
	for i := len(rec.Corrections) - 1; i >= 0; i-- {
		c := rec.Corrections[i]
		switch c.Field {
		case reconcile.FieldExclVAT:
			extracted.ExclVAT = c.Before
		case reconcile.FieldVAT:
			extracted.VAT = c.Before
		case reconcile.FieldInclVAT:
			extracted.InclVAT = c.Before
		}
		if c.Reason == reconcile.ReasonInconsistent {
			consistent = false
		}
	}

	return Input{
		InvoiceNumber:   rec.InvoiceNumber,
		NumberGenerated: rec.InvoiceNumberSource == models.NumberGenerated,
		Extracted:       extracted,
		Reconciliation: reconcile.Result{
			Amounts:    rec.Amounts,
			Verified:   extracted.Present() == 3,
			Consistent: consistent,
		},
		AmountDue:    rec.AmountDue,
		LineItems:    rec.LineItems,
		SupplierName: rec.SupplierName(),
		DateFound:    !rec.InvoiceDateDefaulted,
	}
}

// ScoreRecord scores an assembled record with the given strategy
func ScoreRecord(s Strategy, rec *models.InvoiceRecord) models.ValidationVerdict {
	return s.Score(InputFromRecord(rec))
}
