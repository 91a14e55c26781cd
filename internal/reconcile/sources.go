package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"invoiceocr/pkg/models"
)

// Source names
const (
	SourcePattern    = "pattern"
	SourceDocumentAI = "document_ai"
)

// DiscrepancyTolerance is the relative difference, in percent, under which two sources agree
var DiscrepancyTolerance = decimal.NewFromInt(5)

// AmountSource is one reading of the invoice totals
type AmountSource struct {
	Amounts    models.MonetaryTriple
	Source     string
	Confidence float64
}

// SelectionResult holds the per-field choice between two sources
type SelectionResult struct {
	Amounts        models.MonetaryTriple
	Warnings       []string
	HasDiscrepancy bool
	MaxDiscrepancy decimal.Decimal // Percent
}

// SelectAmounts picks every amount from the preferred source when both sources agree within
// DiscrepancyTolerance, and from the more confident source when they do not. An amount known to
// only one source is taken as is.
func (r *Reconciler) SelectAmounts(preferred, other AmountSource) SelectionResult {
	result := SelectionResult{MaxDiscrepancy: decimal.Zero}

	result.Amounts.ExclVAT = r.selectBestAmount(FieldExclVAT, preferred.Amounts.ExclVAT, other.Amounts.ExclVAT, preferred, other, &result)
	result.Amounts.VAT = r.selectBestAmount(FieldVAT, preferred.Amounts.VAT, other.Amounts.VAT, preferred, other, &result)
	result.Amounts.InclVAT = r.selectBestAmount(FieldInclVAT, preferred.Amounts.InclVAT, other.Amounts.InclVAT, preferred, other, &result)

	r.log.Debug().
		Str("preferred", preferred.Source).
		Str("other", other.Source).
		Bool("has_discrepancy", result.HasDiscrepancy).
		Str("max_discrepancy_pct", result.MaxDiscrepancy.StringFixed(1)).
		Strs("warnings", result.Warnings).
		Msg("Amount sources compared")

	return result
}

func (r *Reconciler) selectBestAmount(
	field string,
	a, b decimal.NullDecimal,
	preferred, other AmountSource,
	result *SelectionResult,
) decimal.NullDecimal {
	switch {
	case a.Valid && b.Valid:
	case a.Valid:
		return a
	case b.Valid:
		return b
	default:
		return decimal.NullDecimal{}
	}

	discrepancy := discrepancyPct(a.Decimal, b.Decimal)
	if discrepancy.GreaterThan(result.MaxDiscrepancy) {
		result.MaxDiscrepancy = discrepancy
	}
	if discrepancy.LessThanOrEqual(DiscrepancyTolerance) {
		return a
	}

	result.HasDiscrepancy = true
	result.Warnings = append(result.Warnings, fmt.Sprintf("%s amount discrepancy: %s=%s, %s=%s (%s%% difference)",
		field,
		preferred.Source, a.Decimal.StringFixed(2),
		other.Source, b.Decimal.StringFixed(2),
		discrepancy.StringFixed(1)))

	chosen, value := preferred.Source, a
	if other.Confidence > preferred.Confidence {
		chosen, value = other.Source, b
	}
	r.log.Warn().
		Str("field", field).
		Str("discrepancy_pct", discrepancy.StringFixed(1)).
		Str("chosen", chosen).
		Msg("Significant discrepancy between amount sources")
	return value
}

// discrepancyPct returns the difference of a and b relative to the larger magnitude, in percent
func discrepancyPct(a, b decimal.Decimal) decimal.Decimal {
	if a.IsZero() && b.IsZero() {
		return decimal.Zero
	}
	if a.IsZero() || b.IsZero() {
		return decimal.NewFromInt(100)
	}
	larger := decimal.Max(a.Abs(), b.Abs())
	return a.Sub(b).Abs().Div(larger).Mul(decimal.NewFromInt(100))
}
