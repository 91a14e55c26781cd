// Package reconcile enforces excl_vat + vat = incl_vat on extracted invoice totals.
package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoiceocr/internal/logger"
	"invoiceocr/pkg/models"
)

// Field names used in corrections
const (
	FieldExclVAT = "excl_vat"
	FieldVAT     = "vat"
	FieldInclVAT = "incl_vat"
)

// Correction reasons
const (
	ReasonDerived      = "derived from the two other amounts"
	ReasonInconsistent = "excl_vat + vat differs from incl_vat beyond tolerance"
	ReasonEstimated    = "vat estimated from historical invoices"
)

// Tolerance is the discrepancy ignored between excl_vat + vat and incl_vat
var Tolerance = decimal.New(1, -2)

// Result is the outcome of a reconciliation
type Result struct {
	Amounts     models.MonetaryTriple
	Corrections []models.Correction
	Derived     string   // Field computed from the two others, empty when none
	Verified    bool     // All three amounts were present and could be checked
	Consistent  bool     // No amount had to be overwritten
	Warnings    []string // Human readable notes, one per correction
}

// Reconciler cross-validates monetary triples
type Reconciler struct {
	log zerolog.Logger
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		log: logger.WithComponent("amount-reconciler"),
	}
}

// Reconcile derives a missing amount from the two others, or overwrites incl_vat when the three
// amounts disagree beyond Tolerance. With fewer than two amounts nothing is inferred.
func (r *Reconciler) Reconcile(m models.MonetaryTriple) Result {
	result := Result{Amounts: m, Consistent: true}

	switch m.Present() {
	case 3:
		result.Verified = true
		r.crossValidateAmounts(&result)
	case 2:
		r.calculateMissingAmount(&result)
	}

	r.log.Debug().
		Str("excl_vat", formatAmount(result.Amounts.ExclVAT)).
		Str("vat", formatAmount(result.Amounts.VAT)).
		Str("incl_vat", formatAmount(result.Amounts.InclVAT)).
		Bool("verified", result.Verified).
		Bool("consistent", result.Consistent).
		Str("derived", result.Derived).
		Msg("Amount reconciliation completed")

	return result
}

// crossValidateAmounts trusts the keyword anchored subtotal and VAT over a free standing total
func (r *Reconciler) crossValidateAmounts(result *Result) {
	m := &result.Amounts
	calculated := m.ExclVAT.Decimal.Add(m.VAT.Decimal)
	difference := calculated.Sub(m.InclVAT.Decimal).Abs()
	if difference.LessThanOrEqual(Tolerance) {
		return
	}

	before := m.InclVAT
	m.InclVAT = decimal.NewNullDecimal(calculated)
	result.Consistent = false
	result.Corrections = append(result.Corrections, models.Correction{
		Field:  FieldInclVAT,
		Before: before,
		After:  m.InclVAT,
		Reason: ReasonInconsistent,
	})
	result.Warnings = append(result.Warnings, fmt.Sprintf(
		"Amount calculation error: excl_vat(%s) + vat(%s) = %s, but incl_vat=%s (difference: %s)",
		m.ExclVAT.Decimal.StringFixed(2),
		m.VAT.Decimal.StringFixed(2),
		calculated.StringFixed(2),
		before.Decimal.StringFixed(2),
		difference.StringFixed(2)))

	r.log.Warn().
		Str("excl_vat", m.ExclVAT.Decimal.StringFixed(2)).
		Str("vat", m.VAT.Decimal.StringFixed(2)).
		Str("incl_vat_before", before.Decimal.StringFixed(2)).
		Str("incl_vat_after", calculated.StringFixed(2)).
		Str("difference", difference.StringFixed(2)).
		Msg("Total overwritten with excl_vat + vat")
}

// calculateMissingAmount fills the one absent amount of a triple with two values
func (r *Reconciler) calculateMissingAmount(result *Result) {
	m := &result.Amounts
	var field string
	var value decimal.Decimal

	switch {
	case !m.InclVAT.Valid:
		field, value = FieldInclVAT, m.ExclVAT.Decimal.Add(m.VAT.Decimal)
		m.InclVAT = decimal.NewNullDecimal(value)
	case !m.ExclVAT.Valid:
		field, value = FieldExclVAT, m.InclVAT.Decimal.Sub(m.VAT.Decimal)
		m.ExclVAT = decimal.NewNullDecimal(value)
	default:
		field, value = FieldVAT, m.InclVAT.Decimal.Sub(m.ExclVAT.Decimal)
		m.VAT = decimal.NewNullDecimal(value)
	}

	result.Derived = field
	result.Corrections = append(result.Corrections, models.Correction{
		Field:  field,
		After:  decimal.NewNullDecimal(value),
		Reason: ReasonDerived,
	})
	result.Warnings = append(result.Warnings, fmt.Sprintf("%s calculated from the two other amounts", field))

	r.log.Info().
		Str("field", field).
		Str("value", value.StringFixed(2)).
		Msg("Calculated missing amount")
}

// ReconcileWithHistory estimates the VAT of an invoice that only shows a subtotal, then reconciles.
// A nil history or a failing history query skips the estimate.
func (r *Reconciler) ReconcileWithHistory(ctx context.Context, m models.MonetaryTriple, history VATHistory) Result {
	if history == nil || !m.ExclVAT.Valid || m.VAT.Valid || m.InclVAT.Valid {
		return r.Reconcile(m)
	}

	rate, ok := r.EstimateVATRate(ctx, history)
	if !ok {
		return r.Reconcile(m)
	}

	vat := m.ExclVAT.Decimal.Mul(rate).Round(2)
	m.VAT = decimal.NewNullDecimal(vat)
	estimate := models.Correction{
		Field:  FieldVAT,
		After:  m.VAT,
		Reason: ReasonEstimated,
	}

	r.log.Info().
		Str("rate", rate.StringFixed(4)).
		Str("vat", vat.StringFixed(2)).
		Msg("VAT estimated from historical invoices")

	result := r.Reconcile(m)
	result.Corrections = append([]models.Correction{estimate}, result.Corrections...)
	result.Warnings = append([]string{fmt.Sprintf("vat estimated at rate %s", rate.StringFixed(4))}, result.Warnings...)
	return result
}

func formatAmount(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.StringFixed(2)
}
