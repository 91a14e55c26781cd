// Package scoring grades assembled invoices.
//
// BasicScore weighs what the pattern stage found (totals, line items, arithmetic consistency) and
// is used on the plain extraction path. EnrichedScore counts the key fields a bookkeeper needs and
// is used when an enrichment source contributed to the record.
package scoring

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"invoiceocr/internal/reconcile"
	"invoiceocr/internal/textnorm"
	"invoiceocr/pkg/models"
)

// Strategy names
const (
	StrategyBasic    = "basic"
	StrategyEnriched = "enriched"
)

// Strategy computes a validation verdict
type Strategy interface {
	Name() string
	Score(in Input) models.ValidationVerdict
}

// Input is what the scorers look at
type Input struct {
	InvoiceNumber   string
	NumberGenerated bool // The number is the INV- fallback

	Extracted      models.MonetaryTriple // Totals as read, before reconciliation
	Reconciliation reconcile.Result
	AmountDue      decimal.NullDecimal
	LineItems      []models.LineItem

	SupplierName string
	DateFound    bool
}

// ForStrategy returns the named strategy, BasicScore for unknown names
func ForStrategy(name string) Strategy {
	if name == StrategyEnriched {
		return EnrichedScore{}
	}
	return BasicScore{}
}

// BasicScore: 0.4 when totals are present, 0.3 when line items are present, 0.3 when the
// calculation check holds.
type BasicScore struct{}

func (BasicScore) Name() string { return StrategyBasic }

func (s BasicScore) Score(in Input) models.ValidationVerdict {
	v := models.ValidationVerdict{
		CalculationCheck:      calculationCheck(in),
		RequiredFieldsPresent: requiredFieldsPresent(in),
		Strategy:              s.Name(),
	}

	score := 0.0
	if in.Extracted.Present() > 0 || in.AmountDue.Valid {
		score += 0.4
	}
	if len(in.LineItems) > 0 {
		score += 0.3
	}
	if v.CalculationCheck {
		score += 0.3
	}
	v.DataQualityScore = round2(math.Min(score, 1))
	return v
}

// EnrichedScore is the fraction of the four key fields present: invoice number, total including
// VAT, supplier name and invoice date.
type EnrichedScore struct{}

func (EnrichedScore) Name() string { return StrategyEnriched }

func (s EnrichedScore) Score(in Input) models.ValidationVerdict {
	v := models.ValidationVerdict{
		CalculationCheck:      calculationCheck(in),
		RequiredFieldsPresent: requiredFieldsPresent(in),
		Strategy:              s.Name(),
	}

	present := 0
	for _, ok := range []bool{
		hasInvoiceNumber(in),
		in.Reconciliation.Amounts.InclVAT.Valid,
		in.SupplierName != "" && in.SupplierName != models.UnknownSupplierName,
		in.DateFound,
	} {
		if ok {
			present++
		}
	}
	v.DataQualityScore = round2(float64(present) / 4)
	return v
}

// Accept reports whether a verdict passes the acceptance threshold
func Accept(v models.ValidationVerdict, threshold float64) bool {
	return v.RequiredFieldsPresent && v.DataQualityScore >= threshold
}

func hasInvoiceNumber(in Input) bool {
	return in.InvoiceNumber != "" && !in.NumberGenerated
}

func requiredFieldsPresent(in Input) bool {
	return hasInvoiceNumber(in) && (in.Reconciliation.Amounts.InclVAT.Valid || in.AmountDue.Valid)
}

// calculationCheck holds when at least one arithmetic verification was possible and none needed a
// correction: the three totals agree, and line items sum to the stated subtotal.
func calculationCheck(in Input) bool {
	checks := 0
	if in.Reconciliation.Verified {
		checks++
		if !in.Reconciliation.Consistent {
			return false
		}
	}
	if len(in.LineItems) > 0 && in.Extracted.ExclVAT.Valid {
		checks++
		sum := decimal.Zero
		for _, item := range in.LineItems {
			sum = sum.Add(item.AmountExclVAT)
		}
		if sum.Sub(in.Extracted.ExclVAT.Decimal).Abs().GreaterThan(reconcile.Tolerance) {
			return false
		}
	}
	return checks > 0
}

var confidenceKeywords = []string{
	"facture", "invoice", "total", "tva", "ht", "ttc", "siret", "date", "montant", "quantite",
}

// KeywordConfidence is the share of typical invoice keywords found in text
func KeywordConfidence(text string) float64 {
	words := make(map[string]bool)
	for _, w := range strings.Fields(textnorm.Fold(text)) {
		words[w] = true
	}
	found := 0
	for _, k := range confidenceKeywords {
		if words[k] {
			found++
		}
	}
	return round2(float64(found) / float64(len(confidenceKeywords)))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
