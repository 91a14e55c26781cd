package scoring

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"invoiceocr/internal/reconcile"
	"invoiceocr/pkg/models"
)

func amount(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func lineItem(excl string) models.LineItem {
	return models.LineItem{AmountExclVAT: decimal.RequireFromString(excl)}
}

// input reconciles extracted totals the way the pipeline does
func input(number string, extracted models.MonetaryTriple, items ...models.LineItem) Input {
	res := reconcile.NewReconciler().Reconcile(extracted)
	return Input{
		InvoiceNumber:  number,
		Extracted:      extracted,
		Reconciliation: res,
		LineItems:      items,
	}
}

func TestBasicScore(t *testing.T) {
	complete := models.MonetaryTriple{ExclVAT: amount("1000"), VAT: amount("200"), InclVAT: amount("1200")}

	tests := []struct {
		name        string
		in          Input
		score       float64
		calculation bool
		required    bool
	}{
		{"nothing", Input{}, 0, false, false},
		{"total only", Input{AmountDue: amount("1200")}, 0.4, false, false},
		{"consistent totals", input("F1", complete), 0.7, true, true},
		{"totals and matching line items", input("F1", complete, lineItem("400"), lineItem("600")), 1, true, true},
		{"line items off by more than a cent", input("F1", complete, lineItem("400"), lineItem("600.02")), 0.7, false, true},
		{"inconsistent totals", input("F1", models.MonetaryTriple{ExclVAT: amount("1000"), VAT: amount("200"), InclVAT: amount("1300")}), 0.4, false, true},
		{"derived total is not a verification", input("F1", models.MonetaryTriple{ExclVAT: amount("1000"), VAT: amount("200")}), 0.4, false, true},
		{"line items without subtotal", input("", models.MonetaryTriple{}, lineItem("10")), 0.3, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := BasicScore{}.Score(tt.in)
			assert.InDelta(t, tt.score, v.DataQualityScore, 1e-9)
			assert.Equal(t, tt.calculation, v.CalculationCheck)
			assert.Equal(t, tt.required, v.RequiredFieldsPresent)
			assert.Equal(t, StrategyBasic, v.Strategy)
		})
	}
}

func TestBasicScore_TotalOnlyScenario(t *testing.T) {
	v := BasicScore{}.Score(Input{AmountDue: amount("1200.00"), SupplierName: models.UnknownSupplierName})

	assert.False(t, v.RequiredFieldsPresent)
	assert.Less(t, v.DataQualityScore, 0.5)
}

func TestEnrichedScore(t *testing.T) {
	withTotal := input("F1", models.MonetaryTriple{InclVAT: amount("600")})

	tests := []struct {
		name  string
		in    Input
		score float64
	}{
		{"nothing", Input{}, 0},
		{"number only", Input{InvoiceNumber: "F1"}, 0.25},
		{"generated number does not count", Input{InvoiceNumber: "INV-20250101000000-abcdef12", NumberGenerated: true}, 0},
		{"number and total", withTotal, 0.5},
		{"sentinel supplier does not count", func() Input {
			in := withTotal
			in.SupplierName = models.UnknownSupplierName
			return in
		}(), 0.5},
		{"all four", func() Input {
			in := withTotal
			in.SupplierName = "Entreprise ABC"
			in.DateFound = true
			return in
		}(), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := EnrichedScore{}.Score(tt.in)
			assert.InDelta(t, tt.score, v.DataQualityScore, 1e-9)
			assert.Equal(t, StrategyEnriched, v.Strategy)
		})
	}
}

func TestStrategiesDiverge(t *testing.T) {
	in := input("F2025-001", models.MonetaryTriple{InclVAT: amount("600")})
	in.SupplierName = "Entreprise ABC"
	in.DateFound = true

	basic := BasicScore{}.Score(in)
	enriched := EnrichedScore{}.Score(in)

	assert.InDelta(t, 0.4, basic.DataQualityScore, 1e-9)
	assert.InDelta(t, 1.0, enriched.DataQualityScore, 1e-9)
	assert.Equal(t, basic.RequiredFieldsPresent, enriched.RequiredFieldsPresent)
}

func TestScoreIsMonotonic(t *testing.T) {
	steps := []Input{
		{},
		input("", models.MonetaryTriple{ExclVAT: amount("1000")}),
		input("", models.MonetaryTriple{ExclVAT: amount("1000"), VAT: amount("200")}),
		input("F1", models.MonetaryTriple{ExclVAT: amount("1000"), VAT: amount("200"), InclVAT: amount("1200")}),
		input("F1", models.MonetaryTriple{ExclVAT: amount("1000"), VAT: amount("200"), InclVAT: amount("1200")}, lineItem("1000")),
	}
	steps[4].SupplierName = "Entreprise ABC"
	steps[4].DateFound = true

	for _, s := range []Strategy{BasicScore{}, EnrichedScore{}} {
		prev := -1.0
		for i, in := range steps {
			score := s.Score(in).DataQualityScore
			assert.GreaterOrEqual(t, score, prev, "%s step %d", s.Name(), i)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
			prev = score
		}
	}
}

func TestScoreRecord(t *testing.T) {
	rec := &models.InvoiceRecord{
		InvoiceNumber:       "F1",
		InvoiceNumberSource: models.NumberFromPattern,
		Amounts:             models.MonetaryTriple{ExclVAT: amount("1000"), VAT: amount("200"), InclVAT: amount("1200")},
		Corrections: []models.Correction{{
			Field:  reconcile.FieldInclVAT,
			Before: amount("1300"),
			After:  amount("1200"),
			Reason: reconcile.ReasonInconsistent,
		}},
		Supplier:             models.UnknownSupplier(),
		InvoiceDateDefaulted: true,
	}

	in := InputFromRecord(rec)
	assert.True(t, in.Extracted.InclVAT.Decimal.Equal(decimal.NewFromInt(1300)))
	assert.True(t, in.Reconciliation.Verified)
	assert.False(t, in.Reconciliation.Consistent)

	basic := ScoreRecord(BasicScore{}, rec)
	assert.False(t, basic.CalculationCheck)
	assert.InDelta(t, 0.4, basic.DataQualityScore, 1e-9)

	enriched := ScoreRecord(ForStrategy(StrategyEnriched), rec)
	assert.InDelta(t, 0.5, enriched.DataQualityScore, 1e-9)
}

func TestAccept(t *testing.T) {
	assert.True(t, Accept(models.ValidationVerdict{RequiredFieldsPresent: true, DataQualityScore: 0.8}, 0.8))
	assert.False(t, Accept(models.ValidationVerdict{RequiredFieldsPresent: true, DataQualityScore: 0.7}, 0.8))
	assert.False(t, Accept(models.ValidationVerdict{DataQualityScore: 1}, 0.8))
}

func TestKeywordConfidence(t *testing.T) {
	assert.Equal(t, 0.0, KeywordConfidence(""))
	assert.Equal(t, 0.3, KeywordConfidence("FACTURE n° 12\nTotal TTC 600,00"))
	assert.Equal(t, 0.1, KeywordConfidence("Quantité: 3"))
	assert.Equal(t, 0.0, KeywordConfidence("Thttp totality"), "keywords match whole words only")
}
