package reconcile

import (
	"context"

	"github.com/shopspring/decimal"
)

// Historical VAT estimation bounds
const HistoryLimit = 100

var (
	MinVATRate = decimal.RequireFromString("0.15")
	MaxVATRate = decimal.RequireFromString("0.25")
)

// VATHistory returns vat/excl_vat ratios of the most recent stored invoices, newest first
type VATHistory interface {
	RecentVATRatios(ctx context.Context, limit int) ([]decimal.Decimal, error)
}

// EstimateVATRate averages the plausible historical VAT ratios. Ratios outside
// [MinVATRate, MaxVATRate] are ignored; without any usable ratio ok is false.
func (r *Reconciler) EstimateVATRate(ctx context.Context, history VATHistory) (rate decimal.Decimal, ok bool) {
	ratios, err := history.RecentVATRatios(ctx, HistoryLimit)
	if err != nil {
		r.log.Warn().Err(err).Msg("Historical VAT lookup failed, skipping estimate")
		return decimal.Decimal{}, false
	}

	sum := decimal.Zero
	n := 0
	for _, ratio := range ratios {
		if ratio.LessThan(MinVATRate) || ratio.GreaterThan(MaxVATRate) {
			continue
		}
		sum = sum.Add(ratio)
		n++
	}
	if n == 0 {
		return decimal.Decimal{}, false
	}
	return sum.Div(decimal.NewFromInt(int64(n))).Round(4), true
}
