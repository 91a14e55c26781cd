// Package extraction reads invoice fields out of OCR text with the pattern library.
//
// The extractor is stateless: every call works on its own copy of the text and returns a
// PartialInvoiceData in which missing fields are simply absent. Sentinel values are never
// introduced here; that is the assembler's job.
package extraction

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoiceocr/internal/logger"
	"invoiceocr/internal/patterns"
	"invoiceocr/internal/textnorm"
	"invoiceocr/pkg/models"
)

// Options tune the defaults applied while extracting
type Options struct {
	DefaultCountry string
	DefaultVATRate decimal.Decimal
}

// DefaultOptions returns the French defaults
func DefaultOptions() Options {
	return Options{
		DefaultCountry: "France",
		DefaultVATRate: decimal.RequireFromString("0.20"),
	}
}

type FieldExtractor struct {
	lib  *patterns.Library
	opts Options
	log  zerolog.Logger
}

// NewFieldExtractor creates an extractor. A nil library selects patterns.Default().
func NewFieldExtractor(lib *patterns.Library, opts Options) *FieldExtractor {
	if lib == nil {
		lib = patterns.Default()
	}
	return &FieldExtractor{
		lib:  lib,
		opts: opts,
		log:  logger.WithComponent("field-extractor"),
	}
}

// Library returns the pattern library used by the extractor
func (e *FieldExtractor) Library() *patterns.Library {
	return e.lib
}

// Extract reads every field it can find in text
func (e *FieldExtractor) Extract(text string) *PartialInvoiceData {
	clean := textnorm.Clean(text)
	lines := textnorm.Lines(clean)
	data := &PartialInvoiceData{CleanText: clean}

	e.extractInvoiceNumber(clean, data)
	e.extractDates(clean, data)

	secs := splitSections(lines)
	data.Supplier = e.extractParty(secs.supplier, e.opts.DefaultCountry)
	data.Customer = e.extractParty(secs.customer, e.opts.DefaultCountry)

	// Tax identifiers printed outside the header block still belong to the supplier
	if data.Supplier.SIRET == "" {
		if c, ok := e.lib.First(patterns.FieldSIRET, clean); ok {
			data.Supplier.SIRET = digitsOnly(c.Value)
		}
	}
	if data.Supplier.VATNumber == "" {
		if c, ok := e.lib.First(patterns.FieldVATNumber, clean); ok {
			data.Supplier.VATNumber = strings.ToUpper(c.Value)
		}
	}

	data.VATRate = e.explicitVATRate(clean)
	data.LineItems = e.extractLineItems(clean, data.VATRate)
	data.Totals = e.extractTotals(lines)

	if c, ok := e.lib.First(patterns.FieldCurrency, clean); ok {
		data.Currency = c.Value
	}

	e.log.Debug().
		Str("invoice_number", data.InvoiceNumber).
		Str("supplier", data.Supplier.Name).
		Str("customer", data.Customer.Name).
		Int("line_items", len(data.LineItems)).
		Bool("has_totals", data.Totals.Any()).
		Msg("Fields extracted")

	return data
}

func (e *FieldExtractor) extractInvoiceNumber(text string, data *PartialInvoiceData) {
	candidates := e.lib.Match(patterns.FieldInvoiceNumber, text)
	data.Candidates = append(data.Candidates, candidates...)
	if len(candidates) == 0 {
		return
	}
	data.InvoiceNumber = strings.Trim(candidates[0].Value, "-/")
	data.InvoiceNumberPattern = candidates[0].PatternID
}

// extractDates assigns the earliest date to the invoice and the latest, when distinct, to the due date
func (e *FieldExtractor) extractDates(text string, data *PartialInvoiceData) {
	candidates := e.lib.FindAll(patterns.FieldDate, text)
	data.Candidates = append(data.Candidates, candidates...)

	dates := sortedDates(candidates)
	if len(dates) == 0 {
		return
	}
	first := dates[0]
	data.InvoiceDate = &first
	if len(dates) > 1 {
		last := dates[len(dates)-1]
		data.DueDate = &last
	}
}

func (e *FieldExtractor) extractParty(lines []string, defaultCountry string) models.Party {
	if len(lines) == 0 {
		return models.Party{}
	}
	block := strings.Join(lines, "\n")
	p := models.Party{
		Name:    entityName(lines),
		Address: entityAddress(lines, defaultCountry),
		Contact: entityContact(e.lib, block),
	}
	if c, ok := e.lib.First(patterns.FieldSIRET, block); ok {
		p.SIRET = digitsOnly(c.Value)
	}
	if c, ok := e.lib.First(patterns.FieldVATNumber, block); ok {
		p.VATNumber = strings.ToUpper(c.Value)
	}
	if c, ok := e.lib.First(patterns.FieldRCS, block); ok {
		p.RCS = c.Value
	}
	return p
}

// explicitVATRate returns the VAT rate printed on the invoice when there is exactly one
func (e *FieldExtractor) explicitVATRate(text string) decimal.NullDecimal {
	var rate decimal.NullDecimal
	for _, c := range e.lib.FindAll(patterns.FieldVATRate, text) {
		pct, err := ParseAmount(c.Value)
		if err != nil || !pct.IsPositive() {
			continue
		}
		r := pct.Div(decimal.NewFromInt(100))
		if rate.Valid && !rate.Decimal.Equal(r) {
			// Several rates on one invoice: per-line attribution is not attempted
			return decimal.NullDecimal{}
		}
		rate = decimal.NewNullDecimal(r)
	}
	return rate
}

func (e *FieldExtractor) extractLineItems(text string, explicitRate decimal.NullDecimal) []models.LineItem {
	rate := e.opts.DefaultVATRate
	if explicitRate.Valid {
		rate = explicitRate.Decimal
	}

	var items []models.LineItem
	for _, c := range e.lib.FindAll(patterns.FieldLineItem, text) {
		if len(c.Groups) < 4 {
			continue
		}
		qty, err := ParseAmount(c.Groups[1])
		if err != nil {
			continue
		}
		unit, err := ParseAmount(c.Groups[2])
		if err != nil {
			continue
		}
		amount, err := ParseAmount(c.Groups[3])
		if err != nil {
			continue
		}
		vat := amount.Mul(rate).Round(2)
		items = append(items, models.LineItem{
			LineNumber:    len(items) + 1,
			Description:   c.Value,
			Quantity:      qty,
			UnitPrice:     unit,
			VATRate:       rate,
			AmountExclVAT: amount,
			VATAmount:     vat,
			AmountInclVAT: amount.Add(vat),
		})
	}
	return items
}

// extractTotals scans the lines mentioning totals or VAT. Each line is claimed by the first keyed
// pattern that matches it and the first value found for a field is kept. Lines holding a VAT id
// are skipped.
func (e *FieldExtractor) extractTotals(lines []string) Totals {
	var t Totals
	keyed := []struct {
		field  patterns.FieldType
		target *decimal.NullDecimal
	}{
		{patterns.FieldSubtotal, &t.Subtotal},
		{patterns.FieldVATTotal, &t.VAT},
		{patterns.FieldTotal, &t.TotalInclVAT},
		{patterns.FieldAmountDue, &t.AmountDue},
	}

	for _, line := range lines {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "total") && !strings.Contains(lower, "tva") &&
			!strings.Contains(lower, "t.v.a") && !strings.Contains(lower, "payer") {
			continue
		}
		// "TVA FR12345678901" carries the VAT id, not the VAT amount
		if _, ok := e.lib.First(patterns.FieldVATNumber, line); ok {
			continue
		}
		for _, k := range keyed {
			c, ok := e.lib.First(k.field, line)
			if !ok {
				continue
			}
			if !k.target.Valid {
				*k.target = nullAmount(c.Value)
			}
			break
		}
	}

	if t.TotalInclVAT.Valid && !t.AmountDue.Valid {
		t.AmountDue = t.TotalInclVAT
	}
	return t
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
