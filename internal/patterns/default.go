package patterns

import (
	"regexp"
	"strings"
	"unicode"
)

// Additional field types found on French invoices
const (
	FieldRCS      FieldType = "rcs"
	FieldEmail    FieldType = "email"
	FieldPhone    FieldType = "phone"
	FieldCurrency FieldType = "currency"
	FieldLineItem FieldType = "line_item"
	FieldVATRate  FieldType = "vat_rate"
)

// AmountToken matches a monetary figure in French or English notation
const AmountToken = `(\d{1,3}(?: \d{3})+(?:[.,]\d{1,2})?|\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?|\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:[.,]\d{1,2})?)`

const (
	currencyMark = `(?:EUR|USD|GBP|CHF)\b|€|\$|£`
	vatLabel     = `\b(?:t\.?v\.?a|vat)\b\.?`
	invoiceToken = `([A-Z0-9][A-Z0-9\-/]{2,24})`
)

// Lines that carry identifiers or amounts, never an invoice number
var numberNoise = []string{
	"total", "ttc", "tva", "montant", "siret", "siren", "tél", "tel", "phone", "fax",
	"iban", "bic", "rcs", "capital", "naf", "net à payer",
}

var dateShape = regexp.MustCompile(`^(?:\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}|\d{4}[/\-.]\d{1,2}[/\-.]\d{1,2})$`)

// Default returns the pattern set used for French and English invoices
func Default() *Library {
	l := New()

	l.Add(
		Pattern{
			ID:       "invoice_number.keyword",
			Field:    FieldInvoiceNumber,
			Expr:     regexp.MustCompile(`(?i)(?:\b(?:factures?|invoice|num[ée]ro|num\.?|number|no\.)|n°)(?:\s*(?:n°|no\.?|num[ée]ro|number|#))?\s*[:#]?\s*` + invoiceToken),
			Validate: invoiceNumber,
		},
		Pattern{
			ID:       "invoice_number.reference",
			Field:    FieldInvoiceNumber,
			Expr:     regexp.MustCompile(`(?i)\b(?:r[ée]f[ée]rence|reference|r[ée]f)\b\.?\s*[:#]?\s*` + invoiceToken),
			Validate: invoiceNumber,
		},
		Pattern{
			ID:       "invoice_number.fac_code",
			Field:    FieldInvoiceNumber,
			Expr:     regexp.MustCompile(`(?i)\b(FAC[\-\s]?[A-Z0-9]{3,}(?:[\-/][A-Z0-9]+)*)`),
			Validate: invoiceNumber,
		},
		Pattern{
			ID:       "invoice_number.letter_prefix",
			Field:    FieldInvoiceNumber,
			Expr:     regexp.MustCompile(`(?i)\b([A-Z]{1,5}-?\d{4,}(?:[\-/]\d+)*)\b`),
			Exclude:  numberNoise,
			Validate: invoiceNumber,
		},
		Pattern{
			ID:       "invoice_number.numeric_code",
			Field:    FieldInvoiceNumber,
			Expr:     regexp.MustCompile(`\b(\d{4,}[\-/]\d{2,}(?:[\-/]\d+)?)\b`),
			Exclude:  numberNoise,
			Validate: invoiceNumber,
		},
		Pattern{
			ID:       "invoice_number.alnum",
			Field:    FieldInvoiceNumber,
			Expr:     regexp.MustCompile(`(?i)\b([A-Z]+\d{6,})\b`),
			Exclude:  numberNoise,
			Validate: invoiceNumber,
		},
		Pattern{
			ID:       "invoice_number.digits",
			Field:    FieldInvoiceNumber,
			Expr:     regexp.MustCompile(`\b(\d{8,})\b`),
			Exclude:  numberNoise,
			Validate: invoiceNumber,
		},
	)

	// Dot-separated phone numbers such as 04.05.06.07.08 read as dates
	phoneNoise := []string{"tél", "tel:", "tel.", "tel :", "phone", "fax", "mobile", "portable"}

	l.Add(
		Pattern{
			ID:      "date.dmy",
			Field:   FieldDate,
			Exclude: phoneNoise,
			Expr:    regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{4}|\d{2})\b`),
		},
		Pattern{
			ID:      "date.ymd",
			Field:   FieldDate,
			Exclude: phoneNoise,
			Expr:    regexp.MustCompile(`\b(\d{4})[/\-.](\d{1,2})[/\-.](\d{1,2})\b`),
		},
		Pattern{
			ID:      "date.french_month",
			Field:   FieldDate,
			Exclude: phoneNoise,
			Expr:    regexp.MustCompile(`(?i)\b(\d{1,2})(?:er)?\s+(janvier|f[ée]vrier|mars|avril|mai|juin|juillet|ao[ûu]t|septembre|octobre|novembre|d[ée]cembre)\s+(\d{4})\b`),
		},
	)

	l.Add(
		Pattern{
			ID:       "amount.currency",
			Field:    FieldAmount,
			Expr:     regexp.MustCompile(`(?i)` + AmountToken + `\s*(?:` + currencyMark + `)`),
			Validate: plausibleAmount,
		},
		Pattern{
			ID:       "amount.keyword",
			Field:    FieldAmount,
			Expr:     regexp.MustCompile(`\b(\d+(?:[ .]\d{3})*[.,]\d{2})\b`),
			Context:  []string{"total", "montant", "ttc", " ht", "net à payer"},
			Validate: plausibleAmount,
		},
	)

	l.Add(
		Pattern{
			ID:       "siret.keyword",
			Field:    FieldSIRET,
			Expr:     regexp.MustCompile(`(?i)\b(?:siret|siren)\b\s*(?:n°|no\.?)?\s*:?\s*(\d[\d ]{7,18}\d)`),
			Validate: siret,
		},
		Pattern{
			ID:    "vat_number.fr",
			Field: FieldVATNumber,
			Expr:  regexp.MustCompile(`(?i)` + vatLabel + `[^\n]{0,30}?\b([A-Z]{2}\d{11})\b`),
		},
		Pattern{
			ID:    "rcs.keyword",
			Field: FieldRCS,
			Expr:  regexp.MustCompile(`(?i)\bR\.?C\.?S\.?[^0-9\n]*(\d+(?: \d+)*)`),
		},
		Pattern{
			ID:    "email.address",
			Field: FieldEmail,
			Expr:  regexp.MustCompile(`(?i)\b([A-Z0-9._%+\-]+@[A-Z0-9.\-]+\.[A-Z]{2,})\b`),
		},
		Pattern{
			ID:       "phone.keyword",
			Field:    FieldPhone,
			Expr:     regexp.MustCompile(`(?i)\b(?:t[ée]l[ée]phone|t[ée]l|phone|mobile)\b\.?\s*:?\s*(\+?[0-9][0-9 .\-]{8,}[0-9])`),
			Validate: func(v string) bool { return digitCount(v) >= 9 },
		},
	)

	for _, code := range []string{"EUR", "USD", "CHF", "GBP"} {
		l.Add(Pattern{
			ID:    "currency." + strings.ToLower(code),
			Field: FieldCurrency,
			Expr:  regexp.MustCompile(`\b(` + code + `)\b`),
		})
	}

	l.Add(
		Pattern{
			ID:    "vat_rate.explicit",
			Field: FieldVATRate,
			Expr:  regexp.MustCompile(`(?i)` + vatLabel + `[^\n%\d]{0,10}(\d{1,2}(?:[.,]\d{1,2})?)\s*%`),
		},
		Pattern{
			ID:      "line_item.columns",
			Field:   FieldLineItem,
			Expr:    regexp.MustCompile(`(?im)^[ \t]*([^\d\n]*[^\d\s][^\d\n]*?)[ \t]+(\d+(?:[.,]\d+)?)[ \t]+(\d+(?:[.,]\d{1,2})?)[ \t]+(\d+(?:[.,]\d{1,2})?)[ \t]*(?:EUR|USD|GBP|CHF)?[ \t]*$`),
			Exclude: []string{"total", "tva", "t.v.a", "montant", "net à payer", "date", "siret", "siren", "r.c.s", "rcs", "iban", "capital"},
		},
	)

	l.Add(
		Pattern{
			ID:       "subtotal.keyword",
			Field:    FieldSubtotal,
			Expr:     keyed(`(?:sous[\s\-]?total(?:\s+h\.?t\.?)?|total\s+h\.?t\b\.?|montant\s+h\.?t\b\.?|total\s+hors\s+taxes?)`),
			Validate: plausibleAmount,
		},
		Pattern{
			ID:       "vat_total.keyword",
			Field:    FieldVATTotal,
			Expr:     keyed(vatLabel + `(?:\s*\(?\s*\d{1,2}(?:[.,]\d{1,2})?\s*%\s*\)?)?`),
			Exclude:  []string{"intracom", "numéro", "numero", "n°"},
			Validate: plausibleAmount,
		},
		Pattern{
			ID:       "total_incl_vat.keyword",
			Field:    FieldTotal,
			Expr:     keyed(`(?:total\s+t\.?t\.?c\b\.?|montant\s+t\.?t\.?c\b\.?|total\s+toutes\s+taxes(?:\s+comprises)?|net\s+[àa]\s+payer)`),
			Validate: plausibleAmount,
		},
		Pattern{
			ID:       "amount_due.keyword",
			Field:    FieldAmountDue,
			Expr:     keyed(`(?:\btotal\b|[àa]\s+payer|amount\s+due|solde\s+d[ûu])`),
			Validate: plausibleAmount,
		},
	)

	return l
}

// keyed builds a label followed by an amount on the same line. A figure followed by % is a rate, not an amount.
func keyed(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)` + label + `[^\d\n]{0,20}?` + AmountToken + `(?:[^%\d]|$)`)
}

func invoiceNumber(v string) bool {
	v = strings.Trim(v, "-/")
	if len(v) < 3 || len(v) > 25 {
		return false
	}
	if digitCount(v) == 0 {
		return false
	}
	return !dateShape.MatchString(v)
}

func siret(v string) bool {
	n := digitCount(v)
	return n >= 9 && n <= 14
}

func plausibleAmount(v string) bool {
	n := digitCount(v)
	return n > 0 && n <= 12
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
