package extraction

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"invoiceocr/internal/patterns"
	"invoiceocr/pkg/models"
)

var (
	customerStart = regexp.MustCompile(`(?i)\bfactur[ée]e?r?\s+[àa]\s*:?|\bclient\b\s*:?|\bdestinataire\b\s*:?|\bbill(?:ed)?\s+to\b\s*:?`)
	customerEnd   = regexp.MustCompile(`(?i)\b(?:description|prestations?|d[ée]signation|total|montant)\b`)

	labelLine  = regexp.MustCompile(`(?i)^(?:(?:factures?|invoice|date|num[ée]ro|no\.|r[ée]f[ée]rence|r[ée]f|siret|siren|tva|vat|total|sous-total|montant|t[ée]l[ée]phone|t[ée]l|phone|fax|e-?mail|page|code|r\.?c\.?s|iban|bic|capital)\b|n°)`)
	datePart   = regexp.MustCompile(`\d{2}[/\-.]\d{2}`)
	pureDigits = regexp.MustCompile(`^[\d\s]+$`)

	postalCity = regexp.MustCompile(`\b(\d{5})\s+([A-ZÀ-ÖØ-Þ][A-ZÀ-ÖØ-Þ\s\-']*[A-ZÀ-ÖØ-Þ])`)
	streetLine = regexp.MustCompile(`(?i)\d+.*\b(?:rue|avenue|av\.|boulevard|bd|place|rond[\s\-]point|parc|all[ée]e|chemin|impasse|quai|route)\b`)
)

// sections holds the supplier and customer blocks of an invoice
type sections struct {
	supplier []string
	customer []string
}

// splitSections scans the lines once. The supplier block ends at the first customer keyword,
// the customer block ends at the first structural keyword, and neither reopens.
func splitSections(lines []string) sections {
	var s sections
	inCustomer := false
	for _, line := range lines {
		if !inCustomer {
			if loc := customerStart.FindStringIndex(line); loc != nil {
				inCustomer = true
				if rest := strings.Trim(line[loc[1]:], " :-"); rest != "" {
					s.customer = append(s.customer, rest)
				}
				continue
			}
			s.supplier = append(s.supplier, line)
			continue
		}
		if customerEnd.MatchString(line) {
			return s
		}
		s.customer = append(s.customer, line)
	}
	return s
}

// entityName returns the first line that looks like a company or person name
func entityName(lines []string) string {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case utf8.RuneCountInString(line) <= 3:
		case datePart.MatchString(line):
		case pureDigits.MatchString(line):
		case strings.Contains(line, "@"):
		case labelLine.MatchString(line):
		default:
			return line
		}
	}
	return ""
}

// entityAddress reads postal code, city and street from a block
func entityAddress(lines []string, defaultCountry string) models.Address {
	var addr models.Address
	for _, line := range lines {
		if addr.PostalCode == "" {
			if m := postalCity.FindStringSubmatch(line); m != nil {
				addr.PostalCode = m[1]
				addr.City = strings.TrimSpace(m[2])
			}
		}
		if addr.Street == "" && streetLine.MatchString(line) {
			addr.Street = strings.TrimSpace(line)
		}
	}
	if !addr.IsZero() {
		addr.Country = defaultCountry
	}
	return addr
}

// entityContact reads the first email and phone number of a block
func entityContact(lib *patterns.Library, block string) models.Contact {
	var c models.Contact
	if m, ok := lib.First(patterns.FieldEmail, block); ok {
		c.Email = strings.ToLower(m.Value)
	}
	if m, ok := lib.First(patterns.FieldPhone, block); ok {
		c.Phone = m.Value
	}
	return c
}
