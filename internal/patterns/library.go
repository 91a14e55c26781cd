// Package patterns holds the ordered regular expressions used to find invoice fields in OCR text.
//
// Patterns are grouped by field type. Within a field type the declaration order is the preference
// order: Match tries every pattern and concatenates the results, earlier patterns first, so callers
// simply take the first candidate that suits them.
package patterns

import (
	"regexp"
	"strings"
)

// FieldType names a group of patterns
type FieldType string

const (
	FieldInvoiceNumber FieldType = "invoice_number"
	FieldDate          FieldType = "date"
	FieldAmount        FieldType = "amount"
	FieldSIRET         FieldType = "siret"
	FieldVATNumber     FieldType = "vat_number"

	// Keyed amount patterns used by the totals scan
	FieldSubtotal  FieldType = "subtotal"
	FieldVATTotal  FieldType = "vat_total"
	FieldTotal     FieldType = "total_incl_vat"
	FieldAmountDue FieldType = "amount_due"
)

// Pattern is one matching rule
type Pattern struct {
	ID    string
	Field FieldType
	Expr  *regexp.Regexp

	// Context keywords: when set, the line holding the match must contain one of them.
	Context []string

	// Exclude keywords: a match on a line containing one of them is skipped.
	Exclude []string

	// Validate rejects a captured value. Nil accepts everything.
	Validate func(value string) bool
}

// Candidate is a value found by one pattern
type Candidate struct {
	Field     FieldType
	Value     string   // First capture group, or the whole match when the pattern has none
	Groups    []string // All capture groups
	PatternID string
	Priority  int // Declaration index of the pattern within its field type
	Offset    int // Byte offset of the match in the text
}

// Library is an ordered rule list per field type
type Library struct {
	order    []FieldType
	patterns map[FieldType][]Pattern
}

// New creates an empty library
func New() *Library {
	return &Library{patterns: make(map[FieldType][]Pattern)}
}

// Add appends patterns; their order of addition is their priority.
func (l *Library) Add(patterns ...Pattern) *Library {
	for _, p := range patterns {
		if _, ok := l.patterns[p.Field]; !ok {
			l.order = append(l.order, p.Field)
		}
		l.patterns[p.Field] = append(l.patterns[p.Field], p)
	}
	return l
}

// Patterns returns the patterns of a field type in priority order
func (l *Library) Patterns(field FieldType) []Pattern {
	return l.patterns[field]
}

// Fields returns the registered field types in registration order
func (l *Library) Fields() []FieldType {
	return l.order
}

// Match returns, for every pattern of the field, its first valid match in text.
// Results keep declaration order. No match gives an empty slice.
func (l *Library) Match(field FieldType, text string) []Candidate {
	var out []Candidate
	for i, p := range l.patterns[field] {
		if c, ok := p.first(text, i); ok {
			out = append(out, c)
		}
	}
	return out
}

// First returns the highest priority candidate for the field
func (l *Library) First(field FieldType, text string) (Candidate, bool) {
	for i, p := range l.patterns[field] {
		if c, ok := p.first(text, i); ok {
			return c, true
		}
	}
	return Candidate{}, false
}

// FindAll returns every valid occurrence of every pattern of the field,
// grouped by pattern in declaration order and by position inside a group.
func (l *Library) FindAll(field FieldType, text string) []Candidate {
	var out []Candidate
	for i, p := range l.patterns[field] {
		out = append(out, p.all(text, i, -1)...)
	}
	return out
}

func (p Pattern) first(text string, priority int) (Candidate, bool) {
	found := p.all(text, priority, 1)
	if len(found) == 0 {
		return Candidate{}, false
	}
	return found[0], true
}

// all walks the matches of p in order and keeps the valid ones, up to limit (-1 for no limit).
func (p Pattern) all(text string, priority, limit int) []Candidate {
	var out []Candidate
	for _, loc := range p.Expr.FindAllStringSubmatchIndex(text, -1) {
		c := p.candidate(text, loc, priority)
		if !p.accepts(text, loc[0], c.Value) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (p Pattern) candidate(text string, loc []int, priority int) Candidate {
	c := Candidate{
		Field:     p.Field,
		PatternID: p.ID,
		Priority:  priority,
		Offset:    loc[0],
	}
	for g := 2; g+1 < len(loc); g += 2 {
		if loc[g] < 0 {
			c.Groups = append(c.Groups, "")
			continue
		}
		c.Groups = append(c.Groups, text[loc[g]:loc[g+1]])
	}
	if len(c.Groups) > 0 {
		c.Value = strings.TrimSpace(c.Groups[0])
	} else {
		c.Value = strings.TrimSpace(text[loc[0]:loc[1]])
	}
	return c
}

func (p Pattern) accepts(text string, offset int, value string) bool {
	if value == "" {
		return false
	}
	if len(p.Context) > 0 || len(p.Exclude) > 0 {
		line := strings.ToLower(lineAt(text, offset))
		if len(p.Context) > 0 && !containsAny(line, p.Context) {
			return false
		}
		if containsAny(line, p.Exclude) {
			return false
		}
	}
	if p.Validate != nil && !p.Validate(value) {
		return false
	}
	return true
}

// lineAt returns the line of text containing offset
func lineAt(text string, offset int) string {
	start := strings.LastIndexByte(text[:offset], '\n') + 1
	end := strings.IndexByte(text[offset:], '\n')
	if end < 0 {
		return text[start:]
	}
	return text[start : offset+end]
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
