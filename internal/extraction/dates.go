package extraction

import (
	"sort"
	"strconv"
	"time"

	"invoiceocr/internal/patterns"
	"invoiceocr/internal/textnorm"
)

// Accepted year range for dates read on invoices
const (
	MinYear = 2000
	MaxYear = 2030
)

var frenchMonths = map[string]time.Month{
	"janvier":   time.January,
	"fevrier":   time.February,
	"mars":      time.March,
	"avril":     time.April,
	"mai":       time.May,
	"juin":      time.June,
	"juillet":   time.July,
	"aout":      time.August,
	"septembre": time.September,
	"octobre":   time.October,
	"novembre":  time.November,
	"decembre":  time.December,
}

// ParseDate turns a date candidate into a calendar date. Invalid or out of range dates are rejected.
func ParseDate(c patterns.Candidate) (time.Time, bool) {
	if len(c.Groups) < 3 {
		return time.Time{}, false
	}

	var day, month, year int
	switch c.PatternID {
	case "date.ymd":
		year, month, day = atoi(c.Groups[0]), atoi(c.Groups[1]), atoi(c.Groups[2])
	case "date.french_month":
		m, ok := frenchMonths[textnorm.Fold(c.Groups[1])]
		if !ok {
			return time.Time{}, false
		}
		day, month, year = atoi(c.Groups[0]), int(m), atoi(c.Groups[2])
	default:
		day, month, year = atoi(c.Groups[0]), atoi(c.Groups[1]), atoi(c.Groups[2])
		if len(c.Groups[2]) == 2 {
			year += 2000
		}
	}

	if day < 1 || day > 31 || month < 1 || month > 12 || year < MinYear || year > MaxYear {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// 31/02 rolls over into March
	if d.Day() != day || int(d.Month()) != month {
		return time.Time{}, false
	}
	return d, true
}

// sortedDates parses every candidate and returns the distinct valid dates in ascending order
func sortedDates(candidates []patterns.Candidate) []time.Time {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, c := range candidates {
		d, ok := ParseDate(c)
		if !ok || seen[d] {
			continue
		}
		seen[d] = true
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}
