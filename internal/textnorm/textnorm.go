// Package textnorm cleans OCR output and folds names for comparison.
package textnorm

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"invoiceocr/pkg/models"
)

var currencyGlyphs = strings.NewReplacer(
	"€", " EUR ",
	"$", " USD ",
	"£", " GBP ",
)

// Clean composes accents, drops control characters, collapses whitespace on every line,
// removes blank lines and rewrites currency glyphs as ISO codes.
func Clean(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = currencyGlyphs.Replace(text)

	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Map(func(r rune) rune {
			switch {
			case r == '\t' || r == '\u00a0' || r == '\u202f':
				return ' '
			case unicode.IsControl(r):
				return -1
			}
			return r
		}, line)
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Lines splits cleaned text into lines
func Lines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// Fold lowercases, strips accents and punctuation so that "Société  Générale S.A."
// and "societe generale s a" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

// TextFromWords rebuilds reading-order text from positioned OCR words.
// Words whose vertical centers are within half a word height share a line.
func TextFromWords(words []models.Word) string {
	if len(words) == 0 {
		return ""
	}
	sorted := make([]models.Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		return center(sorted[i]) < center(sorted[j])
	})

	var lines [][]models.Word
	for _, w := range sorted {
		if n := len(lines); n > 0 {
			last := lines[n-1][0]
			tolerance := max(last.Box.Height, w.Box.Height) / 2
			if abs(center(w)-center(last)) <= tolerance {
				lines[n-1] = append(lines[n-1], w)
				continue
			}
		}
		lines = append(lines, []models.Word{w})
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].Box.X < line[j].Box.X })
		parts := make([]string, 0, len(line))
		for _, w := range line {
			parts = append(parts, w.Text)
		}
		out = append(out, strings.Join(parts, " "))
	}
	return strings.Join(out, "\n")
}

func center(w models.Word) int {
	return w.Box.Y + w.Box.Height/2
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
