package importer

// header.go locates the header row inside a noisy grid. Real-world files
// carry title rows, blank padding, and decorated headers ("Precio de compra
// (*)"), so the resolver scores each candidate row against the mode's
// required field families instead of trusting row zero.

import (
	"regexp"
	"strings"

	"github.com/tiendafacil/backoffice/internal/grid"
)

// MaxHeaderSearchRows caps how deep the header scan goes.
var MaxHeaderSearchRows = 20

// headerMatchThreshold is the minimum number of required families a row must
// match to be accepted as the header row.
const headerMatchThreshold = 2

var (
	parenSuffixRegex = regexp.MustCompile(`\([^)]*\)`)
	separatorRegex   = regexp.MustCompile(`[\s\-./]+`)
	underscoreRuns   = regexp.MustCompile(`_+`)
)

// Family is one required header family: a canonical name plus the alternative
// tokens that satisfy it (e.g. precio_venta|peso in weight-priced modes).
type Family struct {
	Name   string
	Tokens []string
}

// HeaderMap is the normalized header list aligned by column index,
// derived once per grid.
type HeaderMap struct {
	RowIndex   int
	Original   []string
	Normalized []string
}

// NormalizeHeader canonicalizes a header cell: lowercase, required-field
// asterisks stripped, parenthesized suffixes removed, separator runs
// collapsed to single underscores.
func NormalizeHeader(s string) string {
	s = strings.ToLower(grid.CleanCell(s))
	s = strings.ReplaceAll(s, "*", "")
	s = parenSuffixRegex.ReplaceAllString(s, "")
	s = separatorRegex.ReplaceAllString(s, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// tokenMatches reports bidirectional substring containment between a
// normalized header cell and a normalized family token. "precio" and "price"
// are treated as synonyms since exports from English-locale tools rename
// price columns.
func tokenMatches(cell, token string) bool {
	if cell == "" || token == "" {
		return false
	}
	if strings.Contains(cell, token) || strings.Contains(token, cell) {
		return true
	}

	// precio/price synonym
	if strings.Contains(token, "precio") {
		alt := strings.ReplaceAll(token, "precio", "price")
		if strings.Contains(cell, alt) || strings.Contains(alt, cell) {
			return true
		}
	}
	if strings.Contains(cell, "price") {
		alt := strings.ReplaceAll(cell, "price", "precio")
		if strings.Contains(alt, token) || strings.Contains(token, alt) {
			return true
		}
	}
	return false
}

// familyMatchesCell reports whether any alternative token of the family
// matches the normalized cell.
func familyMatchesCell(cell string, fam Family) bool {
	for _, token := range fam.Tokens {
		if tokenMatches(cell, NormalizeHeader(token)) {
			return true
		}
	}
	return false
}

// FindHeaderRow scans rows top-to-bottom and returns the first row where at
// least two required families match a cell. If no row qualifies, row 0 is
// used as a fallback.
func FindHeaderRow(g grid.RawGrid, families []Family) HeaderMap {
	maxRows := MaxHeaderSearchRows
	if len(g) < maxRows {
		maxRows = len(g)
	}

	headerIdx := 0
	for i := 0; i < maxRows; i++ {
		normalized := normalizeRow(g[i])

		matched := 0
		for _, fam := range families {
			for _, cell := range normalized {
				if familyMatchesCell(cell, fam) {
					matched++
					break
				}
			}
		}
		if matched >= headerMatchThreshold {
			headerIdx = i
			break
		}
	}

	row := []string{}
	if headerIdx < len(g) {
		row = g[headerIdx]
	}

	return HeaderMap{
		RowIndex:   headerIdx,
		Original:   row,
		Normalized: normalizeRow(row),
	}
}

// MissingFamilies returns the required families with no substring-matching
// header at all. A non-empty result is a structural failure: no row-level
// parsing should be attempted.
func MissingFamilies(h HeaderMap, families []Family) []string {
	var missing []string
	for _, fam := range families {
		found := false
		for _, cell := range h.Normalized {
			if familyMatchesCell(cell, fam) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, fam.Name)
		}
	}
	return missing
}

func normalizeRow(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = NormalizeHeader(cell)
	}
	return out
}
