package importer

// numeric.go parses the locale-ambiguous numeric strings found in retail
// spreadsheets. Files arrive with either comma-decimal ("1.234,56") or
// dot-decimal ("1,234.56") conventions, often mixed within one batch, so the
// separator roles are decided per value rather than per file.

import (
	"regexp"
	"strconv"
	"strings"
)

// groupedThousandsRegex matches dot-grouped integers like "1.234" or
// "12.345.678", where the dots are thousands separators rather than decimals.
var groupedThousandsRegex = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)

// ParseFlexibleNumber parses a numeric string whose separator convention is
// unknown. Blank or unparsable input yields 0.
func ParseFlexibleNumber(raw string) float64 {
	n, _ := TryFlexibleNumber(raw)
	return n
}

// TryFlexibleNumber parses like ParseFlexibleNumber but also reports whether
// the input was a well-formed number. Blank input is not well-formed.
//
// Separator roles are resolved in order:
//  1. both "." and "," present: "." groups thousands, "," marks decimals
//  2. only "," present: "," marks decimals
//  3. only "." present in a grouped-thousands shape: dots group thousands
//  4. otherwise the string is parsed as-is
func TryFlexibleNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	hasDot := strings.Contains(s, ".")
	hasComma := strings.Contains(s, ",")

	switch {
	case hasDot && hasComma:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case hasComma:
		s = strings.Replace(s, ",", ".", 1)
	case hasDot && groupedThousandsRegex.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseWeight parses small decimal weight values. Only the comma-to-dot
// substitution applies; weights never carry thousands separators.
func ParseWeight(raw string) float64 {
	n, _ := TryWeight(raw)
	return n
}

// TryWeight is ParseWeight with an explicit well-formedness report.
func TryWeight(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	s = strings.Replace(s, ",", ".", 1)

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FormatNumber renders a float the way the parser canonically accepts it
// back: dot decimal, no thousands grouping, trailing zeros trimmed.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
