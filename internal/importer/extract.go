package importer

// extract.go resolves canonical field values out of rows keyed by whatever
// headers the source file happened to use. All field access in the pipeline
// goes through Resolve/ResolveExact; nothing reads row cells directly, which
// keeps the fuzzy-match contract in one place.

import (
	"strings"

	"github.com/tiendafacil/backoffice/internal/grid"
)

// Row is one data row keyed by original header. Headers preserves column
// order so fuzzy matches are deterministic regardless of map iteration.
type Row struct {
	Headers []string
	Values  map[string]string
}

// NewRow pairs a header row with one data row. Cells beyond the header width
// are dropped; short rows leave trailing headers empty.
func NewRow(headers, cells []string) Row {
	values := make(map[string]string, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		if i < len(cells) {
			values[h] = grid.CleanCell(cells[i])
		} else {
			values[h] = ""
		}
	}
	return Row{Headers: headers, Values: values}
}

// normalizeKey reduces a header or alias to its comparable core: lowercase
// with spaces, underscores, hyphens, and parentheses stripped.
func normalizeKey(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '(', ')':
			return -1
		}
		return r
	}, s)
}

// Resolve returns the value for the first alias that hits, trying raw exact
// key matches first and falling back to normalized containment. Alias order
// is the priority order. Returns "" when nothing matches.
func (r Row) Resolve(aliases []string) string {
	for _, alias := range aliases {
		if v, ok := r.Values[alias]; ok {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		}
	}

	for _, alias := range aliases {
		na := normalizeKey(alias)
		if na == "" {
			continue
		}
		for _, key := range r.Headers {
			nk := normalizeKey(key)
			if nk == "" {
				continue
			}
			// First containment hit wins, even when its cell is empty:
			// a present-but-blank column means the field was left blank,
			// not that some other column should answer for it.
			if strings.Contains(nk, na) || strings.Contains(na, nk) {
				return strings.TrimSpace(r.Values[key])
			}
		}
	}
	return ""
}

// ResolveExact is the strict variant used for variant fields, where fuzzy
// containment on short tokens produces false positives. Only exact key hits
// count.
func (r Row) ResolveExact(aliases []string) string {
	v, _ := r.resolveExact(aliases)
	return v
}

// resolveExact matches aliases against whole header keys, compared in
// normalized form so casing and separator style do not matter. Containment
// never counts here.
func (r Row) resolveExact(aliases []string) (string, bool) {
	for _, alias := range aliases {
		na := normalizeKey(alias)
		if na == "" {
			continue
		}
		for _, key := range r.Headers {
			if normalizeKey(key) != na {
				continue
			}
			if trimmed := strings.TrimSpace(r.Values[key]); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}
