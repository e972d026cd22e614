// Package grid turns uploaded spreadsheet files into a RawGrid: an ordered
// sequence of rows of cell strings. The import pipeline is agnostic to the
// source format; this package hides whether the bytes were CSV or a workbook.
package grid

import "strings"

// RawGrid is the tokenized file: one outer entry per source row.
// It is never mutated after being read.
type RawGrid [][]string

// IsEmptyRow reports whether every cell in the row is blank.
func IsEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, Excel formula prefixes (="value"), and stray quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)

	return strings.TrimSpace(s)
}

// Read tokenizes fileData based on the file name extension.
// .xlsx files go through the workbook reader; everything else is treated
// as delimited text.
func Read(fileName string, fileData []byte) (RawGrid, error) {
	name := strings.ToLower(fileName)
	if strings.HasSuffix(name, ".xlsx") || strings.HasSuffix(name, ".xlsm") {
		return ReadXLSX(fileData)
	}
	return ReadCSV(fileData)
}
