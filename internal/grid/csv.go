package grid

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"unicode/utf8"
)

// ReadCSV tokenizes delimited text into a RawGrid. Input bytes are sanitized
// to valid UTF-8 first so a bad export cannot poison downstream matching.
func ReadCSV(data []byte) (RawGrid, error) {
	data = sanitizeUTF8(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return RawGrid(records), nil
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode replacement
// character. Valid input is returned unchanged without copying.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
