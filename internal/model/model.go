// Package model defines the canonical record shapes shared by the import
// pipeline, the staging layer, and the reconciliation engine.
package model

import "fmt"

// Tipo is the closed set of product types a row may declare.
type Tipo string

const (
	TipoFisico    Tipo = "fisico"
	TipoServicio  Tipo = "servicio"
	TipoComida    Tipo = "comida"
	TipoAccesorio Tipo = "accesorio"
)

// ParseTipo maps a raw cell value onto the Tipo enum.
// Returns false if the value is not a recognized type.
func ParseTipo(raw string) (Tipo, bool) {
	switch Tipo(raw) {
	case TipoFisico, TipoServicio, TipoComida, TipoAccesorio:
		return Tipo(raw), true
	}
	return "", false
}

// CanonicalRecord is one admitted product row, normalized to canonical
// field names regardless of the original spreadsheet headers.
type CanonicalRecord struct {
	RowNumber int
	// ProductKey is the natural key used for duplicate detection within the
	// batch and for matching against persisted products: the explicit codigo
	// when present, otherwise a synthesized fila_<n> fallback.
	ProductKey string

	Nombre       string
	Tipo         Tipo
	PrecioCompra float64
	PrecioVenta  float64
	// Stock is nil when the column was absent or the product delegates stock
	// to its variant.
	Stock            *float64
	Codigo           string
	Imagen           *string
	FechaVencimiento *string

	// Formula-mode inputs, zero-valued outside weight-priced modes.
	Peso     float64
	Material string
	Pureza   string

	// Metadata holds mode-specific extra fields, restricted to the mode's
	// allow-list of known keys.
	Metadata map[string]string

	HasVariant bool
}

// NaturalKey builds the per-row fallback key for rows without an explicit code.
func NaturalKey(codigo string, rowNumber int) string {
	if codigo != "" {
		return codigo
	}
	return fmt.Sprintf("fila_%d", rowNumber)
}

// VariantRecord is a dependent child row (size/color/lot) attached to a
// parent product by natural key. The variant's stock is authoritative; the
// parent's stock is forced to zero when a variant exists.
type VariantRecord struct {
	ProductKey string
	Nombre     string
	Codigo     string
	Stock      float64
	RowNumber  int
}

// Problem describes a single validation failure on one field of one row.
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (p Problem) Error() string {
	if p.Field != "" {
		return fmt.Sprintf("%s: %s", p.Field, p.Message)
	}
	return p.Message
}

// RowOutcome is the result of validating one source data row. Exactly one
// outcome exists per row: either the record was admitted (Record non-nil,
// Problems empty) or rejected (Record nil, at least one Problem).
type RowOutcome struct {
	RowNumber int              `json:"rowNumber"`
	Label     string           `json:"label"`
	Record    *CanonicalRecord `json:"record,omitempty"`
	Problems  []Problem        `json:"problems,omitempty"`
}

// Admitted reports whether the row passed validation.
func (o RowOutcome) Admitted() bool {
	return o.Record != nil && len(o.Problems) == 0
}

// CommitFailure is one record-level write failure surfaced by the
// reconciliation engine, or a row that never reached it.
type CommitFailure struct {
	Row     int    `json:"row"`
	Label   string `json:"label"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// CommitResult is the outcome of one commit run. Partial success is the
// expected shape: failures are reported per record, never rolled back.
type CommitResult struct {
	Inserted         int             `json:"inserted"`
	Updated          int             `json:"updated"`
	Failed           int             `json:"failed"`
	Failures         []CommitFailure `json:"failures,omitempty"`
	VariantsInserted int             `json:"variantsInserted"`
}
