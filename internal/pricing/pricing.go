// Package pricing computes the derived sale value for formula-priced goods:
// weight-sold items whose price follows a reference market price with a
// guaranteed minimum margin over cost, adjusted by material purity.
package pricing

import "strings"

// Material classifications recognized by the formula.
const (
	ClassLocal         = "local"
	ClassInternational = "international"
	ClassNA            = "na"
)

// Context carries the per-run pricing tables supplied by the caller.
// It is read-only for the duration of an import run.
type Context struct {
	// ReferencePriceByClass is the current market reference price per weight
	// unit, keyed by material classification.
	ReferencePriceByClass map[string]float64

	// MinMarginByClass is the minimum margin per weight unit that a sale must
	// preserve over unit cost, keyed by material classification.
	MinMarginByClass map[string]float64

	// PurityFactors overrides the default purity table when non-nil.
	PurityFactors map[string]float64
}

// defaultPurityFactors maps purity grades to the fraction of the reference
// price they command. Only applied to the appraised/international class.
var defaultPurityFactors = map[string]float64{
	"24k": 1,
	"22k": 22.0 / 24.0,
	"18k": 18.0 / 24.0,
	"14k": 14.0 / 24.0,
	"10k": 10.0 / 24.0,
	"925": 0.925,
	"950": 0.95,
}

// PurityFactor returns the price fraction for a purity grade within a
// classification. Classes other than international always price at factor 1,
// as do unknown grades.
func (c Context) PurityFactor(class, purity string) float64 {
	if class != ClassInternational {
		return 1
	}

	table := c.PurityFactors
	if table == nil {
		table = defaultPurityFactors
	}

	if f, ok := table[strings.ToLower(strings.TrimSpace(purity))]; ok {
		return f
	}
	return 1
}

// SaleValue computes the derived sale price for one item.
//
// The base price per weight unit is the reference price when it still clears
// the minimum margin over unit cost; otherwise cost plus the margin, so the
// floor margin holds even when the reference price has compressed below
// cost+margin. A zero weight or zero base price yields 0.
func SaleValue(unitCost, weight float64, class, purity string, marginOverride float64, ctx Context) float64 {
	referencePrice := ctx.ReferencePriceByClass[class]

	minMargin := marginOverride
	if minMargin <= 0 {
		minMargin = ctx.MinMarginByClass[class]
	}

	basePricePerUnit := referencePrice
	if referencePrice-unitCost < minMargin {
		basePricePerUnit = unitCost + minMargin
	}

	if weight == 0 || basePricePerUnit == 0 {
		return 0
	}

	return weight * basePricePerUnit * ctx.PurityFactor(class, purity)
}

// ValidClass reports whether the raw material value resolves to a known
// classification.
func ValidClass(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ClassLocal, "nacional":
		return ClassLocal, true
	case ClassInternational, "internacional":
		return ClassInternational, true
	case ClassNA, "n/a", "":
		return ClassNA, raw != ""
	}
	return "", false
}
