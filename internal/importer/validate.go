package importer

// validate.go applies the mode- and type-dependent admission rules to one
// row at a time. A row either becomes an admitted CanonicalRecord or a
// rejection carrying every problem found; validation never stops at the
// first problem and never aborts the batch.

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tiendafacil/backoffice/internal/model"
	"github.com/tiendafacil/backoffice/internal/pricing"
)

// FallbackLabel names rejected rows that carry no resolvable product name.
const FallbackLabel = "Sin nombre"

var expiryDateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// FieldMargenMinimo is the optional per-row minimum-margin override used by
// formula-priced modes.
const FieldMargenMinimo = "margen_minimo"

// batchKeys tracks natural keys already admitted in this run. A repeated key
// rejects the later row only; the earlier admission stands.
type batchKeys map[string]int

// rowValidator validates rows for one import run. It owns the running
// duplicate-key set, so one validator instance serves exactly one batch.
type rowValidator struct {
	mode ModeDefinition
	pctx pricing.Context
	seen batchKeys
}

func newRowValidator(mode ModeDefinition, pctx pricing.Context) *rowValidator {
	return &rowValidator{mode: mode, pctx: pctx, seen: make(batchKeys)}
}

// ValidateRow produces the outcome for one data row, plus the variant record
// when the row declares one and is admitted.
func (v *rowValidator) ValidateRow(row Row, rowNumber int) (model.RowOutcome, *model.VariantRecord) {
	var problems []model.Problem
	addProblem := func(field, message, value string) {
		problems = append(problems, model.Problem{Field: field, Message: message, Value: value})
	}

	nombre := row.Resolve(v.mode.AliasesFor(FieldNombre))
	label := nombre
	if label == "" {
		label = FallbackLabel
		addProblem(FieldNombre, "nombre es obligatorio", "")
	}

	// tipo: unrecognized values are a problem but the row still calculates
	// as fisico so the remaining rules run and report everything at once.
	tipoRaw := strings.ToLower(row.Resolve(v.mode.AliasesFor(FieldTipo)))
	tipo, ok := model.ParseTipo(tipoRaw)
	if !ok {
		tipo = model.TipoFisico
		if tipoRaw == "" {
			addProblem(FieldTipo, "tipo es obligatorio", "")
		} else {
			addProblem(FieldTipo, "tipo no reconocido (fisico, servicio, comida, accesorio)", tipoRaw)
		}
	}

	codigo := row.Resolve(v.mode.AliasesFor(FieldCodigo))
	productKey := model.NaturalKey(codigo, rowNumber)
	if priorRow, dup := v.seen[productKey]; dup {
		addProblem(FieldCodigo, fmt.Sprintf("codigo duplicado en el archivo (fila %d)", priorRow), codigo)
	}

	// Variant detection: any variant field present switches the stock
	// requirement from the parent to the variant.
	varNombre := row.ResolveExact(v.mode.AliasesFor(FieldVarianteNombre))
	varCodigo := row.ResolveExact(v.mode.AliasesFor(FieldVarianteCodigo))
	varStockRaw := row.ResolveExact(v.mode.AliasesFor(FieldVarianteStock))
	hasVariant := varNombre != "" || varCodigo != "" || varStockRaw != ""

	precioCompra := v.numericField(row, FieldPrecioCompra, tipo != model.TipoServicio, &problems)

	var peso float64
	var materialClass string
	if v.mode.FormulaPricing {
		pesoRaw := row.Resolve(v.mode.AliasesFor(FieldPeso))
		if pesoRaw == "" {
			addProblem(FieldPeso, "peso es obligatorio en modo formula", "")
		} else if n, ok := TryWeight(pesoRaw); !ok {
			addProblem(FieldPeso, "peso no es un numero valido", pesoRaw)
		} else if n < 0 {
			addProblem(FieldPeso, "peso no puede ser negativo", pesoRaw)
		} else {
			peso = n
		}

		materialRaw := row.Resolve(v.mode.AliasesFor(FieldMaterial))
		class, ok := pricing.ValidClass(materialRaw)
		if !ok {
			addProblem(FieldMaterial, "material debe ser local, international o na", materialRaw)
		}
		materialClass = class
	} else if v.mode.WeightPriced {
		// Weight may still accompany manually priced rows; it feeds the
		// sale-price floor check below.
		if pesoRaw := row.Resolve(v.mode.AliasesFor(FieldPeso)); pesoRaw != "" {
			if n, ok := TryWeight(pesoRaw); !ok {
				addProblem(FieldPeso, "peso no es un numero valido", pesoRaw)
			} else if n < 0 {
				addProblem(FieldPeso, "peso no puede ser negativo", pesoRaw)
			} else {
				peso = n
			}
		}
	}

	var precioVenta float64
	ventaParsed := false
	if v.mode.FormulaPricing {
		pureza := row.Resolve(v.mode.AliasesFor(FieldPureza))
		override := ParseFlexibleNumber(row.Resolve(v.mode.AliasesFor(FieldMargenMinimo)))
		precioVenta = pricing.SaleValue(precioCompra, peso, materialClass, pureza, override, v.pctx)
	} else {
		precioVenta, ventaParsed = v.numericFieldOK(row, FieldPrecioVenta, true, &problems)
	}

	// Stock: required for goods that sit on a shelf, unless a variant owns
	// the stock instead.
	stockRequired := (tipo == model.TipoFisico || tipo == model.TipoComida) && !hasVariant
	var stock *float64
	stockRaw := row.Resolve(v.mode.AliasesFor(FieldStock))
	switch {
	case stockRaw == "" && stockRequired:
		addProblem(FieldStock, "stock es obligatorio", "")
	case stockRaw != "":
		if n, ok := TryFlexibleNumber(stockRaw); !ok {
			addProblem(FieldStock, "stock no es un numero valido", stockRaw)
		} else if n < 0 {
			addProblem(FieldStock, "stock no puede ser negativo", stockRaw)
		} else {
			stock = &n
		}
	}

	var variantStock float64
	if hasVariant {
		if varNombre == "" {
			addProblem(FieldVarianteNombre, "variante requiere nombre", "")
		}
		if varStockRaw == "" {
			addProblem(FieldVarianteStock, "variante requiere stock", "")
		} else if n, ok := TryFlexibleNumber(varStockRaw); !ok {
			addProblem(FieldVarianteStock, "stock de variante no es un numero valido", varStockRaw)
		} else if n < 0 {
			addProblem(FieldVarianteStock, "stock de variante no puede ser negativo", varStockRaw)
		} else {
			variantStock = n
		}
	}

	var fechaVencimiento *string
	if raw := row.Resolve(v.mode.AliasesFor(FieldFechaVencimiento)); raw != "" {
		if !expiryDateRegex.MatchString(raw) {
			addProblem(FieldFechaVencimiento, "fecha debe tener formato YYYY-MM-DD", raw)
		} else {
			fechaVencimiento = &raw
		}
	}

	// Sale-price floor: outside formula mode the sale price must cover the
	// purchase-cost equivalent. For weight-priced modes the equivalent is
	// cost per unit times weight.
	if !v.mode.FormulaPricing && ventaParsed {
		costEquivalent := precioCompra
		if v.mode.WeightPriced && peso > 0 {
			costEquivalent = precioCompra * peso
		}
		if precioVenta < costEquivalent {
			addProblem(FieldPrecioVenta,
				fmt.Sprintf("precio de venta menor al costo equivalente (%s)", FormatNumber(costEquivalent)),
				FormatNumber(precioVenta))
		}
	}

	if len(problems) > 0 {
		return model.RowOutcome{RowNumber: rowNumber, Label: label, Problems: problems}, nil
	}

	metadata := make(map[string]string)
	for _, key := range v.mode.MetadataKeys {
		if val := row.Resolve(v.mode.AliasesFor(key)); val != "" {
			metadata[key] = val
		}
	}

	record := &model.CanonicalRecord{
		RowNumber:        rowNumber,
		ProductKey:       productKey,
		Nombre:           nombre,
		Tipo:             tipo,
		PrecioCompra:     precioCompra,
		PrecioVenta:      precioVenta,
		Stock:            stock,
		Codigo:           codigo,
		FechaVencimiento: fechaVencimiento,
		Peso:             peso,
		Material:         materialClass,
		Pureza:           row.Resolve(v.mode.AliasesFor(FieldPureza)),
		Metadata:         metadata,
		HasVariant:       hasVariant,
	}

	var variant *model.VariantRecord
	if hasVariant {
		// The variant's stock is authoritative; the parent holds zero.
		zero := 0.0
		record.Stock = &zero
		variant = &model.VariantRecord{
			ProductKey: productKey,
			Nombre:     varNombre,
			Codigo:     varCodigo,
			Stock:      variantStock,
			RowNumber:  rowNumber,
		}
	}

	v.seen[productKey] = rowNumber
	return model.RowOutcome{RowNumber: rowNumber, Label: label, Record: record}, variant
}

// numericField resolves and parses one flexible-format numeric field.
// A present-but-unparsable value is a problem even when the field is
// optional, as is any negative value.
func (v *rowValidator) numericField(row Row, field string, required bool, problems *[]model.Problem) float64 {
	n, _ := v.numericFieldOK(row, field, required, problems)
	return n
}

// numericFieldOK additionally reports whether the field resolved to a
// well-formed non-negative number.
func (v *rowValidator) numericFieldOK(row Row, field string, required bool, problems *[]model.Problem) (float64, bool) {
	raw := row.Resolve(v.mode.AliasesFor(field))
	if raw == "" {
		if required {
			*problems = append(*problems, model.Problem{Field: field, Message: field + " es obligatorio"})
		}
		return 0, false
	}

	n, ok := TryFlexibleNumber(raw)
	if !ok {
		*problems = append(*problems, model.Problem{Field: field, Message: field + " no es un numero valido", Value: raw})
		return 0, false
	}
	if n < 0 {
		*problems = append(*problems, model.Problem{Field: field, Message: field + " no puede ser negativo", Value: raw})
		return 0, false
	}
	return n, true
}
