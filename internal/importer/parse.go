package importer

// parse.go is the single forward pass over a RawGrid: resolve the header
// row, validate every data row, and resolve per-record images through the
// blob store. Structural failures abort before any row processing; row
// failures never do.

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/tiendafacil/backoffice/internal/grid"
	"github.com/tiendafacil/backoffice/internal/model"
	"github.com/tiendafacil/backoffice/internal/pricing"
)

// BlobStore is the external image storage boundary. Upload failures degrade
// the record to a null image; they never reject the row.
type BlobStore interface {
	Upload(ctx context.Context, storagePath string, data []byte) (string, error)
}

// StructuralError aborts an import before row processing: the file is
// missing entire required header families.
type StructuralError struct {
	Missing []string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("faltan columnas obligatorias: %s", strings.Join(e.Missing, ", "))
}

// Problem renders the structural failure as the single synthetic problem the
// caller shows in place of row outcomes.
func (e *StructuralError) Problem() model.Problem {
	return model.Problem{Field: "encabezados", Message: e.Error()}
}

// ParseInput bundles what one parse pass needs beyond the grid itself.
type ParseInput struct {
	Grid    grid.RawGrid
	Mode    ModeDefinition
	Pricing pricing.Context

	// Images maps the imagen cell reference to the uploaded file's bytes,
	// for bundles that ship pictures alongside the spreadsheet.
	Images map[string][]byte
}

// ParseResult is everything a parse pass produces for staging.
type ParseResult struct {
	Header   HeaderMap
	Outcomes []model.RowOutcome
	Variants []model.VariantRecord
}

// ParseGrid runs the full parse pass. It returns a *StructuralError when a
// required header family is absent; every other failure is row-level data
// inside the outcomes.
func ParseGrid(ctx context.Context, in ParseInput, blobs BlobStore, log *slog.Logger) (*ParseResult, error) {
	if len(in.Grid) == 0 {
		return nil, fmt.Errorf("archivo vacio")
	}

	header := FindHeaderRow(in.Grid, in.Mode.RequiredFamilies)
	if missing := MissingFamilies(header, in.Mode.RequiredFamilies); len(missing) > 0 {
		return nil, &StructuralError{Missing: missing}
	}

	validator := newRowValidator(in.Mode, in.Pricing)
	result := &ParseResult{Header: header}

	for i, cells := range in.Grid[header.RowIndex+1:] {
		if grid.IsEmptyRow(cells) {
			continue
		}
		rowNumber := header.RowIndex + i + 2 // 1-indexed, after the header row

		row := NewRow(header.Original, cells)
		outcome, variant := validator.ValidateRow(row, rowNumber)

		if outcome.Admitted() {
			outcome.Record.Imagen = resolveImage(ctx, row, in, blobs, outcome.Record.ProductKey, log)
		}

		result.Outcomes = append(result.Outcomes, outcome)
		if variant != nil {
			result.Variants = append(result.Variants, *variant)
		}
	}

	return result, nil
}

// resolveImage uploads the row's image, if the bundle carries one, and
// returns the stored path. Failure is swallowed: the record continues with a
// null image.
func resolveImage(ctx context.Context, row Row, in ParseInput, blobs BlobStore, productKey string, log *slog.Logger) *string {
	ref := row.Resolve(in.Mode.AliasesFor(FieldImagen))
	if ref == "" || blobs == nil {
		return nil
	}

	data, ok := in.Images[ref]
	if !ok {
		return nil
	}

	storagePath := path.Join("productos", productKey, path.Base(ref))
	stored, err := blobs.Upload(ctx, storagePath, data)
	if err != nil {
		log.Warn("image upload failed, continuing without image",
			"product_key", productKey, "ref", ref, "error", err)
		return nil
	}
	return &stored
}
