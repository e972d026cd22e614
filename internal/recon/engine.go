// Package recon reconciles a committed batch of canonical records against
// the persistent product store: it partitions new vs. existing products by
// natural key, performs batched writes with per-record fault isolation, and
// runs a dependent pass for product variants.
package recon

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tiendafacil/backoffice/internal/model"
)

// Default write shaping. Lookups are chunked to keep key-list queries
// bounded; inserts are batched small so a failed batch is cheap to retry
// record by record.
const (
	DefaultLookupChunkSize = 200
	DefaultInsertBatchSize = 10
)

// PersistedProduct is the store's view of a product row the engine needs:
// identity plus natural key.
type PersistedProduct struct {
	ID  string
	Key string
}

// PersistedVariant is the store's view of an existing variant row.
type PersistedVariant struct {
	ID        string
	ProductID string
	Nombre    string
	Codigo    string
}

// VariantWrite pairs a variant record with its resolved parent product id.
type VariantWrite struct {
	model.VariantRecord
	ProductID string
}

// ProductStore is the natural-key-addressable persistence boundary for
// products.
type ProductStore interface {
	SelectWhereKeyIn(ctx context.Context, keys []string) ([]PersistedProduct, error)
	InsertBatch(ctx context.Context, records []model.CanonicalRecord) ([]PersistedProduct, error)
	InsertOne(ctx context.Context, record model.CanonicalRecord) (PersistedProduct, error)
	// UpdateByID writes the record's data columns only; identity and
	// ownership fields are never part of the update payload.
	UpdateByID(ctx context.Context, id string, record model.CanonicalRecord) error
}

// VariantStore is the same boundary for the dependent variant entity,
// scoped by parent product id.
type VariantStore interface {
	SelectByProductIn(ctx context.Context, productIDs []string) ([]PersistedVariant, error)
	InsertBatch(ctx context.Context, variants []VariantWrite) ([]PersistedVariant, error)
	InsertOne(ctx context.Context, variant VariantWrite) (PersistedVariant, error)
	UpdateByID(ctx context.Context, id string, variant VariantWrite) error
}

// Engine performs one commit run. It holds no mutable state across runs;
// every call to Commit owns its own accumulators.
type Engine struct {
	products ProductStore
	variants VariantStore

	lookupChunkSize int
	insertBatchSize int
	log             *slog.Logger
}

// New creates an engine over the two stores. Zero-valued sizes fall back to
// the defaults.
func New(products ProductStore, variants VariantStore, lookupChunkSize, insertBatchSize int, log *slog.Logger) *Engine {
	if lookupChunkSize <= 0 {
		lookupChunkSize = DefaultLookupChunkSize
	}
	if insertBatchSize <= 0 {
		insertBatchSize = DefaultInsertBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		products:        products,
		variants:        variants,
		lookupChunkSize: lookupChunkSize,
		insertBatchSize: insertBatchSize,
		log:             log,
	}
}

// Plan is the computed partition of a batch before any write happens.
type Plan struct {
	ToInsert []model.CanonicalRecord
	ToUpdate []PlannedUpdate
}

// PlannedUpdate pairs an existing product id with the record that will
// overwrite it.
type PlannedUpdate struct {
	ID     string
	Record model.CanonicalRecord
}

// Commit reconciles the selected records and their variants against the
// store. One failing record never blocks its siblings: failures accumulate
// in the result and the run continues. The returned error is reserved for
// failures that prevent the run from proceeding at all (the existence
// lookup).
func (e *Engine) Commit(ctx context.Context, records []model.CanonicalRecord, variants []model.VariantRecord) (model.CommitResult, error) {
	var result model.CommitResult

	existing, err := e.lookupExisting(ctx, records)
	if err != nil {
		return result, err
	}

	plan := partition(records, existing)

	keyToID := make(map[string]string, len(existing))
	for key, id := range existing {
		keyToID[key] = id
	}

	e.insertProducts(ctx, plan.ToInsert, keyToID, &result)
	e.updateProducts(ctx, plan.ToUpdate, &result)
	e.reconcileVariants(ctx, variants, keyToID, &result)

	e.log.Info("commit finished",
		"inserted", result.Inserted,
		"updated", result.Updated,
		"failed", result.Failed,
		"variants_inserted", result.VariantsInserted,
	)
	return result, nil
}

// lookupExisting resolves each distinct natural key to its persisted id,
// issuing one chunked key-in-list query at a time.
func (e *Engine) lookupExisting(ctx context.Context, records []model.CanonicalRecord) (map[string]string, error) {
	seen := make(map[string]bool, len(records))
	var keys []string
	for _, r := range records {
		if !seen[r.ProductKey] {
			seen[r.ProductKey] = true
			keys = append(keys, r.ProductKey)
		}
	}

	existing := make(map[string]string)
	for _, chunk := range chunkStrings(keys, e.lookupChunkSize) {
		rows, err := e.products.SelectWhereKeyIn(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			existing[row.Key] = row.ID
		}
	}
	return existing, nil
}

// partition splits the batch into the insert set and the update set based on
// which natural keys already exist.
func partition(records []model.CanonicalRecord, existing map[string]string) Plan {
	var plan Plan
	for _, r := range records {
		if id, ok := existing[r.ProductKey]; ok {
			plan.ToUpdate = append(plan.ToUpdate, PlannedUpdate{ID: id, Record: r})
		} else {
			plan.ToInsert = append(plan.ToInsert, r)
		}
	}
	return plan
}

// insertProducts writes the insert set in fixed-size batches. A failed batch
// is retried record by record so one bad row never hides its siblings; each
// individual failure is recorded with the offending field extracted from the
// backend error.
func (e *Engine) insertProducts(ctx context.Context, toInsert []model.CanonicalRecord, keyToID map[string]string, result *model.CommitResult) {
	for _, batch := range chunkRecords(toInsert, e.insertBatchSize) {
		inserted, err := e.products.InsertBatch(ctx, batch)
		if err == nil {
			result.Inserted += len(batch)
			for _, row := range inserted {
				keyToID[row.Key] = row.ID
			}
			continue
		}

		e.log.Warn("insert batch failed, retrying records individually",
			"batch_size", len(batch), "error", err)

		for _, record := range batch {
			row, err := e.products.InsertOne(ctx, record)
			if err != nil {
				result.Failed++
				result.Failures = append(result.Failures, model.CommitFailure{
					Row:     record.RowNumber,
					Label:   record.Nombre,
					Field:   FieldFromError(err),
					Message: err.Error(),
				})
				continue
			}
			result.Inserted++
			keyToID[row.Key] = row.ID
		}
	}
}

// updateProducts writes each existing record individually.
func (e *Engine) updateProducts(ctx context.Context, toUpdate []PlannedUpdate, result *model.CommitResult) {
	for _, u := range toUpdate {
		if err := e.products.UpdateByID(ctx, u.ID, u.Record); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, model.CommitFailure{
				Row:     u.Record.RowNumber,
				Label:   u.Record.Nombre,
				Field:   FieldFromError(err),
				Message: err.Error(),
			})
			continue
		}
		result.Updated++
	}
}

// reconcileVariants matches each variant against existing rows by explicit
// code first, then by (parent id, normalized name). Unmatched variants go
// through the same batched insert discipline as products; matched ones are
// updated in place.
func (e *Engine) reconcileVariants(ctx context.Context, variants []model.VariantRecord, keyToID map[string]string, result *model.CommitResult) {
	if len(variants) == 0 {
		return
	}

	var writes []VariantWrite
	parentIDs := make(map[string]bool)
	for _, v := range variants {
		parentID, ok := keyToID[v.ProductKey]
		if !ok {
			// Parent never made it into the store; the variant cannot land.
			result.Failed++
			result.Failures = append(result.Failures, model.CommitFailure{
				Row:     v.RowNumber,
				Label:   v.Nombre,
				Field:   "variante",
				Message: "producto padre no disponible para la variante",
			})
			continue
		}
		writes = append(writes, VariantWrite{VariantRecord: v, ProductID: parentID})
		parentIDs[parentID] = true
	}
	if len(writes) == 0 {
		return
	}

	byCode, byParentName, err := e.indexExistingVariants(ctx, parentIDs)
	if err != nil {
		// Without the indices every variant write would be a blind insert;
		// report the whole set as failed instead of duplicating rows.
		for _, w := range writes {
			result.Failed++
			result.Failures = append(result.Failures, model.CommitFailure{
				Row:     w.RowNumber,
				Label:   w.Nombre,
				Field:   "variante",
				Message: err.Error(),
			})
		}
		return
	}

	var toInsert []VariantWrite
	var toUpdate []struct {
		id    string
		write VariantWrite
	}
	for _, w := range writes {
		if id, ok := matchVariant(w, byCode, byParentName); ok {
			toUpdate = append(toUpdate, struct {
				id    string
				write VariantWrite
			}{id, w})
		} else {
			toInsert = append(toInsert, w)
		}
	}

	for _, batch := range chunkVariants(toInsert, e.insertBatchSize) {
		if _, err := e.variants.InsertBatch(ctx, batch); err == nil {
			result.VariantsInserted += len(batch)
			continue
		}
		for _, w := range batch {
			if _, err := e.variants.InsertOne(ctx, w); err != nil {
				result.Failed++
				result.Failures = append(result.Failures, model.CommitFailure{
					Row:     w.RowNumber,
					Label:   w.Nombre,
					Field:   FieldFromError(err),
					Message: err.Error(),
				})
				continue
			}
			result.VariantsInserted++
		}
	}

	for _, u := range toUpdate {
		if err := e.variants.UpdateByID(ctx, u.id, u.write); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, model.CommitFailure{
				Row:     u.write.RowNumber,
				Label:   u.write.Nombre,
				Field:   FieldFromError(err),
				Message: err.Error(),
			})
		}
	}
}

// indexExistingVariants fetches the variants of the affected parents in
// chunks and builds the two identity indices: explicit code, and
// (parent id, normalized name).
func (e *Engine) indexExistingVariants(ctx context.Context, parentIDs map[string]bool) (map[string]string, map[string]string, error) {
	ids := make([]string, 0, len(parentIDs))
	for id := range parentIDs {
		ids = append(ids, id)
	}

	byCode := make(map[string]string)
	byParentName := make(map[string]string)
	for _, chunk := range chunkStrings(ids, e.lookupChunkSize) {
		rows, err := e.variants.SelectByProductIn(ctx, chunk)
		if err != nil {
			return nil, nil, err
		}
		for _, row := range rows {
			if row.Codigo != "" {
				byCode[row.Codigo] = row.ID
			}
			byParentName[parentNameKey(row.ProductID, row.Nombre)] = row.ID
		}
	}
	return byCode, byParentName, nil
}

// matchVariant resolves a variant's identity: explicit code takes precedence
// over the name match.
func matchVariant(w VariantWrite, byCode, byParentName map[string]string) (string, bool) {
	if w.Codigo != "" {
		if id, ok := byCode[w.Codigo]; ok {
			return id, true
		}
	}
	if id, ok := byParentName[parentNameKey(w.ProductID, w.Nombre)]; ok {
		return id, true
	}
	return "", false
}

// parentNameKey builds the (parent id, normalized name) identity key.
func parentNameKey(productID, nombre string) string {
	return productID + "\x00" + NormalizeVariantName(nombre)
}

// NormalizeVariantName canonicalizes a variant name for identity matching:
// lowercase with whitespace runs collapsed to single spaces.
func NormalizeVariantName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func chunkStrings(items []string, size int) [][]string {
	var chunks [][]string
	for len(items) > 0 {
		n := size
		if len(items) < n {
			n = len(items)
		}
		chunks = append(chunks, items[:n])
		items = items[n:]
	}
	return chunks
}

func chunkRecords(items []model.CanonicalRecord, size int) [][]model.CanonicalRecord {
	var chunks [][]model.CanonicalRecord
	for len(items) > 0 {
		n := size
		if len(items) < n {
			n = len(items)
		}
		chunks = append(chunks, items[:n])
		items = items[n:]
	}
	return chunks
}

func chunkVariants(items []VariantWrite, size int) [][]VariantWrite {
	var chunks [][]VariantWrite
	for len(items) > 0 {
		n := size
		if len(items) < n {
			n = len(items)
		}
		chunks = append(chunks, items[:n])
		items = items[n:]
	}
	return chunks
}
