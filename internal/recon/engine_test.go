package recon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tiendafacil/backoffice/internal/model"
)

// ============================================================================
// In-Memory Store Fakes
// ============================================================================

// fakeProductStore keeps products in memory and fails any write whose nombre
// matches failOn, which is how the tests provoke per-record faults.
type fakeProductStore struct {
	byKey  map[string]fakeProduct
	nextID int

	failOn      string
	lookupErr   error
	lookupCalls [][]string
	batchCalls  int
}

type fakeProduct struct {
	id     string
	record model.CanonicalRecord
}

func newFakeProductStore() *fakeProductStore {
	return &fakeProductStore{byKey: make(map[string]fakeProduct)}
}

func (f *fakeProductStore) seed(records ...model.CanonicalRecord) {
	for _, r := range records {
		f.nextID++
		f.byKey[r.ProductKey] = fakeProduct{id: fmt.Sprintf("p%d", f.nextID), record: r}
	}
}

func (f *fakeProductStore) SelectWhereKeyIn(_ context.Context, keys []string) ([]PersistedProduct, error) {
	f.lookupCalls = append(f.lookupCalls, keys)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	var out []PersistedProduct
	for _, key := range keys {
		if p, ok := f.byKey[key]; ok {
			out = append(out, PersistedProduct{ID: p.id, Key: key})
		}
	}
	return out, nil
}

func (f *fakeProductStore) InsertBatch(ctx context.Context, records []model.CanonicalRecord) ([]PersistedProduct, error) {
	f.batchCalls++
	for _, r := range records {
		if r.Nombre == f.failOn {
			return nil, errors.New("batch aborted")
		}
	}
	var out []PersistedProduct
	for _, r := range records {
		p, err := f.InsertOne(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProductStore) InsertOne(_ context.Context, r model.CanonicalRecord) (PersistedProduct, error) {
	if r.Nombre == f.failOn {
		return PersistedProduct{}, errors.New("stock violates check constraint")
	}
	f.nextID++
	p := fakeProduct{id: fmt.Sprintf("p%d", f.nextID), record: r}
	f.byKey[r.ProductKey] = p
	return PersistedProduct{ID: p.id, Key: r.ProductKey}, nil
}

func (f *fakeProductStore) UpdateByID(_ context.Context, id string, r model.CanonicalRecord) error {
	if r.Nombre == f.failOn {
		return errors.New("update rejected")
	}
	for key, p := range f.byKey {
		if p.id == id {
			f.byKey[key] = fakeProduct{id: id, record: r}
			return nil
		}
	}
	return errors.New("no such product")
}

type fakeVariantStore struct {
	rows   []PersistedVariant
	nextID int

	failOn    string
	selectErr error
	updated   map[string]VariantWrite
}

func newFakeVariantStore() *fakeVariantStore {
	return &fakeVariantStore{updated: make(map[string]VariantWrite)}
}

func (f *fakeVariantStore) seed(productID, nombre, codigo string) string {
	f.nextID++
	id := fmt.Sprintf("v%d", f.nextID)
	f.rows = append(f.rows, PersistedVariant{ID: id, ProductID: productID, Nombre: nombre, Codigo: codigo})
	return id
}

func (f *fakeVariantStore) SelectByProductIn(_ context.Context, productIDs []string) ([]PersistedVariant, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	wanted := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = true
	}
	var out []PersistedVariant
	for _, row := range f.rows {
		if wanted[row.ProductID] {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeVariantStore) InsertBatch(ctx context.Context, variants []VariantWrite) ([]PersistedVariant, error) {
	for _, v := range variants {
		if v.Nombre == f.failOn {
			return nil, errors.New("batch aborted")
		}
	}
	var out []PersistedVariant
	for _, v := range variants {
		p, err := f.InsertOne(ctx, v)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeVariantStore) InsertOne(_ context.Context, v VariantWrite) (PersistedVariant, error) {
	if v.Nombre == f.failOn {
		return PersistedVariant{}, errors.New("variant insert rejected")
	}
	f.nextID++
	row := PersistedVariant{ID: fmt.Sprintf("v%d", f.nextID), ProductID: v.ProductID, Nombre: v.Nombre, Codigo: v.Codigo}
	f.rows = append(f.rows, row)
	return row, nil
}

func (f *fakeVariantStore) UpdateByID(_ context.Context, id string, v VariantWrite) error {
	f.updated[id] = v
	return nil
}

func record(row int, key, nombre string) model.CanonicalRecord {
	return model.CanonicalRecord{RowNumber: row, ProductKey: key, Nombre: nombre}
}

func testEngine(p *fakeProductStore, v *fakeVariantStore) *Engine {
	return New(p, v, 0, 0, nil)
}

// ============================================================================
// Partition and Lookup Tests
// ============================================================================

func TestCommit_InsertsAndUpdates(t *testing.T) {
	products := newFakeProductStore()
	products.seed(record(0, "A", "Camisa vieja"), record(0, "B", "Gorra vieja"))
	engine := testEngine(products, newFakeVariantStore())

	batch := []model.CanonicalRecord{
		record(2, "A", "Camisa"),
		record(3, "B", "Gorra"),
		record(4, "C", "Pantalon"),
	}

	result, err := engine.Commit(context.Background(), batch, nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if result.Inserted != 1 || result.Updated != 2 || result.Failed != 0 {
		t.Errorf("result = %+v, want 1 inserted, 2 updated", result)
	}
	if products.byKey["A"].record.Nombre != "Camisa" {
		t.Errorf("expected A overwritten, got %q", products.byKey["A"].record.Nombre)
	}
	if _, ok := products.byKey["C"]; !ok {
		t.Error("expected C inserted")
	}
}

func TestCommit_LookupChunking(t *testing.T) {
	products := newFakeProductStore()
	engine := New(products, newFakeVariantStore(), 2, 10, nil)

	batch := []model.CanonicalRecord{
		record(2, "A", "a"), record(3, "B", "b"), record(4, "C", "c"),
		record(5, "A", "a2"), // duplicate key must not widen the lookup
	}

	if _, err := engine.Commit(context.Background(), batch, nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if len(products.lookupCalls) != 2 {
		t.Fatalf("expected 2 lookup chunks, got %d", len(products.lookupCalls))
	}
	if len(products.lookupCalls[0]) != 2 || len(products.lookupCalls[1]) != 1 {
		t.Errorf("unexpected chunk sizes %v", products.lookupCalls)
	}
}

func TestCommit_LookupFailureAbortsRun(t *testing.T) {
	products := newFakeProductStore()
	products.lookupErr = errors.New("connection refused")
	engine := testEngine(products, newFakeVariantStore())

	_, err := engine.Commit(context.Background(), []model.CanonicalRecord{record(2, "A", "a")}, nil)
	if err == nil {
		t.Fatal("expected error when the existence lookup fails")
	}
}

// ============================================================================
// Fault Isolation Tests
// ============================================================================

func TestCommit_BatchFallbackIsolatesBadRecord(t *testing.T) {
	products := newFakeProductStore()
	products.failOn = "Malo"
	engine := New(products, newFakeVariantStore(), 200, 10, nil)

	var batch []model.CanonicalRecord
	for i := 0; i < 10; i++ {
		nombre := fmt.Sprintf("Bueno %d", i)
		if i == 6 {
			nombre = "Malo"
		}
		batch = append(batch, record(i+2, fmt.Sprintf("K%d", i), nombre))
	}

	result, err := engine.Commit(context.Background(), batch, nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if result.Inserted != 9 {
		t.Errorf("Inserted = %d, want 9", result.Inserted)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %v", result.Failures)
	}
	if result.Failures[0].Row != 8 || result.Failures[0].Label != "Malo" {
		t.Errorf("unexpected failure %+v", result.Failures[0])
	}
	if !strings.Contains(result.Failures[0].Message, "constraint") {
		t.Errorf("expected backend message preserved, got %q", result.Failures[0].Message)
	}
}

func TestCommit_MixedBatchMatchesSummary(t *testing.T) {
	// 3 new plus 2 existing with one bad new record: 2 inserted, 2 updated,
	// 1 failed.
	products := newFakeProductStore()
	products.seed(record(0, "D", "d"), record(0, "E", "e"))
	products.failOn = "Malo"
	engine := testEngine(products, newFakeVariantStore())

	batch := []model.CanonicalRecord{
		record(2, "A", "a"),
		record(3, "B", "Malo"),
		record(4, "C", "c"),
		record(5, "D", "d nuevo"),
		record(6, "E", "e nuevo"),
	}

	result, err := engine.Commit(context.Background(), batch, nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if result.Inserted != 2 || result.Updated != 2 || result.Failed != 1 {
		t.Errorf("result = %+v, want inserted 2, updated 2, failed 1", result)
	}
}

func TestCommit_UpdateFailureIsIsolated(t *testing.T) {
	products := newFakeProductStore()
	products.seed(record(0, "A", "a"), record(0, "B", "b"))
	products.failOn = "Malo"
	engine := testEngine(products, newFakeVariantStore())

	batch := []model.CanonicalRecord{
		record(2, "A", "Malo"),
		record(3, "B", "b nuevo"),
	}

	result, err := engine.Commit(context.Background(), batch, nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.Updated != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want updated 1, failed 1", result)
	}
}

// ============================================================================
// Variant Reconciliation Tests
// ============================================================================

func TestCommit_VariantInsertedUnderNewParent(t *testing.T) {
	products := newFakeProductStore()
	variants := newFakeVariantStore()
	engine := testEngine(products, variants)

	batch := []model.CanonicalRecord{record(2, "A", "Camisa")}
	vs := []model.VariantRecord{{ProductKey: "A", Nombre: "Talla M", Stock: 4, RowNumber: 2}}

	result, err := engine.Commit(context.Background(), batch, vs)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if result.VariantsInserted != 1 {
		t.Errorf("VariantsInserted = %d, want 1", result.VariantsInserted)
	}
	if len(variants.rows) != 1 {
		t.Fatalf("expected 1 variant row, got %d", len(variants.rows))
	}
	if variants.rows[0].ProductID != products.byKey["A"].id {
		t.Errorf("variant parent = %q, want %q", variants.rows[0].ProductID, products.byKey["A"].id)
	}
}

func TestCommit_VariantMatchedByCode(t *testing.T) {
	products := newFakeProductStore()
	products.seed(record(0, "A", "Camisa"))
	parentID := products.byKey["A"].id

	variants := newFakeVariantStore()
	existingID := variants.seed(parentID, "Talla vieja", "ABC-M")
	engine := testEngine(products, variants)

	batch := []model.CanonicalRecord{record(2, "A", "Camisa")}
	vs := []model.VariantRecord{{ProductKey: "A", Nombre: "Talla M", Codigo: "ABC-M", Stock: 4, RowNumber: 2}}

	result, err := engine.Commit(context.Background(), batch, vs)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if result.VariantsInserted != 0 {
		t.Errorf("VariantsInserted = %d, want 0", result.VariantsInserted)
	}
	if _, ok := variants.updated[existingID]; !ok {
		t.Error("expected the coded variant to be updated in place")
	}
}

func TestCommit_VariantMatchedByNormalizedName(t *testing.T) {
	products := newFakeProductStore()
	products.seed(record(0, "A", "Camisa"))
	parentID := products.byKey["A"].id

	variants := newFakeVariantStore()
	existingID := variants.seed(parentID, "TALLA  m", "")
	engine := testEngine(products, variants)

	batch := []model.CanonicalRecord{record(2, "A", "Camisa")}
	vs := []model.VariantRecord{{ProductKey: "A", Nombre: "talla M", Stock: 4, RowNumber: 2}}

	result, err := engine.Commit(context.Background(), batch, vs)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if result.VariantsInserted != 0 {
		t.Errorf("VariantsInserted = %d, want 0", result.VariantsInserted)
	}
	if _, ok := variants.updated[existingID]; !ok {
		t.Error("expected casing and spacing differences to still match")
	}
}

func TestCommit_VariantWithoutParentFails(t *testing.T) {
	products := newFakeProductStore()
	products.failOn = "Camisa"
	variants := newFakeVariantStore()
	engine := testEngine(products, variants)

	batch := []model.CanonicalRecord{record(2, "A", "Camisa")}
	vs := []model.VariantRecord{{ProductKey: "A", Nombre: "Talla M", Stock: 4, RowNumber: 2}}

	result, err := engine.Commit(context.Background(), batch, vs)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Parent insert failed, variant fails dependently: 2 failures total.
	if result.Failed != 2 {
		t.Errorf("Failed = %d, want 2", result.Failed)
	}
	if len(variants.rows) != 0 {
		t.Error("expected no variant rows")
	}
}

func TestCommit_VariantIndexFailureFailsVariantsOnly(t *testing.T) {
	products := newFakeProductStore()
	variants := newFakeVariantStore()
	variants.selectErr = errors.New("timeout")
	engine := testEngine(products, variants)

	batch := []model.CanonicalRecord{record(2, "A", "Camisa")}
	vs := []model.VariantRecord{{ProductKey: "A", Nombre: "Talla M", Stock: 4, RowNumber: 2}}

	result, err := engine.Commit(context.Background(), batch, vs)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if result.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1", result.Inserted)
	}
	if result.Failed != 1 || result.VariantsInserted != 0 {
		t.Errorf("result = %+v, want 1 dependent failure and no variant inserts", result)
	}
}

func TestNormalizeVariantName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Talla M", "talla m"},
		{"  TALLA   M  ", "talla m"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeVariantName(tt.in); got != tt.want {
			t.Errorf("NormalizeVariantName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
