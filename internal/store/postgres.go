// Package store implements the persistence boundaries over PostgreSQL:
// the natural-key-addressable product and variant stores used by the
// reconciliation engine, and the filesystem blob store for product images.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tiendafacil/backoffice/internal/model"
	"github.com/tiendafacil/backoffice/internal/recon"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

// ProductStore is the pgx-backed product store. Every product row belongs to
// one negocio (organization); the negocio id is stamped on inserts and never
// touched by updates.
type ProductStore struct {
	db        DBTX
	negocioID string
}

// NewProductStore creates a product store scoped to one negocio.
func NewProductStore(db DBTX, negocioID string) *ProductStore {
	return &ProductStore{db: db, negocioID: negocioID}
}

const insertProductSQL = `
INSERT INTO productos
	(negocio_id, clave, nombre, tipo, precio_compra, precio_venta, stock,
	 codigo, imagen, fecha_vencimiento, peso, material, pureza, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id, clave`

// updateProductSQL deliberately omits id, clave, and negocio_id: identity
// and ownership are not part of the update payload.
const updateProductSQL = `
UPDATE productos SET
	nombre = $1, tipo = $2, precio_compra = $3, precio_venta = $4,
	stock = $5, codigo = $6, imagen = $7, fecha_vencimiento = $8,
	peso = $9, material = $10, pureza = $11, metadata = $12
WHERE id = $13`

// SelectWhereKeyIn resolves natural keys to persisted ids. Callers chunk the
// key list; this issues exactly one query.
func (s *ProductStore) SelectWhereKeyIn(ctx context.Context, keys []string) ([]recon.PersistedProduct, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, clave FROM productos WHERE negocio_id = $1 AND clave = ANY($2)`,
		s.negocioID, keys)
	if err != nil {
		return nil, fmt.Errorf("select productos by clave: %w", err)
	}
	defer rows.Close()

	var out []recon.PersistedProduct
	for rows.Next() {
		var p recon.PersistedProduct
		if err := rows.Scan(&p.ID, &p.Key); err != nil {
			return nil, fmt.Errorf("scan producto: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// InsertBatch inserts the records in one pgx batch. Any failure fails the
// whole batch; the reconciliation engine retries records individually.
func (s *ProductStore) InsertBatch(ctx context.Context, records []model.CanonicalRecord) ([]recon.PersistedProduct, error) {
	batch := &pgx.Batch{}
	for _, r := range records {
		args, err := s.insertArgs(r)
		if err != nil {
			return nil, err
		}
		batch.Queue(insertProductSQL, args...)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	out := make([]recon.PersistedProduct, 0, len(records))
	for range records {
		var p recon.PersistedProduct
		if err := br.QueryRow().Scan(&p.ID, &p.Key); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// InsertOne inserts a single record.
func (s *ProductStore) InsertOne(ctx context.Context, r model.CanonicalRecord) (recon.PersistedProduct, error) {
	args, err := s.insertArgs(r)
	if err != nil {
		return recon.PersistedProduct{}, err
	}

	var p recon.PersistedProduct
	if err := s.db.QueryRow(ctx, insertProductSQL, args...).Scan(&p.ID, &p.Key); err != nil {
		return recon.PersistedProduct{}, err
	}
	return p, nil
}

// UpdateByID overwrites a product's data columns.
func (s *ProductStore) UpdateByID(ctx context.Context, id string, r model.CanonicalRecord) error {
	metadata, err := metadataJSON(r.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, updateProductSQL,
		r.Nombre, string(r.Tipo), r.PrecioCompra, r.PrecioVenta,
		r.Stock, toPgText(r.Codigo), r.Imagen, toPgDate(r.FechaVencimiento),
		r.Peso, toPgText(r.Material), toPgText(r.Pureza), metadata,
		id)
	return err
}

func (s *ProductStore) insertArgs(r model.CanonicalRecord) ([]interface{}, error) {
	metadata, err := metadataJSON(r.Metadata)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		s.negocioID, r.ProductKey, r.Nombre, string(r.Tipo),
		r.PrecioCompra, r.PrecioVenta, r.Stock,
		toPgText(r.Codigo), r.Imagen, toPgDate(r.FechaVencimiento),
		r.Peso, toPgText(r.Material), toPgText(r.Pureza), metadata,
	}, nil
}

// VariantStore is the pgx-backed variant store, scoped by parent product id.
type VariantStore struct {
	db DBTX
}

// NewVariantStore creates a variant store.
func NewVariantStore(db DBTX) *VariantStore {
	return &VariantStore{db: db}
}

const insertVariantSQL = `
INSERT INTO variantes (producto_id, nombre, codigo, stock)
VALUES ($1, $2, $3, $4)
RETURNING id, producto_id, nombre, COALESCE(codigo, '')`

// updateVariantSQL strips the parent-scoping column the same way product
// updates strip ownership.
const updateVariantSQL = `
UPDATE variantes SET nombre = $1, codigo = $2, stock = $3 WHERE id = $4`

// SelectByProductIn fetches all variants belonging to the given parents.
func (s *VariantStore) SelectByProductIn(ctx context.Context, productIDs []string) ([]recon.PersistedVariant, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, producto_id, nombre, COALESCE(codigo, '') FROM variantes WHERE producto_id = ANY($1)`,
		productIDs)
	if err != nil {
		return nil, fmt.Errorf("select variantes by producto: %w", err)
	}
	defer rows.Close()

	var out []recon.PersistedVariant
	for rows.Next() {
		var v recon.PersistedVariant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Nombre, &v.Codigo); err != nil {
			return nil, fmt.Errorf("scan variante: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// InsertBatch inserts the variants in one pgx batch; any failure fails the
// batch for individual retry.
func (s *VariantStore) InsertBatch(ctx context.Context, variants []recon.VariantWrite) ([]recon.PersistedVariant, error) {
	batch := &pgx.Batch{}
	for _, v := range variants {
		batch.Queue(insertVariantSQL, v.ProductID, v.Nombre, toPgText(v.Codigo), v.Stock)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	out := make([]recon.PersistedVariant, 0, len(variants))
	for range variants {
		var v recon.PersistedVariant
		if err := br.QueryRow().Scan(&v.ID, &v.ProductID, &v.Nombre, &v.Codigo); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// InsertOne inserts a single variant.
func (s *VariantStore) InsertOne(ctx context.Context, v recon.VariantWrite) (recon.PersistedVariant, error) {
	var out recon.PersistedVariant
	err := s.db.QueryRow(ctx, insertVariantSQL, v.ProductID, v.Nombre, toPgText(v.Codigo), v.Stock).
		Scan(&out.ID, &out.ProductID, &out.Nombre, &out.Codigo)
	if err != nil {
		return recon.PersistedVariant{}, err
	}
	return out, nil
}

// UpdateByID overwrites a variant's data columns.
func (s *VariantStore) UpdateByID(ctx context.Context, id string, v recon.VariantWrite) error {
	_, err := s.db.Exec(ctx, updateVariantSQL, v.Nombre, toPgText(v.Codigo), v.Stock, id)
	return err
}

// toPgText maps an empty string to NULL.
func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// toPgDate parses a validated YYYY-MM-DD string into a date, NULL when nil.
func toPgDate(s *string) pgtype.Date {
	if s == nil {
		return pgtype.Date{}
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: t, Valid: true}
}

// metadataJSON renders the metadata bag for the jsonb column, NULL when
// empty.
func metadataJSON(m map[string]string) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}
