package catalog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-reception/internal/platform/db"
	"github.com/odyssey-erp/odyssey-reception/internal/pricing"
)

// Repository is the PostgreSQL tenant catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the writes of onboarding.
type TxRepository interface {
	CreateProduct(ctx context.Context, p Product) (int64, error)
	CreateMasterData(ctx context.Context, tenantID int64, ref MasterRef) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const productColumns = `id, tenant_id, code, COALESCE(legacy_code,''), label, COALESCE(category_id,0), list_price,
COALESCE(form_id,0), COALESCE(family_id,0), COALESCE(lab_id,0), COALESCE(therapeutic_class_id,0), created_at`

// FindByCodes returns the products whose primary code is in codes.
func (r *Repository) FindByCodes(ctx context.Context, tenantID int64, codes []string) ([]Product, error) {
	return r.queryProducts(ctx, `SELECT `+productColumns+` FROM products WHERE tenant_id=$1 AND code = ANY($2) ORDER BY id`, tenantID, codes)
}

// FindByLegacyCodes returns the products whose legacy code is in codes.
func (r *Repository) FindByLegacyCodes(ctx context.Context, tenantID int64, codes []string) ([]Product, error) {
	return r.queryProducts(ctx, `SELECT `+productColumns+` FROM products WHERE tenant_id=$1 AND legacy_code = ANY($2) ORDER BY id`, tenantID, codes)
}

func (r *Repository) queryProducts(ctx context.Context, query string, tenantID int64, codes []string) ([]Product, error) {
	rows, err := r.pool.Query(ctx, query, tenantID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Code, &p.LegacyCode, &p.Label, &p.CategoryID, &p.ListPrice,
			&p.FormID, &p.FamilyID, &p.LabID, &p.TherapeuticClassID, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CategoriesByIDs loads pricing categories in one query.
func (r *Repository) CategoriesByIDs(ctx context.Context, tenantID int64, ids []int64) (map[int64]pricing.Category, error) {
	out := make(map[int64]pricing.Category, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, code, coefficient, vat_rate, duty_rate FROM pricing_categories WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c pricing.Category
		if err := rows.Scan(&c.ID, &c.Code, &c.Coefficient, &c.VATRate, &c.DutyRate); err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// CategoryIDsByCode maps pricing category codes to ids.
func (r *Repository) CategoryIDsByCode(ctx context.Context, tenantID int64, codes []string) (map[string]int64, error) {
	out := make(map[string]int64, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT code, id FROM pricing_categories WHERE tenant_id=$1 AND code = ANY($2)`, tenantID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			code string
			id   int64
		)
		if err := rows.Scan(&code, &id); err != nil {
			return nil, err
		}
		out[code] = id
	}
	return out, rows.Err()
}

// MasterData loads the ids of existing master-data entries of any kind.
func (r *Repository) MasterData(ctx context.Context, tenantID int64, refs []MasterRef) (map[MasterRef]int64, error) {
	out := make(map[MasterRef]int64, len(refs))
	if len(refs) == 0 {
		return out, nil
	}
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.Name)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, kind, name FROM product_master_data WHERE tenant_id=$1 AND name = ANY($2)`, tenantID, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  int64
			ref MasterRef
		)
		if err := rows.Scan(&id, &ref.Kind, &ref.Name); err != nil {
			return nil, err
		}
		out[ref] = id
	}
	return out, rows.Err()
}

func (tx *txRepo) CreateProduct(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO products (tenant_id, code, legacy_code, label, category_id, list_price,
form_id, family_id, lab_id, therapeutic_class_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		p.TenantID, p.Code, nullString(p.LegacyCode), p.Label, nullInt(p.CategoryID), p.ListPrice,
		nullInt(p.FormID), nullInt(p.FamilyID), nullInt(p.LabID), nullInt(p.TherapeuticClassID), time.Now()).Scan(&id)
	return id, err
}

func (tx *txRepo) CreateMasterData(ctx context.Context, tenantID int64, ref MasterRef) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO product_master_data (tenant_id, kind, name) VALUES ($1,$2,$3)
ON CONFLICT (tenant_id, kind, name) DO UPDATE SET name=EXCLUDED.name RETURNING id`, tenantID, ref.Kind, ref.Name).Scan(&id)
	return id, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
