package columns

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores supplier column mappings in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads the mapping for a supplier. ErrNoMapping when none is configured.
func (r *Repository) Get(ctx context.Context, tenantID, supplierID int64) (Mapping, error) {
	var (
		raw []byte
		m   = Mapping{SupplierID: supplierID}
	)
	err := r.pool.QueryRow(ctx, `SELECT header_row, columns FROM supplier_column_mappings WHERE tenant_id=$1 AND supplier_id=$2`, tenantID, supplierID).
		Scan(&m.HeaderRow, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Mapping{}, ErrNoMapping
		}
		return Mapping{}, err
	}
	if err := json.Unmarshal(raw, &m.Columns); err != nil {
		return Mapping{}, err
	}
	if len(m.Columns) == 0 {
		return Mapping{}, ErrNoMapping
	}
	return m, nil
}

// Save validates and upserts a mapping.
func (r *Repository) Save(ctx context.Context, tenantID int64, m Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(m.Columns)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO supplier_column_mappings (tenant_id, supplier_id, header_row, columns, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (tenant_id, supplier_id) DO UPDATE SET header_row=EXCLUDED.header_row, columns=EXCLUDED.columns, updated_at=NOW()`,
		tenantID, m.SupplierID, m.HeaderRow, raw)
	return err
}
