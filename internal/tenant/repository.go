package tenant

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads tenant settings from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads the settings of a tenant.
func (r *Repository) Get(ctx context.Context, tenantID int64) (Settings, error) {
	s := Settings{TenantID: tenantID}
	err := r.pool.QueryRow(ctx, `SELECT currency, currency_decimals, rounding_mode, rounding_step, allow_missing_lot_numbers,
expiry_horizon_months, COALESCE(default_warehouse_id, 0) FROM tenant_settings WHERE tenant_id=$1`, tenantID).
		Scan(&s.Currency, &s.CurrencyDecimals, &s.RoundingMode, &s.RoundingStep, &s.AllowMissingLotNumbers,
			&s.ExpiryHorizonMonths, &s.DefaultWarehouseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, ErrNotFound
		}
		return Settings{}, err
	}
	return s, nil
}

// Save upserts the settings of a tenant.
func (r *Repository) Save(ctx context.Context, s Settings) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO tenant_settings (tenant_id, currency, currency_decimals, rounding_mode, rounding_step,
allow_missing_lot_numbers, expiry_horizon_months, default_warehouse_id, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,0),NOW())
ON CONFLICT (tenant_id) DO UPDATE SET currency=EXCLUDED.currency, currency_decimals=EXCLUDED.currency_decimals,
rounding_mode=EXCLUDED.rounding_mode, rounding_step=EXCLUDED.rounding_step,
allow_missing_lot_numbers=EXCLUDED.allow_missing_lot_numbers, expiry_horizon_months=EXCLUDED.expiry_horizon_months,
default_warehouse_id=EXCLUDED.default_warehouse_id, updated_at=NOW()`,
		s.TenantID, s.Currency, s.CurrencyDecimals, s.RoundingMode, s.RoundingStep, s.AllowMissingLotNumbers,
		s.ExpiryHorizonMonths, s.DefaultWarehouseID)
	return err
}
