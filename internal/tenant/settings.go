// Package tenant holds per-tenant reception settings and the request tenant context.
package tenant

import (
	"errors"

	"github.com/odyssey-erp/odyssey-reception/internal/pricing"
)

// Settings configures pricing and validation for one tenant.
type Settings struct {
	TenantID               int64  `json:"tenant_id"`
	Currency               string `json:"currency" validate:"required,len=3"`
	CurrencyDecimals       int32  `json:"currency_decimals" validate:"min=0,max=4"`
	RoundingMode           string `json:"rounding_mode" validate:"omitempty,oneof=ceil floor nearest none"`
	RoundingStep           int64  `json:"rounding_step" validate:"min=0"`
	AllowMissingLotNumbers bool   `json:"allow_missing_lot_numbers"`
	ExpiryHorizonMonths    int    `json:"expiry_horizon_months" validate:"min=0,max=60"`
	DefaultWarehouseID     int64  `json:"default_warehouse_id"`
}

// ErrNotFound indicates the tenant has no settings row.
var ErrNotFound = errors.New("tenant: settings not found")

// Policy converts the stored rounding configuration.
func (s Settings) Policy() (pricing.Policy, error) {
	mode, err := pricing.ParseRoundingMode(s.RoundingMode)
	if err != nil {
		return pricing.Policy{}, err
	}
	return pricing.Policy{Mode: mode, Step: s.RoundingStep, CurrencyDecimals: s.CurrencyDecimals}, nil
}
