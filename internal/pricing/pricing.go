// Package pricing computes regulated sale prices and invoice tax totals.
// Everything here is pure; callers supply categories and the rounding policy.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RoundingMode selects how amounts snap to the policy step.
type RoundingMode string

const (
	RoundCeil    RoundingMode = "ceil"
	RoundFloor   RoundingMode = "floor"
	RoundNearest RoundingMode = "nearest"
	RoundNone    RoundingMode = "none"
)

// ParseRoundingMode validates a stored mode value.
func ParseRoundingMode(raw string) (RoundingMode, error) {
	switch m := RoundingMode(raw); m {
	case RoundCeil, RoundFloor, RoundNearest, RoundNone:
		return m, nil
	case "":
		return RoundNone, nil
	}
	return "", fmt.Errorf("pricing: unknown rounding mode %q", raw)
}

// Policy is the tenant rounding configuration. Step is expressed in minor
// currency units (25 with a no-decimal currency rounds to 25 units).
type Policy struct {
	Mode             RoundingMode
	Step             int64
	CurrencyDecimals int32
}

var hundred = decimal.NewFromInt(100)

// Round applies the policy to a single amount.
func (p Policy) Round(v decimal.Decimal) decimal.Decimal {
	step := p.step()
	var out decimal.Decimal
	switch p.Mode {
	case RoundCeil:
		out = v.Div(step).Ceil().Mul(step)
	case RoundFloor:
		out = v.Div(step).Floor().Mul(step)
	case RoundNearest:
		out = v.Div(step).Round(0).Mul(step)
	default:
		out = v
	}
	if p.CurrencyDecimals <= 0 {
		return out.Truncate(0)
	}
	return out
}

func (p Policy) step() decimal.Decimal {
	step := p.Step
	if step <= 0 {
		step = 1
	}
	return decimal.New(step, -p.CurrencyDecimals)
}

// Category is the read-only pricing category of a product.
type Category struct {
	ID          int64
	Code        string
	Coefficient decimal.Decimal
	VATRate     decimal.Decimal
	DutyRate    decimal.Decimal
}

// Amounts is one breakdown of a sale price.
type Amounts struct {
	HT   decimal.Decimal `json:"ht"`
	VAT  decimal.Decimal `json:"vat"`
	Duty decimal.Decimal `json:"duty"`
	TTC  decimal.Decimal `json:"ttc"`
}

// LinePricing is the computed sale price of a line. Raw keeps the
// unrounded values; the top-level amounts are rounded per component and TTC
// is their exact sum.
type LinePricing struct {
	CategoryID int64           `json:"category_id"`
	VATRate    decimal.Decimal `json:"vat_rate"`
	DutyRate   decimal.Decimal `json:"duty_rate"`
	Amounts
	Raw Amounts `json:"raw"`
}

// ComputeLine prices one unit. It returns nil when the line cannot be priced:
// a non-positive purchase price or no category.
func ComputeLine(purchasePrice decimal.Decimal, category *Category, policy Policy) *LinePricing {
	if category == nil || !purchasePrice.IsPositive() {
		return nil
	}
	raw := Amounts{HT: purchasePrice.Mul(category.Coefficient)}
	if !category.VATRate.IsZero() {
		raw.VAT = raw.HT.Mul(category.VATRate).Div(hundred)
	}
	if !category.DutyRate.IsZero() {
		raw.Duty = raw.VAT.Mul(category.DutyRate).Div(hundred)
	}
	raw.TTC = raw.HT.Add(raw.VAT).Add(raw.Duty)

	rounded := Amounts{
		HT:   policy.Round(raw.HT),
		VAT:  policy.Round(raw.VAT),
		Duty: policy.Round(raw.Duty),
	}
	rounded.TTC = rounded.HT.Add(rounded.VAT).Add(rounded.Duty)

	return &LinePricing{
		CategoryID: category.ID,
		VATRate:    category.VATRate,
		DutyRate:   category.DutyRate,
		Amounts:    rounded,
		Raw:        raw,
	}
}
