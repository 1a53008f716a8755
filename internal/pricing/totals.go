package pricing

import "github.com/shopspring/decimal"

// StatutoryDutyRate is the ASDI rate in percent of HT plus VAT.
var StatutoryDutyRate = decimal.RequireFromString("0.42")

// TotalsLine is the per-line input of ComputeTotals. Pricing may be nil for
// unpriced lines; they still count towards the HT subtotal.
type TotalsLine struct {
	AcceptedQty   decimal.Decimal
	PurchasePrice decimal.Decimal
	Pricing       *LinePricing
}

// Overrides are operator-entered aggregate amounts. Nil keeps the computed value.
type Overrides struct {
	VAT  *decimal.Decimal
	Duty *decimal.Decimal
	ASDI *decimal.Decimal
}

// Totals is the document-level invoice breakdown.
type Totals struct {
	SubtotalHT    decimal.Decimal `json:"subtotal_ht"`
	VAT           decimal.Decimal `json:"vat"`
	Duty          decimal.Decimal `json:"duty"`
	ASDI          decimal.Decimal `json:"asdi"`
	GrandTotalTTC decimal.Decimal `json:"grand_total_ttc"`

	ComputedVAT  decimal.Decimal `json:"computed_vat"`
	ComputedDuty decimal.Decimal `json:"computed_duty"`
}

// ComputeTotals aggregates the lines. The grand total is the exact sum of the
// components and is never rounded again.
func ComputeTotals(lines []TotalsLine, overrides Overrides, policy Policy) Totals {
	var t Totals
	for _, line := range lines {
		t.SubtotalHT = t.SubtotalHT.Add(line.AcceptedQty.Mul(line.PurchasePrice))
		if line.Pricing == nil {
			continue
		}
		t.ComputedVAT = t.ComputedVAT.Add(line.AcceptedQty.Mul(line.Pricing.VAT))
		t.ComputedDuty = t.ComputedDuty.Add(line.AcceptedQty.Mul(line.Pricing.Duty))
	}

	t.VAT = pick(overrides.VAT, t.ComputedVAT)
	t.Duty = pick(overrides.Duty, t.ComputedDuty)
	t.ASDI = pick(overrides.ASDI, StatutoryDuty(t.SubtotalHT, t.VAT, policy))
	t.GrandTotalTTC = t.SubtotalHT.Add(t.VAT).Add(t.Duty).Add(t.ASDI)
	return t
}

// StatutoryDuty computes ASDI on HT plus VAT, rounded by the policy.
func StatutoryDuty(subtotalHT, vat decimal.Decimal, policy Policy) decimal.Decimal {
	return policy.Round(subtotalHT.Add(vat).Mul(StatutoryDutyRate).Div(hundred))
}

func pick(override *decimal.Decimal, computed decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	return computed
}
