package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func pharmacy() *Category {
	return &Category{ID: 3, Code: "MED", Coefficient: d("1.3"), VATRate: d("18"), DutyRate: d("1")}
}

func TestComputeLineCeilTo25WithoutSubunit(t *testing.T) {
	policy := Policy{Mode: RoundCeil, Step: 25, CurrencyDecimals: 0}

	lp := ComputeLine(d("1000"), pharmacy(), policy)
	require.NotNil(t, lp)
	requireDecimal(t, "1300", lp.HT)
	requireDecimal(t, "250", lp.VAT)
	requireDecimal(t, "25", lp.Duty)
	requireDecimal(t, "1575", lp.TTC)

	requireDecimal(t, "234", lp.Raw.VAT)
	requireDecimal(t, "2.34", lp.Raw.Duty)
	requireDecimal(t, "1536.34", lp.Raw.TTC)
	require.True(t, lp.Raw.TTC.Equal(lp.Raw.HT.Add(lp.Raw.VAT).Add(lp.Raw.Duty)))
	require.Equal(t, int64(3), lp.CategoryID)
}

func TestComputeLineIsIdempotent(t *testing.T) {
	policy := Policy{Mode: RoundNearest, Step: 5, CurrencyDecimals: 2}
	a := ComputeLine(d("17.37"), pharmacy(), policy)
	b := ComputeLine(d("17.37"), pharmacy(), policy)
	require.NotNil(t, a)
	for _, pair := range [][2]decimal.Decimal{{a.HT, b.HT}, {a.VAT, b.VAT}, {a.Duty, b.Duty}, {a.TTC, b.TTC}} {
		require.True(t, pair[0].Equal(pair[1]))
	}
	require.True(t, a.TTC.Equal(a.HT.Add(a.VAT).Add(a.Duty)))
}

func TestComputeLineUndefinedWithoutPriceOrCategory(t *testing.T) {
	policy := Policy{Mode: RoundNone}
	require.Nil(t, ComputeLine(decimal.Zero, pharmacy(), policy))
	require.Nil(t, ComputeLine(d("-4"), pharmacy(), policy))
	require.Nil(t, ComputeLine(d("10"), nil, policy))
}

func TestComputeLineZeroRates(t *testing.T) {
	cat := &Category{ID: 1, Coefficient: d("1.25"), VATRate: decimal.Zero, DutyRate: d("5")}
	lp := ComputeLine(d("80"), cat, Policy{Mode: RoundNone, CurrencyDecimals: 2})
	require.NotNil(t, lp)
	requireDecimal(t, "100", lp.HT)
	require.True(t, lp.VAT.IsZero())
	require.True(t, lp.Duty.IsZero())
	requireDecimal(t, "100", lp.TTC)
}

func TestPolicyRound(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
		in     string
		want   string
	}{
		{"ceil 25", Policy{Mode: RoundCeil, Step: 25}, "1301", "1325"},
		{"ceil exact", Policy{Mode: RoundCeil, Step: 25}, "1300", "1300"},
		{"floor cents", Policy{Mode: RoundFloor, Step: 1, CurrencyDecimals: 2}, "12.349", "12.34"},
		{"nearest 5 cents", Policy{Mode: RoundNearest, Step: 5, CurrencyDecimals: 2}, "12.344", "12.35"},
		{"nearest 100", Policy{Mode: RoundNearest, Step: 100}, "1249", "1200"},
		{"none truncates without subunit", Policy{Mode: RoundNone}, "12.9", "12"},
		{"none keeps subunit", Policy{Mode: RoundNone, CurrencyDecimals: 2}, "12.345", "12.345"},
		{"zero step means one minor unit", Policy{Mode: RoundCeil, CurrencyDecimals: 2}, "0.001", "0.01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requireDecimal(t, tc.want, tc.policy.Round(d(tc.in)))
		})
	}
}

func TestParseRoundingMode(t *testing.T) {
	mode, err := ParseRoundingMode("ceil")
	require.NoError(t, err)
	require.Equal(t, RoundCeil, mode)

	mode, err = ParseRoundingMode("")
	require.NoError(t, err)
	require.Equal(t, RoundNone, mode)

	_, err = ParseRoundingMode("banker")
	require.Error(t, err)
}

func TestComputeTotals(t *testing.T) {
	policy := Policy{Mode: RoundCeil, Step: 25}
	lines := []TotalsLine{
		{AcceptedQty: d("2"), PurchasePrice: d("1000"), Pricing: ComputeLine(d("1000"), pharmacy(), policy)},
		{AcceptedQty: d("3"), PurchasePrice: d("100")},
	}

	totals := ComputeTotals(lines, Overrides{}, policy)
	requireDecimal(t, "2300", totals.SubtotalHT)
	requireDecimal(t, "500", totals.VAT)
	requireDecimal(t, "50", totals.Duty)
	requireDecimal(t, "25", totals.ASDI)
	requireDecimal(t, "2875", totals.GrandTotalTTC)
}

func TestComputeTotalsHonoursOverrides(t *testing.T) {
	policy := Policy{Mode: RoundCeil, Step: 25}
	lines := []TotalsLine{
		{AcceptedQty: d("2"), PurchasePrice: d("1000"), Pricing: ComputeLine(d("1000"), pharmacy(), policy)},
		{AcceptedQty: d("3"), PurchasePrice: d("100")},
	}
	zero := decimal.Zero
	asdi := d("7")

	totals := ComputeTotals(lines, Overrides{VAT: &zero, ASDI: &asdi}, policy)
	require.True(t, totals.VAT.IsZero())
	requireDecimal(t, "500", totals.ComputedVAT)
	requireDecimal(t, "7", totals.ASDI)
	requireDecimal(t, "2357", totals.GrandTotalTTC)

	totals = ComputeTotals(lines, Overrides{VAT: &zero}, policy)
	requireDecimal(t, "25", totals.ASDI)
	requireDecimal(t, "2375", totals.GrandTotalTTC)
}

func TestComputeTotalsEmpty(t *testing.T) {
	totals := ComputeTotals(nil, Overrides{}, Policy{Mode: RoundCeil, Step: 25})
	require.True(t, totals.GrandTotalTTC.IsZero())
	require.True(t, totals.ASDI.IsZero())
}
