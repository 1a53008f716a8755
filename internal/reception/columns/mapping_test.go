package columns

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBindByHeaderTitle(t *testing.T) {
	m := Mapping{SupplierID: 7, HeaderRow: 1, Columns: map[Field]string{
		FieldCode:        "Code CIP",
		FieldReceivedQty: "Qté livrée",
		FieldUnitPrice:   "Prix unitaire HT",
		FieldLotNumber:   "N° Lot",
	}}
	header := []string{"Désignation", "CODE-CIP", "QTE LIVREE", "prix unitaire (HT)", "n° lot"}

	b, err := m.Bind(header)
	require.NoError(t, err)
	require.Empty(t, b.Unbound)

	row := b.Row([]string{"Doliprane", " 3400930000001 ", "10", "1250", "L42"})
	require.Equal(t, "3400930000001", row.Get(FieldCode))
	require.Equal(t, "10", row.Get(FieldReceivedQty))
	require.Equal(t, "1250", row.Get(FieldUnitPrice))
	require.Equal(t, "L42", row.Get(FieldLotNumber))
	require.Equal(t, "", row.Get(FieldLabel))
}

func TestBindFallsBackToColumnLetters(t *testing.T) {
	m := Mapping{SupplierID: 7, Columns: map[Field]string{
		FieldCode:        "b",
		FieldReceivedQty: "C",
		FieldUnitPrice:   "AA",
	}}
	b, err := m.Bind(nil)
	require.NoError(t, err)

	raw := make([]string, 27)
	raw[1] = "123"
	raw[2] = "4"
	raw[26] = "9.5"
	row := b.Row(raw)
	require.Equal(t, "123", row.Get(FieldCode))
	require.Equal(t, "4", row.Get(FieldReceivedQty))
	require.Equal(t, "9.5", row.Get(FieldUnitPrice))

	short := b.Row([]string{"x", "y"})
	require.Equal(t, "", short.Get(FieldUnitPrice))
}

func TestBindReportsEveryMissingRequiredColumn(t *testing.T) {
	m := Mapping{SupplierID: 3, HeaderRow: 1, Columns: map[Field]string{
		FieldCode:        "Référence",
		FieldReceivedQty: "Quantité",
		FieldUnitPrice:   "Prix",
		FieldComment:     "Remarque",
	}}
	_, err := m.Bind([]string{"Libellé", "Quantité"})

	var mappingErr *MappingError
	require.True(t, errors.As(err, &mappingErr))
	require.Equal(t, int64(3), mappingErr.SupplierID)
	require.Equal(t, []Field{FieldCode, FieldUnitPrice}, mappingErr.Missing)
	require.Contains(t, err.Error(), "code, unit_price")
}

func TestBindKeepsOptionalGapsAsUnbound(t *testing.T) {
	m := Mapping{HeaderRow: 1, Columns: map[Field]string{
		FieldCode:        "code",
		FieldReceivedQty: "qty",
		FieldUnitPrice:   "price",
		FieldExpiryDate:  "Péremption",
	}}
	b, err := m.Bind([]string{"code", "qty", "price"})
	require.NoError(t, err)
	require.Equal(t, []Field{FieldExpiryDate}, b.Unbound)
	require.False(t, b.Has(FieldExpiryDate))
	require.True(t, b.Has(FieldCode))
}

func TestValidate(t *testing.T) {
	ok := Mapping{SupplierID: 1, HeaderRow: 1, Columns: map[Field]string{
		FieldCode: "A", FieldReceivedQty: "B", FieldUnitPrice: "C",
	}}
	require.NoError(t, ok.Validate())

	unknown := Mapping{SupplierID: 1, Columns: map[Field]string{
		FieldCode: "A", FieldReceivedQty: "B", FieldUnitPrice: "C", Field("colour"): "D",
	}}
	require.Error(t, unknown.Validate())

	incomplete := Mapping{SupplierID: 1, Columns: map[Field]string{FieldCode: "A"}}
	var mappingErr *MappingError
	require.ErrorAs(t, incomplete.Validate(), &mappingErr)
	require.Equal(t, []Field{FieldReceivedQty, FieldUnitPrice}, mappingErr.Missing)
}

func TestCatalogLayoutIsPositional(t *testing.T) {
	b, err := CatalogLayout().Bind([]string{"anything", "goes", "here", "really"})
	require.NoError(t, err)
	row := b.Row([]string{"3400930000001", "Doliprane 1000", "12", "980"})
	require.Equal(t, "3400930000001", row.Get(FieldCode))
	require.Equal(t, "Doliprane 1000", row.Get(FieldLabel))
	require.Equal(t, "12", row.Get(FieldReceivedQty))
	require.Equal(t, "980", row.Get(FieldUnitPrice))
}

func TestFold(t *testing.T) {
	require.Equal(t, "qtelivree", Fold(" Qté  Livrée "))
	require.Equal(t, "nlot", Fold("N° Lot"))
	require.Equal(t, "", Fold("  --  "))
}
