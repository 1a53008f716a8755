// Package columns translates supplier-specific spreadsheet layouts into the
// canonical reception row shape.
package columns

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field is a canonical reception column.
type Field string

const (
	FieldCode         Field = "code"
	FieldLegacyCode   Field = "legacy_code"
	FieldLabel        Field = "label"
	FieldOrderedQty   Field = "ordered_qty"
	FieldReceivedQty  Field = "received_qty"
	FieldAcceptedQty  Field = "accepted_qty"
	FieldUnitPrice    Field = "unit_price"
	FieldLotNumber    Field = "lot_number"
	FieldExpiryDate   Field = "expiry_date"
	FieldLocation     Field = "location"
	FieldStatus       Field = "status"
	FieldComment      Field = "comment"
	FieldDeliveryNote Field = "delivery_note"
)

// Required lists the fields every mapping must bind.
var Required = []Field{FieldCode, FieldReceivedQty, FieldUnitPrice}

var (
	// ErrNoMapping is returned when a supplier has no column configuration yet.
	ErrNoMapping = errors.New("columns: no column mapping configured for supplier")

	columnLetters = regexp.MustCompile(`^[A-Za-z]{1,3}$`)
	validate      = validator.New()
)

// MappingError lists required columns a mapping or a file header could not provide.
type MappingError struct {
	SupplierID int64
	Missing    []Field
}

func (e *MappingError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = string(f)
	}
	return fmt.Sprintf("columns: supplier %d mapping misses required columns: %s", e.SupplierID, strings.Join(names, ", "))
}

// Mapping is a per-supplier column configuration. Source identifiers are either
// header titles or column letters.
type Mapping struct {
	SupplierID int64            `json:"supplier_id" validate:"gte=0"`
	HeaderRow  int              `json:"header_row" validate:"gte=0,lte=50"`
	Columns    map[Field]string `json:"columns" validate:"required,min=1,dive,keys,oneof=code legacy_code label ordered_qty received_qty accepted_qty unit_price lot_number expiry_date location status comment delivery_note,endkeys,required,max=128"`
}

// Validate checks the configuration shape and that required fields are mapped.
func (m Mapping) Validate() error {
	if err := validate.Struct(m); err != nil {
		return err
	}
	var missing []Field
	for _, f := range Required {
		if strings.TrimSpace(m.Columns[f]) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &MappingError{SupplierID: m.SupplierID, Missing: missing}
	}
	return nil
}

// CatalogLayout is the fixed layout used for catalog-sourced imports.
func CatalogLayout() Mapping {
	return Mapping{
		HeaderRow: 1,
		Columns: map[Field]string{
			FieldCode:        "A",
			FieldLabel:       "B",
			FieldReceivedQty: "C",
			FieldUnitPrice:   "D",
		},
	}
}

// Binding is a mapping resolved against a concrete header row.
type Binding struct {
	indexes map[Field]int
	// Unbound lists optional fields configured but absent from the file.
	Unbound []Field
}

// Bind resolves the mapping against the file header. Header titles win over
// column letters; a missing required column fails the whole file.
func (m Mapping) Bind(header []string) (*Binding, error) {
	folded := make(map[string]int, len(header))
	for i, title := range header {
		key := Fold(title)
		if key == "" {
			continue
		}
		if _, seen := folded[key]; !seen {
			folded[key] = i
		}
	}

	b := &Binding{indexes: make(map[Field]int, len(m.Columns))}
	fields := make([]Field, 0, len(m.Columns))
	for f := range m.Columns {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	for _, f := range fields {
		ident := strings.TrimSpace(m.Columns[f])
		if ident == "" {
			continue
		}
		if idx, ok := folded[Fold(ident)]; ok {
			b.indexes[f] = idx
			continue
		}
		if columnLetters.MatchString(ident) {
			n, err := excelize.ColumnNameToNumber(strings.ToUpper(ident))
			if err == nil {
				b.indexes[f] = n - 1
				continue
			}
		}
		b.Unbound = append(b.Unbound, f)
	}

	var missing []Field
	for _, f := range Required {
		if _, ok := b.indexes[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, &MappingError{SupplierID: m.SupplierID, Missing: missing}
	}
	b.Unbound = without(b.Unbound, Required)
	return b, nil
}

// Has reports whether the field is bound to a column.
func (b *Binding) Has(f Field) bool {
	_, ok := b.indexes[f]
	return ok
}

// Row maps a raw spreadsheet row to canonical fields. Cells beyond the row
// length read as empty.
func (b *Binding) Row(raw []string) Row {
	row := make(Row, len(b.indexes))
	for f, idx := range b.indexes {
		if idx < len(raw) {
			row[f] = strings.TrimSpace(raw[idx])
		}
	}
	return row
}

// Row is a canonical row keyed by field.
type Row map[Field]string

// Get returns the cell for f, or "".
func (r Row) Get(f Field) string {
	return r[f]
}

// Blank reports whether every cell is empty.
func (r Row) Blank() bool {
	for _, v := range r {
		if v != "" {
			return false
		}
	}
	return true
}

// Fold normalises a header title for comparison: accents removed, lower-cased,
// only letters and digits kept.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, s)
	if err != nil {
		plain = s
	}
	var sb strings.Builder
	for _, r := range strings.ToLower(plain) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func without(fields, drop []Field) []Field {
	if len(fields) == 0 {
		return nil
	}
	out := fields[:0]
	for _, f := range fields {
		keep := true
		for _, d := range drop {
			if f == d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, f)
		}
	}
	return out
}
