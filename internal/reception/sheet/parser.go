// Package sheet reads supplier delivery spreadsheets into reception lines.
package sheet

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/odyssey-erp/odyssey-reception/internal/reception/columns"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/domain"
)

// DefaultMaxBytes bounds uploads when no limit is configured.
const DefaultMaxBytes = 10 << 20

// Upload is a received spreadsheet file.
type Upload struct {
	Name string
	Data []byte
}

// FileFormatError reports a file that cannot be read at all.
type FileFormatError struct {
	Name   string
	Reason string
	Err    error
}

func (e *FileFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sheet: %s: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("sheet: %s: %s", e.Name, e.Reason)
}

func (e *FileFormatError) Unwrap() error { return e.Err }

// Result is the outcome of a parse. Row errors drop the row, warnings keep it.
type Result struct {
	Lines           []domain.Line
	Errors          []domain.Diagnostic
	Warnings        []domain.Diagnostic
	DeliveryNoteRef string
	Digest          string
	Rows            int
}

// Diagnostics returns errors followed by warnings.
func (r *Result) Diagnostics() []domain.Diagnostic {
	out := make([]domain.Diagnostic, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// Parser turns uploads into lines.
type Parser struct {
	maxBytes int
}

// NewParser constructs a parser. maxBytes <= 0 selects DefaultMaxBytes.
func NewParser(maxBytes int) *Parser {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Parser{maxBytes: maxBytes}
}

// Parse reads the upload through mapping. A nil mapping selects the catalog layout.
func (p *Parser) Parse(ctx context.Context, up Upload, mapping *columns.Mapping) (*Result, error) {
	if len(up.Data) == 0 {
		return nil, &FileFormatError{Name: up.Name, Reason: "empty file"}
	}
	if len(up.Data) > p.maxBytes {
		return nil, &FileFormatError{Name: up.Name, Reason: fmt.Sprintf("file exceeds %d bytes", p.maxBytes)}
	}
	rows, err := readRows(up.Name, up.Data)
	if err != nil {
		return nil, err
	}

	m := columns.CatalogLayout()
	if mapping != nil {
		m = *mapping
	}
	var header []string
	if m.HeaderRow > 0 && m.HeaderRow <= len(rows) {
		header = rows[m.HeaderRow-1]
	}
	binding, err := m.Bind(header)
	if err != nil {
		return nil, err
	}

	sum := blake2b.Sum256(up.Data)
	res := &Result{Digest: hex.EncodeToString(sum[:])}
	for _, f := range binding.Unbound {
		res.Warnings = append(res.Warnings, domain.Warnf(0, string(f), "column_missing",
			"column %q configured for %s is not in the file", m.Columns[f], f))
	}

	start := m.HeaderRow
	if start < 0 {
		start = 0
	}
	for i := start; i < len(rows); i++ {
		if (i-start)%500 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := binding.Row(rows[i])
		if row.Blank() {
			continue
		}
		res.Rows++
		p.parseRow(res, i+1, row, binding)
	}
	return res, nil
}

func (p *Parser) parseRow(res *Result, rowNum int, row columns.Row, binding *columns.Binding) {
	var errs []domain.Diagnostic
	rowErr := func(field columns.Field, code, format string, args ...any) {
		errs = append(errs, domain.Errorf(rowNum, string(field), code, format, args...))
	}
	warn := func(field columns.Field, code, format string, args ...any) {
		res.Warnings = append(res.Warnings, domain.Warnf(rowNum, string(field), code, format, args...))
	}

	line := domain.Line{
		Row:        rowNum,
		Code:       NormalizeCode(row.Get(columns.FieldCode)),
		LegacyCode: NormalizeCode(row.Get(columns.FieldLegacyCode)),
		Label:      row.Get(columns.FieldLabel),
		LotNumber:  row.Get(columns.FieldLotNumber),
		Location:   row.Get(columns.FieldLocation),
		Comment:    row.Get(columns.FieldComment),
		Status:     domain.LineConforming,
	}
	if line.Code == "" {
		rowErr(columns.FieldCode, "missing_code", "product code is missing")
	}

	received, ok, err := decimalCell(row, columns.FieldReceivedQty)
	switch {
	case err != nil:
		rowErr(columns.FieldReceivedQty, "invalid_quantity", "received quantity %q is not a number", row.Get(columns.FieldReceivedQty))
	case !ok:
		rowErr(columns.FieldReceivedQty, "missing_quantity", "received quantity is missing")
	default:
		line.ReceivedQty = received
	}

	price, ok, err := decimalCell(row, columns.FieldUnitPrice)
	switch {
	case err != nil:
		rowErr(columns.FieldUnitPrice, "invalid_price", "unit price %q is not a number", row.Get(columns.FieldUnitPrice))
	case !ok:
		rowErr(columns.FieldUnitPrice, "missing_price", "unit price is missing")
	default:
		line.UnitPrice = price
	}

	if len(errs) > 0 {
		res.Errors = append(res.Errors, errs...)
		return
	}

	line.OrderedQty = line.ReceivedQty
	if ordered, ok, err := decimalCell(row, columns.FieldOrderedQty); err != nil {
		warn(columns.FieldOrderedQty, "invalid_quantity", "ordered quantity %q is not a number, received quantity used", row.Get(columns.FieldOrderedQty))
	} else if ok {
		line.OrderedQty = ordered
	}

	line.AcceptedQty = line.ReceivedQty
	accepted, ok, err := decimalCell(row, columns.FieldAcceptedQty)
	switch {
	case err != nil:
		warn(columns.FieldAcceptedQty, "accepted_defaulted", "accepted quantity %q is not a number, received quantity used", row.Get(columns.FieldAcceptedQty))
	case ok:
		line.AcceptedQty = accepted
	case binding.Has(columns.FieldAcceptedQty):
		warn(columns.FieldAcceptedQty, "accepted_defaulted", "accepted quantity is empty, received quantity used")
	}

	if raw := row.Get(columns.FieldExpiryDate); raw != "" {
		if expiry, ok := ParseDate(raw); ok {
			line.ExpiryDate = &expiry
		} else {
			warn(columns.FieldExpiryDate, "invalid_expiry", "expiry date %q is not a recognised date", raw)
		}
	}

	if raw := row.Get(columns.FieldStatus); raw != "" {
		status, known := domain.ParseLineStatus(foldStatus(raw))
		if !known {
			warn(columns.FieldStatus, "unknown_status", "line status %q is unknown, conforming assumed", raw)
		}
		line.Status = status
	}

	if ref := row.Get(columns.FieldDeliveryNote); ref != "" {
		switch {
		case res.DeliveryNoteRef == "":
			res.DeliveryNoteRef = ref
		case ref != res.DeliveryNoteRef:
			warn(columns.FieldDeliveryNote, "delivery_note_mismatch", "delivery note %q differs from %q", ref, res.DeliveryNoteRef)
		}
	}

	res.Lines = append(res.Lines, line)
}

// decimalCell reads a numeric cell. ok is false when the cell is empty or unbound.
func decimalCell(row columns.Row, f columns.Field) (decimal.Decimal, bool, error) {
	raw := row.Get(f)
	if raw == "" {
		return decimal.Zero, false, nil
	}
	d, err := ParseDecimal(raw)
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}
