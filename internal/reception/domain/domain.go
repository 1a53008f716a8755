// Package domain holds the reception document model shared by the parser,
// the validation rules and the reception service.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LineStatus is the operator's conformity verdict for a delivered line.
type LineStatus string

const (
	LineConforming    LineStatus = "conforme"
	LineNonConforming LineStatus = "non_conforme"
	LinePartial       LineStatus = "partial"
)

// ParseLineStatus maps lower-cased free text to a LineStatus. Blank means
// conforming. ok is false for unknown values.
func ParseLineStatus(raw string) (LineStatus, bool) {
	switch LineStatus(raw) {
	case LineConforming, LineNonConforming, LinePartial:
		return LineStatus(raw), true
	}
	switch raw {
	case "", "ok", "conform", "conforming":
		return LineConforming, true
	case "nc", "non conforme", "non-conforme", "rejected":
		return LineNonConforming, true
	case "partiel", "partielle":
		return LinePartial, true
	}
	return LineConforming, false
}

// Status tracks the reception document lifecycle.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusWarningsPending Status = "WARNINGS_PENDING"
	StatusValidated       Status = "VALIDATED"
	StatusCommitted       Status = "COMMITTED"
)

// Source tells how the spreadsheet layout is interpreted.
type Source string

const (
	SourceSupplier Source = "supplier"
	SourceCatalog  Source = "catalog"
)

// Line is one delivered row after column mapping.
type Line struct {
	Row         int             `json:"row"`
	Code        string          `json:"code"`
	LegacyCode  string          `json:"legacy_code,omitempty"`
	Label       string          `json:"label"`
	OrderedQty  decimal.Decimal `json:"ordered_qty"`
	ReceivedQty decimal.Decimal `json:"received_qty"`
	AcceptedQty decimal.Decimal `json:"accepted_qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LotNumber   string          `json:"lot_number"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	Location    string          `json:"location,omitempty"`
	Status      LineStatus      `json:"status"`
	Comment     string          `json:"comment,omitempty"`

	// Operator overrides. Zero means "use the catalog".
	ProductID  int64 `json:"product_id,omitempty"`
	CategoryID int64 `json:"category_id,omitempty"`
}

// Overridden reports whether the operator linked the line to a product by hand.
func (l Line) Overridden() bool {
	return l.ProductID != 0
}

// QualityControl captures the delivery checks done at the dock.
type QualityControl struct {
	PackagingOK   bool `json:"packaging_ok"`
	TemperatureOK bool `json:"temperature_ok"`
	LabelingOK    bool `json:"labeling_ok"`
}

// TaxOverrides holds operator-entered aggregate amounts. Nil keeps the computed value.
type TaxOverrides struct {
	VAT  *decimal.Decimal `json:"vat,omitempty"`
	Duty *decimal.Decimal `json:"duty,omitempty"`
	ASDI *decimal.Decimal `json:"asdi,omitempty"`
}

// Document is the reception aggregate. Lines are serialised separately.
type Document struct {
	ID               int64          `json:"id"`
	TenantID         int64          `json:"tenant_id"`
	SupplierID       int64          `json:"supplier_id"`
	OrderID          int64          `json:"order_id,omitempty"`
	WarehouseID      int64          `json:"warehouse_id"`
	Number           string         `json:"number"`
	DeliveryNoteRef  string         `json:"delivery_note_ref"`
	Carrier          string         `json:"carrier,omitempty"`
	QC               QualityControl `json:"quality_control"`
	Notes            string         `json:"notes,omitempty"`
	Source           Source         `json:"source"`
	FileName         string         `json:"file_name"`
	FileDigest       string         `json:"file_digest"`
	Lines            []Line         `json:"-"`
	Overrides        TaxOverrides   `json:"tax_overrides"`
	Acknowledged     []string       `json:"acknowledged"`
	ParseDiagnostics []Diagnostic   `json:"-"`
	Status           Status         `json:"status"`
	FollowUp         bool           `json:"follow_up"`
	CommitRef        string         `json:"commit_ref,omitempty"`
	CommittedAt      *time.Time     `json:"committed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Line returns the line for a spreadsheet row number.
func (d *Document) Line(row int) (*Line, bool) {
	for i := range d.Lines {
		if d.Lines[i].Row == row {
			return &d.Lines[i], true
		}
	}
	return nil, false
}

// Codes lists the external codes of all lines in row order.
func (d *Document) Codes() []string {
	codes := make([]string, 0, len(d.Lines))
	for _, line := range d.Lines {
		codes = append(codes, line.Code)
	}
	return codes
}

// Mutable reports whether operator edits are still allowed. A document whose
// commit has started posting stock (CommitRef set) is frozen even before it
// reaches COMMITTED.
func (d *Document) Mutable() bool {
	return d.Status != StatusCommitted && d.CommitRef == ""
}

// DiscardRow removes a spreadsheet row from the document: its line if the row
// was kept, and every parse diagnostic reported for it. It reports whether
// anything was removed.
func (d *Document) DiscardRow(row int) bool {
	removed := false
	lines := make([]Line, 0, len(d.Lines))
	for _, line := range d.Lines {
		if line.Row == row {
			removed = true
			continue
		}
		lines = append(lines, line)
	}
	d.Lines = lines
	diags := make([]Diagnostic, 0, len(d.ParseDiagnostics))
	for _, diag := range d.ParseDiagnostics {
		if diag.Row == row {
			removed = true
			continue
		}
		diags = append(diags, diag)
	}
	d.ParseDiagnostics = diags
	return removed
}

// Severity classifies diagnostics.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a row- or document-scoped finding. Row 0 is document scope.
type Diagnostic struct {
	Row      int      `json:"row"`
	Field    string   `json:"field"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Key identifies a diagnostic for acknowledgment.
func (d Diagnostic) Key() string {
	return fmt.Sprintf("%s:%d:%s", d.Code, d.Row, d.Field)
}

// Errorf builds an error diagnostic.
func Errorf(row int, field, code, format string, args ...any) Diagnostic {
	return Diagnostic{Row: row, Field: field, Code: code, Message: fmt.Sprintf(format, args...), Severity: SeverityError}
}

// Warnf builds a warning diagnostic.
func Warnf(row int, field, code, format string, args ...any) Diagnostic {
	return Diagnostic{Row: row, Field: field, Code: code, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning}
}

var (
	// ErrImmutable is returned when editing a committed document.
	ErrImmutable = errors.New("reception: committed document is immutable")
	// ErrLineNotFound indicates an unknown row number.
	ErrLineNotFound = errors.New("reception: line not found")
)
