// Package rules classifies a priced reception into blocking errors and
// warnings that must be acknowledged before commit.
package rules

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-reception/internal/pricing"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/domain"
)

// Diagnostic codes produced by Evaluate.
const (
	CodeEmptyDocument           = "empty_document"
	CodeUnresolvedProduct       = "unresolved_product"
	CodeAcceptedExceedsReceived = "accepted_exceeds_received"
	CodeNegativeQuantity        = "negative_quantity"
	CodeNegativePrice           = "negative_price"
	CodeMissingLot              = "missing_lot"
	CodeExpirySoon              = "expiry_soon"
	CodeExpiredLot              = "expired_lot"
	CodeZeroTax                 = "zero_tax"
	CodeUnpricedLine            = "unpriced_line"
	CodeDuplicateCode           = "duplicate_code"
	CodeNonConformingAccepted   = "non_conforming_accepted"
)

// DefaultExpiryHorizonMonths is used when the tenant does not configure one.
const DefaultExpiryHorizonMonths = 6

// Line is a reception line with the outcome of resolution and pricing.
type Line struct {
	domain.Line
	Resolved bool
	Pricing  *pricing.LinePricing
}

// Input is everything the rules look at.
type Input struct {
	Lines                  []Line
	ParseDiagnostics       []domain.Diagnostic
	Totals                 pricing.Totals
	AllowMissingLotNumbers bool
	ExpiryHorizonMonths    int
	Now                    time.Time
}

// Report is the classified outcome of Evaluate.
type Report struct {
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
}

// Evaluate applies every rule. It never mutates the input.
func Evaluate(in Input) Report {
	var out []domain.Diagnostic
	out = append(out, in.ParseDiagnostics...)

	if len(in.Lines) == 0 {
		out = append(out, domain.Errorf(0, "lines", CodeEmptyDocument, "reception has no line"))
		return Report{Diagnostics: out}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	months := in.ExpiryHorizonMonths
	if months <= 0 {
		months = DefaultExpiryHorizonMonths
	}
	horizon := today.AddDate(0, months, 0)

	firstRow := make(map[string]int, len(in.Lines))
	for _, line := range in.Lines {
		out = append(out, checkLine(line, in.AllowMissingLotNumbers, today, horizon)...)
		if line.Code == "" {
			continue
		}
		if first, seen := firstRow[line.Code]; seen {
			out = append(out, domain.Warnf(line.Row, "code", CodeDuplicateCode, "code %s already appears on row %d", line.Code, first))
		} else {
			firstRow[line.Code] = line.Row
		}
	}

	if in.Totals.VAT.IsZero() || in.Totals.Duty.IsZero() {
		out = append(out, domain.Warnf(0, "totals", CodeZeroTax, "aggregate VAT %s or additional duty %s is zero", in.Totals.VAT, in.Totals.Duty))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity == domain.SeverityError
		}
		return out[i].Row < out[j].Row
	})
	return Report{Diagnostics: out}
}

func checkLine(line Line, allowMissingLot bool, today, horizon time.Time) []domain.Diagnostic {
	var out []domain.Diagnostic
	row := line.Row

	if !line.Resolved && !line.Overridden() {
		out = append(out, domain.Errorf(row, "code", CodeUnresolvedProduct, "product %s is not in the catalog", line.Code))
	}
	negative := false
	for _, q := range []struct {
		field string
		qty   decimal.Decimal
	}{
		{"ordered_qty", line.OrderedQty},
		{"received_qty", line.ReceivedQty},
		{"accepted_qty", line.AcceptedQty},
	} {
		if q.qty.IsNegative() {
			negative = true
			out = append(out, domain.Errorf(row, q.field, CodeNegativeQuantity, "%s is negative (%s)", q.field, q.qty))
		}
	}
	if !negative && line.AcceptedQty.GreaterThan(line.ReceivedQty) {
		out = append(out, domain.Errorf(row, "accepted_qty", CodeAcceptedExceedsReceived,
			"accepted quantity %s exceeds received quantity %s", line.AcceptedQty, line.ReceivedQty))
	}
	if line.UnitPrice.IsNegative() {
		out = append(out, domain.Errorf(row, "unit_price", CodeNegativePrice, "unit price %s is negative", line.UnitPrice))
	}
	if line.LotNumber == "" && !allowMissingLot {
		out = append(out, domain.Errorf(row, "lot_number", CodeMissingLot, "lot number is required"))
	}

	if line.ExpiryDate != nil {
		expiry := *line.ExpiryDate
		switch {
		case expiry.Before(today):
			out = append(out, domain.Warnf(row, "expiry_date", CodeExpiredLot, "lot expired on %s", expiry.Format(time.DateOnly)))
		case expiry.Before(horizon):
			out = append(out, domain.Warnf(row, "expiry_date", CodeExpirySoon, "lot expires on %s", expiry.Format(time.DateOnly)))
		}
	}
	if line.Pricing == nil && (line.Resolved || line.Overridden()) && !line.UnitPrice.IsNegative() {
		out = append(out, domain.Warnf(row, "unit_price", CodeUnpricedLine, "no sale price: missing category or non-positive purchase price"))
	}
	if line.Status == domain.LineNonConforming && line.AcceptedQty.IsPositive() {
		out = append(out, domain.Warnf(row, "status", CodeNonConformingAccepted, "non-conforming line has accepted quantity %s", line.AcceptedQty))
	}
	return out
}

// HasErrors reports whether a blocking diagnostic exists.
func (r Report) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == domain.SeverityError {
			return true
		}
	}
	return false
}

// Errors returns the blocking diagnostics.
func (r Report) Errors() []domain.Diagnostic {
	return r.filter(func(d domain.Diagnostic) bool { return d.Severity == domain.SeverityError })
}

// Warnings returns the non-blocking diagnostics.
func (r Report) Warnings() []domain.Diagnostic {
	return r.filter(func(d domain.Diagnostic) bool { return d.Severity == domain.SeverityWarning })
}

// Pending lists warnings whose key is not acknowledged.
func (r Report) Pending(acks []string) []domain.Diagnostic {
	acked := make(map[string]struct{}, len(acks))
	for _, k := range acks {
		acked[k] = struct{}{}
	}
	return r.filter(func(d domain.Diagnostic) bool {
		if d.Severity != domain.SeverityWarning {
			return false
		}
		_, ok := acked[d.Key()]
		return !ok
	})
}

func (r Report) filter(keep func(domain.Diagnostic) bool) []domain.Diagnostic {
	var out []domain.Diagnostic
	for _, d := range r.Diagnostics {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// Transition is the two-phase confirmation: errors keep the document in
// draft, unacknowledged warnings hold it pending, otherwise it is validated.
func Transition(r Report, acks []string) domain.Status {
	switch {
	case r.HasErrors():
		return domain.StatusDraft
	case len(r.Pending(acks)) > 0:
		return domain.StatusWarningsPending
	default:
		return domain.StatusValidated
	}
}
