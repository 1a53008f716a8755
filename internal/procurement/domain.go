package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusApproved  POStatus = "APPROVED"
	POStatusReceived  POStatus = "RECEIVED"
	POStatusClosed    POStatus = "CLOSED"
	POStatusCancelled POStatus = "CANCELLED"
)

// Receivable reports whether goods can still be received against the order.
func (s POStatus) Receivable() bool {
	return s != POStatusClosed && s != POStatusCancelled
}

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID           int64
	TenantID     int64
	Number       string
	SupplierID   int64
	Status       POStatus
	Currency     string
	ExpectedDate time.Time
	Reference    string
	Synthesized  bool
	ReceivedAt   *time.Time
	Note         string
}

// POLine represents PO lines.
type POLine struct {
	ID        int64
	POID      int64
	ProductID int64
	Qty       decimal.Decimal
	Price     decimal.Decimal
	Note      string
}

var (
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = errors.New("procurement: invalid state transition")
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("procurement: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrSupplierMismatch is returned when the order belongs to another supplier.
	ErrSupplierMismatch = errors.New("procurement: order supplier does not match reception supplier")
)
