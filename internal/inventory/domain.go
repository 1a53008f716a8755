package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	// TransactionTypeIn represents an inbound movement.
	TransactionTypeIn TransactionType = "IN"
)

// Transaction models the header of inventory transaction.
type Transaction struct {
	ID          int64
	Code        string
	Type        TransactionType
	WarehouseID int64
	RefModule   string
	RefID       string
	Note        string
	PostedAt    time.Time
	CreatedBy   int64
	CreatedAt   time.Time
}

// TransactionLine models each product movement line.
type TransactionLine struct {
	ID             int64
	TransactionID  int64
	ProductID      int64
	Qty            decimal.Decimal
	UnitCost       decimal.Decimal
	LotNumber      string
	DstWarehouseID int64
}

// Balance summarises stock in warehouse per product.
type Balance struct {
	WarehouseID int64
	ProductID   int64
	Qty         decimal.Decimal
	AvgCost     decimal.Decimal
	UpdatedAt   time.Time
}

// Lot is the stock held per lot number and expiry.
type Lot struct {
	WarehouseID int64
	ProductID   int64
	LotNumber   string
	ExpiryDate  *time.Time
	Qty         decimal.Decimal
}

// StockCardEntry describes inventory card entry for reports.
type StockCardEntry struct {
	TxCode      string
	TxType      TransactionType
	PostedAt    time.Time
	QtyIn       decimal.Decimal
	BalanceQty  decimal.Decimal
	UnitCost    decimal.Decimal
	BalanceCost decimal.Decimal
	LotNumber   string
	Note        string
}

// InboundInput is used for reception posting.
type InboundInput struct {
	Code        string
	WarehouseID int64
	ProductID   int64
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
	LotNumber   string
	ExpiryDate  *time.Time
	Note        string
	ActorID     int64
	RefModule   string
	RefID       string
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	WarehouseID int64
	ProductID   int64
	From        time.Time
	To          time.Time
	Limit       int
}

// ErrInvalidQuantity indicates invalid qty.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrInvalidUnitCost indicates invalid cost value.
var ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")

// ErrAlreadyPosted is returned when a movement with the same code was already posted.
var ErrAlreadyPosted = errors.New("inventory: movement already posted")
