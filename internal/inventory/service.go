package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-reception/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates inventory operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// PostInbound posts an inbound movement and adds the quantity to its lot.
// Movement codes are unique: posting a code that already exists returns
// ErrAlreadyPosted and changes nothing.
func (s *Service) PostInbound(ctx context.Context, input InboundInput) (StockCardEntry, error) {
	if input.WarehouseID == 0 || input.ProductID == 0 {
		return StockCardEntry{}, errors.New("inventory: warehouse and product required")
	}
	if !input.Qty.IsPositive() {
		return StockCardEntry{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return StockCardEntry{}, ErrInvalidUnitCost
	}
	if input.RefID != "" {
		if _, err := uuid.Parse(input.RefID); err != nil {
			return StockCardEntry{}, fmt.Errorf("inventory: invalid ref id: %w", err)
		}
	}
	now := time.Now().UTC()
	code := input.Code
	if code == "" {
		code = "INV-" + uuid.NewString()
	}

	var card StockCardEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		txID, err := tx.InsertTransaction(ctx, Transaction{
			Code:        code,
			Type:        TransactionTypeIn,
			WarehouseID: input.WarehouseID,
			RefModule:   input.RefModule,
			RefID:       input.RefID,
			Note:        input.Note,
			PostedAt:    now,
			CreatedBy:   input.ActorID,
		})
		if err != nil {
			if errors.Is(err, ErrDuplicateCode) {
				return fmt.Errorf("%w: %s", ErrAlreadyPosted, code)
			}
			return err
		}
		balance, err := tx.GetBalanceForUpdate(ctx, input.WarehouseID, input.ProductID)
		if err != nil && !errors.Is(err, ErrBalanceNotFound) {
			return err
		}
		if errors.Is(err, ErrBalanceNotFound) {
			balance = Balance{WarehouseID: input.WarehouseID, ProductID: input.ProductID}
		}
		newQty := balance.Qty.Add(input.Qty)
		totalCost := balance.Qty.Mul(balance.AvgCost).Add(input.Qty.Mul(input.UnitCost))
		newAvg := decimal.Zero
		if !newQty.IsZero() {
			newAvg = totalCost.DivRound(newQty, 6)
		}

		line := TransactionLine{
			TransactionID:  txID,
			ProductID:      input.ProductID,
			Qty:            input.Qty,
			UnitCost:       input.UnitCost,
			LotNumber:      input.LotNumber,
			DstWarehouseID: input.WarehouseID,
		}
		if err := tx.InsertTransactionLines(ctx, txID, []TransactionLine{line}); err != nil {
			return err
		}
		if err := tx.AddToLot(ctx, Lot{
			WarehouseID: input.WarehouseID,
			ProductID:   input.ProductID,
			LotNumber:   input.LotNumber,
			ExpiryDate:  input.ExpiryDate,
			Qty:         input.Qty,
		}); err != nil {
			return err
		}
		balance.Qty = newQty
		balance.AvgCost = newAvg
		if err := tx.UpsertBalance(ctx, balance); err != nil {
			return err
		}
		card = StockCardEntry{
			TxCode:      code,
			TxType:      TransactionTypeIn,
			PostedAt:    now,
			QtyIn:       input.Qty,
			BalanceQty:  newQty,
			UnitCost:    input.UnitCost,
			BalanceCost: newAvg,
			LotNumber:   input.LotNumber,
			Note:        input.Note,
		}
		return tx.InsertCardEntry(ctx, card, input.WarehouseID, input.ProductID, txID)
	})
	if err != nil {
		return StockCardEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("inventory:%s", TransactionTypeIn),
			Entity:   "inventory_tx",
			EntityID: fmt.Sprintf("%s:%d", TransactionTypeIn, input.ProductID),
			Meta: map[string]any{
				"warehouse_id": input.WarehouseID,
				"product_id":   input.ProductID,
				"qty":          input.Qty.String(),
				"lot":          input.LotNumber,
				"note":         input.Note,
			},
		})
	}
	return card, nil
}

// GetStockCard lists stock card entries.
func (s *Service) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	if filter.WarehouseID == 0 || filter.ProductID == 0 {
		return nil, errors.New("inventory: warehouse and product required")
	}
	return s.repo.GetStockCard(ctx, filter)
}
