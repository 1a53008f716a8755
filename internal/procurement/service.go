package procurement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-reception/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, tenantID, id int64) (PurchaseOrder, []POLine, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service reconciles receptions with purchase orders.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// ReconcileInput describes the reception to attach to an order.
type ReconcileInput struct {
	TenantID   int64
	OrderID    int64
	SupplierID int64
	Currency   string
	Reference  string
	Lines      []ReconcileLine
}

// ReconcileLine is one received line with its resolved product.
type ReconcileLine struct {
	ProductID  int64
	OrderedQty decimal.Decimal
	UnitPrice  decimal.Decimal
}

// Reconciliation is the order the reception is attached to.
type Reconciliation struct {
	Order       PurchaseOrder
	Lines       []POLine
	Synthesized bool
}

// Reconcile attaches the reception to the given order, or synthesizes an
// approved order from the reception lines when none is given.
func (s *Service) Reconcile(ctx context.Context, input ReconcileInput) (Reconciliation, error) {
	if input.OrderID != 0 {
		po, lines, err := s.repo.GetPO(ctx, input.TenantID, input.OrderID)
		if err != nil {
			return Reconciliation{}, err
		}
		if po.SupplierID != input.SupplierID {
			return Reconciliation{}, ErrSupplierMismatch
		}
		if !po.Status.Receivable() {
			return Reconciliation{}, fmt.Errorf("%w: order %s is %s", ErrInvalidState, po.Number, po.Status)
		}
		return Reconciliation{Order: po, Lines: lines}, nil
	}
	return s.synthesize(ctx, input)
}

func (s *Service) synthesize(ctx context.Context, input ReconcileInput) (Reconciliation, error) {
	if input.SupplierID == 0 {
		return Reconciliation{}, ErrValidation
	}
	var lines []POLine
	for _, line := range input.Lines {
		if line.ProductID == 0 {
			continue
		}
		qty := line.OrderedQty
		if qty.IsNegative() {
			qty = decimal.Zero
		}
		lines = append(lines, POLine{ProductID: line.ProductID, Qty: qty, Price: line.UnitPrice})
	}
	if len(lines) == 0 {
		return Reconciliation{}, fmt.Errorf("%w: no line with a resolved product", ErrValidation)
	}

	po := PurchaseOrder{
		TenantID:     input.TenantID,
		Number:       generateNumber("PO", s.now()),
		SupplierID:   input.SupplierID,
		Status:       POStatusApproved,
		Currency:     input.Currency,
		ExpectedDate: s.now(),
		Reference:    input.Reference,
		Synthesized:  true,
		Note:         fmt.Sprintf("generated from delivery note %s", input.Reference),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		poID, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = poID
		for i := range lines {
			lines[i].POID = poID
			if err := tx.InsertPOLine(ctx, lines[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	s.recordAudit(ctx, "PO_SYNTHESIZE", po.ID, map[string]any{"number": po.Number, "reference": po.Reference, "lines": len(lines)})
	return Reconciliation{Order: po, Lines: lines, Synthesized: true}, nil
}

// MarkReceived moves the order to RECEIVED. Already received orders are left untouched.
func (s *Service) MarkReceived(ctx context.Context, tenantID, orderID int64) error {
	po, _, err := s.repo.GetPO(ctx, tenantID, orderID)
	if err != nil {
		return err
	}
	switch {
	case po.Status == POStatusReceived:
		return nil
	case !po.Status.Receivable():
		return ErrInvalidState
	}
	at := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.MarkPOReceived(ctx, orderID, at)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_RECEIVED", orderID, map[string]any{"number": po.Number})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: 0, Action: action, Entity: "procurement", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func generateNumber(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), suffix)
}
