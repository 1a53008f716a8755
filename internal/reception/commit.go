package reception

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-reception/internal/inventory"
	"github.com/odyssey-erp/odyssey-reception/internal/pricing"
	"github.com/odyssey-erp/odyssey-reception/internal/procurement"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/domain"
	"github.com/odyssey-erp/odyssey-reception/internal/shared"
)

// CommitState tells whether the commit finished every step.
type CommitState string

const (
	CommitStateDone CommitState = "done"
	// CommitStateFollowUp means stock is posted but the order status update failed.
	CommitStateFollowUp CommitState = "follow_up"
)

// Commit stages reported by PersistenceError.
const (
	StageOrder       = "order"
	StageStock       = "stock"
	StageDocument    = "document"
	StageOrderStatus = "order_status"
)

// RefModule tags stock movements created by receptions.
const RefModule = "RECEPTION"

// CommitResult is stored with the document and replayed on retries.
type CommitResult struct {
	DocumentID  int64          `json:"document_id"`
	OrderID     int64          `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	Synthesized bool           `json:"synthesized_order"`
	Posted      int            `json:"posted_lines"`
	Skipped     int            `json:"skipped_lines"`
	Totals      pricing.Totals `json:"totals"`
	CommittedAt time.Time      `json:"committed_at"`
	State       CommitState    `json:"state"`
	Replayed    bool           `json:"replayed"`
}

// PersistenceError reports the commit step that failed.
type PersistenceError struct {
	Stage string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("reception: commit failed at %s: %v", e.Stage, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Record is a stored reception with its commit outcome.
type Record struct {
	domain.Document
	Commit *CommitResult
}

// Repository persists reception documents.
type Repository interface {
	Create(ctx context.Context, rec Record) (int64, error)
	Get(ctx context.Context, tenantID, id int64) (Record, error)
	Update(ctx context.Context, rec Record) error
	// FindByCommitRef returns the reception that holds a delivery reference,
	// committed or with its stock posting under way.
	FindByCommitRef(ctx context.Context, tenantID, supplierID int64, ref string) (Record, error)
}

// Commit reconciles the purchase order, posts every accepted line to stock,
// marks the document COMMITTED and then the order RECEIVED. It runs to
// completion even when the caller's context is cancelled.
//
// The delivery reference (delivery note, else file digest) is owned by at most
// one document. Committing a delivery another document already committed
// returns that stored result without touching stock; the document that
// started posting a delivery is the only one allowed to resume it.
func (s *Service) Commit(ctx context.Context, tenantID, id int64) (CommitResult, error) {
	ctx = context.WithoutCancel(ctx)
	rec, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return CommitResult{}, err
	}
	if rec.Status == domain.StatusCommitted && rec.Commit != nil {
		return replay(*rec.Commit), nil
	}

	settings, err := s.settings.Settings(ctx, tenantID)
	if err != nil {
		return CommitResult{}, fmt.Errorf("load tenant settings: %w", err)
	}
	assessment, err := s.assess(ctx, &rec.Document, settings)
	if err != nil {
		return CommitResult{}, err
	}
	// A commit that already posted stock resumes even if the catalog moved since.
	resuming := rec.CommitRef != ""
	if rec.Status != domain.StatusValidated || (!resuming && assessment.Outcome != domain.StatusValidated) {
		return CommitResult{}, fmt.Errorf("%w: status %s", ErrNotValidated, assessment.Outcome)
	}
	if rec.WarehouseID == 0 {
		return CommitResult{}, ErrWarehouseRequired
	}

	ref := commitRef(rec.Document)
	if prior, err := s.repo.FindByCommitRef(ctx, tenantID, rec.SupplierID, ref); err == nil && prior.ID != rec.ID {
		if prior.Status == domain.StatusCommitted && prior.Commit != nil {
			s.observeCommit("replayed")
			return replay(*prior.Commit), nil
		}
		return CommitResult{}, ErrCommitInProgress
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return CommitResult{}, err
	}

	key := shared.ReceptionCommitKey(tenantID, rec.SupplierID, ref)
	owner := strconv.FormatInt(rec.ID, 10)
	if err := s.idempotency.Claim(ctx, key, "reception", owner); err != nil {
		if !errors.Is(err, shared.ErrIdempotencyConflict) {
			return CommitResult{}, err
		}
		prior, ferr := s.repo.FindByCommitRef(ctx, tenantID, rec.SupplierID, ref)
		if ferr == nil && prior.Status == domain.StatusCommitted && prior.Commit != nil {
			s.observeCommit("replayed")
			return replay(*prior.Commit), nil
		}
		return CommitResult{}, ErrCommitInProgress
	}
	// Once stock posting has started the claim stays with this document.
	release := func() {
		if rec.CommitRef != "" {
			return
		}
		if err := s.idempotency.Delete(ctx, key); err != nil {
			s.logger.Error("release commit key", slog.String("key", key), slog.Any("error", err))
		}
	}
	fail := func(stage string, err error) (CommitResult, error) {
		release()
		s.observeCommit("failed")
		return CommitResult{}, &PersistenceError{Stage: stage, Err: err}
	}

	lines := make([]procurement.ReconcileLine, 0, len(assessment.Lines))
	for _, view := range assessment.Lines {
		lines = append(lines, procurement.ReconcileLine{
			ProductID:  view.EffectiveProductID(),
			OrderedQty: view.OrderedQty,
			UnitPrice:  view.UnitPrice,
		})
	}
	recon, err := s.orders.Reconcile(ctx, procurement.ReconcileInput{
		TenantID:   tenantID,
		OrderID:    rec.OrderID,
		SupplierID: rec.SupplierID,
		Currency:   settings.Currency,
		Reference:  ref,
		Lines:      lines,
	})
	if err != nil {
		return fail(StageOrder, err)
	}

	claimed := rec
	claimed.OrderID = recon.Order.ID
	claimed.CommitRef = ref
	claimed.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, claimed); err != nil {
		if errors.Is(err, ErrCommitRefTaken) {
			release()
			return CommitResult{}, ErrCommitInProgress
		}
		return fail(StageDocument, err)
	}
	rec = claimed

	result := CommitResult{
		DocumentID:  rec.ID,
		OrderID:     recon.Order.ID,
		OrderNumber: recon.Order.Number,
		Synthesized: recon.Synthesized,
		Totals:      assessment.Totals,
		State:       CommitStateDone,
	}
	for _, view := range assessment.Lines {
		productID := view.EffectiveProductID()
		if productID == 0 || !view.AcceptedQty.IsPositive() {
			continue
		}
		_, err := s.stock.PostInbound(ctx, inventory.InboundInput{
			Code:        fmt.Sprintf("REC-%d-%d", rec.ID, view.Row),
			WarehouseID: rec.WarehouseID,
			ProductID:   productID,
			Qty:         view.AcceptedQty,
			UnitCost:    view.UnitPrice,
			LotNumber:   view.LotNumber,
			ExpiryDate:  view.ExpiryDate,
			Note:        fmt.Sprintf("reception %s row %d", rec.Number, view.Row),
			RefModule:   RefModule,
			RefID:       lineRef(rec.ID, view.Row),
		})
		switch {
		case errors.Is(err, inventory.ErrAlreadyPosted):
			result.Skipped++
		case err != nil:
			return fail(StageStock, fmt.Errorf("row %d: %w", view.Row, err))
		default:
			result.Posted++
		}
	}

	now := s.now().UTC()
	result.CommittedAt = now
	rec.Status = domain.StatusCommitted
	rec.CommittedAt = &now
	rec.UpdatedAt = now
	rec.Commit = &result
	if err := s.repo.Update(ctx, rec); err != nil {
		return fail(StageDocument, err)
	}

	if err := s.orders.MarkReceived(ctx, tenantID, result.OrderID); err != nil {
		s.logger.Warn("order status update deferred",
			slog.Int64("reception_id", rec.ID),
			slog.Int64("order_id", result.OrderID),
			slog.Any("error", err))
		result.State = CommitStateFollowUp
		rec.FollowUp = true
		rec.Commit = &result
		if err := s.repo.Update(ctx, rec); err != nil {
			s.logger.Error("store follow-up flag", slog.Int64("reception_id", rec.ID), slog.Any("error", err))
		}
		if s.queue != nil {
			if err := s.queue.EnqueueOrderStatus(ctx, tenantID, rec.ID); err != nil {
				s.logger.Error("enqueue order status retry", slog.Int64("reception_id", rec.ID), slog.Any("error", err))
			}
		}
	}

	s.observeCommit(string(result.State))
	s.logger.Info("reception committed",
		slog.Int64("tenant_id", tenantID),
		slog.Int64("reception_id", rec.ID),
		slog.Int64("order_id", result.OrderID),
		slog.Int("posted", result.Posted),
		slog.Int("skipped", result.Skipped),
		slog.String("state", string(result.State)))
	return result, nil
}

// RetryOrderStatus re-runs only the order status step of a committed reception.
func (s *Service) RetryOrderStatus(ctx context.Context, tenantID, id int64) (CommitResult, error) {
	rec, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return CommitResult{}, err
	}
	if rec.Status != domain.StatusCommitted || rec.Commit == nil {
		return CommitResult{}, ErrNotCommitted
	}
	if rec.Commit.State == CommitStateDone {
		return *rec.Commit, nil
	}
	if err := s.orders.MarkReceived(ctx, tenantID, rec.Commit.OrderID); err != nil {
		return CommitResult{}, &PersistenceError{Stage: StageOrderStatus, Err: err}
	}
	result := *rec.Commit
	result.State = CommitStateDone
	rec.Commit = &result
	rec.FollowUp = false
	rec.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, rec); err != nil {
		return CommitResult{}, &PersistenceError{Stage: StageDocument, Err: err}
	}
	s.observeCommit("follow_up_resolved")
	return result, nil
}

// commitRef identifies the physical delivery a document commits: the
// delivery note reference, else the digest of the uploaded file, else the
// document number. A started commit keeps the reference it claimed.
func commitRef(doc domain.Document) string {
	switch {
	case doc.CommitRef != "":
		return doc.CommitRef
	case doc.DeliveryNoteRef != "":
		return doc.DeliveryNoteRef
	case doc.FileDigest != "":
		return "file:" + doc.FileDigest
	default:
		return doc.Number
	}
}

func replay(result CommitResult) CommitResult {
	result.Replayed = true
	return result
}

// lineRef derives a stable movement reference for a reception row.
func lineRef(documentID int64, row int) string {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d:%d", RefModule, documentID, row))).String()
}
