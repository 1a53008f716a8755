package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLine(ctx context.Context, line POLine) error
	MarkPOReceived(ctx context.Context, id int64, at time.Time) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetPO returns purchase order and lines scoped to a tenant.
func (r *Repository) GetPO(ctx context.Context, tenantID, id int64) (PurchaseOrder, []POLine, error) {
	var po PurchaseOrder
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, number, supplier_id, status, currency, COALESCE(expected_date, created_at),
COALESCE(reference,''), synthesized, received_at, note FROM pos WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&po.ID, &po.TenantID, &po.Number, &po.SupplierID, &po.Status, &po.Currency, &po.ExpectedDate,
			&po.Reference, &po.Synthesized, &po.ReceivedAt, &po.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrNotFound
		}
		return PurchaseOrder{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, po_id, product_id, qty, price, note FROM po_lines WHERE po_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var line POLine
		if err := rows.Scan(&line.ID, &line.POID, &line.ProductID, &line.Qty, &line.Price, &line.Note); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, line)
	}
	return po, lines, rows.Err()
}

func (tx *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO pos (tenant_id, number, supplier_id, status, currency, expected_date, reference, synthesized, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		po.TenantID, po.Number, po.SupplierID, po.Status, po.Currency, nullDate(po.ExpectedDate), po.Reference, po.Synthesized, po.Note).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertPOLine(ctx context.Context, line POLine) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO po_lines (po_id, product_id, qty, price, note) VALUES ($1,$2,$3,$4,$5)`,
		line.POID, line.ProductID, line.Qty, line.Price, line.Note)
	return err
}

func (tx *txRepo) MarkPOReceived(ctx context.Context, id int64, at time.Time) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE pos SET status=$2, received_at=$3, updated_at=NOW() WHERE id=$1`, id, POStatusReceived, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
