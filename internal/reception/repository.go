package reception

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-reception/internal/reception/domain"
)

// PGRepository stores receptions in PostgreSQL. Lines, diagnostics and the
// commit result are JSONB columns of the receptions row.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const receptionColumns = `id, tenant_id, supplier_id, COALESCE(order_id,0), COALESCE(warehouse_id,0), number, delivery_note_ref,
carrier, qc, notes, source, file_name, file_digest, lines, overrides, acknowledged, parse_diagnostics, status, follow_up,
commit_ref, committed_at, commit_result, created_at, updated_at`

type encoded struct {
	qc, lines, overrides, acks, diags, commit []byte
}

func encode(rec Record) (encoded, error) {
	var (
		out encoded
		err error
	)
	if out.qc, err = json.Marshal(rec.QC); err != nil {
		return out, err
	}
	if out.lines, err = json.Marshal(rec.Lines); err != nil {
		return out, err
	}
	if out.overrides, err = json.Marshal(rec.Overrides); err != nil {
		return out, err
	}
	if out.acks, err = json.Marshal(rec.Acknowledged); err != nil {
		return out, err
	}
	if out.diags, err = json.Marshal(rec.ParseDiagnostics); err != nil {
		return out, err
	}
	if rec.Commit != nil {
		if out.commit, err = json.Marshal(rec.Commit); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Create inserts a new reception and returns its id.
func (r *PGRepository) Create(ctx context.Context, rec Record) (int64, error) {
	enc, err := encode(rec)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.pool.QueryRow(ctx, `INSERT INTO receptions (tenant_id, supplier_id, order_id, warehouse_id, number, delivery_note_ref, carrier, qc, notes,
source, file_name, file_digest, lines, overrides, acknowledged, parse_diagnostics, status, follow_up, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$19) RETURNING id`,
		rec.TenantID, rec.SupplierID, nullInt(rec.OrderID), nullInt(rec.WarehouseID), rec.Number, rec.DeliveryNoteRef, rec.Carrier, enc.qc, rec.Notes,
		string(rec.Source), rec.FileName, rec.FileDigest, enc.lines, enc.overrides, enc.acks, enc.diags, string(rec.Status), rec.FollowUp, rec.CreatedAt).Scan(&id)
	return id, err
}

// Get loads a reception of the tenant.
func (r *PGRepository) Get(ctx context.Context, tenantID, id int64) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receptionColumns+` FROM receptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return scanRecord(row)
}

// FindByCommitRef returns the reception holding a supplier delivery reference.
func (r *PGRepository) FindByCommitRef(ctx context.Context, tenantID, supplierID int64, ref string) (Record, error) {
	if ref == "" {
		return Record{}, ErrNotFound
	}
	row := r.pool.QueryRow(ctx, `SELECT `+receptionColumns+` FROM receptions
WHERE tenant_id=$1 AND supplier_id=$2 AND commit_ref=$3`, tenantID, supplierID, ref)
	return scanRecord(row)
}

// Update rewrites the mutable columns of a reception. Claiming a delivery
// reference held by another reception returns ErrCommitRefTaken.
func (r *PGRepository) Update(ctx context.Context, rec Record) error {
	enc, err := encode(rec)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE receptions SET order_id=$3, warehouse_id=$4, delivery_note_ref=$5, carrier=$6, qc=$7, notes=$8,
lines=$9, overrides=$10, acknowledged=$11, parse_diagnostics=$12, status=$13, follow_up=$14, commit_ref=$15, committed_at=$16,
commit_result=$17, updated_at=$18
WHERE tenant_id=$1 AND id=$2`,
		rec.TenantID, rec.ID, nullInt(rec.OrderID), nullInt(rec.WarehouseID), rec.DeliveryNoteRef, rec.Carrier, enc.qc, rec.Notes,
		enc.lines, enc.overrides, enc.acks, enc.diags, string(rec.Status), rec.FollowUp, rec.CommitRef, rec.CommittedAt,
		nullBytes(enc.commit), rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "receptions_commit_ref_key" {
			return ErrCommitRefTaken
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                                       Record
		source, status                            string
		qc, lines, overrides, acks, diags, commit []byte
	)
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.SupplierID, &rec.OrderID, &rec.WarehouseID, &rec.Number, &rec.DeliveryNoteRef,
		&rec.Carrier, &qc, &rec.Notes, &source, &rec.FileName, &rec.FileDigest, &lines, &overrides, &acks, &diags, &status, &rec.FollowUp,
		&rec.CommitRef, &rec.CommittedAt, &commit, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	rec.Source = domain.Source(source)
	rec.Status = domain.Status(status)
	for _, part := range []struct {
		raw  []byte
		dest any
	}{
		{qc, &rec.QC},
		{lines, &rec.Lines},
		{overrides, &rec.Overrides},
		{acks, &rec.Acknowledged},
		{diags, &rec.ParseDiagnostics},
	} {
		if len(part.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(part.raw, part.dest); err != nil {
			return Record{}, err
		}
	}
	if len(commit) > 0 {
		rec.Commit = &CommitResult{}
		if err := json.Unmarshal(commit, rec.Commit); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullBytes(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}
